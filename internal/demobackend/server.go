package demobackend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config wires a Server.
type Config struct {
	Redis       redis.UniversalClient
	SigningKey  []byte
	Issuer      string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	MaxAttempts int
	Cooldown    time.Duration
	Password    PasswordConfig
	// RefreshDelay is slept before answering a refresh; used by load tests.
	RefreshDelay time.Duration
	Logger       *zap.Logger
}

// User is the public profile returned by the session endpoint.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type account struct {
	User
	hash string
}

// Server is the demo auth backend. Mount Routes under any prefix.
type Server struct {
	cfg     Config
	tokens  *Tokens
	limiter *Limiter
	logger  *zap.Logger

	mu       sync.RWMutex
	byName   map[string]*account
	byID     map[string]*account
	refreshN atomic.Int64
}

// New validates cfg and returns a Server with no users.
func New(cfg Config) (*Server, error) {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 5 * time.Minute
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 24 * time.Hour
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Minute
	}
	if cfg.Password == (PasswordConfig{}) {
		cfg.Password = DefaultPasswordConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	tokens, err := NewTokens(cfg.Redis, cfg.SigningKey, cfg.Issuer, cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:     cfg,
		tokens:  tokens,
		limiter: NewLimiter(cfg.Redis, cfg.MaxAttempts, cfg.Cooldown),
		logger:  cfg.Logger,
		byName:  map[string]*account{},
		byID:    map[string]*account{},
	}, nil
}

// Tokens exposes the issuer, mainly for tests.
func (s *Server) Tokens() *Tokens { return s.tokens }

// RefreshCount is the number of successful refreshes served.
func (s *Server) RefreshCount() int64 { return s.refreshN.Load() }

// ErrUserExists is returned by AddUser for a taken username.
var ErrUserExists = errors.New("user already exists")

// AddUser registers a user and returns its profile.
func (s *Server) AddUser(username, name, password string) (User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return User{}, errors.New("username is required")
	}
	hash, err := HashPassword(s.cfg.Password, password)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[username]; ok {
		return User{}, ErrUserExists
	}
	acc := &account{User: User{ID: uuid.NewString(), Username: username, Name: name}, hash: hash}
	s.byName[username] = acc
	s.byID[acc.ID] = acc
	return acc.User, nil
}

// Routes returns the backend router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/login", s.handleLogin)
	r.Post("/register", s.handleRegister)
	r.Post("/refresh", s.handleRefresh)
	r.Get("/session", s.handleSession)
	r.Post("/logout", s.handleLogout)
	return r
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	ctx := r.Context()
	username := strings.ToLower(strings.TrimSpace(body.Username))

	if err := s.limiter.Check(ctx, username); err != nil {
		s.fail(w, err)
		return
	}

	s.mu.RLock()
	acc, ok := s.byName[username]
	s.mu.RUnlock()
	if !ok {
		_ = s.limiter.Fail(ctx, username)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	match, err := VerifyPassword(body.Password, acc.hash)
	if err != nil || !match {
		_ = s.limiter.Fail(ctx, username)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	_ = s.limiter.Reset(ctx, username)

	pair, err := s.tokens.Issue(ctx, acc.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.logger.Info("sign in", zap.String("user_id", acc.ID))
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	u, err := s.AddUser(body.Username, body.Name, body.Password)
	switch {
	case errors.Is(err, ErrUserExists):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": u})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if s.cfg.RefreshDelay > 0 {
		if err := sleep(r.Context(), s.cfg.RefreshDelay); err != nil {
			return
		}
	}

	pair, userID, err := s.tokens.Rotate(r.Context(), body.RefreshToken)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.refreshN.Add(1)
	s.logger.Debug("refresh", zap.String("user_id", userID))
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticate(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.mu.RLock()
	acc, ok := s.byID[claims.Subject]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": acc.User})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticate(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.tokens.RevokeSession(r.Context(), claims.SID); err != nil {
		s.fail(w, err)
		return
	}
	s.logger.Info("sign out", zap.String("user_id", claims.Subject))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) authenticate(r *http.Request) (*AccessClaims, error) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return nil, ErrInvalidToken
	}
	claims, err := s.tokens.ParseAccess(token)
	if err != nil {
		return nil, err
	}
	revoked, err := s.tokens.Revoked(r.Context(), claims.SID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "too many attempts")
	default:
		s.logger.Error("backend failure", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
