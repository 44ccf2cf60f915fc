package demobackend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidToken covers bad signatures, expiry and unknown refresh tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrRedisUnavailable wraps Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// AccessClaims are carried by access tokens.
type AccessClaims struct {
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

// Tokens issues HS256 access tokens and single-use refresh tokens.
type Tokens struct {
	key        []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	redis      redis.UniversalClient
	prefix     string
	now        func() time.Time
}

// NewTokens validates its inputs and returns a token issuer.
func NewTokens(rdb redis.UniversalClient, key []byte, issuer string, accessTTL, refreshTTL time.Duration) (*Tokens, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	if len(key) < 32 {
		return nil, errors.New("hs256 key must be at least 32 bytes")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	return &Tokens{
		key:        key,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		redis:      rdb,
		prefix:     "demo:",
		now:        time.Now,
	}, nil
}

// Pair is what sign-in and refresh return.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Issue creates a fresh session for userID.
func (t *Tokens) Issue(ctx context.Context, userID string) (Pair, error) {
	return t.issue(ctx, userID, uuid.NewString())
}

func (t *Tokens) issue(ctx context.Context, userID, sid string) (Pair, error) {
	access, err := t.createAccess(userID, sid)
	if err != nil {
		return Pair{}, err
	}
	refresh := uuid.NewString()
	if err := t.redis.Set(ctx, t.prefix+"refresh:"+refresh, userID+"|"+sid, t.refreshTTL).Err(); err != nil {
		return Pair{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// Rotate consumes refresh and issues a new pair in the same session.
func (t *Tokens) Rotate(ctx context.Context, refresh string) (Pair, string, error) {
	if refresh == "" {
		return Pair{}, "", ErrInvalidToken
	}
	val, err := t.redis.GetDel(ctx, t.prefix+"refresh:"+refresh).Result()
	if errors.Is(err, redis.Nil) {
		return Pair{}, "", ErrInvalidToken
	}
	if err != nil {
		return Pair{}, "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	userID, sid, ok := splitOwner(val)
	if !ok {
		return Pair{}, "", ErrInvalidToken
	}
	revoked, err := t.Revoked(ctx, sid)
	if err != nil {
		return Pair{}, "", err
	}
	if revoked {
		return Pair{}, "", ErrInvalidToken
	}
	pair, err := t.issue(ctx, userID, sid)
	return pair, userID, err
}

// RevokeSession ends sid: its access tokens stop verifying and its refresh token can
// no longer rotate.
func (t *Tokens) RevokeSession(ctx context.Context, sid string) error {
	if sid == "" {
		return nil
	}
	if err := t.redis.Set(ctx, t.revokedKey(sid), "1", t.refreshTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Revoked reports whether sid was ended by RevokeSession.
func (t *Tokens) Revoked(ctx context.Context, sid string) (bool, error) {
	n, err := t.redis.Exists(ctx, t.revokedKey(sid)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

func (t *Tokens) revokedKey(sid string) string { return t.prefix + "revoked:" + sid }

// ParseAccess verifies an access token and returns its claims.
func (t *Tokens) ParseAccess(token string) (*AccessClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, &AccessClaims{}, func(*jwt.Token) (any, error) {
		return t.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (t *Tokens) createAccess(userID, sid string) (string, error) {
	now := t.now()
	claims := AccessClaims{
		SID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.accessTTL)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
}

func splitOwner(v string) (userID, sid string, ok bool) {
	userID, sid, ok = strings.Cut(v, "|")
	return userID, sid, ok && userID != "" && sid != ""
}
