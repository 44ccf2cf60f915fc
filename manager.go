package authsession

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authsession/pointer"
	"github.com/MrEthical07/authsession/tokenstore"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const refreshFlightKey = "refresh"

// User is the session payload returned by the session endpoint.
type User map[string]any

// State is the observable session state of one Manager.
type State struct {
	User            User      `json:"user"`
	LoggedIn        bool      `json:"loggedIn"`
	LastRefreshedAt time.Time `json:"lastRefreshedAt,omitzero"`
}

// Snapshot is the transferable state of a Manager, used for server to client handoff.
type Snapshot struct {
	Access  *tokenstore.Record `json:"access,omitempty"`
	Refresh *tokenstore.Record `json:"refresh,omitempty"`
	State   State              `json:"state"`
}

type signalState uint8

const (
	signalUnknown signalState = iota
	signalLoggedIn
	signalLoggedOut
)

// Manager owns the tokens and session of one execution context (a browser tab, or a
// single server-side request). All methods are safe for concurrent use.
type Manager struct {
	engine  *Engine
	id      string
	storage tokenstore.Storage
	access  *tokenstore.Store
	refresh *tokenstore.Store
	logger  *zap.Logger
	client  *http.Client
	flight  singleflight.Group

	mu         sync.RWMutex
	state      State
	lastSignal signalState
	listeners  []func(context.Context, bool)
	forward    http.Header
	sync       *Sync
}

func newManager(e *Engine, storage tokenstore.Storage) *Manager {
	id := uuid.NewString()
	m := &Manager{
		engine:  e,
		id:      id,
		storage: storage,
		access:  tokenstore.NewStore(storage, tokenstore.KindAccess, e.config.AccessToken.MaxAge, e.now),
		refresh: tokenstore.NewStore(storage, tokenstore.KindRefresh, e.config.RefreshToken.MaxAge, e.now),
		logger:  e.logger.With(zap.String("context_id", id)),
		forward: http.Header{},
	}

	base := e.client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	m.client = &http.Client{
		Transport:     &Transport{manager: m, base: base},
		CheckRedirect: e.client.CheckRedirect,
		Jar:           e.client.Jar,
		Timeout:       e.client.Timeout,
	}
	return m
}

// ID identifies the execution context in logs and events.
func (m *Manager) ID() string { return m.id }

// Client returns an *http.Client whose requests carry the access token and go through
// the 401 handling of [Transport].
func (m *Manager) Client() *http.Client { return m.client }

// ForwardHeader adds a header copied onto every authenticated request that does not
// already set it.
func (m *Manager) ForwardHeader(key, value string) {
	if value == "" {
		return
	}
	m.mu.Lock()
	m.forward.Set(key, value)
	m.mu.Unlock()
}

// OnLoggedIn registers fn for logged-in/logged-out transitions of this Manager.
func (m *Manager) OnLoggedIn(fn func(ctx context.Context, loggedIn bool)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// State returns a copy of the session state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := m.state
	st.User = cloneUser(st.User)
	return st
}

// User returns a copy of the current session payload, or nil.
func (m *Manager) User() User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneUser(m.state.User)
}

func (m *Manager) IsLoggedIn() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.LoggedIn
}

// Credentials reports which tokens are stored, without refreshing. Unreadable storage
// reports neither.
func (m *Manager) Credentials(ctx context.Context) (hasAccess, hasRefresh bool) {
	access, err := m.loadRecord(ctx, m.access)
	if err != nil {
		return false, false
	}
	refresh, err := m.loadRecord(ctx, m.refresh)
	if err != nil {
		return access != nil, false
	}
	return access != nil, refresh != nil
}

// GetAccessToken returns a usable access token. An expired token is refreshed when a
// refresh token is available; concurrent callers share one refresh call and receive
// the same token. "" with a nil error means the context is not authenticated. An
// expired token that cannot be refreshed clears the session; a context that never
// held an access token is left untouched.
func (m *Manager) GetAccessToken(ctx context.Context) (string, error) {
	cfg := m.engine.config

	rec, err := m.loadRecord(ctx, m.access)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", nil
	}
	if !m.access.IsExpired(rec, cfg.AccessToken.ExpirySkew) {
		return rec.Value, nil
	}

	ok, err := m.canRefresh(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		m.logger.Debug("access token expired without a usable refresh token")
		m.ClearSession(ctx)
		return "", nil
	}
	return m.refreshOrClear(ctx)
}

// canRefresh reports whether an unexpired refresh token is stored.
func (m *Manager) canRefresh(ctx context.Context) (bool, error) {
	if !m.engine.config.RefreshToken.Enabled {
		return false, nil
	}
	refresh, err := m.loadRecord(ctx, m.refresh)
	if err != nil {
		return false, err
	}
	return !m.refresh.IsExpired(refresh, 0), nil
}

// refreshOrClear runs the shared refresh and clears the session when it fails. A
// cancelled caller gets its context error and leaves the session alone.
func (m *Manager) refreshOrClear(ctx context.Context) (string, error) {
	token, err := m.refreshShared(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		m.ClearSession(ctx)
		return "", nil
	}
	return token, nil
}

// RefreshAccessToken exchanges the refresh token for new credentials. Concurrent
// calls share one in-flight request. Failures are returned and do not clear the
// session.
func (m *Manager) RefreshAccessToken(ctx context.Context) error {
	_, err := m.refreshShared(ctx)
	return err
}

func (m *Manager) refreshShared(ctx context.Context) (string, error) {
	ch := m.flight.DoChan(refreshFlightKey, func() (any, error) {
		return m.doRefresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Shared {
			m.engine.metricInc(MetricRefreshWaiter)
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) doRefresh(ctx context.Context) (string, error) {
	m.engine.metricInc(MetricRefreshCall)
	start := time.Now()

	token, err := m.performRefresh(ctx)

	if m.engine.metrics != nil {
		m.engine.metrics.Observe(MetricRefreshLatency, time.Since(start))
	}

	if err != nil {
		m.engine.metricInc(MetricRefreshFailure)
		if errors.Is(err, ErrTokenExtraction) {
			m.engine.metricInc(MetricTokenExtractionFailure)
		}
		m.logger.Warn("token refresh failed", zap.Error(err))
		m.engine.emit(ctx, Event{Type: EventRefresh, ContextID: m.id, Success: false, Error: err.Error()})
		return "", err
	}

	m.engine.metricInc(MetricRefreshSuccess)
	m.logger.Debug("token refreshed")
	m.engine.emit(ctx, Event{Type: EventRefresh, ContextID: m.id, Success: true})
	return token, nil
}

func (m *Manager) performRefresh(ctx context.Context) (string, error) {
	cfg := m.engine.config

	if !cfg.RefreshToken.Enabled {
		return "", fmt.Errorf("%w: refresh tokens are disabled", ErrRefreshFailed)
	}
	rec, err := m.loadRecord(ctx, m.refresh)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if rec == nil {
		return "", fmt.Errorf("%w: no refresh token", ErrRefreshFailed)
	}

	body, err := pointer.FromPointer(cfg.RefreshToken.RequestTokenPointer, rec.Value)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	doc, err := m.engine.call(ctx, m.engine.client, cfg.Endpoints.Refresh, http.MethodPost, body, true)
	if err != nil {
		if errors.Is(err, ErrEndpointNotConfigured) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	access, err := extractToken(doc, cfg.AccessToken.ResponseTokenPointer)
	if err != nil {
		return "", err
	}
	var next string
	if cfg.RefreshToken.Rotate {
		if next, err = extractToken(doc, cfg.RefreshToken.ResponseTokenPointer); err != nil {
			return "", err
		}
	}

	if err := m.access.Set(ctx, access); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if next != "" {
		if err := m.refresh.Set(ctx, next); err != nil {
			return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
		}
	}

	m.mu.Lock()
	m.state.LastRefreshedAt = m.engine.now()
	m.mu.Unlock()

	return access, nil
}

// FetchSession loads the session payload from the session endpoint. Any failure,
// including a payload that is not a JSON object, clears the session and returns nil.
func (m *Manager) FetchSession(ctx context.Context) User {
	cfg := m.engine.config
	ep := cfg.Endpoints.GetSession
	if !ep.Configured() {
		return nil
	}

	token, err := m.GetAccessToken(ctx)
	if err != nil || token == "" {
		if err != nil {
			m.logger.Warn("session fetch skipped", zap.Error(err))
		}
		m.ClearSession(ctx)
		return nil
	}

	doc, err := m.Do(ctx, ep, nil)
	if err != nil {
		m.logger.Warn("session fetch failed", zap.Error(err))
		m.ClearSession(ctx)
		return nil
	}

	payload := doc
	if ptr := cfg.Session.ResponseSessionPointer; ptr != "" {
		if payload, err = pointer.Get(doc, ptr); err != nil {
			payload = nil
		}
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		m.engine.metricInc(MetricSessionInvalid)
		m.logger.Warn("session fetch failed",
			zap.Error(fmt.Errorf("%w: got %T", ErrInvalidSessionShape, payload)))
		m.ClearSession(ctx)
		return nil
	}

	user := User(obj)
	m.SetSession(ctx, user)
	m.engine.metricInc(MetricSessionFetched)
	m.engine.emit(ctx, Event{Type: EventSessionFetched, ContextID: m.id, Success: true})
	return cloneUser(user)
}

// SetSession replaces the session payload. A nil user marks the context logged out
// without touching stored tokens.
func (m *Manager) SetSession(ctx context.Context, user User) {
	m.mu.Lock()
	m.state.User = cloneUser(user)
	m.state.LoggedIn = user != nil
	m.mu.Unlock()

	m.signal(ctx, user != nil)
}

// ClearSession removes both tokens and the session payload. It is idempotent:
// listeners and the cross-context flag see one logged-out transition.
func (m *Manager) ClearSession(ctx context.Context) {
	if err := m.access.Clear(ctx); err != nil {
		m.logger.Warn("clear access token failed", zap.Error(err))
	}
	if err := m.refresh.Clear(ctx); err != nil {
		m.logger.Warn("clear refresh token failed", zap.Error(err))
	}

	m.mu.Lock()
	m.state = State{}
	m.mu.Unlock()

	if m.signal(ctx, false) {
		m.engine.metricInc(MetricSessionCleared)
		m.engine.emit(ctx, Event{Type: EventSessionCleared, ContextID: m.id, Success: true})
		m.logger.Debug("session cleared")
	}
}

// Login posts credentials to the sign-in endpoint, stores the returned tokens and
// loads the session. The decoded response is returned.
func (m *Manager) Login(ctx context.Context, credentials any) (any, error) {
	cfg := m.engine.config

	doc, err := m.engine.call(ctx, m.engine.client, cfg.Endpoints.SignIn, http.MethodPost, credentials, true)
	if err != nil {
		return nil, m.loginFailed(ctx, err)
	}

	access, err := extractToken(doc, cfg.AccessToken.ResponseTokenPointer)
	if err != nil {
		m.engine.metricInc(MetricTokenExtractionFailure)
		return nil, m.loginFailed(ctx, err)
	}
	var refresh string
	if cfg.RefreshToken.Enabled {
		if refresh, err = extractToken(doc, cfg.RefreshToken.ResponseTokenPointer); err != nil {
			m.engine.metricInc(MetricTokenExtractionFailure)
			return nil, m.loginFailed(ctx, err)
		}
	}

	if err := m.SetUniversalToken(ctx, access, refresh); err != nil {
		return nil, m.loginFailed(ctx, err)
	}

	if cfg.Endpoints.GetSession.Configured() {
		if m.FetchSession(ctx) == nil {
			return nil, m.loginFailed(ctx, ErrSessionUnavailable)
		}
	} else {
		m.SetSession(ctx, User{})
	}

	m.engine.metricInc(MetricLoginSuccess)
	m.engine.emit(ctx, Event{Type: EventLogin, ContextID: m.id, Success: true})
	m.logger.Info("signed in")
	return doc, nil
}

func (m *Manager) loginFailed(ctx context.Context, err error) error {
	m.engine.metricInc(MetricLoginFailure)
	m.engine.emit(ctx, Event{Type: EventLogin, ContextID: m.id, Success: false, Error: err.Error()})
	m.logger.Warn("sign in failed", zap.Error(err))
	return err
}

// Logout calls the sign-out endpoint and clears the session. Backend errors are
// logged and never prevent the local clear.
func (m *Manager) Logout(ctx context.Context) {
	ep := m.engine.config.Endpoints.SignOut
	if ep.Configured() {
		if _, err := m.Do(ctx, ep, nil); err != nil {
			m.logger.Debug("sign out call failed", zap.Error(err))
		}
	}

	m.ClearSession(ctx)
	m.engine.metricInc(MetricLogout)
	m.engine.emit(ctx, Event{Type: EventLogout, ContextID: m.id, Success: true})
}

// Register posts data to the sign-up endpoint and returns the decoded response. It
// never changes the session.
func (m *Manager) Register(ctx context.Context, data any) (any, error) {
	doc, err := m.engine.call(ctx, m.engine.client, m.engine.config.Endpoints.SignUp, http.MethodPost, data, true)
	if err != nil {
		m.engine.metricInc(MetricRegisterFailure)
		m.engine.emit(ctx, Event{Type: EventRegister, ContextID: m.id, Success: false, Error: err.Error()})
		return nil, err
	}
	m.engine.metricInc(MetricRegisterSuccess)
	m.engine.emit(ctx, Event{Type: EventRegister, ContextID: m.id, Success: true})
	return doc, nil
}

// SetUniversalToken stores tokens obtained out of band. An empty value clears that
// kind.
func (m *Manager) SetUniversalToken(ctx context.Context, access, refresh string) error {
	if err := m.access.Set(ctx, access); err != nil {
		return err
	}
	if !m.engine.config.RefreshToken.Enabled {
		return nil
	}
	return m.refresh.Set(ctx, refresh)
}

// Restore brings a fresh context up to date with stored credentials: it refreshes an
// expired or missing access token when a refresh token is stored, then loads the
// session. Only storage failures are returned.
func (m *Manager) Restore(ctx context.Context) error {
	cfg := m.engine.config

	token, err := m.restoreToken(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		m.mu.Lock()
		m.state = State{}
		m.mu.Unlock()
		m.signal(ctx, false)
		return nil
	}

	if !cfg.Endpoints.GetSession.Configured() {
		m.SetSession(ctx, User{})
		return nil
	}
	m.FetchSession(ctx)
	return nil
}

// restoreToken is GetAccessToken for a context being brought up: when only a refresh
// token survived (an access cookie that outlived its max-age, for instance) it is
// exchanged for a new access token.
func (m *Manager) restoreToken(ctx context.Context) (string, error) {
	rec, err := m.loadRecord(ctx, m.access)
	if err != nil {
		return "", err
	}
	if rec != nil {
		return m.GetAccessToken(ctx)
	}
	ok, err := m.canRefresh(ctx)
	if err != nil || !ok {
		return "", err
	}
	return m.refreshOrClear(ctx)
}

// Reload drops in-memory state and restores it from storage.
func (m *Manager) Reload(ctx context.Context) error {
	m.mu.Lock()
	m.state = State{}
	m.mu.Unlock()
	return m.Restore(ctx)
}

// Snapshot captures tokens and session state for [Engine.Handoff].
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	access, err := m.loadRecord(ctx, m.access)
	if err != nil {
		return Snapshot{}, err
	}
	refresh, err := m.loadRecord(ctx, m.refresh)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Access: access, Refresh: refresh, State: m.State()}, nil
}

// Adopt installs snap as this Manager's tokens and state.
func (m *Manager) Adopt(ctx context.Context, snap Snapshot) error {
	if err := m.access.Put(ctx, snap.Access); err != nil {
		return err
	}
	if err := m.refresh.Put(ctx, snap.Refresh); err != nil {
		return err
	}

	m.mu.Lock()
	m.state.LastRefreshedAt = snap.State.LastRefreshedAt
	m.mu.Unlock()

	if snap.State.LoggedIn {
		m.SetSession(ctx, snap.State.User)
	} else {
		m.SetSession(ctx, nil)
	}
	return nil
}

// discard empties server-owned containers after a handoff. Cookie-backed storage
// belongs to the client and is left alone.
func (m *Manager) discard() {
	if mem, ok := m.storage.(*tokenstore.MemoryStorage); ok {
		mem.Reset()
	}
	m.mu.Lock()
	m.state = State{}
	m.mu.Unlock()
}

// Do performs an authenticated JSON call to ep. Requests without a body default to GET,
// requests with one to POST.
func (m *Manager) Do(ctx context.Context, ep Endpoint, body any) (any, error) {
	method := http.MethodGet
	if body != nil {
		method = http.MethodPost
	}
	return m.engine.call(ctx, m.client, ep, method, body, false)
}

// RedirectAfterLogin returns the local path carried in the guard's redirect query
// parameter, or the configured home path.
func (m *Manager) RedirectAfterLogin(query url.Values) string {
	cfg := m.engine.config
	if target := query.Get(cfg.Guard.RedirectQuery); isLocalPath(target) {
		return target
	}
	return cfg.Redirect.Home
}

// signal records a logged-in transition and notifies listeners. It reports whether the
// state actually changed.
func (m *Manager) signal(ctx context.Context, loggedIn bool) bool {
	next := signalLoggedOut
	if loggedIn {
		next = signalLoggedIn
	}

	m.mu.Lock()
	if m.lastSignal == next {
		m.mu.Unlock()
		return false
	}
	m.lastSignal = next
	listeners := slices.Clone(m.listeners)
	flag := m.sync
	m.mu.Unlock()

	if fn := m.engine.hooks.LoggedIn; fn != nil {
		fn(ctx, loggedIn)
	}
	for _, fn := range listeners {
		fn(ctx, loggedIn)
	}
	if flag != nil {
		flag.publish(ctx, loggedIn)
	}
	return true
}

func (m *Manager) loadRecord(ctx context.Context, store *tokenstore.Store) (*tokenstore.Record, error) {
	rec, err := store.Get(ctx)
	if errors.Is(err, tokenstore.ErrRecordCorrupt) {
		m.logger.Warn("discarding unreadable token record",
			zap.Stringer("kind", store.Kind()), zap.Error(err))
		return nil, nil
	}
	return rec, err
}

func (m *Manager) forwardHeaders() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.forward.Clone()
}

func extractToken(doc any, ptr string) (string, error) {
	v, err := pointer.Get(doc, ptr)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrTokenExtraction, ptr, err)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s holds %T", ErrTokenExtraction, ptr, v)
	}
	return s, nil
}

func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.Contains(p, "\\")
}

func cloneUser(u User) User {
	return maps.Clone(u)
}
