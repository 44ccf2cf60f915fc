package authsession

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authsession/tokenstore"
	"github.com/go-chi/chi/v5"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type reply struct {
	status int
	body   any
}

// testBackend is a token-issuing backend whose responses are swapped per test.
type testBackend struct {
	srv *httptest.Server

	mu      sync.Mutex
	login   reply
	refresh reply
	session reply
	logout  reply
	// refreshGate, when set, holds refresh responses until closed.
	refreshGate chan struct{}

	loginCalls   atomic.Int32
	refreshCalls atomic.Int32
	sessionCalls atomic.Int32
	logoutCalls  atomic.Int32

	lastAuth      atomic.Value
	lastUserAgent atomic.Value
	lastRefresh   atomic.Value
}

func newTestBackend(t testing.TB) *testBackend {
	t.Helper()
	b := &testBackend{
		login:   reply{http.StatusOK, map[string]any{"accessToken": "A1", "refreshToken": "R1"}},
		refresh: reply{http.StatusOK, map[string]any{"accessToken": "A2", "refreshToken": "R2"}},
		session: reply{http.StatusOK, map[string]any{"id": "u-1", "name": "Alice"}},
		logout:  reply{http.StatusNoContent, nil},
	}

	r := chi.NewRouter()
	r.Post("/login", func(w http.ResponseWriter, r *http.Request) {
		b.loginCalls.Add(1)
		b.write(w, b.get(&b.login))
	})
	r.Post("/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		b.refreshCalls.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.lastRefresh.Store(body)

		b.mu.Lock()
		gate := b.refreshGate
		b.mu.Unlock()
		if gate != nil {
			<-gate
		}
		b.write(w, b.get(&b.refresh))
	})
	r.Get("/session", func(w http.ResponseWriter, r *http.Request) {
		b.sessionCalls.Add(1)
		b.lastAuth.Store(r.Header.Get("Authorization"))
		b.lastUserAgent.Store(r.UserAgent())
		b.write(w, b.get(&b.session))
	})
	r.Post("/logout", func(w http.ResponseWriter, r *http.Request) {
		b.logoutCalls.Add(1)
		b.write(w, b.get(&b.logout))
	})
	r.Get("/protected", func(w http.ResponseWriter, r *http.Request) {
		b.lastAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	})

	b.srv = httptest.NewServer(r)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *testBackend) set(dst *reply, status int, body any) {
	b.mu.Lock()
	*dst = reply{status, body}
	b.mu.Unlock()
}

func (b *testBackend) get(src *reply) reply {
	b.mu.Lock()
	defer b.mu.Unlock()
	return *src
}

func (b *testBackend) gateRefresh() chan struct{} {
	gate := make(chan struct{})
	b.mu.Lock()
	b.refreshGate = gate
	b.mu.Unlock()
	return gate
}

func (b *testBackend) write(w http.ResponseWriter, rep reply) {
	if rep.body == nil {
		w.WriteHeader(rep.status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rep.status)
	_ = json.NewEncoder(w).Encode(rep.body)
}

func (b *testBackend) auth() string {
	v, _ := b.lastAuth.Load().(string)
	return v
}

func testConfig(baseURL string) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.Storage.Mode = tokenstore.ModeMemory
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestEngine(t testing.TB, b *testBackend, mutate func(*Config), opts ...func(*Builder)) (*Engine, *fakeClock) {
	t.Helper()
	cfg := testConfig(b.srv.URL)
	if mutate != nil {
		mutate(&cfg)
	}
	clock := newFakeClock()
	builder := New().WithConfig(cfg).WithClock(clock.Now)
	for _, opt := range opts {
		opt(builder)
	}
	engine, err := builder.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, clock
}

func newTestManager(t testing.TB, e *Engine) *Manager {
	t.Helper()
	m, err := e.OpenManager(nil)
	if err != nil {
		t.Fatalf("open manager: %v", err)
	}
	return m
}
