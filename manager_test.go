package authsession

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authsession/tokenstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAccessTokenReturnsFreshToken(t *testing.T) {
	b := newTestBackend(t)
	e, _ := newTestEngine(t, b, nil)
	m := newTestManager(t, e)
	ctx := context.Background()

	tok, err := m.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)

	require.NoError(t, m.SetUniversalToken(ctx, "A1", "R1"))
	tok, err = m.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A1", tok)
	assert.Zero(t, b.refreshCalls.Load())
}

func TestGetAccessTokenSharesOneRefresh(t *testing.T) {
	b := newTestBackend(t)
	e, clock := newTestEngine(t, b, nil)
	m := newTestManager(t, e)
	ctx := context.Background()

	require.NoError(t, m.SetUniversalToken(ctx, "A1", "R1"))
	clock.Advance(31 * time.Minute)

	gate := b.gateRefresh()
	const n = 16
	var wg sync.WaitGroup
	tokens := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := m.GetAccessToken(ctx)
			if err != nil {
				t.Errorf("GetAccessToken: %v", err)
			}
			tokens <- tok
		}()
	}

	require.Eventually(t, func() bool { return b.refreshCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(tokens)

	for tok := range tokens {
		assert.Equal(t, "A2", tok)
	}
	assert.EqualValues(t, 1, b.refreshCalls.Load())

	sent, _ := b.lastRefresh.Load().(map[string]any)
	assert.Equal(t, map[string]any{"refreshToken": "R1"}, sent)

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.Refresh)
	assert.Equal(t, "R2", snap.Refresh.Value)
	assert.False(t, snap.State.LastRefreshedAt.IsZero())

	metrics := e.MetricsSnapshot()
	assert.EqualValues(t, 1, metrics.Counters[MetricRefreshCall])
	assert.EqualValues(t, 1, metrics.Counters[MetricRefreshSuccess])
}

func TestGetAccessTokenSkewTriggersRefresh(t *testing.T) {
	b := newTestBackend(t)
	e, clock := newTestEngine(t, b, nil)
	m := newTestManager(t, e)
	ctx := context.Background()

	require.NoError(t, m.SetUniversalToken(ctx, "A1", "R1"))
	clock.Advance(30*time.Minute - 5*time.Second)

	tok, err := m.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A2", tok)
}

func TestGetAccessTokenCallerCancellationKeepsFlight(t *testing.T) {
	b := newTestBackend(t)
	e, clock := newTestEngine(t, b, nil)
	m := newTestManager(t, e)

	require.NoError(t, m.SetUniversalToken(context.Background(), "A1", "R1"))
	m.SetSession(context.Background(), User{"id": "u-1"})
	clock.Advance(time.Hour)

	gate := b.gateRefresh()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := m.GetAccessToken(ctx)
		errc <- err
	}()

	require.Eventually(t, func() bool { return b.refreshCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.True(t, m.IsLoggedIn())

	close(gate)
	require.Eventually(t, func() bool {
		tok, err := m.GetAccessToken(context.Background())
		return err == nil && tok == "A2"
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, b.refreshCalls.Load())
}

func TestLoginStoresTokensAtConfiguredPointers(t *testing.T) {
	b := newTestBackend(t)
	b.set(&b.login, http.StatusOK, map[string]any{
		"data": map[string]any{"token": "T1", "refreshToken": "RT1"},
	})
	e, _ := newTestEngine(t, b, func(c *Config) {
		c.AccessToken.ResponseTokenPointer = "/data/token"
		c.RefreshToken.ResponseTokenPointer = "/data/refreshToken"
	})
	m := newTestManager(t, e)
	ctx := context.Background()

	resp, err := m.Login(ctx, map[string]string{"username": "alice", "password": "pw"})
	require.NoError(t, err)
	assert.NotNil(t, resp)

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.Access)
	require.NotNil(t, snap.Refresh)
	assert.Equal(t, "T1", snap.Access.Value)
	assert.Equal(t, "RT1", snap.Refresh.Value)

	assert.Equal(t, "Bearer T1", b.auth())
	assert.True(t, m.IsLoggedIn())
	assert.Equal(t, "Alice", m.User()["name"])
	assert.EqualValues(t, 1, e.MetricsSnapshot().Counters[MetricLoginSuccess])
}

func TestLoginExtractionFailure(t *testing.T) {
	b := newTestBackend(t)
	b.set(&b.login, http.StatusOK, map[string]any{"accessToken": "A1"})
	e, _ := newTestEngine(t, b, nil)
	m := newTestManager(t, e)

	_, err := m.Login(context.Background(), nil)
	require.ErrorIs(t, err, ErrTokenExtraction)

	hasAccess, hasRefresh := m.Credentials(context.Background())
	assert.False(t, hasAccess)
	assert.False(t, hasRefresh)
	assert.False(t, m.IsLoggedIn())
	assert.EqualValues(t, 1, e.MetricsSnapshot().Counters[MetricLoginFailure])
}

func TestLoginSurfacesTransportErrors(t *testing.T) {
	b := newTestBackend(t)
	b.set(&b.login, http.StatusUnauthorized, map[string]any{"message": "bad credentials"})

	var fetchErrors atomic.Int32
	e, _ := newTestEngine(t, b, nil, func(bl *Builder) {
		bl.WithHooks(Hooks{FetchError: func(context.Context, *http.Response) { fetchErrors.Add(1) }})
	})
	m := newTestManager(t, e)

	_, err := m.Login(context.Background(), nil)
	require.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, map[string]any{"message": "bad credentials"}, te.Body)
	assert.EqualValues(t, 1, fetchErrors.Load())
}

type bareRoundTripper struct{}

func (bareRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusBadGateway,
		Status:     "502 Bad Gateway",
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("")),
	}, nil
}

func TestFetchErrorWithoutResponseRequest(t *testing.T) {
	b := newTestBackend(t)
	sink := NewChannelSink(8)
	var hookSawRequest atomic.Bool
	e, _ := newTestEngine(t, b, func(c *Config) {
		c.Events.Enabled = true
	}, func(bl *Builder) {
		bl.WithHTTPClient(&http.Client{Transport: bareRoundTripper{}})
		bl.WithEventSink(sink)
		bl.WithHooks(Hooks{FetchError: func(_ context.Context, resp *http.Response) {
			hookSawRequest.Store(resp.Request != nil)
		}})
	})
	m := newTestManager(t, e)
	ctx := context.Background()

	_, err := m.Login(ctx, nil)
	require.ErrorIs(t, err, ErrTransport)

	_, err = m.Do(ctx, Endpoint{Path: "/protected"}, nil)
	require.ErrorIs(t, err, ErrTransport)
	assert.True(t, hookSawRequest.Load())

	paths := []string{}
	for _, ev := range collect(t, sink, 3) {
		if ev.Type == EventFetchError {
			paths = append(paths, ev.Metadata["path"])
		}
	}
	assert.Equal(t, []string{"/login", "/protected"}, paths)
	assert.EqualValues(t, 2, e.MetricsSnapshot().Counters[MetricFetchError])
}

func TestLoginFailsWhenSessionUnavailable(t *testing.T) {
	b := newTestBackend(t)
	b.set(&b.session, http.StatusInternalServerError, nil)
	e, _ := newTestEngine(t, b, nil)
	m := newTestManager(t, e)

	_, err := m.Login(context.Background(), nil)
	require.ErrorIs(t, err, ErrSessionUnavailable)

	hasAccess, _ := m.Credentials(context.Background())
	assert.False(t, hasAccess)
}

func TestLoginWithoutSessionEndpoint(t *testing.T) {
	b := newTestBackend(t)
	e, _ := newTestEngine(t, b, func(c *Config) {
		c.Endpoints.GetSession = Endpoint{}
	})
	m := newTestManager(t, e)

	_, err := m.Login(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, m.IsLoggedIn())
	assert.Zero(t, b.sessionCalls.Load())
}

func TestRefreshRotationRequiresNewRefreshToken(t *testing.T) {
	b := newTestBackend(t)
	b.set(&b.refresh, http.StatusOK, map[string]any{"accessToken": "A2"})
	e, clock := newTestEngine(t, b, nil)
	m := newTestManager(t, e)
	ctx := context.Background()

	require.NoError(t, m.SetUniversalToken(ctx, "A1", "R1"))
	m.SetSession(ctx, User{"id": "u-1"})

	err := m.RefreshAccessToken(ctx)
	require.ErrorIs(t, err, ErrTokenExtraction)

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A1", snap.Access.Value, "nothing is stored from a rejected response")
	assert.Equal(t, "R1", snap.Refresh.Value)

	clock.Advance(time.Hour)
	tok, err := m.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)
	assert.False(t, m.IsLoggedIn())

	hasAccess, hasRefresh := m.Credentials(ctx)
	assert.False(t, hasAccess)
	assert.False(t, hasRefresh)
	assert.EqualValues(t, 2, e.MetricsSnapshot().Counters[MetricTokenExtractionFailure])
}

func TestRefreshWithoutRotationKeepsRefreshToken(t *testing.T) {
	b := newTestBackend(t)
	b.set(&b.refresh, http.StatusOK, map[string]any{"accessToken": "A2"})
	e, clock := newTestEngine(t, b, func(c *Config) {
		c.RefreshToken.Rotate = false
	})
	m := newTestManager(t, e)
	ctx := context.Background()

	require.NoError(t, m.SetUniversalToken(ctx, "A1", "R1"))
	clock.Advance(time.Hour)

	tok, err := m.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A2", tok)

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "R1", snap.Refresh.Value)
}

func TestRefreshFailureClearsSession(t *testing.T) {
	b := newTestBackend(t)
	b.set(&b.refresh, http.StatusUnauthorized, nil)
	e, clock := newTestEngine(t, b, nil)
	m := newTestManager(t, e)
	ctx := context.Background()

	require.NoError(t, m.SetUniversalToken(ctx, "A1", "R1"))
	m.SetSession(ctx, User{"id": "u-1"})
	clock.Advance(time.Hour)

	err := m.RefreshAccessToken(ctx)
	require.ErrorIs(t, err, ErrRefreshFailed)
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
	assert.True(t, m.IsLoggedIn(), "RefreshAccessToken does not clear")

	tok, err := m.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)
	assert.False(t, m.IsLoggedIn())
}

func TestRefreshWithoutEndpointClears(t *testing.T) {
	b := newTestBackend(t)
	e, clock := newTestEngine(t, b, func(c *Config) {
		c.Endpoints.Refresh = Endpoint{}
	})
	m := newTestManager(t, e)
	ctx := context.Background()

	require.NoError(t, m.SetUniversalToken(ctx, "A1", "R1"))
	clock.Advance(time.Hour)

	require.ErrorIs(t, m.RefreshAccessToken(ctx), ErrEndpointNotConfigured)
	tok, err := m.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)
	_, hasRefresh := m.Credentials(ctx)
	assert.False(t, hasRefresh)
}

func TestExpiredRefreshTokenIsNotSent(t *testing.T) {
	b := newTestBackend(t)
	e, clock := newTestEngine(t, b, nil)
	m := newTestManager(t, e)
	ctx := context.Background()

	require.NoError(t, m.SetUniversalToken(ctx, "A1", "R1"))
	m.SetSession(ctx, User{"id": "u-1"})
	clock.Advance(8 * 24 * time.Hour)

	tok, err := m.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)
	assert.Zero(t, b.refreshCalls.Load())

	assert.False(t, m.IsLoggedIn())
	hasAccess, hasRefresh := m.Credentials(ctx)
	assert.False(t, hasAccess)
	assert.False(t, hasRefresh)
	assert.EqualValues(t, 1, e.MetricsSnapshot().Counters[MetricSessionCleared])
}

func TestExpiredAccessWithoutRefreshTokenClears(t *testing.T) {
	b := newTestBackend(t)
	var signals []bool
	e, clock := newTestEngine(t, b, nil, func(bl *Builder) {
		bl.WithHooks(Hooks{LoggedIn: func(_ context.Context, v bool) { signals = append(signals, v) }})
	})
	m := newTestManager(t, e)
	ctx := context.Background()

	require.NoError(t, m.SetUniversalToken(ctx, "A1", ""))
	m.SetSession(ctx, User{"id": "u-1"})
	clock.Advance(31 * time.Minute)

	tok, err := m.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)
	assert.Zero(t, b.refreshCalls.Load())

	assert.False(t, m.IsLoggedIn())
	assert.Nil(t, m.User())
	hasAccess, hasRefresh := m.Credentials(ctx)
	assert.False(t, hasAccess)
	assert.False(t, hasRefresh)
	assert.Equal(t, []bool{true, false}, signals)
}

func TestExpiredAccessWithRefreshDisabledClears(t *testing.T) {
	b := newTestBackend(t)
	e, clock := newTestEngine(t, b, func(c *Config) {
		c.RefreshToken.Enabled = false
	})
	m := newTestManager(t, e)
	ctx := context.Background()

	require.NoError(t, m.SetUniversalToken(ctx, "A1", "R1"))
	m.SetSession(ctx, User{"id": "u-1"})
	clock.Advance(time.Hour)

	tok, err := m.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)
	assert.False(t, m.IsLoggedIn())
	hasAccess, _ := m.Credentials(ctx)
	assert.False(t, hasAccess)
	assert.Zero(t, b.refreshCalls.Load())
}

func TestMissingAccessTokenIsNotRefreshed(t *testing.T) {
	b := newTestBackend(t)
	e, _ := newTestEngine(t, b, nil)
	m := newTestManager(t, e)
	ctx := context.Background()

	require.NoError(t, m.SetUniversalToken(ctx, "", "R1"))

	tok, err := m.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)
	assert.Zero(t, b.refreshCalls.Load())

	_, hasRefresh := m.Credentials(ctx)
	assert.True(t, hasRefresh, "an absent access token has no side effects")
}

func TestRestoreWithOnlyRefreshToken(t *testing.T) {
	b := newTestBackend(t)
	e, _ := newTestEngine(t, b, nil)
	m := newTestManager(t, e)
	ctx := context.Background()

	require.NoError(t, m.SetUniversalToken(ctx, "", "R1"))

	require.NoError(t, m.Restore(ctx))
	assert.EqualValues(t, 1, b.refreshCalls.Load())
	assert.True(t, m.IsLoggedIn())
	assert.Equal(t, "Bearer A2", b.auth())

	tok, err := m.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A2", tok)
}

func TestUnauthorizedWithoutRefreshTokenClears(t *testing.T) {
	b := newTestBackend(t)
	e, _ := newTestEngine(t, b, nil)
	m := newTestManager(t, e)
	ctx := context.Background()

	require.NoError(t, m.SetUniversalToken(ctx, "A1", ""))
	m.SetSession(ctx, User{"id": "u-1"})

	_, err := m.Do(ctx, Endpoint{Path: "/protected"}, nil)
	require.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, "Bearer A1", b.auth())

	assert.False(t, m.IsLoggedIn())
	assert.Zero(t, b.refreshCalls.Load())
	hasAccess, hasRefresh := m.Credentials(ctx)
	assert.False(t, hasAccess)
	assert.False(t, hasRefresh)
	assert.EqualValues(t, 1, e.MetricsSnapshot().Counters[MetricUnauthorizedResponse])
}

func TestUnauthorizedWithRefreshTokenRefreshesOnce(t *testing.T) {
	b := newTestBackend(t)
	e, _ := newTestEngine(t, b, nil)
	m := newTestManager(t, e)
	ctx := context.Background()

	require.NoError(t, m.SetUniversalToken(ctx, "A1", "R1"))
	m.SetSession(ctx, User{"id": "u-1"})

	_, err := m.Do(ctx, Endpoint{Path: "/protected"}, nil)
	require.Error(t, err)

	assert.EqualValues(t, 1, b.refreshCalls.Load())
	assert.True(t, m.IsLoggedIn())
	tok, err := m.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A2", tok)
}

func TestUnauthorizedWhileLoggedOutIsIgnored(t *testing.T) {
	b := newTestBackend(t)
	e, _ := newTestEngine(t, b, nil)
	m := newTestManager(t, e)

	_, err := m.Do(context.Background(), Endpoint{Path: "/protected"}, nil)
	require.Error(t, err)
	assert.Empty(t, b.auth())
	assert.Zero(t, b.refreshCalls.Load())
}

func TestTransportKeepsExplicitAuthorization(t *testing.T) {
	b := newTestBackend(t)
	e, _ := newTestEngine(t, b, nil)
	m := newTestManager(t, e)
	ctx := context.Background()
	require.NoError(t, m.SetUniversalToken(ctx, "A1", "R1"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.srv.URL+"/session", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Basic abc")
	resp, err := m.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Basic abc", b.auth())
}

func TestClearSessionSignalsOnce(t *testing.T) {
	b := newTestBackend(t)

	var hookCalls []bool
	var mu sync.Mutex
	e, _ := newTestEngine(t, b, nil, func(bl *Builder) {
		bl.WithHooks(Hooks{LoggedIn: func(_ context.Context, loggedIn bool) {
			mu.Lock()
			hookCalls = append(hookCalls, loggedIn)
			mu.Unlock()
		}})
	})
	m := newTestManager(t, e)
	ctx := context.Background()

	var listener atomic.Int32
	m.OnLoggedIn(func(context.Context, bool) { listener.Add(1) })

	require.NoError(t, m.SetUniversalToken(ctx, "A1", "R1"))
	m.SetSession(ctx, User{"id": "u-1"})
	m.SetSession(ctx, User{"id": "u-1", "name": "Alice"})
	m.ClearSession(ctx)
	m.ClearSession(ctx)

	mu.Lock()
	assert.Equal(t, []bool{true, false}, hookCalls)
	mu.Unlock()
	assert.EqualValues(t, 2, listener.Load())
	assert.EqualValues(t, 1, e.MetricsSnapshot().Counters[MetricSessionCleared])

	assert.Equal(t, State{}, m.State())
}

func TestFetchSessionInvalidShapeClears(t *testing.T) {
	b := newTestBackend(t)
	b.set(&b.session, http.StatusOK, []any{"not", "an", "object"})
	e, _ := newTestEngine(t, b, nil)
	m := newTestManager(t, e)
	ctx := context.Background()

	require.NoError(t, m.SetUniversalToken(ctx, "A1", "R1"))
	assert.Nil(t, m.FetchSession(ctx))
	assert.False(t, m.IsLoggedIn())

	hasAccess, _ := m.Credentials(ctx)
	assert.False(t, hasAccess)
	assert.EqualValues(t, 1, e.MetricsSnapshot().Counters[MetricSessionInvalid])
}

func TestFetchSessionUsesPointer(t *testing.T) {
	b := newTestBackend(t)
	b.set(&b.session, http.StatusOK, map[string]any{"user": map[string]any{"name": "Bob"}})
	e, _ := newTestEngine(t, b, func(c *Config) {
		c.Session.ResponseSessionPointer = "/user"
	})
	m := newTestManager(t, e)
	ctx := context.Background()

	require.NoError(t, m.SetUniversalToken(ctx, "A1", "R1"))
	user := m.FetchSession(ctx)
	require.NotNil(t, user)
	assert.Equal(t, "Bob", user["name"])

	user["name"] = "mutated"
	assert.Equal(t, "Bob", m.User()["name"])
}

func TestFetchSessionWithoutTokenDoesNotCall(t *testing.T) {
	b := newTestBackend(t)
	e, _ := newTestEngine(t, b, nil)
	m := newTestManager(t, e)

	assert.Nil(t, m.FetchSession(context.Background()))
	assert.Zero(t, b.sessionCalls.Load())
}

func TestLogoutSwallowsBackendErrors(t *testing.T) {
	b := newTestBackend(t)
	b.set(&b.logout, http.StatusInternalServerError, map[string]any{"error": "boom"})

	var fetchErrors atomic.Int32
	e, _ := newTestEngine(t, b, nil, func(bl *Builder) {
		bl.WithHooks(Hooks{FetchError: func(context.Context, *http.Response) { fetchErrors.Add(1) }})
	})
	m := newTestManager(t, e)
	ctx := context.Background()

	_, err := m.Login(ctx, nil)
	require.NoError(t, err)

	m.Logout(ctx)
	assert.EqualValues(t, 1, b.logoutCalls.Load())
	assert.False(t, m.IsLoggedIn())
	hasAccess, hasRefresh := m.Credentials(ctx)
	assert.False(t, hasAccess)
	assert.False(t, hasRefresh)
	assert.EqualValues(t, 1, fetchErrors.Load())
	assert.EqualValues(t, 1, e.MetricsSnapshot().Counters[MetricLogout])
}

func TestRegisterDoesNotTouchSession(t *testing.T) {
	b := newTestBackend(t)
	e, _ := newTestEngine(t, b, func(c *Config) {
		c.Endpoints.SignUp = Endpoint{Path: "/login"}
	})
	m := newTestManager(t, e)

	resp, err := m.Register(context.Background(), map[string]string{"username": "new"})
	require.NoError(t, err)
	assert.NotNil(t, resp)
	assert.False(t, m.IsLoggedIn())
	hasAccess, _ := m.Credentials(context.Background())
	assert.False(t, hasAccess)
}

func TestRegisterWithoutEndpoint(t *testing.T) {
	b := newTestBackend(t)
	e, _ := newTestEngine(t, b, nil)
	m := newTestManager(t, e)

	_, err := m.Register(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEndpointNotConfigured)
}

func TestRestoreRefreshesAndLoadsSession(t *testing.T) {
	b := newTestBackend(t)
	e, clock := newTestEngine(t, b, nil)
	m := newTestManager(t, e)
	ctx := context.Background()

	require.NoError(t, m.SetUniversalToken(ctx, "A1", "R1"))
	clock.Advance(time.Hour)

	require.NoError(t, m.Restore(ctx))
	assert.True(t, m.IsLoggedIn())
	assert.Equal(t, "Bearer A2", b.auth())
}

func TestRestoreWithoutTokens(t *testing.T) {
	b := newTestBackend(t)
	var signals []bool
	e, _ := newTestEngine(t, b, nil, func(bl *Builder) {
		bl.WithHooks(Hooks{LoggedIn: func(_ context.Context, v bool) { signals = append(signals, v) }})
	})
	m := newTestManager(t, e)

	require.NoError(t, m.Restore(context.Background()))
	assert.False(t, m.IsLoggedIn())
	assert.Equal(t, []bool{false}, signals)
	assert.Zero(t, b.sessionCalls.Load())
}

func TestHandoffMovesState(t *testing.T) {
	b := newTestBackend(t)
	e, _ := newTestEngine(t, b, nil)
	server := newTestManager(t, e)
	client := newTestManager(t, e)
	ctx := context.Background()

	_, err := server.Login(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, e.Handoff(ctx, server, client))

	assert.True(t, client.IsLoggedIn())
	assert.Equal(t, "Alice", client.User()["name"])
	tok, err := client.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A1", tok)

	hasAccess, hasRefresh := server.Credentials(ctx)
	assert.False(t, hasAccess)
	assert.False(t, hasRefresh)
	assert.False(t, server.IsLoggedIn())
	assert.EqualValues(t, 1, e.MetricsSnapshot().Counters[MetricHandoff])
}

func TestRedirectAfterLogin(t *testing.T) {
	b := newTestBackend(t)
	e, _ := newTestEngine(t, b, nil)
	m := newTestManager(t, e)

	cases := map[string]string{
		"/dashboard?tab=1":     "/dashboard?tab=1",
		"//evil.example.com/x": "/",
		"https://evil.example": "/",
		"":                     "/",
	}
	for in, want := range cases {
		q := map[string][]string{"redirect": {in}}
		assert.Equal(t, want, m.RedirectAfterLogin(q), in)
	}
}

func TestCorruptRecordTreatedAsAbsent(t *testing.T) {
	b := newTestBackend(t)
	e, _ := newTestEngine(t, b, func(c *Config) {
		c.Storage.Mode = tokenstore.ModeLocal
	})
	kv := tokenstore.NewMemoryKV()
	require.NoError(t, kv.Set(context.Background(), "authsession.auth.token", "{not json", time.Hour))
	m, err := e.OpenManager(kv)
	require.NoError(t, err)

	tok, err := m.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tok)
}
