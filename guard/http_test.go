package guard_test

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/MrEthical07/authsession"
	"github.com/MrEthical07/authsession/guard"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *authsession.Engine {
	t.Helper()
	cfg := authsession.DefaultConfig()
	cfg.BaseURL = "http://backend.invalid"
	cfg.CrossTab.Enabled = false
	e, err := authsession.New().WithConfig(cfg).Build()
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func newRouter(e *authsession.Engine) http.Handler {
	cfg := guard.FromEngine(e.Config())
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

	r := chi.NewRouter()
	r.Use(e.Middleware)
	r.Use(guard.Global(cfg, r, func(r *http.Request) guard.Meta {
		if r.URL.Path == "/about" {
			return guard.Public()
		}
		return guard.Meta{}
	}))
	r.Get("/account", ok)
	r.Get("/about", ok)
	r.With(guard.GuestOnly(cfg)).Get("/login", ok)
	return r
}

func withToken(req *http.Request, name string) {
	expires := time.Now().Add(time.Hour).UnixMilli()
	req.AddCookie(&http.Cookie{Name: name, Value: "tok"})
	req.AddCookie(&http.Cookie{Name: name + "-expires", Value: strconv.FormatInt(expires, 10)})
}

func TestGlobalRedirectsAnonymous(t *testing.T) {
	h := newRouter(newEngine(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/account?x=1", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?redirect=%2Faccount%3Fx%3D1", rec.Header().Get("Location"))
}

func TestGlobalAllowsWithRefreshCookie(t *testing.T) {
	h := newRouter(newEngine(t))

	req := httptest.NewRequest(http.MethodGet, "/account", nil)
	withToken(req, "auth.refresh-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGlobalHonoursOptOutAndUnmatched(t *testing.T) {
	h := newRouter(newEngine(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/about", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGuestOnlySendsLoggedInUsersAway(t *testing.T) {
	h := newRouter(newEngine(t))

	req := httptest.NewRequest(http.MethodGet, "/login?redirect=%2Faccount", nil)
	withToken(req, "auth.token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/account", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectWithoutManagerRedirects(t *testing.T) {
	cfg := guard.Config{LoginPath: "/login", HomePath: "/", RedirectQuery: "next"}
	h := guard.Protect(cfg, guard.Meta{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/secret", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?next=%2Fsecret", rec.Header().Get("Location"))
}
