package guard

import (
	"net/http"

	"github.com/MrEthical07/authsession"
	"github.com/go-chi/chi/v5"
)

// Protect applies the auth guard with meta to every request of the wrapped handler.
// Requests without a Manager in their context are treated as anonymous.
func Protect(cfg Config, meta Meta) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			target := requestTarget(r, meta, true)
			if d := Decide(target, requestTokens(r), withOptIn(cfg)); !d.Allowed() {
				http.Redirect(w, r, d.Location, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GuestOnly applies the guest guard to the wrapped handler.
func GuestOnly(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			target := requestTarget(r, Meta{Middleware: MiddlewareGuest}, true)
			if d := DecideGuest(target, requestLoggedIn(r), cfg); !d.Allowed() {
				http.Redirect(w, r, d.Location, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Global applies the auth guard router-wide, the way the global middleware does.
// routes reports whether a request is matched; metaFor may be nil.
func Global(cfg Config, routes chi.Routes, metaFor func(*http.Request) Meta) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var meta Meta
			if metaFor != nil {
				meta = metaFor(r)
			}
			matched := routes != nil && routes.Match(chi.NewRouteContext(), r.Method, r.URL.Path)

			target := requestTarget(r, meta, matched)
			if d := Decide(target, requestTokens(r), cfg); !d.Allowed() {
				http.Redirect(w, r, d.Location, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestTarget(r *http.Request, meta Meta, matched bool) Target {
	return Target{
		Path:     r.URL.Path,
		FullPath: r.URL.RequestURI(),
		Query:    r.URL.Query(),
		Meta:     meta,
		Matched:  matched,
		Server:   true,
	}
}

func requestTokens(r *http.Request) Tokens {
	m, ok := authsession.ManagerFromContext(r.Context())
	if !ok {
		return Tokens{}
	}
	access, refresh := m.Credentials(r.Context())
	return Tokens{Access: access, Refresh: refresh}
}

func requestLoggedIn(r *http.Request) bool {
	m, ok := authsession.ManagerFromContext(r.Context())
	if !ok {
		return false
	}
	if m.IsLoggedIn() {
		return true
	}
	access, _ := m.Credentials(r.Context())
	return access
}

// withOptIn makes an explicitly wrapped route protected even when the global guard is
// off.
func withOptIn(cfg Config) Config {
	cfg.GlobalMiddleware = true
	return cfg
}
