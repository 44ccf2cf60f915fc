package authsession

import (
	"context"
	"net/http"

	"github.com/MrEthical07/authsession/tokenstore"
	"go.uber.org/zap"
)

type managerContextKey struct{}

// WithManager attaches m to ctx.
func WithManager(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, managerContextKey{}, m)
}

// ManagerFromContext returns the Manager attached by WithManager or Middleware.
func ManagerFromContext(ctx context.Context) (*Manager, bool) {
	if ctx == nil {
		return nil, false
	}
	m, ok := ctx.Value(managerContextKey{}).(*Manager)
	return m, ok && m != nil
}

// Middleware scopes a Manager to each request. In cookie and local modes the Manager
// reads the request cookies and writes Set-Cookie headers on w, so token writes must
// happen before the handler writes the response body. In memory mode every request
// starts empty. The incoming User-Agent is forwarded on backend calls.
func (e *Engine) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, err := e.requestManager(w, r)
		if err != nil {
			e.logger.Error("request session unavailable", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		m.ForwardHeader("User-Agent", r.UserAgent())
		next.ServeHTTP(w, r.WithContext(WithManager(r.Context(), m)))
	})
}

func (e *Engine) requestManager(w http.ResponseWriter, r *http.Request) (*Manager, error) {
	return e.OpenManager(tokenstore.NewCookieJar(r, w, e.config.cookieOptions()))
}
