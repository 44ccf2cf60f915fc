package authsession

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// Transport is the http.RoundTripper behind [Manager.Client]. It attaches the access
// token unless the request already carries the header, and reacts to 401 responses of
// a logged-in context by refreshing once or clearing the session.
type Transport struct {
	manager *Manager
	base    http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	m := t.manager
	cfg := m.engine.config

	out := req.Clone(ctx)
	for key, values := range m.forwardHeaders() {
		if out.Header.Get(key) != "" {
			continue
		}
		for _, v := range values {
			out.Header.Add(key, v)
		}
	}

	if out.Header.Get(cfg.AccessToken.HeaderName) == "" {
		token, err := m.GetAccessToken(ctx)
		switch {
		case err != nil:
			m.logger.Warn("access token unavailable", zap.Error(err))
		case token != "":
			out.Header.Set(cfg.AccessToken.HeaderName, credential(cfg.AccessToken.Type, token))
		}
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if resp.Request == nil {
		resp.Request = out
	}

	if resp.StatusCode == http.StatusUnauthorized {
		m.handleUnauthorized(ctx)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.engine.fetchError(ctx, out, resp)
	}
	return resp, nil
}

// handleUnauthorized refreshes at most once per 401 when a refresh token exists and
// clears the session otherwise or when the refresh fails.
func (m *Manager) handleUnauthorized(ctx context.Context) {
	m.engine.metricInc(MetricUnauthorizedResponse)
	if !m.IsLoggedIn() {
		return
	}

	rec, err := m.loadRecord(ctx, m.refresh)
	if err != nil || rec == nil || !m.engine.config.RefreshToken.Enabled {
		m.ClearSession(ctx)
		return
	}

	if _, err := m.refreshShared(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		m.ClearSession(ctx)
	}
}

func credential(scheme, token string) string {
	if scheme == "" {
		return token
	}
	return scheme + " " + token
}
