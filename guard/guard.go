package guard

import (
	"net/url"
	"strings"

	"github.com/MrEthical07/authsession"
)

// MiddlewareGuest marks a route that only logged-out users should see.
const MiddlewareGuest = "guest"

// MiddlewareAuth marks a route as protected when the global guard is off.
const MiddlewareAuth = "auth"

// Config is the subset of engine configuration the guards need.
type Config struct {
	LoginPath    string
	CallbackPath string
	HomePath     string
	// RedirectQuery carries the originally requested path to the login page.
	RedirectQuery string
	// GlobalMiddleware protects every route that does not opt out.
	GlobalMiddleware bool
}

// FromEngine derives a guard Config from the engine configuration.
func FromEngine(cfg authsession.Config) Config {
	return Config{
		LoginPath:        cfg.Redirect.Login,
		CallbackPath:     cfg.Redirect.Callback,
		HomePath:         cfg.Redirect.Home,
		RedirectQuery:    cfg.Guard.RedirectQuery,
		GlobalMiddleware: cfg.Guard.GlobalMiddleware,
	}
}

// Meta is per-route guard metadata.
type Meta struct {
	// Auth set to false opts the route out of the auth guard. Set to true it opts in
	// when the global guard is off.
	Auth *bool
	// Middleware names a route-level guard, e.g. MiddlewareGuest.
	Middleware string
}

// Public returns Meta that opts a route out of the auth guard.
func Public() Meta {
	off := false
	return Meta{Auth: &off}
}

// Target is the navigation being decided.
type Target struct {
	Path string
	// FullPath is the path with its query string, as sent back after login.
	FullPath string
	Query    url.Values
	Meta     Meta
	// Matched is false when no route handles Path.
	Matched bool
	// Server is true when the decision runs on the server.
	Server bool
}

// Tokens reports which credentials are stored for the current context.
type Tokens struct {
	Access  bool
	Refresh bool
}

// Present reports whether any credential is stored.
func (t Tokens) Present() bool { return t.Access || t.Refresh }

type Action uint8

const (
	Allow Action = iota
	Redirect
)

// Decision is the outcome of a guard. Location is set when Action is Redirect.
type Decision struct {
	Action   Action
	Location string
}

func (d Decision) Allowed() bool { return d.Action == Allow }

func allow() Decision { return Decision{Action: Allow} }

func redirectTo(location string) Decision {
	return Decision{Action: Redirect, Location: location}
}

// Decide runs the auth guard.
func Decide(target Target, tokens Tokens, cfg Config) Decision {
	if target.Path == cfg.LoginPath || target.Path == cfg.CallbackPath {
		return allow()
	}
	if target.Meta.Auth != nil && !*target.Meta.Auth {
		return allow()
	}
	if target.Meta.Middleware == MiddlewareGuest {
		return allow()
	}
	if !cfg.GlobalMiddleware && !optedIn(target.Meta) {
		return allow()
	}
	if !target.Matched && target.Server {
		return allow()
	}
	if tokens.Present() {
		return allow()
	}

	full := target.FullPath
	if full == "" {
		full = target.Path
	}
	q := url.Values{}
	q.Set(cfg.RedirectQuery, full)
	return redirectTo(cfg.LoginPath + "?" + q.Encode())
}

// DecideGuest runs the guest guard: logged-in users leave login, callback and
// guest-only routes for the requested return path or home.
func DecideGuest(target Target, loggedIn bool, cfg Config) Decision {
	if !loggedIn {
		return allow()
	}
	guestOnly := target.Path == cfg.LoginPath ||
		target.Path == cfg.CallbackPath ||
		target.Meta.Middleware == MiddlewareGuest
	if !guestOnly {
		return allow()
	}

	if next := target.Query.Get(cfg.RedirectQuery); isLocalPath(next) && next != target.FullPath {
		return redirectTo(next)
	}
	if target.Path == cfg.HomePath {
		return allow()
	}
	return redirectTo(cfg.HomePath)
}

func optedIn(meta Meta) bool {
	return (meta.Auth != nil && *meta.Auth) || meta.Middleware == MiddlewareAuth
}

func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.Contains(p, "\\")
}
