package authsession

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/authsession/tokenstore"
)

// Config is the full engine configuration. A Config is copied into the Engine at Build
// time; later changes to the caller's value have no effect.
type Config struct {
	BaseURL      string             `yaml:"baseUrl"`
	Endpoints    EndpointsConfig    `yaml:"endpoints"`
	AccessToken  AccessTokenConfig  `yaml:"accessToken"`
	RefreshToken RefreshTokenConfig `yaml:"refreshToken"`
	Session      SessionConfig      `yaml:"session"`
	Storage      StorageConfig      `yaml:"storage"`
	Redirect     RedirectConfig     `yaml:"redirect"`
	Guard        GuardConfig        `yaml:"guard"`
	CrossTab     CrossTabConfig     `yaml:"crossTab"`
	Events       EventsConfig       `yaml:"events"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      LoggingConfig      `yaml:"logging"`
	HTTP         HTTPConfig         `yaml:"http"`
}

/*
====================================
ENDPOINTS
====================================
*/

// Endpoint is one backend operation. An empty Path means the operation is not
// configured.
type Endpoint struct {
	Path   string `yaml:"path"`
	Method string `yaml:"method"`
}

// Configured reports whether the endpoint has a path.
func (e Endpoint) Configured() bool { return e.Path != "" }

func (e Endpoint) method(fallback string) string {
	if e.Method == "" {
		return fallback
	}
	return strings.ToUpper(e.Method)
}

// EndpointsConfig lists the backend operations the engine may call.
type EndpointsConfig struct {
	SignIn     Endpoint `yaml:"signIn"`
	SignOut    Endpoint `yaml:"signOut"`
	SignUp     Endpoint `yaml:"signUp"`
	GetSession Endpoint `yaml:"getSession"`
	Refresh    Endpoint `yaml:"refresh"`
}

/*
====================================
TOKENS
====================================
*/

// AccessTokenConfig describes where the access token comes from, how it is stored and
// how it is sent.
type AccessTokenConfig struct {
	ResponseTokenPointer string        `yaml:"responseTokenPointer"`
	Type                 string        `yaml:"type"`
	CookieName           string        `yaml:"cookieName"`
	HeaderName           string        `yaml:"headerName"`
	MaxAge               time.Duration `yaml:"maxAge"`
	// ExpirySkew treats the token as expired this long before its deadline.
	ExpirySkew time.Duration `yaml:"expirySkew"`
}

// RefreshTokenConfig describes the refresh token lifecycle.
type RefreshTokenConfig struct {
	Enabled              bool          `yaml:"enabled"`
	ResponseTokenPointer string        `yaml:"responseTokenPointer"`
	RequestTokenPointer  string        `yaml:"refreshRequestTokenPointer"`
	CookieName           string        `yaml:"cookieName"`
	MaxAge               time.Duration `yaml:"maxAge"`
	// Rotate requires every refresh response to carry a new refresh token. When false
	// the refresh response is not inspected for one and the stored token is kept.
	Rotate bool `yaml:"rotate"`
}

// SessionConfig controls session extraction.
type SessionConfig struct {
	// ResponseSessionPointer locates the user object in the session response. Empty
	// means the whole body.
	ResponseSessionPointer string `yaml:"responseSessionPointer"`
}

/*
====================================
STORAGE
====================================
*/

// StorageConfig selects the token persistence strategy.
type StorageConfig struct {
	Mode        tokenstore.Mode `yaml:"mode"`
	LocalPrefix string          `yaml:"localPrefix"`
	Cookie      CookieConfig    `yaml:"cookie"`
	Redis       RedisConfig     `yaml:"redis"`
}

// CookieConfig holds the attributes written on token cookies.
type CookieConfig struct {
	Path     string `yaml:"path"`
	Domain   string `yaml:"domain"`
	Secure   bool   `yaml:"secure"`
	HTTPOnly bool   `yaml:"httpOnly"`
	SameSite string `yaml:"sameSite"`
}

// RedisConfig is used by the Redis-backed token and broadcast drivers.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

/*
====================================
NAVIGATION
====================================
*/

// RedirectConfig holds the navigation targets used by guards and login flows.
type RedirectConfig struct {
	Login    string `yaml:"login"`
	Logout   string `yaml:"logout"`
	Home     string `yaml:"home"`
	Callback string `yaml:"callback"`
}

// GuardConfig controls route enforcement.
type GuardConfig struct {
	// GlobalMiddleware applies the auth guard to every route unless it opts out.
	GlobalMiddleware bool `yaml:"globalMiddleware"`
	// RedirectQuery is the query parameter carrying the return path.
	RedirectQuery string `yaml:"redirectQuery"`
}

// CrossTabConfig controls the shared logged-in flag.
type CrossTabConfig struct {
	Enabled          bool   `yaml:"enabled"`
	LoggedInFlagName string `yaml:"loggedInFlagName"`
}

/*
====================================
OBSERVABILITY
====================================
*/

// EventsConfig controls the asynchronous lifecycle event dispatcher.
type EventsConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"bufferSize"`
	DropIfFull bool `yaml:"dropIfFull"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enableLatencyHistograms"`
}

// LoggingConfig is consumed by NewLogger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" (default) or "console"
}

// HTTPConfig tunes the base client built when none is supplied.
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the stock configuration. BaseURL has no usable default and must
// be set before Build.
func DefaultConfig() Config {
	return Config{
		Endpoints: EndpointsConfig{
			SignIn:     Endpoint{Path: "/login", Method: http.MethodPost},
			SignOut:    Endpoint{Path: "/logout", Method: http.MethodPost},
			GetSession: Endpoint{Path: "/session", Method: http.MethodGet},
			Refresh:    Endpoint{Path: "/refresh-token", Method: http.MethodPost},
		},
		AccessToken: AccessTokenConfig{
			ResponseTokenPointer: "/accessToken",
			Type:                 "Bearer",
			CookieName:           "auth.token",
			HeaderName:           "Authorization",
			MaxAge:               30 * time.Minute,
			ExpirySkew:           tokenstore.DefaultSkew,
		},
		RefreshToken: RefreshTokenConfig{
			Enabled:              true,
			ResponseTokenPointer: "/refreshToken",
			RequestTokenPointer:  "/refreshToken",
			CookieName:           "auth.refresh-token",
			MaxAge:               7 * 24 * time.Hour,
			Rotate:               true,
		},
		Storage: StorageConfig{
			Mode:        tokenstore.ModeCookie,
			LocalPrefix: "authsession.",
			Cookie: CookieConfig{
				Path:     "/",
				SameSite: "lax",
			},
			Redis: RedisConfig{
				Prefix: "authsession",
			},
		},
		Redirect: RedirectConfig{
			Login:    "/login",
			Logout:   "/",
			Home:     "/",
			Callback: "/callback",
		},
		Guard: GuardConfig{
			GlobalMiddleware: true,
			RedirectQuery:    "redirect",
		},
		CrossTab: CrossTabConfig{
			Enabled:          true,
			LoggedInFlagName: "isAuthenticated",
		},
		Events: EventsConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		HTTP: HTTPConfig{
			Timeout: 15 * time.Second,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// Base URL
	if c.BaseURL == "" {
		add("BaseURL is required")
	} else if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("BaseURL must be an absolute URL, got %q", c.BaseURL)
	}

	// Endpoints
	for name, ep := range map[string]Endpoint{
		"SignIn":     c.Endpoints.SignIn,
		"SignOut":    c.Endpoints.SignOut,
		"SignUp":     c.Endpoints.SignUp,
		"GetSession": c.Endpoints.GetSession,
		"Refresh":    c.Endpoints.Refresh,
	} {
		if ep.Path != "" && !strings.HasPrefix(ep.Path, "/") {
			add("Endpoints %s path must start with '/'", name)
		}
		switch strings.ToUpper(ep.Method) {
		case "", http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			add("Endpoints %s method %q is not supported", name, ep.Method)
		}
	}

	// Pointers
	if !validPointer(c.AccessToken.ResponseTokenPointer, false) {
		add("AccessToken ResponseTokenPointer must start with '/'")
	}
	if c.RefreshToken.Enabled {
		if !validPointer(c.RefreshToken.ResponseTokenPointer, false) {
			add("RefreshToken ResponseTokenPointer must start with '/'")
		}
		if !validPointer(c.RefreshToken.RequestTokenPointer, false) {
			add("RefreshToken RequestTokenPointer must start with '/'")
		}
	}
	if !validPointer(c.Session.ResponseSessionPointer, true) {
		add("Session ResponseSessionPointer must be empty or start with '/'")
	}

	// Tokens
	if c.AccessToken.MaxAge <= 0 {
		add("AccessToken MaxAge must be > 0")
	}
	if c.AccessToken.ExpirySkew < 0 {
		add("AccessToken ExpirySkew must be >= 0")
	}
	if c.AccessToken.MaxAge > 0 && c.AccessToken.ExpirySkew >= c.AccessToken.MaxAge {
		add("AccessToken ExpirySkew must be shorter than MaxAge")
	}
	if c.AccessToken.HeaderName == "" {
		add("AccessToken HeaderName is required")
	}
	if c.AccessToken.CookieName == "" {
		add("AccessToken CookieName is required")
	}
	if c.RefreshToken.Enabled {
		if c.RefreshToken.MaxAge <= 0 {
			add("RefreshToken MaxAge must be > 0")
		}
		if c.RefreshToken.CookieName == "" || c.RefreshToken.CookieName == c.AccessToken.CookieName {
			add("RefreshToken CookieName must be set and differ from AccessToken CookieName")
		}
	}

	// Storage
	switch c.Storage.Mode {
	case tokenstore.ModeCookie, tokenstore.ModeLocal, tokenstore.ModeMemory:
	default:
		add("Storage Mode is invalid")
	}
	if _, err := parseSameSite(c.Storage.Cookie.SameSite); err != nil {
		errs = append(errs, err)
	}
	// Cookie and local records both travel as cookies through Middleware.
	for _, name := range []string{c.AccessToken.CookieName, c.RefreshToken.CookieName} {
		if name == "" {
			continue
		}
		if !tokenstore.ValidCookieName(name + "-expires") {
			add("cookie name %q contains characters not allowed in a cookie name", name)
		}
		if c.Storage.Mode == tokenstore.ModeLocal && !tokenstore.ValidCookieName(c.Storage.LocalPrefix+name) {
			add("Storage LocalPrefix %q does not form a valid cookie name with %q", c.Storage.LocalPrefix, name)
		}
	}

	// Navigation
	for name, p := range map[string]string{
		"Login":    c.Redirect.Login,
		"Logout":   c.Redirect.Logout,
		"Home":     c.Redirect.Home,
		"Callback": c.Redirect.Callback,
	} {
		if !strings.HasPrefix(p, "/") {
			add("Redirect %s must be a local path", name)
		}
	}
	if c.Guard.RedirectQuery == "" {
		add("Guard RedirectQuery is required")
	}

	// Cross tab
	if c.CrossTab.Enabled && c.CrossTab.LoggedInFlagName == "" {
		add("CrossTab LoggedInFlagName is required when CrossTab is enabled")
	}

	// Events
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		add("Events BufferSize must be > 0 when Events is enabled")
	}

	// Logging
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		add("Logging Format must be 'json' or 'console'")
	}

	if c.HTTP.Timeout < 0 {
		add("HTTP Timeout must be >= 0")
	}

	return errors.Join(errs...)
}

func validPointer(p string, allowEmpty bool) bool {
	if p == "" {
		return allowEmpty
	}
	return strings.HasPrefix(p, "/") && p != "/"
}

func parseSameSite(s string) (http.SameSite, error) {
	switch strings.ToLower(s) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	}
	return 0, fmt.Errorf("Storage Cookie SameSite %q is invalid", s)
}

func (c Config) tokenNames() tokenstore.Names {
	return tokenstore.Names{
		Access:        c.AccessToken.CookieName,
		Refresh:       c.RefreshToken.CookieName,
		AccessMaxAge:  c.AccessToken.MaxAge,
		RefreshMaxAge: c.RefreshToken.MaxAge,
		LocalPrefix:   c.Storage.LocalPrefix,
	}
}

func (c Config) cookieOptions() tokenstore.CookieOptions {
	sameSite, _ := parseSameSite(c.Storage.Cookie.SameSite)
	return tokenstore.CookieOptions{
		Path:     c.Storage.Cookie.Path,
		Domain:   c.Storage.Cookie.Domain,
		Secure:   c.Storage.Cookie.Secure,
		HTTPOnly: c.Storage.Cookie.HTTPOnly,
		SameSite: sameSite,
	}
}
