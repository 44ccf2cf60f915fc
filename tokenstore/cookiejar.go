package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrInvalidCookieName is returned for a key that cannot be sent as a cookie name.
var ErrInvalidCookieName = errors.New("tokenstore: invalid cookie name")

// cookieSeparators are the characters RFC 6265 excludes from cookie names.
const cookieSeparators = "()<>@,;:\\\"/[]?={} \t"

// ValidCookieName reports whether name is a non-empty RFC 6265 token. net/http drops
// Set-Cookie headers whose name is not.
func ValidCookieName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= 0x20 || c >= 0x7f || strings.IndexByte(cookieSeparators, c) >= 0 {
			return false
		}
	}
	return true
}

// CookieOptions are the attributes written on every Set-Cookie.
type CookieOptions struct {
	Path     string
	Domain   string
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
}

// DefaultCookieOptions returns Path=/ and SameSite=Lax.
func DefaultCookieOptions() CookieOptions {
	return CookieOptions{Path: "/", SameSite: http.SameSiteLaxMode}
}

// CookieJar is a KV over one HTTP exchange: reads come from the request cookies, writes
// become Set-Cookie headers on the response. Writes are also kept in an overlay so later
// reads in the same request observe them. A CookieJar must not outlive its request.
type CookieJar struct {
	req  *http.Request
	w    http.ResponseWriter
	opts CookieOptions
	now  func() time.Time

	mu      sync.Mutex
	overlay map[string]*string
}

// NewCookieJar binds a jar to one request/response pair. w may be nil for read-only use.
func NewCookieJar(r *http.Request, w http.ResponseWriter, opts CookieOptions) *CookieJar {
	if opts.Path == "" {
		opts.Path = "/"
	}
	return &CookieJar{
		req:     r,
		w:       w,
		opts:    opts,
		now:     time.Now,
		overlay: make(map[string]*string),
	}
}

// Get reads the overlay first, then the request cookie.
func (j *CookieJar) Get(_ context.Context, key string) (string, bool, error) {
	j.mu.Lock()
	v, touched := j.overlay[key]
	j.mu.Unlock()
	if touched {
		if v == nil {
			return "", false, nil
		}
		return *v, true, nil
	}

	if j.req == nil {
		return "", false, nil
	}
	c, err := j.req.Cookie(key)
	if err != nil {
		return "", false, nil
	}
	value, err := url.QueryUnescape(c.Value)
	if err != nil {
		value = c.Value
	}
	return value, true, nil
}

// Set emits a Set-Cookie with Max-Age = ttl.
func (j *CookieJar) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if !ValidCookieName(key) {
		return fmt.Errorf("%w: %q", ErrInvalidCookieName, key)
	}
	j.mu.Lock()
	stored := value
	j.overlay[key] = &stored
	j.mu.Unlock()

	c := j.cookie(key, url.QueryEscape(value))
	if ttl > 0 {
		c.MaxAge = int(ttl / time.Second)
		c.Expires = j.now().Add(ttl).UTC()
	}
	j.write(c)
	return nil
}

// Delete emits an expiring Set-Cookie.
func (j *CookieJar) Delete(_ context.Context, key string) error {
	if !ValidCookieName(key) {
		return fmt.Errorf("%w: %q", ErrInvalidCookieName, key)
	}
	j.mu.Lock()
	j.overlay[key] = nil
	j.mu.Unlock()

	c := j.cookie(key, "")
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0).UTC()
	j.write(c)
	return nil
}

func (j *CookieJar) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     j.opts.Path,
		Domain:   j.opts.Domain,
		Secure:   j.opts.Secure,
		HttpOnly: j.opts.HTTPOnly,
		SameSite: j.opts.SameSite,
	}
}

func (j *CookieJar) write(c *http.Cookie) {
	if j.w == nil {
		return
	}
	http.SetCookie(j.w, c)
}
