package authsession

import (
	"errors"
	"fmt"
)

var (
	// ErrTokenExtraction is returned when a configured pointer does not resolve to a
	// non-empty string in a backend response.
	ErrTokenExtraction = errors.New("token extraction failed")
	// ErrInvalidSessionShape is returned when the session payload is not a JSON object.
	ErrInvalidSessionShape = errors.New("invalid session shape")
	// ErrRefreshFailed wraps network and server failures of the refresh call.
	ErrRefreshFailed = errors.New("refresh failed")
	// ErrTransport is wrapped by every *TransportError and by network failures on
	// backend calls.
	ErrTransport = errors.New("transport error")
	// ErrEndpointNotConfigured is returned when an operation's endpoint has no path.
	ErrEndpointNotConfigured = errors.New("endpoint not configured")
	// ErrSessionUnavailable is returned by Login when tokens were issued but the session
	// could not be loaded.
	ErrSessionUnavailable = errors.New("session unavailable")
	// ErrEngineNotReady is returned by Manager operations on a nil or closed engine.
	ErrEngineNotReady = errors.New("engine not ready")
)

// TransportError is a non-2xx backend response.
type TransportError struct {
	Method     string
	Path       string
	StatusCode int
	// Body is the decoded JSON body, or the raw text when it was not JSON.
	Body any
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// Unwrap lets errors.Is match ErrTransport.
func (e *TransportError) Unwrap() error { return ErrTransport }

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}
