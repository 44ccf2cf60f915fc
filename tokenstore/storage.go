package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Storage is the persistence strategy behind a [Store]. Save with a nil record removes
// every cell of that kind.
type Storage interface {
	Load(ctx context.Context, kind Kind) (*Record, error)
	Save(ctx context.Context, kind Kind, rec *Record) error
}

// Mode names a storage strategy.
type Mode uint8

const (
	// ModeCookie keeps a value cell and an "-expires" cell per kind.
	ModeCookie Mode = iota
	// ModeLocal keeps one JSON record per kind.
	ModeLocal
	// ModeMemory keeps records in the process only.
	ModeMemory
)

func (m Mode) String() string {
	switch m {
	case ModeCookie:
		return "cookie"
	case ModeLocal:
		return "localStorage"
	case ModeMemory:
		return "memory"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode accepts "cookie", "local", "localStorage" and "memory" (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cookie":
		return ModeCookie, nil
	case "local", "localstorage":
		return ModeLocal, nil
	case "memory":
		return ModeMemory, nil
	}
	return 0, fmt.Errorf("tokenstore: unknown storage mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Names holds the per-kind cell names and lifetimes used by the persistent strategies.
type Names struct {
	Access        string
	Refresh       string
	AccessMaxAge  time.Duration
	RefreshMaxAge time.Duration
	// LocalPrefix is prepended to record keys in ModeLocal.
	LocalPrefix string
}

// DefaultNames returns the stock cell names and lifetimes.
func DefaultNames() Names {
	return Names{
		Access:        "auth.token",
		Refresh:       "auth.refresh-token",
		AccessMaxAge:  30 * time.Minute,
		RefreshMaxAge: 7 * 24 * time.Hour,
		LocalPrefix:   "authsession.",
	}
}

func (n Names) name(kind Kind) string {
	if kind == KindRefresh {
		return n.Refresh
	}
	return n.Access
}

func (n Names) maxAge(kind Kind) time.Duration {
	if kind == KindRefresh {
		return n.RefreshMaxAge
	}
	return n.AccessMaxAge
}

func (n Names) validate() error {
	var errs []error
	if n.Access == "" || n.Refresh == "" {
		errs = append(errs, errors.New("tokenstore: cell names must be non-empty"))
	}
	if n.Access == n.Refresh {
		errs = append(errs, errors.New("tokenstore: access and refresh cell names must differ"))
	}
	if n.AccessMaxAge <= 0 || n.RefreshMaxAge <= 0 {
		errs = append(errs, errors.New("tokenstore: max ages must be > 0"))
	}
	return errors.Join(errs...)
}

// Open builds the strategy for mode. kv is ignored by ModeMemory and required otherwise.
func Open(mode Mode, kv KV, names Names) (Storage, error) {
	if err := names.validate(); err != nil {
		return nil, err
	}
	switch mode {
	case ModeMemory:
		return NewMemoryStorage(), nil
	case ModeCookie:
		if kv == nil {
			return nil, errors.New("tokenstore: cookie mode requires a KV driver")
		}
		return &CookieStorage{kv: kv, names: names}, nil
	case ModeLocal:
		if kv == nil {
			return nil, errors.New("tokenstore: local mode requires a KV driver")
		}
		return &LocalStorage{kv: kv, names: names}, nil
	}
	return nil, fmt.Errorf("tokenstore: unknown storage mode %d", mode)
}
