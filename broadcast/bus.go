package broadcast

import (
	"context"
	"errors"
)

// ErrBusUnavailable wraps driver failures.
var ErrBusUnavailable = errors.New("broadcast bus unavailable")

// Change is one observed write. OldValue is "" when the key was absent.
type Change struct {
	Key      string `json:"key"`
	OldValue string `json:"oldValue"`
	NewValue string `json:"newValue"`
	Origin   string `json:"origin"`
}

// Bus is a shared flag store with change notification.
type Bus interface {
	// Get returns the current value of key.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes value and reports whether it differed from the previous value.
	// Subscribers are notified only when it did.
	Set(ctx context.Context, key, value, origin string) (bool, error)
	// Subscribe streams changes to key until ctx is done, then closes the channel.
	Subscribe(ctx context.Context, key string) (<-chan Change, error)
}
