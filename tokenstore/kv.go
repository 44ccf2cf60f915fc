package tokenstore

import (
	"context"
	"sync"
	"time"
)

//go:generate mockgen -destination=../internal/mocks/kv_mock.go -package=mocks github.com/MrEthical07/authsession/tokenstore KV

// KV is the string cell driver under the persistent strategies. Get reports ok=false
// for a missing or expired key. A ttl <= 0 means no expiry.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type memoryCell struct {
	value     string
	expiresAt time.Time
}

// MemoryKV is an in-process KV with lazy expiry.
type MemoryKV struct {
	mu    sync.Mutex
	cells map[string]memoryCell
	now   func() time.Time
}

// NewMemoryKV returns an empty MemoryKV using the wall clock.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{cells: make(map[string]memoryCell), now: time.Now}
}

// WithClock replaces the clock used for expiry. Intended for tests.
func (m *MemoryKV) WithClock(now func() time.Time) *MemoryKV {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	return m
}

// Get returns the cell value when present and unexpired.
func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cell, ok := m.cells[key]
	if !ok {
		return "", false, nil
	}
	if !cell.expiresAt.IsZero() && !m.now().Before(cell.expiresAt) {
		delete(m.cells, key)
		return "", false, nil
	}
	return cell.value, true, nil
}

// Set stores value under key.
func (m *MemoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cell := memoryCell{value: value}
	if ttl > 0 {
		cell.expiresAt = m.now().Add(ttl)
	}
	m.cells[key] = cell
	return nil
}

// Delete removes key. Missing keys are not an error.
func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.cells, key)
	m.mu.Unlock()
	return nil
}
