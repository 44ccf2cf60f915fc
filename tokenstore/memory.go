package tokenstore

import (
	"context"
	"sync"
)

// MemoryStorage holds records for a single execution context.
type MemoryStorage struct {
	mu      sync.RWMutex
	records map[Kind]Record
}

// NewMemoryStorage returns an empty container.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{records: make(map[Kind]Record, 2)}
}

// Load returns a copy of the stored record, or nil.
func (m *MemoryStorage) Load(_ context.Context, kind Kind) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[kind]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Save stores a copy of rec; nil removes the kind.
func (m *MemoryStorage) Save(_ context.Context, kind Kind, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec == nil {
		delete(m.records, kind)
		return nil
	}
	m.records[kind] = *rec
	return nil
}

// Reset drops every record. Used after a handoff so the server container does not keep
// the user's tokens.
func (m *MemoryStorage) Reset() {
	m.mu.Lock()
	clear(m.records)
	m.mu.Unlock()
}

// Len reports how many kinds are held.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
