package tokenstore

import (
	"context"
	"time"
)

// DefaultSkew is the lead time by which a token is treated as expired before its
// deadline.
const DefaultSkew = 10 * time.Second

// Store reads and writes the record of one token kind. It is the only place a
// record's ExpiresAt is computed.
type Store struct {
	storage Storage
	kind    Kind
	maxAge  time.Duration
	now     func() time.Time
}

// NewStore binds a kind to a storage strategy. now defaults to time.Now.
func NewStore(storage Storage, kind Kind, maxAge time.Duration, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{storage: storage, kind: kind, maxAge: maxAge, now: now}
}

// Kind returns the token kind this store manages.
func (s *Store) Kind() Kind { return s.kind }

// Get returns the stored record, or nil when absent.
func (s *Store) Get(ctx context.Context) (*Record, error) {
	return s.storage.Load(ctx, s.kind)
}

// Set stores value with ExpiresAt = now + maxAge. An empty value clears the kind.
func (s *Store) Set(ctx context.Context, value string) error {
	if value == "" {
		return s.Clear(ctx)
	}
	return s.storage.Save(ctx, s.kind, &Record{
		Value:     value,
		ExpiresAt: s.now().Add(s.maxAge),
	})
}

// Put writes rec verbatim. Only used to adopt records produced by another Store of the
// same engine during a handoff.
func (s *Store) Put(ctx context.Context, rec *Record) error {
	if rec == nil || rec.Value == "" {
		return s.Clear(ctx)
	}
	return s.storage.Save(ctx, s.kind, cloneRecord(rec))
}

// Clear removes every cell of the kind.
func (s *Store) Clear(ctx context.Context) error {
	return s.storage.Save(ctx, s.kind, nil)
}

// IsExpired reports whether rec is absent or within skew of its deadline.
func (s *Store) IsExpired(rec *Record, skew time.Duration) bool {
	return IsExpiredAt(rec, skew, s.now())
}

// IsExpiredAt is IsExpired against an explicit instant.
func IsExpiredAt(rec *Record, skew time.Duration, now time.Time) bool {
	if rec == nil || rec.Value == "" || rec.ExpiresAt.IsZero() {
		return true
	}
	return !rec.ExpiresAt.Add(-skew).After(now)
}
