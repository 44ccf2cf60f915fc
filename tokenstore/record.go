package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrRecordCorrupt is returned when a persisted record cannot be decoded.
var ErrRecordCorrupt = errors.New("token record corrupt")

// ErrStorageUnavailable wraps driver failures (network, closed client).
var ErrStorageUnavailable = errors.New("token storage unavailable")

// Kind selects which token a record holds.
type Kind uint8

const (
	KindAccess Kind = iota
	KindRefresh
)

func (k Kind) String() string {
	switch k {
	case KindAccess:
		return "access"
	case KindRefresh:
		return "refresh"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Record is one stored token with its locally computed deadline.
type Record struct {
	Value     string
	ExpiresAt time.Time
}

type wireRecord struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

// MarshalJSON encodes the record as {"token": ..., "expiresAt": <unix ms>}.
func (r Record) MarshalJSON() ([]byte, error) {
	w := wireRecord{Token: r.Value}
	if !r.ExpiresAt.IsZero() {
		w.ExpiresAt = r.ExpiresAt.UnixMilli()
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the layout written by MarshalJSON. An expiresAt of 0 decodes to
// the zero time, which every [Store] treats as expired.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrRecordCorrupt, err)
	}
	if w.Token == "" {
		return fmt.Errorf("%w: empty token", ErrRecordCorrupt)
	}
	r.Value = w.Token
	r.ExpiresAt = time.Time{}
	if w.ExpiresAt > 0 {
		r.ExpiresAt = time.UnixMilli(w.ExpiresAt)
	}
	return nil
}

func cloneRecord(r *Record) *Record {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}
