package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const expiresSuffix = "-expires"

// CookieStorage keeps a value cell and a unix-millisecond "-expires" cell per kind.
type CookieStorage struct {
	kv    KV
	names Names
}

// Load reconstructs the record from both cells. A missing expiry cell yields a record
// with a zero ExpiresAt (expired).
func (c *CookieStorage) Load(ctx context.Context, kind Kind) (*Record, error) {
	name := c.names.name(kind)
	value, ok, err := c.kv.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok || value == "" {
		return nil, nil
	}

	rec := &Record{Value: value}
	raw, ok, err := c.kv.Get(ctx, name+expiresSuffix)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return rec, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s%s: %v", ErrRecordCorrupt, name, expiresSuffix, err)
	}
	if ms > 0 {
		rec.ExpiresAt = time.UnixMilli(ms)
	}
	return rec, nil
}

// Save writes or clears both cells.
func (c *CookieStorage) Save(ctx context.Context, kind Kind, rec *Record) error {
	name := c.names.name(kind)
	if rec == nil {
		if err := c.kv.Delete(ctx, name); err != nil {
			return err
		}
		return c.kv.Delete(ctx, name+expiresSuffix)
	}

	ttl := c.names.maxAge(kind)
	if err := c.kv.Set(ctx, name, rec.Value, ttl); err != nil {
		return err
	}
	return c.kv.Set(ctx, name+expiresSuffix, strconv.FormatInt(rec.ExpiresAt.UnixMilli(), 10), ttl)
}

// LocalStorage keeps one JSON record per kind under "<prefix><name>".
type LocalStorage struct {
	kv    KV
	names Names
}

func (l *LocalStorage) key(kind Kind) string {
	return l.names.LocalPrefix + l.names.name(kind)
}

// Load decodes the combined record.
func (l *LocalStorage) Load(ctx context.Context, kind Kind) (*Record, error) {
	raw, ok, err := l.kv.Get(ctx, l.key(kind))
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		if errors.Is(err, ErrRecordCorrupt) {
			return nil, fmt.Errorf("%s: %w", l.key(kind), err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrRecordCorrupt, l.key(kind), err)
	}
	return &rec, nil
}

// Save writes or removes the combined record.
func (l *LocalStorage) Save(ctx context.Context, kind Kind, rec *Record) error {
	if rec == nil {
		return l.kv.Delete(ctx, l.key(kind))
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return l.kv.Set(ctx, l.key(kind), string(payload), l.names.maxAge(kind))
}
