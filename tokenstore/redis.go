package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV stores cells as plain Redis strings under "<prefix>:<key>". It backs the
// persistent strategies for long-lived clients (CLIs, desktop agents, workers) that
// need tokens to survive restarts.
type RedisKV struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisKV creates a RedisKV. An empty prefix defaults to "authsession".
func NewRedisKV(rdb redis.UniversalClient, prefix string) *RedisKV {
	if prefix == "" {
		prefix = "authsession"
	}
	return &RedisKV{redis: rdb, prefix: prefix}
}

func (r *RedisKV) key(key string) string {
	return r.prefix + ":" + key
}

// Get returns the cell value. A missing key is ("", false, nil); a Redis failure wraps
// ErrStorageUnavailable.
func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.redis.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return value, true, nil
}

// Set writes the cell with the given TTL. A ttl <= 0 keeps the key without expiry.
func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.redis.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Delete is idempotent.
func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if err := r.redis.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Ping measures a round trip to Redis.
func (r *RedisKV) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return time.Since(start), nil
}
