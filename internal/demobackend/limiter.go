package demobackend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimited is returned once an identifier exhausts its sign-in budget.
var ErrRateLimited = errors.New("rate limited")

// Limiter counts failed sign-ins per identifier in fixed Redis windows.
type Limiter struct {
	redis       redis.UniversalClient
	maxAttempts int
	cooldown    time.Duration
}

// NewLimiter returns a Limiter allowing maxAttempts failures per cooldown window.
func NewLimiter(rdb redis.UniversalClient, maxAttempts int, cooldown time.Duration) *Limiter {
	return &Limiter{redis: rdb, maxAttempts: maxAttempts, cooldown: cooldown}
}

// Check fails with ErrRateLimited when identifier is over budget.
func (l *Limiter) Check(ctx context.Context, identifier string) error {
	count, err := l.redis.Get(ctx, limiterKey(identifier)).Int64()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(l.maxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// Fail records a failed attempt.
func (l *Limiter) Fail(ctx context.Context, identifier string) error {
	key := limiterKey(identifier)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	// Fixed window: the TTL is set by the first failure only.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return nil
}

// Reset clears the counter after a successful sign-in.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	if err := l.redis.Del(ctx, limiterKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func limiterKey(identifier string) string { return "demo:login:" + identifier }
