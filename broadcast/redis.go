package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBus keeps flags as Redis strings under "<prefix>:<key>" and publishes every
// effective change as JSON on "<prefix>:changes".
type RedisBus struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisBus creates a RedisBus. An empty prefix defaults to "authsession".
func NewRedisBus(rdb redis.UniversalClient, prefix string) *RedisBus {
	if prefix == "" {
		prefix = "authsession"
	}
	return &RedisBus{redis: rdb, prefix: prefix}
}

func (b *RedisBus) key(key string) string { return b.prefix + ":" + key }

func (b *RedisBus) channel() string { return b.prefix + ":changes" }

// Get returns the current value of key.
func (b *RedisBus) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := b.redis.Get(ctx, b.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	return v, true, nil
}

// Set swaps the value with SET ... GET and publishes when it changed.
func (b *RedisBus) Set(ctx context.Context, key, value, origin string) (bool, error) {
	old, err := b.redis.SetArgs(ctx, b.key(key), value, redis.SetArgs{Get: true}).Result()
	existed := true
	if errors.Is(err, redis.Nil) {
		existed, err = false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	if existed && old == value {
		return false, nil
	}

	payload, err := json.Marshal(Change{Key: key, OldValue: old, NewValue: value, Origin: origin})
	if err != nil {
		return true, err
	}
	if err := b.redis.Publish(ctx, b.channel(), payload).Err(); err != nil {
		return true, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	return true, nil
}

// Subscribe returns once the subscription is confirmed by the server.
func (b *RedisBus) Subscribe(ctx context.Context, key string) (<-chan Change, error) {
	ps := b.redis.Subscribe(ctx, b.channel())
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}

	out := make(chan Change, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var change Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					continue
				}
				if change.Key != key {
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
