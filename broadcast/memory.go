package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
)

const subscriberBuffer = 16

type memorySub struct {
	ch chan Change
}

// MemoryBus is an in-process Bus. Slow subscribers lose changes instead of blocking
// writers; Dropped reports how many.
type MemoryBus struct {
	mu      sync.Mutex
	values  map[string]string
	subs    map[string]map[*memorySub]struct{}
	dropped atomic.Uint64
}

// NewMemoryBus returns an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		values: make(map[string]string),
		subs:   make(map[string]map[*memorySub]struct{}),
	}
}

// Get returns the current value of key.
func (b *MemoryBus) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[key]
	return v, ok, nil
}

// Set stores value and fans the change out.
func (b *MemoryBus) Set(_ context.Context, key, value, origin string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	old, ok := b.values[key]
	if ok && old == value {
		return false, nil
	}
	b.values[key] = value

	change := Change{Key: key, OldValue: old, NewValue: value, Origin: origin}
	for sub := range b.subs[key] {
		select {
		case sub.ch <- change:
		default:
			b.dropped.Add(1)
		}
	}
	return true, nil
}

// Subscribe registers a watcher for key.
func (b *MemoryBus) Subscribe(ctx context.Context, key string) (<-chan Change, error) {
	sub := &memorySub{ch: make(chan Change, subscriberBuffer)}

	b.mu.Lock()
	if b.subs[key] == nil {
		b.subs[key] = make(map[*memorySub]struct{})
	}
	b.subs[key][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[key], sub)
		if len(b.subs[key]) == 0 {
			delete(b.subs, key)
		}
		close(sub.ch)
		b.mu.Unlock()
	}()
	return sub.ch, nil
}

// Dropped returns the number of notifications lost to full subscriber buffers.
func (b *MemoryBus) Dropped() uint64 {
	return b.dropped.Load()
}
