package authsession

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// eventQueue hands lifecycle events to the sink on a single goroutine, in emit order,
// so a slow sink never stalls token or session operations.
type eventQueue struct {
	sink       EventSink
	dropIfFull bool
	logger     *zap.Logger

	// Senders hold mu for reading while they enqueue; close takes it for writing
	// before closing ch.
	mu      sync.RWMutex
	ch      chan Event
	closed  bool
	stopped chan struct{}

	warnOnce sync.Once
	dropped  sync.Map // EventType -> *atomic.Uint64
	total    atomic.Uint64
}

func newEventQueue(cfg EventsConfig, sink EventSink, logger *zap.Logger) *eventQueue {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	q := &eventQueue{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		logger:     logger,
		ch:         make(chan Event, max(cfg.BufferSize, 1)),
		stopped:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *eventQueue) run() {
	defer close(q.stopped)
	for ev := range q.ch {
		q.deliver(ev)
	}
}

func (q *eventQueue) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("event sink panicked",
				zap.Any("panic", r),
				zap.String("event_type", string(ev.Type)),
				zap.String("context_id", ev.ContextID))
		}
	}()
	q.sink.Emit(context.Background(), ev)
}

// push enqueues ev. With dropIfFull a full buffer loses the event; otherwise push
// waits for room or for ctx. Events pushed after close are discarded.
func (q *eventQueue) push(ctx context.Context, ev Event) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}

	if q.dropIfFull {
		select {
		case q.ch <- ev:
		default:
			q.drop(ev)
		}
		return
	}
	select {
	case q.ch <- ev:
	case <-ctx.Done():
		q.drop(ev)
	}
}

func (q *eventQueue) drop(ev Event) {
	q.total.Add(1)
	n, _ := q.dropped.LoadOrStore(ev.Type, new(atomic.Uint64))
	n.(*atomic.Uint64).Add(1)
	q.warnOnce.Do(func() {
		q.logger.Warn("event buffer full, dropping lifecycle events",
			zap.Int("buffer", cap(q.ch)),
			zap.String("event_type", string(ev.Type)))
	})
}

// close stops accepting events and returns once the queued ones reached the sink.
func (q *eventQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.stopped
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()
	<-q.stopped
}

func (q *eventQueue) droppedTotal() uint64 {
	return q.total.Load()
}

func (q *eventQueue) droppedByType() map[EventType]uint64 {
	out := map[EventType]uint64{}
	q.dropped.Range(func(k, v any) bool {
		out[k.(EventType)] = v.(*atomic.Uint64).Load()
		return true
	})
	return out
}
