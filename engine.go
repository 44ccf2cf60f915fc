package authsession

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"time"

	"github.com/MrEthical07/authsession/broadcast"
	"github.com/MrEthical07/authsession/tokenstore"
	"go.uber.org/zap"
)

const maxResponseBody = 1 << 20

// Engine holds the immutable configuration and shared collaborators. It is safe for
// concurrent use; per-context state lives in the Managers it creates.
type Engine struct {
	config  Config
	baseURL *url.URL
	client  *http.Client
	logger  *zap.Logger
	hooks   Hooks
	bus     broadcast.Bus
	now     func() time.Time
	events  *eventQueue
	metrics *Metrics
}

// Close flushes pending events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.events != nil {
		e.events.close()
	}
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Logger returns the engine's logger.
func (e *Engine) Logger() *zap.Logger {
	return e.logger
}

// TokenNames returns the cell names and lifetimes derived from the configuration.
func (e *Engine) TokenNames() tokenstore.Names {
	return e.config.tokenNames()
}

// EventsDropped reports events lost to a full event buffer or a cancelled emitter.
func (e *Engine) EventsDropped() uint64 {
	if e == nil || e.events == nil {
		return 0
	}
	return e.events.droppedTotal()
}

// EventsDroppedByType breaks EventsDropped down by event type.
func (e *Engine) EventsDroppedByType() map[EventType]uint64 {
	if e == nil || e.events == nil {
		return map[EventType]uint64{}
	}
	return e.events.droppedByType()
}

// MetricsSnapshot returns current counter values.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// NewManager creates a Manager for one execution context over storage.
func (e *Engine) NewManager(storage tokenstore.Storage) (*Manager, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if storage == nil {
		return nil, errors.New("authsession: storage is required")
	}
	return newManager(e, storage), nil
}

// OpenManager opens the configured storage mode over kv and creates a Manager on it.
// kv is ignored in memory mode.
func (e *Engine) OpenManager(kv tokenstore.KV) (*Manager, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	storage, err := tokenstore.Open(e.config.Storage.Mode, kv, e.config.tokenNames())
	if err != nil {
		return nil, err
	}
	return newManager(e, storage), nil
}

// Handoff moves the state of a server-side Manager into a client-side one and empties
// the server container.
func (e *Engine) Handoff(ctx context.Context, server, client *Manager) error {
	if e == nil {
		return ErrEngineNotReady
	}
	snap, err := server.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := client.Adopt(ctx, snap); err != nil {
		return err
	}
	server.discard()

	e.metricInc(MetricHandoff)
	e.emit(ctx, Event{Type: EventHandoff, ContextID: client.ID(), Success: true,
		Metadata: map[string]string{"from": server.ID()}})
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) emit(ctx context.Context, event Event) {
	if e == nil || e.events == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now().UTC()
	}
	event.Metadata = maps.Clone(event.Metadata)
	e.events.push(ctx, event)
}

// fetchError reports a non-2xx response to req. resp.Request is not consulted: a
// custom RoundTripper may leave it nil.
func (e *Engine) fetchError(ctx context.Context, req *http.Request, resp *http.Response) {
	e.metricInc(MetricFetchError)
	path := ""
	if req != nil && req.URL != nil {
		path = req.URL.Path
	}
	e.emit(ctx, Event{
		Type:    EventFetchError,
		Success: false,
		Metadata: map[string]string{
			"path":   path,
			"status": resp.Status,
		},
	})
	if e.hooks.FetchError != nil {
		e.hooks.FetchError(ctx, resp)
	}
}

func (e *Engine) endpointURL(path string) string {
	u := *e.baseURL
	u.Path = e.baseURL.Path + path
	u.RawPath = ""
	return u.String()
}

// call performs one JSON exchange with the backend. observe fires the fetch-error path
// for non-2xx responses; it is false when client already does so.
func (e *Engine) call(ctx context.Context, client *http.Client, ep Endpoint, fallbackMethod string, body any, observe bool) (any, error) {
	if !ep.Configured() {
		return nil, ErrEndpointNotConfigured
	}
	method := ep.method(fallbackMethod)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.endpointURL(ep.Path), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransport, method, ep.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrTransport, ep.Path, err)
	}
	doc := decodeBody(raw)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if observe {
			e.fetchError(ctx, req, resp)
		}
		return nil, &TransportError{
			Method:     method,
			Path:       ep.Path,
			StatusCode: resp.StatusCode,
			Body:       doc,
		}
	}
	return doc, nil
}

func decodeBody(raw []byte) any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return string(raw)
	}
	return doc
}
