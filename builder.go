package authsession

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/authsession/broadcast"
	"go.uber.org/zap"
)

// Hooks are host callbacks. Both run synchronously on the goroutine that triggered them
// and must not block.
type Hooks struct {
	// LoggedIn fires on every actual logged-in/logged-out transition of a Manager.
	LoggedIn func(ctx context.Context, loggedIn bool)
	// FetchError fires for every non-2xx backend response seen by the transport. The
	// body has already been consumed when the response came from Manager.Do.
	FetchError func(ctx context.Context, resp *http.Response)
}

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
	eventSink  EventSink
	hooks      Hooks
	bus        broadcast.Bus
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithHTTPClient sets the base client used for every backend call. Its Transport is
// wrapped, never replaced, for authenticated calls.
func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.eventSink = sink
	return b
}

func (b *Builder) WithHooks(h Hooks) *Builder {
	b.hooks = h
	return b
}

// WithBus sets the cross-context flag bus. Without one, an in-process bus is used when
// CrossTab is enabled.
func (b *Builder) WithBus(bus broadcast.Bus) *Builder {
	b.bus = bus
	return b
}

// WithClock replaces the wall clock for token expiry. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns an immutable Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, err
	}

	client := b.httpClient
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTP.Timeout}
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	bus := b.bus
	if bus == nil && cfg.CrossTab.Enabled {
		bus = broadcast.NewMemoryBus()
	}

	engine := &Engine{
		config:  cfg,
		baseURL: base,
		client:  client,
		logger:  logger.Named("authsession"),
		hooks:   b.hooks,
		bus:     bus,
		now:     now,
	}
	engine.events = newEventQueue(cfg.Events, b.eventSink, engine.logger.Named("events"))
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}
