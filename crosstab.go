package authsession

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/MrEthical07/authsession/broadcast"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSyncDisabled is returned by StartSync when cross-context sync is off.
var ErrSyncDisabled = errors.New("cross-context sync disabled")

// Sync keeps one Manager consistent with the shared logged-in flag. Writes made by
// this Sync are tagged with its origin and ignored when they come back.
type Sync struct {
	manager *Manager
	bus     broadcast.Bus
	key     string
	origin  string
	logger  *zap.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// StartSync subscribes m to the shared flag until ctx is done or Close is called.
// A foreign true to false flip logs out a context that still holds a session; a
// false to true flip reloads state from storage.
//
// The flag is engine wide, which models the tabs of one browser profile. An engine
// that serves many users from one process must use StartSyncScoped instead, or one
// user's logout clears every synced context.
func (m *Manager) StartSync(ctx context.Context) (*Sync, error) {
	return m.StartSyncScoped(ctx, "")
}

// StartSyncScoped is StartSync on a flag private to scope (a user or device ID).
// Only contexts started with the same scope see each other's transitions. An empty
// scope is the engine-wide flag.
func (m *Manager) StartSyncScoped(ctx context.Context, scope string) (*Sync, error) {
	e := m.engine
	if !e.config.CrossTab.Enabled || e.bus == nil {
		return nil, ErrSyncDisabled
	}

	sctx, cancel := context.WithCancel(ctx)
	key := e.config.CrossTab.LoggedInFlagName
	if scope != "" {
		key += ":" + scope
	}
	ch, err := e.bus.Subscribe(sctx, key)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &Sync{
		manager: m,
		bus:     e.bus,
		key:     key,
		origin:  uuid.NewString(),
		logger:  m.logger.With(zap.String("flag", key)),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	m.sync = s
	m.mu.Unlock()

	go s.run(sctx, ch)
	return s, nil
}

// Origin tags this context's writes to the flag.
func (s *Sync) Origin() string { return s.origin }

// Close stops listening and detaches from the Manager.
func (s *Sync) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done

		m := s.manager
		m.mu.Lock()
		if m.sync == s {
			m.sync = nil
		}
		m.mu.Unlock()
	})
}

func (s *Sync) run(ctx context.Context, changes <-chan broadcast.Change) {
	defer close(s.done)
	for change := range changes {
		s.handle(ctx, change)
	}
}

func (s *Sync) handle(ctx context.Context, change broadcast.Change) {
	if change.Origin == s.origin {
		return
	}
	was := change.OldValue == "true"
	now := change.NewValue == "true"
	m := s.manager

	switch {
	case was && !now:
		hasAccess, _ := m.Credentials(ctx)
		if !hasAccess && !m.IsLoggedIn() {
			return
		}
		s.logger.Info("logged out in another context")
		m.ClearSession(ctx)
		m.engine.metricInc(MetricCrossTabLogout)
		m.engine.emit(ctx, Event{Type: EventCrossTabLogout, ContextID: m.id, Success: true})

	case !was && now:
		s.logger.Info("logged in in another context")
		m.engine.metricInc(MetricCrossTabReload)
		if err := m.Reload(ctx); err != nil {
			s.logger.Warn("reload after foreign login failed", zap.Error(err))
		}
		m.engine.emit(ctx, Event{Type: EventCrossTabLogin, ContextID: m.id, Success: m.IsLoggedIn()})
	}
}

func (s *Sync) publish(ctx context.Context, loggedIn bool) {
	if _, err := s.bus.Set(ctx, s.key, strconv.FormatBool(loggedIn), s.origin); err != nil {
		s.logger.Warn("publish logged-in flag failed", zap.Error(err))
	}
}
