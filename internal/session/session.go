// Package session is the single-writer store of the operator's observable
// state and the orchestrator of every other synchronization component.
//
// All mutations run as named actions on one event-loop goroutine. Remote
// calls run outside the loop and post their outcomes back as further
// actions, so the at-most-one-active-task invariant is enforced in one
// place.
//
// Thread-safety model:
//   - Action methods, State and Close: safe from any goroutine
//   - Actions never call do() themselves; that would deadlock the loop
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/language"

	"github.com/roach88/fieldsync/internal/connectivity"
	"github.com/roach88/fieldsync/internal/fault"
	"github.com/roach88/fieldsync/internal/feed"
	"github.com/roach88/fieldsync/internal/gateway"
	"github.com/roach88/fieldsync/internal/lifecycle"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/presence"
	"github.com/roach88/fieldsync/internal/queue"
	"github.com/roach88/fieldsync/internal/reconcile"
	"github.com/roach88/fieldsync/internal/store"
)

// Config holds session tunables. Zero intervals disable the corresponding
// background goroutine; the harness relies on that for determinism.
type Config struct {
	OperatorID        string
	Languages         []string
	ReconcileInterval time.Duration
	HeartbeatInterval time.Duration
	SweepInterval     time.Duration
	LogCapacity       int
	NoticeTTL         time.Duration
}

// DefaultConfig returns production defaults for operatorID.
func DefaultConfig(operatorID string) Config {
	return Config{
		OperatorID:        operatorID,
		Languages:         []string{"en", "es"},
		ReconcileInterval: reconcile.DefaultInterval,
		HeartbeatInterval: presence.DefaultInterval,
		SweepInterval:     time.Second,
		LogCapacity:       200,
		NoticeTTL:         5 * time.Second,
	}
}

// Deps are the collaborators a session drives.
type Deps struct {
	Gateway gateway.Gateway
	Queue   *queue.Queue
	Store   *store.Store
	Monitor *connectivity.Monitor

	// Optional.
	Clock       func() time.Time
	Logger      *slog.Logger
	IDs         queue.IDGenerator
	OnSignedOut func(error)
}

// Session is the operator's live session.
type Session struct {
	cfg       Config
	languages []language.Tag
	matcher   language.Matcher

	gw      gateway.Gateway
	queue   *queue.Queue
	store   *store.Store
	monitor *connectivity.Monitor
	now     func() time.Time
	logger  *slog.Logger
	ids     queue.IDGenerator

	reconciler *reconcile.Loop
	publisher  *presence.Publisher
	feed       *feed.Subscriber

	actions  *actionQueue
	st       state
	loopDone chan struct{}
	started  atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	lifeMu      sync.Mutex
	closing     bool
	wg          sync.WaitGroup
	bgSync      sync.WaitGroup
	closeOnce   sync.Once
	signOutOnce sync.Once
	onSignedOut func(error)
	unsubscribe func()
}

// New wires a session. The gateway is wrapped so every call outcome feeds
// the connectivity monitor.
func New(cfg Config, deps Deps) (*Session, error) {
	if cfg.OperatorID == "" {
		return nil, errors.New("session: operator id is required")
	}
	if deps.Gateway == nil || deps.Queue == nil || deps.Store == nil || deps.Monitor == nil {
		return nil, errors.New("session: gateway, queue, store and monitor are required")
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"en"}
	}
	if cfg.LogCapacity <= 0 {
		cfg.LogCapacity = 200
	}
	if cfg.NoticeTTL <= 0 {
		cfg.NoticeTTL = 5 * time.Second
	}

	tags := make([]language.Tag, 0, len(cfg.Languages))
	for _, l := range cfg.Languages {
		tag, err := language.Parse(l)
		if err != nil {
			return nil, fmt.Errorf("session: language %q: %w", l, err)
		}
		tags = append(tags, tag)
	}

	s := &Session{
		cfg:         cfg,
		languages:   tags,
		matcher:     language.NewMatcher(tags),
		gw:          gateway.Observed(deps.Gateway, deps.Monitor),
		queue:       deps.Queue,
		store:       deps.Store,
		monitor:     deps.Monitor,
		now:         deps.Clock,
		logger:      deps.Logger,
		ids:         deps.IDs,
		onSignedOut: deps.OnSignedOut,
		actions:     newActionQueue(),
		st:          newState(cfg.OperatorID),
		loopDone:    make(chan struct{}),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.ids == nil {
		s.ids = queue.UUIDv7Generator{}
	}
	s.logger = s.logger.With("operator_id", cfg.OperatorID)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.reconciler = reconcile.New(
		reconcile.FromGateway(s.gw),
		s.applySnapshot,
		reconcile.WithInterval(cfg.ReconcileInterval),
		reconcile.WithLogger(s.logger),
		reconcile.WithErrorHandler(s.escalate),
	)
	s.publisher = presence.New(s.gw, s.pulse, cfg.HeartbeatInterval,
		presence.WithLogger(s.logger),
		presence.OnSent(s.heartbeatSent),
		presence.OnError(s.escalate),
	)
	s.feed = feed.New(s.gw, feedSink{s}, feed.WithLogger(s.logger))
	return s, nil
}

// Start loads the persisted slice, starts the event loop and background
// goroutines, and runs an initial drain and reconciliation when reachable.
func (s *Session) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	if s.closing {
		s.lifeMu.Unlock()
		return ErrClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		s.lifeMu.Unlock()
		return errors.New("session already started")
	}
	s.lifeMu.Unlock()
	fail := func(err error) error {
		s.actions.Close()
		close(s.loopDone)
		return err
	}
	if err := s.load(ctx, &s.st); err != nil {
		return fail(err)
	}
	if err := s.loadPending(ctx, &s.st); err != nil {
		return fail(err)
	}
	s.st.authenticated = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()

	unsubscribe := s.monitor.Subscribe(s.onTransition)
	s.lifeMu.Lock()
	s.unsubscribe = unsubscribe
	s.lifeMu.Unlock()

	if s.cfg.ReconcileInterval > 0 {
		s.spawn(func(ctx context.Context) { _ = s.reconciler.Run(ctx) })
	}
	if s.cfg.HeartbeatInterval > 0 {
		s.spawn(func(ctx context.Context) { _ = s.publisher.Run(ctx) })
	}
	if s.cfg.SweepInterval > 0 {
		s.spawn(s.runSweep)
	}

	s.logger.Info("session started", "event", "session_started", "reachable", s.monitor.Reachable())
	if s.monitor.Reachable() {
		s.spawnSync(false)
	}
	return nil
}

// Close tears the session down: timers stop, the feed is unsubscribed and
// later actions fail with ErrClosed. It is idempotent and waits for every
// background goroutine.
func (s *Session) Close() error {
	s.shutdown()
	s.wg.Wait()
	return nil
}

// Done is closed once the event loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.loopDone
}

// WaitSync blocks until every reconnect or startup sync spawned so far has
// finished.
func (s *Session) WaitSync() {
	s.bgSync.Wait()
}

// State returns a deep copy of the observable tree.
func (s *Session) State() State {
	if !s.started.Load() {
		return s.snapshot(&s.st)
	}
	var out State
	err := s.do(context.Background(), "state", func(st *state) error {
		out = s.snapshot(st)
		return nil
	})
	if err != nil {
		// The loop is gone; nothing writes st any more.
		<-s.loopDone
		return s.snapshot(&s.st)
	}
	return out
}

// shutdown begins teardown without waiting.
func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		s.lifeMu.Lock()
		s.closing = true
		started := s.started.Load()
		unsubscribe := s.unsubscribe
		s.lifeMu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
		s.feed.Stop()
		s.cancel()
		s.actions.Close()
		if !started {
			close(s.loopDone)
		}
		s.logger.Info("session closed", "event", "session_closed")
	})
}

// spawn runs fn on a tracked goroutine unless teardown began.
func (s *Session) spawn(fn func(ctx context.Context)) bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
	return true
}

// spawnSync runs a drain followed by a reconciliation pass in the
// background. With resubscribe the feed is reopened afterwards if the
// operator is on duty.
func (s *Session) spawnSync(resubscribe bool) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.closing {
		return
	}
	s.wg.Add(1)
	s.bgSync.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.bgSync.Done()
		s.sync(s.ctx)
		if resubscribe {
			s.resubscribe(s.ctx)
		}
	}()
}

// escalate tears the session down on authorization failures reported by
// background components.
func (s *Session) escalate(err error) {
	if fault.IsAuthorization(err) {
		s.signOut(err)
	}
}

// signOut handles an authorization fault from any path.
func (s *Session) signOut(cause error) {
	s.signOutOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.do(ctx, "sign_out", func(st *state) error {
			st.authenticated = false
			s.record(st, model.LevelError, "signed_out", "", cause.Error())
			return nil
		})
		s.shutdown()
		if s.onSignedOut != nil {
			s.onSignedOut(cause)
		}
	})
}

// onTransition is the monitor listener. It runs on whichever goroutine fed
// the monitor and must not block.
func (s *Session) onTransition(tr connectivity.Transition) {
	switch {
	case tr.Reconnected:
		s.post("network_online", func(st *state) error {
			s.record(st, model.LevelInfo, "network_online", "", "connectivity restored")
			return nil
		})
		s.spawnSync(true)
	case tr.To == model.HealthOffline:
		s.feed.Stop()
		s.post("network_offline", func(st *state) error {
			s.record(st, model.LevelWarn, "network_offline", "", "connectivity lost")
			return nil
		})
	}
}

// resubscribe reopens the feed after a reconnect if the operator is on duty.
func (s *Session) resubscribe(ctx context.Context) {
	online := false
	if err := s.do(ctx, "duty", func(st *state) error {
		online = st.machine.Duty() == lifecycle.Online
		return nil
	}); err != nil || !online {
		return
	}
	if err := s.feed.Start(ctx); err != nil {
		s.escalate(err)
		s.logger.Warn("feed resubscribe failed", "event", "feed_unavailable", "error", err)
	}
}
