// Package reconcile periodically pulls an authoritative snapshot from the
// remote system and hands it to the session for application.
//
// The loop never touches local state itself. Apply decides what wins; this
// package only schedules passes, serializes them and reports failures.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/fieldsync/internal/gateway"
	"github.com/roach88/fieldsync/internal/model"
)

// DefaultInterval is the period between passes.
const DefaultInterval = 60 * time.Second

// ErrStale is returned by an ApplyFunc that refused a snapshot older than the
// one already applied. The pass is then a no-op, not a failure.
var ErrStale = errors.New("snapshot older than applied state")

// SnapshotSource produces authoritative snapshots.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (model.Snapshot, error)
}

// SourceFunc adapts a function to SnapshotSource.
type SourceFunc func(ctx context.Context) (model.Snapshot, error)

// Snapshot implements SnapshotSource.
func (f SourceFunc) Snapshot(ctx context.Context) (model.Snapshot, error) {
	return f(ctx)
}

// FromGateway composes snapshots from the gateway's four queries.
func FromGateway(q gateway.Querier) SnapshotSource {
	return SourceFunc(func(ctx context.Context) (model.Snapshot, error) {
		return gateway.Snapshot(ctx, q)
	})
}

// ApplyFunc merges a snapshot into local state.
type ApplyFunc func(ctx context.Context, snap model.Snapshot) error

// Loop runs reconciliation passes on a timer and on demand.
//
// Thread-safety: Trigger and Pass are safe from any goroutine. Passes are
// serialized, so two snapshots are never applied concurrently.
type Loop struct {
	src      SnapshotSource
	apply    ApplyFunc
	interval time.Duration
	logger   *slog.Logger
	onError  func(error)

	mu      sync.Mutex
	trigger chan struct{}
}

// Option configures a Loop.
type Option func(*Loop)

// WithInterval sets the period between passes. Zero or less disables the
// timer; passes then run only on Trigger.
func WithInterval(d time.Duration) Option {
	return func(l *Loop) {
		l.interval = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithErrorHandler is called with every failed pass run by Run.
func WithErrorHandler(fn func(error)) Option {
	return func(l *Loop) {
		l.onError = fn
	}
}

// New creates a loop that feeds snapshots from src into apply.
func New(src SnapshotSource, apply ApplyFunc, opts ...Option) *Loop {
	l := &Loop{
		src:      src,
		apply:    apply,
		interval: DefaultInterval,
		logger:   slog.Default(),
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Trigger requests a pass from Run without blocking. Requests made while
// one is already pending coalesce.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// Run executes passes until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if l.interval > 0 {
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
		case <-l.trigger:
		}
		if err := l.Pass(ctx); err != nil && ctx.Err() == nil && l.onError != nil {
			l.onError(err)
		}
	}
}

// Pass fetches one snapshot and applies it. A fetch failure leaves local
// state untouched. A stale snapshot is discarded and is not an error.
func (l *Loop) Pass(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap, err := l.src.Snapshot(ctx)
	if err != nil {
		l.logger.Warn("reconcile fetch failed",
			"event", "reconcile_failed",
			"error", err,
		)
		return err
	}

	if err := l.apply(ctx, snap); err != nil {
		if errors.Is(err, ErrStale) {
			l.logger.Debug("stale snapshot discarded",
				"event", "reconcile_stale",
				"taken_at", snap.TakenAt,
			)
			return nil
		}
		return err
	}

	l.logger.Debug("snapshot applied",
		"event", "reconcile_applied",
		"taken_at", snap.TakenAt,
		"offers", len(snap.Offers),
		"assigned", len(snap.Assigned),
	)
	return nil
}
