// Package presence publishes the operator's liveness and location.
//
// Pulses are last-writer-wins: a failed pulse is logged and superseded by the
// next one. They are never queued.
package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/fieldsync/internal/model"
)

// DefaultInterval is the heartbeat period.
const DefaultInterval = 15 * time.Second

// Updater sends a pulse to the remote system.
type Updater interface {
	UpdatePresence(ctx context.Context, pulse model.PresencePulse) error
}

// Source returns the pulse to send, and false when the operator is off duty.
type Source func(ctx context.Context) (model.PresencePulse, bool)

// Publisher sends heartbeats while the operator is online.
type Publisher struct {
	gw       Updater
	source   Source
	interval time.Duration
	logger   *slog.Logger
	onSent   func(model.PresencePulse)
	onError  func(error)
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// OnSent is called after every delivered pulse.
func OnSent(fn func(model.PresencePulse)) Option {
	return func(p *Publisher) {
		p.onSent = fn
	}
}

// OnError is called after every failed pulse.
func OnError(fn func(error)) Option {
	return func(p *Publisher) {
		p.onError = fn
	}
}

// New creates a publisher. interval <= 0 disables the ticker in Run.
func New(gw Updater, source Source, interval time.Duration, opts ...Option) *Publisher {
	p := &Publisher{
		gw:       gw,
		source:   source,
		interval: interval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run sends a pulse every interval until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	if p.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Pulse(ctx)
		}
	}
}

// Pulse sends a single heartbeat if the operator is online. It reports
// whether a pulse was delivered.
func (p *Publisher) Pulse(ctx context.Context) bool {
	pulse, online := p.source(ctx)
	if !online {
		return false
	}
	return p.Send(ctx, pulse)
}

// Send delivers pulse regardless of duty. Going offline uses it to announce
// the final offline state.
func (p *Publisher) Send(ctx context.Context, pulse model.PresencePulse) bool {
	if err := p.gw.UpdatePresence(ctx, pulse); err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("presence pulse failed",
				"event", "heartbeat_failed",
				"online", pulse.Online,
				"error", err,
			)
			if p.onError != nil {
				p.onError(err)
			}
		}
		return false
	}
	if p.onSent != nil {
		p.onSent(pulse)
	}
	return true
}
