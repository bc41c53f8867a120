// Package feed keeps at most one live push subscription open and forwards
// its events to the session.
package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/fieldsync/internal/gateway"
	"github.com/roach88/fieldsync/internal/model"
)

// Sink receives forwarded events. FeedFailed is called once when the
// subscription drops; the subscriber does not retry on its own.
type Sink interface {
	OfferInserted(model.Task)
	OfferUpdated(model.Task)
	WalletChanged(model.Wallet)
	FeedFailed(error)
}

// Subscriber guards a single subscription.
//
// Thread-safety: all methods are safe for concurrent use. Events from a
// subscription that has been stopped or replaced are dropped, so a late
// event from an old connection never reaches the sink.
type Subscriber struct {
	gw     gateway.Streamer
	sink   Sink
	logger *slog.Logger

	mu     sync.Mutex
	sub    gateway.Subscription
	gen    uint64
	active bool
}

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Subscriber) {
		s.logger = logger
	}
}

// New creates a subscriber that forwards to sink.
func New(gw gateway.Streamer, sink Sink, opts ...Option) *Subscriber {
	s := &Subscriber{gw: gw, sink: sink, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the subscription. It is a no-op while one is active.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return nil
	}

	s.gen++
	sub, err := s.gw.Subscribe(ctx, &handler{s: s, gen: s.gen})
	if err != nil {
		return err
	}
	s.sub = sub
	s.active = true
	s.logger.Debug("feed subscribed", "event", "feed_started")
	return nil
}

// Stop closes the subscription. It is a no-op when none is active.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	sub := s.detach()
	s.mu.Unlock()

	sub.Unsubscribe()
	s.logger.Debug("feed unsubscribed", "event", "feed_stopped")
}

// Active reports whether a subscription is open.
func (s *Subscriber) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// detach clears the guard and invalidates the current generation. Caller
// holds mu.
func (s *Subscriber) detach() gateway.Subscription {
	sub := s.sub
	s.sub = nil
	s.active = false
	s.gen++
	return sub
}

// current reports whether gen is the live subscription.
func (s *Subscriber) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && s.gen == gen
}

type handler struct {
	s   *Subscriber
	gen uint64
}

func (h *handler) OnEvent(ev gateway.Event) {
	if !h.s.current(h.gen) {
		return
	}
	switch {
	case ev.Kind == gateway.EventOfferInserted && ev.Task != nil:
		h.s.sink.OfferInserted(ev.Task.Clone())
	case ev.Kind == gateway.EventOfferUpdated && ev.Task != nil:
		h.s.sink.OfferUpdated(ev.Task.Clone())
	case ev.Kind == gateway.EventWalletChanged && ev.Wallet != nil:
		h.s.sink.WalletChanged(ev.Wallet.Clone())
	}
}

func (h *handler) OnError(err error) {
	s := h.s
	s.mu.Lock()
	if !s.active || s.gen != h.gen {
		s.mu.Unlock()
		return
	}
	sub := s.detach()
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	s.logger.Warn("feed dropped", "event", "feed_failed", "error", err)
	s.sink.FeedFailed(err)
}
