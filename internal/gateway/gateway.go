// Package gateway is the single choke point for all calls to the remote
// system: queries, mutations and push subscriptions.
//
// The gateway is pure I/O. It applies no business rules and does not
// interpret conflict responses beyond tagging them with a fault.Kind.
// Loosely typed payloads are validated against an embedded CUE schema and
// narrowed into model types before they leave this package.
package gateway

import (
	"context"
	"time"

	"github.com/roach88/fieldsync/internal/model"
)

// Querier reads authoritative snapshots.
type Querier interface {
	// FetchOffers returns open offers and the server-issued snapshot time.
	FetchOffers(ctx context.Context) ([]model.Task, time.Time, error)
	// FetchAssignments returns non-terminal tasks assigned to this operator.
	FetchAssignments(ctx context.Context) ([]model.Task, error)
	FetchStats(ctx context.Context) (model.OperatorStats, error)
	FetchWallet(ctx context.Context) (model.Wallet, error)
}

// Mutator issues idempotency-safe mutations. key is sent as the
// Idempotency-Key; deduplication is the server's responsibility.
type Mutator interface {
	AcceptTask(ctx context.Context, key, taskID string) (model.Task, error)
	AdvancePhase(ctx context.Context, key, taskID string, from, to model.Phase) (model.Task, error)
	RequestWithdrawal(ctx context.Context, key, requestID string, amount model.Money) error
	UpdatePresence(ctx context.Context, pulse model.PresencePulse) error
}

// Streamer opens push subscriptions.
type Streamer interface {
	Subscribe(ctx context.Context, h Handler) (Subscription, error)
}

// Gateway is the full remote surface.
type Gateway interface {
	Querier
	Mutator
	Streamer
}

// EventKind identifies a push event.
type EventKind string

const (
	EventOfferInserted EventKind = "offer.insert"
	EventOfferUpdated  EventKind = "offer.update"
	EventWalletChanged EventKind = "wallet.change"
)

// Event is one narrowed push event. Exactly one of Task or Wallet is set.
type Event struct {
	Kind   EventKind
	Task   *model.Task
	Wallet *model.Wallet
}

// Handler receives push events. OnError is called at most once per
// subscription, after which no further events are delivered.
type Handler interface {
	OnEvent(Event)
	OnError(error)
}

// Subscription is an open push channel. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}
