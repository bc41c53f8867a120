package gateway

import (
	"context"
	"time"

	"github.com/roach88/fieldsync/internal/connectivity"
	"github.com/roach88/fieldsync/internal/fault"
	"github.com/roach88/fieldsync/internal/model"
)

// Recorder receives the outcome of each remote call.
type Recorder interface {
	Record(connectivity.Outcome)
}

// observed decorates a Gateway, feeding every call outcome to a Recorder.
type observed struct {
	next Gateway
	rec  Recorder
}

// Observed wraps g so the connectivity monitor sees every outcome.
//
// Validation and authorization failures say nothing about link quality and
// cancelled calls never completed, so none of those are recorded.
func Observed(g Gateway, rec Recorder) Gateway {
	return &observed{next: g, rec: rec}
}

func (o *observed) record(err error) {
	switch {
	case err == nil:
		o.rec.Record(connectivity.Success)
	case fault.IsCancelled(err):
	case isTimeout(err):
		o.rec.Record(connectivity.Timeout)
	case fault.IsConflict(err):
		o.rec.Record(connectivity.Conflict)
	case fault.IsTransient(err):
		o.rec.Record(connectivity.Failure)
	}
}

func (o *observed) FetchOffers(ctx context.Context) ([]model.Task, time.Time, error) {
	tasks, at, err := o.next.FetchOffers(ctx)
	o.record(err)
	return tasks, at, err
}

func (o *observed) FetchAssignments(ctx context.Context) ([]model.Task, error) {
	tasks, err := o.next.FetchAssignments(ctx)
	o.record(err)
	return tasks, err
}

func (o *observed) FetchStats(ctx context.Context) (model.OperatorStats, error) {
	s, err := o.next.FetchStats(ctx)
	o.record(err)
	return s, err
}

func (o *observed) FetchWallet(ctx context.Context) (model.Wallet, error) {
	w, err := o.next.FetchWallet(ctx)
	o.record(err)
	return w, err
}

func (o *observed) AcceptTask(ctx context.Context, key, taskID string) (model.Task, error) {
	t, err := o.next.AcceptTask(ctx, key, taskID)
	o.record(err)
	return t, err
}

func (o *observed) AdvancePhase(ctx context.Context, key, taskID string, from, to model.Phase) (model.Task, error) {
	t, err := o.next.AdvancePhase(ctx, key, taskID, from, to)
	o.record(err)
	return t, err
}

func (o *observed) RequestWithdrawal(ctx context.Context, key, requestID string, amount model.Money) error {
	err := o.next.RequestWithdrawal(ctx, key, requestID, amount)
	o.record(err)
	return err
}

func (o *observed) UpdatePresence(ctx context.Context, pulse model.PresencePulse) error {
	err := o.next.UpdatePresence(ctx, pulse)
	o.record(err)
	return err
}

func (o *observed) Subscribe(ctx context.Context, h Handler) (Subscription, error) {
	sub, err := o.next.Subscribe(ctx, h)
	o.record(err)
	return sub, err
}
