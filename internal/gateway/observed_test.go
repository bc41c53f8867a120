package gateway

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/fieldsync/internal/connectivity"
	"github.com/roach88/fieldsync/internal/fault"
	"github.com/roach88/fieldsync/internal/model"
)

type outcomeLog []connectivity.Outcome

func (l *outcomeLog) Record(o connectivity.Outcome) { *l = append(*l, o) }

// stubGateway fails every call with err.
type stubGateway struct{ err error }

func (s stubGateway) FetchOffers(context.Context) ([]model.Task, time.Time, error) {
	return nil, time.Time{}, s.err
}
func (s stubGateway) FetchAssignments(context.Context) ([]model.Task, error) { return nil, s.err }
func (s stubGateway) FetchStats(context.Context) (model.OperatorStats, error) {
	return model.OperatorStats{}, s.err
}
func (s stubGateway) FetchWallet(context.Context) (model.Wallet, error) { return model.Wallet{}, s.err }
func (s stubGateway) AcceptTask(context.Context, string, string) (model.Task, error) {
	return model.Task{}, s.err
}
func (s stubGateway) AdvancePhase(context.Context, string, string, model.Phase, model.Phase) (model.Task, error) {
	return model.Task{}, s.err
}
func (s stubGateway) RequestWithdrawal(context.Context, string, string, model.Money) error {
	return s.err
}
func (s stubGateway) UpdatePresence(context.Context, model.PresencePulse) error { return s.err }
func (s stubGateway) Subscribe(context.Context, Handler) (Subscription, error) { return nil, s.err }

func TestObserved_MapsOutcomes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []connectivity.Outcome
	}{
		{"success", nil, []connectivity.Outcome{connectivity.Success}},
		{"conflict", fault.New(fault.Conflict, "accept_task", "taken"), []connectivity.Outcome{connectivity.Conflict}},
		{"transient", fault.New(fault.Transient, "accept_task", "HTTP 503"), []connectivity.Outcome{connectivity.Failure}},
		{"timeout", fault.Wrap(fault.Transient, "accept_task", fmt.Errorf("dial: %w", context.DeadlineExceeded)), []connectivity.Outcome{connectivity.Timeout}},
		{"validation", fault.New(fault.Validation, "accept_task", "bad"), nil},
		{"authorization", fault.New(fault.Authorization, "accept_task", "expired"), nil},
		{"cancelled", context.Canceled, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var log outcomeLog
			g := Observed(stubGateway{err: tt.err}, &log)

			_, _ = g.AcceptTask(context.Background(), "k", "t-1")
			assert.Equal(t, tt.want, []connectivity.Outcome(log))
		})
	}
}

func TestObserved_RecordsEveryCall(t *testing.T) {
	var log outcomeLog
	g := Observed(stubGateway{}, &log)
	ctx := context.Background()

	_, _, _ = g.FetchOffers(ctx)
	_, _ = g.FetchAssignments(ctx)
	_, _ = g.FetchStats(ctx)
	_, _ = g.FetchWallet(ctx)
	_, _ = g.AdvancePhase(ctx, "k", "t", model.PhaseAssigned, model.PhasePickedUp)
	_ = g.RequestWithdrawal(ctx, "k", "r", 1)
	_ = g.UpdatePresence(ctx, model.PresencePulse{})
	_, _ = g.Subscribe(ctx, nil)

	assert.Len(t, log, 8)
}

func TestObserved_FeedsMonitor(t *testing.T) {
	mon := connectivity.New(2, true)
	g := Observed(stubGateway{}, mon)

	_, _ = g.FetchStats(context.Background())
	_, _ = g.FetchStats(context.Background())
	assert.Equal(t, model.HealthStable, mon.Health())
}
