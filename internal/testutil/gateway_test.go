package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/fault"
	"github.com/roach88/fieldsync/internal/gateway"
	"github.com/roach88/fieldsync/internal/model"
)

type handlerFuncs struct {
	events []gateway.Event
	errs   []error
}

func (h *handlerFuncs) OnEvent(ev gateway.Event) { h.events = append(h.events, ev) }
func (h *handlerFuncs) OnError(err error)        { h.errs = append(h.errs, err) }

func TestFakeGateway_AcceptArbitratesOwnership(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	f := NewFakeGateway("op-1", clock.Now)
	f.AddOffer(model.Task{ID: "t-1", BasePayout: 1000})
	f.AddOffer(model.Task{ID: "t-2", BasePayout: 500})
	f.Take("t-2")
	ctx := context.Background()

	task, err := f.AcceptTask(ctx, "k1", "t-1")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseAssigned, task.Phase)
	assert.Equal(t, "op-1", task.AssignedTo)

	again, err := f.AcceptTask(ctx, "k1", "t-1")
	require.NoError(t, err, "same idempotency key returns the first result")
	assert.Equal(t, task, again)

	_, err = f.AcceptTask(ctx, "k2", "t-1")
	assert.True(t, fault.IsConflict(err))

	_, err = f.AcceptTask(ctx, "k3", "t-2")
	assert.True(t, fault.IsConflict(err))

	offers, takenAt, err := f.FetchOffers(ctx)
	require.NoError(t, err)
	assert.Empty(t, offers)
	assert.Equal(t, Epoch, takenAt)
}

func TestFakeGateway_DeliveryCreditsWallet(t *testing.T) {
	f := NewFakeGateway("op-1", NewFakeClock(time.Time{}).Now)
	f.AddOffer(model.Task{ID: "t-1", BasePayout: 1000, BonusPayout: 150, Surge: 1.5})
	ctx := context.Background()

	require.NoError(t, f.Assign("t-1"))
	steps := []model.Phase{model.PhaseAssigned, model.PhasePickedUp, model.PhaseDelivering, model.PhaseDelivered}
	for i := 0; i+1 < len(steps); i++ {
		_, err := f.AdvancePhase(ctx, string(steps[i+1]), "t-1", steps[i], steps[i+1])
		require.NoError(t, err)
	}

	wallet, err := f.FetchWallet(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Money(1650), wallet.Balance)

	assigned, err := f.FetchAssignments(ctx)
	require.NoError(t, err)
	assert.Empty(t, assigned, "delivered tasks are terminal")

	stats, err := f.FetchStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CompletedToday)
}

func TestFakeGateway_Failures(t *testing.T) {
	f := NewFakeGateway("op-1", nil)
	ctx := context.Background()

	f.FailNext(errors.New("boom"))
	_, err := f.FetchStats(ctx)
	assert.EqualError(t, err, "boom")
	_, err = f.FetchStats(ctx)
	assert.NoError(t, err)

	f.SetDown(true)
	_, err = f.FetchStats(ctx)
	assert.True(t, fault.IsTransient(err))
	assert.Equal(t, 3, f.CallCount("FetchStats"))
}

func TestFakeGateway_Subscriptions(t *testing.T) {
	f := NewFakeGateway("op-1", nil)
	h := &handlerFuncs{}

	sub, err := f.Subscribe(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Subscribers())

	f.Publish(gateway.Event{Kind: gateway.EventOfferInserted, Task: &model.Task{ID: "t-9"}})
	require.Len(t, h.events, 1)

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Zero(t, f.Subscribers())

	f.Publish(gateway.Event{Kind: gateway.EventOfferInserted})
	assert.Len(t, h.events, 1)

	_, err = f.Subscribe(context.Background(), h)
	require.NoError(t, err)
	f.DropSubscriptions(errors.New("gone"))
	assert.Len(t, h.errs, 1)
	assert.Zero(t, f.Subscribers())
}
