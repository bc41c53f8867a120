package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/fault"
	"github.com/roach88/fieldsync/internal/model"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func offer(id string) model.Task {
	exp := now.Add(time.Minute)
	return model.Task{ID: id, Phase: model.PhaseOffered, BasePayout: 1000, Surge: 1.5, BonusPayout: 100, ExpiresAt: &exp}
}

func TestMachine_StatusDerivation(t *testing.T) {
	m := New()
	assert.Equal(t, StatusOffline, m.Status())

	m.GoOnline()
	assert.Equal(t, StatusIdle, m.Status())

	require.NoError(t, m.Accept(offer("t-1"), now))
	assert.Equal(t, StatusAssigned, m.Status())

	m.GoOffline()
	assert.Equal(t, StatusOffline, m.Status())
	require.NotNil(t, m.Active(), "going offline keeps the active task")
}

func TestMachine_FullLifecycle(t *testing.T) {
	m := New()
	m.GoOnline()
	require.NoError(t, m.Accept(offer("t-1"), now))

	want := []struct{ from, to model.Phase }{
		{model.PhaseAssigned, model.PhasePickedUp},
		{model.PhasePickedUp, model.PhaseDelivering},
		{model.PhaseDelivering, model.PhaseDelivered},
	}
	var last Step
	for _, w := range want {
		step, err := m.Advance(now)
		require.NoError(t, err)
		assert.Equal(t, "t-1", step.TaskID)
		assert.Equal(t, w.from, step.From)
		assert.Equal(t, w.to, step.To)
		last = step
	}

	require.NotNil(t, last.Payout)
	assert.Equal(t, model.Money(1600), last.Payout.Amount)
	assert.True(t, last.Payout.Provisional)
	assert.Equal(t, "t-1", last.Payout.TaskID)
	assert.Nil(t, m.Active())
	assert.Equal(t, StatusIdle, m.Status())
}

func TestMachine_AtMostOneActiveTask(t *testing.T) {
	m := New()
	m.GoOnline()
	require.NoError(t, m.Accept(offer("t-1"), now))

	err := m.Accept(offer("t-2"), now)
	require.Error(t, err)
	assert.True(t, fault.IsValidation(err))
	assert.Equal(t, "t-1", m.Active().ID, "state unchanged on rejection")
}

func TestMachine_AcceptRejections(t *testing.T) {
	expired := offer("t-x")
	past := now.Add(-time.Second)
	expired.ExpiresAt = &past

	notOffered := offer("t-y")
	notOffered.Phase = model.PhaseAssigned

	tests := []struct {
		name   string
		online bool
		task   model.Task
	}{
		{"off duty", false, offer("t-1")},
		{"expired", true, expired},
		{"not offered", true, notOffered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			if tt.online {
				m.GoOnline()
			}
			err := m.Accept(tt.task, now)
			assert.True(t, fault.IsValidation(err))
			assert.Nil(t, m.Active())
		})
	}
}

func TestMachine_AdvanceWithoutTask(t *testing.T) {
	m := New()
	_, err := m.Advance(now)
	assert.True(t, fault.IsValidation(err))
}

func TestMachine_AdvanceAllowedOffDuty(t *testing.T) {
	m := New()
	m.GoOnline()
	require.NoError(t, m.Accept(offer("t-1"), now))
	m.GoOffline()

	step, err := m.Advance(now)
	require.NoError(t, err)
	assert.Equal(t, model.PhasePickedUp, step.To)
}

func TestMachine_RollbackAndReplace(t *testing.T) {
	m := New()
	m.GoOnline()
	require.NoError(t, m.Accept(offer("t-1"), now))

	assert.False(t, m.Rollback("t-2"))
	assert.True(t, m.Rollback("t-1"))
	assert.Nil(t, m.Active())

	server := offer("t-3")
	server.Phase = model.PhaseDelivering
	m.Replace(&server)
	assert.Equal(t, StatusDelivering, m.Status())

	server.Phase = model.PhaseCancelled
	m.Replace(&server)
	assert.Nil(t, m.Active(), "terminal tasks never occupy the slot")

	m.Replace(&model.Task{ID: "t-4", Phase: model.PhaseAssigned})
	m.Clear()
	assert.Nil(t, m.Active())
}

func TestMachine_ActiveIsACopy(t *testing.T) {
	m := New()
	m.GoOnline()
	require.NoError(t, m.Accept(offer("t-1"), now))

	a := m.Active()
	a.Phase = model.PhaseDelivered
	*a.ExpiresAt = now.Add(time.Hour)

	assert.Equal(t, model.PhaseAssigned, m.Active().Phase)
	assert.Equal(t, now.Add(time.Minute), *m.Active().ExpiresAt)
}

func TestMachine_Revert(t *testing.T) {
	t.Run("restores the previous phase", func(t *testing.T) {
		m := New()
		m.GoOnline()
		require.NoError(t, m.Accept(offer("t-1"), now))

		step, err := m.Advance(now.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, model.PhaseAssigned, step.Task.Phase)

		assert.True(t, m.Revert(step))
		require.NotNil(t, m.Active())
		assert.Equal(t, model.PhaseAssigned, m.Active().Phase)
		assert.Equal(t, now, m.Active().UpdatedAt)

		assert.False(t, m.Revert(step), "already undone")
	})

	t.Run("reinstates a refused delivery", func(t *testing.T) {
		m := New()
		m.GoOnline()
		require.NoError(t, m.Accept(offer("t-1"), now))
		var step Step
		for range 3 {
			var err error
			step, err = m.Advance(now)
			require.NoError(t, err)
		}
		require.Nil(t, m.Active())

		assert.True(t, m.Revert(step))
		require.NotNil(t, m.Active())
		assert.Equal(t, "t-1", m.Active().ID)
		assert.Equal(t, StatusDelivering, m.Status())
	})

	t.Run("leaves another task alone", func(t *testing.T) {
		m := New()
		m.GoOnline()
		require.NoError(t, m.Accept(offer("t-1"), now))
		for range 3 {
			_, err := m.Advance(now)
			require.NoError(t, err)
		}
		delivered := Step{TaskID: "t-1", From: model.PhaseDelivering, To: model.PhaseDelivered}
		require.NoError(t, m.Accept(offer("t-2"), now))

		assert.False(t, m.Revert(delivered))
		assert.Equal(t, "t-2", m.Active().ID)
		assert.False(t, m.Revert(Step{TaskID: "t-2", From: model.PhasePickedUp, To: model.PhaseDelivering}),
			"phase does not match the step")
		assert.Equal(t, model.PhaseAssigned, m.Active().Phase)
	})
}
