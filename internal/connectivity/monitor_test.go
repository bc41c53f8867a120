package connectivity

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/model"
)

func TestMonitor_InitialState(t *testing.T) {
	assert.Equal(t, model.HealthOffline, New(3, false).Health())
	assert.Equal(t, model.HealthDegraded, New(3, true).Health(), "stable needs evidence")
	assert.True(t, New(0, true).Reachable())
}

func TestMonitor_StableRequiresWindowOfSuccesses(t *testing.T) {
	m := New(3, true)

	m.Record(Success)
	m.Record(Success)
	assert.Equal(t, model.HealthDegraded, m.Health())

	m.Record(Success)
	assert.Equal(t, model.HealthStable, m.Health())
}

func TestMonitor_SingleBadOutcomeDegrades(t *testing.T) {
	for _, bad := range []Outcome{Failure, Timeout, Conflict} {
		t.Run(bad.String(), func(t *testing.T) {
			m := New(3, true)
			for i := 0; i < 3; i++ {
				m.Record(Success)
			}
			require.Equal(t, model.HealthStable, m.Health())

			m.Record(bad)
			assert.Equal(t, model.HealthDegraded, m.Health())

			// Recovers only after a full window of successes.
			m.Record(Success)
			m.Record(Success)
			assert.Equal(t, model.HealthDegraded, m.Health())
			m.Record(Success)
			assert.Equal(t, model.HealthStable, m.Health())
		})
	}
}

func TestMonitor_PlatformOfflineForcesOffline(t *testing.T) {
	m := New(3, true)
	for i := 0; i < 3; i++ {
		m.Record(Success)
	}

	m.SetReachable(false)
	assert.Equal(t, model.HealthOffline, m.Health())
	assert.False(t, m.Reachable())

	m.Record(Success)
	m.Record(Success)
	m.Record(Success)
	assert.Equal(t, model.HealthOffline, m.Health(), "outcomes ignored while offline")
}

func TestMonitor_ReconnectedOnlyFromOffline(t *testing.T) {
	m := New(3, false)

	var got []Transition
	m.Subscribe(func(tr Transition) { got = append(got, tr) })

	m.SetReachable(true)
	m.Record(Failure)
	m.Record(Success)
	m.Record(Success)
	m.Record(Success)
	m.Record(Timeout)

	require.Len(t, got, 3)
	assert.Equal(t, Transition{From: model.HealthOffline, To: model.HealthDegraded, Reconnected: true}, got[0])
	assert.Equal(t, Transition{From: model.HealthDegraded, To: model.HealthStable}, got[1])
	assert.Equal(t, Transition{From: model.HealthStable, To: model.HealthDegraded}, got[2])

	for _, tr := range got[1:] {
		assert.False(t, tr.Reconnected, "degraded/stable changes never trigger a drain")
	}
}

func TestMonitor_DuplicatePlatformEventIsIgnored(t *testing.T) {
	m := New(3, true)
	calls := 0
	m.Subscribe(func(Transition) { calls++ })

	m.SetReachable(true)
	assert.Equal(t, 0, calls)
}

func TestMonitor_Unsubscribe(t *testing.T) {
	m := New(3, false)
	calls := 0
	unsubscribe := m.Subscribe(func(Transition) { calls++ })

	m.SetReachable(true)
	unsubscribe()
	m.SetReachable(false)

	assert.Equal(t, 1, calls)
}

func TestMonitor_ListenerMayQueryMonitor(t *testing.T) {
	m := New(3, false)
	var health model.ConnectionHealth
	m.Subscribe(func(Transition) { health = m.Health() })

	m.SetReachable(true)
	assert.Equal(t, model.HealthDegraded, health)
}

func TestMonitor_ConcurrentRecord(t *testing.T) {
	m := New(3, true)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Record(Success)
		}()
	}
	wg.Wait()
	assert.Equal(t, model.HealthStable, m.Health())
}
