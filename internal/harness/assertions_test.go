package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/lifecycle"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/session"
)

func sampleState() session.State {
	return session.State{
		Status: lifecycle.StatusAssigned,
		Active: &model.Task{ID: "T-1", Phase: model.PhaseAssigned},
		Feed:   []model.Task{{ID: "T-2"}, {ID: "T-3"}},
		Wallet: model.Wallet{Balance: 500},
		Log: []model.LogEntry{
			{Event: "duty_online"},
			{Event: "offer_accepted", TaskID: "T-1"},
			{Event: "network_offline"},
			{Event: "accept_queued", TaskID: "T-1"},
			{Event: "accept_confirmed", TaskID: "T-1"},
		},
		Notices:    []model.Notice{{Kind: "offer_conflict"}},
		PendingOps: 1,
	}
}

func TestEvaluateExpect_AllMatch(t *testing.T) {
	errs := EvaluateExpect(sampleState(), Expect{
		Status:       "assigned",
		Active:       ptr("T-1"),
		Phase:        "assigned",
		Feed:         []string{"T-2", "T-3"},
		Pending:      ptr(1),
		Balance:      ptr(int64(500)),
		Events:       []string{"offer_accepted T-1", "accept_confirmed"},
		AbsentEvents: []string{"offer_conflict", "accept_queued T-9"},
		Notices:      []string{"offer_conflict"},
	})
	assert.Empty(t, errs)
}

func TestEvaluateExpect_EmptyExpectChecksNothing(t *testing.T) {
	assert.Empty(t, EvaluateExpect(sampleState(), Expect{}))
}

func TestEvaluateExpect_Mismatches(t *testing.T) {
	tests := []struct {
		name   string
		expect Expect
		field  string
	}{
		{"status", Expect{Status: "idle"}, "status"},
		{"active", Expect{Active: ptr("T-2")}, "active"},
		{"no active", Expect{Active: ptr("")}, "active"},
		{"phase", Expect{Phase: "delivering"}, "phase"},
		{"feed order", Expect{Feed: []string{"T-3", "T-2"}}, "feed"},
		{"empty feed", Expect{Feed: []string{}}, "feed"},
		{"pending", Expect{Pending: ptr(0)}, "pending"},
		{"balance", Expect{Balance: ptr(int64(0))}, "balance"},
		{"events order", Expect{Events: []string{"accept_confirmed", "offer_accepted"}}, "events"},
		{"event task", Expect{Events: []string{"accept_queued T-2"}}, "events"},
		{"absent", Expect{AbsentEvents: []string{"network_offline"}}, "absent_events"},
		{"notices", Expect{Notices: []string{}}, "notices"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateExpect(sampleState(), tt.expect)
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], "Assertion failed: "+tt.field)
			assert.Contains(t, errs[0], "[2] offer_accepted T-1", "failure carries the activity log")
		})
	}
}

func TestMatchOrder(t *testing.T) {
	log := sampleState().Log

	missing, ok := matchOrder(log, []string{"duty_online", "accept_queued T-1"})
	assert.True(t, ok)
	assert.Empty(t, missing)

	missing, ok = matchOrder(log, []string{"accept_queued", "network_offline"})
	assert.False(t, ok)
	assert.Equal(t, "network_offline", missing)

	_, ok = matchOrder(log, nil)
	assert.True(t, ok)
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Field:    "phase",
		Expected: "picked_up",
		Actual:   "assigned",
		Log:      []string{"duty_online", "offer_accepted T-1"},
	}
	assert.Equal(t, "Assertion failed: phase\n"+
		"  Expected: picked_up\n"+
		"  Actual: assigned\n"+
		"\nActivity log:\n"+
		"  [1] duty_online\n"+
		"  [2] offer_accepted T-1\n", err.Error())
}
