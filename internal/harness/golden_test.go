package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/lifecycle"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/session"
)

// Golden files live in testdata/golden. To regenerate them, run:
//
//	go test ./internal/harness -run TestRunWithGolden -update
func TestRunWithGolden_OfflineAcceptConfirmed(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/offline_accept_confirmed.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRunWithGolden_RaceConflict(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/race_conflict.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestSummarize(t *testing.T) {
	result := NewResult()
	result.AddStep(Step{Do: StepGoOnline}, OutcomeOK)
	result.AddStep(Step{Do: StepAccept, Task: "T-1"}, "conflict")
	result.State = session.State{
		Status: lifecycle.StatusPickedUp,
		Active: &model.Task{ID: "T-7", Phase: model.PhasePickedUp, Surge: 1.5},
		Feed:   []model.Task{{ID: "T-8", Surge: 2.25}},
		Wallet: model.Wallet{Balance: 1250},
		Log: []model.LogEntry{
			{Event: "duty_online"},
			{Event: "offer_conflict", TaskID: "T-1"},
		},
		Notices:    []model.Notice{{Kind: "offer_conflict"}},
		PendingOps: 2,
	}

	sum := Summarize("example", result)
	assert.Equal(t, Summary{
		Scenario: "example",
		Steps:    []string{"go_online -> ok", "accept T-1 -> conflict"},
		Status:   "picked_up",
		Active:   "T-7",
		Phase:    "picked_up",
		Feed:     []string{"T-8"},
		Pending:  2,
		Balance:  1250,
		Events:   []string{"duty_online", "offer_conflict T-1"},
		Notices:  []string{"offer_conflict"},
	}, sum)

	// Surge multipliers are floats; the summary must still serialize
	// canonically.
	data, err := model.MarshalCanonical(sum)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"steps":["go_online -> ok","accept T-1 -> conflict"]`)
}

func TestSummarize_EmptyStateHasNoNulls(t *testing.T) {
	result := NewResult()
	result.State = session.State{Status: lifecycle.StatusOffline}

	data, err := model.MarshalCanonical(Summarize("empty", result))
	require.NoError(t, err)
	assert.Equal(t,
		`{"active":"","balance":0,"events":[],"feed":[],"notices":[],"pending":0,"phase":"","scenario":"empty","status":"offline","steps":[]}`,
		string(data))
}
