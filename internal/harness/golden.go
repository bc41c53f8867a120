package harness

import (
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/fieldsync/internal/model"
)

// Summary is the compact, deterministic view of a scenario run that golden
// files capture. It holds no floats and no timestamps, so it serializes
// through the canonical encoder.
type Summary struct {
	Scenario string   `json:"scenario"`
	Steps    []string `json:"steps"`
	Status   string   `json:"status"`
	Active   string   `json:"active"`
	Phase    string   `json:"phase"`
	Feed     []string `json:"feed"`
	Pending  int      `json:"pending"`
	Balance  int64    `json:"balance"`
	Events   []string `json:"events"`
	Notices  []string `json:"notices"`
}

// Summarize reduces a result to its golden summary.
func Summarize(name string, result *Result) Summary {
	st := result.State
	sum := Summary{
		Scenario: name,
		Steps:    make([]string, 0, len(result.Trace)),
		Status:   string(st.Status),
		Feed:     st.FeedIDs(),
		Pending:  st.PendingOps,
		Balance:  int64(st.Wallet.Balance),
		Events:   eventLabels(st.Log),
		Notices:  make([]string, 0, len(st.Notices)),
	}
	if st.Active != nil {
		sum.Active = st.Active.ID
		sum.Phase = string(st.Active.Phase)
	}
	for _, ev := range result.Trace {
		step := ev.Do
		if ev.Task != "" {
			step += " " + ev.Task
		}
		sum.Steps = append(sum.Steps, fmt.Sprintf("%s -> %s", step, ev.Outcome))
	}
	for _, n := range st.Notices {
		sum.Notices = append(sum.Notices, n.Kind)
	}
	return sum
}

// RunWithGolden executes a scenario and compares its summary against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can make further assertions; test failure
// (via goldie) occurs if the summary doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's summary against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := model.MarshalCanonical(Summarize(scenarioName, result))
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
