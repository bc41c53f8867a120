package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/session"
)

// AssertionError is returned when an expectation fails.
// It includes the activity log to help debug the failure.
type AssertionError struct {
	Field    string   // Expectation that failed
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Log      []string // Activity log for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Field)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nActivity log:\n")
	for i, entry := range e.Log {
		fmt.Fprintf(&buf, "  [%d] %s\n", i+1, entry)
	}
	return buf.String()
}

// EvaluateExpect checks the final state against exp and returns one message
// per failed expectation.
func EvaluateExpect(st session.State, exp Expect) []string {
	log := eventLabels(st.Log)
	var errs []string
	fail := func(field, expected, actual string) {
		errs = append(errs, (&AssertionError{
			Field:    field,
			Expected: expected,
			Actual:   actual,
			Log:      log,
		}).Error())
	}

	if exp.Status != "" && exp.Status != string(st.Status) {
		fail("status", exp.Status, string(st.Status))
	}

	activeID, phase := "", ""
	if st.Active != nil {
		activeID, phase = st.Active.ID, string(st.Active.Phase)
	}
	if exp.Active != nil && *exp.Active != activeID {
		fail("active", describeID(*exp.Active), describeID(activeID))
	}
	if exp.Phase != "" && exp.Phase != phase {
		fail("phase", exp.Phase, describeID(phase))
	}

	if exp.Feed != nil && !slices.Equal(exp.Feed, st.FeedIDs()) {
		fail("feed", fmt.Sprint(exp.Feed), fmt.Sprint(st.FeedIDs()))
	}
	if exp.Pending != nil && *exp.Pending != st.PendingOps {
		fail("pending", fmt.Sprint(*exp.Pending), fmt.Sprint(st.PendingOps))
	}
	if exp.Balance != nil && model.Money(*exp.Balance) != st.Wallet.Balance {
		fail("balance", model.Money(*exp.Balance).String(), st.Wallet.Balance.String())
	}

	if len(exp.Events) > 0 {
		if missing, ok := matchOrder(st.Log, exp.Events); !ok {
			fail("events", fmt.Sprintf("%v in order", exp.Events), fmt.Sprintf("%q not found after its predecessors", missing))
		}
	}
	for _, absent := range exp.AbsentEvents {
		for _, e := range st.Log {
			if matchEvent(e, absent) {
				fail("absent_events", fmt.Sprintf("no %q", absent), fmt.Sprintf("%q at %s", labelOf(e), e.At.Format("15:04:05")))
				break
			}
		}
	}

	if exp.Notices != nil {
		kinds := make([]string, 0, len(st.Notices))
		for _, n := range st.Notices {
			kinds = append(kinds, n.Kind)
		}
		if !slices.Equal(exp.Notices, kinds) {
			fail("notices", fmt.Sprint(exp.Notices), fmt.Sprint(kinds))
		}
	}
	return errs
}

// matchOrder checks that want appears in log as a subsequence.
// Intervening entries are allowed. It returns the first entry not found.
func matchOrder(log []model.LogEntry, want []string) (string, bool) {
	next := 0
	for _, e := range log {
		if next < len(want) && matchEvent(e, want[next]) {
			next++
		}
	}
	if next < len(want) {
		return want[next], false
	}
	return "", true
}

// matchEvent reports whether pattern names e. A pattern is either the bare
// event name or the event name and task id separated by a space.
func matchEvent(e model.LogEntry, pattern string) bool {
	return pattern == e.Event || pattern == labelOf(e)
}

func labelOf(e model.LogEntry) string {
	if e.TaskID == "" {
		return e.Event
	}
	return e.Event + " " + e.TaskID
}

func eventLabels(log []model.LogEntry) []string {
	out := make([]string, 0, len(log))
	for _, e := range log {
		out = append(out, labelOf(e))
	}
	return out
}

func describeID(id string) string {
	if id == "" {
		return "(none)"
	}
	return id
}
