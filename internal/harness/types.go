package harness

import "github.com/roach88/fieldsync/internal/session"

// TraceEvent records one executed step and its outcome.
type TraceEvent struct {
	Seq     int    `json:"seq"`
	Do      string `json:"do"`
	Task    string `json:"task,omitempty"`
	Outcome string `json:"outcome"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every step and final expectation
	// matched.
	Pass bool `json:"pass"`

	// Trace contains the executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the session state after the last step.
	State session.State `json:"state"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep appends a step to the trace.
func (r *Result) AddStep(step Step, outcome string) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:     len(r.Trace) + 1,
		Do:      step.Do,
		Task:    step.Task,
		Outcome: outcome,
	})
}
