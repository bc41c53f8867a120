package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines an end-to-end session scenario.
// A scenario seeds the fake server, drives a real session through a flow of
// operator and network steps, and asserts on the resulting state tree.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Operator is the operator id. Defaults to DefaultOperator.
	Operator string `yaml:"operator,omitempty"`

	// Offers are published on the fake server before the session starts.
	Offers []OfferSpec `yaml:"offers"`

	// Conflicts lists tasks another operator wins. The rival's accept lands
	// on the server immediately before this operator's accept step for the
	// same task, so the local feed still shows the offer.
	Conflicts []string `yaml:"conflicts,omitempty"`

	// StartOffline starts the session with the network unreachable.
	StartOffline bool `yaml:"start_offline,omitempty"`

	// Steps is the flow, executed in order.
	Steps []Step `yaml:"steps"`

	// Expect validates the final state.
	Expect Expect `yaml:"expect"`
}

// OfferSpec seeds one open offer.
type OfferSpec struct {
	ID         string        `yaml:"id"`
	BasePayout int64         `yaml:"base_payout"`
	Bonus      int64         `yaml:"bonus,omitempty"`
	ExpiresIn  time.Duration `yaml:"expires_in,omitempty"`
}

// Step is one action in the flow.
type Step struct {
	// Do names the step. See the Step* constants.
	Do string `yaml:"do"`

	// Task is the task id for accept, server_assign and server_take.
	Task string `yaml:"task,omitempty"`

	// Amount is the withdrawal amount in cents.
	Amount int64 `yaml:"amount,omitempty"`

	// By is the clock advance for advance_clock.
	By time.Duration `yaml:"by,omitempty"`

	// Expect is the expected outcome: ok, halted, or a fault kind.
	// Empty skips the check.
	Expect string `yaml:"expect,omitempty"`
}

// Expect describes the final state. Unset fields are not checked.
type Expect struct {
	// Status is the lifecycle status (offline, idle, assigned, ...).
	Status string `yaml:"status,omitempty"`

	// Active is the active task id; an empty string asserts no active task.
	Active *string `yaml:"active,omitempty"`

	// Phase is the phase of the active task.
	Phase string `yaml:"phase,omitempty"`

	// Feed lists the visible offer ids in order.
	Feed []string `yaml:"feed,omitempty"`

	// Pending is the queue length.
	Pending *int `yaml:"pending,omitempty"`

	// Balance is the wallet balance in cents.
	Balance *int64 `yaml:"balance,omitempty"`

	// Events must appear in the activity log in this order, not
	// necessarily adjacent. An entry matches "event" or "event task".
	Events []string `yaml:"events,omitempty"`

	// AbsentEvents must not appear in the activity log.
	AbsentEvents []string `yaml:"absent_events,omitempty"`

	// Notices lists the kinds of the live notices in order.
	Notices []string `yaml:"notices,omitempty"`
}

// Step names.
const (
	StepNetworkOffline = "network_offline"
	StepNetworkOnline  = "network_online"
	StepGoOnline       = "go_online"
	StepGoOffline      = "go_offline"
	StepAccept         = "accept"
	StepAdvance        = "advance"
	StepReconcile      = "reconcile"
	StepDrain          = "drain"
	StepSweep          = "sweep"
	StepWithdraw       = "withdraw"
	StepAdvanceClock   = "advance_clock"
	StepServerAssign   = "server_assign"
	StepServerTake     = "server_take"
)

// Step outcomes besides fault kinds.
const (
	OutcomeOK     = "ok"
	OutcomeHalted = "halted"
	OutcomeClosed = "closed"
)

var knownOutcomes = map[string]bool{
	OutcomeOK:       true,
	OutcomeHalted:   true,
	OutcomeClosed:   true,
	"transient":     true,
	"conflict":      true,
	"validation":    true,
	"authorization": true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// LoadScenarios loads every *.yaml scenario in dir, ordered by file name.
// Scenario names must be unique because they name golden files.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list scenarios: %w", err)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if prev, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("scenario %q defined in both %s and %s", s.Name, prev, filepath.Base(path))
		}
		seen[s.Name] = filepath.Base(path)
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "step:" vs "steps:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	seen := make(map[string]bool, len(s.Offers))
	for i, o := range s.Offers {
		if o.ID == "" {
			return fmt.Errorf("offers[%d]: id is required", i)
		}
		if seen[o.ID] {
			return fmt.Errorf("offers[%d]: duplicate id %q", i, o.ID)
		}
		seen[o.ID] = true
		if o.BasePayout < 0 || o.Bonus < 0 {
			return fmt.Errorf("offers[%d]: payouts must be non-negative", i)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	return nil
}

// validateStep validates a single step based on its kind.
func validateStep(index int, step Step) error {
	switch step.Do {
	case "":
		return fmt.Errorf("steps[%d]: do is required", index)
	case StepAccept, StepServerAssign, StepServerTake:
		if step.Task == "" {
			return fmt.Errorf("steps[%d]: task is required for %s", index, step.Do)
		}
	case StepWithdraw:
		if step.Amount == 0 {
			return fmt.Errorf("steps[%d]: amount is required for withdraw", index)
		}
	case StepAdvanceClock:
		if step.By <= 0 {
			return fmt.Errorf("steps[%d]: by must be positive for advance_clock", index)
		}
	case StepNetworkOffline, StepNetworkOnline, StepGoOnline, StepGoOffline,
		StepAdvance, StepReconcile, StepDrain, StepSweep:
	default:
		return fmt.Errorf("steps[%d]: unknown step %q", index, step.Do)
	}

	if step.Expect != "" && !knownOutcomes[step.Expect] {
		return fmt.Errorf("steps[%d]: unknown expected outcome %q", index, step.Expect)
	}
	return nil
}
