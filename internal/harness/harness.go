package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/fieldsync/internal/connectivity"
	"github.com/roach88/fieldsync/internal/fault"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/queue"
	"github.com/roach88/fieldsync/internal/session"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/testutil"
)

// DefaultOperator is the operator id used when a scenario names none.
const DefaultOperator = "op-harness"

// Harness is the scenario execution engine.
// It runs a real session against an in-memory server with a frozen clock
// and sequential ids, so identical scenarios produce identical state.
type Harness struct {
	session *session.Session
	gateway *testutil.FakeGateway
	monitor *connectivity.Monitor
	clock   *testutil.FakeClock
	logger  *slog.Logger

	// rivals holds tasks another operator takes before our accept.
	rivals map[string]bool
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Seed the fake server with the scenario's offers
// 2. Start a session with every background timer disabled
// 3. Execute steps, checking each expected outcome
// 4. Evaluate the final expectations against the state tree
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	operator := scenario.Operator
	if operator == "" {
		operator = DefaultOperator
	}

	clock := testutil.NewFakeClock(testutil.Epoch)
	gw := testutil.NewFakeGateway(operator, clock.Now)
	for _, o := range scenario.Offers {
		gw.AddOffer(offerTask(o, clock.Now()))
	}

	h := &Harness{
		gateway: gw,
		monitor: connectivity.New(0, !scenario.StartOffline),
		clock:   clock,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		rivals:  make(map[string]bool, len(scenario.Conflicts)),
	}
	for _, id := range scenario.Conflicts {
		h.rivals[id] = true
	}

	cfg := session.DefaultConfig(operator)
	cfg.ReconcileInterval = 0
	cfg.HeartbeatInterval = 0
	cfg.SweepInterval = 0

	s, err := session.New(cfg, session.Deps{
		Gateway: gw,
		Queue: queue.New(st,
			queue.WithClock(clock.Now),
			queue.WithIDGenerator(testutil.NewSequenceGenerator("op")),
			queue.WithLogger(h.logger),
		),
		Store:   st,
		Monitor: h.monitor,
		Clock:   clock.Now,
		Logger:  h.logger,
		IDs:     testutil.NewSequenceGenerator("wd"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	h.session = s
	defer s.Close()

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	s.WaitSync()

	result := NewResult()
	if err := h.executeSteps(ctx, scenario.Steps, result); err != nil {
		return nil, fmt.Errorf("failed to execute steps: %w", err)
	}

	s.WaitSync()
	result.State = s.State()
	for _, errMsg := range EvaluateExpect(result.State, scenario.Expect) {
		result.AddError(errMsg)
	}
	return result, nil
}

// executeSteps runs the flow in order. Step outcomes that differ from the
// expectation are recorded as errors; only harness failures abort the run.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		outcome, err := h.execute(ctx, step)
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Do, err)
		}
		result.AddStep(step, outcome)

		if step.Expect != "" && step.Expect != outcome {
			result.AddError(fmt.Sprintf("step %d (%s %s): expected outcome %q, got %q",
				i, step.Do, step.Task, step.Expect, outcome))
		}
	}
	return nil
}

// execute runs one step and classifies its outcome.
func (h *Harness) execute(ctx context.Context, step Step) (string, error) {
	s := h.session
	switch step.Do {
	case StepNetworkOffline:
		h.monitor.SetReachable(false)
		return OutcomeOK, nil

	case StepNetworkOnline:
		h.monitor.SetReachable(true)
		s.WaitSync()
		return OutcomeOK, nil

	case StepGoOnline:
		return outcomeOf(s.GoOnline(ctx)), nil

	case StepGoOffline:
		return outcomeOf(s.GoOffline(ctx)), nil

	case StepAccept:
		if h.rivals[step.Task] {
			delete(h.rivals, step.Task)
			h.gateway.Take(step.Task)
		}
		return outcomeOf(s.AcceptTask(ctx, step.Task)), nil

	case StepAdvance:
		return outcomeOf(s.AdvancePhase(ctx)), nil

	case StepReconcile:
		return outcomeOf(s.Reconcile(ctx)), nil

	case StepDrain:
		report, err := s.Drain(ctx)
		if err == nil && report.Halted {
			return OutcomeHalted, nil
		}
		return outcomeOf(err), nil

	case StepSweep:
		return outcomeOf(s.Sweep(ctx)), nil

	case StepWithdraw:
		return outcomeOf(s.RequestWithdrawal(ctx, model.Money(step.Amount))), nil

	case StepAdvanceClock:
		h.clock.Advance(step.By)
		return OutcomeOK, nil

	case StepServerAssign:
		if err := h.gateway.Assign(step.Task); err != nil {
			return "", err
		}
		return OutcomeOK, nil

	case StepServerTake:
		h.gateway.Take(step.Task)
		return OutcomeOK, nil
	}
	return "", fmt.Errorf("unknown step %q", step.Do)
}

// outcomeOf maps an action result to a step outcome.
func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if errors.Is(err, session.ErrClosed) {
		return OutcomeClosed
	}
	return string(fault.KindOf(err))
}

// offerTask builds the server-side offer for o.
func offerTask(o OfferSpec, now time.Time) model.Task {
	t := model.Task{
		ID:          o.ID,
		Phase:       model.PhaseOffered,
		BasePayout:  model.Money(o.BasePayout),
		BonusPayout: model.Money(o.Bonus),
		Surge:       1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if o.ExpiresIn > 0 {
		exp := now.Add(o.ExpiresIn)
		t.ExpiresAt = &exp
	}
	return t
}
