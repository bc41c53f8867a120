// Package lifecycle holds the operator's duty state and the lifecycle of the
// single active task.
//
// The machine is a plain value owned by the session's event loop. It is not
// safe for concurrent use and performs no I/O; the caller decides whether a
// transition is confirmed remotely, queued or rolled back.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/roach88/fieldsync/internal/fault"
	"github.com/roach88/fieldsync/internal/model"
)

// Duty is whether the operator is accepting work.
type Duty int

const (
	Offline Duty = iota
	Online
)

func (d Duty) String() string {
	if d == Online {
		return "online"
	}
	return "offline"
}

// Status is the derived operator status.
type Status string

const (
	StatusOffline    Status = "offline"
	StatusIdle       Status = "idle"
	StatusAssigned   Status = "assigned"
	StatusPickedUp   Status = "picked_up"
	StatusDelivering Status = "delivering"
)

// next is the forward transition table. Only the listed edges exist.
var next = map[model.Phase]model.Phase{
	model.PhaseAssigned:   model.PhasePickedUp,
	model.PhasePickedUp:   model.PhaseDelivering,
	model.PhaseDelivering: model.PhaseDelivered,
}

// Next returns the phase that follows p, if any.
func Next(p model.Phase) (model.Phase, bool) {
	to, ok := next[p]
	return to, ok
}

// Step describes one applied transition. Task is the active task as it was
// before the step. Payout is set when the step confirmed delivery.
type Step struct {
	TaskID string
	From   model.Phase
	To     model.Phase
	Task   model.Task
	Payout *model.LedgerEntry
}

// Machine enforces at most one non-terminal task per operator.
type Machine struct {
	duty   Duty
	active *model.Task
}

// New returns an off-duty machine with no active task.
func New() *Machine {
	return &Machine{}
}

// Duty returns the current duty.
func (m *Machine) Duty() Duty {
	return m.duty
}

// Status derives the operator status from duty and the active task.
func (m *Machine) Status() Status {
	if m.duty == Offline {
		return StatusOffline
	}
	if m.active == nil {
		return StatusIdle
	}
	return Status(m.active.Phase)
}

// Active returns a copy of the active task, or nil.
func (m *Machine) Active() *model.Task {
	if m.active == nil {
		return nil
	}
	t := m.active.Clone()
	return &t
}

// GoOnline puts the operator on duty.
func (m *Machine) GoOnline() {
	m.duty = Online
}

// GoOffline takes the operator off duty. It is always permitted and keeps
// any active task; only new offers stop.
func (m *Machine) GoOffline() {
	m.duty = Offline
}

// Accept makes task the active task in the assigned phase.
func (m *Machine) Accept(task model.Task, now time.Time) error {
	const op = "accept_task"
	switch {
	case m.duty != Online:
		return fault.New(fault.Validation, op, "operator is off duty")
	case m.active != nil:
		return fault.New(fault.Validation, op,
			fmt.Sprintf("task %s is already active", m.active.ID))
	case task.Phase != model.PhaseOffered:
		return fault.New(fault.Validation, op,
			fmt.Sprintf("task %s is %s, not offered", task.ID, task.Phase))
	case task.ExpiredAt(now):
		return fault.New(fault.Validation, op,
			fmt.Sprintf("offer %s has expired", task.ID))
	}

	t := task.Clone()
	t.Phase = model.PhaseAssigned
	t.UpdatedAt = now
	m.active = &t
	return nil
}

// Advance moves the active task one phase forward. It is allowed off duty
// so a task in progress can be finished after going offline.
//
// Confirming delivery clears the active task and yields a provisional payout
// of the task's surge-adjusted value.
func (m *Machine) Advance(now time.Time) (Step, error) {
	const op = "advance_phase"
	if m.active == nil {
		return Step{}, fault.New(fault.Validation, op, "no active task")
	}
	from := m.active.Phase
	to, ok := Next(from)
	if !ok {
		return Step{}, fault.New(fault.Validation, op,
			fmt.Sprintf("task %s cannot advance from %s", m.active.ID, from))
	}

	step := Step{TaskID: m.active.ID, From: from, To: to, Task: m.active.Clone()}
	if to == model.PhaseDelivered {
		step.Payout = &model.LedgerEntry{
			ID:          "provisional-" + m.active.ID,
			Kind:        model.LedgerPayout,
			Amount:      m.active.Payout(),
			TaskID:      m.active.ID,
			At:          now,
			Provisional: true,
		}
		m.active = nil
		return step, nil
	}

	m.active.Phase = to
	m.active.UpdatedAt = now
	return step, nil
}

// Rollback clears the active task if it is taskID. It reports whether
// anything changed.
func (m *Machine) Rollback(taskID string) bool {
	if m.active == nil || m.active.ID != taskID {
		return false
	}
	m.active = nil
	return true
}

// Revert undoes step after the remote system refused it without taking the
// task away. A refused delivery reinstates step.Task if the slot is still
// free; any other step is undone only while its task is active in step.To.
// It reports whether anything changed.
func (m *Machine) Revert(step Step) bool {
	if step.To == model.PhaseDelivered {
		if m.active != nil || step.Task.ID != step.TaskID {
			return false
		}
		t := step.Task.Clone()
		t.Phase = step.From
		m.active = &t
		return true
	}
	if m.active == nil || m.active.ID != step.TaskID || m.active.Phase != step.To {
		return false
	}
	m.active.Phase = step.From
	if step.Task.ID == step.TaskID {
		m.active.UpdatedAt = step.Task.UpdatedAt
	}
	return true
}

// Replace installs the authoritative version of the active task. A nil or
// terminal task clears the slot.
func (m *Machine) Replace(t *model.Task) {
	if t == nil || t.Phase.Terminal() {
		m.active = nil
		return
	}
	c := t.Clone()
	m.active = &c
}

// Clear drops the active task.
func (m *Machine) Clear() {
	m.active = nil
}
