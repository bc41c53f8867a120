package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/fieldsync/internal/fault"
	"github.com/roach88/fieldsync/internal/lifecycle"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/queue"
	"github.com/roach88/fieldsync/internal/reconcile"
	"github.com/roach88/fieldsync/internal/store"
)

// sync drains the queue and then forces a reconciliation pass.
func (s *Session) sync(ctx context.Context) {
	if !s.monitor.Reachable() {
		return
	}
	if _, err := s.Drain(ctx); err != nil {
		return
	}
	_ = s.Reconcile(ctx)
}

// Drain replays queued operations against the remote system in order.
// Permanently rejected operations are rolled back locally and reported to
// the operator.
func (s *Session) Drain(ctx context.Context) (queue.Report, error) {
	report, err := s.queue.Drain(ctx, s.process)

	for _, d := range report.Discarded {
		_ = s.do(ctx, "discard", func(st *state) error {
			s.discarded(st, d.Op, d.Err)
			return nil
		})
	}
	s.refreshPending(ctx)

	if err != nil {
		s.escalate(err)
		return report, err
	}
	if report.Processed > 0 || len(report.Discarded) > 0 {
		s.logger.Info("queue drained",
			"event", "queue_drained",
			"processed", report.Processed,
			"discarded", len(report.Discarded),
			"halted", report.Halted,
		)
	}
	return report, nil
}

// Reconcile runs one reconciliation pass now.
func (s *Session) Reconcile(ctx context.Context) error {
	err := s.reconciler.Pass(ctx)
	if err != nil {
		s.escalate(err)
	}
	return err
}

// process is the queue.Processor. The idempotency key of a replayed
// operation is its content key, the same one an immediate attempt used.
func (s *Session) process(ctx context.Context, op model.QueuedOperation) error {
	switch op.Kind {
	case model.OpAcceptTask:
		var p model.AcceptPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fault.Wrap(fault.Validation, "drain", fmt.Errorf("decode accept payload: %w", err))
		}
		t, err := s.gw.AcceptTask(ctx, op.DedupKey, p.TaskID)
		if err != nil {
			return err
		}
		_ = s.do(ctx, "accept_confirmed", func(st *state) error {
			s.adopt(st, t)
			s.record(st, model.LevelInfo, "accept_confirmed", t.ID, "queued accept confirmed")
			return nil
		})
		return nil

	case model.OpAdvancePhase:
		var p model.AdvancePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fault.Wrap(fault.Validation, "drain", fmt.Errorf("decode advance payload: %w", err))
		}
		t, err := s.gw.AdvancePhase(ctx, op.DedupKey, p.TaskID, p.From, p.To)
		if err != nil {
			return err
		}
		_ = s.do(ctx, "advance_confirmed", func(st *state) error {
			if p.To == model.PhaseDelivered {
				delete(st.delivered, p.TaskID)
			}
			s.adopt(st, t)
			s.record(st, model.LevelInfo, "advance_confirmed", t.ID,
				fmt.Sprintf("queued transition to %s confirmed", p.To))
			return nil
		})
		return nil

	case model.OpRequestWithdrawal:
		var p model.WithdrawalPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fault.Wrap(fault.Validation, "drain", fmt.Errorf("decode withdrawal payload: %w", err))
		}
		if err := s.gw.RequestWithdrawal(ctx, op.DedupKey, p.RequestID, p.Amount); err != nil {
			return err
		}
		_ = s.do(ctx, "withdrawal_confirmed", func(st *state) error {
			s.record(st, model.LevelInfo, "withdrawal_requested", "",
				fmt.Sprintf("queued withdrawal of %s accepted", p.Amount))
			return nil
		})
		return nil
	}
	return fault.New(fault.Validation, "drain", fmt.Sprintf("unknown operation kind %q", op.Kind))
}

// adopt installs a server-confirmed version of the active task. Responses
// for a task that is no longer active, or that lag behind the local phase,
// are ignored; the next reconciliation settles them.
func (s *Session) adopt(st *state, t model.Task) {
	active := st.machine.Active()
	if active == nil || active.ID != t.ID {
		return
	}
	if rank(t.Phase) < rank(active.Phase) {
		return
	}
	st.machine.Replace(&t)
}

// discarded rolls back the local projection of a queued operation the
// server refused.
func (s *Session) discarded(st *state, op model.QueuedOperation, cause error) {
	taskID := op.TaskID()
	switch op.Kind {
	case model.OpAcceptTask:
		st.machine.Rollback(taskID)
		st.removeOffer(taskID)
		s.record(st, model.LevelWarn, "offer_conflict", taskID, cause.Error())
		s.notify(st, "offer_conflict", fmt.Sprintf("Task %s was taken by another operator", taskID))
	case model.OpAdvancePhase:
		var p model.AdvancePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			p = model.AdvancePayload{TaskID: taskID}
		}
		step := lifecycle.Step{TaskID: taskID, From: p.From, To: p.To}
		if p.To == model.PhaseDelivered {
			if d, ok := st.delivered[taskID]; ok {
				step = d
			}
			delete(st.delivered, taskID)
		}
		s.refused(st, step, cause)
	case model.OpRequestWithdrawal:
		s.record(st, model.LevelWarn, "withdrawal_rejected", "", cause.Error())
		s.notify(st, "withdrawal_rejected", "Withdrawal request was rejected")
	}
}

// refused settles a phase transition the remote system turned down. A
// conflict means the task is gone. A validation refusal leaves it assigned,
// so the step is undone and the task returns to its previous phase. A
// refused delivery pays nothing.
func (s *Session) refused(st *state, step lifecycle.Step, cause error) {
	st.dropProvisional(step.TaskID)
	switch {
	case fault.IsConflict(cause):
		st.machine.Rollback(step.TaskID)
		s.record(st, model.LevelWarn, "advance_conflict", step.TaskID, cause.Error())
		s.notify(st, "advance_conflict", fmt.Sprintf("Task %s is no longer assigned to you", step.TaskID))
		return
	case fault.IsAuthorization(cause):
		// Sign-out follows; nothing local can be trusted.
		st.machine.Rollback(step.TaskID)
	default:
		st.machine.Revert(step)
	}
	s.record(st, model.LevelWarn, "advance_rejected", step.TaskID, cause.Error())
	s.notify(st, "advance_rejected", fmt.Sprintf("Task %s could not move to %s", step.TaskID, step.To))
}

// applySnapshot is the reconcile.ApplyFunc.
func (s *Session) applySnapshot(ctx context.Context, snap model.Snapshot) error {
	return s.do(ctx, "reconcile", func(st *state) error {
		return s.apply(ctx, st, snap)
	})
}

// apply merges an authoritative snapshot into the local projection.
func (s *Session) apply(ctx context.Context, st *state, snap model.Snapshot) error {
	if !st.snapshotAt.IsZero() && snap.TakenAt.Before(st.snapshotAt) {
		return reconcile.ErrStale
	}
	if err := s.loadPending(ctx, st); err != nil {
		s.logger.Warn("reconcile without queue view", "error", err)
	}
	now := s.now()

	// Active task. The server's assignment wins unless a local operation
	// for the task is still queued or in flight; such tasks are left out of
	// the comparison entirely until the queue resolves them.
	active := st.machine.Active()
	var mine *model.Task
	for i := range snap.Assigned {
		t := snap.Assigned[i]
		if t.Phase.Terminal() || (t.AssignedTo != "" && t.AssignedTo != s.cfg.OperatorID) {
			continue
		}
		if st.unresolved(t.ID) {
			continue
		}
		mine = &t
		break
	}

	switch {
	case active != nil && st.unresolved(active.ID):
		// Keep the local projection.
	case mine != nil:
		switch {
		case active == nil && st.expired[mine.ID]:
			s.record(st, model.LevelWarn, "reconcile_discrepancy", mine.ID,
				"late confirmation for an offer that expired locally; adopting server assignment")
			st.machine.Replace(mine)
		case active == nil:
			s.record(st, model.LevelWarn, "reconcile_discrepancy", mine.ID,
				"server reports an assignment unknown locally; adopting it")
			st.machine.Replace(mine)
		case active.ID != mine.ID:
			s.record(st, model.LevelWarn, "reconcile_discrepancy", mine.ID,
				fmt.Sprintf("server assignment replaces local task %s", active.ID))
			st.machine.Replace(mine)
		default:
			if active.Phase != mine.Phase {
				s.record(st, model.LevelInfo, "phase_corrected", mine.ID,
					fmt.Sprintf("server phase %s overrides local %s", mine.Phase, active.Phase))
			}
			st.machine.Replace(mine)
		}
		delete(st.expired, mine.ID)

	case active != nil:
		st.machine.Clear()
		s.record(st, model.LevelWarn, "active_task_lost", active.ID,
			"task is no longer assigned to this operator")
		s.notify(st, "active_task_lost", fmt.Sprintf("Task %s is no longer assigned to you", active.ID))
	}

	// Feed. Frozen while off duty.
	if st.machine.Duty() == lifecycle.Online {
		feed := make([]model.Task, 0, len(snap.Offers))
		for _, t := range snap.Offers {
			if t.Phase != model.PhaseOffered || t.ExpiredAt(now) || st.busy(t.ID) {
				continue
			}
			feed = append(feed, t.Clone())
		}
		st.feed = feed
	}

	// Stats and wallet are replaced wholesale. Provisional payouts survive
	// only while their delivery is still queued or in flight.
	st.stats = snap.Stats
	wallet := snap.Wallet.Clone()
	if wallet.Entries == nil {
		wallet.Entries = []model.LedgerEntry{}
	}
	for _, e := range st.wallet.Entries {
		if e.Provisional && st.unresolved(e.TaskID) {
			wallet.Entries = append(wallet.Entries, e)
		}
	}
	st.wallet = wallet

	if tier := model.TierFor(snap.Stats); tier != st.operator.Tier {
		s.record(st, model.LevelInfo, "tier_changed", "", fmt.Sprintf("tier is now %s", tier))
		st.operator.Tier = tier
	}
	s.persist(ctx, store.KeyTier, st.operator.Tier)
	s.persist(ctx, store.KeyWallet, st.wallet)

	st.snapshotAt = snap.TakenAt
	return nil
}

// rank orders non-terminal phases along the lifecycle.
func rank(p model.Phase) int {
	switch p {
	case model.PhaseAssigned:
		return 1
	case model.PhasePickedUp:
		return 2
	case model.PhaseDelivering:
		return 3
	case model.PhaseDelivered:
		return 4
	}
	return 0
}

// persist writes a setting, logging failures. Persistence is a cache; a
// failed write never fails the action.
func (s *Session) persist(ctx context.Context, key string, v any) {
	if err := s.store.PutSetting(ctx, key, v); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("persist setting failed", "key", key, "error", err)
	}
}
