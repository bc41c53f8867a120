package session

import (
	"context"
	"fmt"

	"github.com/roach88/fieldsync/internal/fault"
	"github.com/roach88/fieldsync/internal/lifecycle"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/store"
)

// GoOnline puts the operator on duty, announces presence and opens the
// live feed. Presence and feed failures are logged, not returned.
func (s *Session) GoOnline(ctx context.Context) error {
	err := s.do(ctx, "go_online", func(st *state) error {
		if st.machine.Duty() == lifecycle.Online {
			return nil
		}
		st.machine.GoOnline()
		st.presence.Online = true
		s.record(st, model.LevelInfo, "duty_online", "", "operator is on duty")
		return nil
	})
	if err != nil {
		return err
	}

	s.publisher.Pulse(ctx)
	if s.monitor.Reachable() {
		if err := s.feed.Start(s.ctx); err != nil {
			s.escalate(err)
			s.logger.Warn("feed unavailable", "event", "feed_unavailable", "error", err)
		}
	}
	return nil
}

// GoOffline takes the operator off duty. It is always permitted; an active
// task is kept and only the feed stops.
func (s *Session) GoOffline(ctx context.Context) error {
	var pulse model.PresencePulse
	err := s.do(ctx, "go_offline", func(st *state) error {
		if st.machine.Duty() == lifecycle.Offline {
			return nil
		}
		st.machine.GoOffline()
		st.presence.Online = false
		pulse = s.pulseOf(st)
		s.record(st, model.LevelInfo, "duty_offline", "", "operator is off duty")
		return nil
	})
	if err != nil {
		return err
	}

	s.feed.Stop()
	if s.monitor.Reachable() && pulse.OperatorID != "" {
		s.publisher.Send(ctx, pulse)
	}
	return nil
}

// AcceptTask claims an offer. The offer leaves the feed immediately and the
// task becomes active in the assigned phase; the remote system arbitrates
// afterwards. Repeated taps for the same task are no-ops.
func (s *Session) AcceptTask(ctx context.Context, taskID string) error {
	var (
		skip   bool
		behind bool
	)
	err := s.do(ctx, "accept_task", func(st *state) error {
		if a := st.machine.Active(); st.inflight[taskID] || (a != nil && a.ID == taskID) {
			skip = true
			return nil
		}
		offer, ok := st.findOffer(taskID)
		if !ok {
			return s.reject(st, "accept_rejected", taskID,
				fault.New(fault.Validation, "accept_task", fmt.Sprintf("offer %s is not available", taskID)))
		}
		if err := st.machine.Accept(offer, s.now()); err != nil {
			return s.reject(st, "accept_rejected", taskID, err)
		}
		st.removeOffer(taskID)
		st.inflight[taskID] = true
		behind = st.pendingOps > 0
		s.record(st, model.LevelInfo, "offer_accepted", taskID, "offer accepted")
		return nil
	})
	if err != nil || skip {
		return err
	}

	var confirmed model.Task
	queued, err := s.submit(ctx, model.OpAcceptTask, model.AcceptPayload{TaskID: taskID}, behind,
		func(ctx context.Context, key string) error {
			t, err := s.gw.AcceptTask(ctx, key, taskID)
			confirmed = t
			return err
		})

	_ = s.do(context.WithoutCancel(ctx), "accept_outcome", func(st *state) error {
		delete(st.inflight, taskID)
		if lerr := s.loadPending(ctx, st); lerr != nil {
			s.logger.Warn("refresh pending failed", "error", lerr)
		}
		switch {
		case err == nil && queued:
			s.record(st, model.LevelInfo, "accept_queued", taskID, "accept queued until connectivity returns")
		case err == nil:
			s.adopt(st, confirmed)
			s.record(st, model.LevelInfo, "accept_confirmed", taskID, "accept confirmed")
		case fault.IsConflict(err):
			st.machine.Rollback(taskID)
			s.record(st, model.LevelWarn, "offer_conflict", taskID, err.Error())
			s.notify(st, "offer_conflict", fmt.Sprintf("Task %s was taken by another operator", taskID))
		default:
			st.machine.Rollback(taskID)
			s.record(st, model.LevelWarn, "accept_rejected", taskID, err.Error())
			s.notify(st, "accept_rejected", fmt.Sprintf("Could not accept task %s", taskID))
		}
		return nil
	})

	if fault.IsAuthorization(err) {
		s.signOut(err)
	}
	return err
}

// AdvancePhase moves the active task one phase forward. Confirming delivery
// returns the operator to idle and mirrors a provisional payout into the
// wallet.
func (s *Session) AdvancePhase(ctx context.Context) error {
	var (
		step   lifecycle.Step
		behind bool
	)
	err := s.do(ctx, "advance_phase", func(st *state) error {
		if a := st.machine.Active(); a != nil && st.inflight[a.ID] {
			return s.reject(st, "advance_rejected", a.ID,
				fault.New(fault.Validation, "advance_phase", "previous transition is still in flight"))
		}
		var err error
		step, err = st.machine.Advance(s.now())
		if err != nil {
			return s.reject(st, "advance_rejected", "", err)
		}
		if step.Payout != nil {
			st.delivered[step.TaskID] = step
			st.wallet.Entries = append(st.wallet.Entries, *step.Payout)
			s.record(st, model.LevelInfo, "delivery_confirmed", step.TaskID,
				fmt.Sprintf("delivered; payout %s pending confirmation", step.Payout.Amount))
		} else {
			s.record(st, model.LevelInfo, "phase_advanced", step.TaskID, fmt.Sprintf("%s -> %s", step.From, step.To))
		}
		st.inflight[step.TaskID] = true
		behind = st.pendingOps > 0
		return nil
	})
	if err != nil {
		return err
	}

	payload := model.AdvancePayload{TaskID: step.TaskID, From: step.From, To: step.To}
	var confirmed model.Task
	queued, err := s.submit(ctx, model.OpAdvancePhase, payload, behind,
		func(ctx context.Context, key string) error {
			t, err := s.gw.AdvancePhase(ctx, key, step.TaskID, step.From, step.To)
			confirmed = t
			return err
		})

	_ = s.do(context.WithoutCancel(ctx), "advance_outcome", func(st *state) error {
		delete(st.inflight, step.TaskID)
		if lerr := s.loadPending(ctx, st); lerr != nil {
			s.logger.Warn("refresh pending failed", "error", lerr)
		}
		switch {
		case err == nil && queued:
			s.record(st, model.LevelInfo, "advance_queued", step.TaskID,
				fmt.Sprintf("transition to %s queued", step.To))
		case err == nil:
			delete(st.delivered, step.TaskID)
			s.adopt(st, confirmed)
		default:
			delete(st.delivered, step.TaskID)
			s.refused(st, step, err)
		}
		return nil
	})

	if fault.IsAuthorization(err) {
		s.signOut(err)
	}
	return err
}

// RequestWithdrawal asks for a payout of amount. The balance is never
// changed locally; the next reconciliation reflects the server's ledger.
func (s *Session) RequestWithdrawal(ctx context.Context, amount model.Money) error {
	var behind bool
	err := s.do(ctx, "request_withdrawal", func(st *state) error {
		switch {
		case amount <= 0:
			return s.reject(st, "withdrawal_rejected", "",
				fault.New(fault.Validation, "request_withdrawal", "amount must be positive"))
		case amount > st.wallet.Balance:
			return s.reject(st, "withdrawal_rejected", "",
				fault.New(fault.Validation, "request_withdrawal",
					fmt.Sprintf("amount %s exceeds balance %s", amount, st.wallet.Balance)))
		}
		behind = st.pendingOps > 0
		return nil
	})
	if err != nil {
		return err
	}

	payload := model.WithdrawalPayload{RequestID: s.ids.Generate(), Amount: amount}
	queued, err := s.submit(ctx, model.OpRequestWithdrawal, payload, behind,
		func(ctx context.Context, key string) error {
			return s.gw.RequestWithdrawal(ctx, key, payload.RequestID, amount)
		})

	_ = s.do(context.WithoutCancel(ctx), "withdrawal_outcome", func(st *state) error {
		if lerr := s.loadPending(ctx, st); lerr != nil {
			s.logger.Warn("refresh pending failed", "error", lerr)
		}
		switch {
		case err == nil && queued:
			s.record(st, model.LevelInfo, "withdrawal_queued", "", fmt.Sprintf("withdrawal of %s queued", amount))
		case err == nil:
			s.record(st, model.LevelInfo, "withdrawal_requested", "", fmt.Sprintf("withdrawal of %s requested", amount))
		default:
			s.record(st, model.LevelWarn, "withdrawal_rejected", "", err.Error())
			s.notify(st, "withdrawal_rejected", "Withdrawal request was rejected")
		}
		return nil
	})

	if fault.IsAuthorization(err) {
		s.signOut(err)
	}
	return err
}

// ToggleLanguage switches to the next configured language and persists it.
func (s *Session) ToggleLanguage(ctx context.Context) (string, error) {
	var lang string
	err := s.do(ctx, "toggle_language", func(st *state) error {
		i := s.languageIndex(st.operator.Language)
		lang = s.languages[(i+1)%len(s.languages)].String()
		st.operator.Language = lang
		s.persist(ctx, store.KeyLanguage, lang)
		return nil
	})
	return lang, err
}

// CompleteOnboarding marks onboarding done and persists the flag.
func (s *Session) CompleteOnboarding(ctx context.Context) error {
	return s.do(ctx, "complete_onboarding", func(st *state) error {
		if st.operator.Onboarded {
			return nil
		}
		st.operator.Onboarded = true
		s.persist(ctx, store.KeyOnboarded, true)
		s.record(st, model.LevelInfo, "onboarding_completed", "", "onboarding completed")
		return nil
	})
}

// UpdateLocation sets the coordinate sent with the next heartbeat.
func (s *Session) UpdateLocation(ctx context.Context, c model.Coordinate) error {
	return s.do(ctx, "update_location", func(st *state) error {
		st.presence.Location = &c
		return nil
	})
}

// submit confirms an intent immediately when the link is up and nothing is
// queued ahead of it; otherwise, or after a transient failure, it persists
// the intent to the queue. Queued reports which path was taken.
func (s *Session) submit(ctx context.Context, kind model.OpKind, payload any, behind bool, call func(ctx context.Context, key string) error) (queued bool, err error) {
	if s.monitor.Reachable() && !behind {
		key, _, err := model.OperationKey(kind, payload)
		if err != nil {
			return false, err
		}
		err = call(ctx, key)
		if err == nil || !fault.IsTransient(err) {
			return false, err
		}
		s.logger.Info("immediate call failed; queuing", "kind", kind, "error", err)
	}

	// The intent must survive cancellation of the caller. It replays on the
	// next reconnect or explicit drain.
	if _, err := s.queue.Enqueue(context.WithoutCancel(ctx), kind, payload); err != nil {
		return false, err
	}
	return true, nil
}
