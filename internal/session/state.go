package session

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/fieldsync/internal/lifecycle"
	"github.com/roach88/fieldsync/internal/model"
)

// State is a point-in-time copy of the observable session tree.
type State struct {
	Operator      model.OperatorSession  `json:"operator"`
	Status        lifecycle.Status       `json:"status"`
	Active        *model.Task            `json:"active,omitempty"`
	Feed          []model.Task           `json:"feed"`
	Stats         model.OperatorStats    `json:"stats"`
	Wallet        model.Wallet           `json:"wallet"`
	Presence      model.PresenceState    `json:"presence"`
	Health        model.ConnectionHealth `json:"health"`
	Reachable     bool                   `json:"reachable"`
	PendingOps    int                    `json:"pending_ops"`
	Log           []model.LogEntry       `json:"log"`
	Notices       []model.Notice         `json:"notices"`
	SnapshotAt    time.Time              `json:"snapshot_at"`
	Authenticated bool                   `json:"authenticated"`
	FeedActive    bool                   `json:"feed_active"`
}

// FeedIDs returns the ids of the visible offers in order.
func (s State) FeedIDs() []string {
	ids := make([]string, 0, len(s.Feed))
	for _, t := range s.Feed {
		ids = append(ids, t.ID)
	}
	return ids
}

// Events returns the event names of the activity log in order.
func (s State) Events() []string {
	out := make([]string, 0, len(s.Log))
	for _, e := range s.Log {
		out = append(out, e.Event)
	}
	return out
}

// state is owned by the event loop. Nothing outside an action touches it.
type state struct {
	operator model.OperatorSession
	machine  *lifecycle.Machine
	feed     []model.Task
	stats    model.OperatorStats
	wallet   model.Wallet
	presence model.PresenceState

	pendingOps   int
	pendingTasks map[string]bool           // task ids referenced by queued operations
	inflight     map[string]bool           // task ids with an unresolved immediate call
	expired      map[string]bool           // offers dropped locally by the expiry sweep
	delivered    map[string]lifecycle.Step // deliveries not yet confirmed remotely

	log        []model.LogEntry
	notices    []model.Notice
	snapshotAt time.Time

	authenticated bool
}

func newState(operatorID string) state {
	return state{
		operator:     model.OperatorSession{OperatorID: operatorID, Tier: model.TierBronze},
		machine:      lifecycle.New(),
		feed:         []model.Task{},
		wallet:       model.Wallet{Entries: []model.LedgerEntry{}},
		pendingTasks: make(map[string]bool),
		inflight:     make(map[string]bool),
		expired:      make(map[string]bool),
		delivered:    make(map[string]lifecycle.Step),
	}
}

func (st *state) findOffer(id string) (model.Task, bool) {
	for _, t := range st.feed {
		if t.ID == id {
			return t, true
		}
	}
	return model.Task{}, false
}

func (st *state) removeOffer(id string) bool {
	for i, t := range st.feed {
		if t.ID == id {
			st.feed = append(st.feed[:i], st.feed[i+1:]...)
			return true
		}
	}
	return false
}

// upsertOffer replaces an offer in place or appends it.
func (st *state) upsertOffer(t model.Task) {
	for i := range st.feed {
		if st.feed[i].ID == t.ID {
			st.feed[i] = t
			return
		}
	}
	st.feed = append(st.feed, t)
}

// unresolved reports whether a local operation on taskID is still queued or
// in flight.
func (st *state) unresolved(taskID string) bool {
	return st.inflight[taskID] || st.pendingTasks[taskID]
}

// busy reports whether taskID must not appear in the feed.
func (st *state) busy(taskID string) bool {
	if st.unresolved(taskID) {
		return true
	}
	a := st.machine.Active()
	return a != nil && a.ID == taskID
}

// dropProvisional removes the provisional payout mirrored for taskID.
func (st *state) dropProvisional(taskID string) {
	kept := st.wallet.Entries[:0]
	for _, e := range st.wallet.Entries {
		if e.Provisional && e.TaskID == taskID {
			continue
		}
		kept = append(kept, e)
	}
	st.wallet.Entries = kept
}

// record appends an activity-log entry and mirrors it to slog.
func (s *Session) record(st *state, level model.LogLevel, event, taskID, msg string) {
	st.log = append(st.log, model.LogEntry{
		At:      s.now(),
		Level:   level,
		Event:   event,
		TaskID:  taskID,
		Message: msg,
	})
	if over := len(st.log) - s.cfg.LogCapacity; over > 0 {
		st.log = append(st.log[:0], st.log[over:]...)
	}

	attrs := []any{"event", event}
	if taskID != "" {
		attrs = append(attrs, "task_id", taskID)
	}
	switch level {
	case model.LevelError:
		s.logger.Error(msg, attrs...)
	case model.LevelWarn:
		s.logger.Warn(msg, attrs...)
	default:
		s.logger.Info(msg, attrs...)
	}
}

// notify posts a short-lived operator notice.
func (s *Session) notify(st *state, kind, msg string) {
	now := s.now()
	st.notices = append(st.notices, model.Notice{
		Kind:      kind,
		Message:   msg,
		At:        now,
		ExpiresAt: now.Add(s.cfg.NoticeTTL),
	})
}

// reject records a refused action and returns err unchanged.
func (s *Session) reject(st *state, event, taskID string, err error) error {
	s.record(st, model.LevelWarn, event, taskID, err.Error())
	s.notify(st, event, err.Error())
	return err
}

// loadPending refreshes the queue-derived fields.
func (s *Session) loadPending(ctx context.Context, st *state) error {
	ops, err := s.queue.PeekAll(ctx)
	if err != nil {
		return fmt.Errorf("load pending operations: %w", err)
	}
	st.pendingOps = len(ops)
	st.pendingTasks = make(map[string]bool, len(ops))
	for _, op := range ops {
		if id := op.TaskID(); id != "" {
			st.pendingTasks[id] = true
		}
	}
	return nil
}

func (s *Session) refreshPending(ctx context.Context) {
	_ = s.do(ctx, "refresh_pending", func(st *state) error {
		return s.loadPending(ctx, st)
	})
}

// snapshot deep-copies st.
func (s *Session) snapshot(st *state) State {
	out := State{
		Operator:      st.operator,
		Status:        st.machine.Status(),
		Active:        st.machine.Active(),
		Feed:          make([]model.Task, 0, len(st.feed)),
		Stats:         st.stats,
		Wallet:        st.wallet.Clone(),
		Presence:      st.presence,
		Health:        s.monitor.Health(),
		Reachable:     s.monitor.Reachable(),
		PendingOps:    st.pendingOps,
		Log:           append([]model.LogEntry{}, st.log...),
		Notices:       append([]model.Notice{}, st.notices...),
		SnapshotAt:    st.snapshotAt,
		Authenticated: st.authenticated,
		FeedActive:    s.feed.Active(),
	}
	for _, t := range st.feed {
		out.Feed = append(out.Feed, t.Clone())
	}
	if st.presence.Location != nil {
		loc := *st.presence.Location
		out.Presence.Location = &loc
	}
	return out
}
