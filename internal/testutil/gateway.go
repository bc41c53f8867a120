package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/roach88/fieldsync/internal/fault"
	"github.com/roach88/fieldsync/internal/gateway"
	"github.com/roach88/fieldsync/internal/model"
)

// Call is one recorded gateway invocation.
type Call struct {
	Method string
	Key    string
	TaskID string
}

// FakeGateway is a scriptable in-memory remote system.
//
// It arbitrates task ownership the way the real server does: an offer can be
// accepted once, tasks listed by Take belong to someone else, and repeated
// mutations with the same idempotency key return the first result.
type FakeGateway struct {
	mu       sync.Mutex
	now      func() time.Time
	operator string

	offers   []model.Task
	assigned map[string]model.Task
	taken    map[string]bool
	results  map[string]model.Task
	stats    model.OperatorStats
	wallet   model.Wallet

	down     bool
	failures []error
	calls    []Call
	pulses   []model.PresencePulse

	nextSub int
	subs    map[int]*fakeSubscription
}

var _ gateway.Gateway = (*FakeGateway)(nil)

// NewFakeGateway creates an empty server for operator, stamping mutations
// with clock.
func NewFakeGateway(operator string, clock func() time.Time) *FakeGateway {
	if clock == nil {
		clock = time.Now
	}
	return &FakeGateway{
		now:      clock,
		operator: operator,
		assigned: make(map[string]model.Task),
		taken:    make(map[string]bool),
		results:  make(map[string]model.Task),
		subs:     make(map[int]*fakeSubscription),
		wallet:   model.Wallet{Entries: []model.LedgerEntry{}},
	}
}

// AddOffer publishes an open offer. It does not notify subscribers; use
// Publish for that.
func (f *FakeGateway) AddOffer(t model.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.Phase = model.PhaseOffered
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = f.now()
	}
	f.offers = append(f.offers, t.Clone())
}

// Take marks a task as accepted by another operator and withdraws its offer.
func (f *FakeGateway) Take(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taken[taskID] = true
	f.removeOffer(taskID)
}

// Assign makes the server assign a task to this operator directly, as when
// an earlier accept succeeded without the client seeing the reply.
func (f *FakeGateway) Assign(taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.removeOffer(taskID)
	if !ok {
		return fmt.Errorf("no open offer %q", taskID)
	}
	t.Phase = model.PhaseAssigned
	t.AssignedTo = f.operator
	t.UpdatedAt = f.now()
	f.assigned[taskID] = t
	return nil
}

// SetStats replaces the operator's stats.
func (f *FakeGateway) SetStats(s model.OperatorStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = s
}

// SetBalance replaces the wallet balance.
func (f *FakeGateway) SetBalance(m model.Money) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wallet.Balance = m
	f.wallet.AsOf = f.now()
}

// SetDown makes every call fail with a transient network error.
func (f *FakeGateway) SetDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

// FailNext queues errors returned by the next calls, one per call.
func (f *FakeGateway) FailNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, errs...)
}

// Calls returns the recorded invocations.
func (f *FakeGateway) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns how many times method was invoked.
func (f *FakeGateway) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Pulses returns the presence pulses received.
func (f *FakeGateway) Pulses() []model.PresencePulse {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.PresencePulse(nil), f.pulses...)
}

// Assigned returns the server-side record of a task assigned to this
// operator.
func (f *FakeGateway) Assigned(taskID string) (model.Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.assigned[taskID]
	return t, ok
}

// Subscribers returns the number of open subscriptions.
func (f *FakeGateway) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Publish delivers ev to every open subscription on the caller's goroutine.
func (f *FakeGateway) Publish(ev gateway.Event) {
	for _, s := range f.openSubs() {
		s.h.OnEvent(ev)
	}
}

// DropSubscriptions fails every open subscription with err.
func (f *FakeGateway) DropSubscriptions(err error) {
	subs := f.openSubs()
	f.mu.Lock()
	f.subs = make(map[int]*fakeSubscription)
	f.mu.Unlock()
	for _, s := range subs {
		s.h.OnError(err)
	}
}

func (f *FakeGateway) openSubs() []*fakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]*fakeSubscription, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.subs[id])
	}
	return out
}

// begin records a call and returns the injected failure for it, if any.
// Caller holds mu.
func (f *FakeGateway) begin(method, key, taskID string) error {
	f.calls = append(f.calls, Call{Method: method, Key: key, TaskID: taskID})
	if f.down {
		return fault.New(fault.Transient, method, "network unreachable")
	}
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return err
	}
	return nil
}

func (f *FakeGateway) removeOffer(taskID string) (model.Task, bool) {
	for i, t := range f.offers {
		if t.ID == taskID {
			f.offers = append(f.offers[:i], f.offers[i+1:]...)
			return t, true
		}
	}
	return model.Task{}, false
}

// FetchOffers implements gateway.Querier.
func (f *FakeGateway) FetchOffers(ctx context.Context) ([]model.Task, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("FetchOffers", "", ""); err != nil {
		return nil, time.Time{}, err
	}
	out := make([]model.Task, 0, len(f.offers))
	for _, t := range f.offers {
		out = append(out, t.Clone())
	}
	return out, f.now(), nil
}

// FetchAssignments implements gateway.Querier.
func (f *FakeGateway) FetchAssignments(ctx context.Context) ([]model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("FetchAssignments", "", ""); err != nil {
		return nil, err
	}
	out := make([]model.Task, 0, len(f.assigned))
	for _, t := range f.assigned {
		if !t.Phase.Terminal() {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FetchStats implements gateway.Querier.
func (f *FakeGateway) FetchStats(ctx context.Context) (model.OperatorStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("FetchStats", "", ""); err != nil {
		return model.OperatorStats{}, err
	}
	return f.stats, nil
}

// FetchWallet implements gateway.Querier.
func (f *FakeGateway) FetchWallet(ctx context.Context) (model.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("FetchWallet", "", ""); err != nil {
		return model.Wallet{}, err
	}
	w := f.wallet.Clone()
	if w.AsOf.IsZero() {
		w.AsOf = f.now()
	}
	return w, nil
}

// AcceptTask implements gateway.Mutator.
func (f *FakeGateway) AcceptTask(ctx context.Context, key, taskID string) (model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("AcceptTask", key, taskID); err != nil {
		return model.Task{}, err
	}
	if t, ok := f.results[key]; ok {
		return t.Clone(), nil
	}
	if f.taken[taskID] {
		return model.Task{}, fault.New(fault.Conflict, "accept_task", "task already taken")
	}
	t, ok := f.removeOffer(taskID)
	if !ok {
		return model.Task{}, fault.New(fault.Conflict, "accept_task", "offer no longer available")
	}
	t.Phase = model.PhaseAssigned
	t.AssignedTo = f.operator
	t.UpdatedAt = f.now()
	f.assigned[taskID] = t
	f.results[key] = t
	return t.Clone(), nil
}

// AdvancePhase implements gateway.Mutator.
func (f *FakeGateway) AdvancePhase(ctx context.Context, key, taskID string, from, to model.Phase) (model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("AdvancePhase", key, taskID); err != nil {
		return model.Task{}, err
	}
	if t, ok := f.results[key]; ok {
		return t.Clone(), nil
	}
	t, ok := f.assigned[taskID]
	if !ok || t.Phase.Terminal() {
		return model.Task{}, fault.New(fault.Conflict, "advance_phase", "task not assigned to operator")
	}
	if t.Phase != from {
		return model.Task{}, fault.New(fault.Conflict, "advance_phase",
			fmt.Sprintf("task is %s, not %s", t.Phase, from))
	}
	t.Phase = to
	t.UpdatedAt = f.now()
	f.assigned[taskID] = t
	f.results[key] = t

	if to == model.PhaseDelivered {
		payout := t.Payout()
		f.wallet.Balance += payout
		f.wallet.AsOf = t.UpdatedAt
		f.wallet.Entries = append(f.wallet.Entries, model.LedgerEntry{
			ID:     "tx-" + taskID,
			Kind:   model.LedgerPayout,
			Amount: payout,
			TaskID: taskID,
			At:     t.UpdatedAt,
		})
		f.stats.CompletedToday++
		f.stats.CompletedTotal++
		f.stats.EarningsToday += payout
	}
	return t.Clone(), nil
}

// RequestWithdrawal implements gateway.Mutator.
func (f *FakeGateway) RequestWithdrawal(ctx context.Context, key, requestID string, amount model.Money) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("RequestWithdrawal", key, ""); err != nil {
		return err
	}
	if _, ok := f.results[key]; ok {
		return nil
	}
	if amount <= 0 || amount > f.wallet.Balance {
		return fault.New(fault.Validation, "request_withdrawal", "amount exceeds balance")
	}
	f.wallet.Balance -= amount
	f.wallet.AsOf = f.now()
	f.wallet.Entries = append(f.wallet.Entries, model.LedgerEntry{
		ID:     requestID,
		Kind:   model.LedgerWithdrawal,
		Amount: -amount,
		At:     f.wallet.AsOf,
	})
	f.results[key] = model.Task{}
	return nil
}

// UpdatePresence implements gateway.Mutator.
func (f *FakeGateway) UpdatePresence(ctx context.Context, pulse model.PresencePulse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("UpdatePresence", "", ""); err != nil {
		return err
	}
	f.pulses = append(f.pulses, pulse)
	return nil
}

// Subscribe implements gateway.Streamer. Handlers are only invoked from
// Publish and DropSubscriptions, never from inside Subscribe.
func (f *FakeGateway) Subscribe(ctx context.Context, h gateway.Handler) (gateway.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Subscribe", "", ""); err != nil {
		return nil, err
	}
	f.nextSub++
	s := &fakeSubscription{f: f, id: f.nextSub, h: h}
	f.subs[s.id] = s
	return s, nil
}

type fakeSubscription struct {
	f    *FakeGateway
	id   int
	h    gateway.Handler
	once sync.Once
}

func (s *fakeSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.f.mu.Lock()
		defer s.f.mu.Unlock()
		delete(s.f.subs, s.id)
	})
}
