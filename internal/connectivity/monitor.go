// Package connectivity tracks network reachability and link quality.
package connectivity

import (
	"sync"

	"github.com/roach88/fieldsync/internal/model"
)

// DefaultWindow is the number of consecutive successes required for stable.
const DefaultWindow = 3

// Outcome is the result of one remote call as seen by the monitor.
type Outcome int

const (
	Success Outcome = iota + 1
	Failure
	Timeout
	Conflict
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Timeout:
		return "timeout"
	case Conflict:
		return "conflict"
	}
	return "unknown"
}

// Transition describes a health or reachability change.
// Reconnected is true only for an offline -> online reachability change; it is
// the sole trigger for queue drain, forced reconciliation and re-subscription.
type Transition struct {
	From        model.ConnectionHealth
	To          model.ConnectionHealth
	Reconnected bool
}

// Monitor derives ConnectionHealth from platform events and call outcomes.
//
// Rules:
//   - stable requires the last Window outcomes to be successes
//   - any failure, timeout or conflict within the window means degraded
//   - a platform offline event forces offline regardless of history
//
// Thread-safety: safe for concurrent use. Listeners run outside the lock, in
// the goroutine that caused the transition.
type Monitor struct {
	mu        sync.Mutex
	window    int
	recent    []Outcome
	reachable bool
	health    model.ConnectionHealth
	listeners map[int]func(Transition)
	nextID    int
}

// New creates a monitor. A window below 1 uses DefaultWindow.
func New(window int, reachable bool) *Monitor {
	if window < 1 {
		window = DefaultWindow
	}
	m := &Monitor{
		window:    window,
		reachable: reachable,
		listeners: make(map[int]func(Transition)),
	}
	m.health = m.compute()
	return m
}

// Subscribe registers fn for transitions and returns a function that removes it.
func (m *Monitor) Subscribe(fn func(Transition)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// SetReachable feeds a platform-level online/offline event.
func (m *Monitor) SetReachable(reachable bool) {
	m.mu.Lock()
	if m.reachable == reachable {
		m.mu.Unlock()
		return
	}
	from := m.health
	reconnected := !m.reachable && reachable
	m.reachable = reachable
	// History from before the outage says nothing about the new link.
	m.recent = m.recent[:0]
	m.health = m.compute()
	tr := Transition{From: from, To: m.health, Reconnected: reconnected}
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	notify(listeners, tr)
}

// Record feeds the outcome of a remote call. Outcomes recorded while the
// platform reports offline are ignored.
func (m *Monitor) Record(o Outcome) {
	m.mu.Lock()
	if !m.reachable {
		m.mu.Unlock()
		return
	}
	m.recent = append(m.recent, o)
	if len(m.recent) > m.window {
		m.recent = m.recent[len(m.recent)-m.window:]
	}
	from := m.health
	m.health = m.compute()
	if from == m.health {
		m.mu.Unlock()
		return
	}
	tr := Transition{From: from, To: m.health}
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	notify(listeners, tr)
}

// Health returns the current classification.
func (m *Monitor) Health() model.ConnectionHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

// Reachable reports the platform-level reachability signal.
func (m *Monitor) Reachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

// compute must be called with mu held.
func (m *Monitor) compute() model.ConnectionHealth {
	if !m.reachable {
		return model.HealthOffline
	}
	if len(m.recent) < m.window {
		return model.HealthDegraded
	}
	for _, o := range m.recent {
		if o != Success {
			return model.HealthDegraded
		}
	}
	return model.HealthStable
}

// snapshotListeners must be called with mu held.
func (m *Monitor) snapshotListeners() []func(Transition) {
	out := make([]func(Transition), 0, len(m.listeners))
	for id := 0; id < m.nextID; id++ {
		if fn, ok := m.listeners[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func notify(listeners []func(Transition), tr Transition) {
	for _, fn := range listeners {
		fn(tr)
	}
}
