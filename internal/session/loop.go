package session

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by actions submitted after teardown began.
var ErrClosed = errors.New("session closed")

// action is one named mutation run on the event loop. done is nil for
// fire-and-forget posts.
type action struct {
	name string
	fn   func(*state) error
	done chan error
}

// actionQueue is a thread-safe FIFO of pending actions.
//
// The queue is unbounded so feed events and gateway outcomes never block the
// goroutine that posts them. The buffered signal channel coalesces wakeups for
// the loop.
type actionQueue struct {
	mu      sync.Mutex
	actions []action
	closed  bool
	signal  chan struct{}
}

func newActionQueue() *actionQueue {
	return &actionQueue{
		actions: make([]action, 0, 16),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue appends a. It returns false once the queue is closed.
func (q *actionQueue) Enqueue(a action) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.actions = append(q.actions, a)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front action without blocking. A closed queue
// yields nothing; its leftovers are collected by Reject.
func (q *actionQueue) TryDequeue() (action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.actions) == 0 {
		return action{}, false
	}
	a := q.actions[0]
	q.actions[0] = action{}
	if len(q.actions) == 1 {
		q.actions = q.actions[:0]
	} else {
		q.actions = q.actions[1:]
	}
	return a, true
}

// Wait returns a channel that signals when actions may be available. It is
// closed when the queue closes.
func (q *actionQueue) Wait() <-chan struct{} {
	return q.signal
}

// Closed reports whether Close was called.
func (q *actionQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting actions and wakes the loop.
func (q *actionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Reject fails every action left in a closed queue with ErrClosed.
func (q *actionQueue) Reject() {
	q.mu.Lock()
	left := q.actions
	q.actions = nil
	q.mu.Unlock()

	for _, a := range left {
		if a.done != nil {
			a.done <- ErrClosed
		}
	}
}

// loop is the single writer of s.st.
func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		if a, ok := s.actions.TryDequeue(); ok {
			s.run(a)
			continue
		}
		if s.actions.Closed() {
			s.actions.Reject()
			return
		}
		<-s.actions.Wait()
	}
}

func (s *Session) run(a action) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("action panicked", "action", a.name, "panic", r)
			if a.done != nil {
				a.done <- errors.New("action " + a.name + " panicked")
			}
		}
	}()
	err := a.fn(&s.st)
	if a.done != nil {
		a.done <- err
	}
}

// do runs fn on the loop and waits for it. It must never be called from
// inside an action.
func (s *Session) do(ctx context.Context, name string, fn func(*state) error) error {
	done := make(chan error, 1)
	if !s.actions.Enqueue(action{name: name, fn: fn, done: done}) {
		return ErrClosed
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post runs fn on the loop without waiting. Posts after teardown are
// dropped.
func (s *Session) post(name string, fn func(*state) error) {
	s.actions.Enqueue(action{name: name, fn: func(st *state) error {
		if err := fn(st); err != nil {
			s.logger.Warn("action failed", "action", name, "error", err)
		}
		return nil
	}})
}
