package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/fault"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/testutil"
)

func newTestQueue(t *testing.T) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := testutil.NewFakeClock(testutil.Epoch)
	return New(st, WithIDGenerator(testutil.NewSequenceGenerator("op")), WithClock(clock.Now)), path
}

func enqueueAccepts(t *testing.T, q *Queue, taskIDs ...string) []model.QueuedOperation {
	t.Helper()
	ops := make([]model.QueuedOperation, 0, len(taskIDs))
	for _, id := range taskIDs {
		op, err := q.Enqueue(context.Background(), model.OpAcceptTask, model.AcceptPayload{TaskID: id})
		require.NoError(t, err)
		ops = append(ops, op)
	}
	return ops
}

func taskIDs(ops []model.QueuedOperation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.TaskID()
	}
	return out
}

func TestEnqueue_PersistsWithFreshIDAndTimestamp(t *testing.T) {
	q, _ := newTestQueue(t)

	op, err := q.Enqueue(context.Background(), model.OpAcceptTask, model.AcceptPayload{TaskID: "T-1"})
	require.NoError(t, err)

	assert.Equal(t, "op-1", op.ID)
	assert.Equal(t, model.OpAcceptTask, op.Kind)
	assert.Equal(t, testutil.Epoch, op.EnqueuedAt)
	assert.Equal(t, 0, op.RetryCount)
	assert.NotEmpty(t, op.DedupKey)
	assert.JSONEq(t, `{"task_id":"T-1"}`, string(op.Payload))
}

func TestEnqueue_DuplicateIntentReturnsExisting(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, model.OpAcceptTask, model.AcceptPayload{TaskID: "T-1"})
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, model.OpAcceptTask, model.AcceptPayload{TaskID: "T-1"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnqueue_RejectsUnknownKind(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Enqueue(context.Background(), model.OpKind("location_ping"), map[string]string{})
	assert.True(t, fault.IsValidation(err))
}

func TestDrain_FIFOOrderAndEmptyAfterwards(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	enqueueAccepts(t, q, "T-1", "T-2", "T-3", "T-4", "T-5")

	var seen []string
	report, err := q.Drain(ctx, func(_ context.Context, op model.QueuedOperation) error {
		seen = append(seen, op.TaskID())
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"T-1", "T-2", "T-3", "T-4", "T-5"}, seen)
	assert.Equal(t, 5, report.Processed)
	assert.False(t, report.Halted)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDrain_HaltsOnTransientAndResumes(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	enqueueAccepts(t, q, "T-1", "T-2", "T-3", "T-4")

	var attempted []string
	failing := "T-2"
	process := func(_ context.Context, op model.QueuedOperation) error {
		attempted = append(attempted, op.TaskID())
		if op.TaskID() == failing {
			return fault.Wrap(fault.Transient, "accept", errors.New("timeout"))
		}
		return nil
	}

	report, err := q.Drain(ctx, process)
	require.NoError(t, err, "transient failures halt without error")
	assert.Equal(t, []string{"T-1", "T-2"}, attempted, "T-3 and T-4 must not be attempted")
	assert.True(t, report.Halted)
	require.NotNil(t, report.HaltedOn)
	assert.Equal(t, "T-2", report.HaltedOn.TaskID())

	remaining, err := q.PeekAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"T-2", "T-3", "T-4"}, taskIDs(remaining))
	assert.Equal(t, 1, remaining[0].RetryCount)
	assert.Contains(t, remaining[0].LastError, "timeout")

	// Second pass resumes at T-2.
	attempted = nil
	failing = ""
	report, err = q.Drain(ctx, process)
	require.NoError(t, err)
	assert.Equal(t, []string{"T-2", "T-3", "T-4"}, attempted)
	assert.Equal(t, 3, report.Processed)
}

func TestDrain_ConflictDiscardsAfterOneAttempt(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	enqueueAccepts(t, q, "T-1", "T-2", "T-3")

	attempts := map[string]int{}
	process := func(_ context.Context, op model.QueuedOperation) error {
		attempts[op.TaskID()]++
		if op.TaskID() == "T-2" {
			return fault.New(fault.Conflict, "accept", "task already taken")
		}
		return nil
	}

	report, err := q.Drain(ctx, process)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	require.Len(t, report.Discarded, 1)
	assert.Equal(t, "T-2", report.Discarded[0].Op.TaskID())
	assert.True(t, fault.IsConflict(report.Discarded[0].Err))

	// A further drain must not retry the discarded operation.
	_, err = q.Drain(ctx, process)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"T-1": 1, "T-2": 1, "T-3": 1}, attempts)
}

func TestDrain_ValidationFailureIsDiscarded(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	enqueueAccepts(t, q, "T-1")

	report, err := q.Drain(ctx, func(context.Context, model.QueuedOperation) error {
		return fault.New(fault.Validation, "accept", "malformed payload")
	})
	require.NoError(t, err)
	assert.Len(t, report.Discarded, 1)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDrain_AuthorizationHaltsAndKeepsOperation(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	enqueueAccepts(t, q, "T-1", "T-2")

	report, err := q.Drain(ctx, func(context.Context, model.QueuedOperation) error {
		return fault.New(fault.Authorization, "accept", "token expired")
	})
	assert.True(t, fault.IsAuthorization(err))
	assert.True(t, report.Halted)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDrain_UnclassifiedErrorIsTransient(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	enqueueAccepts(t, q, "T-1")

	report, err := q.Drain(ctx, func(context.Context, model.QueuedOperation) error {
		return fmt.Errorf("dial tcp: connection refused")
	})
	require.NoError(t, err)
	assert.True(t, report.Halted)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDrain_CancelledContextHalts(t *testing.T) {
	q, _ := newTestQueue(t)
	enqueueAccepts(t, q, "T-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	report, err := q.Drain(ctx, func(context.Context, model.QueuedOperation) error {
		called = true
		return nil
	})
	// ListOperations may itself observe the cancelled context.
	assert.Error(t, err)
	assert.False(t, called)
	_ = report
}

func TestQueue_SurvivesRestart(t *testing.T) {
	q, path := newTestQueue(t)
	ctx := context.Background()
	enqueueAccepts(t, q, "T-1", "T-2")

	st2, err := store.Open(path)
	require.NoError(t, err)
	defer st2.Close()

	reopened := New(st2)
	ops, err := reopened.PeekAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"T-1", "T-2"}, taskIDs(ops))
}
