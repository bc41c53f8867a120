// Package queue implements the durable operation queue: an ordered,
// persisted list of operator intents that could not be confirmed by the
// remote system when they were issued.
//
// Operations replay in strict enqueue order. An operation leaves the queue
// only when the remote system acknowledges it, or when it is classified as
// permanently unrecoverable (conflict or validation). A transient failure
// halts the drain so that operation N+1 never runs before N is resolved.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/fieldsync/internal/fault"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/store"
)

// IDGenerator generates operation ids.
// Implemented by UUIDv7Generator (production) and testutil.SequenceGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 operation ids.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Processor attempts one queued operation against the remote system and
// returns a classified error (see package fault).
type Processor func(ctx context.Context, op model.QueuedOperation) error

// Discard records an operation removed without acknowledgement.
type Discard struct {
	Op  model.QueuedOperation
	Err error
}

// Report summarizes a drain pass.
type Report struct {
	Processed int
	Discarded []Discard
	Halted    bool
	HaltedOn  *model.QueuedOperation
	HaltErr   error
}

// Queue is the durable operation queue.
type Queue struct {
	st     *store.Store
	ids    IDGenerator
	now    func() time.Time
	logger *slog.Logger

	// drainMu serializes drains. Enqueue never takes it.
	drainMu sync.Mutex
}

// Option configures a Queue.
type Option func(*Queue)

// WithIDGenerator overrides the operation id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(q *Queue) { q.ids = g }
}

// WithClock overrides the enqueue timestamp source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New creates a queue backed by st.
func New(st *store.Store, opts ...Option) *Queue {
	q := &Queue{
		st:     st,
		ids:    UUIDv7Generator{},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue persists a new operation. It needs no network and survives process
// restarts. Enqueueing an operation whose kind and payload equal one already
// queued returns the existing operation.
func (q *Queue) Enqueue(ctx context.Context, kind model.OpKind, payload any) (model.QueuedOperation, error) {
	if !kind.Valid() {
		return model.QueuedOperation{}, fault.New(fault.Validation, "enqueue", fmt.Sprintf("unknown operation kind %q", kind))
	}

	key, raw, err := model.OperationKey(kind, payload)
	if err != nil {
		return model.QueuedOperation{}, fmt.Errorf("enqueue %s: %w", kind, err)
	}

	op := model.QueuedOperation{
		ID:         q.ids.Generate(),
		Kind:       kind,
		Payload:    raw,
		DedupKey:   key,
		EnqueuedAt: q.now().UTC(),
	}

	stored, inserted, err := q.st.InsertOperation(ctx, op)
	if err != nil {
		return model.QueuedOperation{}, fmt.Errorf("enqueue %s: %w", kind, err)
	}

	if inserted {
		q.logger.Info("operation enqueued", "op_id", stored.ID, "kind", kind, "seq", stored.Seq)
	} else {
		q.logger.Debug("duplicate operation ignored", "op_id", stored.ID, "kind", kind)
	}
	return stored, nil
}

// Drain processes queued operations in enqueue order.
//
//   - nil: the operation is removed.
//   - conflict or validation: the operation is removed after this single
//     attempt and recorded in Report.Discarded.
//   - transient: retry_count is incremented, the operation stays in place and
//     the pass halts.
//   - authorization: the operation stays in place, the pass halts and the
//     error is returned.
//
// Re-invoking Drain after a partial failure resumes from the first unresolved
// operation. Concurrent drains are serialized.
func (q *Queue) Drain(ctx context.Context, process Processor) (Report, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	var report Report

	ops, err := q.st.ListOperations(ctx)
	if err != nil {
		return report, fmt.Errorf("drain: %w", err)
	}

	for i := range ops {
		op := ops[i]

		if err := ctx.Err(); err != nil {
			report.Halted = true
			report.HaltedOn = &op
			return report, err
		}

		perr := process(ctx, op)

		switch {
		case perr == nil:
			if err := q.st.DeleteOperation(ctx, op.ID); err != nil {
				return report, fmt.Errorf("drain: %w", err)
			}
			report.Processed++
			q.logger.Debug("operation acknowledged", "op_id", op.ID, "kind", op.Kind)

		case fault.Permanent(perr):
			if err := q.st.DeleteOperation(ctx, op.ID); err != nil {
				return report, fmt.Errorf("drain: %w", err)
			}
			report.Discarded = append(report.Discarded, Discard{Op: op, Err: perr})
			q.logger.Warn("operation discarded",
				"op_id", op.ID,
				"kind", op.Kind,
				"fault", fault.KindOf(perr),
				"error", perr,
				"event", "queue_discard",
			)

		case fault.IsAuthorization(perr):
			report.Halted = true
			report.HaltedOn = &op
			report.HaltErr = perr
			q.logger.Error("drain halted: authorization failure", "op_id", op.ID, "error", perr)
			return report, perr

		default:
			if err := q.st.RecordFailure(ctx, op.ID, perr.Error()); err != nil {
				q.logger.Error("failed to record retry", "op_id", op.ID, "error", err)
			}
			report.Halted = true
			report.HaltedOn = &op
			report.HaltErr = perr
			q.logger.Info("drain halted: transient failure",
				"op_id", op.ID,
				"kind", op.Kind,
				"retry_count", op.RetryCount+1,
				"error", perr,
			)
			return report, nil
		}
	}

	return report, nil
}

// PeekAll returns a read-only snapshot of the queue for diagnostics.
func (q *Queue) PeekAll(ctx context.Context) ([]model.QueuedOperation, error) {
	return q.st.ListOperations(ctx)
}

// Len returns the number of queued operations.
func (q *Queue) Len(ctx context.Context) (int, error) {
	return q.st.CountOperations(ctx)
}
