package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/fieldsync/internal/model"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// InsertOperation appends an operation to the queue.
// Returns the stored row (with Seq populated) and whether a new row was
// inserted. A duplicate DedupKey returns the existing row and inserted=false.
func (s *Store) InsertOperation(ctx context.Context, op model.QueuedOperation) (stored model.QueuedOperation, inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.QueuedOperation{}, false, fmt.Errorf("insert operation: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO operations
		(id, kind, payload, dedup_key, enqueued_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(dedup_key) DO NOTHING
	`,
		op.ID,
		string(op.Kind),
		string(op.Payload),
		op.DedupKey,
		op.EnqueuedAt.UnixMilli(),
		op.RetryCount,
	)
	if err != nil {
		return model.QueuedOperation{}, false, fmt.Errorf("insert operation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return model.QueuedOperation{}, false, fmt.Errorf("insert operation: rows affected: %w", err)
	}

	stored, err = scanOperation(tx.QueryRowContext(ctx, selectOperation+` WHERE dedup_key = ?`, op.DedupKey))
	if err != nil {
		return model.QueuedOperation{}, false, fmt.Errorf("insert operation: select: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.QueuedOperation{}, false, fmt.Errorf("insert operation: commit: %w", err)
	}

	return stored, rowsAffected > 0, nil
}

// ListOperations returns all queued operations in seq order.
func (s *Store) ListOperations(ctx context.Context) ([]model.QueuedOperation, error) {
	rows, err := s.db.QueryContext(ctx, selectOperation+` ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var ops []model.QueuedOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("list operations: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	return ops, nil
}

// GetOperation reads one operation by id.
func (s *Store) GetOperation(ctx context.Context, id string) (model.QueuedOperation, error) {
	op, err := scanOperation(s.db.QueryRowContext(ctx, selectOperation+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.QueuedOperation{}, ErrNotFound
	}
	if err != nil {
		return model.QueuedOperation{}, fmt.Errorf("get operation %s: %w", id, err)
	}
	return op, nil
}

// DeleteOperation removes an operation. Deleting a missing id is a no-op.
func (s *Store) DeleteOperation(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM operations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete operation %s: %w", id, err)
	}
	return nil
}

// RecordFailure increments retry_count and stores the last error message.
func (s *Store) RecordFailure(ctx context.Context, id string, cause string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE operations
		SET retry_count = retry_count + 1, last_error = ?
		WHERE id = ?
	`, cause, id)
	if err != nil {
		return fmt.Errorf("record failure %s: %w", id, err)
	}
	return nil
}

// CountOperations returns the queue length.
func (s *Store) CountOperations(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count operations: %w", err)
	}
	return n, nil
}

const selectOperation = `
	SELECT seq, id, kind, payload, dedup_key, enqueued_at, retry_count, last_error
	FROM operations`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (model.QueuedOperation, error) {
	var (
		op         model.QueuedOperation
		kind       string
		payload    string
		enqueuedAt int64
	)
	if err := row.Scan(&op.Seq, &op.ID, &kind, &payload, &op.DedupKey, &enqueuedAt, &op.RetryCount, &op.LastError); err != nil {
		return model.QueuedOperation{}, err
	}
	k, err := model.ParseOpKind(kind)
	if err != nil {
		return model.QueuedOperation{}, err
	}
	op.Kind = k
	op.Payload = []byte(payload)
	op.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()
	return op, nil
}
