package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/model"
)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testOperation(id, dedup string) model.QueuedOperation {
	return model.QueuedOperation{
		ID:         id,
		Kind:       model.OpAcceptTask,
		Payload:    json.RawMessage(`{"task_id":"` + id + `"}`),
		DedupKey:   dedup,
		EnqueuedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		s.Close()
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"operations", "settings"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q not found after idempotent opens", table)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	for name, want := range map[string]string{
		"journal_mode": "wal",
		"synchronous":  "2",
		"busy_timeout": "5000",
	} {
		got, err := s.pragma(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, "pragma %s", name)
	}
}

func TestOpen_MigratesToLatest(t *testing.T) {
	s := createTestStore(t)

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].version, v)
}

func TestOpen_MigratesBaseSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")

	// A database written before any migration existed.
	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = raw.Exec(schemaSQL)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	op := testOperation("op-1", "dedup-1")
	_, _, err = s.InsertOperation(context.Background(), op)
	require.NoError(t, err)
	require.NoError(t, s.RecordFailure(context.Background(), "op-1", "timeout"))
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.PutSetting(ctx, KeyLanguage, "es"))

	var lang string
	found, err := s.GetSetting(ctx, KeyLanguage, &lang)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "es", lang)
}

func TestInsertOperation_AssignsIncreasingSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first, inserted, err := s.InsertOperation(ctx, testOperation("op-1", "k1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	second, inserted, err := s.InsertOperation(ctx, testOperation("op-2", "k2"))
	require.NoError(t, err)
	assert.True(t, inserted)

	assert.Greater(t, second.Seq, first.Seq)
	assert.Equal(t, model.OpAcceptTask, first.Kind)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), first.EnqueuedAt)
}

func TestInsertOperation_DuplicateDedupKeyReturnsExisting(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first, _, err := s.InsertOperation(ctx, testOperation("op-1", "same"))
	require.NoError(t, err)

	dup, inserted, err := s.InsertOperation(ctx, testOperation("op-2", "same"))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.ID, dup.ID)
	assert.Equal(t, first.Seq, dup.Seq)

	n, err := s.CountOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestListOperations_SeqOrderSurvivesDeletes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, _, err := s.InsertOperation(ctx, testOperation(id, "k-"+id))
		require.NoError(t, err)
	}
	require.NoError(t, s.DeleteOperation(ctx, "a"))
	_, _, err := s.InsertOperation(ctx, testOperation("d", "k-d"))
	require.NoError(t, err)

	ops, err := s.ListOperations(ctx)
	require.NoError(t, err)
	ids := make([]string, len(ops))
	for i, op := range ops {
		ids[i] = op.ID
	}
	assert.Equal(t, []string{"b", "c", "d"}, ids)
}

func TestRecordFailure(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, _, err := s.InsertOperation(ctx, testOperation("op-1", "k1"))
	require.NoError(t, err)

	require.NoError(t, s.RecordFailure(ctx, "op-1", "timeout"))
	require.NoError(t, s.RecordFailure(ctx, "op-1", "connection refused"))

	op, err := s.GetOperation(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, 2, op.RetryCount)
	assert.Equal(t, "connection refused", op.LastError)
}

func TestGetOperation_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetOperation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOperationsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	_, _, err = s1.InsertOperation(ctx, testOperation("op-1", "k1"))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	ops, err := s2.ListOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "op-1", ops[0].ID)
}

func TestSettings_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var lang string
	found, err := s.GetSetting(ctx, KeyLanguage, &lang)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.PutSetting(ctx, KeyLanguage, "en"))
	require.NoError(t, s.PutSetting(ctx, KeyLanguage, "es"))

	found, err = s.GetSetting(ctx, KeyLanguage, &lang)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "es", lang)

	wallet := model.Wallet{Balance: 2500}
	require.NoError(t, s.PutSetting(ctx, KeyWallet, wallet))

	all, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.JSONEq(t, `"es"`, string(all[KeyLanguage]))

	require.NoError(t, s.DeleteSetting(ctx, KeyLanguage))
	found, err = s.GetSetting(ctx, KeyLanguage, &lang)
	require.NoError(t, err)
	assert.False(t, found)
}
