// Package store provides SQLite-backed durable storage for a field device.
//
// Two tables are persisted:
//   - operations: the durable operation queue, keyed by operation id and
//     ordered by seq
//   - settings: the small slice of session state that must survive process
//     restarts (onboarding flag, language, tier, cached wallet)
//
// Everything else (active task, live feed, connection health) is rebuilt each
// session by reconciliation and is never persisted.
//
// # Ordering
//
// Operations are returned ORDER BY seq ASC. seq is an AUTOINCREMENT key, so
// it is strictly increasing and never reused, even after deletions.
//
// # Idempotency
//
// InsertOperation uses ON CONFLICT(dedup_key) DO NOTHING; a duplicate insert
// returns the already-stored row with inserted=false.
package store
