// Package model defines the data model shared by every fieldsync component.
//
// Tasks, wallets and stats are authored server-side; the client holds a
// read-through projection that the reconciliation loop refreshes. Queued
// operations and presence state are purely client-owned and never exist
// server-side until transmitted.
//
// # Ordering
//
// Queued operations are ordered by Seq, the store-assigned monotonic
// sequence. EnqueuedAt is informational only and is NEVER used for ordering.
//
// # Identity
//
// Every queued operation carries a DedupKey: a domain-separated SHA-256 of
// the canonical JSON encoding of (kind, payload). The same key doubles as the
// idempotency key sent to the remote system, so a direct call that falls
// back to the queue and its later replay present the same identity.
package model
