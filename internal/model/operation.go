package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// OpKind is the closed set of operator intents that may be queued.
//
// Presence pulses are deliberately absent: they are last-writer-wins and are
// never queued.
type OpKind string

const (
	OpAcceptTask        OpKind = "accept_task"
	OpAdvancePhase      OpKind = "advance_phase"
	OpRequestWithdrawal OpKind = "request_withdrawal"
)

// ParseOpKind narrows a stored string into an OpKind.
func ParseOpKind(s string) (OpKind, error) {
	k := OpKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown operation kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is a member of the closed set.
func (k OpKind) Valid() bool {
	switch k {
	case OpAcceptTask, OpAdvancePhase, OpRequestWithdrawal:
		return true
	}
	return false
}

// QueuedOperation is an intent that failed immediate confirmation.
type QueuedOperation struct {
	Seq        int64           `json:"seq"`
	ID         string          `json:"id"`
	Kind       OpKind          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	DedupKey   string          `json:"dedup_key"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
}

// AcceptPayload is the payload of an accept_task operation.
type AcceptPayload struct {
	TaskID string `json:"task_id"`
}

// AdvancePayload is the payload of an advance_phase operation.
type AdvancePayload struct {
	TaskID string `json:"task_id"`
	From   Phase  `json:"from"`
	To     Phase  `json:"to"`
}

// WithdrawalPayload is the payload of a request_withdrawal operation.
type WithdrawalPayload struct {
	RequestID string `json:"request_id"`
	Amount    Money  `json:"amount"`
}

// TaskID returns the task an operation refers to, or "" for operations that
// are not task-scoped.
func (op QueuedOperation) TaskID() string {
	switch op.Kind {
	case OpAcceptTask:
		var p AcceptPayload
		if json.Unmarshal(op.Payload, &p) == nil {
			return p.TaskID
		}
	case OpAdvancePhase:
		var p AdvancePayload
		if json.Unmarshal(op.Payload, &p) == nil {
			return p.TaskID
		}
	}
	return ""
}
