// Package fault is the error taxonomy shared by the gateway, the queue and
// the session store.
//
// Remote failures are classified at the gateway boundary, so higher layers
// branch on Kind and never on transport detail.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind categorizes a failure by how it must be handled.
type Kind string

const (
	// Transient failures are retried by the next drain or reconciliation
	// pass. Operator intent is never discarded.
	Transient Kind = "transient"

	// Conflict is permanent: the intent is discarded, the operator is
	// notified and the feed entry removed.
	Conflict Kind = "conflict"

	// Validation is a state-machine invariant violation. The attempted
	// transition is rejected and state is preserved unchanged.
	Validation Kind = "validation"

	// Authorization escalates to session teardown.
	Authorization Kind = "authorization"
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a message.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err. It returns "" for nil. Unclassified errors,
// including context deadlines, are treated as transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Transient
}

// Permanent reports whether the failure can never succeed on retry.
func Permanent(err error) bool {
	k := KindOf(err)
	return k == Conflict || k == Validation
}

// IsConflict returns true if err is classified as a conflict.
func IsConflict(err error) bool {
	return KindOf(err) == Conflict
}

// IsValidation returns true if err is classified as a validation failure.
func IsValidation(err error) bool {
	return KindOf(err) == Validation
}

// IsAuthorization returns true if err is classified as an authorization failure.
func IsAuthorization(err error) bool {
	return KindOf(err) == Authorization
}

// IsTransient returns true if err is non-nil and retryable.
func IsTransient(err error) bool {
	return KindOf(err) == Transient
}

// IsCancelled reports whether err stems from context cancellation, which
// happens during teardown and is not a remote outcome.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
