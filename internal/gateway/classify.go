package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/roach88/fieldsync/internal/fault"
)

// classifyStatus maps an HTTP status to a fault kind.
func classifyStatus(status int) fault.Kind {
	switch {
	case status == http.StatusConflict, status == http.StatusGone:
		return fault.Conflict
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return fault.Validation
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fault.Authorization
	default:
		// 5xx, 408, 429 and anything unexpected are retryable.
		return fault.Transient
	}
}

// statusError builds a classified error from a non-2xx response.
func statusError(op string, status int, body string) error {
	msg := fmt.Sprintf("HTTP %d", status)
	if body != "" {
		msg = fmt.Sprintf("HTTP %d: %s", status, body)
	}
	return fault.New(classifyStatus(status), op, msg)
}

// transportError classifies a failure that produced no response.
func transportError(op string, err error) error {
	return fault.Wrap(fault.Transient, op, err)
}

// isTimeout reports whether err is a deadline or network timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
