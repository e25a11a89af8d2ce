// Package remote executes wire-level request descriptors against the HTTP
// collaborator, with authentication, retry, and error classification.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// TransportError reports a network or connection failure before any status
// was received.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError reports that the remote call exceeded its deadline. Kept
// distinct from TransportError so observability can tell them apart, even
// though the router's fallback logic treats them the same.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: remote timeout: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// StatusError reports a non-success HTTP status with its parsed error body.
type StatusError struct {
	Op      string
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: remote error (%d): %s: %s", e.Op, e.Status, e.Code, e.Message)
}

// IsNotFound reports whether the status is a 404.
func (e *StatusError) IsNotFound() bool { return e.Status == http.StatusNotFound }

// classify wraps a raw transport-level error into the taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Op: op, Err: err}
	}
	return &TransportError{Op: op, Err: err}
}

// isTransient returns true for errors that are worth retrying: transport
// failures, timeouts, and 5xx or 429 statuses. 4xx responses and context
// cancellation are not retried.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= 500 || se.Status == http.StatusTooManyRequests
	}
	var te *TransportError
	var to *TimeoutError
	return errors.As(err, &te) || errors.As(err, &to)
}

// RemoteFailed reports whether err is any flavor of "remote path failed",
// which the hybrid router treats uniformly when deciding on fallback.
func RemoteFailed(err error) bool {
	var te *TransportError
	var to *TimeoutError
	var se *StatusError
	return errors.As(err, &te) || errors.As(err, &to) || errors.As(err, &se)
}
