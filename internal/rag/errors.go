package rag

import (
	"errors"
	"fmt"
)

// ExternalError wraps a failure from the AI service boundary, classified at
// the adapter so retry policy stays out of the orchestrator. Transient
// failures have already been retried up to the adapter's attempt ceiling by
// the time the caller sees them.
type ExternalError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *ExternalError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s external error: %v", e.Op, kind, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

// TransientError marks err as retriable (rate limits, 5xx, network failures).
func TransientError(op string, err error) error {
	return &ExternalError{Op: op, Transient: true, Err: err}
}

// PermanentError marks err as non-retriable (bad content or configuration).
func PermanentError(op string, err error) error {
	return &ExternalError{Op: op, Transient: false, Err: err}
}

// IsTransient reports whether err is a classified transient external error.
// Unclassified errors report false.
func IsTransient(err error) bool {
	var ee *ExternalError
	return errors.As(err, &ee) && ee.Transient
}
