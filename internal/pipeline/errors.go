package pipeline

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when an entity does not exist.
var ErrNotFound = errors.New("not found")

// PermanentError marks a failure that must not be retried: explicit robots
// denial, structurally invalid input, an unknown payload shape.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

// Unwrap exposes the cause for errors.Is/As.
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the queue fails the job without requeueing.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Permanentf formats a permanent error.
func Permanentf(format string, args ...any) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

// IsPermanent reports whether err (or any wrapped cause) is permanent.
// Everything else is treated as transient and eligible for retry.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
