package dispatch

import "errors"

// transientError marks a collaborator failure as retryable. Network
// errors and 5xx-class responses should be wrapped with Transient by
// the adapter; anything else is treated as permanent.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so the dispatcher retries it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
