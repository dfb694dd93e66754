package engine

import (
	"context"
	"errors"
)

// AbortError marks a request that was cut short by a caller-imposed
// deadline or cancellation, as opposed to a transport-level connection
// failure. Callers can branch on it with errors.As or IsAbort.
type AbortError struct {
	Err error
}

func (e *AbortError) Error() string {
	return "request aborted: " + e.Err.Error()
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// IsAbort reports whether err is (or wraps) an AbortError.
func IsAbort(err error) bool {
	var ae *AbortError
	return errors.As(err, &ae)
}

// wrapAbort classifies context expiry as an abort; other errors pass
// through untouched.
func wrapAbort(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &AbortError{Err: err}
	}
	return err
}
