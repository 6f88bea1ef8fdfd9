package engine

import (
	"errors"
	"fmt"
)

// RunError is a failure that ended a run.
type RunError struct {
	// Code identifies the error category.
	Code RunErrorCode

	// Message is a human-readable description.
	Message string

	// Phase is "sync" or "execute" when the error happened inside a phase.
	Phase string

	// Err is the underlying cause, if any.
	Err error
}

// ErrLockLost is returned by the sync phase when the sync lock expired and
// could not be refreshed before the next page.
var ErrLockLost = errors.New("sync lock lost")

// RunErrorCode categorizes run errors.
type RunErrorCode string

const (
	// ErrCodeInvalidParameters indicates neither sync nor execute was requested.
	ErrCodeInvalidParameters RunErrorCode = "INVALID_PARAMETERS"

	// ErrCodeLockUnavailable indicates the sync lock is held elsewhere or the
	// lock backend failed.
	ErrCodeLockUnavailable RunErrorCode = "LOCK_UNAVAILABLE"

	// ErrCodeStoreUnavailable indicates the event store failed.
	ErrCodeStoreUnavailable RunErrorCode = "STORE_UNAVAILABLE"

	// ErrCodeCancelled indicates the run context was cancelled.
	ErrCodeCancelled RunErrorCode = "CANCELLED"

	// ErrCodeFatalMapping indicates a mapper asked to stop the run.
	ErrCodeFatalMapping RunErrorCode = "FATAL_MAPPING"
)

// Error implements the error interface.
func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Phase != "" {
		msg = fmt.Sprintf("%s (phase=%s)", msg, e.Phase)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RunError) Unwrap() error {
	return e.Err
}

// IsRunError reports whether err is a RunError with code.
// Uses errors.As to handle wrapped errors.
func IsRunError(err error, code RunErrorCode) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}
