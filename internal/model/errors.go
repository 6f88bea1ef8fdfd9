package model

import "errors"

// FatalError marks a failure outside the per-event contract, such as losing
// the database connection. The execution driver stops the whole run when an
// apply returns one instead of recording it on the event.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err as a FatalError. A nil err stays nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err, or anything it wraps, is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
