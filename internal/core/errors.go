package core

import (
	"errors"
	"fmt"
)

// Sentinel errors callers branch on.
var (
	// ErrResponseNotFound is returned by stores when no record matches.
	ErrResponseNotFound = errors.New("threat response not found")
	// ErrInvalidTransition is returned when a status change violates the
	// response state machine.
	ErrInvalidTransition = errors.New("invalid response status transition")
	// ErrValidation wraps rejected ThreatData or ResponseAction input.
	ErrValidation = errors.New("validation failed")
)

// PersistenceError is the one failure class allowed to propagate out of an
// orchestration: an unrecorded state transition is unsafe to continue past.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistenceError reports whether err is (or wraps) a PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
