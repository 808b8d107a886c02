// Package streamerr defines the error taxonomy shared by the coordinator,
// presence tracker, chat feed and analytics aggregator. Callers classify
// errors with errors.Is against the sentinels; wrapped detail rides along.
package streamerr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks an unknown session or viewer reference.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks an invariant violation, e.g. a second non-ended
	// session for the same group session.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState marks an operation not legal in the current
	// lifecycle state.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidTransition marks an illegal state-machine edge.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrCapacityExceeded marks a join rejected because the viewer cap
	// is reached.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrStorage marks a backing-store failure after bounded retries.
	ErrStorage = errors.New("storage failure")
)

// NotFound wraps ErrNotFound with a formatted detail message.
func NotFound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrNotFound, args)...)
}

// Conflict wraps ErrConflict with a formatted detail message.
func Conflict(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrConflict, args)...)
}

// InvalidState wraps ErrInvalidState with a formatted detail message.
func InvalidState(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrInvalidState, args)...)
}

// InvalidTransition wraps ErrInvalidTransition with a formatted detail message.
func InvalidTransition(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrInvalidTransition, args)...)
}

// CapacityExceeded wraps ErrCapacityExceeded with a formatted detail message.
func CapacityExceeded(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, prepend(ErrCapacityExceeded, args)...)
}

// Storage wraps ErrStorage around an underlying store error.
func Storage(err error) error {
	return fmt.Errorf("%w: %v", ErrStorage, err)
}

func prepend(err error, args []interface{}) []interface{} {
	return append([]interface{}{err}, args...)
}
