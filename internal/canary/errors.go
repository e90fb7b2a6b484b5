package canary

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown run IDs.
	ErrNotFound = errors.New("canary run not found")

	// ErrInvalidState is returned when an operation is not valid in the
	// run's current status.
	ErrInvalidState = errors.New("invalid canary state")

	// ErrInvalidRequest is returned for malformed start requests.
	ErrInvalidRequest = errors.New("invalid canary request")

	// ErrNotAdmitted is returned when the admission check rejects the
	// proposal.
	ErrNotAdmitted = errors.New("proposal not admitted for canary")
)

// StateError details an operation attempted in the wrong status.
type StateError struct {
	RunID  string
	Op     string
	Status Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s canary %s in status %s", e.Op, e.RunID, e.Status)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }
