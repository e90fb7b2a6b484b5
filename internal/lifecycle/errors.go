package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/rolloutd/internal/guard"
	"github.com/fyrsmithlabs/rolloutd/internal/risk"
)

var (
	// ErrNotFound is returned for unknown proposal IDs.
	ErrNotFound = errors.New("proposal not found")

	// ErrInvalidTransition is returned when an operation is not valid from
	// the proposal's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// TransitionError details an invalid transition.
type TransitionError struct {
	ProposalID string
	Op         string
	From       Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s proposal %s in status %s", e.Op, e.ProposalID, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// GuardBlockedError is returned when any file in the proposal is denied by
// the guard. It is never retried.
type GuardBlockedError struct {
	ProposalID string
	Violations []guard.Verdict
}

func (e *GuardBlockedError) Error() string {
	paths := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		paths[i] = fmt.Sprintf("%s (%s)", v.Path, v.Rule)
	}
	return fmt.Sprintf("proposal %s blocked by guard: %s", e.ProposalID, strings.Join(paths, ", "))
}

// RiskIneligibleError is returned when the risk assessment forbids
// approval.
type RiskIneligibleError struct {
	ProposalID string
	Level      risk.Level
	Score      int
	ReasonCode string
	Reason     string
}

func (e *RiskIneligibleError) Error() string {
	return fmt.Sprintf("proposal %s is not eligible (%s): %s", e.ProposalID, e.ReasonCode, e.Reason)
}

// FieldError is one rejected ingress field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError rejects a malformed request before it reaches the
// classifier.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "invalid proposal: " + strings.Join(parts, "; ")
}
