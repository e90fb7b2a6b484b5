package workflows

import (
	"fmt"
)

// ErrorSeverity classifies a verification workflow error.
type ErrorSeverity string

const (
	// ErrorSeverityCritical fails the workflow.
	ErrorSeverityCritical ErrorSeverity = "critical"
	// ErrorSeverityHigh is recorded in the result; the workflow continues.
	ErrorSeverityHigh ErrorSeverity = "high"
	// ErrorSeverityLow is only logged.
	ErrorSeverityLow ErrorSeverity = "low"
)

// Application error types raised by the verification workflow.
const (
	ErrTypeInvalidInput = "InvalidInput"
	ErrTypeUnknownCheck = "UnknownCheck"
)

// WorkflowError represents a structured error in a workflow
type WorkflowError struct {
	Operation string        // e.g. "validate_input", "run_check"
	Severity  ErrorSeverity // How severe the error is
	Err       error         // The underlying error
	Context   string        // Proposal or check the error relates to
}

// Error implements the error interface
func (e *WorkflowError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s failed: %s (%s)", e.Operation, e.Err.Error(), e.Context)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Err.Error())
}

// Unwrap allows errors.Is and errors.As to work with WorkflowError
func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// NewWorkflowError creates a new workflow error with context
func NewWorkflowError(operation string, severity ErrorSeverity, err error, context string) *WorkflowError {
	return &WorkflowError{
		Operation: operation,
		Severity:  severity,
		Err:       err,
		Context:   context,
	}
}

// FormatErrorForResult formats an error for the result's Errors slice.
func FormatErrorForResult(operation string, err error) string {
	return fmt.Sprintf("%s: %v", operation, err)
}

// ErrorHandlingGuidelines documents how the verification workflow treats
// errors.
//
// CRITICAL (fail the workflow):
//   - Invalid input: no proposal ID or no checks to run
//   - Pattern: return a non-retryable application error
//
// HIGH (record but continue):
//   - A check activity that failed after its retries, or named an unknown check
//   - Pattern: mark the check failed with the error as detail, append to
//     result.Errors, run the remaining checks
//
// LOW (log only):
//   - Metric recording failures
//
// A check that runs and reports a problem is not an error at all: it is a
// failed CheckResult.
