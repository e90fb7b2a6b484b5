package workflows

import (
	"errors"

	"github.com/fyrsmithlabs/rolloutd/internal/feedback"
	"github.com/fyrsmithlabs/rolloutd/internal/lifecycle"
)

// TaskQueue is the default task queue for verification workflows.
const TaskQueue = "rollout-verification"

// VerificationConfig configures one post-apply verification run.
type VerificationConfig struct {
	ProposalID    string           // Applied proposal
	CorrelationID string           // Carried into every activity
	Paths         []string         // Files the proposal changed
	Feedback      *feedback.Record // KPI record from apply, if any
	Checks        []string         // Check names, run in order
}

// Validate checks that all required fields are set.
func (c *VerificationConfig) Validate() error {
	if c.ProposalID == "" {
		return errors.New("ProposalID is required")
	}
	if len(c.Checks) == 0 {
		return errors.New("at least one check is required")
	}
	return nil
}

func (c *VerificationConfig) request() lifecycle.VerificationRequest {
	return lifecycle.VerificationRequest{
		ProposalID:    c.ProposalID,
		CorrelationID: c.CorrelationID,
		Paths:         c.Paths,
		Feedback:      c.Feedback,
	}
}

// VerificationResult contains the per-check results.
type VerificationResult struct {
	Passed bool                    // Every check ran and passed
	Checks []lifecycle.CheckResult // One entry per configured check
	Errors []string                // Checks that could not run
}

// Report converts the result into a lifecycle report.
func (r *VerificationResult) Report() lifecycle.VerificationReport {
	return lifecycle.VerificationReport{
		Passed: r.Passed,
		Checks: append([]lifecycle.CheckResult(nil), r.Checks...),
	}
}

// CheckInput is the input of RunCheckActivity.
type CheckInput struct {
	Check   string
	Request lifecycle.VerificationRequest
}
