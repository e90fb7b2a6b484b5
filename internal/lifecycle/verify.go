package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/rolloutd/internal/feedback"
)

// VerificationRequest describes an applied proposal to verify.
type VerificationRequest struct {
	ProposalID    string           `json:"proposalId"`
	CorrelationID string           `json:"correlationId"`
	Paths         []string         `json:"paths"`
	Feedback      *feedback.Record `json:"feedback,omitempty"`
}

// CheckResult is the outcome of one verification check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// VerificationReport summarizes a verification run.
type VerificationReport struct {
	Passed bool          `json:"passed"`
	Checks []CheckResult `json:"checks"`
}

// Failed returns the names of the failed checks.
func (r VerificationReport) Failed() []string {
	var out []string
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c.Name)
		}
	}
	return out
}

// Verifier checks an applied proposal after the apply call has returned.
// An error means verification could not be completed; a report with
// Passed=false means it completed and found problems.
type Verifier interface {
	Verify(ctx context.Context, req VerificationRequest) (VerificationReport, error)
}

// Check is a named in-process verification step.
type Check struct {
	Name string
	Run  func(ctx context.Context, req VerificationRequest) error
}

// CheckVerifier runs its checks in order. Every check runs even if an
// earlier one failed.
type CheckVerifier struct {
	checks []Check
}

// NewCheckVerifier creates a verifier from checks. With no checks it uses
// DefaultChecks.
func NewCheckVerifier(checks ...Check) *CheckVerifier {
	if len(checks) == 0 {
		checks = DefaultChecks()
	}
	return &CheckVerifier{checks: checks}
}

// DefaultChecks verifies that the proposal touched files and that its KPI
// did not regress severely.
func DefaultChecks() []Check {
	return []Check{
		{
			Name: "files-recorded",
			Run: func(_ context.Context, req VerificationRequest) error {
				if len(req.Paths) == 0 {
					return fmt.Errorf("no files recorded")
				}
				return nil
			},
		},
		{
			Name: "kpi-within-threshold",
			Run: func(_ context.Context, req VerificationRequest) error {
				if req.Feedback != nil && req.Feedback.RollbackRecommended {
					return fmt.Errorf("%s regressed by %.2f%%", req.Feedback.KPIKey, -req.Feedback.Delta)
				}
				return nil
			},
		},
	}
}

// Verify implements Verifier.
func (v *CheckVerifier) Verify(ctx context.Context, req VerificationRequest) (VerificationReport, error) {
	report := VerificationReport{Passed: true, Checks: make([]CheckResult, 0, len(v.checks))}
	for _, c := range v.checks {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res := CheckResult{Name: c.Name, Passed: true}
		if err := c.Run(ctx, req); err != nil {
			res.Passed = false
			res.Detail = err.Error()
			report.Passed = false
		}
		report.Checks = append(report.Checks, res)
	}
	return report, nil
}

func describeReport(r VerificationReport) string {
	if r.Passed {
		return fmt.Sprintf("verification passed (%d checks)", len(r.Checks))
	}
	return "verification failed: " + strings.Join(r.Failed(), ", ")
}
