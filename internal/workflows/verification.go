// Package workflows provides the Temporal workflow that verifies applied
// proposals.
package workflows

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/rolloutd/internal/lifecycle"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// PostApplyVerificationWorkflow runs the configured verification checks
// against an applied proposal.
//
// This workflow:
// 1. Validates the input
// 2. Runs each check as its own activity, in order
// 3. Records checks that could not run as failed, and keeps going
//
// The workflow only fails on invalid input. A failing check is reported in
// the result.
func PostApplyVerificationWorkflow(ctx workflow.Context, config VerificationConfig) (*VerificationResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting post-apply verification",
		"proposal", config.ProposalID,
		"correlation_id", config.CorrelationID,
		"checks", len(config.Checks))

	if err := config.Validate(); err != nil {
		werr := NewWorkflowError("validate_input", ErrorSeverityCritical, err, config.ProposalID)
		return nil, temporal.NewNonRetryableApplicationError(werr.Error(), ErrTypeInvalidInput, werr)
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeUnknownCheck},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	result := &VerificationResult{Passed: true}
	req := config.request()

	var a *Activities
	for _, name := range config.Checks {
		var check lifecycle.CheckResult
		err := workflow.ExecuteActivity(ctx, a.RunCheckActivity, CheckInput{
			Check:   name,
			Request: req,
		}).Get(ctx, &check)
		if err != nil {
			logger.Error("Verification check could not run", "check", name, "error", err)
			result.Errors = append(result.Errors, FormatErrorForResult(fmt.Sprintf("failed to run check %s", name), err))
			check = lifecycle.CheckResult{Name: name, Detail: err.Error()}
		}
		if !check.Passed {
			result.Passed = false
		}
		result.Checks = append(result.Checks, check)
	}

	logger.Info("Post-apply verification complete",
		"proposal", config.ProposalID,
		"passed", result.Passed,
		"errors", len(result.Errors))

	return result, nil
}
