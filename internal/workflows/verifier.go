package workflows

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/rolloutd/internal/lifecycle"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.temporal.io/sdk/client"
)

// TemporalVerifier implements lifecycle.Verifier by running
// PostApplyVerificationWorkflow and waiting for its result.
type TemporalVerifier struct {
	client    client.Client
	taskQueue string
	checks    []string
}

// NewTemporalVerifier creates a verifier that runs checks on taskQueue.
func NewTemporalVerifier(c client.Client, taskQueue string, checks []string) *TemporalVerifier {
	if taskQueue == "" {
		taskQueue = TaskQueue
	}
	return &TemporalVerifier{client: c, taskQueue: taskQueue, checks: checks}
}

// Verify implements lifecycle.Verifier.
func (v *TemporalVerifier) Verify(ctx context.Context, req lifecycle.VerificationRequest) (report lifecycle.VerificationReport, err error) {
	start := time.Now()
	defer func() {
		outcome := "passed"
		switch {
		case err != nil:
			outcome = "error"
		case !report.Passed:
			outcome = "failed"
		}
		attrs := metric.WithAttributes(attribute.String("outcome", outcome))
		verificationCounter.Add(ctx, 1, attrs)
		verificationDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}()

	opts := client.StartWorkflowOptions{
		ID:        "verify-" + req.ProposalID,
		TaskQueue: v.taskQueue,
	}
	run, err := v.client.ExecuteWorkflow(ctx, opts, PostApplyVerificationWorkflow, VerificationConfig{
		ProposalID:    req.ProposalID,
		CorrelationID: req.CorrelationID,
		Paths:         req.Paths,
		Feedback:      req.Feedback,
		Checks:        v.checks,
	})
	if err != nil {
		return lifecycle.VerificationReport{}, fmt.Errorf("failed to start verification workflow: %w", err)
	}

	var result VerificationResult
	if err := run.Get(ctx, &result); err != nil {
		return lifecycle.VerificationReport{}, fmt.Errorf("verification workflow failed: %w", err)
	}
	return result.Report(), nil
}
