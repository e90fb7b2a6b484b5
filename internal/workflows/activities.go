package workflows

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/rolloutd/internal/lifecycle"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

// Activities holds the verification checks a worker can run.
type Activities struct {
	checks map[string]lifecycle.Check
	order  []string
}

// NewActivities registers checks by name. With no checks it uses
// lifecycle.DefaultChecks.
func NewActivities(checks ...lifecycle.Check) *Activities {
	if len(checks) == 0 {
		checks = lifecycle.DefaultChecks()
	}
	a := &Activities{checks: make(map[string]lifecycle.Check, len(checks))}
	for _, c := range checks {
		if _, dup := a.checks[c.Name]; !dup {
			a.order = append(a.order, c.Name)
		}
		a.checks[c.Name] = c
	}
	return a
}

// CheckNames returns the registered check names in registration order.
func (a *Activities) CheckNames() []string {
	return append([]string(nil), a.order...)
}

// RunCheckActivity runs one named check. A check that reports a problem
// yields a failed result, not an error. Errors are reserved for checks
// that could not run: unknown names are not retried, cancellation is.
func (a *Activities) RunCheckActivity(ctx context.Context, input CheckInput) (lifecycle.CheckResult, error) {
	start := time.Now()
	attrs := metric.WithAttributes(attribute.String("check", input.Check))
	defer func() {
		activityDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}()

	check, ok := a.checks[input.Check]
	if !ok {
		activityErrorCounter.Add(ctx, 1, attrs)
		return lifecycle.CheckResult{}, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("unknown verification check %q", input.Check), ErrTypeUnknownCheck, nil)
	}

	activity.GetLogger(ctx).Info("Running verification check",
		"check", input.Check,
		"proposal", input.Request.ProposalID)

	res := lifecycle.CheckResult{Name: input.Check, Passed: true}
	if err := check.Run(ctx, input.Request); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			activityErrorCounter.Add(ctx, 1, attrs)
			return lifecycle.CheckResult{}, fmt.Errorf("check %s interrupted: %w", input.Check, ctxErr)
		}
		res.Passed = false
		res.Detail = err.Error()
	}
	return res, nil
}
