package workflows

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/rolloutd/internal/workflows"

// Metrics for the verification workflow
var (
	verificationCounter  metric.Int64Counter
	verificationDuration metric.Float64Histogram
	activityDuration     metric.Float64Histogram
	activityErrorCounter metric.Int64Counter
)

// initMetrics initializes OpenTelemetry metrics for workflows.
// This is called once during package initialization.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	verificationCounter, err = meter.Int64Counter(
		"rolloutd.workflows.verification.executions",
		metric.WithDescription("Post-apply verification executions by outcome"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create verification counter: %v", err))
	}

	verificationDuration, err = meter.Float64Histogram(
		"rolloutd.workflows.verification.duration",
		metric.WithDescription("Duration of post-apply verification as seen by the caller"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create verification duration: %v", err))
	}

	activityDuration, err = meter.Float64Histogram(
		"rolloutd.workflows.activity.duration",
		metric.WithDescription("Duration of verification check activities"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity duration: %v", err))
	}

	activityErrorCounter, err = meter.Int64Counter(
		"rolloutd.workflows.activity.errors",
		metric.WithDescription("Verification check activities that returned an error"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity error counter: %v", err))
	}
}

func init() {
	initMetrics()
}
