package canary

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the orchestrator's Prometheus collectors.
//
// Metrics:
//   - rolloutd_canary_runs{status} - runs currently in each status
//   - rolloutd_canary_rollbacks_total{trigger,degraded} - completed rollbacks
//   - rolloutd_canary_promotions_total{mode} - successful promotions
//   - rolloutd_canary_dry_run_failures_total{check} - failed dry-run checks
type Metrics struct {
	Runs           *prometheus.GaugeVec
	Rollbacks      *prometheus.CounterVec
	Promotions     *prometheus.CounterVec
	DryRunFailures *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg, or with the default
// registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Runs: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "rolloutd",
				Subsystem: "canary",
				Name:      "runs",
				Help:      "Canary runs by current status",
			},
			[]string{"status"},
		),
		Rollbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rolloutd",
				Subsystem: "canary",
				Name:      "rollbacks_total",
				Help:      "Canary rollbacks by trigger",
			},
			[]string{"trigger", "degraded"},
		),
		Promotions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rolloutd",
				Subsystem: "canary",
				Name:      "promotions_total",
				Help:      "Successful canary promotions",
			},
			[]string{"mode"}, // "manual" or "auto"
		),
		DryRunFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rolloutd",
				Subsystem: "canary",
				Name:      "dry_run_failures_total",
				Help:      "Failed dry-run checks",
			},
			[]string{"check"},
		),
	}
}

func (m *Metrics) moved(from, to Status) {
	if m == nil {
		return
	}
	if from != "" {
		m.Runs.WithLabelValues(string(from)).Dec()
	}
	m.Runs.WithLabelValues(string(to)).Inc()
}
