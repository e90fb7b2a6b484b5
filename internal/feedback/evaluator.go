// Package feedback turns post-deploy KPI observations into outcomes and
// rollback recommendations, and keeps per-KPI outcome history.
package feedback

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Outcome classifies a KPI delta.
type Outcome string

const (
	OutcomeImproved  Outcome = "improved"
	OutcomeRegressed Outcome = "regressed"
	OutcomeNoChange  Outcome = "no-change"
)

// DefaultKPIKey is used when a caller does not name a KPI.
const DefaultKPIKey = "default"

// Thresholds are percentage deltas.
type Thresholds struct {
	Improvement      float64 `koanf:"improvement" json:"improvement"`
	Regression       float64 `koanf:"regression" json:"regression"`
	SevereRegression float64 `koanf:"severe_regression" json:"severeRegression"`
}

// Config configures the evaluator.
type Config struct {
	Thresholds      Thresholds            `koanf:"thresholds"`
	DefaultBaseline float64               `koanf:"default_baseline"`
	PerKPI          map[string]Thresholds `koanf:"per_kpi"`
	HistoryLimit    int                   `koanf:"history_limit"`
}

// DefaultConfig returns ±5% change bands and a 10% severe-regression line.
func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{
			Improvement:      5,
			Regression:       5,
			SevereRegression: 10,
		},
		DefaultBaseline: 100,
		HistoryLimit:    50,
	}
}

// Validate checks thresholds.
func (c Config) Validate() error {
	if c.DefaultBaseline == 0 {
		return fmt.Errorf("feedback.default_baseline must be non-zero")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("feedback.history_limit must be positive")
	}
	if err := c.Thresholds.validate(); err != nil {
		return fmt.Errorf("feedback.thresholds: %w", err)
	}
	for key, th := range c.PerKPI {
		if err := th.validate(); err != nil {
			return fmt.Errorf("feedback.per_kpi.%s: %w", key, err)
		}
	}
	return nil
}

func (t Thresholds) validate() error {
	if t.Improvement <= 0 || t.Regression <= 0 || t.SevereRegression <= 0 {
		return fmt.Errorf("thresholds must be positive")
	}
	if t.SevereRegression < t.Regression {
		return fmt.Errorf("severe_regression (%v) below regression (%v)", t.SevereRegression, t.Regression)
	}
	return nil
}

// Input is one KPI observation. Nil Baseline or Observed fall back to the
// configured default baseline.
type Input struct {
	ProposalID string   `json:"proposalId"`
	KPIKey     string   `json:"kpiKey,omitempty"`
	Baseline   *float64 `json:"baseline,omitempty"`
	Observed   *float64 `json:"observed,omitempty"`
}

// Record is an evaluated observation.
type Record struct {
	ProposalID          string    `json:"proposalId"`
	KPIKey              string    `json:"kpiKey"`
	Baseline            float64   `json:"baseline"`
	Observed            float64   `json:"observed"`
	Delta               float64   `json:"delta"`
	Outcome             Outcome   `json:"outcome"`
	RollbackRecommended bool      `json:"rollbackRecommended"`
	RecordedAt          time.Time `json:"recordedAt"`
}

// Evaluator computes Records. It is stateless apart from its config.
type Evaluator struct {
	cfg Config
	now func() time.Time
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(cfg Config) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{cfg: cfg, now: time.Now}, nil
}

// WithClock overrides the time source.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Evaluate computes the percentage delta and outcome for in.
func (e *Evaluator) Evaluate(in Input) Record {
	key := strings.TrimSpace(in.KPIKey)
	if key == "" {
		key = DefaultKPIKey
	}

	baseline := e.cfg.DefaultBaseline
	if in.Baseline != nil && *in.Baseline != 0 && !math.IsNaN(*in.Baseline) {
		baseline = *in.Baseline
	}
	observed := baseline
	if in.Observed != nil && !math.IsNaN(*in.Observed) {
		observed = *in.Observed
	}

	delta := (observed - baseline) / baseline * 100
	th := e.thresholds(key)

	outcome := OutcomeNoChange
	switch {
	case delta >= th.Improvement:
		outcome = OutcomeImproved
	case delta <= -th.Regression:
		outcome = OutcomeRegressed
	}

	return Record{
		ProposalID:          in.ProposalID,
		KPIKey:              key,
		Baseline:            baseline,
		Observed:            observed,
		Delta:               round4(delta),
		Outcome:             outcome,
		RollbackRecommended: outcome == OutcomeRegressed && math.Abs(delta) >= th.SevereRegression,
		RecordedAt:          e.now().UTC(),
	}
}

func (e *Evaluator) thresholds(key string) Thresholds {
	if th, ok := e.cfg.PerKPI[key]; ok {
		return th
	}
	return e.cfg.Thresholds
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
