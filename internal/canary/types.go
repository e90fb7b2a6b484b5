package canary

import (
	"time"

	"github.com/fyrsmithlabs/rolloutd/internal/timeline"
)

// Status is a canary run's state.
type Status string

const (
	StatusDeploying    Status = "deploying"
	StatusSmokeTesting Status = "smoke-testing"
	StatusReady        Status = "ready-for-promotion"
	StatusPromoted     Status = "promoted"
	StatusRolledBack   Status = "rolled-back"
	StatusCleanedUp    Status = "cleaned-up"
)

// Terminal reports whether the run has left the active part of its
// lifecycle. Terminal runs are never rolled back or swept.
func (s Status) Terminal() bool {
	switch s {
	case StatusPromoted, StatusRolledBack, StatusCleanedUp:
		return true
	}
	return false
}

// Change is one file change deployed by a run.
type Change struct {
	Path    string `json:"path" validate:"required,max=1024"`
	Action  string `json:"action" validate:"omitempty,oneof=create modify delete rename"`
	Content string `json:"content,omitempty" validate:"max=1048576"`
}

// CheckResult is the outcome of one dry-run check.
type CheckResult struct {
	Name   string    `json:"name"`
	Passed bool      `json:"passed"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// ProbeResult is the outcome of one smoke probe.
type ProbeResult struct {
	Name    string    `json:"name"`
	Healthy bool      `json:"healthy"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// RollbackStep is one step of a rollback.
type RollbackStep struct {
	Name    string    `json:"name"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// RollbackRecord documents one rollback. Degraded is set when any step
// failed.
type RollbackRecord struct {
	RunID       string         `json:"runId"`
	ProposalID  string         `json:"proposalId"`
	Reason      string         `json:"reason"`
	Actor       string         `json:"actor"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt"`
	Steps       []RollbackStep `json:"steps"`
	Degraded    bool           `json:"degraded"`
}

// Run is one staged deployment.
type Run struct {
	ID             string           `json:"id"`
	ProposalID     string           `json:"proposalId"`
	CorrelationID  string           `json:"correlationId"`
	Status         Status           `json:"status"`
	Branch         string           `json:"branch,omitempty"`
	Changes        []Change         `json:"changes"`
	StartTime      time.Time        `json:"startTime"`
	TTLSeconds     int64            `json:"ttlSeconds"`
	Timeline       []timeline.Event `json:"timeline"`
	DryRun         []CheckResult    `json:"dryRun,omitempty"`
	SmokeResults   []ProbeResult    `json:"smokeResults,omitempty"`
	RollbackReason string           `json:"rollbackReason,omitempty"`
	FailedCheck    string           `json:"failedCheck,omitempty"`
	Rollbacks      []RollbackRecord `json:"rollbacks,omitempty"`
	AutoPromote    bool             `json:"autoPromote"`
	UpdatedAt      time.Time        `json:"updatedAt"`

	// TimeRemaining is computed when the snapshot is taken.
	TimeRemaining float64 `json:"timeRemaining"`
}

// Remaining returns the time left before the run's TTL expires, clamped to
// zero, and zero for terminal runs.
func (r *Run) Remaining(now time.Time) time.Duration {
	if r.Status.Terminal() {
		return 0
	}
	left := r.StartTime.Add(time.Duration(r.TTLSeconds) * time.Second).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

func (r *Run) clone(now time.Time) *Run {
	c := *r
	c.Changes = append([]Change(nil), r.Changes...)
	c.Timeline = append([]timeline.Event(nil), r.Timeline...)
	c.DryRun = append([]CheckResult(nil), r.DryRun...)
	c.SmokeResults = append([]ProbeResult(nil), r.SmokeResults...)
	c.Rollbacks = make([]RollbackRecord, len(r.Rollbacks))
	for i, rb := range r.Rollbacks {
		rb.Steps = append([]RollbackStep(nil), rb.Steps...)
		c.Rollbacks[i] = rb
	}
	c.TimeRemaining = r.Remaining(now).Seconds()
	return &c
}

// StartRequest starts a canary run.
type StartRequest struct {
	ProposalID    string   `json:"proposalId" validate:"required,max=128"`
	Changes       []Change `json:"changes" validate:"required,min=1,max=1000,dive"`
	CorrelationID string   `json:"correlationId,omitempty" validate:"omitempty,max=128"`
	TTLSeconds    int64    `json:"ttlSeconds,omitempty" validate:"omitempty,min=1,max=604800"`
	AutoPromote   *bool    `json:"autoPromote,omitempty"`
	Actor         string   `json:"actor,omitempty" validate:"omitempty,max=128"`
}
