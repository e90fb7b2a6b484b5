package lifecycle

import (
	"time"

	"github.com/fyrsmithlabs/rolloutd/internal/feedback"
	"github.com/fyrsmithlabs/rolloutd/internal/guard"
	"github.com/fyrsmithlabs/rolloutd/internal/risk"
	"github.com/fyrsmithlabs/rolloutd/internal/timeline"
)

// Status is a proposal's lifecycle state.
type Status string

const (
	StatusPending       Status = "pending"
	StatusApproved      Status = "approved"
	StatusDeclined      Status = "declined"
	StatusEdited        Status = "edited"
	StatusApplied       Status = "applied"
	StatusNeedsRollback Status = "needs_rollback"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusDeclined, StatusEdited, StatusApplied, StatusNeedsRollback:
		return true
	}
	return false
}

// Change types accepted at ingress.
var ChangeTypes = []string{"security", "performance", "bugfix", "feature", "refactor", "style"}

// FileChange is one file a proposal touches.
type FileChange struct {
	Path    string `json:"path" validate:"required,max=1024"`
	Action  string `json:"action" validate:"required,oneof=create modify delete rename"`
	Content string `json:"content,omitempty" validate:"max=1048576"`
}

// StatusChange is one entry of a proposal's status history.
type StatusChange struct {
	Status    Status    `json:"status"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

// Proposal is a candidate code change.
type Proposal struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Description     string            `json:"description,omitempty"`
	Summary         string            `json:"summary,omitempty"`
	Type            string            `json:"type"`
	Scope           []string          `json:"scope"`
	Files           []FileChange      `json:"files"`
	Diff            string            `json:"diff,omitempty"`
	KPIKey          string            `json:"kpiKey,omitempty"`
	Status          Status            `json:"status"`
	StatusHistory   []StatusChange    `json:"statusHistory"`
	RiskAssessment  risk.Assessment   `json:"riskAssessment"`
	CorrelationID   string            `json:"correlationId"`
	FeedbackHistory []feedback.Record `json:"feedbackHistory,omitempty"`
	Timeline        []timeline.Event  `json:"timeline"`
	SubmittedBy     string            `json:"submittedBy,omitempty"`
	Warnings        []string          `json:"warnings,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Paths returns the proposal's file paths in order.
func (p *Proposal) Paths() []string {
	out := make([]string, len(p.Files))
	for i, f := range p.Files {
		out[i] = f.Path
	}
	return out
}

// Operations converts the file list into guard operations.
func (p *Proposal) Operations() []guard.FileOperation {
	out := make([]guard.FileOperation, len(p.Files))
	for i, f := range p.Files {
		out[i] = guard.FileOperation{Path: f.Path, Operation: f.Action, Content: f.Content}
	}
	return out
}

func (p *Proposal) clone() *Proposal {
	c := *p
	c.Scope = append([]string(nil), p.Scope...)
	c.Files = append([]FileChange(nil), p.Files...)
	c.StatusHistory = append([]StatusChange(nil), p.StatusHistory...)
	c.FeedbackHistory = append([]feedback.Record(nil), p.FeedbackHistory...)
	c.Timeline = append([]timeline.Event(nil), p.Timeline...)
	c.Warnings = append([]string(nil), p.Warnings...)
	c.RiskAssessment.Reasons = append([]string(nil), p.RiskAssessment.Reasons...)
	return &c
}

// SubmitRequest is the ingress shape of a new proposal.
type SubmitRequest struct {
	Title         string       `json:"title" validate:"required,max=200"`
	Description   string       `json:"description" validate:"max=20000"`
	Summary       string       `json:"summary" validate:"max=5000"`
	Type          string       `json:"type" validate:"required,oneof=security performance bugfix feature refactor style"`
	Scope         []string     `json:"scope" validate:"max=32,dive,required,max=64"`
	Files         []FileChange `json:"files" validate:"required,min=1,max=1000,dive"`
	Diff          string       `json:"diff,omitempty" validate:"max=4194304"`
	KPIKey        string       `json:"kpiKey,omitempty" validate:"omitempty,max=128"`
	CorrelationID string       `json:"correlationId,omitempty" validate:"omitempty,max=128"`
	SubmittedBy   string       `json:"submittedBy,omitempty" validate:"omitempty,max=128"`
}

// EditRequest carries the fields a resubmission may replace. Nil fields
// are left unchanged.
type EditRequest struct {
	Title       *string      `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string      `json:"description,omitempty" validate:"omitempty,max=20000"`
	Summary     *string      `json:"summary,omitempty" validate:"omitempty,max=5000"`
	Type        *string      `json:"type,omitempty" validate:"omitempty,oneof=security performance bugfix feature refactor style"`
	Scope       []string     `json:"scope,omitempty" validate:"max=32,dive,required,max=64"`
	Files       []FileChange `json:"files,omitempty" validate:"max=1000,dive"`
	Diff        *string      `json:"diff,omitempty" validate:"omitempty,max=4194304"`
	Note        string       `json:"note,omitempty" validate:"max=2000"`
}

// ApplyOptions supplies the KPI observation evaluated on apply.
type ApplyOptions struct {
	KPIKey   string   `json:"kpiKey,omitempty" validate:"omitempty,max=128"`
	Baseline *float64 `json:"baseline,omitempty"`
	Observed *float64 `json:"observed,omitempty"`
}

// Result is returned by every lifecycle operation.
type Result struct {
	ProposalID     string           `json:"proposalId"`
	Status         Status           `json:"status"`
	PreviousStatus Status           `json:"previousStatus,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
	CorrelationID  string           `json:"correlationId"`
	Changed        bool             `json:"changed"`
	ReviewPaths    []string         `json:"reviewPaths,omitempty"`
	Feedback       *feedback.Record `json:"feedback,omitempty"`
	Risk           *risk.Assessment `json:"risk,omitempty"`
	Warnings       []string         `json:"warnings,omitempty"`
}

// ListFilter narrows List.
type ListFilter struct {
	Status Status
}
