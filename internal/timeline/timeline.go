// Package timeline defines the human-readable event vocabulary shared by
// proposals, canary runs and the audit log.
package timeline

import "time"

// Event is a single timeline entry.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
}

// New returns an Event stamped with at.
func New(at time.Time, typ, message string) Event {
	return Event{Timestamp: at.UTC(), Type: typ, Message: message}
}

// Proposal event types.
const (
	ProposalSubmitted       = "submitted"
	ProposalApproved        = "approved"
	ProposalApprovalBlocked = "approval-blocked"
	ProposalDeclined        = "declined"
	ProposalEditRequested   = "edit-requested"
	ProposalResubmitted     = "resubmitted"
	ProposalApplied         = "applied"
	ReviewRequired          = "review-required"
	ClassificationFailed    = "classification-failed"
	FeedbackRecorded        = "feedback-recorded"
	RollbackRecommended     = "rollback-recommended"
	VerificationStarted     = "verification-started"
	VerificationSucceeded   = "verification-succeeded"
	VerificationFailed      = "verification-failed"
)

// Canary event types.
const (
	DeployStarted      = "deploy-started"
	DeployFailed       = "deploy-failed"
	DryRunPassed       = "dry-run-passed"
	DryRunFailed       = "dry-run-failed"
	SmokeTestStarted   = "smoke-test-started"
	SmokeTestPassed    = "smoke-test-passed"
	SmokeTestFailed    = "smoke-test-failed"
	PromotionScheduled = "promotion-scheduled"
	PromotionCancelled = "promotion-cancelled"
	PromotionStarted   = "promotion-started"
	PromotionFailed    = "promotion-failed"
	Promoted           = "promoted"
	RollbackStarted    = "rollback-started"
	RollbackStep       = "rollback-step"
	RollbackCompleted  = "rollback-completed"
	RollbackDegraded   = "rollback-degraded"
	TTLExpired         = "ttl-expired"
	CleanedUp          = "cleaned-up"
)
