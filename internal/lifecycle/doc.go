// Package lifecycle owns proposals from submission to application.
//
// A proposal is scored by the risk classifier when it is submitted, checked
// against the file guard when it is approved, and evaluated against its KPI
// when it is applied. Every transition appends exactly one status history
// entry, a timeline event and an audit log entry. Operations on the same
// proposal are serialized by a per-proposal lock; operations on different
// proposals run concurrently.
//
// Transitions:
//
//	pending  --approve-->      approved --apply--> applied --(severe regression)--> needs_rollback
//	pending  --decline-->      declined
//	pending  --request-edit--> edited   --resubmit--> pending
//	edited   --apply-->        applied
//
// Post-apply verification runs in a supervised background task. Its outcome
// is only ever recorded on the timeline and in the audit log.
package lifecycle
