package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/rolloutd/internal/eventlog"
	"github.com/fyrsmithlabs/rolloutd/internal/feedback"
	"github.com/fyrsmithlabs/rolloutd/internal/guard"
	"github.com/fyrsmithlabs/rolloutd/internal/keylock"
	"github.com/fyrsmithlabs/rolloutd/internal/logging"
	"github.com/fyrsmithlabs/rolloutd/internal/risk"
	"github.com/fyrsmithlabs/rolloutd/internal/tasks"
	"github.com/fyrsmithlabs/rolloutd/internal/timeline"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/rolloutd/internal/lifecycle"

// SystemActor is recorded when no actor is supplied.
const SystemActor = "system"

// Config configures the Manager.
type Config struct {
	// FeedbackEnabled evaluates KPI feedback on apply.
	FeedbackEnabled bool `koanf:"feedback_enabled"`

	// RegressionWindow is how many recent outcomes on a KPI are consulted
	// when scoring a new proposal.
	RegressionWindow int `koanf:"regression_window"`

	// VerifyTimeout bounds each post-apply verification.
	VerifyTimeout time.Duration `koanf:"verify_timeout"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		FeedbackEnabled:  true,
		RegressionWindow: 5,
		VerifyTimeout:    2 * time.Minute,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.RegressionWindow < 0 {
		return fmt.Errorf("lifecycle.regression_window must not be negative")
	}
	if c.VerifyTimeout <= 0 {
		return fmt.Errorf("lifecycle.verify_timeout must be positive")
	}
	return nil
}

// Deps are the Manager's collaborators. Classifier, Guard, Evaluator,
// Audit and Tasks are required.
type Deps struct {
	Classifier *risk.Classifier
	Guard      *guard.Validator
	Evaluator  *feedback.Evaluator
	History    *feedback.History
	Audit      *eventlog.Log
	Tasks      *tasks.Supervisor
	Verifier   Verifier
	Logger     *logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides proposal ID generation.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) { m.newID = gen }
}

// Manager owns the proposal table.
type Manager struct {
	cfg        Config
	classifier *risk.Classifier
	guard      *guard.Validator
	evaluator  *feedback.Evaluator
	history    *feedback.History
	audit      *eventlog.Log
	tasks      *tasks.Supervisor
	verifier   Verifier
	logger     *logging.Logger
	now        func() time.Time
	newID      func() string

	locks     *keylock.Locker
	mu        sync.RWMutex
	proposals map[string]*Proposal
	order     []string

	tracer      trace.Tracer
	transitions metric.Int64Counter
	blocked     metric.Int64Counter
}

// NewManager creates a Manager.
func NewManager(cfg Config, deps Deps, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Classifier == nil:
		return nil, errors.New("risk classifier is required")
	case deps.Guard == nil:
		return nil, errors.New("guard validator is required")
	case deps.Evaluator == nil:
		return nil, errors.New("feedback evaluator is required")
	case deps.Audit == nil:
		return nil, errors.New("audit log is required")
	case deps.Tasks == nil:
		return nil, errors.New("task supervisor is required")
	}
	if deps.History == nil {
		deps.History = feedback.NewHistory(0)
	}
	if deps.Verifier == nil {
		deps.Verifier = NewCheckVerifier()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}

	m := &Manager{
		cfg:        cfg,
		classifier: deps.Classifier,
		guard:      deps.Guard,
		evaluator:  deps.Evaluator,
		history:    deps.History,
		audit:      deps.Audit,
		tasks:      deps.Tasks,
		verifier:   deps.Verifier,
		logger:     deps.Logger,
		now:        time.Now,
		newID:      uuid.NewString,
		locks:      keylock.New(),
		proposals:  make(map[string]*Proposal),
		tracer:     otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initMetrics()
	return m, nil
}

func (m *Manager) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error

	m.transitions, err = meter.Int64Counter(
		"rolloutd.proposals.transitions_total",
		metric.WithDescription("Proposal status transitions"),
	)
	if err != nil {
		m.logger.Warn(context.Background(), "failed to create transitions counter", zap.Error(err))
	}

	m.blocked, err = meter.Int64Counter(
		"rolloutd.proposals.blocked_total",
		metric.WithDescription("Approvals or applies blocked by the guard or risk gate"),
	)
	if err != nil {
		m.logger.Warn(context.Background(), "failed to create blocked counter", zap.Error(err))
	}
}

// Submit validates, classifies and stores a new proposal in pending.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (_ *Proposal, err error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.Submit")
	defer func() { endSpan(span, err) }()

	NormalizeSubmit(&req)
	if err := Validate(req); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	p := &Proposal{
		ID:            m.newID(),
		Title:         req.Title,
		Description:   req.Description,
		Summary:       req.Summary,
		Type:          req.Type,
		Scope:         req.Scope,
		Files:         req.Files,
		Diff:          req.Diff,
		KPIKey:        req.KPIKey,
		CorrelationID: req.CorrelationID,
		SubmittedBy:   req.SubmittedBy,
		CreatedAt:     now,
	}
	if p.CorrelationID == "" {
		p.CorrelationID = uuid.NewString()
	}
	actor := p.SubmittedBy
	if actor == "" {
		actor = SystemActor
	}
	span.SetAttributes(attribute.String("proposal.id", p.ID))
	ctx = logging.WithCorrelationID(logging.WithProposalID(ctx, p.ID), p.CorrelationID)

	unlock := m.locks.Lock(p.ID)
	defer unlock()

	m.assess(ctx, p)
	m.transition(ctx, p, StatusPending, actor, "", timeline.ProposalSubmitted,
		fmt.Sprintf("Proposal submitted by %s (risk %s, score %d)", actor, p.RiskAssessment.Level, p.RiskAssessment.Score))
	m.noteRisk(ctx, p)

	m.mu.Lock()
	m.proposals[p.ID] = p
	m.order = append(m.order, p.ID)
	m.mu.Unlock()

	m.logger.Info(ctx, "proposal submitted",
		zap.String("type", p.Type),
		zap.Int("files", len(p.Files)),
		zap.String("risk_level", string(p.RiskAssessment.Level)),
		zap.Int("risk_score", p.RiskAssessment.Score))
	return p.clone(), nil
}

// Approve moves a pending proposal to approved once the guard and risk
// gates pass.
func (m *Manager) Approve(ctx context.Context, id, actor string) (res Result, err error) {
	ctx, span := m.startOp(ctx, "lifecycle.Approve", id)
	defer func() { endSpan(span, err) }()

	unlock := m.locks.Lock(id)
	defer unlock()

	p, err := m.lookup(id)
	if err != nil {
		return Result{}, err
	}
	switch p.Status {
	case StatusApproved, StatusApplied, StatusNeedsRollback, StatusDeclined:
		return m.result(p, "", false), nil
	case StatusPending:
	default:
		return Result{}, &TransitionError{ProposalID: id, Op: "approve", From: p.Status}
	}

	actor = actorOrSystem(actor)
	ctx = m.scoped(ctx, p, actor)
	review, err := m.gate(ctx, p, "approve")
	if err != nil {
		return Result{}, err
	}

	prev := p.Status
	m.transition(ctx, p, StatusApproved, actor, "", timeline.ProposalApproved, "Proposal approved by "+actor)
	m.logger.Info(ctx, "proposal approved", zap.Int("review_paths", len(review)))

	res = m.result(p, prev, true)
	res.ReviewPaths = review
	return res, nil
}

// Apply moves an approved or edited proposal to applied, evaluates KPI
// feedback and schedules post-apply verification.
func (m *Manager) Apply(ctx context.Context, id, actor string, opts ApplyOptions) (res Result, err error) {
	ctx, span := m.startOp(ctx, "lifecycle.Apply", id)
	defer func() { endSpan(span, err) }()

	opts.KPIKey = strings.TrimSpace(opts.KPIKey)
	if err := Validate(opts); err != nil {
		return Result{}, err
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	p, err := m.lookup(id)
	if err != nil {
		return Result{}, err
	}

	actor = actorOrSystem(actor)
	ctx = m.scoped(ctx, p, actor)

	var review []string
	switch p.Status {
	case StatusApplied, StatusNeedsRollback, StatusDeclined:
		return m.result(p, "", false), nil
	case StatusApproved:
	case StatusEdited:
		// No approval happened, so the approval gates apply here.
		review, err = m.gate(ctx, p, "apply")
		if err != nil {
			return Result{}, err
		}
	default:
		return Result{}, &TransitionError{ProposalID: id, Op: "apply", From: p.Status}
	}

	prev := p.Status
	m.transition(ctx, p, StatusApplied, actor, "", timeline.ProposalApplied, "Proposal applied by "+actor)

	var rec *feedback.Record
	if m.cfg.FeedbackEnabled {
		rec = m.recordFeedback(ctx, p, opts)
	}
	m.scheduleVerification(ctx, p, rec)

	m.logger.Info(ctx, "proposal applied", zap.String("status", string(p.Status)))
	res = m.result(p, prev, true)
	res.ReviewPaths = review
	res.Feedback = rec
	return res, nil
}

// Decline moves a pending proposal to declined.
func (m *Manager) Decline(ctx context.Context, id, actor, reason string) (res Result, err error) {
	ctx, span := m.startOp(ctx, "lifecycle.Decline", id)
	defer func() { endSpan(span, err) }()

	unlock := m.locks.Lock(id)
	defer unlock()

	p, err := m.lookup(id)
	if err != nil {
		return Result{}, err
	}
	switch p.Status {
	case StatusDeclined:
		return m.result(p, "", false), nil
	case StatusPending:
	default:
		return Result{}, &TransitionError{ProposalID: id, Op: "decline", From: p.Status}
	}

	actor = actorOrSystem(actor)
	ctx = m.scoped(ctx, p, actor)
	reason = strings.TrimSpace(reason)
	msg := "Proposal declined by " + actor
	if reason != "" {
		msg += ": " + reason
	}

	prev := p.Status
	m.transition(ctx, p, StatusDeclined, actor, reason, timeline.ProposalDeclined, msg)
	m.logger.Info(ctx, "proposal declined", zap.String("reason", reason))
	return m.result(p, prev, true), nil
}

// RequestEdit moves a pending proposal to edited.
func (m *Manager) RequestEdit(ctx context.Context, id, actor, note string) (res Result, err error) {
	ctx, span := m.startOp(ctx, "lifecycle.RequestEdit", id)
	defer func() { endSpan(span, err) }()

	unlock := m.locks.Lock(id)
	defer unlock()

	p, err := m.lookup(id)
	if err != nil {
		return Result{}, err
	}
	switch p.Status {
	case StatusEdited:
		return m.result(p, "", false), nil
	case StatusPending:
	default:
		return Result{}, &TransitionError{ProposalID: id, Op: "request-edit", From: p.Status}
	}

	actor = actorOrSystem(actor)
	ctx = m.scoped(ctx, p, actor)
	note = strings.TrimSpace(note)
	msg := "Edit requested by " + actor
	if note != "" {
		msg += ": " + note
	}

	prev := p.Status
	m.transition(ctx, p, StatusEdited, actor, note, timeline.ProposalEditRequested, msg)
	m.logger.Info(ctx, "proposal edit requested")
	return m.result(p, prev, true), nil
}

// Resubmit applies edits to an edited proposal, recomputes its risk and
// returns it to pending.
func (m *Manager) Resubmit(ctx context.Context, id, actor string, edits EditRequest) (res Result, err error) {
	ctx, span := m.startOp(ctx, "lifecycle.Resubmit", id)
	defer func() { endSpan(span, err) }()

	NormalizeEdit(&edits)
	if err := Validate(edits); err != nil {
		return Result{}, err
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	p, err := m.lookup(id)
	if err != nil {
		return Result{}, err
	}
	if p.Status != StatusEdited {
		return Result{}, &TransitionError{ProposalID: id, Op: "resubmit", From: p.Status}
	}

	actor = actorOrSystem(actor)
	ctx = m.scoped(ctx, p, actor)
	applyEdits(p, edits)
	m.assess(ctx, p)

	prev := p.Status
	m.transition(ctx, p, StatusPending, actor, edits.Note, timeline.ProposalResubmitted,
		fmt.Sprintf("Proposal resubmitted by %s (risk %s, score %d)", actor, p.RiskAssessment.Level, p.RiskAssessment.Score))
	m.noteRisk(ctx, p)

	m.logger.Info(ctx, "proposal resubmitted",
		zap.String("risk_level", string(p.RiskAssessment.Level)),
		zap.Int("risk_score", p.RiskAssessment.Score))
	res = m.result(p, prev, true)
	a := p.RiskAssessment
	res.Risk = &a
	return res, nil
}

// Get returns a snapshot of the proposal.
func (m *Manager) Get(_ context.Context, id string) (*Proposal, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	p, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return p.clone(), nil
}

// Risk returns the cached assessment and its eligibility.
func (m *Manager) Risk(ctx context.Context, id string) (risk.Assessment, risk.Eligibility, error) {
	p, err := m.Get(ctx, id)
	if err != nil {
		return risk.Assessment{}, risk.Eligibility{}, err
	}
	return p.RiskAssessment, risk.CheckAutoApplyEligibility(p.RiskAssessment), nil
}

// List returns snapshots in submission order.
func (m *Manager) List(_ context.Context, filter ListFilter) []*Proposal {
	m.mu.RLock()
	ids := append([]string(nil), m.order...)
	m.mu.RUnlock()

	out := make([]*Proposal, 0, len(ids))
	for _, id := range ids {
		unlock := m.locks.Lock(id)
		p, err := m.lookup(id)
		if err == nil && (filter.Status == "" || p.Status == filter.Status) {
			out = append(out, p.clone())
		}
		unlock()
	}
	return out
}

// CheckDeployable reports whether the proposal may be rolled out as a
// canary: it must exist and be approved or applied.
func (m *Manager) CheckDeployable(_ context.Context, id string) error {
	unlock := m.locks.Lock(id)
	defer unlock()

	p, err := m.lookup(id)
	if err != nil {
		return err
	}
	if p.Status != StatusApproved && p.Status != StatusApplied {
		return &TransitionError{ProposalID: id, Op: "deploy", From: p.Status}
	}
	return nil
}

// History exposes the KPI outcome history.
func (m *Manager) History() *feedback.History {
	return m.history
}

func (m *Manager) lookup(id string) (*Proposal, error) {
	m.mu.RLock()
	p, ok := m.proposals[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

// assess classifies p with its KPI history and refreshes its warnings.
// Callers hold p's lock.
func (m *Manager) assess(ctx context.Context, p *Proposal) {
	key := p.KPIKey
	if key == "" {
		key = feedback.DefaultKPIKey
	}
	p.RiskAssessment = m.classifier.Classify(risk.Input{
		Type:              p.Type,
		Scope:             p.Scope,
		Paths:             p.Paths(),
		Description:       p.Description,
		Summary:           p.Summary,
		Diff:              p.Diff,
		RecentRegressions: m.history.RecentRegressions(key, m.cfg.RegressionWindow),
	})
	p.Warnings = nil
	if p.RiskAssessment.Failed {
		p.Warnings = append(p.Warnings, p.RiskAssessment.Reasons...)
		m.logger.Warn(ctx, "risk classification failed", zap.Strings("reasons", p.RiskAssessment.Reasons))
	}
}

// noteRisk records warnings about the current assessment on the timeline.
func (m *Manager) noteRisk(ctx context.Context, p *Proposal) {
	a := p.RiskAssessment
	if a.Failed {
		m.event(ctx, p, timeline.ClassificationFailed, strings.Join(a.Reasons, "; "))
	}
	if elig := risk.CheckAutoApplyEligibility(a); !elig.Eligible {
		m.event(ctx, p, timeline.ReviewRequired, elig.ReasonCode+": "+elig.Reason)
	}
}

// gate runs the guard and risk checks that precede approval. It returns
// the paths flagged for manual review.
func (m *Manager) gate(ctx context.Context, p *Proposal, op string) ([]string, error) {
	batch := m.guard.ValidateBatch(ctx, p.Operations())
	if batch.HasViolations {
		err := &GuardBlockedError{ProposalID: p.ID, Violations: batch.Violations}
		m.event(ctx, p, timeline.ProposalApprovalBlocked, err.Error())
		m.countBlocked(ctx, op, "guard")
		m.logger.Warn(ctx, "proposal blocked by guard", zap.String("op", op), zap.Int("violations", len(batch.Violations)))
		return nil, err
	}

	elig := risk.CheckAutoApplyEligibility(p.RiskAssessment)
	if !elig.Eligible {
		err := &RiskIneligibleError{
			ProposalID: p.ID,
			Level:      p.RiskAssessment.Level,
			Score:      p.RiskAssessment.Score,
			ReasonCode: elig.ReasonCode,
			Reason:     elig.Reason,
		}
		m.event(ctx, p, timeline.ProposalApprovalBlocked, err.Error())
		m.countBlocked(ctx, op, "risk")
		m.logger.Warn(ctx, "proposal blocked by risk gate", zap.String("op", op), zap.String("reason_code", elig.ReasonCode))
		return nil, err
	}

	review := batch.ReviewPaths()
	if len(review) > 0 {
		m.event(ctx, p, timeline.ReviewRequired, "Files flagged for manual review: "+strings.Join(review, ", "))
	}
	return review, nil
}

func (m *Manager) recordFeedback(ctx context.Context, p *Proposal, opts ApplyOptions) *feedback.Record {
	key := opts.KPIKey
	if key == "" {
		key = p.KPIKey
	}
	rec := m.evaluator.Evaluate(feedback.Input{
		ProposalID: p.ID,
		KPIKey:     key,
		Baseline:   opts.Baseline,
		Observed:   opts.Observed,
	})
	p.FeedbackHistory = append(p.FeedbackHistory, rec)
	m.history.Append(rec)
	m.event(ctx, p, timeline.FeedbackRecorded,
		fmt.Sprintf("KPI %s: baseline %g, observed %g, delta %.2f%% (%s)", rec.KPIKey, rec.Baseline, rec.Observed, rec.Delta, rec.Outcome))

	if rec.RollbackRecommended {
		msg := fmt.Sprintf("Severe regression on %s (%.2f%%), rollback recommended", rec.KPIKey, rec.Delta)
		m.transition(ctx, p, StatusNeedsRollback, SystemActor, msg, timeline.RollbackRecommended, msg)
		m.logger.Warn(ctx, "severe KPI regression", zap.String("kpi", rec.KPIKey), zap.Float64("delta", rec.Delta))
	}
	return &rec
}

// scheduleVerification starts a supervised verification task. The apply
// call never waits for it.
func (m *Manager) scheduleVerification(ctx context.Context, p *Proposal, rec *feedback.Record) {
	req := VerificationRequest{
		ProposalID:    p.ID,
		CorrelationID: p.CorrelationID,
		Paths:         p.Paths(),
		Feedback:      rec,
	}
	m.event(ctx, p, timeline.VerificationStarted, "Post-apply verification started")

	var report VerificationReport
	err := m.tasks.Go("verify-"+p.ID, func(taskCtx context.Context) error {
		taskCtx, cancel := context.WithTimeout(taskCtx, m.cfg.VerifyTimeout)
		defer cancel()
		var err error
		report, err = m.verifier.Verify(taskCtx, req)
		return err
	}, func(err error) {
		m.finishVerification(req, report, err)
	})
	if err != nil {
		m.event(ctx, p, timeline.VerificationFailed, "Verification could not be scheduled: "+err.Error())
	}
}

func (m *Manager) finishVerification(req VerificationRequest, report VerificationReport, err error) {
	ctx := logging.WithCorrelationID(logging.WithProposalID(context.Background(), req.ProposalID), req.CorrelationID)

	unlock := m.locks.Lock(req.ProposalID)
	defer unlock()

	p, lookupErr := m.lookup(req.ProposalID)
	if lookupErr != nil {
		return
	}
	switch {
	case err != nil:
		m.event(ctx, p, timeline.VerificationFailed, "Verification error: "+err.Error())
	case !report.Passed:
		m.event(ctx, p, timeline.VerificationFailed, describeReport(report))
		m.logger.Warn(ctx, "post-apply verification failed", zap.Strings("checks", report.Failed()))
	default:
		m.event(ctx, p, timeline.VerificationSucceeded, describeReport(report))
	}
}

// transition changes p's status and records it once in the status
// history, the timeline and the audit log.
func (m *Manager) transition(ctx context.Context, p *Proposal, to Status, actor, note, eventType, msg string) {
	from := p.Status
	now := m.now().UTC()
	p.Status = to
	p.UpdatedAt = now
	p.StatusHistory = append(p.StatusHistory, StatusChange{Status: to, Actor: actor, Timestamp: now, Note: note})
	m.record(ctx, p, timeline.New(now, eventType, msg))

	if m.transitions != nil {
		m.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", string(from)),
			attribute.String("to", string(to)),
		))
	}
}

func (m *Manager) event(ctx context.Context, p *Proposal, eventType, msg string) {
	now := m.now().UTC()
	p.UpdatedAt = now
	m.record(ctx, p, timeline.New(now, eventType, msg))
}

func (m *Manager) record(ctx context.Context, p *Proposal, ev timeline.Event) {
	p.Timeline = append(p.Timeline, ev)
	if _, err := m.audit.Append(ctx, eventlog.ScopeProposal, p.ID, p.CorrelationID, ev); err != nil {
		m.logger.Warn(ctx, "failed to append audit entry", zap.String("type", ev.Type), zap.Error(err))
	}
}

func (m *Manager) countBlocked(ctx context.Context, op, gate string) {
	if m.blocked != nil {
		m.blocked.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op), attribute.String("gate", gate)))
	}
}

func (m *Manager) result(p *Proposal, prev Status, changed bool) Result {
	return Result{
		ProposalID:     p.ID,
		Status:         p.Status,
		PreviousStatus: prev,
		Timestamp:      m.now().UTC(),
		CorrelationID:  p.CorrelationID,
		Changed:        changed,
		Warnings:       append([]string(nil), p.Warnings...),
	}
}

func (m *Manager) startOp(ctx context.Context, name, id string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("proposal.id", id)))
}

func (m *Manager) scoped(ctx context.Context, p *Proposal, actor string) context.Context {
	ctx = logging.WithProposalID(ctx, p.ID)
	ctx = logging.WithCorrelationID(ctx, p.CorrelationID)
	return logging.WithActor(ctx, actor)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func actorOrSystem(actor string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return SystemActor
	}
	return actor
}

func applyEdits(p *Proposal, e EditRequest) {
	if e.Title != nil {
		p.Title = *e.Title
	}
	if e.Description != nil {
		p.Description = *e.Description
	}
	if e.Summary != nil {
		p.Summary = *e.Summary
	}
	if e.Type != nil {
		p.Type = *e.Type
	}
	if e.Scope != nil {
		p.Scope = e.Scope
	}
	if len(e.Files) > 0 {
		p.Files = e.Files
	}
	if e.Diff != nil {
		p.Diff = *e.Diff
	}
}
