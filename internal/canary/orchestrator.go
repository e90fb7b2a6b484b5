// Package canary drives staged rollouts of approved proposals.
//
// A run moves through deploying, smoke-testing and ready-for-promotion to
// promoted, or is rolled back from any of those states. Dry-run checks and
// smoke probes run through pluggable backends. Delayed work (smoke tests,
// auto-promotion, cleanup) is armed on a keyed scheduler and cancelled
// whenever the run leaves the state that armed it; a fired task re-checks
// the run's status under the run's lock before acting.
package canary

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/rolloutd/internal/eventlog"
	"github.com/fyrsmithlabs/rolloutd/internal/keylock"
	"github.com/fyrsmithlabs/rolloutd/internal/logging"
	"github.com/fyrsmithlabs/rolloutd/internal/tasks"
	"github.com/fyrsmithlabs/rolloutd/internal/timeline"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/rolloutd/internal/canary"

// Rollback reasons recorded by the orchestrator itself.
const (
	ReasonDryRunFailed = "Dry-run validation failed"
	ReasonTTLExpired   = "TTL expired"
)

// Actors recorded for scheduled work.
const (
	ActorSystem      = "system"
	ActorAutoPromote = "auto-promote"
	ActorSweeper     = "ttl-sweeper"
)

// Config configures the Orchestrator.
type Config struct {
	TTL              time.Duration `koanf:"ttl"`
	AutoPromote      bool          `koanf:"auto_promote"`
	AutoPromoteDelay time.Duration `koanf:"auto_promote_delay"`
	SmokeDelay       time.Duration `koanf:"smoke_delay"`
	CleanupDelay     time.Duration `koanf:"cleanup_delay"`
	SweepInterval    time.Duration `koanf:"sweep_interval"`
	DryRunChecks     []string      `koanf:"dry_run_checks"`
	SmokeProbes      []string      `koanf:"smoke_probes"`

	// RequireAdmission rejects runs whose proposal fails the admission
	// check.
	RequireAdmission bool `koanf:"require_admission"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		TTL:              30 * time.Minute,
		AutoPromote:      false,
		AutoPromoteDelay: 5 * time.Minute,
		SmokeDelay:       10 * time.Second,
		CleanupDelay:     10 * time.Minute,
		SweepInterval:    30 * time.Second,
		DryRunChecks:     []string{"typecheck", "lint", "build", "unit-tests"},
		SmokeProbes:      []string{"health-endpoint", "api-status", "critical-pages"},
		RequireAdmission: true,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.TTL <= 0:
		return errors.New("canary.ttl must be positive")
	case c.AutoPromoteDelay < 0, c.SmokeDelay < 0, c.CleanupDelay < 0:
		return errors.New("canary delays must not be negative")
	case c.SweepInterval <= 0:
		return errors.New("canary.sweep_interval must be positive")
	case len(c.DryRunChecks) == 0:
		return errors.New("canary.dry_run_checks must not be empty")
	case len(c.SmokeProbes) == 0:
		return errors.New("canary.smoke_probes must not be empty")
	}
	return nil
}

// Admission decides whether a proposal may be deployed as a canary.
type Admission interface {
	CheckDeployable(ctx context.Context, proposalID string) error
}

// Deps are the Orchestrator's collaborators. All but Admission, Metrics
// and Logger are required.
type Deps struct {
	Backend   DeploymentBackend
	Validator DryRunValidator
	Smoke     SmokeTestRunner
	Audit     *eventlog.Log
	Tasks     *tasks.Supervisor
	Scheduler *tasks.Scheduler
	Admission Admission
	Metrics   *Metrics
	Logger    *logging.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator owns the canary run table.
type Orchestrator struct {
	cfg       Config
	backend   DeploymentBackend
	validator DryRunValidator
	smoke     SmokeTestRunner
	audit     *eventlog.Log
	tasks     *tasks.Supervisor
	scheduler *tasks.Scheduler
	admission Admission
	metrics   *Metrics
	logger    *logging.Logger
	tracer    trace.Tracer
	now       func() time.Time

	locks *keylock.Locker
	mu    sync.RWMutex
	runs  map[string]*Run
	order []string
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg Config, deps Deps, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Backend == nil:
		return nil, errors.New("deployment backend is required")
	case deps.Validator == nil:
		return nil, errors.New("dry-run validator is required")
	case deps.Smoke == nil:
		return nil, errors.New("smoke test runner is required")
	case deps.Audit == nil:
		return nil, errors.New("audit log is required")
	case deps.Tasks == nil || deps.Scheduler == nil:
		return nil, errors.New("task supervisor and scheduler are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}

	o := &Orchestrator{
		cfg:       cfg,
		backend:   deps.Backend,
		validator: deps.Validator,
		smoke:     deps.Smoke,
		audit:     deps.Audit,
		tasks:     deps.Tasks,
		scheduler: deps.Scheduler,
		admission: deps.Admission,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		tracer:    otel.Tracer(instrumentationName),
		now:       time.Now,
		locks:     keylock.New(),
		runs:      make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// requestValidate checks StartRequest. Field names in errors use the JSON
// names.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New(validator.WithRequiredStructEnabled())
	requestValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	})
}

// StartCanaryDeploy creates a run, deploys the changes to a canary branch
// and runs the dry-run battery. The first failing check rolls the run back
// immediately. On success the run moves to smoke-testing and smoke tests
// are scheduled.
func (o *Orchestrator) StartCanaryDeploy(ctx context.Context, req StartRequest) (_ *Run, err error) {
	ctx, span := o.tracer.Start(ctx, "canary.StartCanaryDeploy",
		trace.WithAttributes(attribute.String("proposal.id", req.ProposalID)))
	defer func() { endSpan(span, err) }()

	req.ProposalID = strings.TrimSpace(req.ProposalID)
	if err := requestValidate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if o.cfg.RequireAdmission && o.admission != nil {
		if err := o.admission.CheckDeployable(ctx, req.ProposalID); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNotAdmitted, err)
		}
	}

	now := o.now().UTC()
	run := &Run{
		ID:            uuid.NewString(),
		ProposalID:    req.ProposalID,
		CorrelationID: req.CorrelationID,
		Changes:       append([]Change(nil), req.Changes...),
		StartTime:     now,
		TTLSeconds:    int64(o.cfg.TTL / time.Second),
		AutoPromote:   o.cfg.AutoPromote,
		UpdatedAt:     now,
	}
	if run.CorrelationID == "" {
		run.CorrelationID = uuid.NewString()
	}
	if req.TTLSeconds > 0 {
		run.TTLSeconds = req.TTLSeconds
	}
	if req.AutoPromote != nil {
		run.AutoPromote = *req.AutoPromote
	}
	actor := req.Actor
	if actor == "" {
		actor = ActorSystem
	}
	span.SetAttributes(attribute.String("canary.id", run.ID))
	ctx = o.scoped(ctx, run)

	unlock := o.locks.Lock(run.ID)
	defer unlock()

	o.mu.Lock()
	o.runs[run.ID] = run
	o.order = append(o.order, run.ID)
	o.mu.Unlock()

	o.setStatus(ctx, run, StatusDeploying, timeline.DeployStarted,
		fmt.Sprintf("Canary deploy of proposal %s started by %s (%d changes)", run.ProposalID, actor, len(run.Changes)))

	var branch string
	err = safeStep(ctx, func(ctx context.Context, _ string) error {
		var cerr error
		branch, cerr = o.backend.CreateBranch(ctx, run.ID, run.ProposalID)
		return cerr
	}, "")
	if err == nil {
		run.Branch = branch
		err = safeStep(ctx, func(ctx context.Context, b string) error {
			return o.backend.ApplyChanges(ctx, b, run.Changes)
		}, branch)
	}
	if err != nil {
		o.event(ctx, run, timeline.DeployFailed, "Deploy failed: "+err.Error())
		o.rollbackLocked(ctx, run, "Deploy failed: "+err.Error(), actor, "deploy")
		return run.clone(o.now()), nil
	}

	for _, check := range o.cfg.DryRunChecks {
		res := CheckResult{Name: check, Passed: true}
		cerr := safeStep(ctx, func(ctx context.Context, b string) error {
			return o.validator.Check(ctx, check, b)
		}, run.Branch)
		if cerr != nil {
			res.Passed = false
			res.Error = cerr.Error()
		}
		res.At = o.now().UTC()
		run.DryRun = append(run.DryRun, res)

		if !res.Passed {
			run.FailedCheck = check
			o.event(ctx, run, timeline.DryRunFailed, fmt.Sprintf("Dry-run check %s failed: %s", check, res.Error))
			if o.metrics != nil {
				o.metrics.DryRunFailures.WithLabelValues(check).Inc()
			}
			o.rollbackLocked(ctx, run, ReasonDryRunFailed, actor, "dry-run")
			return run.clone(o.now()), nil
		}
	}
	o.setStatus(ctx, run, StatusSmokeTesting, timeline.DryRunPassed,
		fmt.Sprintf("Dry-run passed (%s), smoke tests scheduled", strings.Join(o.cfg.DryRunChecks, ", ")))
	id := run.ID
	if err := o.scheduler.Schedule(timerKey(id, "smoke"), o.cfg.SmokeDelay, func(ctx context.Context) {
		if _, err := o.runSmokeTests(ctx, id, true); err != nil && !errors.Is(err, ErrInvalidState) {
			o.logger.Warn(logging.WithCanaryID(ctx, id), "scheduled smoke test failed", zap.Error(err))
		}
	}); err != nil {
		o.logger.Warn(ctx, "failed to schedule smoke tests", zap.Error(err))
	}

	o.logger.Info(ctx, "canary deployed", zap.String("branch", run.Branch))
	return run.clone(o.now()), nil
}

// RunSmokeTests executes every configured probe. All probes run even when
// one fails; any failure rolls the run back.
func (o *Orchestrator) RunSmokeTests(ctx context.Context, id string) (*Run, error) {
	return o.runSmokeTests(ctx, id, false)
}

func (o *Orchestrator) runSmokeTests(ctx context.Context, id string, scheduled bool) (_ *Run, err error) {
	ctx, span := o.tracer.Start(ctx, "canary.RunSmokeTests", trace.WithAttributes(attribute.String("canary.id", id)))
	defer func() { endSpan(span, err) }()

	unlock := o.locks.Lock(id)
	defer unlock()

	run, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	if run.Status != StatusSmokeTesting {
		return nil, &StateError{RunID: id, Op: "smoke-test", Status: run.Status}
	}
	ctx = o.scoped(ctx, run)
	if !scheduled {
		o.scheduler.Cancel(timerKey(id, "smoke"))
	}
	o.event(ctx, run, timeline.SmokeTestStarted, fmt.Sprintf("Running %d smoke probes", len(o.cfg.SmokeProbes)))

	results := make([]ProbeResult, 0, len(o.cfg.SmokeProbes))
	var failed []string
	for _, probe := range o.cfg.SmokeProbes {
		res := ProbeResult{Name: probe, Healthy: true}
		perr := safeStep(ctx, func(ctx context.Context, b string) error {
			return o.smoke.Probe(ctx, probe, b)
		}, run.Branch)
		if perr != nil {
			res.Healthy = false
			res.Error = perr.Error()
			failed = append(failed, probe)
		}
		res.At = o.now().UTC()
		results = append(results, res)
	}
	run.SmokeResults = results

	if len(failed) > 0 {
		reason := "Smoke tests failed: " + strings.Join(failed, ", ")
		o.event(ctx, run, timeline.SmokeTestFailed, reason)
		o.rollbackLocked(ctx, run, reason, ActorSystem, "smoke")
		return run.clone(o.now()), nil
	}

	o.setStatus(ctx, run, StatusReady, timeline.SmokeTestPassed,
		fmt.Sprintf("All %d smoke probes healthy, ready for promotion", len(results)))

	if run.AutoPromote {
		if err := o.scheduler.Schedule(timerKey(id, "promote"), o.cfg.AutoPromoteDelay, func(ctx context.Context) {
			o.autoPromote(ctx, id)
		}); err != nil {
			o.logger.Warn(ctx, "failed to schedule auto-promotion", zap.Error(err))
		} else {
			o.event(ctx, run, timeline.PromotionScheduled, fmt.Sprintf("Auto-promotion in %s", o.cfg.AutoPromoteDelay))
		}
	}
	return run.clone(o.now()), nil
}

// Promote merges, deploys and verifies a ready run. Any failing step
// rolls it back.
func (o *Orchestrator) Promote(ctx context.Context, id, actor string) (_ *Run, err error) {
	ctx, span := o.tracer.Start(ctx, "canary.Promote", trace.WithAttributes(attribute.String("canary.id", id)))
	defer func() { endSpan(span, err) }()

	unlock := o.locks.Lock(id)
	defer unlock()

	run, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	switch run.Status {
	case StatusPromoted, StatusCleanedUp:
		if run.RollbackReason == "" {
			return run.clone(o.now()), nil
		}
	case StatusReady:
		if actor == "" {
			actor = ActorSystem
		}
		o.promoteLocked(o.scoped(ctx, run), run, actor, "manual")
		return run.clone(o.now()), nil
	}
	return nil, &StateError{RunID: id, Op: "promote", Status: run.Status}
}

// autoPromote is the auto-promotion timer body. The run may have moved on
// since the timer was armed.
func (o *Orchestrator) autoPromote(ctx context.Context, id string) {
	unlock := o.locks.Lock(id)
	defer unlock()

	run, err := o.lookup(id)
	if err != nil || run.Status != StatusReady {
		return
	}
	o.promoteLocked(o.scoped(ctx, run), run, ActorAutoPromote, "auto")
}

func (o *Orchestrator) promoteLocked(ctx context.Context, run *Run, actor, mode string) {
	o.cancelTimers(ctx, run)
	o.event(ctx, run, timeline.PromotionStarted, "Promotion started by "+actor)

	steps := []struct {
		name string
		fn   func(context.Context, string) error
	}{
		{StepMerge, o.backend.Merge},
		{StepDeploy, o.backend.Deploy},
		{StepVerifyDeployment, o.backend.VerifyDeployment},
	}
	for _, s := range steps {
		if err := safeStep(ctx, s.fn, run.Branch); err != nil {
			reason := fmt.Sprintf("Promotion failed at %s: %v", s.name, err)
			o.event(ctx, run, timeline.PromotionFailed, reason)
			o.rollbackLocked(ctx, run, reason, actor, "promote")
			return
		}
	}

	o.setStatus(ctx, run, StatusPromoted, timeline.Promoted, "Promoted by "+actor)
	if o.metrics != nil {
		o.metrics.Promotions.WithLabelValues(mode).Inc()
	}
	o.scheduleCleanup(ctx, run)
	o.logger.Info(ctx, "canary promoted", zap.String("actor", actor))
}

// Rollback rolls back a run that has not reached a terminal state.
// Rolling back an already rolled-back run returns it unchanged.
func (o *Orchestrator) Rollback(ctx context.Context, id, reason, actor string) (_ *Run, err error) {
	ctx, span := o.tracer.Start(ctx, "canary.Rollback", trace.WithAttributes(attribute.String("canary.id", id)))
	defer func() { endSpan(span, err) }()

	unlock := o.locks.Lock(id)
	defer unlock()

	run, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	if run.Status == StatusRolledBack {
		return run.clone(o.now()), nil
	}
	if run.Status.Terminal() {
		return nil, &StateError{RunID: id, Op: "rollback", Status: run.Status}
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Manual rollback"
	}
	if actor == "" {
		actor = ActorSystem
	}
	o.rollbackLocked(o.scoped(ctx, run), run, reason, actor, "manual")
	return run.clone(o.now()), nil
}

// rollbackLocked runs every rollback step, recording each one even when an
// earlier step failed or panicked.
func (o *Orchestrator) rollbackLocked(ctx context.Context, run *Run, reason, actor, trigger string) {
	o.cancelTimers(ctx, run)
	o.event(ctx, run, timeline.RollbackStarted, fmt.Sprintf("Rollback started by %s: %s", actor, reason))

	rec := RollbackRecord{
		RunID:      run.ID,
		ProposalID: run.ProposalID,
		Reason:     reason,
		Actor:      actor,
		StartedAt:  o.now().UTC(),
	}
	steps := []struct {
		name string
		fn   func(context.Context, string) error
	}{
		{StepResetBranch, o.backend.ResetBranch},
		{StepRestorePrevious, o.backend.RestorePrevious},
		{StepVerifyRollback, o.backend.VerifyRollback},
	}
	for _, s := range steps {
		step := RollbackStep{Name: s.name, Success: true}
		if err := safeStep(ctx, s.fn, run.Branch); err != nil {
			step.Success = false
			step.Error = err.Error()
			rec.Degraded = true
			o.event(ctx, run, timeline.RollbackStep, fmt.Sprintf("%s failed: %v", s.name, err))
			o.logger.Warn(ctx, "rollback step failed", zap.String("step", s.name), zap.Error(err))
		} else {
			o.event(ctx, run, timeline.RollbackStep, s.name+" succeeded")
		}
		step.At = o.now().UTC()
		rec.Steps = append(rec.Steps, step)
	}
	rec.CompletedAt = o.now().UTC()

	run.RollbackReason = reason
	run.Rollbacks = append(run.Rollbacks, rec)
	if rec.Degraded {
		o.setStatus(ctx, run, StatusRolledBack, timeline.RollbackDegraded, "Rollback completed with failed steps: "+reason)
	} else {
		o.setStatus(ctx, run, StatusRolledBack, timeline.RollbackCompleted, "Rollback completed: "+reason)
	}
	if o.metrics != nil {
		o.metrics.Rollbacks.WithLabelValues(trigger, fmt.Sprint(rec.Degraded)).Inc()
	}
	o.scheduleCleanup(ctx, run)
	o.logger.Warn(ctx, "canary rolled back", zap.String("reason", reason), zap.Bool("degraded", rec.Degraded))
}

func (o *Orchestrator) scheduleCleanup(ctx context.Context, run *Run) {
	id := run.ID
	if err := o.scheduler.Schedule(timerKey(id, "cleanup"), o.cfg.CleanupDelay, func(ctx context.Context) {
		o.cleanup(ctx, id)
	}); err != nil {
		o.logger.Warn(ctx, "failed to schedule cleanup", zap.Error(err))
	}
}

// cleanup is the cleanup timer body.
func (o *Orchestrator) cleanup(ctx context.Context, id string) {
	unlock := o.locks.Lock(id)
	defer unlock()

	run, err := o.lookup(id)
	if err != nil || (run.Status != StatusPromoted && run.Status != StatusRolledBack) {
		return
	}
	ctx = o.scoped(ctx, run)
	msg := "Canary branch cleaned up"
	if err := safeStep(ctx, o.backend.Cleanup, run.Branch); err != nil {
		msg = "Canary cleanup failed: " + err.Error()
		o.logger.Warn(ctx, "canary cleanup failed", zap.Error(err))
	}
	o.setStatus(ctx, run, StatusCleanedUp, timeline.CleanedUp, msg)
}

// cancelTimers disarms all pending work for run. A cancelled
// auto-promotion is recorded.
func (o *Orchestrator) cancelTimers(ctx context.Context, run *Run) {
	if o.scheduler.Cancel(timerKey(run.ID, "promote")) {
		o.event(ctx, run, timeline.PromotionCancelled, "Scheduled auto-promotion cancelled")
	}
	o.scheduler.CancelPrefix(timerKey(run.ID, ""))
}

// Sweep rolls back every active run whose TTL has elapsed at now and
// returns how many it rolled back.
func (o *Orchestrator) Sweep(ctx context.Context, now time.Time) int {
	o.mu.RLock()
	ids := append([]string(nil), o.order...)
	o.mu.RUnlock()

	n := 0
	for _, id := range ids {
		if o.sweepOne(ctx, id, now) {
			n++
		}
	}
	return n
}

func (o *Orchestrator) sweepOne(ctx context.Context, id string, now time.Time) bool {
	unlock := o.locks.Lock(id)
	defer unlock()

	run, err := o.lookup(id)
	if err != nil || run.Status.Terminal() || run.Remaining(now) > 0 {
		return false
	}
	ctx = o.scoped(ctx, run)
	o.event(ctx, run, timeline.TTLExpired, fmt.Sprintf("TTL of %ds expired", run.TTLSeconds))
	o.rollbackLocked(ctx, run, ReasonTTLExpired, ActorSweeper, "ttl")
	return true
}

// Start runs the TTL sweep every SweepInterval until ctx ends or the task
// supervisor is closed.
func (o *Orchestrator) Start(ctx context.Context) error {
	return o.tasks.Go("canary-ttl-sweep", func(taskCtx context.Context) error {
		ticker := time.NewTicker(o.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-taskCtx.Done():
				return nil
			case <-ticker.C:
				if n := o.Sweep(taskCtx, o.now()); n > 0 {
					o.logger.Info(taskCtx, "expired canaries rolled back", zap.Int("count", n))
				}
			}
		}
	}, nil)
}

// Get returns a snapshot of the run.
func (o *Orchestrator) Get(_ context.Context, id string) (*Run, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	run, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	return run.clone(o.now()), nil
}

// TimeRemaining returns the time left before the run's TTL expires.
func (o *Orchestrator) TimeRemaining(ctx context.Context, id string) (time.Duration, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	run, err := o.lookup(id)
	if err != nil {
		return 0, err
	}
	return run.Remaining(o.now()), nil
}

// List returns snapshots of every run in creation order.
func (o *Orchestrator) List(_ context.Context) []*Run {
	o.mu.RLock()
	ids := append([]string(nil), o.order...)
	o.mu.RUnlock()

	now := o.now()
	out := make([]*Run, 0, len(ids))
	for _, id := range ids {
		unlock := o.locks.Lock(id)
		if run, err := o.lookup(id); err == nil {
			out = append(out, run.clone(now))
		}
		unlock()
	}
	return out
}

// Rollbacks returns every rollback record, oldest first.
func (o *Orchestrator) Rollbacks(ctx context.Context) []RollbackRecord {
	var out []RollbackRecord
	for _, run := range o.List(ctx) {
		out = append(out, run.Rollbacks...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (o *Orchestrator) lookup(id string) (*Run, error) {
	o.mu.RLock()
	run, ok := o.runs[id]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, nil
}

func (o *Orchestrator) setStatus(ctx context.Context, run *Run, to Status, eventType, msg string) {
	from := run.Status
	run.Status = to
	o.event(ctx, run, eventType, msg)
	o.metrics.moved(from, to)
}

func (o *Orchestrator) event(ctx context.Context, run *Run, eventType, msg string) {
	ev := timeline.New(o.now(), eventType, msg)
	run.UpdatedAt = ev.Timestamp
	run.Timeline = append(run.Timeline, ev)
	if _, err := o.audit.Append(ctx, eventlog.ScopeCanary, run.ID, run.CorrelationID, ev); err != nil {
		o.logger.Warn(ctx, "failed to append audit entry", zap.String("type", eventType), zap.Error(err))
	}
}

func (o *Orchestrator) scoped(ctx context.Context, run *Run) context.Context {
	ctx = logging.WithCanaryID(ctx, run.ID)
	ctx = logging.WithProposalID(ctx, run.ProposalID)
	return logging.WithCorrelationID(ctx, run.CorrelationID)
}

func timerKey(id, kind string) string {
	return "canary/" + id + "/" + kind
}

// safeStep runs a backend step, converting a panic into an error.
func safeStep(ctx context.Context, fn func(context.Context, string) error, branch string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, branch)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
