package canary

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/rolloutd/internal/eventlog"
	"github.com/fyrsmithlabs/rolloutd/internal/tasks"
	"github.com/fyrsmithlabs/rolloutd/internal/timeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	o         *Orchestrator
	backend   *LocalBackend
	validator *StaticValidator
	smoke     *StaticSmokeRunner
	audit     *eventlog.Log
	scheduler *tasks.Scheduler
	metrics   *Metrics
	clock     *fakeClock
}

type fixtureOption func(*Config, *Deps)

func withAdmission(a Admission) fixtureOption {
	return func(_ *Config, d *Deps) { d.Admission = a }
}

func withBackend(b DeploymentBackend) fixtureOption {
	return func(_ *Config, d *Deps) { d.Backend = b }
}

func withValidator(v DryRunValidator) fixtureOption {
	return func(_ *Config, d *Deps) { d.Validator = v }
}

func withSmoke(r SmokeTestRunner) fixtureOption {
	return func(_ *Config, d *Deps) { d.Smoke = r }
}

func newFixture(t *testing.T, mutate func(*Config), opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := DefaultConfig()
	cfg.SmokeDelay = time.Hour
	cfg.CleanupDelay = time.Hour
	cfg.AutoPromoteDelay = time.Hour
	cfg.TTL = time.Minute
	if mutate != nil {
		mutate(&cfg)
	}

	audit, err := eventlog.New(context.Background(), eventlog.NewMemoryStore())
	require.NoError(t, err)
	sup := tasks.NewSupervisor(nil)
	sched := tasks.NewScheduler(sup)
	backend := NewLocalBackend("canary/", nil)
	f := &fixture{
		backend:   backend,
		validator: NewStaticValidator(nil),
		smoke:     NewStaticSmokeRunner(nil),
		audit:     audit,
		scheduler: sched,
		metrics:   NewMetrics(prometheus.NewRegistry()),
		clock:     newFakeClock(),
	}

	deps := Deps{
		Backend:   backend,
		Validator: f.validator,
		Smoke:     f.smoke,
		Audit:     audit,
		Tasks:     sup,
		Scheduler: sched,
		Metrics:   f.metrics,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	f.o, err = NewOrchestrator(cfg, deps, WithClock(f.clock.Now))
	require.NoError(t, err)

	t.Cleanup(func() {
		sched.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.Close(ctx)
		_ = audit.Close()
	})
	return f
}

func startRequest() StartRequest {
	return StartRequest{
		ProposalID: "p-1",
		Changes: []Change{
			{Path: "src/components/Button.tsx", Action: "modify"},
		},
	}
}

func (f *fixture) start(t *testing.T) *Run {
	t.Helper()
	run, err := f.o.StartCanaryDeploy(context.Background(), startRequest())
	require.NoError(t, err)
	return run
}

func (f *fixture) ready(t *testing.T) *Run {
	t.Helper()
	run := f.start(t)
	require.Equal(t, StatusSmokeTesting, run.Status)
	run, err := f.o.RunSmokeTests(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReady, run.Status)
	return run
}

func types(run *Run) []string {
	out := make([]string, len(run.Timeline))
	for i, e := range run.Timeline {
		out[i] = e.Type
	}
	return out
}

func TestStartCanaryDeploy_DryRunFailureRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	f.validator.Set("lint", errors.New("3 lint errors"))

	run := f.start(t)

	assert.Equal(t, StatusRolledBack, run.Status)
	assert.Equal(t, ReasonDryRunFailed, run.RollbackReason)
	assert.Equal(t, "lint", run.FailedCheck)
	require.Len(t, run.DryRun, 2)
	assert.True(t, run.DryRun[0].Passed)
	assert.False(t, run.DryRun[1].Passed)
	assert.Equal(t, "3 lint errors", run.DryRun[1].Error)

	assert.Equal(t, []string{
		timeline.DeployStarted,
		timeline.DryRunFailed,
		timeline.RollbackStarted,
		timeline.RollbackStep,
		timeline.RollbackStep,
		timeline.RollbackStep,
		timeline.RollbackCompleted,
	}, types(run))

	require.Len(t, run.Rollbacks, 1)
	rb := run.Rollbacks[0]
	assert.False(t, rb.Degraded)
	require.Len(t, rb.Steps, 3)
	assert.Equal(t, StepResetBranch, rb.Steps[0].Name)
	assert.Equal(t, StepRestorePrevious, rb.Steps[1].Name)
	assert.Equal(t, StepVerifyRollback, rb.Steps[2].Name)
	assert.Zero(t, run.TimeRemaining)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rollbacks.WithLabelValues("dry-run", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DryRunFailures.WithLabelValues("lint")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.Runs.WithLabelValues(string(StatusDeploying))))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Runs.WithLabelValues(string(StatusRolledBack))))

	assert.False(t, f.scheduler.Pending(timerKey(run.ID, "smoke")))
	assert.True(t, f.scheduler.Pending(timerKey(run.ID, "cleanup")))

	entries, err := f.audit.Since(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, len(run.Timeline))
	for _, e := range entries {
		assert.Equal(t, eventlog.ScopeCanary, e.Scope)
		assert.Equal(t, run.ID, e.SubjectID)
		assert.Equal(t, run.CorrelationID, e.CorrelationID)
	}
}

func TestStartCanaryDeploy_DeployFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.Fail(StepApplyChanges, errors.New("conflict"))

	run := f.start(t)
	assert.Equal(t, StatusRolledBack, run.Status)
	assert.Equal(t, "Deploy failed: conflict", run.RollbackReason)
	assert.Empty(t, run.DryRun)
	assert.Contains(t, types(run), timeline.DeployFailed)
}

func TestStartCanaryDeploy_Rejects(t *testing.T) {
	t.Run("malformed request", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.o.StartCanaryDeploy(context.Background(), StartRequest{ProposalID: " "})
		assert.ErrorIs(t, err, ErrInvalidRequest)
		assert.Empty(t, f.o.List(context.Background()))
	})

	t.Run("admission", func(t *testing.T) {
		admission := admissionFunc(func(_ context.Context, id string) error {
			return errors.New(id + " is pending")
		})
		f := newFixture(t, nil, withAdmission(admission))
		_, err := f.o.StartCanaryDeploy(context.Background(), startRequest())
		assert.ErrorIs(t, err, ErrNotAdmitted)
		assert.Contains(t, err.Error(), "p-1 is pending")
	})

	t.Run("admission disabled", func(t *testing.T) {
		admission := admissionFunc(func(context.Context, string) error { return errors.New("nope") })
		f := newFixture(t, func(c *Config) { c.RequireAdmission = false }, withAdmission(admission))
		_, err := f.o.StartCanaryDeploy(context.Background(), startRequest())
		assert.NoError(t, err)
	})
}

type admissionFunc func(ctx context.Context, proposalID string) error

func (f admissionFunc) CheckDeployable(ctx context.Context, id string) error { return f(ctx, id) }

func TestCanary_HappyPath(t *testing.T) {
	f := newFixture(t, nil)

	run := f.start(t)
	assert.Equal(t, StatusSmokeTesting, run.Status)
	assert.Equal(t, "canary/"+run.ID, run.Branch)
	assert.Len(t, run.DryRun, 4)
	assert.True(t, f.scheduler.Pending(timerKey(run.ID, "smoke")))

	run, err := f.o.RunSmokeTests(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, run.Status)
	assert.Len(t, run.SmokeResults, 3)
	assert.False(t, f.scheduler.Pending(timerKey(run.ID, "smoke")))

	run, err = f.o.Promote(context.Background(), run.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusPromoted, run.Status)
	assert.Zero(t, run.TimeRemaining)
	assert.Empty(t, run.Rollbacks)

	branch := run.Branch
	assert.Equal(t, []string{
		StepCreateBranch + " " + branch,
		StepApplyChanges + " " + branch,
		StepMerge + " " + branch,
		StepDeploy + " " + branch,
		StepVerifyDeployment + " " + branch,
	}, f.backend.Calls())

	again, err := f.o.Promote(context.Background(), run.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, len(run.Timeline), len(again.Timeline))

	_, err = f.o.Rollback(context.Background(), run.ID, "too late", "bob")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.o.RunSmokeTests(context.Background(), run.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Promotions.WithLabelValues("manual")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Runs.WithLabelValues(string(StatusPromoted))))
}

func TestRunSmokeTests_FailureRunsEveryProbe(t *testing.T) {
	f := newFixture(t, nil)
	f.smoke.Set("api-status", errors.New("503"))
	f.smoke.Set("critical-pages", errors.New("timeout"))

	run := f.start(t)
	run, err := f.o.RunSmokeTests(context.Background(), run.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusRolledBack, run.Status)
	assert.Equal(t, "Smoke tests failed: api-status, critical-pages", run.RollbackReason)
	require.Len(t, run.SmokeResults, 3)
	assert.True(t, run.SmokeResults[0].Healthy)
	assert.False(t, run.SmokeResults[1].Healthy)
	assert.Equal(t, "503", run.SmokeResults[1].Error)
	assert.False(t, run.SmokeResults[2].Healthy)
	assert.Contains(t, types(run), timeline.SmokeTestFailed)
}

func TestRunSmokeTests_Scheduled(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.SmokeDelay = 0 })

	run := f.start(t)
	require.Eventually(t, func() bool {
		got, err := f.o.Get(context.Background(), run.ID)
		return err == nil && got.Status == StatusReady
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPromote_FailureRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.Fail(StepDeploy, errors.New("quota exceeded"))

	run := f.ready(t)
	run, err := f.o.Promote(context.Background(), run.ID, "alice")
	require.NoError(t, err)

	assert.Equal(t, StatusRolledBack, run.Status)
	assert.Equal(t, "Promotion failed at deploy: quota exceeded", run.RollbackReason)
	assert.Contains(t, types(run), timeline.PromotionFailed)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rollbacks.WithLabelValues("promote", "false")))
}

func TestPromote_InvalidState(t *testing.T) {
	f := newFixture(t, nil)
	run := f.start(t)

	_, err := f.o.Promote(context.Background(), run.ID, "alice")
	var serr *StateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StatusSmokeTesting, serr.Status)

	_, err = f.o.Promote(context.Background(), "missing", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

type panickyBackend struct {
	*LocalBackend
}

func (b panickyBackend) ResetBranch(context.Context, string) error {
	panic("git exploded")
}

func TestRollback_StepFailuresAreRecorded(t *testing.T) {
	backend := panickyBackend{NewLocalBackend("canary/", nil)}
	backend.Fail(StepRestorePrevious, errors.New("snapshot missing"))
	f := newFixture(t, nil, withBackend(backend))

	run := f.start(t)
	run, err := f.o.Rollback(context.Background(), run.ID, "operator request", "alice")
	require.NoError(t, err)

	assert.Equal(t, StatusRolledBack, run.Status)
	require.Len(t, run.Rollbacks, 1)
	rb := run.Rollbacks[0]
	assert.True(t, rb.Degraded)
	assert.Equal(t, "operator request", rb.Reason)
	assert.Equal(t, "alice", rb.Actor)
	require.Len(t, rb.Steps, 3)
	assert.False(t, rb.Steps[0].Success)
	assert.Contains(t, rb.Steps[0].Error, "git exploded")
	assert.False(t, rb.Steps[1].Success)
	assert.Equal(t, "snapshot missing", rb.Steps[1].Error)
	assert.True(t, rb.Steps[2].Success)
	assert.Equal(t, timeline.RollbackDegraded, run.Timeline[len(run.Timeline)-1].Type)

	again, err := f.o.Rollback(context.Background(), run.ID, "again", "alice")
	require.NoError(t, err)
	assert.Len(t, again.Rollbacks, 1)
}

type crashingValidator struct{}

func (crashingValidator) Check(context.Context, string, string) error {
	panic("validator crashed")
}

type crashingSmokeRunner struct {
	probe string
}

func (r crashingSmokeRunner) Probe(_ context.Context, probe, _ string) error {
	if probe == r.probe {
		panic("probe crashed")
	}
	return nil
}

type crashingBranchBackend struct {
	*LocalBackend
}

func (crashingBranchBackend) CreateBranch(context.Context, string, string) (string, error) {
	panic("branch crashed")
}

func TestPluggableStepPanicsRollBack(t *testing.T) {
	t.Run("dry-run validator", func(t *testing.T) {
		f := newFixture(t, nil, withValidator(crashingValidator{}))

		run := f.start(t)
		assert.Equal(t, StatusRolledBack, run.Status)
		assert.Equal(t, ReasonDryRunFailed, run.RollbackReason)
		assert.Equal(t, "typecheck", run.FailedCheck)
		require.Len(t, run.DryRun, 1)
		assert.False(t, run.DryRun[0].Passed)
		assert.Contains(t, run.DryRun[0].Error, "validator crashed")
		require.Len(t, run.Rollbacks, 1)
	})

	t.Run("smoke runner", func(t *testing.T) {
		f := newFixture(t, nil, withSmoke(crashingSmokeRunner{probe: "api-status"}))

		run := f.start(t)
		run, err := f.o.RunSmokeTests(context.Background(), run.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusRolledBack, run.Status)
		assert.Equal(t, "Smoke tests failed: api-status", run.RollbackReason)
		require.Len(t, run.SmokeResults, 3)
		assert.True(t, run.SmokeResults[0].Healthy)
		assert.Contains(t, run.SmokeResults[1].Error, "probe crashed")
		assert.True(t, run.SmokeResults[2].Healthy)
		require.Len(t, run.Rollbacks, 1)
	})

	t.Run("deployment backend", func(t *testing.T) {
		f := newFixture(t, nil, withBackend(crashingBranchBackend{NewLocalBackend("canary/", nil)}))

		run := f.start(t)
		assert.Equal(t, StatusRolledBack, run.Status)
		assert.Contains(t, run.RollbackReason, "branch crashed")
		assert.Contains(t, types(run), timeline.DeployFailed)
		require.Len(t, run.Rollbacks, 1)
	})
}

func TestAutoPromote_CancelledByRollback(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.AutoPromote = true
		c.AutoPromoteDelay = 50 * time.Millisecond
	})

	run := f.ready(t)
	assert.True(t, f.scheduler.Pending(timerKey(run.ID, "promote")))
	assert.Contains(t, types(run), timeline.PromotionScheduled)

	run, err := f.o.Rollback(context.Background(), run.ID, "manual", "alice")
	require.NoError(t, err)
	assert.False(t, f.scheduler.Pending(timerKey(run.ID, "promote")))
	assert.Contains(t, types(run), timeline.PromotionCancelled)

	time.Sleep(150 * time.Millisecond)
	got, err := f.o.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, got.Status)
	assert.NotContains(t, types(got), timeline.Promoted)
	for _, call := range f.backend.Calls() {
		assert.NotContains(t, call, StepMerge)
	}
}

func TestAutoPromote_Fires(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.AutoPromote = true
		c.AutoPromoteDelay = 10 * time.Millisecond
	})

	run := f.ready(t)
	require.Eventually(t, func() bool {
		got, err := f.o.Get(context.Background(), run.ID)
		return err == nil && got.Status == StatusPromoted
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Promotions.WithLabelValues("auto")))
}

func TestAutoPromote_PerRunOverride(t *testing.T) {
	f := newFixture(t, nil)

	req := startRequest()
	on := true
	req.AutoPromote = &on
	run, err := f.o.StartCanaryDeploy(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, run.AutoPromote)

	run, err = f.o.RunSmokeTests(context.Background(), run.ID)
	require.NoError(t, err)
	assert.True(t, f.scheduler.Pending(timerKey(run.ID, "promote")))
}

func TestCleanup(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.CleanupDelay = 10 * time.Millisecond })

	run := f.ready(t)
	_, err := f.o.Promote(context.Background(), run.ID, "alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := f.o.Get(context.Background(), run.ID)
		return err == nil && got.Status == StatusCleanedUp
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, f.backend.Calls(), StepCleanup+" "+run.Branch)
}

func TestSweep_ExpiresStaleRuns(t *testing.T) {
	f := newFixture(t, nil)

	run := f.start(t)
	done := f.ready(t)
	_, err := f.o.Promote(context.Background(), done.ID, "alice")
	require.NoError(t, err)

	left, err := f.o.TimeRemaining(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, left)

	f.clock.Advance(30 * time.Second)
	assert.Zero(t, f.o.Sweep(context.Background(), f.clock.Now()))
	left, err = f.o.TimeRemaining(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, left)

	f.clock.Advance(31 * time.Second)
	assert.Equal(t, 1, f.o.Sweep(context.Background(), f.clock.Now()))

	got, err := f.o.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, got.Status)
	assert.Equal(t, ReasonTTLExpired, got.RollbackReason)
	assert.Contains(t, types(got), timeline.TTLExpired)
	assert.Equal(t, ActorSweeper, got.Rollbacks[0].Actor)

	promoted, err := f.o.Get(context.Background(), done.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPromoted, promoted.Status)

	assert.Zero(t, f.o.Sweep(context.Background(), f.clock.Now()))
	assert.Len(t, f.o.Rollbacks(context.Background()), 1)
}

func TestStart_RunsSweep(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.SweepInterval = 10 * time.Millisecond })

	run := f.start(t)
	f.clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.o.Start(ctx))

	require.Eventually(t, func() bool {
		got, err := f.o.Get(context.Background(), run.ID)
		return err == nil && got.Status == StatusRolledBack
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPromoteRollbackRace(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t, nil)
		run := f.ready(t)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.o.Promote(context.Background(), run.ID, "alice")
		}()
		go func() {
			defer wg.Done()
			_, _ = f.o.Rollback(context.Background(), run.ID, "race", "bob")
		}()
		wg.Wait()

		got, err := f.o.Get(context.Background(), run.ID)
		require.NoError(t, err)
		switch got.Status {
		case StatusPromoted:
			assert.Empty(t, got.Rollbacks)
			assert.NotContains(t, types(got), timeline.RollbackStarted)
		case StatusRolledBack:
			assert.Len(t, got.Rollbacks, 1)
			assert.NotContains(t, types(got), timeline.Promoted)
		default:
			t.Fatalf("unexpected status %s", got.Status)
		}
	}
}

func TestList(t *testing.T) {
	f := newFixture(t, nil)
	a := f.start(t)
	b := f.start(t)

	runs := f.o.List(context.Background())
	require.Len(t, runs, 2)
	assert.Equal(t, a.ID, runs[0].ID)
	assert.Equal(t, b.ID, runs[1].ID)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.DryRunChecks = nil
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.TTL = 0
	assert.Error(t, cfg.Validate())
}
