package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/rolloutd/internal/canary"
	"github.com/fyrsmithlabs/rolloutd/internal/config"
	"github.com/fyrsmithlabs/rolloutd/internal/eventlog"
	"github.com/fyrsmithlabs/rolloutd/internal/feedback"
	"github.com/fyrsmithlabs/rolloutd/internal/guard"
	"github.com/fyrsmithlabs/rolloutd/internal/lifecycle"
	"github.com/fyrsmithlabs/rolloutd/internal/logging"
	"github.com/fyrsmithlabs/rolloutd/internal/risk"
	"github.com/fyrsmithlabs/rolloutd/internal/tasks"
	"github.com/fyrsmithlabs/rolloutd/internal/telemetry"
	"github.com/fyrsmithlabs/rolloutd/internal/workflows"
	"github.com/nats-io/nats.go"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
)

// app holds the wired components and everything that needs closing.
type app struct {
	telemetry *telemetry.Telemetry
	logger    *logging.Logger
	audit     *eventlog.Log
	nats      *nats.Conn
	guard     *guard.Validator
	watcher   *guard.RulesWatcher
	history   *feedback.History
	lifecycle *lifecycle.Manager
	canary    *canary.Orchestrator
	tasks     *tasks.Supervisor
	scheduler *tasks.Scheduler
	temporal  client.Client
	worker    worker.Worker
}

// newApp builds every component from cfg. On error, whatever was already
// opened is closed.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.telemetry, err = telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.logger, err = logging.NewLogger(&cfg.Logging, a.telemetry.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if h := a.telemetry.Health(); !h.Healthy {
		a.logger.Warn(ctx, "telemetry degraded", zap.Strings("reasons", h.Reasons))
	}

	if err := a.initAudit(ctx, cfg); err != nil {
		return nil, err
	}
	if err := a.initGuard(ctx, cfg); err != nil {
		return nil, err
	}

	classifier, err := risk.NewClassifier(cfg.Risk)
	if err != nil {
		return nil, fmt.Errorf("invalid risk configuration: %w", err)
	}
	evaluator, err := feedback.NewEvaluator(cfg.Feedback)
	if err != nil {
		return nil, fmt.Errorf("invalid feedback configuration: %w", err)
	}
	a.history = feedback.NewHistory(cfg.Feedback.HistoryLimit)
	a.tasks = tasks.NewSupervisor(a.logger.Named("tasks"))
	a.scheduler = tasks.NewScheduler(a.tasks)

	verifier, err := a.initTemporal(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.lifecycle, err = lifecycle.NewManager(cfg.Lifecycle, lifecycle.Deps{
		Classifier: classifier,
		Guard:      a.guard,
		Evaluator:  evaluator,
		History:    a.history,
		Audit:      a.audit,
		Tasks:      a.tasks,
		Verifier:   verifier,
		Logger:     a.logger.Named("lifecycle"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create lifecycle manager: %w", err)
	}

	a.canary, err = canary.NewOrchestrator(cfg.Canary.Config, canary.Deps{
		Backend:   canary.NewLocalBackend(cfg.Canary.BranchPrefix, a.logger.Named("backend")),
		Validator: dryRunValidator(ctx, cfg.Canary, a.logger),
		Smoke:     smokeRunner(ctx, cfg.Canary, a.logger),
		Audit:     a.audit,
		Tasks:     a.tasks,
		Scheduler: a.scheduler,
		Admission: a.lifecycle,
		Metrics:   canary.NewMetrics(nil),
		Logger:    a.logger.Named("canary"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create canary orchestrator: %w", err)
	}
	return a, nil
}

func (a *app) initAudit(ctx context.Context, cfg *config.Config) error {
	var store eventlog.Store
	switch cfg.Events.Store {
	case config.StoreSQLite:
		s, err := eventlog.OpenSQLite(cfg.Events.Path)
		if err != nil {
			return fmt.Errorf("failed to open event store: %w", err)
		}
		store = s
	default:
		store = eventlog.NewMemoryStore()
	}

	opts := []eventlog.Option{eventlog.WithLogger(a.logger.Named("eventlog"))}
	if cfg.NATS.Enabled {
		natsOpts := []nats.Option{
			nats.Name("rolloutd"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1 * time.Second),
		}
		if cfg.NATS.Token.IsSet() {
			natsOpts = append(natsOpts, nats.Token(cfg.NATS.Token.Value()))
		}
		nc, err := nats.Connect(cfg.NATS.URL, natsOpts...)
		if err != nil {
			_ = store.Close()
			return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		a.nats = nc
		opts = append(opts, eventlog.WithPublisher(eventlog.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix)))
		a.logger.Info(ctx, "connected to NATS", zap.String("url", cfg.NATS.URL), zap.String("prefix", cfg.NATS.SubjectPrefix))
	}

	auditLog, err := eventlog.New(ctx, store, opts...)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	a.audit = auditLog
	return nil
}

func (a *app) initGuard(ctx context.Context, cfg *config.Config) error {
	var opts []guard.Option
	opts = append(opts, guard.WithLogger(a.logger.Named("guard")))
	if cfg.Guard.ScanSecrets {
		allowlist, err := guard.LoadAllowlist(cfg.Guard.AllowlistFile)
		if err != nil {
			return fmt.Errorf("failed to load secret allowlist: %w", err)
		}
		scanner, err := guard.NewGitleaksScanner(allowlist)
		if err != nil {
			return fmt.Errorf("failed to create secret scanner: %w", err)
		}
		opts = append(opts, guard.WithScanner(scanner))
	}

	rules := guard.DefaultRules()
	if cfg.Guard.RulesFile != "" && !cfg.Guard.Watch {
		r, err := guard.LoadRulesFile(cfg.Guard.RulesFile)
		if err != nil {
			return fmt.Errorf("failed to load guard rules: %w", err)
		}
		rules = r
	}

	v, err := guard.NewValidator(rules, opts...)
	if err != nil {
		return fmt.Errorf("invalid guard rules: %w", err)
	}
	a.guard = v

	if cfg.Guard.Watch {
		w, err := guard.WatchRules(ctx, cfg.Guard.RulesFile, v, a.logger.Named("guard"))
		if err != nil {
			return fmt.Errorf("failed to watch guard rules: %w", err)
		}
		a.watcher = w
	}
	return nil
}

// initTemporal returns the verifier for applied proposals: a Temporal
// workflow when enabled, otherwise the in-process checks.
func (a *app) initTemporal(ctx context.Context, cfg *config.Config) (lifecycle.Verifier, error) {
	if !cfg.Temporal.Enabled {
		return lifecycle.NewCheckVerifier(), nil
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    workflows.NewLogger(a.logger.Named("temporal").Underlying()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal at %s: %w", cfg.Temporal.HostPort, err)
	}
	a.temporal = c

	if cfg.Temporal.Worker {
		w := workflows.NewWorker(c, cfg.Temporal.TaskQueue, workflows.NewActivities())
		if err := w.Start(); err != nil {
			return nil, fmt.Errorf("failed to start Temporal worker: %w", err)
		}
		a.worker = w
	}

	a.logger.Info(ctx, "connected to Temporal",
		zap.String("host_port", cfg.Temporal.HostPort),
		zap.String("task_queue", cfg.Temporal.TaskQueue),
		zap.Bool("worker", a.worker != nil))
	return workflows.NewTemporalVerifier(c, cfg.Temporal.TaskQueue, cfg.Temporal.Checks), nil
}

// dryRunValidator runs configured commands, or passes every check when
// none are configured.
func dryRunValidator(ctx context.Context, cfg config.CanaryConfig, logger *logging.Logger) canary.DryRunValidator {
	if len(cfg.Commands) == 0 {
		logger.Warn(ctx, "no dry-run commands configured; dry-run checks always pass")
		return canary.NewStaticValidator(nil)
	}
	return canary.NewCommandValidator(cfg.WorkDir, cfg.Commands)
}

// smokeRunner probes configured URLs, or reports every probe healthy when
// none are configured.
func smokeRunner(ctx context.Context, cfg config.CanaryConfig, logger *logging.Logger) canary.SmokeTestRunner {
	if len(cfg.ProbeURLs) == 0 {
		logger.Warn(ctx, "no smoke probe URLs configured; smoke probes always pass")
		return canary.NewStaticSmokeRunner(nil)
	}
	return canary.NewHTTPSmokeRunner(cfg.ProbeURLs, cfg.ProbeTimeout)
}

// Close releases resources in reverse order of creation.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.worker != nil {
		a.worker.Stop()
	}
	if a.scheduler != nil {
		a.scheduler.Close()
	}
	if a.tasks != nil {
		if err := a.tasks.Close(ctx); err != nil && a.logger != nil {
			a.logger.Warn(ctx, "background tasks did not finish", zap.Error(err))
		}
	}
	if a.temporal != nil {
		a.temporal.Close()
	}
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	if a.audit != nil {
		_ = a.audit.Close()
	}
	if a.nats != nil {
		a.nats.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.telemetry != nil {
		_ = a.telemetry.Shutdown(ctx)
	}
}
