package canary

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/rolloutd/internal/logging"
	"go.uber.org/zap"
)

// Backend step names, as recorded in timelines and rollback records.
const (
	StepCreateBranch     = "create-branch"
	StepApplyChanges     = "apply-changes"
	StepMerge            = "merge"
	StepDeploy           = "deploy"
	StepVerifyDeployment = "verify-deployment"
	StepResetBranch      = "reset-branch"
	StepRestorePrevious  = "restore-previous"
	StepVerifyRollback   = "verify-rollback"
	StepCleanup          = "cleanup"
)

// DeploymentBackend performs the source-control and deployment side
// effects of a run.
type DeploymentBackend interface {
	CreateBranch(ctx context.Context, runID, proposalID string) (string, error)
	ApplyChanges(ctx context.Context, branch string, changes []Change) error
	Merge(ctx context.Context, branch string) error
	Deploy(ctx context.Context, branch string) error
	VerifyDeployment(ctx context.Context, branch string) error
	ResetBranch(ctx context.Context, branch string) error
	RestorePrevious(ctx context.Context, branch string) error
	VerifyRollback(ctx context.Context, branch string) error
	Cleanup(ctx context.Context, branch string) error
}

// DryRunValidator runs one named pre-deployment check against a branch.
type DryRunValidator interface {
	Check(ctx context.Context, check, branch string) error
}

// SmokeTestRunner runs one named health probe against a deployed branch.
type SmokeTestRunner interface {
	Probe(ctx context.Context, probe, branch string) error
}

// LocalBackend records every step it is asked to perform instead of
// touching real infrastructure. Individual steps can be made to fail.
type LocalBackend struct {
	prefix string
	logger *logging.Logger

	mu       sync.Mutex
	calls    []string
	failures map[string]error
}

// NewLocalBackend creates a LocalBackend naming branches prefix+runID.
func NewLocalBackend(prefix string, logger *logging.Logger) *LocalBackend {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LocalBackend{prefix: prefix, logger: logger, failures: make(map[string]error)}
}

// Fail makes step return err from now on. A nil err clears it.
func (b *LocalBackend) Fail(step string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, step)
		return
	}
	b.failures[step] = err
}

// Calls returns the performed steps as "step branch".
func (b *LocalBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *LocalBackend) step(ctx context.Context, step, branch string) error {
	b.mu.Lock()
	b.calls = append(b.calls, step+" "+branch)
	err := b.failures[step]
	b.mu.Unlock()

	b.logger.Debug(ctx, "canary backend step", zap.String("step", step), zap.String("branch", branch), zap.Error(err))
	return err
}

func (b *LocalBackend) CreateBranch(ctx context.Context, runID, _ string) (string, error) {
	branch := b.prefix + runID
	if err := b.step(ctx, StepCreateBranch, branch); err != nil {
		return "", err
	}
	return branch, nil
}

func (b *LocalBackend) ApplyChanges(ctx context.Context, branch string, _ []Change) error {
	return b.step(ctx, StepApplyChanges, branch)
}

func (b *LocalBackend) Merge(ctx context.Context, branch string) error {
	return b.step(ctx, StepMerge, branch)
}

func (b *LocalBackend) Deploy(ctx context.Context, branch string) error {
	return b.step(ctx, StepDeploy, branch)
}

func (b *LocalBackend) VerifyDeployment(ctx context.Context, branch string) error {
	return b.step(ctx, StepVerifyDeployment, branch)
}

func (b *LocalBackend) ResetBranch(ctx context.Context, branch string) error {
	return b.step(ctx, StepResetBranch, branch)
}

func (b *LocalBackend) RestorePrevious(ctx context.Context, branch string) error {
	return b.step(ctx, StepRestorePrevious, branch)
}

func (b *LocalBackend) VerifyRollback(ctx context.Context, branch string) error {
	return b.step(ctx, StepVerifyRollback, branch)
}

func (b *LocalBackend) Cleanup(ctx context.Context, branch string) error {
	return b.step(ctx, StepCleanup, branch)
}

// outcomes is a mutex-guarded name → error table.
type outcomes struct {
	mu       sync.Mutex
	failures map[string]error
}

func (o *outcomes) set(name string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failures == nil {
		o.failures = make(map[string]error)
	}
	if err == nil {
		delete(o.failures, name)
		return
	}
	o.failures[name] = err
}

func (o *outcomes) get(name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failures[name]
}

// StaticValidator passes every check except those configured to fail.
type StaticValidator struct{ outcomes }

// NewStaticValidator creates a StaticValidator with the given failures.
func NewStaticValidator(failures map[string]error) *StaticValidator {
	v := &StaticValidator{}
	for name, err := range failures {
		v.set(name, err)
	}
	return v
}

// Set changes the outcome of check. A nil err makes it pass.
func (v *StaticValidator) Set(check string, err error) { v.set(check, err) }

func (v *StaticValidator) Check(ctx context.Context, check, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return v.get(check)
}

// StaticSmokeRunner reports every probe healthy except those configured
// to fail.
type StaticSmokeRunner struct{ outcomes }

// NewStaticSmokeRunner creates a StaticSmokeRunner with the given
// failures.
func NewStaticSmokeRunner(failures map[string]error) *StaticSmokeRunner {
	r := &StaticSmokeRunner{}
	for name, err := range failures {
		r.set(name, err)
	}
	return r
}

// Set changes the outcome of probe. A nil err makes it healthy.
func (r *StaticSmokeRunner) Set(probe string, err error) { r.set(probe, err) }

func (r *StaticSmokeRunner) Probe(ctx context.Context, probe, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.get(probe)
}

// maxOutputTail bounds how much command output is kept in an error.
const maxOutputTail = 2048

// CommandValidator runs a configured command per dry-run check in Dir.
// The branch is exported to the command as CANARY_BRANCH.
type CommandValidator struct {
	Dir      string
	Commands map[string][]string
}

// NewCommandValidator creates a CommandValidator.
func NewCommandValidator(dir string, commands map[string][]string) *CommandValidator {
	return &CommandValidator{Dir: dir, Commands: commands}
}

func (v *CommandValidator) Check(ctx context.Context, check, branch string) error {
	argv := v.Commands[check]
	if len(argv) == 0 {
		return fmt.Errorf("no command configured for check %q", check)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = v.Dir
	cmd.Env = append(os.Environ(), "CANARY_BRANCH="+branch, "CANARY_CHECK="+check)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		tail := strings.TrimSpace(out.String())
		if len(tail) > maxOutputTail {
			tail = tail[len(tail)-maxOutputTail:]
		}
		if tail == "" {
			return fmt.Errorf("%s: %w", strings.Join(argv, " "), err)
		}
		return fmt.Errorf("%s: %w: %s", strings.Join(argv, " "), err, tail)
	}
	return nil
}

// HTTPSmokeRunner probes a URL per smoke probe and treats any 2xx as
// healthy. The branch is sent as the X-Canary-Branch header.
type HTTPSmokeRunner struct {
	URLs   map[string]string
	Client *http.Client
}

// NewHTTPSmokeRunner creates an HTTPSmokeRunner with a per-request timeout.
func NewHTTPSmokeRunner(urls map[string]string, timeout time.Duration) *HTTPSmokeRunner {
	return &HTTPSmokeRunner{URLs: urls, Client: &http.Client{Timeout: timeout}}
}

func (r *HTTPSmokeRunner) Probe(ctx context.Context, probe, branch string) error {
	url := r.URLs[probe]
	if url == "" {
		return fmt.Errorf("no URL configured for probe %q", probe)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("X-Canary-Branch", branch)

	resp, err := r.Client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}
	return nil
}
