// Package config loads rolloutd configuration.
//
// Precedence (highest to lowest): ROLLOUTD_* environment variables, the
// YAML config file, then Default().
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/rolloutd/internal/canary"
	"github.com/fyrsmithlabs/rolloutd/internal/feedback"
	"github.com/fyrsmithlabs/rolloutd/internal/lifecycle"
	"github.com/fyrsmithlabs/rolloutd/internal/logging"
	"github.com/fyrsmithlabs/rolloutd/internal/risk"
	"github.com/fyrsmithlabs/rolloutd/internal/telemetry"
	"github.com/fyrsmithlabs/rolloutd/internal/workflows"
)

// Config holds the complete rolloutd configuration.
type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Logging   logging.Config   `koanf:"logging"`
	Telemetry telemetry.Config `koanf:"telemetry"`
	Risk      risk.Config      `koanf:"risk"`
	Guard     GuardConfig      `koanf:"guard"`
	Feedback  feedback.Config  `koanf:"feedback"`
	Lifecycle lifecycle.Config `koanf:"lifecycle"`
	Canary    CanaryConfig     `koanf:"canary"`
	Events    EventsConfig     `koanf:"events"`
	NATS      NATSConfig       `koanf:"nats"`
	Temporal  TemporalConfig   `koanf:"temporal"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// SubmitRate limits proposal submissions per second; SubmitBurst is
	// the bucket size.
	SubmitRate  float64 `koanf:"submit_rate"`
	SubmitBurst int     `koanf:"submit_burst"`

	// SSEHeartbeat is the keep-alive interval on the event stream.
	SSEHeartbeat time.Duration `koanf:"sse_heartbeat"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GuardConfig locates guard rules and the secret scanner allowlist.
type GuardConfig struct {
	RulesFile     string `koanf:"rules_file"`     // YAML; built-in rules when empty
	Watch         bool   `koanf:"watch"`          // Reload RulesFile on change
	ScanSecrets   bool   `koanf:"scan_secrets"`   // Run gitleaks over file content
	AllowlistFile string `koanf:"allowlist_file"` // TOML gitleaks allowlist
}

// CanaryConfig is the orchestrator configuration plus the backends to use.
type CanaryConfig struct {
	canary.Config `koanf:",squash"`

	BranchPrefix string `koanf:"branch_prefix"`
	WorkDir      string `koanf:"work_dir"`

	// Commands maps dry-run check names to argv. When empty, every check
	// passes.
	Commands map[string][]string `koanf:"commands"`

	// ProbeURLs maps smoke probe names to URLs. When empty, every probe
	// is healthy.
	ProbeURLs    map[string]string `koanf:"probe_urls"`
	ProbeTimeout time.Duration     `koanf:"probe_timeout"`
}

// Event store kinds.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// EventsConfig selects the audit log store.
type EventsConfig struct {
	Store string `koanf:"store"`
	Path  string `koanf:"path"`
}

// NATSConfig configures audit fan-out.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
	Token         Secret `koanf:"token"`
}

// TemporalConfig configures durable post-apply verification. When
// disabled, verification runs in process.
type TemporalConfig struct {
	Enabled   bool     `koanf:"enabled"`
	HostPort  string   `koanf:"host_port"`
	Namespace string   `koanf:"namespace"`
	TaskQueue string   `koanf:"task_queue"`
	Checks    []string `koanf:"checks"`
	Worker    bool     `koanf:"worker"` // Run a worker in this process
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8085,
			ShutdownTimeout: 10 * time.Second,
			SubmitRate:      5,
			SubmitBurst:     10,
			SSEHeartbeat:    15 * time.Second,
		},
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
		Risk:      risk.DefaultConfig(),
		Guard: GuardConfig{
			ScanSecrets: true,
		},
		Feedback:  feedback.DefaultConfig(),
		Lifecycle: lifecycle.DefaultConfig(),
		Canary: CanaryConfig{
			Config:       canary.DefaultConfig(),
			BranchPrefix: "canary/",
			ProbeTimeout: 5 * time.Second,
		},
		Events: EventsConfig{
			Store: StoreMemory,
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "rollout.events",
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: workflows.TaskQueue,
			Checks:    workflows.NewActivities().CheckNames(),
			Worker:    true,
		},
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}
	if c.Server.SubmitRate <= 0 || c.Server.SubmitBurst <= 0 {
		return errors.New("server.submit_rate and server.submit_burst must be positive")
	}
	if c.Server.SSEHeartbeat <= 0 {
		return errors.New("server.sse_heartbeat must be positive")
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if c.Guard.Watch && c.Guard.RulesFile == "" {
		return errors.New("guard.watch requires guard.rules_file")
	}
	if err := c.Feedback.Validate(); err != nil {
		return err
	}
	if err := c.Lifecycle.Validate(); err != nil {
		return err
	}
	if err := c.Canary.Validate(); err != nil {
		return err
	}
	if c.Canary.ProbeTimeout <= 0 {
		return errors.New("canary.probe_timeout must be positive")
	}

	switch c.Events.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.Events.Path == "" {
			return errors.New("events.path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("events.store must be %q or %q, got %q", StoreMemory, StoreSQLite, c.Events.Store)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats.url is required when nats is enabled")
	}
	if c.Temporal.Enabled {
		if c.Temporal.HostPort == "" || c.Temporal.TaskQueue == "" {
			return errors.New("temporal.host_port and temporal.task_queue are required when temporal is enabled")
		}
		if len(c.Temporal.Checks) == 0 {
			return errors.New("temporal.checks must not be empty")
		}
	}
	return nil
}
