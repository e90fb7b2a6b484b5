package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:8085", cfg.Server.Addr())
	assert.Equal(t, StoreMemory, cfg.Events.Store)
	assert.Equal(t, "rollout.events", cfg.NATS.SubjectPrefix)
	assert.Equal(t, "rollout-verification", cfg.Temporal.TaskQueue)
	assert.Equal(t, []string{"files-recorded", "kpi-within-threshold"}, cfg.Temporal.Checks)
	assert.Equal(t, 30*time.Minute, cfg.Canary.TTL)
	assert.Equal(t, "canary/", cfg.Canary.BranchPrefix)
	assert.True(t, cfg.Canary.RequireAdmission)
	assert.True(t, cfg.Lifecycle.FeedbackEnabled)
	assert.True(t, cfg.Guard.ScanSecrets)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:    "port out of range",
			modify:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid server port: 70000",
		},
		{
			name:    "zero shutdown timeout",
			modify:  func(c *Config) { c.Server.ShutdownTimeout = 0 },
			wantErr: "server.shutdown_timeout must be positive",
		},
		{
			name:    "zero submit rate",
			modify:  func(c *Config) { c.Server.SubmitRate = 0 },
			wantErr: "server.submit_rate",
		},
		{
			name:    "watch without rules file",
			modify:  func(c *Config) { c.Guard.Watch = true },
			wantErr: "guard.watch requires guard.rules_file",
		},
		{
			name:    "canary ttl",
			modify:  func(c *Config) { c.Canary.TTL = 0 },
			wantErr: "canary.ttl must be positive",
		},
		{
			name:    "probe timeout",
			modify:  func(c *Config) { c.Canary.ProbeTimeout = 0 },
			wantErr: "canary.probe_timeout must be positive",
		},
		{
			name:    "sqlite without path",
			modify:  func(c *Config) { c.Events.Store = StoreSQLite },
			wantErr: "events.path is required",
		},
		{
			name:    "unknown store",
			modify:  func(c *Config) { c.Events.Store = "redis" },
			wantErr: `events.store must be "memory" or "sqlite"`,
		},
		{
			name:    "nats without url",
			modify:  func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" },
			wantErr: "nats.url is required",
		},
		{
			name:    "temporal without checks",
			modify:  func(c *Config) { c.Temporal.Enabled = true; c.Temporal.Checks = nil },
			wantErr: "temporal.checks must not be empty",
		},
		{
			name: "sqlite with path",
			modify: func(c *Config) {
				c.Events.Store = StoreSQLite
				c.Events.Path = "/var/lib/rolloutd/events.db"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret(t *testing.T) {
	s := Secret("s3cr3t")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "Secret([REDACTED])", s.GoString())
	assert.Equal(t, "s3cr3t", s.Value())
	assert.True(t, s.IsSet())

	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(b))

	var empty Secret
	assert.False(t, empty.IsSet())
	assert.Equal(t, "", empty.String())

	require.NoError(t, empty.UnmarshalText([]byte("tok")))
	assert.Equal(t, "tok", empty.Value())
}
