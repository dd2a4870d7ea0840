package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Worker.Path = "/usr/local/bin/agent"
	cfg.Heartbeat.ChannelBase = "agent_hb"
	return cfg
}

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "warden.toml")
	content := `
runtime_dir = "/run/warden"

[worker]
path = "/usr/local/bin/agent"
args = ["--verbose"]

[heartbeat]
channel_base = "agent_hb"
interval_seconds = 15

[restart]
max_attempts = 5

[supervisor]
multi_session = false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/agent", cfg.Worker.Path)
	assert.Equal(t, []string{"--verbose"}, cfg.Worker.Args)
	assert.Equal(t, 15*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, 30*time.Second, cfg.HeartbeatTimeout())
	assert.Equal(t, 5, cfg.Restart.MaxAttempts)
	assert.False(t, cfg.Supervisor.MultiSession)
	// Unset fields keep their defaults.
	assert.Equal(t, 5*time.Second, cfg.RestartDelay())
	assert.Equal(t, "/run/warden", cfg.RuntimeDir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "warden.toml")
	require.NoError(t, os.WriteFile(path, []byte(`runtime_dir = "/run/warden"`), 0644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "worker.path")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing worker path", func(c *Config) { c.Worker.Path = "" }, "worker.path"},
		{"missing channel base", func(c *Config) { c.Heartbeat.ChannelBase = "" }, "channel_base"},
		{"zero heartbeat interval", func(c *Config) { c.Heartbeat.IntervalSeconds = 0 }, "interval_seconds"},
		{"multiplier below two", func(c *Config) { c.Heartbeat.MissedBeatMultiplier = 1 }, "missed_beat_multiplier"},
		{"zero max attempts", func(c *Config) { c.Restart.MaxAttempts = 0 }, "max_attempts"},
		{"negative restart delay", func(c *Config) { c.Restart.DelaySeconds = -1 }, "delay_seconds"},
		{"zero startup timeout", func(c *Config) { c.Supervisor.StartupTimeoutSeconds = 0 }, "startup_timeout"},
		{"stability window below startup timeout", func(c *Config) { c.Restart.StabilityWindowSeconds = 20 }, "stability_window"},
		{"zero poll interval", func(c *Config) { c.Supervisor.PollIntervalSeconds = 0 }, "poll_interval"},
		{"zero tick interval", func(c *Config) { c.Supervisor.TickIntervalSeconds = 0 }, "tick_interval"},
		{"zero stop grace", func(c *Config) { c.Supervisor.StopGraceSeconds = 0 }, "stop_grace"},
		{"missing runtime dir", func(c *Config) { c.RuntimeDir = "" }, "runtime_dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, 20*time.Second, cfg.HeartbeatTimeout())
	assert.Equal(t, 2*time.Minute, cfg.StabilityWindow())
	assert.Equal(t, 30*time.Second, cfg.StartupTimeout())
	assert.Equal(t, 10*time.Second, cfg.StopGrace())
}
