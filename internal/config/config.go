// Package config loads and validates the warden configuration file.
// Validation is strict and happens once, before supervision begins:
// a bad value is rejected at startup rather than discovered mid-loop.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultPath is the config file location relative to the runtime root.
const DefaultPath = "warden.toml"

// Config is the full warden configuration.
// Durations are expressed in seconds in the TOML file; use the
// accessor methods to get time.Duration values.
type Config struct {
	Worker struct {
		Path string   `toml:"path"`
		Args []string `toml:"args"`
	} `toml:"worker"`

	Heartbeat struct {
		ChannelBase          string `toml:"channel_base"`
		IntervalSeconds      int    `toml:"interval_seconds"`
		MissedBeatMultiplier int    `toml:"missed_beat_multiplier"`
	} `toml:"heartbeat"`

	Restart struct {
		MaxAttempts            int `toml:"max_attempts"`
		DelaySeconds           int `toml:"delay_seconds"`
		StabilityWindowSeconds int `toml:"stability_window_seconds"`
	} `toml:"restart"`

	Supervisor struct {
		StartupTimeoutSeconds  int  `toml:"startup_timeout_seconds"`
		PollIntervalSeconds    int  `toml:"poll_interval_seconds"`
		TickIntervalSeconds    int  `toml:"tick_interval_seconds"`
		StopGraceSeconds       int  `toml:"stop_grace_seconds"`
		MultiSession           bool `toml:"multi_session"`
	} `toml:"supervisor"`

	RuntimeDir string `toml:"runtime_dir"`
}

// Default returns a Config populated with default values.
// Worker.Path and Heartbeat.ChannelBase have no defaults and must
// be set by the config file.
func Default() *Config {
	c := &Config{}
	c.Heartbeat.IntervalSeconds = 10
	c.Heartbeat.MissedBeatMultiplier = 2
	c.Restart.MaxAttempts = 3
	c.Restart.DelaySeconds = 5
	c.Restart.StabilityWindowSeconds = 120
	c.Supervisor.StartupTimeoutSeconds = 30
	c.Supervisor.PollIntervalSeconds = 5
	c.Supervisor.TickIntervalSeconds = 5
	c.Supervisor.StopGraceSeconds = 10
	c.Supervisor.MultiSession = true
	c.RuntimeDir = defaultRuntimeDir()
	return c
}

// defaultRuntimeDir prefers the user runtime dir when available so
// warden can run unprivileged during development.
func defaultRuntimeDir() string {
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		return filepath.Join(xdg, "warden")
	}
	return "/var/run/warden"
}

// Load reads the config file at path, applies defaults for unset
// fields, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field the supervision loop depends on.
func (c *Config) Validate() error {
	if c.Worker.Path == "" {
		return fmt.Errorf("worker.path must be set")
	}
	if c.Heartbeat.ChannelBase == "" {
		return fmt.Errorf("heartbeat.channel_base must be set")
	}
	if c.Heartbeat.IntervalSeconds <= 0 {
		return fmt.Errorf("heartbeat.interval_seconds must be > 0 (got %d)", c.Heartbeat.IntervalSeconds)
	}
	if c.Heartbeat.MissedBeatMultiplier < 2 {
		return fmt.Errorf("heartbeat.missed_beat_multiplier must be >= 2 (got %d)", c.Heartbeat.MissedBeatMultiplier)
	}
	if c.Restart.MaxAttempts <= 0 {
		return fmt.Errorf("restart.max_attempts must be > 0 (got %d)", c.Restart.MaxAttempts)
	}
	if c.Restart.DelaySeconds < 0 {
		return fmt.Errorf("restart.delay_seconds must be >= 0 (got %d)", c.Restart.DelaySeconds)
	}
	if c.Supervisor.StartupTimeoutSeconds <= 0 {
		return fmt.Errorf("supervisor.startup_timeout_seconds must be > 0 (got %d)", c.Supervisor.StartupTimeoutSeconds)
	}
	// The stability window must exceed the startup timeout so a worker
	// cannot be forgiven before it has even proven it can start.
	if c.Restart.StabilityWindowSeconds <= c.Supervisor.StartupTimeoutSeconds {
		return fmt.Errorf("restart.stability_window_seconds (%d) must be > supervisor.startup_timeout_seconds (%d)",
			c.Restart.StabilityWindowSeconds, c.Supervisor.StartupTimeoutSeconds)
	}
	if c.Supervisor.PollIntervalSeconds <= 0 {
		return fmt.Errorf("supervisor.poll_interval_seconds must be > 0 (got %d)", c.Supervisor.PollIntervalSeconds)
	}
	if c.Supervisor.TickIntervalSeconds <= 0 {
		return fmt.Errorf("supervisor.tick_interval_seconds must be > 0 (got %d)", c.Supervisor.TickIntervalSeconds)
	}
	if c.Supervisor.StopGraceSeconds <= 0 {
		return fmt.Errorf("supervisor.stop_grace_seconds must be > 0 (got %d)", c.Supervisor.StopGraceSeconds)
	}
	if c.RuntimeDir == "" {
		return fmt.Errorf("runtime_dir must be set")
	}
	return nil
}

// HeartbeatInterval returns the worker heartbeat cadence.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Heartbeat.IntervalSeconds) * time.Second
}

// HeartbeatTimeout is the silence duration after which a Running
// worker is declared unresponsive.
func (c *Config) HeartbeatTimeout() time.Duration {
	return c.HeartbeatInterval() * time.Duration(c.Heartbeat.MissedBeatMultiplier)
}

// RestartDelay returns the flat delay imposed between a failure and
// the next launch attempt.
func (c *Config) RestartDelay() time.Duration {
	return time.Duration(c.Restart.DelaySeconds) * time.Second
}

// StabilityWindow returns the continuous Running duration after which
// restart history is forgiven.
func (c *Config) StabilityWindow() time.Duration {
	return time.Duration(c.Restart.StabilityWindowSeconds) * time.Second
}

// StartupTimeout returns how long a launched worker has to deliver
// its first heartbeat.
func (c *Config) StartupTimeout() time.Duration {
	return time.Duration(c.Supervisor.StartupTimeoutSeconds) * time.Second
}

// PollInterval returns the session enumeration cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Supervisor.PollIntervalSeconds) * time.Second
}

// TickInterval returns the reconcile fallback tick cadence.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Supervisor.TickIntervalSeconds) * time.Second
}

// StopGrace returns the bounded window a worker gets to exit after a
// graceful stop before it is force-terminated.
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.Supervisor.StopGraceSeconds) * time.Second
}
