package config

import (
	"fmt"
	"strings"
	"time"

	logx "cronflow/pkg/logx"
)

// Config is the daemon settings file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Executor ExecutorConfig `json:"executor"`
	Metrics  MetricsConfig  `json:"metrics"`
	Graphs   GraphsConfig   `json:"graphs"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ExecutorConfig controls the dispatch loop and shutdown.
//
// Defaults (when fields are omitted/zero):
//   - timezone: "Local"
//   - kill_grace: "5s"
//   - failure_log_rate: "1m" (at most one failure log per graph per interval)
type ExecutorConfig struct {
	// Timezone used to evaluate cron patterns (IANA name, "UTC" or "Local").
	Timezone       string `json:"timezone,omitempty"`
	KillGrace      string `json:"kill_grace,omitempty"`
	FailureLogRate string `json:"failure_log_rate,omitempty"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address,omitempty"` // default: "127.0.0.1:9108"
	// Pprof also mounts net/http/pprof under /debug/pprof/.
	Pprof bool `json:"pprof,omitempty"`
}

// GraphsConfig controls where graph configuration files are looked up.
type GraphsConfig struct {
	// ConfigDir is the base directory for relative graph config paths.
	ConfigDir string `json:"config_dir,omitempty"`
}

const (
	DefaultKillGrace      = 5 * time.Second
	DefaultFailureLogRate = time.Minute
	DefaultMetricsAddress = "127.0.0.1:9108"
)

// Default returns the settings used when no settings file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
	}
}

// ExecutorSettings is the resolved form of ExecutorConfig.
type ExecutorSettings struct {
	Location       *time.Location
	KillGrace      time.Duration
	FailureLogRate time.Duration
}

// Resolve parses durations and loads the timezone, applying defaults.
func (c ExecutorConfig) Resolve() (ExecutorSettings, error) {
	var (
		out ExecutorSettings
		err error
	)
	out.Location, err = LoadLocation(c.Timezone)
	if err != nil {
		return ExecutorSettings{}, err
	}
	if out.KillGrace, err = ParseDurationOrDefault("executor.kill_grace", c.KillGrace, DefaultKillGrace); err != nil {
		return ExecutorSettings{}, err
	}
	if out.FailureLogRate, err = ParseDurationOrDefault("executor.failure_log_rate", c.FailureLogRate, DefaultFailureLogRate); err != nil {
		return ExecutorSettings{}, err
	}
	return out, nil
}

// LoadLocation resolves a timezone name. Empty and "Local" mean time.Local.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "" || strings.EqualFold(name, "local"):
		return time.Local, nil
	case strings.EqualFold(name, "utc"):
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("executor.timezone: %w", err)
	}
	return loc, nil
}

// Addr returns the listen address with the default applied.
func (c MetricsConfig) Addr() string {
	if a := strings.TrimSpace(c.Address); a != "" {
		return a
	}
	return DefaultMetricsAddress
}

// LogConfig maps the logging section onto logx.
func (c LoggingConfig) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

// Validate checks every section. It is used as the reload validator.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if !logx.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Logging.File.Enabled && strings.ContainsRune(c.Logging.File.Path, 0) {
		return fmt.Errorf("logging.file.path: invalid path")
	}
	if _, err := c.Executor.Resolve(); err != nil {
		return err
	}
	return nil
}
