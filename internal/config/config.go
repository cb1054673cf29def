// Package config provides configuration loading for cadence.
//
// Configuration is assembled from hardcoded defaults, an optional YAML file
// and environment variables. Every section is consumed by exactly one
// component: paths by the CLI, cycle by the cycle state store, remote by the
// telemetry publisher and logging by the logger.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const appName = "cadence"

// Config holds the complete cadence configuration.
type Config struct {
	Paths   PathsConfig   `koanf:"paths"`
	Cycle   CycleConfig   `koanf:"cycle"`
	Remote  RemoteConfig  `koanf:"remote"`
	Logging LoggingConfig `koanf:"logging"`
}

// PathsConfig locates the files cadence reads and writes.
type PathsConfig struct {
	// DataDir holds the event log and diagnostic trail.
	// Default: $XDG_DATA_HOME/cadence or ~/.local/share/cadence
	DataDir string `koanf:"data_dir"`

	// LogFile is the append-only event log. Default: <data_dir>/events.jsonl
	LogFile string `koanf:"log_file"`

	// DiagnosticsFile receives remote publish failures.
	// Default: <data_dir>/publish-errors.log
	DiagnosticsFile string `koanf:"diagnostics_file"`

	// StateDir overrides where cycle state is kept. When empty the state
	// lives in <git-common-dir>/cadence so linked worktrees share it.
	StateDir string `koanf:"state_dir"`

	// AllowlistFile holds user-level secret scrubbing allowlist patterns.
	// Default: <config dir>/allowlist.toml
	AllowlistFile string `koanf:"allowlist_file"`
}

// CycleConfig controls the cycle state store.
type CycleConfig struct {
	// LockTimeout bounds how long an invocation waits for the state lock
	// before giving up on cycle-duration computation.
	LockTimeout Duration `koanf:"lock_timeout"`
}

// RemoteConfig controls best-effort publishing to the observability backend.
type RemoteConfig struct {
	Host      string `koanf:"host"`
	PublicKey string `koanf:"public_key"`
	SecretKey Secret `koanf:"secret_key"`

	// Protocol is "http/protobuf" (default) or "grpc".
	Protocol string `koanf:"protocol"`

	// Insecure disables TLS. Only honored for local endpoints.
	Insecure bool `koanf:"insecure"`

	// Metrics exports commit counters and cycle-duration histograms
	// alongside the per-commit span.
	Metrics bool `koanf:"metrics"`

	// Detach publishes from a detached child process. When false the
	// publish runs in-process and the hook waits for it, up to InlineTimeout.
	Detach bool `koanf:"detach"`

	// InlineTimeout caps an in-process publish, retries included.
	InlineTimeout Duration `koanf:"inline_timeout"`

	ServiceName    string   `koanf:"service_name"`
	MaxRetries     int      `koanf:"max_retries"`
	InitialBackoff Duration `koanf:"initial_backoff"`
	MaxBackoff     Duration `koanf:"max_backoff"`
	AttemptTimeout Duration `koanf:"attempt_timeout"`
	TotalTimeout   Duration `koanf:"total_timeout"`
}

// LoggingConfig controls diagnostic output.
type LoggingConfig struct {
	// Level is the minimum stderr level. Hooks stay quiet at "warn".
	Level string `koanf:"level"`

	// Format is "console" or "json".
	Format string `koanf:"format"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Cycle: CycleConfig{
			LockTimeout: Duration(500 * time.Millisecond),
		},
		Remote: RemoteConfig{
			Protocol:       "http/protobuf",
			Metrics:        false,
			Detach:         true,
			InlineTimeout:  Duration(2 * time.Second),
			ServiceName:    appName,
			MaxRetries:     3,
			InitialBackoff: Duration(500 * time.Millisecond),
			MaxBackoff:     Duration(5 * time.Second),
			AttemptTimeout: Duration(3 * time.Second),
			TotalTimeout:   Duration(20 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

// Fallback returns Default with path defaults filled in. The hook uses it
// when the configuration file cannot be loaded.
func Fallback() (*Config, error) {
	cfg := Default()
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Enabled reports whether host and both credentials are configured.
func (r *RemoteConfig) Enabled() bool {
	return r.Host != "" && r.PublicKey != "" && r.SecretKey.IsSet()
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Cycle.LockTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("cycle.lock_timeout must be positive"))
	}

	switch c.Remote.Protocol {
	case "http/protobuf", "grpc":
	default:
		errs = append(errs, fmt.Errorf("remote.protocol must be 'http/protobuf' or 'grpc', got %q", c.Remote.Protocol))
	}
	if c.Remote.MaxRetries < 0 || c.Remote.MaxRetries > 10 {
		errs = append(errs, fmt.Errorf("remote.max_retries must be between 0 and 10, got %d", c.Remote.MaxRetries))
	}
	if c.Remote.AttemptTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("remote.attempt_timeout must be positive"))
	}
	if c.Remote.TotalTimeout.Duration() < c.Remote.AttemptTimeout.Duration() {
		errs = append(errs, errors.New("remote.total_timeout must be at least remote.attempt_timeout"))
	}
	if c.Remote.InlineTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("remote.inline_timeout must be positive"))
	}
	if c.Remote.InitialBackoff.Duration() <= 0 || c.Remote.MaxBackoff.Duration() < c.Remote.InitialBackoff.Duration() {
		errs = append(errs, errors.New("remote backoff must satisfy 0 < initial_backoff <= max_backoff"))
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be 'console' or 'json', got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// resolvePaths fills path defaults derived from the user's directories.
func (c *Config) resolvePaths() error {
	if c.Paths.DataDir == "" {
		dir, err := DataDir()
		if err != nil {
			return err
		}
		c.Paths.DataDir = dir
	}
	if c.Paths.LogFile == "" {
		c.Paths.LogFile = filepath.Join(c.Paths.DataDir, "events.jsonl")
	}
	if c.Paths.DiagnosticsFile == "" {
		c.Paths.DiagnosticsFile = filepath.Join(c.Paths.DataDir, "publish-errors.log")
	}
	if c.Paths.AllowlistFile == "" {
		if dir, err := ConfigDir(); err == nil {
			c.Paths.AllowlistFile = filepath.Join(dir, "allowlist.toml")
		}
	}
	return nil
}

// DataDir returns the user's cadence data directory.
func DataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", appName), nil
}

// ConfigDir returns the user's cadence configuration directory.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", appName), nil
}
