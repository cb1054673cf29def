// internal/logging/config.go
package logging

import (
	"fmt"
	"os"

	"github.com/fyrsmithlabs/cadence/internal/config"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	Level  zapcore.Level
	Format string

	// Output receives encoded entries. Defaults to stderr so hook output
	// never mixes with commands that parse stdout.
	Output zapcore.WriteSyncer

	// Fields are attached to every entry.
	Fields map[string]string

	// RedactFields lists field keys whose values are never written.
	RedactFields []string
}

// NewDefaultConfig returns the configuration used by hook invocations.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.WarnLevel,
		Format: "console",
		Output: zapcore.Lock(os.Stderr),
		Fields: map[string]string{
			"service": "cadence",
		},
		RedactFields: []string{
			"secret", "secret_key", "password", "token",
			"authorization", "credential", "api_key",
		},
	}
}

// FromSettings builds a logging config from the logging section.
func FromSettings(s config.LoggingConfig) (*Config, error) {
	cfg := NewDefaultConfig()
	if s.Level != "" {
		level, err := LevelFromString(s.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid logging level %q: %w", s.Level, err)
		}
		cfg.Level = level
	}
	if s.Format != "" {
		cfg.Format = s.Format
	}
	return cfg, cfg.Validate()
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if c.Output == nil {
		return fmt.Errorf("output is required")
	}
	for k, v := range c.Fields {
		if k == "" {
			return fmt.Errorf("field key cannot be empty")
		}
		if v == "" {
			return fmt.Errorf("field %q has empty value", k)
		}
	}
	return nil
}
