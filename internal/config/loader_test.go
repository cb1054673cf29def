package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points every user directory and credential variable at test values.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("XDG_CONFIG_HOME", "")
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, EnvPrefix) || strings.HasPrefix(name, langfusePrefix) {
			t.Setenv(name, "")
			require.NoError(t, os.Unsetenv(name))
		}
	}
	return home
}

func TestLoadWithFile_Defaults(t *testing.T) {
	home := isolate(t)

	cfg, err := LoadWithFile(filepath.Join(home, "missing.yaml"))
	require.NoError(t, err)

	dataDir := filepath.Join(home, ".local", "share", "cadence")
	assert.Equal(t, dataDir, cfg.Paths.DataDir)
	assert.Equal(t, filepath.Join(dataDir, "events.jsonl"), cfg.Paths.LogFile)
	assert.Equal(t, filepath.Join(dataDir, "publish-errors.log"), cfg.Paths.DiagnosticsFile)
	assert.Equal(t, filepath.Join(home, ".config", "cadence", "allowlist.toml"), cfg.Paths.AllowlistFile)
	assert.Equal(t, 500*time.Millisecond, cfg.Cycle.LockTimeout.Duration())
	assert.Equal(t, 3, cfg.Remote.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Remote.InlineTimeout.Duration())
	assert.False(t, cfg.Remote.Enabled())
}

func TestLoadWithFile_YAML(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
paths:
  data_dir: /var/lib/cadence
cycle:
  lock_timeout: 2s
remote:
  host: https://otel.example.com
  protocol: grpc
  max_retries: 5
logging:
  level: debug
  format: json
`), 0600))

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/cadence", cfg.Paths.DataDir)
	assert.Equal(t, filepath.Join("/var/lib/cadence", "events.jsonl"), cfg.Paths.LogFile)
	assert.Equal(t, 2*time.Second, cfg.Cycle.LockTimeout.Duration())
	assert.Equal(t, "https://otel.example.com", cfg.Remote.Host)
	assert.Equal(t, "grpc", cfg.Remote.Protocol)
	assert.Equal(t, 5, cfg.Remote.MaxRetries)
	assert.Equal(t, "json", cfg.Logging.Format)
	// Untouched defaults survive a partial file.
	assert.Equal(t, 3*time.Second, cfg.Remote.AttemptTimeout.Duration())
	assert.False(t, cfg.Remote.Enabled(), "credentials still missing")
}

func TestLoadWithFile_LangfuseEnv(t *testing.T) {
	home := isolate(t)
	t.Setenv("LANGFUSE_HOST", "https://cloud.langfuse.com")
	t.Setenv("LANGFUSE_PUBLIC_KEY", "pk-lf-123")
	t.Setenv("LANGFUSE_SECRET_KEY", "sk-lf-456")
	t.Setenv("LANGFUSE_DEBUG", "true")

	cfg, err := LoadWithFile(filepath.Join(home, "none.yaml"))
	require.NoError(t, err)

	assert.True(t, cfg.Remote.Enabled())
	assert.Equal(t, "https://cloud.langfuse.com", cfg.Remote.Host)
	assert.Equal(t, "pk-lf-123", cfg.Remote.PublicKey)
	assert.Equal(t, "sk-lf-456", cfg.Remote.SecretKey.Value())
}

func TestLoadWithFile_CadenceEnvWins(t *testing.T) {
	home := isolate(t)
	t.Setenv("LANGFUSE_HOST", "https://cloud.langfuse.com")
	t.Setenv("CADENCE_REMOTE_HOST", "http://localhost:4318")
	t.Setenv("CADENCE_REMOTE_MAX_RETRIES", "1")
	t.Setenv("CADENCE_CYCLE_LOCK_TIMEOUT", "50ms")
	t.Setenv("CADENCE_REMOTE_DETACH", "false")

	cfg, err := LoadWithFile(filepath.Join(home, "none.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:4318", cfg.Remote.Host)
	assert.Equal(t, 1, cfg.Remote.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Cycle.LockTimeout.Duration())
	assert.False(t, cfg.Remote.Detach)
}

func TestLoadWithFile_XDGDirectories(t *testing.T) {
	home := isolate(t)
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, "data"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "conf"))

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "data", "cadence"), cfg.Paths.DataDir)
	assert.Equal(t, filepath.Join(home, "conf", "cadence", "allowlist.toml"), cfg.Paths.AllowlistFile)
}

func TestFallback(t *testing.T) {
	home := isolate(t)
	t.Setenv("CADENCE_REMOTE_HOST", "https://ignored.example.com")

	cfg, err := Fallback()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".local", "share", "cadence", "events.jsonl"), cfg.Paths.LogFile)
	assert.Empty(t, cfg.Remote.Host, "environment is not consulted")
	assert.NoError(t, cfg.Validate())
}

func TestLoadWithFile_Invalid(t *testing.T) {
	home := isolate(t)

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "bad protocol", yaml: "remote:\n  protocol: udp\n", wantErr: "remote.protocol"},
		{name: "bad format", yaml: "logging:\n  format: xml\n", wantErr: "logging.format"},
		{name: "too many retries", yaml: "remote:\n  max_retries: 50\n", wantErr: "max_retries"},
		{name: "negative duration", yaml: "cycle:\n  lock_timeout: -1s\n", wantErr: "negative"},
		{name: "negative integer duration", yaml: "cycle:\n  lock_timeout: -5\n", wantErr: "negative"},
		{name: "zero inline timeout", yaml: "remote:\n  inline_timeout: 0s\n", wantErr: "remote.inline_timeout"},
		{name: "malformed yaml", yaml: "remote: [", wantErr: "failed to load config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(home, tt.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0600))

			_, err := LoadWithFile(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadWithFile_NumericDurations(t *testing.T) {
	home := isolate(t)

	tests := []struct {
		name string
		yaml string
		get  func(*Config) Duration
		want time.Duration
	}{
		{name: "integer", yaml: "cycle:\n  lock_timeout: 250\n", get: func(c *Config) Duration { return c.Cycle.LockTimeout }, want: 250 * time.Millisecond},
		{name: "float", yaml: "cycle:\n  lock_timeout: 1.5\n", get: func(c *Config) Duration { return c.Cycle.LockTimeout }, want: 1500 * time.Microsecond},
		{name: "quoted integer", yaml: "cycle:\n  lock_timeout: \"250\"\n", get: func(c *Config) Duration { return c.Cycle.LockTimeout }, want: 250 * time.Millisecond},
		{name: "duration string", yaml: "remote:\n  inline_timeout: 1s\n", get: func(c *Config) Duration { return c.Remote.InlineTimeout }, want: time.Second},
		{name: "remote integer", yaml: "remote:\n  inline_timeout: 1500\n", get: func(c *Config) Duration { return c.Remote.InlineTimeout }, want: 1500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(home, tt.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0600))

			cfg, err := LoadWithFile(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tt.get(cfg).Duration())
		})
	}
}

func TestLoadWithFile_TooLarge(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "big.yaml")
	require.NoError(t, os.WriteFile(path, make([]byte, maxConfigFileSize+1), 0600))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestSecret_Redacted(t *testing.T) {
	s := Secret("sk-lf-456")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "config.Secret([REDACTED])", fmt.Sprintf("%#v", s))
	data, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.Equal(t, `{"Key":"[REDACTED]"}`, string(data))
	assert.Equal(t, "sk-lf-456", s.Value())
	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestDuration_UnmarshalText(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "750ms", want: 750 * time.Millisecond},
		{in: "2s", want: 2 * time.Second},
		{in: "250", want: 250 * time.Millisecond},
		{in: " 1m ", want: time.Minute},
		{in: "-5", wantErr: true},
		{in: "-1s", wantErr: true},
		{in: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalText([]byte(tt.in))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Duration())
		})
	}
}

func TestLoadWithFile_MillisecondEnv(t *testing.T) {
	home := isolate(t)
	t.Setenv("CADENCE_CYCLE_LOCK_TIMEOUT", "250")

	cfg, err := LoadWithFile(filepath.Join(home, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Cycle.LockTimeout.Duration())
}

func TestKeyMapping(t *testing.T) {
	assert.Equal(t, "remote.public_key", cadenceKey("CADENCE_REMOTE_PUBLIC_KEY"))
	assert.Equal(t, "paths.log_file", cadenceKey("CADENCE_PATHS_LOG_FILE"))
	assert.Equal(t, "remote.secret_key", langfuseKey("LANGFUSE_SECRET_KEY"))
	assert.Equal(t, "", langfuseKey("LANGFUSE_RELEASE"))
}
