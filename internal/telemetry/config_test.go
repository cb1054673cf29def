package telemetry

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/fyrsmithlabs/cadence/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enabledConfig(endpoint string) *Config {
	cfg := NewDefaultConfig()
	cfg.Endpoint = endpoint
	cfg.PublicKey = "pk-lf-123"
	cfg.SecretKey = config.Secret("sk-lf-456")
	return cfg
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.False(t, cfg.Enabled())
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.Equal(t, "cadence", cfg.ServiceName)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 5*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 3*time.Second, cfg.AttemptTimeout)
	assert.Equal(t, 20*time.Second, cfg.TotalTimeout)
	assert.Equal(t, 2*time.Second, cfg.InlineTimeout)
}

func TestFromSettings(t *testing.T) {
	tests := []struct {
		name         string
		host         string
		wantEndpoint string
		wantBase     string
		wantInsecure bool
		wantErr      string
	}{
		{name: "https host", host: "https://cloud.langfuse.com", wantEndpoint: "cloud.langfuse.com"},
		{name: "host with base path", host: "https://cloud.langfuse.com/api/public/otel/", wantEndpoint: "cloud.langfuse.com", wantBase: "/api/public/otel"},
		{name: "bare host defaults to https", host: "otel.example.com:4318", wantEndpoint: "otel.example.com:4318"},
		{name: "http selects insecure", host: "http://localhost:4318", wantEndpoint: "localhost:4318", wantInsecure: true},
		{name: "unsupported scheme", host: "ftp://example.com", wantErr: "unsupported scheme"},
		{name: "missing host", host: "https://", wantErr: "missing host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := config.Default().Remote
			rc.Host = tt.host
			rc.PublicKey = "pk"
			rc.SecretKey = config.Secret("sk")

			cfg, err := FromSettings(rc, "1.2.3")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, cfg.Enabled())
			assert.Equal(t, tt.wantEndpoint, cfg.Endpoint)
			assert.Equal(t, tt.wantBase, cfg.BasePath)
			assert.Equal(t, tt.wantInsecure, cfg.Insecure)
			assert.Equal(t, "1.2.3", cfg.ServiceVersion)
			assert.Equal(t, tt.wantBase+"/v1/traces", cfg.tracesURLPath())
			assert.Equal(t, tt.wantBase+"/v1/metrics", cfg.metricsURLPath())
		})
	}
}

func TestFromSettings_Disabled(t *testing.T) {
	tests := []struct {
		name string
		edit func(*config.RemoteConfig)
	}{
		{name: "nothing set", edit: func(*config.RemoteConfig) {}},
		{name: "missing host", edit: func(rc *config.RemoteConfig) {
			rc.PublicKey, rc.SecretKey = "pk", "sk"
		}},
		{name: "missing public key", edit: func(rc *config.RemoteConfig) {
			rc.Host, rc.SecretKey = "https://x.example.com", "sk"
		}},
		{name: "missing secret key", edit: func(rc *config.RemoteConfig) {
			rc.Host, rc.PublicKey = "https://x.example.com", "pk"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := config.Default().Remote
			tt.edit(&rc)
			cfg, err := FromSettings(rc, "")
			require.NoError(t, err)
			assert.False(t, cfg.Enabled())
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		edit    func(*Config)
		wantErr string
	}{
		{name: "valid remote TLS", edit: func(*Config) {}},
		{name: "insecure allowed for localhost", edit: func(c *Config) {
			c.Endpoint = "localhost:4318"
			c.Insecure = true
		}},
		{name: "insecure not allowed for remote endpoint", edit: func(c *Config) {
			c.Insecure = true
		}, wantErr: "insecure connections to remote endpoints are not allowed"},
		{name: "bad protocol", edit: func(c *Config) {
			c.Protocol = "udp"
		}, wantErr: "protocol must be"},
		{name: "missing service name", edit: func(c *Config) {
			c.ServiceName = ""
		}, wantErr: "service_name is required"},
		{name: "negative retries", edit: func(c *Config) {
			c.MaxRetries = -1
		}, wantErr: "max_retries"},
		{name: "zero attempt timeout", edit: func(c *Config) {
			c.AttemptTimeout = 0
		}, wantErr: "timeouts must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := enabledConfig("collector.prod:4318")
			tt.edit(cfg)
			err := cfg.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_IsLocalEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		isLocal  bool
	}{
		{"localhost:4318", true},
		{"localhost", true},
		{"127.0.0.1:4318", true},
		{"127.0.0.1", true},
		{"127.0.1.1:4318", true},
		{"[::1]:4318", true},
		{"::1", true},
		{"collector.prod:4318", false},
		{"cloud.langfuse.com", false},
		{"192.168.1.1:4318", false},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			cfg := &Config{Endpoint: tt.endpoint}
			assert.Equal(t, tt.isLocal, cfg.isLocalEndpoint())
		})
	}
}

func TestConfig_AuthHeaders(t *testing.T) {
	cfg := enabledConfig("localhost:4318")
	headers := cfg.authHeaders()

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("pk-lf-123:sk-lf-456"))
	assert.Equal(t, map[string]string{"Authorization": want}, headers)
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "localhost:4318", stripScheme("http://localhost:4318"))
	assert.Equal(t, "otel.example.com", stripScheme("https://otel.example.com"))
	assert.Equal(t, "otel.example.com:4318", stripScheme("otel.example.com:4318"))
}
