package telemetry

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/cadence/internal/config"
)

const (
	protocolHTTP = "http/protobuf"
	protocolGRPC = "grpc"

	tracesPath  = "/v1/traces"
	metricsPath = "/v1/metrics"
)

// ErrDisabled indicates remote publishing is not configured.
var ErrDisabled = errors.New("remote publishing disabled")

// Config holds resolved publisher settings.
type Config struct {
	// Endpoint is host[:port] with any scheme removed.
	Endpoint string

	// BasePath prefixes the OTLP signal paths for HTTP export, so a host of
	// https://cloud.example.com/api/public/otel sends traces to
	// /api/public/otel/v1/traces.
	BasePath string

	Protocol  string
	Insecure  bool
	PublicKey string
	SecretKey config.Secret

	ServiceName    string
	ServiceVersion string
	Metrics        bool

	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
	TotalTimeout   time.Duration

	// InlineTimeout bounds a publish run by InlineDispatcher.
	InlineTimeout time.Duration
}

// NewDefaultConfig returns publisher defaults with no backend configured.
func NewDefaultConfig() *Config {
	return &Config{
		Protocol:       protocolHTTP,
		ServiceName:    "cadence",
		ServiceVersion: "dev",
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		AttemptTimeout: 3 * time.Second,
		TotalTimeout:   20 * time.Second,
		InlineTimeout:  2 * time.Second,
	}
}

// FromSettings resolves the remote section into publisher settings.
//
// An unconfigured backend is not an error; the result simply reports
// Enabled() == false.
func FromSettings(rc config.RemoteConfig, version string) (*Config, error) {
	cfg := NewDefaultConfig()
	cfg.PublicKey = rc.PublicKey
	cfg.SecretKey = rc.SecretKey
	cfg.Insecure = rc.Insecure
	cfg.Metrics = rc.Metrics
	cfg.MaxRetries = rc.MaxRetries
	if rc.Protocol != "" {
		cfg.Protocol = rc.Protocol
	}
	if rc.ServiceName != "" {
		cfg.ServiceName = rc.ServiceName
	}
	if version != "" {
		cfg.ServiceVersion = version
	}
	if d := rc.InitialBackoff.Duration(); d > 0 {
		cfg.InitialBackoff = d
	}
	if d := rc.MaxBackoff.Duration(); d > 0 {
		cfg.MaxBackoff = d
	}
	if d := rc.AttemptTimeout.Duration(); d > 0 {
		cfg.AttemptTimeout = d
	}
	if d := rc.TotalTimeout.Duration(); d > 0 {
		cfg.TotalTimeout = d
	}
	if d := rc.InlineTimeout.Duration(); d > 0 {
		cfg.InlineTimeout = d
	}

	if rc.Host != "" {
		if err := cfg.setHost(rc.Host); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// setHost splits a host URL into endpoint and base path. A plain http
// scheme selects an insecure connection.
func (c *Config) setHost(host string) error {
	raw := strings.TrimSpace(host)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid remote host %q: %w", host, err)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid remote host %q: missing host", host)
	}
	switch u.Scheme {
	case "http":
		c.Insecure = true
	case "https":
	default:
		return fmt.Errorf("invalid remote host %q: unsupported scheme %q", host, u.Scheme)
	}
	c.Endpoint = u.Host
	c.BasePath = strings.TrimSuffix(u.Path, "/")
	return nil
}

// Enabled reports whether an endpoint and both credentials are present.
func (c *Config) Enabled() bool {
	return c != nil && c.Endpoint != "" && c.PublicKey != "" && c.SecretKey.IsSet()
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if !c.Enabled() {
		return nil
	}

	if c.Protocol != protocolHTTP && c.Protocol != protocolGRPC {
		return fmt.Errorf("protocol must be %q or %q, got %q", protocolHTTP, protocolGRPC, c.Protocol)
	}

	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when publishing is enabled")
	}

	// Credentials travel in a header; never send them in clear text off-host.
	if c.Insecure && !c.isLocalEndpoint() {
		return fmt.Errorf("insecure connections to remote endpoints are not allowed; use https or a local endpoint (localhost/127.0.0.1)")
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}

	if c.AttemptTimeout <= 0 || c.TotalTimeout <= 0 {
		return fmt.Errorf("attempt and total timeouts must be positive")
	}

	return nil
}

// authHeaders returns the Basic authorization header for the key pair.
func (c *Config) authHeaders() map[string]string {
	token := base64.StdEncoding.EncodeToString([]byte(c.PublicKey + ":" + c.SecretKey.Value()))
	return map[string]string{"Authorization": "Basic " + token}
}

func (c *Config) tracesURLPath() string {
	return c.BasePath + tracesPath
}

func (c *Config) metricsURLPath() string {
	return c.BasePath + metricsPath
}

// isLocalEndpoint checks if the endpoint is a local address.
func (c *Config) isLocalEndpoint() bool {
	host := c.Endpoint

	// Handle IPv6 addresses (may be bracketed like [::1]:4318)
	if strings.HasPrefix(host, "[") {
		if idx := strings.Index(host, "]:"); idx != -1 {
			host = host[1:idx]
		} else if strings.HasSuffix(host, "]") {
			host = host[1 : len(host)-1]
		}
	} else if strings.Count(host, ":") == 1 {
		if idx := strings.LastIndex(host, ":"); idx != -1 {
			host = host[:idx]
		}
	}

	return host == "localhost" ||
		host == "127.0.0.1" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.") ||
		strings.HasPrefix(c.Endpoint, "::1")
}
