package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix namespaces cadence's own environment variables.
	EnvPrefix = "CADENCE_"

	// langfusePrefix is accepted for the remote credential triple so an
	// existing Langfuse setup works without extra configuration.
	langfusePrefix = "LANGFUSE_"
)

// Load loads configuration from the default file location and environment.
func Load() (*Config, error) {
	return LoadWithFile("")
}

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. CADENCE_* environment variables (CADENCE_REMOTE_HOST -> remote.host)
//  2. LANGFUSE_HOST, LANGFUSE_PUBLIC_KEY, LANGFUSE_SECRET_KEY
//  3. YAML config file (~/.config/cadence/config.yaml)
//  4. Hardcoded defaults
//
// A missing file is not an error. Files larger than 1MB are rejected.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		dir, err := ConfigDir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}

	content, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(langfusePrefix, ".", langfuseKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load %s environment variables: %w", langfusePrefix, err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", cadenceKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load %s environment variables: %w", EnvPrefix, err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, unmarshalConf(cfg)); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// unmarshalConf decodes into cfg with the Duration rules applied to every
// source: strings go through UnmarshalText, YAML numbers are milliseconds.
func unmarshalConf(cfg *Config) koanf.UnmarshalConf {
	return koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				millisecondsHook,
				mapstructure.TextUnmarshallerHookFunc(),
				mapstructure.StringToTimeDurationHookFunc(),
			),
			Result:           cfg,
			WeaklyTypedInput: true,
		},
	}
}

var durationType = reflect.TypeOf(Duration(0))

// millisecondsHook converts a numeric source into a Duration of that many
// milliseconds.
func millisecondsHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}

	var ms float64
	v := reflect.ValueOf(data)
	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		ms = float64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		ms = float64(v.Uint())
	case reflect.Float32, reflect.Float64:
		ms = v.Float()
	default:
		return data, nil
	}
	if ms < 0 {
		return nil, fmt.Errorf("duration cannot be negative: %v", data)
	}
	return Duration(time.Duration(ms * float64(time.Millisecond))), nil
}

// readConfigFile returns the file content, or nil when the file is absent.
func readConfigFile(path string) ([]byte, error) {
	// Open file once and validate using file descriptor to avoid TOCTOU race
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// cadenceKey maps CADENCE_SECTION_FIELD_NAME to section.field_name.
//
// Split on the first underscore only:
//
//	CADENCE_REMOTE_PUBLIC_KEY -> remote.public_key
//	CADENCE_CYCLE_LOCK_TIMEOUT -> cycle.lock_timeout
func cadenceKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// langfuseKey maps the Langfuse credential variables onto remote.*.
// Other LANGFUSE_* variables are ignored.
func langfuseKey(s string) string {
	switch strings.TrimPrefix(s, langfusePrefix) {
	case "HOST", "BASE_URL":
		return "remote.host"
	case "PUBLIC_KEY":
		return "remote.public_key"
	case "SECRET_KEY":
		return "remote.secret_key"
	}
	return ""
}
