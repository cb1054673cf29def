// internal/logging/redact.go
package logging

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/cadence/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// Secret creates a Zap field for config.Secret with a length indicator.
func Secret(key string, val config.Secret) zap.Field {
	return zap.String(key, fmt.Sprintf("[REDACTED:%d]", len(val.Value())))
}

// RedactedString creates a Zap field with redacted value and length.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// RedactingEncoder wraps a zapcore.Encoder to redact sensitive fields.
type RedactingEncoder struct {
	zapcore.Encoder
	redactFields map[string]bool
}

// NewRedactingEncoder wraps an encoder so that values of the named keys are
// replaced with "[REDACTED]". Key matching is case-insensitive.
func NewRedactingEncoder(base zapcore.Encoder, keys []string) *RedactingEncoder {
	fields := make(map[string]bool, len(keys))
	for _, k := range keys {
		fields[strings.ToLower(k)] = true
	}
	return &RedactingEncoder{Encoder: base, redactFields: fields}
}

// shouldRedactKey returns true if the key should be redacted.
func (e *RedactingEncoder) shouldRedactKey(key string) bool {
	return e.redactFields[strings.ToLower(key)]
}

// EncodeEntry redacts per-entry fields before delegating.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	redacted := fields
	copied := false
	for i, f := range fields {
		if !e.shouldRedactKey(f.Key) {
			continue
		}
		// Never mutate the caller's slice.
		if !copied {
			redacted = append([]zapcore.Field(nil), fields...)
			copied = true
		}
		redacted[i] = zap.String(f.Key, "[REDACTED]")
	}
	return e.Encoder.EncodeEntry(ent, redacted)
}

// AddString redacts sensitive field names added through With.
func (e *RedactingEncoder) AddString(key, val string) {
	if e.shouldRedactKey(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return
	}
	e.Encoder.AddString(key, val)
}

// AddReflected redacts sensitive field names.
func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.shouldRedactKey(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

// AddObject redacts sensitive field names.
func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.shouldRedactKey(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

// Clone creates a copy of the encoder.
func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{
		Encoder:      e.Encoder.Clone(),
		redactFields: e.redactFields,
	}
}
