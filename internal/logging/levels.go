// internal/logging/levels.go
package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// LevelFromString parses logging.level. "quiet" keeps everything but
// failures off the terminal; "warning" is accepted for "warn".
func LevelFromString(level string) (zapcore.Level, error) {
	switch name := strings.ToLower(strings.TrimSpace(level)); name {
	case "quiet":
		return zapcore.ErrorLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	default:
		return zapcore.ParseLevel(name)
	}
}
