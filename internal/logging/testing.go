package logging

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger that keeps every entry in memory for assertions.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger records entries at every level.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(zapcore.DebugLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

// All returns the recorded entries, oldest first.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// matching returns entries at level whose message contains substr.
func (t *TestLogger) matching(level zapcore.Level, substr string) []observer.LoggedEntry {
	var out []observer.LoggedEntry
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			out = append(out, e)
		}
	}
	return out
}

// AssertLogged fails tb unless an entry at level contains substr.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, substr string) {
	tb.Helper()
	if len(t.matching(level, substr)) == 0 {
		tb.Errorf("no %s entry containing %q in %v", level, substr, messages(t.observed.All()))
	}
}

// AssertNotLogged fails tb if an entry at level contains substr.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, substr string) {
	tb.Helper()
	if got := t.matching(level, substr); len(got) > 0 {
		tb.Errorf("unexpected %s entries containing %q: %v", level, substr, messages(got))
	}
}

// AssertField fails tb unless an entry with message msg carries key=want.
// Values are compared after encoding, so want is a string, int64, float64
// or bool as a JSON encoder would see it.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	var seen []any
	for _, e := range t.observed.FilterMessage(msg).All() {
		got, ok := e.ContextMap()[key]
		if !ok {
			continue
		}
		if assert.ObjectsAreEqual(want, got) {
			return
		}
		seen = append(seen, got)
	}
	tb.Errorf("entry %q has no field %s=%v (saw %v)", msg, key, want, seen)
}

// AssertNoSecrets fails tb if any message or string field contains one of
// secrets.
func (t *TestLogger) AssertNoSecrets(tb testing.TB, secrets ...string) {
	tb.Helper()
	for _, e := range t.observed.All() {
		haystack := []string{e.Message}
		for _, v := range e.ContextMap() {
			if s, ok := v.(string); ok {
				haystack = append(haystack, s)
			}
		}
		for _, h := range haystack {
			for _, secret := range secrets {
				if strings.Contains(h, secret) {
					tb.Errorf("secret leaked in entry %q", e.Message)
				}
			}
		}
	}
}

func messages(entries []observer.LoggedEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}
