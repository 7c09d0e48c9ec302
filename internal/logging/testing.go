package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger that keeps every entry in memory, at every level,
// for assertions in other packages' tests.
type TestLogger struct {
	*Logger
	logs *observer.ObservedLogs
}

// NewTestLogger creates a TestLogger with sampling disabled.
func NewTestLogger() *TestLogger {
	core, logs := observer.New(TraceLevel)
	return &TestLogger{
		Logger: &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		logs:   logs,
	}
}

// All returns every recorded entry.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.logs.All()
}

// Entries returns the entries whose message is exactly msg.
func (t *TestLogger) Entries(msg string) []observer.LoggedEntry {
	return t.logs.FilterMessage(msg).All()
}

// Field returns the value of key on the first entry logged with msg, and
// whether such an entry and field exist.
func (t *TestLogger) Field(msg, key string) (any, bool) {
	entries := t.Entries(msg)
	if len(entries) == 0 {
		return nil, false
	}
	v, ok := entries[0].ContextMap()[key]
	return v, ok
}

// AssertLogged fails tb unless an entry at level has a message containing
// substr.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, substr string) {
	tb.Helper()
	if t.logs.FilterLevelExact(level).FilterMessageSnippet(substr).Len() > 0 {
		return
	}
	tb.Errorf("no %s entry containing %q in %d entries", level, substr, t.logs.Len())
}
