package logger

import (
	"fmt"
	"strings"
	"sync"
)

// TestLogEntry is a single captured log record
type TestLogEntry struct {
	Severity  string
	Message   string
	Arguments []interface{}
}

type testLogState struct {
	mu      sync.Mutex
	entries []TestLogEntry
}

// TestLogger captures log entries in memory for assertions in tests.
// Safe for concurrent use; loggers derived via With/WithPrefix share the
// same capture buffer so output survives logger derivation.
type TestLogger struct {
	state    *testLogState
	metadata map[string]interface{}
}

var _ Logger = (*TestLogger)(nil)

// NewTestLogger returns a Logger that records every entry it is given
func NewTestLogger() *TestLogger {
	return &TestLogger{state: &testLogState{}}
}

// Logs returns a copy of all captured entries
func (c *TestLogger) Logs() []TestLogEntry {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	out := make([]TestLogEntry, len(c.state.entries))
	copy(out, c.state.entries)
	return out
}

// Contains reports whether any captured message contains substr after formatting
func (c *TestLogger) Contains(substr string) bool {
	for _, entry := range c.Logs() {
		if strings.Contains(fmt.Sprintf(entry.Message, entry.Arguments...), substr) {
			return true
		}
	}
	return false
}

func (c *TestLogger) record(severity string, msg string, args ...interface{}) {
	c.state.mu.Lock()
	c.state.entries = append(c.state.entries, TestLogEntry{severity, msg, args})
	c.state.mu.Unlock()
}

func (c *TestLogger) With(metadata map[string]interface{}) Logger {
	kv := make(map[string]interface{})
	for k, v := range c.metadata {
		kv[k] = v
	}
	for k, v := range metadata {
		kv[k] = v
	}
	return &TestLogger{state: c.state, metadata: kv}
}

func (c *TestLogger) WithPrefix(prefix string) Logger {
	return c
}

func (c *TestLogger) IsLevelEnabled(level LogLevel) bool {
	return true
}

func (c *TestLogger) Trace(msg string, args ...interface{}) {
	c.record("TRACE", msg, args...)
}

func (c *TestLogger) Debug(msg string, args ...interface{}) {
	c.record("DEBUG", msg, args...)
}

func (c *TestLogger) Info(msg string, args ...interface{}) {
	c.record("INFO", msg, args...)
}

func (c *TestLogger) Warn(msg string, args ...interface{}) {
	c.record("WARN", msg, args...)
}

func (c *TestLogger) Error(msg string, args ...interface{}) {
	c.record("ERROR", msg, args...)
}

func (c *TestLogger) Fatal(msg string, args ...interface{}) {
	c.record("FATAL", msg, args...)
}
