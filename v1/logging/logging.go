// Package logging defines the small leveled logger used across tiercache.
// Adapters for zap and logrus live in the zaplog and logruslog subpackages;
// log/slog is supported directly.
package logging

import (
	"context"
	"log/slog"
)

// Fields is a minimal structured field map for logs.
type Fields map[string]any

// Logger is a leveled logger. Wrap your logging stack with an adapter.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Debug(string, Fields) {}
func (Nop) Info(string, Fields)  {}
func (Nop) Warn(string, Fields)  {}
func (Nop) Error(string, Fields) {}

var _ Logger = Slog{}

// Slog adapts a *slog.Logger. A nil L uses slog.Default().
type Slog struct{ L *slog.Logger }

func (s Slog) Debug(msg string, f Fields) { s.log(slog.LevelDebug, msg, f) }
func (s Slog) Info(msg string, f Fields)  { s.log(slog.LevelInfo, msg, f) }
func (s Slog) Warn(msg string, f Fields)  { s.log(slog.LevelWarn, msg, f) }
func (s Slog) Error(msg string, f Fields) { s.log(slog.LevelError, msg, f) }

func (s Slog) log(level slog.Level, msg string, f Fields) {
	l := s.L
	if l == nil {
		l = slog.Default()
	}
	l.LogAttrs(context.Background(), level, msg, attrs(f)...)
}

func attrs(f Fields) []slog.Attr {
	if len(f) == 0 {
		return nil
	}
	out := make([]slog.Attr, 0, len(f))
	for k, v := range f {
		out = append(out, slog.Any(k, v))
	}
	return out
}

// Default returns the logger used when none is configured: slog.Default().
func Default() Logger { return Slog{} }

// OrDefault returns l, or Default() when l is nil.
func OrDefault(l Logger) Logger {
	if l == nil {
		return Default()
	}
	return l
}
