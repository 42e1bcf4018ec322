// Package optelog provides the structured logger used across the engine.
// It wraps charmbracelet/log rather than reinventing leveled, structured
// logging, matching the call-site pattern (logging.New(Config{...}),
// logging.Default()) the teacher repo uses for its own internal/logging
// package.
package optelog

import (
	"io"
	"os"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

// Level mirrors charmlog's levels so callers never need to import
// charmbracelet/log directly.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) toCharm() charmlog.Level {
	switch l {
	case LevelDebug:
		return charmlog.DebugLevel
	case LevelWarn:
		return charmlog.WarnLevel
	case LevelError:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// Config configures a Logger.
type Config struct {
	Level  Level
	Output io.Writer // defaults to os.Stderr
	Prefix string     // e.g. port name, used as the logger's report prefix
}

// Logger is a structured, leveled logger. The zero value is not usable;
// construct with New or use Default().
type Logger struct {
	inner *charmlog.Logger
}

// New constructs a Logger from Config.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	inner := charmlog.NewWithOptions(out, charmlog.Options{
		Prefix:          cfg.Prefix,
		ReportTimestamp: true,
	})
	inner.SetLevel(cfg.Level.toCharm())
	return &Logger{inner: inner}
}

// Discard returns a Logger that drops all output. Used in the kernel-build
// capability surface, where probe emission (not this logger) carries the
// telemetry payload (spec.md §1: DTrace probe emission is out of scope).
func Discard() *Logger {
	return New(Config{Output: io.Discard})
}

var (
	defaultOnce sync.Once
	defaultMu   sync.RWMutex
	defaultLog  *Logger
)

// Default returns the process-wide default Logger, created lazily at
// LevelInfo on first use.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultMu.Lock()
		if defaultLog == nil {
			defaultLog = New(Config{Level: LevelInfo})
		}
		defaultMu.Unlock()
	})
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLog
}

// SetDefault replaces the process-wide default Logger. Used by tests that
// want to assert against captured output.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLog = l
	defaultMu.Unlock()
}

func (l *Logger) Debug(msg string, kv ...any) { l.inner.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.inner.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.inner.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.inner.Error(msg, kv...) }

// With returns a child Logger with the given key/value pairs attached to
// every subsequent log line.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{inner: l.inner.With(kv...)}
}
