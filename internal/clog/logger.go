// Package clog provides the leveled logging facade used throughout the
// causal recovery subsystem. Every component accepts a Logger through its
// constructor rather than reaching for a package-level logger, following the
// cfg.logger.Log(level, msg, keyvals...) convention used pervasively in
// pkg/kgo.
package clog

// Level is a logging severity, ordered the same as the teacher's
// LogLevelDebug/Info/Warn/Error constants.
type Level int8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Logger is the minimal leveled-logging interface every component depends
// on. keyvals is an alternating key/value list, e.g.
// Log(LevelWarn, "cursor reset", "epoch", 4, "consumer", id).
type Logger interface {
	Log(level Level, msg string, keyvals ...any)
}

// Nop is a Logger that discards everything. Used as the zero-value default
// so components never need a nil check.
var Nop Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Log(Level, string, ...any) {}

// Func adapts a plain function into a Logger.
type Func func(level Level, msg string, keyvals ...any)

func (f Func) Log(level Level, msg string, keyvals ...any) { f(level, msg, keyvals...) }
