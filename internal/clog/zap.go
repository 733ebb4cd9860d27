package clog

import "go.uber.org/zap"

// FromZap adapts a *zap.SugaredLogger into a Logger, so a host runtime can
// plug structured logging in without this package importing zap in any
// exported constructor signature.
func FromZap(z *zap.SugaredLogger) Logger {
	return zapLogger{z}
}

type zapLogger struct{ z *zap.SugaredLogger }

func (l zapLogger) Log(level Level, msg string, keyvals ...any) {
	switch level {
	case LevelDebug:
		l.z.Debugw(msg, keyvals...)
	case LevelInfo:
		l.z.Infow(msg, keyvals...)
	case LevelWarn:
		l.z.Warnw(msg, keyvals...)
	case LevelError:
		l.z.Errorw(msg, keyvals...)
	default:
		l.z.Infow(msg, keyvals...)
	}
}
