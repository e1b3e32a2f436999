package stream

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is satisfied by *zap.SugaredLogger, and by most leveled loggers.
type Logger interface {
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

var _ Logger = (*zap.SugaredLogger)(nil)

// DefaultLogger returns a shared logger that writes errors to stderr and
// drops anything below. Use WithLogger to see connection and frame diagnostics.
var DefaultLogger = sync.OnceValue(func() Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	cfg.Sampling = nil
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
})
