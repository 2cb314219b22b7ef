package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log = zap.NewNop()
)

// Init replaces the process-wide logger. Debug mode switches to the
// human-readable development encoder with debug level enabled.
func Init(debug bool) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	built, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return
	}

	mu.Lock()
	old := log
	log = built
	mu.Unlock()
	_ = old.Sync()
}

// SetLogger installs an existing zap logger (tests use zaptest/observer cores).
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	log = l.WithOptions(zap.AddCallerSkip(1))
	mu.Unlock()
}

func get() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// With returns a child logger carrying the given fields. The returned logger
// is not affected by later Init calls.
func With(fields ...zap.Field) *zap.Logger {
	return get().WithOptions(zap.AddCallerSkip(-1)).With(fields...)
}

func Debug(msg string, fields ...zap.Field) { get().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { get().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { get().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { get().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { get().Fatal(msg, fields...) }

func Sync() {
	_ = get().Sync()
}
