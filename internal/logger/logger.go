package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var (
	mu   sync.RWMutex
	base = zap.NewNop()
)

// Init builds the process-wide logger. Every Log created by New after this call
// writes through it.
func Init(level LogLevel, development bool) error {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level.zapLevel())

	z, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	mu.Lock()
	base = z
	mu.Unlock()
	return nil
}

// Sync flushes the process-wide logger.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return base.Sync()
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LogLevelDebug:
		return zap.DebugLevel
	case LogLevelWarn:
		return zap.WarnLevel
	case LogLevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

type Log struct {
	z *zap.Logger
}

func New() *Log {
	mu.RLock()
	defer mu.RUnlock()
	return &Log{z: base}
}

// From wraps an existing zap logger, mostly for tests.
func From(z *zap.Logger) *Log {
	return &Log{z: z}
}

func NewNop() *Log {
	return &Log{z: zap.NewNop()}
}

func (l *Log) Named(name string) *Log {
	return &Log{z: l.z.Named(name)}
}

func (l *Log) With(fields ...zap.Field) *Log {
	return &Log{z: l.z.With(fields...)}
}

func (l *Log) WithError(err error) *Log {
	return &Log{z: l.z.With(zap.Error(err))}
}

func (l *Log) Debug(msg string, fields ...zap.Field) {
	l.z.Debug(msg, fields...)
}

func (l *Log) Info(msg string, fields ...zap.Field) {
	l.z.Info(msg, fields...)
}

func (l *Log) Warn(msg string, fields ...zap.Field) {
	l.z.Warn(msg, fields...)
}

func (l *Log) Error(msg string, fields ...zap.Field) {
	l.z.Error(msg, fields...)
}

// Zap exposes the underlying logger for libraries that want one.
func (l *Log) Zap() *zap.Logger {
	return l.z
}
