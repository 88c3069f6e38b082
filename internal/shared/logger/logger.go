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

// Init builds the process logger. debug=true switches to the human readable
// development encoder with debug level enabled.
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

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// 設定が壊れていても起動は続ける
		l = zap.NewExample()
	}

	mu.Lock()
	old := log
	log = l
	mu.Unlock()
	_ = old.Sync()
}

// Set replaces the process logger. Used by tests to capture output.
func Set(l *zap.Logger) {
	mu.Lock()
	log = l
	mu.Unlock()
}

func get() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// L returns the underlying zap logger.
func L() *zap.Logger {
	return get()
}

// With returns a child logger carrying the given fields.
func With(fields ...zap.Field) *zap.Logger {
	return get().With(fields...)
}

func Debug(msg string, fields ...zap.Field) {
	get().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	get().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	get().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	get().Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	get().Fatal(msg, fields...)
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = get().Sync()
}
