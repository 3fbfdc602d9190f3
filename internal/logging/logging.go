// Package logging adapts zap to the es.Logger interface used across the
// migrator packages.
package logging

import (
	"context"
	"fmt"

	"github.com/getpup/pupsourcing/es"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ es.Logger = (*Logger)(nil)

// Logger forwards key/value pairs to a zap.SugaredLogger.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New wraps z.
func New(z *zap.Logger) *Logger {
	return &Logger{sugar: z.Sugar()}
}

// Debug implements es.Logger.
func (l *Logger) Debug(ctx context.Context, msg string, keyvals ...interface{}) {
	l.sugar.Debugw(msg, keyvals...)
}

// Info implements es.Logger.
func (l *Logger) Info(ctx context.Context, msg string, keyvals ...interface{}) {
	l.sugar.Infow(msg, keyvals...)
}

// Error implements es.Logger.
func (l *Logger) Error(ctx context.Context, msg string, keyvals ...interface{}) {
	l.sugar.Errorw(msg, keyvals...)
}

// Build creates a zap logger writing to stderr. level is a zap level name;
// format is "json" or "console".
func Build(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	switch format {
	case "", "json":
	case "console":
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q: expected json or console", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Sampling = nil

	return cfg.Build()
}
