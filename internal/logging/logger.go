package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

// RequestIDKey is the context key the HTTP middleware stores request ids under.
const RequestIDKey ctxKey = "request_id"

type Logger struct {
	*zap.Logger
	closers []func() error
}

func NewLogger(level string) (*Logger, error) {
	config := zap.NewProductionConfig()

	// Parse log level
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{Logger: logger}, nil
}

// Nop returns a logger that discards everything, used by tests.
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// WithAudit tees every error-level entry into an append-only audit file at
// path, one "[time] [user] message" line per entry.
func (l *Logger) WithAudit(path, username string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	audit := newAuditCore(zapcore.AddSync(f), username, zapcore.ErrorLevel)
	tee := l.Logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, audit)
	}))

	return &Logger{
		Logger:  tee,
		closers: append(append([]func() error{}, l.closers...), f.Close),
	}, nil
}

// Close flushes the logger and releases any audit file.
func (l *Logger) Close() error {
	_ = l.Sync()
	var first error
	for _, c := range l.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (l *Logger) WithRequestID(ctx context.Context) *zap.Logger {
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		return l.With(zap.String("request_id", reqID))
	}
	return l.Logger
}
