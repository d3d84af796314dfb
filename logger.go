package idtrack

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/idtrack/model"
)

// Logger wraps slog.Logger with idtrack-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithID adds an identity id field to the logger.
func (l *Logger) WithID(id model.IdentityID) *Logger {
	return &Logger{
		Logger: l.Logger.With("identity", uint64(id)),
	}
}

// WithRequest adds a request id field to the logger.
func (l *Logger) WithRequest(requestID string) *Logger {
	return &Logger{
		Logger: l.Logger.With("request", requestID),
	}
}

// LogClassify logs a classification.
func (l *Logger) LogClassify(ctx context.Context, requestID string, result model.Classification, err error) {
	if err != nil {
		l.ErrorContext(ctx, "classify failed",
			"request", requestID,
			"error", err,
		)
		return
	}

	l.DebugContext(ctx, "classify completed",
		"request", requestID,
		"outcome", result.Outcome.String(),
		"identity", uint64(result.Identity),
		"appearances", result.Appearances,
		"reason", result.Reason.String(),
	)
}

// LogClearAll logs a store wipe.
func (l *Logger) LogClearAll(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "clear all failed", "error", err)
	} else {
		l.InfoContext(ctx, "clear all completed")
	}
}
