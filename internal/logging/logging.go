// Package logging provides a configured slog logger with:
// - TTY detection for human-readable vs JSON output
// - LOG_FORMAT env var override (text/json)
// - LOG_LEVEL env var (debug/info/warn/error)
// - Source file:line info
// - Context-based job-id extraction for log attribution
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// ContextKey is a type for context keys used in logging.
type ContextKey string

const (
	// JobIDKey is the context key for job ID.
	JobIDKey ContextKey = "log_job_id"
	// UserIDKey is the context key for user ID (readable via GetUserID - NOT logged due to PII).
	UserIDKey ContextKey = "log_user_id"
)

// WithJobID adds a job ID to the context for logging.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// WithUserID adds a user ID to the context, readable via GetUserID. It is
// never attached as a log attribute.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetJobID extracts the job ID from context.
func GetJobID(ctx context.Context) string {
	if v := ctx.Value(JobIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetUserID extracts the user ID from context.
func GetUserID(ctx context.Context) string {
	if v := ctx.Value(UserIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// FromContext returns a logger with job_id from context added as an attribute.
// user_id is intentionally never attached (PII).
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if ctx == nil {
		return logger
	}
	if jobID := GetJobID(ctx); jobID != "" {
		return logger.With("job_id", jobID)
	}
	return logger
}

var levelVar slog.LevelVar

// New creates a new configured logger.
// Format is determined by:
//  1. LOG_FORMAT env var (text/json)
//  2. TTY detection (text for TTY, JSON otherwise)
//
// Level is determined by LOG_LEVEL env var (debug/info/warn/error, default: info),
// and can be changed at runtime via SetLevel.
func New() *slog.Logger {
	levelVar.Set(parseLogLevel(os.Getenv("LOG_LEVEL")))

	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     &levelVar,
	}

	logFormat := os.Getenv("LOG_FORMAT")
	var handler slog.Handler
	if logFormat == "text" || (logFormat == "" && isatty(os.Stdout)) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault creates a new logger and sets it as the default slog logger.
// Returns the created logger for additional use.
func SetDefault() *slog.Logger {
	logger := New()
	slog.SetDefault(logger)
	return logger
}

var levelMu sync.Mutex

// SetLevel changes the global log level at runtime.
func SetLevel(level slog.Level) {
	levelMu.Lock()
	defer levelMu.Unlock()
	levelVar.Set(level)
}

// GetLevel returns the current global log level.
func GetLevel() slog.Level {
	levelMu.Lock()
	defer levelMu.Unlock()
	return levelVar.Level()
}

// isatty returns true if the file is a terminal.
func isatty(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
