// Package logger provides structured logging with automatic secret redaction.
//
// This package wraps Go's standard log/slog with convenience functions for
// protocol servers and clients: level-based verbosity control, contextual
// logging that picks up task/session/swarm identifiers from context, and
// automatic bearer-token redaction before values reach a log line.
//
// All exported functions use the global DefaultLogger which can be configured
// for different output formats and log levels.
package logger

import (
	"context"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

var (
	// DefaultLogger is the global structured logger instance.
	// It is safe for concurrent use and initialized with slog.LevelInfo by default.
	DefaultLogger *slog.Logger
)

func init() {
	// Check LOG_LEVEL environment variable
	level := slog.LevelInfo
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		switch strings.ToLower(envLevel) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn", "warning":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	DefaultLogger = newDefault(level)
}

// newDefault builds the standard logger: a text handler on stderr wrapped in a
// ContextHandler so task/session/swarm fields stored in context are attached
// to every record.
func newDefault(level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(NewContextHandler(handler))
}

// SetLevel changes the logging level for all subsequent log operations.
// This is safe for concurrent use as it replaces the entire logger instance.
func SetLevel(level slog.Level) {
	DefaultLogger = newDefault(level)
}

// SetVerbose enables debug-level logging when verbose is true, otherwise sets info-level.
// This is a convenience wrapper around SetLevel for command-line verbose flags.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

// Info logs an informational message with structured key-value attributes.
// Args should be provided in key-value pairs: key1, value1, key2, value2, ...
func Info(msg string, args ...any) {
	DefaultLogger.Info(msg, args...)
}

// InfoContext logs an informational message with context and structured attributes.
// The context can be used for request tracing and cancellation.
func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// Debug logs a debug-level message with structured attributes.
// Debug messages are only output when the log level is set to LevelDebug or lower.
func Debug(msg string, args ...any) {
	DefaultLogger.Debug(msg, args...)
}

// DebugContext logs a debug message with context and structured attributes.
func DebugContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.DebugContext(ctx, msg, args...)
}

// Warn logs a warning message with structured attributes.
// Use for recoverable errors or unexpected but non-critical situations.
func Warn(msg string, args ...any) {
	DefaultLogger.Warn(msg, args...)
}

// WarnContext logs a warning message with context and structured attributes.
func WarnContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.WarnContext(ctx, msg, args...)
}

// Error logs an error message with structured attributes.
// Use for errors that affect operation but don't cause complete failure.
func Error(msg string, args ...any) {
	DefaultLogger.Error(msg, args...)
}

// ErrorContext logs an error message with context and structured attributes.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}

var (
	// secretPatterns contains compiled regular expressions for detecting sensitive data.
	// Patterns match bearer tokens, API-key headers, and common key formats.
	secretPatterns = []*regexp.Regexp{
		regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._~+/=-]+`),
		regexp.MustCompile(`(?i)x-api-key:\s*\S+`),
		regexp.MustCompile(`sk-[a-zA-Z0-9]{32,}`),
	}
)

// RedactSensitiveData removes tokens and other sensitive information from strings.
// It replaces matched patterns with a redacted form that preserves the first few
// characters for debugging while hiding the sensitive portion.
//
// Supported patterns:
//   - Bearer tokens: shows only "Bearer [REDACTED]"
//   - X-API-Key headers and sk- style keys: shows first 4 chars
//
// This function is safe for concurrent use as it only reads from the compiled patterns.
func RedactSensitiveData(input string) string {
	result := input

	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if strings.HasPrefix(match, "Bearer ") {
				return "Bearer [REDACTED]"
			}
			if len(match) > 8 {
				// Show first 4 characters for debugging context
				return match[:4] + "...[REDACTED]"
			}
			return "[REDACTED]"
		})
	}

	return result
}
