package audit

import (
	"context"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Close closes the logger and flushes any buffered events
	Close() error
}

// contextKey is the type for context keys
type contextKey string

// AuditLoggerKey is the context key for the audit logger
const AuditLoggerKey contextKey = "audit_logger"

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, AuditLoggerKey, logger)
}

// FromContext retrieves the audit logger from context, returning a
// no-op logger when none is set
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(AuditLoggerKey).(Logger); ok {
		return logger
	}
	return NopLogger()
}

// nopLogger discards every event.
type nopLogger struct{}

func (nopLogger) Log(ctx context.Context, event *Event) error { return nil }
func (nopLogger) Close() error                                { return nil }

// NopLogger returns a logger that discards everything. Useful as a
// default and in tests.
func NopLogger() Logger {
	return nopLogger{}
}
