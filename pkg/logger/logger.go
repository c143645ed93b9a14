// Package logger provides the structured logger shared by every component of
// the contactbook service. It is a thin layer over logrus that knows how to
// pull request-scoped values (trace ID, user ID) out of a context.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	// TraceIDKey is the context key holding the request trace ID.
	TraceIDKey contextKey = "trace_id"
	// UserIDKey is the context key holding the authenticated user ID.
	UserIDKey contextKey = "user_id"
)

// LoggingConfig configures a Logger.
type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
	Output string // "stdout", "stderr" or a file path
}

// Logger wraps a logrus entry bound to a component name.
type Logger struct {
	*logrus.Entry
}

// New builds a logger from configuration. Unknown levels fall back to info.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "text":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	default:
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}

	base.SetOutput(openOutput(cfg.Output))
	return &Logger{Entry: logrus.NewEntry(base)}
}

// NewDefault returns an info-level JSON logger tagged with the component name.
func NewDefault(component string) *Logger {
	return New(LoggingConfig{Level: "info", Format: "json"}).Named(component)
}

// Discard returns a logger that writes nothing. Handy in tests.
func Discard() *Logger {
	l := New(LoggingConfig{Level: "panic"})
	l.Logger.SetOutput(io.Discard)
	return l
}

// Named returns a child logger tagged with the component name.
func (l *Logger) Named(component string) *Logger {
	return &Logger{Entry: l.Entry.WithField("component", component)}
}

// WithContext attaches trace and user identifiers carried by ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Entry.WithContext(ctx)
	if ctx == nil {
		return entry
	}
	if traceID := GetTraceID(ctx); traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	if userID := GetUserID(ctx); userID != "" {
		entry = entry.WithField("user_id", userID)
	}
	return entry
}

// LogRequest records a completed HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})
	switch {
	case status >= 500:
		entry.Error("request completed")
	case status >= 400:
		entry.Warn("request completed")
	default:
		entry.Info("request completed")
	}
}

// LogSecurityEvent records an authentication or abuse related event.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).WithField("security_event", event).Warn("security event")
}

// NewTraceID returns a fresh random trace identifier.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID stores a trace ID in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID returns the trace ID stored in ctx, if any.
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

// WithUserID stores the authenticated user ID in the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID returns the user ID stored in ctx, if any.
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

func openOutput(output string) io.Writer {
	switch strings.TrimSpace(output) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return os.Stdout
		}
		return f
	}
}
