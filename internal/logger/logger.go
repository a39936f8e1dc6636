// Package logger provides structured logging using Go 1.21's log/slog.
// It sets up a JSON handler with service-level context and provides
// trigger ID propagation through context.Context, so an impulse and the
// decision computed for it later can be correlated in the logs.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

type ctxKey string

const triggerIDKey ctxKey = "trigger_id"

// Init creates and returns a structured logger for the given service.
// The logger outputs JSON to stdout with the service name embedded.
func Init(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)

	// Set as default so log/slog.Info() etc. also use structured output
	slog.SetDefault(logger)

	return logger
}

// ParseLevel maps "debug", "info", "warn" and "error" to a slog.Level.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// WithTriggerID stores a trigger ID in the context for downstream propagation.
func WithTriggerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, triggerIDKey, id)
}

// TriggerID extracts the trigger ID from context. Returns "" if not set.
func TriggerID(ctx context.Context) string {
	if v, ok := ctx.Value(triggerIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTriggerID creates a trigger ID from a symbol and the trigger time.
// Format: "{symbol}-{unixNano}", no UUID dependency.
func GenerateTriggerID(symbol string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", symbol, ts.UnixNano())
}

// LogWithTrigger returns slog attributes including the trigger ID from context.
// Usage: slog.Info("msg", logger.LogWithTrigger(ctx)...)
func LogWithTrigger(ctx context.Context) []any {
	id := TriggerID(ctx)
	if id == "" {
		return nil
	}
	return []any{slog.String("trigger_id", id)}
}
