// Package logging builds the process logger and carries per-update request
// ids through context.
package logging

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// New builds the process logger. jsonFormat selects production encoding.
func New(level string, jsonFormat bool) (*zap.Logger, error) {
	var config zap.Config
	if jsonFormat {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}

	switch level {
	case "debug":
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return config.Build()
}

type contextKey string

const requestIDKey contextKey = "requestId"

// NewRequestID creates a short id correlating the log lines of one webhook
// event's detached processing.
func NewRequestID() string {
	return uuid.NewString()[:8]
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID retrieves the request ID from the context, empty if absent.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
