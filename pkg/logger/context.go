package logger

import (
	"context"
	"log/slog"
)

type contextKey struct{}

// WithContext stores a request-scoped logger on ctx.
func WithContext(ctx context.Context, log *slog.Logger) context.Context {
	if log == nil {
		return ctx
	}

	return context.WithValue(ctx, contextKey{}, log)
}

// FromContext returns the request-scoped logger, falling back to slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if log, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && log != nil {
			return log
		}
	}

	return slog.Default()
}
