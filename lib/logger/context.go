// Package logger carries a request- or session-scoped slog.Logger through a
// context.Context instead of relying on a package-level logger.
package logger

import (
	"context"
	"log/slog"
)

type contextKey string

const loggerKey contextKey = "cdpsession-slogger"

// AddToContext returns a copy of ctx carrying logger.
func AddToContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger stored in ctx, or slog.Default() if none
// was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
