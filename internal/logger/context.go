package logger

import (
	"context"

	"go.uber.org/zap"
)

type (
	ctxKey           struct{}
	correlationIDKey struct{}
)

// ContextWithLogger stores a logger in the context.
func ContextWithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext extracts a logger from the context.
// Returns zap.NewNop() if no logger is found.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}

// WithRequest derives a request-scoped logger tagged with the request id and stores both.
func WithRequest(ctx context.Context, base *zap.Logger, requestID string) context.Context {
	ctx = context.WithValue(ctx, correlationIDKey{}, requestID)
	return ContextWithLogger(ctx, base.With(zap.String("request_id", requestID)))
}

// RequestID returns the id stored by WithRequest, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}
