// Package requestctx carries per-request checkout metadata (logger, trace, session) through
// context so handlers and services never depend on the HTTP layer.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type key int

const (
	loggerKey key = iota
	traceKey
	sessionKey
)

var noopLogger = zap.NewNop()

// TraceInfo is the Cloud Trace context extracted from the inbound request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

func with(ctx context.Context, k key, value any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, k, value)
}

func value[T any](ctx context.Context, k key) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(k).(T)
	return v, ok
}

// WithLogger stores a request-scoped logger. A nil logger is replaced by a no-op one.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return with(ctx, loggerKey, logger)
}

// Logger returns the request logger, never nil.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := value[*zap.Logger](ctx, loggerKey); ok && logger != nil {
		return logger
	}
	return noopLogger
}

func NoopLogger() *zap.Logger { return noopLogger }

// HasLogger reports whether a real logger was attached.
func HasLogger(ctx context.Context) bool {
	logger, ok := value[*zap.Logger](ctx, loggerKey)
	return ok && logger != nil && logger != noopLogger
}

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return with(ctx, traceKey, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	return value[TraceInfo](ctx, traceKey)
}

func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithSessionID records the anonymous checkout session the request belongs to.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return with(ctx, sessionKey, sessionID)
}

// SessionID returns the checkout session id or "".
func SessionID(ctx context.Context) string {
	id, _ := value[string](ctx, sessionKey)
	return id
}
