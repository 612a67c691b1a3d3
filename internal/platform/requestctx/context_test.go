package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerDefaultsToNoop(t *testing.T) {
	if Logger(context.Background()) != NoopLogger() {
		t.Fatalf("expected noop logger for bare context")
	}
	if HasLogger(context.Background()) {
		t.Fatalf("expected no logger on bare context")
	}

	logger := zap.NewExample()
	ctx := WithLogger(context.Background(), logger)
	if Logger(ctx) != logger || !HasLogger(ctx) {
		t.Fatalf("expected stored logger to be returned")
	}
}

func TestTraceAndSession(t *testing.T) {
	ctx := WithTrace(context.Background(), TraceInfo{TraceID: "abc", SpanID: "def"})
	ctx = WithSessionID(ctx, "sess-1")

	if TraceID(ctx) != "abc" {
		t.Fatalf("unexpected trace id %q", TraceID(ctx))
	}
	if SessionID(ctx) != "sess-1" {
		t.Fatalf("unexpected session id %q", SessionID(ctx))
	}
	if TraceID(context.Background()) != "" || SessionID(context.Background()) != "" {
		t.Fatalf("expected empty values on bare context")
	}
}
