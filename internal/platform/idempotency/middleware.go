package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/marketcart/checkout-api/internal/platform/httpx"
	"github.com/marketcart/checkout-api/internal/platform/requestctx"
)

const (
	DefaultHeader    = "Idempotency-Key"
	ReplayHeader     = "X-Idempotent-Replay"
	anonymousSession = "anonymous"
)

// EventLogger receives store failures that do not change the response.
type EventLogger func(ctx context.Context, event string, fields map[string]any)

type middlewareConfig struct {
	header   string
	ttl      time.Duration
	required bool
	clock    func() time.Time
	logger   EventLogger
}

type MiddlewareOption func(*middlewareConfig)

func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.header = name
		}
	}
}

func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithRequiredKey rejects requests that carry no key instead of passing them through.
func WithRequiredKey() MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.required = true
	}
}

func WithLogger(logger EventLogger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.logger = logger
	}
}

func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware replays the stored response when a request repeats a key already completed within
// the same checkout session. Keys are scoped by session, and a key reused with a different body
// is rejected with 409.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	cfg := middlewareConfig{
		header: DefaultHeader,
		ttl:    DefaultTTL,
		clock:  time.Now,
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = func(context.Context, string, map[string]any) {}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(cfg.header))
			if key == "" {
				if cfg.required {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+cfg.header+" header", http.StatusBadRequest))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			body, err := readAndReplayBody(r)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}

			session := requestctx.SessionID(ctx)
			if session == "" {
				session = anonymousSession
			}
			scoped := key + "|" + session
			fingerprint := requestFingerprint(r, body, session)

			reservation, err := store.Reserve(ctx, scoped, fingerprint, cfg.clock().UTC(), cfg.ttl)
			if err != nil {
				if errors.Is(err, ErrFingerprintMismatch) {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
					return
				}
				cfg.logger(ctx, "idempotency.reserve_failed", map[string]any{"error": err})
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				writeStoredResponse(w, reservation.Record)
				return
			case ReservationStatePending:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
				return
			}

			recorder := newResponseRecorder(w)
			completed := false
			defer func() {
				if !completed {
					// panic in the handler; free the key so the client can retry
					if err := store.Release(context.WithoutCancel(ctx), scoped); err != nil {
						cfg.logger(ctx, "idempotency.release_failed", map[string]any{"error": err})
					}
				}
			}()
			next.ServeHTTP(recorder, r)
			completed = true

			status := recorder.Status()
			if status >= http.StatusInternalServerError {
				// server failures are not remembered, a retry with the same key runs again
				if err := store.Release(context.WithoutCancel(ctx), scoped); err != nil {
					cfg.logger(ctx, "idempotency.release_failed", map[string]any{"error": err})
				}
			} else {
				resp := Response{Status: status, Headers: recorder.header, Body: recorder.Body()}
				if err := store.Complete(context.WithoutCancel(ctx), scoped, fingerprint, resp, cfg.clock().UTC(), cfg.ttl); err != nil {
					cfg.logger(ctx, "idempotency.complete_failed", map[string]any{"error": err})
				}
			}
			if err := recorder.Commit(); err != nil {
				cfg.logger(ctx, "idempotency.flush_failed", map[string]any{"error": err})
			}
		})
	}
}

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, httpx.DefaultMaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requestFingerprint(r *http.Request, body []byte, session string) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(r.Method))
	b.WriteByte('|')
	b.WriteString(r.URL.Path)
	b.WriteByte('|')
	b.WriteString(r.URL.RawQuery)
	b.WriteByte('|')
	b.WriteString(session)
	b.WriteByte('|')
	if len(body) > 0 {
		b.WriteString(sha256Hex(body))
	}
	return sha256Hex([]byte(b.String()))
}

func writeStoredResponse(w http.ResponseWriter, record Record) {
	header := w.Header()
	for name, values := range record.ResponseHeaders {
		for _, value := range values {
			header.Add(name, value)
		}
	}
	header.Set(ReplayHeader, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

// responseRecorder buffers the handler output so it can be stored before the client sees it.
type responseRecorder struct {
	parent http.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder(parent http.ResponseWriter) *responseRecorder {
	return &responseRecorder{parent: parent, header: make(http.Header)}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 && status > 0 {
		r.status = status
	}
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) Body() []byte {
	if r.body.Len() == 0 {
		return nil
	}
	return r.body.Bytes()
}

func (r *responseRecorder) Commit() error {
	dst := r.parent.Header()
	for name, values := range r.header {
		dst[name] = append([]string(nil), values...)
	}
	r.parent.WriteHeader(r.Status())
	if r.body.Len() == 0 {
		return nil
	}
	_, err := r.parent.Write(r.body.Bytes())
	return err
}
