package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/marketcart/checkout-api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "abc123"})
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("stale_stock", "item sold out\n", http.StatusConflict).
		WithDetails(map[string]any{"category": "stale_stock"}))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "stale_stock" || body["message"] != "item sold out" {
		t.Fatalf("unexpected body %+v", body)
	}
	if body["trace_id"] != "abc123" {
		t.Fatalf("expected trace id from context, got %v", body["trace_id"])
	}
	details, ok := body["details"].(map[string]any)
	if !ok || details["category"] != "stale_stock" {
		t.Fatalf("expected details, got %v", body["details"])
	}
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	err := NewError("boom", "", 0)
	if err.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500 default, got %d", err.Status)
	}
	if err.Error() != "boom" {
		t.Fatalf("unexpected error string %q", err.Error())
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Currency string `json:"currency"`
	}

	var ok payload
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"currency":"JPY"}`))
	if err := DecodeJSON(req, 0, &ok); err != nil || ok.Currency != "JPY" {
		t.Fatalf("expected decode, got %v %+v", err, ok)
	}

	cases := map[string]struct {
		body   string
		limit  int64
		status int
	}{
		"empty":   {body: "  ", status: http.StatusBadRequest},
		"large":   {body: `{"currency":"JPY"}`, limit: 4, status: http.StatusRequestEntityTooLarge},
		"unknown": {body: `{"currency":"JPY","x":1}`, status: http.StatusBadRequest},
		"trailer": {body: `{"currency":"JPY"}{}`, status: http.StatusBadRequest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var out payload
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			err := DecodeJSON(req, tc.limit, &out)
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := BodyError(err).Status; got != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, got)
			}
		})
	}

	nilBody := httptest.NewRequest(http.MethodPost, "/", nil)
	nilBody.Body = nil
	if _, err := ReadBody(nilBody, 0); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("expected empty body sentinel, got %v", err)
	}
}
