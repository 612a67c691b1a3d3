package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/marketcart/checkout-api/internal/platform/requestctx"
)

const (
	maxCodeLen    = 80
	maxMessageLen = 512
	maxIDLen      = 80
	maxTraceLen   = 64

	contentTypeJSON = "application/json; charset=utf-8"
)

// Error is the JSON error envelope every endpoint returns.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// envelope is the wire shape of Error.
type envelope struct {
	Code      string         `json:"error"`
	Message   string         `json:"message"`
	Status    int            `json:"status"`
	RequestID string         `json:"request_id,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

func NewError(code, message string, status int) Error {
	return Error{
		Code:    clip(code, maxCodeLen),
		Message: clip(message, maxMessageLen),
		Status:  statusOr(status, http.StatusInternalServerError),
	}
}

func (e Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func (e Error) WithRequestID(id string) Error {
	e.RequestID = clip(id, maxIDLen)
	return e
}

func (e Error) WithTraceID(id string) Error {
	e.TraceID = clip(id, maxTraceLen)
	return e
}

// WithDetails merges fields into the "details" object. Later keys win.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for _, src := range []map[string]any{e.Details, details} {
		for k, v := range src {
			merged[k] = v
		}
	}
	e.Details = merged
	return e
}

// WriteError renders err, filling request and trace ids from ctx when unset.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	body := envelope{
		Code:      err.Code,
		Message:   err.Message,
		Status:    statusOr(err.Status, http.StatusInternalServerError),
		RequestID: err.RequestID,
		TraceID:   err.TraceID,
		Details:   err.Details,
	}
	if body.RequestID == "" {
		body.RequestID = clip(middleware.GetReqID(ctx), maxIDLen)
	}
	if body.TraceID == "" {
		body.TraceID = clip(requestctx.TraceID(ctx), maxTraceLen)
	}
	WriteJSON(w, body.Status, body)
}

// WriteJSON encodes payload with the given status. A nil payload writes headers only.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusOr(status, http.StatusOK))
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func statusOr(status, fallback int) int {
	if status <= 0 {
		return fallback
	}
	return status
}

// clip flattens line breaks and truncates to limit bytes.
func clip(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
