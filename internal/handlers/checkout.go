package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marketcart/checkout-api/internal/platform/httpx"
	"github.com/marketcart/checkout-api/internal/platform/idempotency"
	"github.com/marketcart/checkout-api/internal/services"
)

const maxCheckoutRequestBody = 256 * 1024

// SessionStore keeps the working snapshot of in-progress checkouts.
type SessionStore interface {
	Update(ctx context.Context, sessionID string, snapshot services.CheckoutSnapshot) (uint64, error)
	Latest(sessionID string) (services.SessionSummary, bool)
}

// CheckoutHandlers exposes pricing, preview, order submission and session endpoints.
type CheckoutHandlers struct {
	checkout         services.CheckoutService
	sessions         SessionStore
	submitMiddleware []func(http.Handler) http.Handler
	idempotencyKey   string
}

type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutSessions enables the session endpoints.
func WithCheckoutSessions(sessions SessionStore) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.sessions = sessions
	}
}

// WithSubmitMiddlewares wraps the order submission route, typically with idempotency.Middleware.
func WithSubmitMiddlewares(mw ...func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.submitMiddleware = append(h.submitMiddleware, mw...)
	}
}

// WithIdempotencyHeader overrides the header forwarded to the marketplace as the submission key.
func WithIdempotencyHeader(name string) CheckoutOption {
	return func(h *CheckoutHandlers) {
		if name = strings.TrimSpace(name); name != "" {
			h.idempotencyKey = name
		}
	}
}

func NewCheckoutHandlers(checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		checkout:       checkout,
		idempotencyKey: idempotency.DefaultHeader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/checkout/summary", h.summarize)
	r.Post("/checkout/preview", h.preview)
	r.With(h.submitMiddleware...).Post("/checkout/orders", h.submit)
	r.Put("/checkout/sessions/{sessionId}", h.updateSession)
	r.Get("/checkout/sessions/{sessionId}/summary", h.sessionSummary)
}

func (h *CheckoutHandlers) summarize(w http.ResponseWriter, r *http.Request) {
	h.price(w, r, false)
}

func (h *CheckoutHandlers) preview(w http.ResponseWriter, r *http.Request) {
	h.price(w, r, true)
}

func (h *CheckoutHandlers) price(w http.ResponseWriter, r *http.Request, reconcile bool) {
	ctx := r.Context()
	if h.checkout == nil {
		writeUnavailable(ctx, w)
		return
	}
	req, ok := decodeCheckoutRequest(w, r)
	if !ok {
		return
	}
	cmd := services.SummarizeCheckoutCommand{Snapshot: req.snapshot()}
	var (
		summary services.CheckoutSummary
		err     error
	)
	if reconcile {
		summary, err = h.checkout.Preview(ctx, cmd)
	} else {
		summary, err = h.checkout.Summarize(ctx, cmd)
	}
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newCheckoutSummaryResponse(summary))
}

func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeUnavailable(ctx, w)
		return
	}
	req, ok := decodeCheckoutRequest(w, r)
	if !ok {
		return
	}
	result, err := h.checkout.Submit(ctx, services.SubmitOrderCommand{
		Snapshot:       req.snapshot(),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(h.idempotencyKey)),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, newSubmitOrderResponse(result))
}

func (h *CheckoutHandlers) updateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		writeUnavailable(ctx, w)
		return
	}
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionId"))
	req, ok := decodeCheckoutRequest(w, r)
	if !ok {
		return
	}
	generation, err := h.sessions.Update(ctx, sessionID, req.snapshot())
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, sessionUpdateResponse{SessionID: sessionID, Generation: generation})
}

func (h *CheckoutHandlers) sessionSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		writeUnavailable(ctx, w)
		return
	}
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionId"))
	latest, ok := h.sessions.Latest(sessionID)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "checkout session not found", http.StatusNotFound))
		return
	}

	resp := sessionSummaryResponse{
		SessionID:  sessionID,
		Generation: latest.Generation,
		Pending:    latest.Pending,
	}
	if !latest.UpdatedAt.IsZero() {
		resp.UpdatedAt = latest.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	switch {
	case latest.Err != nil:
		apiErr := checkoutError(latest.Err)
		resp.Error = &sessionErrorResponse{Code: apiErr.Code, Message: apiErr.Message}
	case latest.Generation > 0:
		summary := newCheckoutSummaryResponse(latest.Summary)
		resp.Summary = &summary
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func decodeCheckoutRequest(w http.ResponseWriter, r *http.Request) (checkoutRequest, bool) {
	var req checkoutRequest
	if err := httpx.DecodeJSON(r, maxCheckoutRequestBody, &req); err != nil {
		httpx.WriteError(r.Context(), w, httpx.BodyError(err))
		return checkoutRequest{}, false
	}
	return req, true
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	httpx.WriteError(ctx, w, checkoutError(err))
}

var submissionStatus = map[services.SubmissionCategory]int{
	services.SubmissionBadRequest:     http.StatusBadRequest,
	services.SubmissionStaleStock:     http.StatusConflict,
	services.SubmissionQuotaExceeded:  http.StatusConflict,
	services.SubmissionInvalidVoucher: http.StatusConflict,
	services.SubmissionAuthExpired:    http.StatusUnauthorized,
	services.SubmissionServerError:    http.StatusBadGateway,
	services.SubmissionUnknown:        http.StatusBadGateway,
}

func checkoutError(err error) httpx.Error {
	var subErr *services.SubmissionError
	if errors.As(err, &subErr) {
		status, ok := submissionStatus[subErr.Category]
		if !ok {
			status = http.StatusBadGateway
		}
		message := subErr.UserMessage
		if message == "" {
			message = "order submission failed"
		}
		return httpx.NewError("submission_"+string(subErr.Category), message, status).
			WithDetails(map[string]any{"category": string(subErr.Category), "backendStatus": subErr.Status})
	}

	switch {
	case errors.Is(err, services.ErrCheckoutNothingSelected):
		return httpx.NewError("nothing_selected", "select at least one cart line", http.StatusBadRequest)
	case errors.Is(err, services.ErrCheckoutAddressRequired):
		return httpx.NewError("address_required", "a delivery address is required", http.StatusBadRequest)
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		return httpx.NewError("invalid_checkout", strings.TrimPrefix(err.Error(), services.ErrCheckoutInvalidInput.Error()+": "), http.StatusBadRequest)
	case errors.Is(err, services.ErrCheckoutUnavailable):
		return httpx.NewError("checkout_unavailable", "checkout dependencies are unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		return httpx.NewError("checkout_timeout", "checkout timed out", http.StatusGatewayTimeout)
	default:
		return httpx.NewError("checkout_failed", "checkout failed", http.StatusInternalServerError)
	}
}
