package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marketcart/checkout-api/internal/platform/idempotency"
	"github.com/marketcart/checkout-api/internal/platform/observability"
	"github.com/marketcart/checkout-api/internal/services"
)

const checkoutBody = `{
	"currency": "vnd",
	"lines": [
		{"id": "l1", "productRef": "p1", "quantity": 2, "baseUnitPrice": 100000},
		{"id": "l2", "productRef": "p2", "variantRef": "v9", "quantity": 1, "baseUnitPrice": 50000, "inPlatformCampaign": true, "platformCampaignUnitPrice": 40000, "campaignProductId": "cp-2"}
	],
	"selectedLineIds": ["l1", " l2 ", ""],
	"vouchers": {"store": {"s1": "v-s1", "s2": ""}, "product": {"l1": "v-p1"}},
	"address": {"id": "addr-1", "recipient": "An", "phone": "0900", "line1": "1 Street", "provinceCode": 79, "districtCode": 1442, "wardCode": "20109"}
}`

type stubCheckoutService struct {
	summary    services.CheckoutSummary
	submit     services.SubmitOrderResult
	err        error
	lastCmd    services.SummarizeCheckoutCommand
	lastSubmit services.SubmitOrderCommand
	previewed  bool
	submits    int
}

func (s *stubCheckoutService) Summarize(_ context.Context, cmd services.SummarizeCheckoutCommand) (services.CheckoutSummary, error) {
	s.lastCmd = cmd
	return s.summary, s.err
}

func (s *stubCheckoutService) Preview(_ context.Context, cmd services.SummarizeCheckoutCommand) (services.CheckoutSummary, error) {
	s.lastCmd = cmd
	s.previewed = true
	return s.summary, s.err
}

func (s *stubCheckoutService) Submit(_ context.Context, cmd services.SubmitOrderCommand) (services.SubmitOrderResult, error) {
	s.lastSubmit = cmd
	s.submits++
	return s.submit, s.err
}

type stubSessionStore struct {
	updated   map[string]services.CheckoutSnapshot
	latest    map[string]services.SessionSummary
	updateErr error
}

func (s *stubSessionStore) Update(_ context.Context, id string, snapshot services.CheckoutSnapshot) (uint64, error) {
	if s.updateErr != nil {
		return 0, s.updateErr
	}
	if s.updated == nil {
		s.updated = make(map[string]services.CheckoutSnapshot)
	}
	s.updated[id] = snapshot
	return uint64(len(s.updated)), nil
}

func (s *stubSessionStore) Latest(id string) (services.SessionSummary, bool) {
	out, ok := s.latest[id]
	return out, ok
}

func sampleSummary() services.CheckoutSummary {
	preview := int64(245000)
	return services.CheckoutSummary{
		Currency: "VND",
		Stores: []services.StoreSummary{{
			StoreID:               "s1",
			StoreName:             "Store One",
			Resolved:              true,
			LineCount:             2,
			SubtotalBase:          250000,
			SubtotalAfterPlatform: 240000,
			PlatformDiscount:      10000,
			StoreVoucherDiscount:  20000,
			ShippingFee:           25000,
			StoreGrandTotal:       245000,
			ComputedGrandTotal:    245000,
			AppliedStoreVoucher:   &services.AppliedVoucher{VoucherID: "v-s1", Code: "SAVE20", Scope: "STORE_WIDE", Base: 240000, Amount: 20000},
			Shipping:              services.ShippingQuote{StoreID: "s1", FeeAmount: 25000, ServiceTier: "LIGHT", ServiceTypeID: 2, WeightGrams: 1200, OriginResolved: true},
		}},
		OverallSubtotal:         250000,
		OverallPlatformDiscount: 10000,
		OverallVoucherDiscount:  20000,
		OverallShipping:         25000,
		OverallGrandTotal:       245000,
		ComputedGrandTotal:      245000,
		PreviewGrandTotal:       &preview,
		Notices:                 []services.Notice{{Code: "voucher_not_found", LineID: "l1", VoucherID: "v-p1", Message: "voucher unavailable"}},
	}
}

func newCheckoutRouter(h *CheckoutHandlers) http.Handler {
	return NewRouter(
		WithMiddlewares(observability.SessionMiddleware),
		WithCheckoutRoutes(h.Routes),
	)
}

func postJSON(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestCheckoutSummaryMapsRequestAndResponse(t *testing.T) {
	svc := &stubCheckoutService{summary: sampleSummary()}
	router := newCheckoutRouter(NewCheckoutHandlers(svc))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, postJSON("/api/v1/checkout/summary", checkoutBody))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if svc.previewed {
		t.Fatalf("summary must not call preview")
	}

	snap := svc.lastCmd.Snapshot
	if snap.Currency != "VND" || len(snap.Lines) != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if got := snap.SelectedLineID; len(got) != 2 || got[1] != "l2" {
		t.Fatalf("expected trimmed selection, got %v", got)
	}
	if _, ok := snap.Selection.Store["s2"]; ok {
		t.Fatalf("empty voucher ids must be dropped")
	}
	if snap.Selection.Product["l1"] != "v-p1" {
		t.Fatalf("expected product voucher, got %+v", snap.Selection.Product)
	}
	line := snap.Lines[1]
	if line.VariantRef != "v9" || !line.InPlatformCampaign || line.PlatformCampaignUnitPrice == nil || *line.PlatformCampaignUnitPrice != 40000 {
		t.Fatalf("unexpected campaign line %+v", line)
	}
	if snap.Address == nil || snap.Address.DistrictCode != 1442 || snap.Address.WardCode != "20109" {
		t.Fatalf("unexpected address %+v", snap.Address)
	}

	var body checkoutSummaryResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.OverallGrandTotal != 245000 || body.PreviewGrandTotal == nil || *body.PreviewGrandTotal != 245000 {
		t.Fatalf("unexpected totals %+v", body)
	}
	if len(body.Stores) != 1 || body.Stores[0].AppliedStoreVoucher == nil || body.Stores[0].AppliedStoreVoucher.Code != "SAVE20" {
		t.Fatalf("unexpected stores %+v", body.Stores)
	}
	if body.Stores[0].Shipping.ServiceTier != "LIGHT" || body.Stores[0].Shipping.WeightGrams != 1200 {
		t.Fatalf("unexpected shipping %+v", body.Stores[0].Shipping)
	}
	if len(body.Notices) != 1 || body.Notices[0].Code != "voucher_not_found" {
		t.Fatalf("unexpected notices %+v", body.Notices)
	}
	if body.Warnings == nil {
		t.Fatalf("warnings must render as an empty list")
	}
}

func TestCheckoutPreviewUsesPreview(t *testing.T) {
	svc := &stubCheckoutService{summary: sampleSummary()}
	router := newCheckoutRouter(NewCheckoutHandlers(svc))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, postJSON("/api/v1/checkout/preview", checkoutBody))
	if rr.Code != http.StatusOK || !svc.previewed {
		t.Fatalf("expected preview call, status %d", rr.Code)
	}
}

func TestCheckoutRejectsBadBodies(t *testing.T) {
	svc := &stubCheckoutService{}
	router := newCheckoutRouter(NewCheckoutHandlers(svc))

	cases := map[string]struct {
		body string
		code string
	}{
		"empty":   {body: "", code: "invalid_request"},
		"garbage": {body: "{", code: "invalid_json"},
		"unknown": {body: `{"currency":"VND","bogus":true}`, code: "invalid_json"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, postJSON("/api/v1/checkout/summary", tc.body))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			assertErrorCode(t, rr, tc.code)
		})
	}
}

func TestCheckoutMapsServiceErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: line l1 has quantity 0", services.ErrCheckoutInvalidInput), http.StatusBadRequest, "invalid_checkout"},
		{services.ErrCheckoutNothingSelected, http.StatusBadRequest, "nothing_selected"},
		{services.ErrCheckoutAddressRequired, http.StatusBadRequest, "address_required"},
		{fmt.Errorf("lookup: %w", services.ErrCheckoutUnavailable), http.StatusServiceUnavailable, "checkout_unavailable"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "checkout_timeout"},
		{errors.New("boom"), http.StatusInternalServerError, "checkout_failed"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			router := newCheckoutRouter(NewCheckoutHandlers(&stubCheckoutService{err: tc.err}))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, postJSON("/api/v1/checkout/summary", checkoutBody))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			assertErrorCode(t, rr, tc.code)
		})
	}
}

func TestCheckoutSubmitForwardsIdempotencyKey(t *testing.T) {
	svc := &stubCheckoutService{
		summary: sampleSummary(),
		submit: services.SubmitOrderResult{
			Summary: sampleSummary(),
			Result: services.SubmissionResult{
				RequestID:   "req-1",
				Orders:      []services.SubmittedOrder{{OrderID: "o-1", StoreID: "s1", GrandTotal: 245000}},
				SubmittedAt: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
			},
		},
	}
	router := newCheckoutRouter(NewCheckoutHandlers(svc))

	req := postJSON("/api/v1/checkout/orders", checkoutBody)
	req.Header.Set(idempotency.DefaultHeader, " key-1 ")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if svc.lastSubmit.IdempotencyKey != "key-1" {
		t.Fatalf("expected key forwarded, got %q", svc.lastSubmit.IdempotencyKey)
	}
	var body submitOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.RequestID != "req-1" || len(body.Orders) != 1 || body.Orders[0].OrderID != "o-1" {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.SubmittedAt != "2024-05-01T08:00:00Z" {
		t.Fatalf("unexpected submittedAt %q", body.SubmittedAt)
	}
}

func TestCheckoutSubmitReplaysThroughIdempotencyMiddleware(t *testing.T) {
	svc := &stubCheckoutService{submit: services.SubmitOrderResult{Result: services.SubmissionResult{RequestID: "req-1"}}}
	router := newCheckoutRouter(NewCheckoutHandlers(svc,
		WithSubmitMiddlewares(idempotency.Middleware(idempotency.NewMemoryStore())),
	))

	for i := 0; i < 2; i++ {
		req := postJSON("/api/v1/checkout/orders", checkoutBody)
		req.Header.Set(idempotency.DefaultHeader, "key-1")
		req.Header.Set(observability.SessionHeader, "sess-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201, got %d", i, rr.Code)
		}
	}
	if svc.submits != 1 {
		t.Fatalf("expected one submission, got %d", svc.submits)
	}
}

func TestCheckoutSubmitMapsSubmissionCategories(t *testing.T) {
	cases := map[services.SubmissionCategory]int{
		services.SubmissionBadRequest:     http.StatusBadRequest,
		services.SubmissionStaleStock:     http.StatusConflict,
		services.SubmissionQuotaExceeded:  http.StatusConflict,
		services.SubmissionInvalidVoucher: http.StatusConflict,
		services.SubmissionAuthExpired:    http.StatusUnauthorized,
		services.SubmissionServerError:    http.StatusBadGateway,
		services.SubmissionUnknown:        http.StatusBadGateway,
	}
	for category, status := range cases {
		t.Run(string(category), func(t *testing.T) {
			svc := &stubCheckoutService{err: &services.SubmissionError{Category: category, Status: 409, UserMessage: "try again"}}
			router := newCheckoutRouter(NewCheckoutHandlers(svc))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, postJSON("/api/v1/checkout/orders", checkoutBody))
			if rr.Code != status {
				t.Fatalf("expected %d, got %d", status, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != "submission_"+string(category) || body["message"] != "try again" {
				t.Fatalf("unexpected envelope %+v", body)
			}
			details, _ := body["details"].(map[string]any)
			if details["category"] != string(category) {
				t.Fatalf("expected category detail, got %+v", details)
			}
		})
	}
}

func TestCheckoutSessions(t *testing.T) {
	updatedAt := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	sessions := &stubSessionStore{latest: map[string]services.SessionSummary{
		"ready":   {Generation: 3, Summary: sampleSummary(), UpdatedAt: updatedAt},
		"pending": {Generation: 0, Pending: true},
		"failed":  {Generation: 2, Err: services.ErrCheckoutNothingSelected},
	}}
	router := newCheckoutRouter(NewCheckoutHandlers(&stubCheckoutService{}, WithCheckoutSessions(sessions)))

	t.Run("update", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/api/v1/checkout/sessions/abc", strings.NewReader(checkoutBody))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rr.Code)
		}
		var body sessionUpdateResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.SessionID != "abc" || body.Generation != 1 {
			t.Fatalf("unexpected body %+v", body)
		}
		if len(sessions.updated["abc"].Lines) != 2 {
			t.Fatalf("expected snapshot stored")
		}
	})

	get := func(id string) (int, sessionSummaryResponse) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/checkout/sessions/"+id+"/summary", nil))
		var body sessionSummaryResponse
		_ = json.Unmarshal(rr.Body.Bytes(), &body)
		return rr.Code, body
	}

	if status, body := get("ready"); status != http.StatusOK || body.Summary == nil || body.Summary.OverallGrandTotal != 245000 || body.Pending {
		t.Fatalf("unexpected ready session %d %+v", status, body)
	}
	if status, body := get("pending"); status != http.StatusOK || body.Summary != nil || !body.Pending {
		t.Fatalf("unexpected pending session %d %+v", status, body)
	}
	if status, body := get("failed"); status != http.StatusOK || body.Error == nil || body.Error.Code != "nothing_selected" {
		t.Fatalf("unexpected failed session %d %+v", status, body)
	}
	if status, _ := get("missing"); status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", status)
	}
}

func TestCheckoutSessionsUnavailableWithoutStore(t *testing.T) {
	router := newCheckoutRouter(NewCheckoutHandlers(&stubCheckoutService{}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/checkout/sessions/abc/summary", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestSubmitRateLimitPerSession(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	handler := observability.SessionMiddleware(SubmitRateLimit(2, time.Minute, clock)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})))

	send := func(session string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/orders", nil)
		req.Header.Set(observability.SessionHeader, session)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	send("a")
	send("a")
	limited := send("a")
	if limited.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", limited.Code)
	}
	if limited.Header().Get("Retry-After") != "60" {
		t.Fatalf("unexpected Retry-After %q", limited.Header().Get("Retry-After"))
	}
	if rr := send("b"); rr.Code != http.StatusCreated {
		t.Fatalf("other sessions must not be limited, got %d", rr.Code)
	}

	now = now.Add(time.Minute)
	if rr := send("a"); rr.Code != http.StatusCreated {
		t.Fatalf("expected window reset, got %d", rr.Code)
	}
}

func TestRoutesIgnoresNilRouter(t *testing.T) {
	var r chi.Router
	NewCheckoutHandlers(nil).Routes(r)
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, code string) {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"] != code {
		t.Fatalf("expected error %q, got %v", code, body["error"])
	}
}
