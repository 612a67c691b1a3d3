package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/marketcart/checkout-api/internal/handlers"
	"github.com/marketcart/checkout-api/internal/platform/config"
	"github.com/marketcart/checkout-api/internal/platform/idempotency"
)

func testConfig() config.Config {
	return config.Config{
		Environment: "test",
		Firestore:   config.FirestoreConfig{ProjectID: "checkout-test"},
		Marketplace: config.MarketplaceConfig{BaseURL: "http://marketplace.invalid", APIKey: "key", Timeout: time.Second},
		Carrier: config.CarrierConfig{
			BaseURL:            "http://carrier.invalid",
			Token:              "token",
			ShopID:             "shop",
			Timeout:            time.Second,
			LightServiceTypeID: 2,
			HeavyServiceTypeID: 5,
		},
		Checkout: config.CheckoutConfig{
			MinOrderBasis:      "pre_platform",
			ReconcileTolerance: 1,
			SessionIdleTTL:     time.Minute,
			SessionDebounce:    10 * time.Millisecond,
			SessionThrottle:    50 * time.Millisecond,
			SubmitRateLimit:    10,
			SubmitRateWindow:   time.Minute,
		},
		Cache: config.CacheConfig{
			QuoteTTL:       5 * time.Minute,
			VoucherTTL:     2 * time.Minute,
			VoucherEntries: 16,
		},
		Idempotency: config.IdempotencyConfig{
			Header:  idempotency.DefaultHeader,
			TTL:     time.Hour,
			Backend: "memory",
		},
	}
}

func TestNewContainerWiresInMemoryBackends(t *testing.T) {
	started := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	container, err := NewContainer(context.Background(), testConfig(), zaptest.NewLogger(t),
		WithBuildInfo(handlers.BuildInfo{Version: "1.2.3", StartedAt: started}),
		WithClock(func() time.Time { return started }),
	)
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Close(context.Background()); err != nil {
			t.Errorf("Close: %v", err)
		}
	})

	if container.Services.Checkout == nil || container.Services.Sessions == nil {
		t.Fatalf("expected checkout services to be wired")
	}
	if _, ok := container.Idempotency.(*idempotency.MemoryStore); !ok {
		t.Fatalf("expected memory idempotency store, got %T", container.Idempotency)
	}
	if container.Health == nil || container.Router == nil {
		t.Fatalf("expected health repository and router")
	}

	rr := httptest.NewRecorder()
	container.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"version":"1.2.3"`) {
		t.Fatalf("healthz: expected build version in body, got %s", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	container.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/checkout/summary", strings.NewReader("")))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("summary: expected 400 for empty body, got %d", rr.Code)
	}
}

func TestNewContainerRejectsUnknownMinOrderBasis(t *testing.T) {
	cfg := testConfig()
	cfg.Checkout.MinOrderBasis = "gross"

	if _, err := NewContainer(context.Background(), cfg, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected error for unknown min order basis")
	}
}

func TestContainerCloseIsIdempotent(t *testing.T) {
	container, err := NewContainer(context.Background(), testConfig(), nil)
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if err := container.Close(context.Background()); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := container.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}

	var nilContainer *Container
	if err := nilContainer.Close(context.Background()); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}
