package services

import (
	"context"
	"sync"

	domain "github.com/marketcart/checkout-api/internal/domain"
)

func int64Ptr(v int64) *int64 { return &v }

func intPtr(v int) *int { return &v }

func float64Ptr(v float64) *float64 { return &v }

func noopLogger(context.Context, string, map[string]any) {}

type fakeProductLookup struct {
	mu       sync.Mutex
	metadata map[string]ProductMetadata
	err      error
	calls    int
}

func (f *fakeProductLookup) LookupProducts(_ context.Context, refs []string) (map[string]ProductMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]ProductMetadata, len(refs))
	for _, ref := range refs {
		if meta, ok := f.metadata[ref]; ok {
			out[ref] = meta
		}
	}
	return out, nil
}

type fakeVoucherCatalog struct {
	mu           sync.Mutex
	products     map[string]ProductVouchers
	productErr   map[string]error
	stores       map[string][]Voucher
	storeErr     map[string]error
	productCalls int
	storeCalls   int
}

func (f *fakeVoucherCatalog) VouchersForProduct(_ context.Context, ref string) (ProductVouchers, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.productCalls++
	if err := f.productErr[ref]; err != nil {
		return ProductVouchers{}, err
	}
	return f.products[ref], nil
}

func (f *fakeVoucherCatalog) StoreVouchers(_ context.Context, storeID string) ([]Voucher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storeCalls++
	if err := f.storeErr[storeID]; err != nil {
		return nil, err
	}
	return f.stores[storeID], nil
}

type fakeAddressLookup struct {
	mu      sync.Mutex
	origins map[string]Origin
	err     error
	calls   int
}

func (f *fakeAddressLookup) DefaultOrigin(_ context.Context, ref string) (Origin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return Origin{}, f.err
	}
	origin, ok := f.origins[ref]
	if !ok {
		return Origin{}, ErrMarketplaceNotFound
	}
	return origin, nil
}

type fakeCarrier struct {
	mu       sync.Mutex
	fn       func(req CarrierFeeRequest) (int64, error)
	requests []CarrierFeeRequest
}

func (f *fakeCarrier) QuoteFee(_ context.Context, req CarrierFeeRequest) (int64, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return 0, nil
	}
	return fn(req)
}

func (f *fakeCarrier) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeBackend struct {
	mu           sync.Mutex
	preview      CheckoutPreview
	previewErr   error
	submitResult SubmissionResult
	submitErr    error
	payloads     []OrderPayload
	keys         []string
	previewCalls int
	submitCalls  int
}

func (f *fakeBackend) PreviewCheckout(_ context.Context, payload OrderPayload) (CheckoutPreview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.previewCalls++
	f.payloads = append(f.payloads, payload)
	return f.preview, f.previewErr
}

func (f *fakeBackend) SubmitOrder(_ context.Context, payload OrderPayload, key string) (SubmissionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	f.payloads = append(f.payloads, payload)
	f.keys = append(f.keys, key)
	if f.submitErr != nil {
		return SubmissionResult{}, f.submitErr
	}
	return f.submitResult, nil
}

type fakeEventPublisher struct {
	mu     sync.Mutex
	events []OrdersSubmittedEvent
	err    error
}

func (f *fakeEventPublisher) PublishOrdersSubmitted(_ context.Context, event OrdersSubmittedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

// scenarioALine is two units at 100,000 with an active 90,000 campaign price.
func scenarioALine() CartLine {
	return CartLine{
		ID:                        "line-a",
		ProductRef:                "prod-a",
		Quantity:                  2,
		BaseUnitPrice:             100_000,
		PlatformCampaignUnitPrice: int64Ptr(90_000),
		InPlatformCampaign:        true,
		CampaignProductID:         "camp-a",
		CampaignRemainingUnits:    intPtr(10),
	}
}

func percentVoucher(id string, pct float64, maxDiscount, minOrder *int64) Voucher {
	return Voucher{
		ID:               id,
		Code:             "CODE-" + id,
		Scope:            domain.VoucherScopeStoreWide,
		Kind:             domain.VoucherKindPercent,
		PercentValue:     float64Ptr(pct),
		MaxDiscountValue: maxDiscount,
		MinOrderValue:    minOrder,
		Status:           domain.VoucherStatusActive,
	}
}

func fixedVoucher(id string, scope domain.VoucherScope, amount int64) Voucher {
	return Voucher{
		ID:         id,
		Code:       "CODE-" + id,
		Scope:      scope,
		Kind:       domain.VoucherKindFixed,
		FixedValue: int64Ptr(amount),
		Status:     domain.VoucherStatusActive,
	}
}
