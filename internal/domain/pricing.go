package domain

// ServiceTier is the carrier service class chosen from the package weight.
type ServiceTier string

const (
	// ServiceTierLight covers packages up to the light weight threshold.
	ServiceTierLight ServiceTier = "LIGHT"
	// ServiceTierHeavy covers packages above the threshold.
	ServiceTierHeavy ServiceTier = "HEAVY"
)

// Shipping error codes attached to a quote.
const (
	ShippingErrorMissingOrigin = "MISSING_ORIGIN"
	ShippingErrorQuoteFailed   = "QUOTE_FAILED"
)

// ShippingQuote is the per-store carrier fee estimate.
type ShippingQuote struct {
	StoreID        string
	FeeAmount      int64
	ServiceTier    ServiceTier
	ServiceTypeID  int
	WeightGrams    int64
	OriginResolved bool
	Error          string
	ErrorCode      string
}

// Failed reports whether the quote carries an error.
func (q ShippingQuote) Failed() bool {
	return q.Error != ""
}

// AppliedVoucher records a voucher that contributed a discount.
type AppliedVoucher struct {
	VoucherID string
	Code      string
	Scope     VoucherScope
	LineID    string
	Base      int64
	Amount    int64
}

// Notice is a user-facing, non-fatal message about the pricing run.
type Notice struct {
	Code      string
	StoreID   string
	LineID    string
	VoucherID string
	Message   string
}

// Notice codes emitted by the discount engine and shipping estimator.
const (
	NoticeVoucherNotFound      = "voucher_not_found"
	NoticeVoucherInactive      = "voucher_inactive"
	NoticeMinOrderNotMet       = "min_order_not_met"
	NoticeVoucherScopeMismatch = "voucher_scope_mismatch"
	NoticeShippingUnavailable  = "shipping_unavailable"
)

// Warning codes attached to a summary.
const (
	WarningPreviewMismatch    = "preview_mismatch"
	WarningPreviewUnavailable = "preview_unavailable"
)

// Warning flags a divergence the customer does not need to act on.
type Warning struct {
	Code    string
	StoreID string
	Message string
}

// Adjustment kinds produced by backend discount reconciliation.
const (
	AdjustmentInferredStoreDiscount = "inferred_store_discount"
	AdjustmentOtherStoreDiscount    = "other_store_discount"
)

// Adjustment is a display-only figure reconciled from the backend.
type Adjustment struct {
	Kind   string
	Amount int64
}

// StoreDiscount is the discount engine output for one store group.
type StoreDiscount struct {
	StoreID                string
	SubtotalBase           int64
	SubtotalAfterPlatform  int64
	PlatformDiscount       int64
	StoreVoucherDiscount   int64
	ProductVoucherDiscount int64
	AppliedStoreVoucher    *AppliedVoucher
	AppliedProductVouchers []AppliedVoucher
	Notices                []Notice
}

// StoreSummary is the priced breakdown of one store in the checkout.
type StoreSummary struct {
	StoreID                string
	StoreName              string
	Resolved               bool
	LineCount              int
	SubtotalBase           int64
	SubtotalAfterPlatform  int64
	PlatformDiscount       int64
	StoreVoucherDiscount   int64
	ProductVoucherDiscount int64
	ShippingFee            int64
	StoreGrandTotal        int64
	ComputedGrandTotal     int64
	AppliedStoreVoucher    *AppliedVoucher
	AppliedProductVouchers []AppliedVoucher
	Adjustments            []Adjustment
	Shipping               ShippingQuote
}

// CheckoutSummary is the priced result of a checkout snapshot. It is rebuilt on every run.
type CheckoutSummary struct {
	Currency                string
	Stores                  []StoreSummary
	OverallSubtotal         int64
	OverallPlatformDiscount int64
	OverallVoucherDiscount  int64
	OverallShipping         int64
	OverallGrandTotal       int64
	ComputedGrandTotal      int64
	PreviewGrandTotal       *int64
	ShippingError           string
	Notices                 []Notice
	Warnings                []Warning
}

// Store returns the summary of the given store.
func (s CheckoutSummary) Store(storeID string) (StoreSummary, bool) {
	for _, store := range s.Stores {
		if store.StoreID == storeID {
			return store, true
		}
	}
	return StoreSummary{}, false
}

// CheckoutPreview is the backend's own pricing of a payload.
type CheckoutPreview struct {
	GrandTotal int64
	Stores     []StorePreview
}

// StorePreview carries the backend figures for one store.
type StorePreview struct {
	StoreID       string
	Subtotal      int64
	StoreDiscount int64
	ShippingFee   int64
	GrandTotal    int64
}

// Store returns the preview of the given store.
func (p CheckoutPreview) Store(storeID string) (StorePreview, bool) {
	for _, store := range p.Stores {
		if store.StoreID == storeID {
			return store, true
		}
	}
	return StorePreview{}, false
}
