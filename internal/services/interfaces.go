package services

import (
	"context"
	"time"

	domain "github.com/marketcart/checkout-api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	CartLine             = domain.CartLine
	ProductMetadata      = domain.ProductMetadata
	StoreGroup           = domain.StoreGroup
	Address              = domain.Address
	Origin               = domain.Origin
	CheckoutSnapshot     = domain.CheckoutSnapshot
	Voucher              = domain.Voucher
	VoucherSelection     = domain.VoucherSelection
	AppliedVoucher       = domain.AppliedVoucher
	Notice               = domain.Notice
	Warning              = domain.Warning
	Adjustment           = domain.Adjustment
	StoreDiscount        = domain.StoreDiscount
	ShippingQuote        = domain.ShippingQuote
	StoreSummary         = domain.StoreSummary
	CheckoutSummary      = domain.CheckoutSummary
	CheckoutPreview      = domain.CheckoutPreview
	StorePreview         = domain.StorePreview
	OrderPayload         = domain.OrderPayload
	OrderItem            = domain.OrderItem
	StoreVoucherCodes    = domain.StoreVoucherCodes
	PlatformVoucherUsage = domain.PlatformVoucherUsage
	SubmissionResult     = domain.SubmissionResult
	SubmittedOrder       = domain.SubmittedOrder
)

// CheckoutService prices checkout snapshots and places orders built from them.
type CheckoutService interface {
	Summarize(ctx context.Context, cmd SummarizeCheckoutCommand) (CheckoutSummary, error)
	Preview(ctx context.Context, cmd SummarizeCheckoutCommand) (CheckoutSummary, error)
	Submit(ctx context.Context, cmd SubmitOrderCommand) (SubmitOrderResult, error)
}

// ProductMetadataLookup resolves owning store and physical attributes for products.
type ProductMetadataLookup interface {
	LookupProducts(ctx context.Context, productRefs []string) (map[string]ProductMetadata, error)
}

// VoucherCatalog fetches vouchers from the marketplace catalog.
type VoucherCatalog interface {
	VouchersForProduct(ctx context.Context, productRef string) (ProductVouchers, error)
	StoreVouchers(ctx context.Context, storeID string) ([]Voucher, error)
}

// ProductVouchers is the catalog response for one product.
type ProductVouchers struct {
	Store    []Voucher
	Platform []Voucher
}

// StoreAddressLookup resolves the default pickup address of the store selling a product.
type StoreAddressLookup interface {
	DefaultOrigin(ctx context.Context, productRef string) (Origin, error)
}

// CarrierQuoter asks the carrier for a delivery fee.
type CarrierQuoter interface {
	QuoteFee(ctx context.Context, req CarrierFeeRequest) (int64, error)
}

// CarrierFeeRequest is the carrier fee query for one package.
type CarrierFeeRequest struct {
	ServiceTypeID int
	From          Origin
	To            Origin
	WeightGrams   int64
	Items         []CarrierItem
}

// CarrierItem is one line of the package declared to the carrier.
type CarrierItem struct {
	Name        string
	Quantity    int
	WeightGrams int64
	LengthCm    int
	WidthCm     int
	HeightCm    int
}

// CheckoutBackend is the marketplace order API.
type CheckoutBackend interface {
	PreviewCheckout(ctx context.Context, payload OrderPayload) (CheckoutPreview, error)
	SubmitOrder(ctx context.Context, payload OrderPayload, idempotencyKey string) (SubmissionResult, error)
}

// ShippingQuoteCache stores carrier fees keyed by package shape.
type ShippingQuoteCache interface {
	Get(ctx context.Context, key string) (int64, bool)
	Put(ctx context.Context, key string, fee int64)
}

// OrderEventPublisher announces submitted orders to downstream consumers.
type OrderEventPublisher interface {
	PublishOrdersSubmitted(ctx context.Context, event OrdersSubmittedEvent) error
}

// OrdersSubmittedEvent is published once per successful submission.
type OrdersSubmittedEvent struct {
	RequestID   string
	AddressID   string
	OrderIDs    []string
	StoreIDs    []string
	GrandTotal  int64
	Currency    string
	SubmittedAt time.Time
}

// SummarizeCheckoutCommand prices a snapshot.
type SummarizeCheckoutCommand struct {
	Snapshot CheckoutSnapshot
}

// SubmitOrderCommand places the orders for a snapshot.
type SubmitOrderCommand struct {
	Snapshot       CheckoutSnapshot
	IdempotencyKey string
}

// SubmitOrderResult carries the created orders and the summary they were priced from.
type SubmitOrderResult struct {
	Summary CheckoutSummary
	Payload OrderPayload
	Result  SubmissionResult
}
