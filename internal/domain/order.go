package domain

import "time"

// OrderItem is one serialised line. Exactly one of the id fields is set.
type OrderItem struct {
	ProductID string `json:"productId,omitempty"`
	VariantID string `json:"variantId,omitempty"`
	ComboID   string `json:"comboId,omitempty"`
	Quantity  int    `json:"quantity"`
}

// StoreVoucherCodes lists the voucher codes applied within a store.
type StoreVoucherCodes struct {
	StoreID string   `json:"storeId"`
	Codes   []string `json:"codes"`
}

// PlatformVoucherUsage is the campaign quantity claimed by the order.
type PlatformVoucherUsage struct {
	CampaignProductID string `json:"campaignProductId"`
	Quantity          int    `json:"quantity"`
}

// OrderPayload is the order-creation request body.
type OrderPayload struct {
	Items            []OrderItem            `json:"items"`
	AddressID        string                 `json:"addressId"`
	StoreVouchers    []StoreVoucherCodes    `json:"storeVouchers"`
	PlatformVouchers []PlatformVoucherUsage `json:"platformVouchers"`
	ServiceTypeIDs   map[string]int         `json:"serviceTypeIds"`
}

// SubmittedOrder is one order created by the backend, one per store.
type SubmittedOrder struct {
	OrderID    string
	StoreID    string
	GrandTotal int64
}

// SubmissionResult is the backend response to an order submission.
type SubmissionResult struct {
	RequestID   string
	Orders      []SubmittedOrder
	SubmittedAt time.Time
}
