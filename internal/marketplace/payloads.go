package marketplace

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketcart/checkout-api/internal/domain"
	"github.com/marketcart/checkout-api/internal/services"
)

type voucherPayload struct {
	ID               string              `json:"id"`
	Code             string              `json:"code"`
	Scope            string              `json:"scope"`
	Type             string              `json:"type"`
	DiscountType     string              `json:"discountType"`
	Value            decimal.NullDecimal `json:"value"`
	DiscountValue    decimal.NullDecimal `json:"discountValue"`
	MaxDiscountValue decimal.NullDecimal `json:"maxDiscountValue"`
	MinOrderValue    decimal.NullDecimal `json:"minOrderValue"`
	ValidFrom        string              `json:"validFrom"`
	ValidTo          string              `json:"validTo"`
	Status           string              `json:"status"`
	StoreID          string              `json:"storeId"`
	ProductID        string              `json:"productId"`
	Description      string              `json:"description"`
}

// vouchersBlock accepts both the current and the legacy field names.
type vouchersBlock struct {
	ShopVouchers     []voucherPayload `json:"shopVouchers"`
	Shop             []voucherPayload `json:"shop"`
	PlatformVouchers []voucherPayload `json:"platformVouchers"`
	Platform         []voucherPayload `json:"platform"`
}

type productVouchersPayload struct {
	Vouchers vouchersBlock `json:"vouchers"`
}

type storeVouchersPayload struct {
	Vouchers []voucherPayload `json:"vouchers"`
	Data     []voucherPayload `json:"data"`
}

type storeAddressPayload struct {
	DistrictID int    `json:"districtId"`
	WardCode   string `json:"wardCode"`
	Data       *struct {
		DistrictID int    `json:"districtId"`
		WardCode   string `json:"wardCode"`
	} `json:"data"`
}

type storePreviewPayload struct {
	StoreID       string `json:"storeId"`
	Subtotal      int64  `json:"subtotal"`
	StoreDiscount int64  `json:"storeDiscount"`
	ShippingFee   int64  `json:"shippingFee"`
	GrandTotal    int64  `json:"grandTotal"`
}

type previewPayload struct {
	GrandTotal int64                 `json:"grandTotal"`
	Stores     []storePreviewPayload `json:"stores"`
}

type submittedOrderPayload struct {
	OrderID    string `json:"orderId"`
	ID         string `json:"id"`
	StoreID    string `json:"storeId"`
	GrandTotal int64  `json:"grandTotal"`
}

type submissionPayload struct {
	RequestID string                  `json:"requestId"`
	Orders    []submittedOrderPayload `json:"orders"`
	CreatedAt string                  `json:"createdAt"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p errorPayload) fields() (string, string) {
	if p.Error != nil && (p.Error.Code != "" || p.Error.Message != "") {
		return strings.TrimSpace(p.Error.Code), strings.TrimSpace(p.Error.Message)
	}
	return strings.TrimSpace(p.Code), strings.TrimSpace(p.Message)
}

func (p productVouchersPayload) toDomain() services.ProductVouchers {
	store := p.Vouchers.ShopVouchers
	if len(store) == 0 {
		store = p.Vouchers.Shop
	}
	platform := p.Vouchers.PlatformVouchers
	if len(platform) == 0 {
		platform = p.Vouchers.Platform
	}
	return services.ProductVouchers{
		Store:    vouchersToDomain(store, ""),
		Platform: vouchersToDomain(platform, ""),
	}
}

func (p storeVouchersPayload) toDomain(storeID string) []services.Voucher {
	items := p.Vouchers
	if len(items) == 0 {
		items = p.Data
	}
	return vouchersToDomain(items, storeID)
}

func vouchersToDomain(items []voucherPayload, storeID string) []services.Voucher {
	if len(items) == 0 {
		return nil
	}
	out := make([]services.Voucher, 0, len(items))
	for _, item := range items {
		v := item.toDomain()
		if v.StoreID == "" {
			v.StoreID = storeID
		}
		out = append(out, v)
	}
	return out
}

func (p voucherPayload) toDomain() services.Voucher {
	kind := firstNonEmpty(p.Type, p.DiscountType)
	value := p.Value
	if !value.Valid {
		value = p.DiscountValue
	}

	v := services.Voucher{
		ID:               strings.TrimSpace(p.ID),
		Code:             strings.TrimSpace(p.Code),
		Scope:            domain.VoucherScope(strings.ToUpper(strings.TrimSpace(p.Scope))),
		Kind:             domain.VoucherKind(normalizeKind(kind)),
		MaxDiscountValue: amountPtr(p.MaxDiscountValue),
		MinOrderValue:    amountPtr(p.MinOrderValue),
		ValidFrom:        strings.TrimSpace(p.ValidFrom),
		ValidTo:          strings.TrimSpace(p.ValidTo),
		Status:           domain.VoucherStatus(strings.ToUpper(strings.TrimSpace(p.Status))),
		StoreID:          strings.TrimSpace(p.StoreID),
		ProductRef:       strings.TrimSpace(p.ProductID),
		Description:      p.Description,
	}
	if value.Valid {
		switch v.Kind {
		case domain.VoucherKindPercent:
			pct := value.Decimal.InexactFloat64()
			v.PercentValue = &pct
		default:
			v.FixedValue = amountPtr(value)
		}
	}
	return v
}

func normalizeKind(kind string) string {
	switch strings.ToUpper(strings.TrimSpace(kind)) {
	case "PERCENT", "PERCENTAGE":
		return string(domain.VoucherKindPercent)
	case "FIXED", "FIXED_AMOUNT", "AMOUNT":
		return string(domain.VoucherKindFixed)
	default:
		return strings.ToUpper(strings.TrimSpace(kind))
	}
}

// amountPtr rounds a catalog amount to whole currency units.
func amountPtr(v decimal.NullDecimal) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Decimal.Round(0).IntPart()
	return &n
}

func (p storeAddressPayload) toDomain() services.Origin {
	if p.Data != nil && p.DistrictID == 0 && p.WardCode == "" {
		return services.Origin{DistrictCode: p.Data.DistrictID, WardCode: strings.TrimSpace(p.Data.WardCode)}
	}
	return services.Origin{DistrictCode: p.DistrictID, WardCode: strings.TrimSpace(p.WardCode)}
}

func (p previewPayload) toDomain() services.CheckoutPreview {
	out := services.CheckoutPreview{GrandTotal: p.GrandTotal}
	for _, s := range p.Stores {
		out.Stores = append(out.Stores, services.StorePreview{
			StoreID:       strings.TrimSpace(s.StoreID),
			Subtotal:      s.Subtotal,
			StoreDiscount: s.StoreDiscount,
			ShippingFee:   s.ShippingFee,
			GrandTotal:    s.GrandTotal,
		})
	}
	return out
}

func (p submissionPayload) toDomain() services.SubmissionResult {
	out := services.SubmissionResult{RequestID: strings.TrimSpace(p.RequestID)}
	for _, o := range p.Orders {
		out.Orders = append(out.Orders, services.SubmittedOrder{
			OrderID:    firstNonEmpty(o.OrderID, o.ID),
			StoreID:    strings.TrimSpace(o.StoreID),
			GrandTotal: o.GrandTotal,
		})
	}
	if p.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, p.CreatedAt); err == nil {
			out.SubmittedAt = ts.UTC()
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
