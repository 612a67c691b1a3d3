package handlers

import (
	"strings"
	"time"

	"github.com/marketcart/checkout-api/internal/services"
)

type checkoutRequest struct {
	Currency        string                  `json:"currency"`
	Lines           []cartLineRequest       `json:"lines"`
	SelectedLineIDs []string                `json:"selectedLineIds"`
	Vouchers        voucherSelectionPayload `json:"vouchers"`
	Address         *addressPayload         `json:"address"`
}

type cartLineRequest struct {
	ID                        string `json:"id"`
	ProductRef                string `json:"productRef"`
	VariantRef                string `json:"variantRef,omitempty"`
	ComboRef                  string `json:"comboRef,omitempty"`
	Quantity                  int    `json:"quantity"`
	BaseUnitPrice             int64  `json:"baseUnitPrice"`
	ServerUnitPrice           *int64 `json:"serverUnitPrice,omitempty"`
	PlatformCampaignUnitPrice *int64 `json:"platformCampaignUnitPrice,omitempty"`
	InPlatformCampaign        bool   `json:"inPlatformCampaign,omitempty"`
	CampaignQuotaExceeded     bool   `json:"campaignQuotaExceeded,omitempty"`
	CampaignRemainingUnits    *int   `json:"campaignRemainingUnits,omitempty"`
	CampaignProductID         string `json:"campaignProductId,omitempty"`
}

type voucherSelectionPayload struct {
	Store   map[string]string `json:"store,omitempty"`
	Product map[string]string `json:"product,omitempty"`
}

type addressPayload struct {
	ID           string  `json:"id"`
	Recipient    string  `json:"recipient"`
	Phone        string  `json:"phone"`
	Line1        string  `json:"line1"`
	Line2        *string `json:"line2,omitempty"`
	ProvinceCode int     `json:"provinceCode"`
	DistrictCode int     `json:"districtCode"`
	WardCode     string  `json:"wardCode"`
}

func (req checkoutRequest) snapshot() services.CheckoutSnapshot {
	lines := make([]services.CartLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.CartLine{
			ID:                        strings.TrimSpace(line.ID),
			ProductRef:                strings.TrimSpace(line.ProductRef),
			VariantRef:                strings.TrimSpace(line.VariantRef),
			ComboRef:                  strings.TrimSpace(line.ComboRef),
			Quantity:                  line.Quantity,
			BaseUnitPrice:             line.BaseUnitPrice,
			ServerUnitPrice:           line.ServerUnitPrice,
			PlatformCampaignUnitPrice: line.PlatformCampaignUnitPrice,
			InPlatformCampaign:        line.InPlatformCampaign,
			CampaignQuotaExceeded:     line.CampaignQuotaExceeded,
			CampaignRemainingUnits:    line.CampaignRemainingUnits,
			CampaignProductID:         strings.TrimSpace(line.CampaignProductID),
		})
	}

	selected := make([]string, 0, len(req.SelectedLineIDs))
	for _, id := range req.SelectedLineIDs {
		if id = strings.TrimSpace(id); id != "" {
			selected = append(selected, id)
		}
	}

	snapshot := services.CheckoutSnapshot{
		Currency:       strings.ToUpper(strings.TrimSpace(req.Currency)),
		Lines:          lines,
		SelectedLineID: selected,
		Selection: services.VoucherSelection{
			Store:   cleanSelection(req.Vouchers.Store),
			Product: cleanSelection(req.Vouchers.Product),
		},
	}
	if req.Address != nil {
		snapshot.Address = &services.Address{
			ID:           strings.TrimSpace(req.Address.ID),
			Recipient:    strings.TrimSpace(req.Address.Recipient),
			Phone:        strings.TrimSpace(req.Address.Phone),
			Line1:        strings.TrimSpace(req.Address.Line1),
			Line2:        req.Address.Line2,
			ProvinceCode: req.Address.ProvinceCode,
			DistrictCode: req.Address.DistrictCode,
			WardCode:     strings.TrimSpace(req.Address.WardCode),
		}
	}
	return snapshot
}

func cleanSelection(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for key, value := range in {
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}

type checkoutSummaryResponse struct {
	Currency                string                 `json:"currency"`
	Stores                  []storeSummaryResponse `json:"stores"`
	OverallSubtotal         int64                  `json:"overallSubtotal"`
	OverallPlatformDiscount int64                  `json:"overallPlatformDiscount"`
	OverallVoucherDiscount  int64                  `json:"overallVoucherDiscount"`
	OverallShipping         int64                  `json:"overallShipping"`
	OverallGrandTotal       int64                  `json:"overallGrandTotal"`
	ComputedGrandTotal      int64                  `json:"computedGrandTotal"`
	PreviewGrandTotal       *int64                 `json:"previewGrandTotal,omitempty"`
	ShippingError           string                 `json:"shippingError,omitempty"`
	Notices                 []noticeResponse       `json:"notices"`
	Warnings                []warningResponse      `json:"warnings"`
}

type storeSummaryResponse struct {
	StoreID                string                   `json:"storeId"`
	StoreName              string                   `json:"storeName,omitempty"`
	Resolved               bool                     `json:"resolved"`
	LineCount              int                      `json:"lineCount"`
	SubtotalBase           int64                    `json:"subtotalBase"`
	SubtotalAfterPlatform  int64                    `json:"subtotalAfterPlatform"`
	PlatformDiscount       int64                    `json:"platformDiscount"`
	StoreVoucherDiscount   int64                    `json:"storeVoucherDiscount"`
	ProductVoucherDiscount int64                    `json:"productVoucherDiscount"`
	ShippingFee            int64                    `json:"shippingFee"`
	StoreGrandTotal        int64                    `json:"storeGrandTotal"`
	ComputedGrandTotal     int64                    `json:"computedGrandTotal"`
	AppliedStoreVoucher    *appliedVoucherResponse  `json:"appliedStoreVoucher,omitempty"`
	AppliedProductVouchers []appliedVoucherResponse `json:"appliedProductVouchers"`
	Adjustments            []adjustmentResponse     `json:"adjustments,omitempty"`
	Shipping               shippingQuoteResponse    `json:"shipping"`
}

type appliedVoucherResponse struct {
	VoucherID string `json:"voucherId"`
	Code      string `json:"code"`
	Scope     string `json:"scope"`
	LineID    string `json:"lineId,omitempty"`
	Base      int64  `json:"base"`
	Amount    int64  `json:"amount"`
}

type adjustmentResponse struct {
	Kind   string `json:"kind"`
	Amount int64  `json:"amount"`
}

type shippingQuoteResponse struct {
	FeeAmount      int64  `json:"feeAmount"`
	ServiceTier    string `json:"serviceTier,omitempty"`
	ServiceTypeID  int    `json:"serviceTypeId,omitempty"`
	WeightGrams    int64  `json:"weightGrams"`
	OriginResolved bool   `json:"originResolved"`
	Error          string `json:"error,omitempty"`
	ErrorCode      string `json:"errorCode,omitempty"`
}

type noticeResponse struct {
	Code      string `json:"code"`
	StoreID   string `json:"storeId,omitempty"`
	LineID    string `json:"lineId,omitempty"`
	VoucherID string `json:"voucherId,omitempty"`
	Message   string `json:"message"`
}

type warningResponse struct {
	Code    string `json:"code"`
	StoreID string `json:"storeId,omitempty"`
	Message string `json:"message"`
}

func newCheckoutSummaryResponse(summary services.CheckoutSummary) checkoutSummaryResponse {
	resp := checkoutSummaryResponse{
		Currency:                summary.Currency,
		Stores:                  make([]storeSummaryResponse, 0, len(summary.Stores)),
		OverallSubtotal:         summary.OverallSubtotal,
		OverallPlatformDiscount: summary.OverallPlatformDiscount,
		OverallVoucherDiscount:  summary.OverallVoucherDiscount,
		OverallShipping:         summary.OverallShipping,
		OverallGrandTotal:       summary.OverallGrandTotal,
		ComputedGrandTotal:      summary.ComputedGrandTotal,
		PreviewGrandTotal:       summary.PreviewGrandTotal,
		ShippingError:           summary.ShippingError,
		Notices:                 make([]noticeResponse, 0, len(summary.Notices)),
		Warnings:                make([]warningResponse, 0, len(summary.Warnings)),
	}
	for _, store := range summary.Stores {
		resp.Stores = append(resp.Stores, newStoreSummaryResponse(store))
	}
	for _, notice := range summary.Notices {
		resp.Notices = append(resp.Notices, noticeResponse{
			Code:      notice.Code,
			StoreID:   notice.StoreID,
			LineID:    notice.LineID,
			VoucherID: notice.VoucherID,
			Message:   notice.Message,
		})
	}
	for _, warning := range summary.Warnings {
		resp.Warnings = append(resp.Warnings, warningResponse{
			Code:    warning.Code,
			StoreID: warning.StoreID,
			Message: warning.Message,
		})
	}
	return resp
}

func newStoreSummaryResponse(store services.StoreSummary) storeSummaryResponse {
	resp := storeSummaryResponse{
		StoreID:                store.StoreID,
		StoreName:              store.StoreName,
		Resolved:               store.Resolved,
		LineCount:              store.LineCount,
		SubtotalBase:           store.SubtotalBase,
		SubtotalAfterPlatform:  store.SubtotalAfterPlatform,
		PlatformDiscount:       store.PlatformDiscount,
		StoreVoucherDiscount:   store.StoreVoucherDiscount,
		ProductVoucherDiscount: store.ProductVoucherDiscount,
		ShippingFee:            store.ShippingFee,
		StoreGrandTotal:        store.StoreGrandTotal,
		ComputedGrandTotal:     store.ComputedGrandTotal,
		AppliedProductVouchers: make([]appliedVoucherResponse, 0, len(store.AppliedProductVouchers)),
		Shipping: shippingQuoteResponse{
			FeeAmount:      store.Shipping.FeeAmount,
			ServiceTier:    string(store.Shipping.ServiceTier),
			ServiceTypeID:  store.Shipping.ServiceTypeID,
			WeightGrams:    store.Shipping.WeightGrams,
			OriginResolved: store.Shipping.OriginResolved,
			Error:          store.Shipping.Error,
			ErrorCode:      store.Shipping.ErrorCode,
		},
	}
	if store.AppliedStoreVoucher != nil {
		applied := newAppliedVoucherResponse(*store.AppliedStoreVoucher)
		resp.AppliedStoreVoucher = &applied
	}
	for _, applied := range store.AppliedProductVouchers {
		resp.AppliedProductVouchers = append(resp.AppliedProductVouchers, newAppliedVoucherResponse(applied))
	}
	for _, adj := range store.Adjustments {
		resp.Adjustments = append(resp.Adjustments, adjustmentResponse{Kind: adj.Kind, Amount: adj.Amount})
	}
	return resp
}

func newAppliedVoucherResponse(applied services.AppliedVoucher) appliedVoucherResponse {
	return appliedVoucherResponse{
		VoucherID: applied.VoucherID,
		Code:      applied.Code,
		Scope:     string(applied.Scope),
		LineID:    applied.LineID,
		Base:      applied.Base,
		Amount:    applied.Amount,
	}
}

type submitOrderResponse struct {
	RequestID   string                  `json:"requestId"`
	SubmittedAt string                  `json:"submittedAt,omitempty"`
	Orders      []submittedOrderPayload `json:"orders"`
	Summary     checkoutSummaryResponse `json:"summary"`
}

type submittedOrderPayload struct {
	OrderID    string `json:"orderId"`
	StoreID    string `json:"storeId"`
	GrandTotal int64  `json:"grandTotal"`
}

func newSubmitOrderResponse(result services.SubmitOrderResult) submitOrderResponse {
	resp := submitOrderResponse{
		RequestID: result.Result.RequestID,
		Orders:    make([]submittedOrderPayload, 0, len(result.Result.Orders)),
		Summary:   newCheckoutSummaryResponse(result.Summary),
	}
	if !result.Result.SubmittedAt.IsZero() {
		resp.SubmittedAt = result.Result.SubmittedAt.UTC().Format(time.RFC3339)
	}
	for _, order := range result.Result.Orders {
		resp.Orders = append(resp.Orders, submittedOrderPayload{
			OrderID:    order.OrderID,
			StoreID:    order.StoreID,
			GrandTotal: order.GrandTotal,
		})
	}
	return resp
}

type sessionUpdateResponse struct {
	SessionID  string `json:"sessionId"`
	Generation uint64 `json:"generation"`
}

type sessionSummaryResponse struct {
	SessionID  string                   `json:"sessionId"`
	Generation uint64                   `json:"generation"`
	Pending    bool                     `json:"pending"`
	UpdatedAt  string                   `json:"updatedAt,omitempty"`
	Summary    *checkoutSummaryResponse `json:"summary,omitempty"`
	Error      *sessionErrorResponse    `json:"error,omitempty"`
}

type sessionErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
