package services

import (
	"context"
	"fmt"

	domain "github.com/marketcart/checkout-api/internal/domain"
	"github.com/marketcart/checkout-api/internal/platform/textutil"
)

const defaultReconcileTolerance int64 = 1

// PricingCompilerDeps configures the compiler.
type PricingCompilerDeps struct {
	// ReconcileTolerance is the allowed difference per store between computed and previewed totals.
	ReconcileTolerance int64
	Logger             func(ctx context.Context, event string, fields map[string]any)
}

// PricingCompiler merges discount and shipping results into a CheckoutSummary.
type PricingCompiler struct {
	tolerance int64
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewPricingCompiler builds a compiler.
func NewPricingCompiler(deps PricingCompilerDeps) *PricingCompiler {
	tolerance := deps.ReconcileTolerance
	if tolerance <= 0 {
		tolerance = defaultReconcileTolerance
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PricingCompiler{tolerance: tolerance, logger: logger}
}

// CompileInput gathers the outputs of one pricing run. Discounts are aligned with Groups.
type CompileInput struct {
	Currency  string
	Groups    []StoreGroup
	Discounts []StoreDiscount
	Shipping  ShippingEstimate
	Selection VoucherSelection
	Preview   *CheckoutPreview
}

// Compile builds the summary. A backend preview, when present, is authoritative for the grand
// totals it covers; the computed figures stay available and a divergence only raises a warning.
func (c *PricingCompiler) Compile(ctx context.Context, in CompileInput) CheckoutSummary {
	currency := in.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	summary := CheckoutSummary{
		Currency:      currency,
		Stores:        make([]StoreSummary, 0, len(in.Groups)),
		ShippingError: in.Shipping.Error,
	}

	for i, group := range in.Groups {
		var discount StoreDiscount
		if i < len(in.Discounts) {
			discount = in.Discounts[i]
		}
		quote, hasQuote := in.Shipping.Quotes[group.StoreID]
		if !hasQuote {
			quote = ShippingQuote{StoreID: group.StoreID}
		}
		shippingFee := quote.FeeAmount
		if quote.Failed() {
			shippingFee = 0
		}

		computed := StoreGrandTotal(discount, shippingFee)
		store := StoreSummary{
			StoreID:                group.StoreID,
			StoreName:              group.StoreName,
			Resolved:               group.Resolved,
			LineCount:              len(group.Lines),
			SubtotalBase:           discount.SubtotalBase,
			SubtotalAfterPlatform:  discount.SubtotalAfterPlatform,
			PlatformDiscount:       discount.PlatformDiscount,
			StoreVoucherDiscount:   discount.StoreVoucherDiscount,
			ProductVoucherDiscount: discount.ProductVoucherDiscount,
			ShippingFee:            shippingFee,
			StoreGrandTotal:        computed,
			ComputedGrandTotal:     computed,
			AppliedStoreVoucher:    discount.AppliedStoreVoucher,
			AppliedProductVouchers: discount.AppliedProductVouchers,
			Shipping:               quote,
		}

		if in.Preview != nil {
			if preview, ok := in.Preview.Store(group.StoreID); ok {
				store.Adjustments = ReconcileStoreDiscount(discount, hasVoucherSelection(in.Selection, group), preview.StoreDiscount)
				store.StoreGrandTotal = preview.GrandTotal
				if diff := absInt64(preview.GrandTotal - computed); diff > c.tolerance {
					summary.Warnings = append(summary.Warnings, domain.Warning{
						Code:    domain.WarningPreviewMismatch,
						StoreID: group.StoreID,
						Message: fmt.Sprintf("Store total differs from the order service by %s.", textutil.FormatMoney(diff, currency)),
					})
				}
			}
		}

		summary.Notices = append(summary.Notices, discount.Notices...)
		if quote.Failed() {
			summary.Notices = append(summary.Notices, domain.Notice{
				Code:    domain.NoticeShippingUnavailable,
				StoreID: group.StoreID,
				Message: quote.Error,
			})
		}

		summary.OverallSubtotal += discount.SubtotalBase
		summary.OverallPlatformDiscount += discount.PlatformDiscount
		summary.OverallVoucherDiscount += discount.StoreVoucherDiscount + discount.ProductVoucherDiscount
		summary.OverallShipping += shippingFee
		summary.ComputedGrandTotal += computed
		summary.Stores = append(summary.Stores, store)
	}

	summary.OverallGrandTotal = summary.ComputedGrandTotal
	if in.Preview != nil {
		previewTotal := in.Preview.GrandTotal
		summary.PreviewGrandTotal = &previewTotal
		summary.OverallGrandTotal = previewTotal

		allowed := c.tolerance * int64(max(len(in.Groups), 1))
		if diff := absInt64(previewTotal - summary.ComputedGrandTotal); diff > allowed {
			summary.Warnings = append(summary.Warnings, domain.Warning{
				Code:    domain.WarningPreviewMismatch,
				Message: fmt.Sprintf("Order total differs from the order service by %s.", textutil.FormatMoney(diff, currency)),
			})
			c.logger(ctx, "pricing.preview_mismatch", map[string]any{
				"computed": summary.ComputedGrandTotal,
				"preview":  previewTotal,
				"diff":     diff,
			})
		}
	}

	return summary
}

// StoreGrandTotal is postPlatform − storeVoucher − productVoucher + shipping, never negative.
func StoreGrandTotal(discount StoreDiscount, shippingFee int64) int64 {
	total := discount.SubtotalAfterPlatform - discount.StoreVoucherDiscount - discount.ProductVoucherDiscount + shippingFee
	return max(total, 0)
}

// hasVoucherSelection reports whether the customer picked a store voucher for the group or a product
// voucher for any of its lines.
func hasVoucherSelection(selection VoucherSelection, group StoreGroup) bool {
	if _, ok := selection.StoreVoucher(group.StoreID); ok {
		return true
	}
	for _, line := range group.Lines {
		if _, ok := selection.ProductVoucher(line.ID); ok {
			return true
		}
	}
	return false
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
