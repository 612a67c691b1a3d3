package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/marketcart/checkout-api/internal/domain"
	"github.com/marketcart/checkout-api/internal/platform/textutil"
)

// MinOrderBasis selects which subtotal a voucher's minimum order value is compared against.
type MinOrderBasis string

const (
	// MinOrderBasisPrePlatform compares against the subtotal at base prices.
	MinOrderBasisPrePlatform MinOrderBasis = "pre_platform"
	// MinOrderBasisPostPlatform compares against the subtotal after platform campaign prices.
	MinOrderBasisPostPlatform MinOrderBasis = "post_platform"
)

var hundred = decimal.NewFromInt(100)

// ParseMinOrderBasis converts a configuration value, defaulting to pre-platform.
func ParseMinOrderBasis(value string) (MinOrderBasis, error) {
	switch MinOrderBasis(strings.ToLower(strings.TrimSpace(value))) {
	case "", MinOrderBasisPrePlatform:
		return MinOrderBasisPrePlatform, nil
	case MinOrderBasisPostPlatform:
		return MinOrderBasisPostPlatform, nil
	default:
		return "", fmt.Errorf("%w: unknown min order basis %q", ErrCheckoutInvalidInput, value)
	}
}

// DiscountEngineDeps configures the discount engine.
type DiscountEngineDeps struct {
	MinOrderBasis MinOrderBasis
	Now           func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

// DiscountEngine applies the platform, store-wide and product voucher layers to a store group.
// Store-wide and product discounts are computed against their own bases and added, never chained.
type DiscountEngine struct {
	basis  MinOrderBasis
	now    func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewDiscountEngine builds an engine, defaulting to the pre-platform eligibility basis.
func NewDiscountEngine(deps DiscountEngineDeps) (*DiscountEngine, error) {
	basis, err := ParseMinOrderBasis(string(deps.MinOrderBasis))
	if err != nil {
		return nil, err
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &DiscountEngine{
		basis:  basis,
		now:    func() time.Time { return now().UTC() },
		logger: logger,
	}, nil
}

// DiscountInput is the data needed to price one store group.
type DiscountInput struct {
	Group     StoreGroup
	Catalog   ResolvedCatalog
	Selection VoucherSelection
	Currency  string
}

// Apply prices one store group. Vouchers that cannot be applied produce notices, never errors.
func (e *DiscountEngine) Apply(ctx context.Context, in DiscountInput) StoreDiscount {
	now := e.now()
	result := StoreDiscount{StoreID: in.Group.StoreID}

	for _, line := range in.Group.Lines {
		qty := int64(line.Quantity)
		result.SubtotalBase += line.BaseUnitPrice * qty
		result.SubtotalAfterPlatform += line.EffectiveUnitPrice() * qty
	}
	result.PlatformDiscount = max(result.SubtotalBase-result.SubtotalAfterPlatform, 0)

	e.applyStoreVoucher(ctx, in, now, &result)
	e.applyProductVouchers(ctx, in, now, &result)

	return result
}

// ApplyAll prices every group in order.
func (e *DiscountEngine) ApplyAll(ctx context.Context, groups []StoreGroup, catalog ResolvedCatalog, selection VoucherSelection, currency string) []StoreDiscount {
	out := make([]StoreDiscount, 0, len(groups))
	for _, group := range groups {
		out = append(out, e.Apply(ctx, DiscountInput{
			Group:     group,
			Catalog:   catalog,
			Selection: selection,
			Currency:  currency,
		}))
	}
	return out
}

func (e *DiscountEngine) applyStoreVoucher(ctx context.Context, in DiscountInput, now time.Time, result *StoreDiscount) {
	storeID := in.Group.StoreID
	voucherID, ok := in.Selection.StoreVoucher(storeID)
	if !ok {
		return
	}

	voucher, found := findVoucher(in.Catalog.StoreVouchers(storeID), voucherID)
	if !found {
		code := domain.NoticeVoucherNotFound
		if other, exists := in.Catalog.Find(voucherID); exists && other.EffectiveScope() == domain.VoucherScopeProduct {
			code = domain.NoticeVoucherScopeMismatch
		}
		e.reject(ctx, result, domain.Notice{Code: code, StoreID: storeID, VoucherID: voucherID})
		return
	}
	if !IsVoucherActive(voucher, now) {
		e.reject(ctx, result, domain.Notice{Code: domain.NoticeVoucherInactive, StoreID: storeID, VoucherID: voucherID})
		return
	}

	eligibility := result.SubtotalBase
	if e.basis == MinOrderBasisPostPlatform {
		eligibility = result.SubtotalAfterPlatform
	}
	if !meetsMinOrder(voucher, eligibility) {
		e.reject(ctx, result, minOrderNotice(voucher, storeID, "", in.Currency))
		return
	}

	base := result.SubtotalAfterPlatform
	amount := VoucherDiscount(voucher, base)
	result.StoreVoucherDiscount = amount
	result.AppliedStoreVoucher = &AppliedVoucher{
		VoucherID: voucher.ID,
		Code:      voucher.Code,
		Scope:     domain.VoucherScopeStoreWide,
		Base:      base,
		Amount:    amount,
	}
}

func (e *DiscountEngine) applyProductVouchers(ctx context.Context, in DiscountInput, now time.Time, result *StoreDiscount) {
	storeID := in.Group.StoreID
	for _, line := range in.Group.Lines {
		voucherID, ok := in.Selection.ProductVoucher(line.ID)
		if !ok {
			continue
		}

		voucher, found := findVoucher(in.Catalog.LineVouchers(line.ID), voucherID)
		if !found {
			code := domain.NoticeVoucherNotFound
			if other, exists := in.Catalog.Find(voucherID); exists && other.EffectiveScope() == domain.VoucherScopeStoreWide {
				code = domain.NoticeVoucherScopeMismatch
			}
			e.reject(ctx, result, domain.Notice{Code: code, StoreID: storeID, LineID: line.ID, VoucherID: voucherID})
			continue
		}
		if !IsVoucherActive(voucher, now) {
			e.reject(ctx, result, domain.Notice{Code: domain.NoticeVoucherInactive, StoreID: storeID, LineID: line.ID, VoucherID: voucherID})
			continue
		}

		qty := int64(line.Quantity)
		base := line.BaseUnitPrice * qty
		if line.CampaignActive() {
			base = *line.PlatformCampaignUnitPrice * qty
		}
		eligibility := line.BaseUnitPrice * qty
		if e.basis == MinOrderBasisPostPlatform {
			eligibility = base
		}
		if !meetsMinOrder(voucher, eligibility) {
			e.reject(ctx, result, minOrderNotice(voucher, storeID, line.ID, in.Currency))
			continue
		}

		amount := VoucherDiscount(voucher, base)
		result.ProductVoucherDiscount += amount
		result.AppliedProductVouchers = append(result.AppliedProductVouchers, AppliedVoucher{
			VoucherID: voucher.ID,
			Code:      voucher.Code,
			Scope:     domain.VoucherScopeProduct,
			LineID:    line.ID,
			Base:      base,
			Amount:    amount,
		})
	}
}

func (e *DiscountEngine) reject(ctx context.Context, result *StoreDiscount, notice Notice) {
	if notice.Message == "" {
		notice.Message = defaultNoticeMessage(notice.Code)
	}
	result.Notices = append(result.Notices, notice)
	e.logger(ctx, "discount.voucher_rejected", map[string]any{
		"storeId":   notice.StoreID,
		"lineId":    notice.LineID,
		"voucherId": notice.VoucherID,
		"reason":    notice.Code,
	})
}

// VoucherDiscount computes the discount a voucher grants on base. The amount is rounded half away
// from zero to whole currency units and always lies within [0, base].
func VoucherDiscount(v Voucher, base int64) int64 {
	if base <= 0 {
		return 0
	}
	var amount int64
	switch v.Kind {
	case domain.VoucherKindPercent:
		if v.PercentValue == nil || *v.PercentValue <= 0 {
			return 0
		}
		raw := decimal.NewFromInt(base).Mul(decimal.NewFromFloat(*v.PercentValue)).Div(hundred).Round(0)
		if v.MaxDiscountValue != nil && *v.MaxDiscountValue >= 0 {
			raw = decimal.Min(raw, decimal.NewFromInt(*v.MaxDiscountValue))
		}
		amount = raw.IntPart()
	case domain.VoucherKindFixed:
		if v.FixedValue == nil {
			return 0
		}
		amount = *v.FixedValue
	default:
		return 0
	}
	return min(max(amount, 0), base)
}

func meetsMinOrder(v Voucher, eligibility int64) bool {
	return v.MinOrderValue == nil || eligibility >= *v.MinOrderValue
}

func findVoucher(vouchers []Voucher, voucherID string) (Voucher, bool) {
	for _, v := range vouchers {
		if v.ID == voucherID {
			return v, true
		}
	}
	return Voucher{}, false
}

func minOrderNotice(v Voucher, storeID, lineID, currency string) Notice {
	return Notice{
		Code:      domain.NoticeMinOrderNotMet,
		StoreID:   storeID,
		LineID:    lineID,
		VoucherID: v.ID,
		Message: fmt.Sprintf("Voucher %s requires a minimum order of %s.",
			v.Code, textutil.FormatMoney(*v.MinOrderValue, currency)),
	}
}

func defaultNoticeMessage(code string) string {
	switch code {
	case domain.NoticeVoucherNotFound:
		return "The selected voucher is no longer offered."
	case domain.NoticeVoucherInactive:
		return "The selected voucher is not active."
	case domain.NoticeVoucherScopeMismatch:
		return "The selected voucher does not apply here."
	default:
		return ""
	}
}
