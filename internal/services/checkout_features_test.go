package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"

	domain "github.com/marketcart/checkout-api/internal/domain"
)

type checkoutTestContext struct {
	products  *fakeProductLookup
	catalog   *fakeVoucherCatalog
	carrier   *fakeCarrier
	snapshot  CheckoutSnapshot
	districts map[string]int
	unserved  map[int]bool
	fee       int64
	summary   CheckoutSummary
	err       error
}

func (c *checkoutTestContext) reset() {
	c.products = &fakeProductLookup{metadata: map[string]ProductMetadata{}}
	c.catalog = &fakeVoucherCatalog{products: map[string]ProductVouchers{}, stores: map[string][]Voucher{}}
	c.districts = map[string]int{}
	c.unserved = map[int]bool{}
	c.fee = 0
	c.snapshot = CheckoutSnapshot{Currency: "VND"}
	c.summary = CheckoutSummary{}
	c.err = nil
	c.carrier = &fakeCarrier{fn: func(req CarrierFeeRequest) (int64, error) {
		if c.unserved[req.From.DistrictCode] {
			return 0, ErrCarrierServiceNotOffered
		}
		return c.fee, nil
	}}
}

// storeDistrict gives each store its own pickup district so carrier behavior can differ per store.
func (c *checkoutTestContext) storeDistrict(storeID string) int {
	if d, ok := c.districts[storeID]; ok {
		return d
	}
	d := 1000 + len(c.districts)
	c.districts[storeID] = d
	return d
}

func (c *checkoutTestContext) theCarrierChargesPerStore(fee int) error {
	c.fee = int64(fee)
	return nil
}

func (c *checkoutTestContext) theCarrierDoesNotServeStore(storeID string) error {
	c.unserved[c.storeDistrict(storeID)] = true
	return nil
}

func (c *checkoutTestContext) theCartLines(table *godog.Table) error {
	for i, row := range table.Rows {
		if i == 0 {
			continue // header
		}
		if len(row.Cells) < 7 {
			return fmt.Errorf("row %d: expected 7 cells, got %d", i, len(row.Cells))
		}
		cell := func(n int) string { return strings.TrimSpace(row.Cells[n].Value) }

		qty, err := strconv.Atoi(cell(3))
		if err != nil {
			return fmt.Errorf("row %d quantity: %w", i, err)
		}
		base, err := strconv.ParseInt(cell(4), 10, 64)
		if err != nil {
			return fmt.Errorf("row %d base: %w", i, err)
		}
		line := CartLine{ID: cell(0), ProductRef: cell(1), Quantity: qty, BaseUnitPrice: base}
		if campaign := cell(5); campaign != "" {
			price, err := strconv.ParseInt(campaign, 10, 64)
			if err != nil {
				return fmt.Errorf("row %d campaign: %w", i, err)
			}
			line.PlatformCampaignUnitPrice = &price
			line.InPlatformCampaign = true
			line.CampaignProductID = "camp-" + line.ProductRef
		}
		line.CampaignQuotaExceeded = cell(6) == "true"
		c.snapshot.Lines = append(c.snapshot.Lines, line)

		storeID := cell(2)
		c.products.metadata[line.ProductRef] = ProductMetadata{
			ProductRef:         line.ProductRef,
			StoreID:            storeID,
			StoreName:          strings.ToUpper(storeID),
			WeightKg:           float64Ptr(0.5),
			OriginDistrictCode: c.storeDistrict(storeID),
			OriginWardCode:     "w-" + storeID,
		}
	}
	return nil
}

func (c *checkoutTestContext) storeOffersCappedPercentVoucher(storeID, voucherID string, pct, maxDiscount int) error {
	c.catalog.stores[storeID] = append(c.catalog.stores[storeID], percentVoucher(voucherID, float64(pct), int64Ptr(int64(maxDiscount)), nil))
	return nil
}

func (c *checkoutTestContext) storeOffersPercentVoucherWithMinimum(storeID, voucherID string, pct, minOrder int) error {
	c.catalog.stores[storeID] = append(c.catalog.stores[storeID], percentVoucher(voucherID, float64(pct), nil, int64Ptr(int64(minOrder))))
	return nil
}

func (c *checkoutTestContext) storeOffersFixedVoucher(storeID, voucherID string, amount int) error {
	c.catalog.stores[storeID] = append(c.catalog.stores[storeID], fixedVoucher(voucherID, domain.VoucherScopeStoreWide, int64(amount)))
	return nil
}

func (c *checkoutTestContext) productOffersPercentVoucher(productRef, voucherID string, pct int) error {
	v := percentVoucher(voucherID, float64(pct), nil, nil)
	v.Scope = domain.VoucherScopeProduct
	v.ProductRef = productRef
	vouchers := c.catalog.products[productRef]
	vouchers.Store = append(vouchers.Store, v)
	c.catalog.products[productRef] = vouchers
	return nil
}

func (c *checkoutTestContext) theShopperSelectsStoreVoucher(voucherID, storeID string) error {
	c.snapshot.Selection = c.snapshot.Selection.WithStore(storeID, voucherID)
	return nil
}

func (c *checkoutTestContext) theShopperSelectsProductVoucher(voucherID, lineID string) error {
	c.snapshot.Selection = c.snapshot.Selection.WithProduct(lineID, voucherID)
	return nil
}

func (c *checkoutTestContext) theShippingAddressIs(district int, ward string) error {
	c.snapshot.Address = &Address{ID: "addr-1", DistrictCode: district, WardCode: ward}
	return nil
}

func (c *checkoutTestContext) theCheckoutIsSummarized() error {
	clock := func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) }
	resolver, err := NewVoucherCatalogResolver(VoucherCatalogResolverDeps{Catalog: c.catalog, Now: clock})
	if err != nil {
		return err
	}
	engine, err := NewDiscountEngine(DiscountEngineDeps{Now: clock})
	if err != nil {
		return err
	}
	estimator, err := NewShippingEstimator(ShippingEstimatorDeps{Carrier: c.carrier, Now: clock})
	if err != nil {
		return err
	}
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Products:  c.products,
		Vouchers:  resolver,
		Discounts: engine,
		Shipping:  estimator,
		Clock:     clock,
	})
	if err != nil {
		return err
	}
	c.summary, c.err = svc.Summarize(context.Background(), SummarizeCheckoutCommand{Snapshot: c.snapshot})
	return nil
}

func (c *checkoutTestContext) store(storeID string) (StoreSummary, error) {
	if c.err != nil {
		return StoreSummary{}, fmt.Errorf("expected summary but got error: %v", c.err)
	}
	store, ok := c.summary.Store(storeID)
	if !ok {
		return StoreSummary{}, fmt.Errorf("store %s missing from summary", storeID)
	}
	return store, nil
}

func (c *checkoutTestContext) storeAmountIs(field func(StoreSummary) int64, label string) func(string, int) error {
	return func(storeID string, want int) error {
		store, err := c.store(storeID)
		if err != nil {
			return err
		}
		if got := field(store); got != int64(want) {
			return fmt.Errorf("store %s %s: expected %d, got %d", storeID, label, want, got)
		}
		return nil
	}
}

func (c *checkoutTestContext) storeHasNotice(storeID, code string) error {
	if c.err != nil {
		return fmt.Errorf("expected summary but got error: %v", c.err)
	}
	for _, notice := range c.summary.Notices {
		if notice.StoreID == storeID && string(notice.Code) == code {
			return nil
		}
	}
	return fmt.Errorf("no %s notice for store %s in %+v", code, storeID, c.summary.Notices)
}

func (c *checkoutTestContext) theOverallGrandTotalIs(want int) error {
	if c.err != nil {
		return fmt.Errorf("expected summary but got error: %v", c.err)
	}
	if c.summary.OverallGrandTotal != int64(want) {
		return fmt.Errorf("overall grand total: expected %d, got %d", want, c.summary.OverallGrandTotal)
	}
	return nil
}

func (c *checkoutTestContext) theCheckoutSucceeds() error {
	if c.err != nil {
		return fmt.Errorf("expected success but got error: %v", c.err)
	}
	return nil
}

func (c *checkoutTestContext) noShippingErrorIsReported() error {
	if c.summary.ShippingError != "" {
		return fmt.Errorf("unexpected shipping error: %s", c.summary.ShippingError)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &checkoutTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^the carrier charges (\d+) per store$`, tc.theCarrierChargesPerStore)
	ctx.Step(`^the carrier does not serve store "([^"]*)"$`, tc.theCarrierDoesNotServeStore)
	ctx.Step(`^the cart lines:$`, tc.theCartLines)
	ctx.Step(`^store "([^"]*)" offers a percent voucher "([^"]*)" of (\d+) percent capped at (\d+)$`, tc.storeOffersCappedPercentVoucher)
	ctx.Step(`^store "([^"]*)" offers a percent voucher "([^"]*)" of (\d+) percent with a minimum order of (\d+)$`, tc.storeOffersPercentVoucherWithMinimum)
	ctx.Step(`^store "([^"]*)" offers a fixed voucher "([^"]*)" of (\d+)$`, tc.storeOffersFixedVoucher)
	ctx.Step(`^product "([^"]*)" offers a percent voucher "([^"]*)" of (\d+) percent$`, tc.productOffersPercentVoucher)
	ctx.Step(`^the shopper selects store voucher "([^"]*)" for store "([^"]*)"$`, tc.theShopperSelectsStoreVoucher)
	ctx.Step(`^the shopper selects product voucher "([^"]*)" for line "([^"]*)"$`, tc.theShopperSelectsProductVoucher)
	ctx.Step(`^the shipping address is district (\d+) ward "([^"]*)"$`, tc.theShippingAddressIs)

	// When steps
	ctx.Step(`^the checkout is summarized$`, tc.theCheckoutIsSummarized)

	// Then steps
	ctx.Step(`^the checkout succeeds$`, tc.theCheckoutSucceeds)
	ctx.Step(`^store "([^"]*)" has a store voucher discount of (\d+)$`, tc.storeAmountIs(func(s StoreSummary) int64 { return s.StoreVoucherDiscount }, "store voucher discount"))
	ctx.Step(`^store "([^"]*)" has a product voucher discount of (\d+)$`, tc.storeAmountIs(func(s StoreSummary) int64 { return s.ProductVoucherDiscount }, "product voucher discount"))
	ctx.Step(`^store "([^"]*)" has a shipping fee of (\d+)$`, tc.storeAmountIs(func(s StoreSummary) int64 { return s.ShippingFee }, "shipping fee"))
	ctx.Step(`^store "([^"]*)" has a grand total of (\d+)$`, tc.storeAmountIs(func(s StoreSummary) int64 { return s.StoreGrandTotal }, "grand total"))
	ctx.Step(`^store "([^"]*)" has a subtotal after campaign of (\d+)$`, tc.storeAmountIs(func(s StoreSummary) int64 { return s.SubtotalAfterPlatform }, "subtotal after campaign"))
	ctx.Step(`^store "([^"]*)" has a platform discount of (\d+)$`, tc.storeAmountIs(func(s StoreSummary) int64 { return s.PlatformDiscount }, "platform discount"))
	ctx.Step(`^store "([^"]*)" has notice "([^"]*)"$`, tc.storeHasNotice)
	ctx.Step(`^the overall grand total is (\d+)$`, tc.theOverallGrandTotalIs)
	ctx.Step(`^no shipping error is reported$`, tc.noShippingErrorIsReported)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"testdata/features/checkout_pricing.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
