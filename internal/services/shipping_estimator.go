package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/sync/errgroup"

	domain "github.com/marketcart/checkout-api/internal/domain"
)

const (
	// LightTierMaxGrams is the heaviest package still shipped with the light service.
	LightTierMaxGrams int64 = 7500

	defaultUnknownWeightKg     = 0.5
	defaultPackageLengthCm     = 20
	defaultPackageWidthCm      = 20
	defaultPackageHeightCm     = 10
	defaultLightServiceTypeID  = 2
	defaultHeavyServiceTypeID  = 5
	defaultShippingQuoteTTL    = 5 * time.Minute
	defaultShippingConcurrency = 8

	shippingMetricNamespace = "github.com/marketcart/checkout-api/internal/services/shipping"
)

var gramsPerKg = decimal.NewFromInt(1000)

// TierForWeight maps a package weight to its carrier service tier.
func TierForWeight(weightGrams int64) domain.ServiceTier {
	if weightGrams <= LightTierMaxGrams {
		return domain.ServiceTierLight
	}
	return domain.ServiceTierHeavy
}

// PackageWeightGrams returns ceil(Σ weightKg × qty × 1000). Products without a known weight count
// as half a kilogram.
func PackageWeightGrams(lines []CartLine, metadata map[string]ProductMetadata) int64 {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(unitWeightKg(line, metadata).Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total.Mul(gramsPerKg).Ceil().IntPart()
}

func unitWeightKg(line CartLine, metadata map[string]ProductMetadata) decimal.Decimal {
	if meta, ok := metadata[line.ProductRef]; ok && meta.WeightKg != nil && *meta.WeightKg > 0 {
		return decimal.NewFromFloat(*meta.WeightKg)
	}
	return decimal.NewFromFloat(defaultUnknownWeightKg)
}

// ShippingEstimatorDeps wires the shipping estimator.
type ShippingEstimatorDeps struct {
	Carrier            CarrierQuoter
	Addresses          StoreAddressLookup
	Cache              ShippingQuoteCache
	CacheTTL           time.Duration
	LightServiceTypeID int
	HeavyServiceTypeID int
	Concurrency        int
	Meter              metric.Meter
	Now                func() time.Time
	Logger             func(ctx context.Context, event string, fields map[string]any)
}

// ShippingEstimator quotes carrier fees for every store group concurrently.
type ShippingEstimator struct {
	carrier     CarrierQuoter
	addresses   StoreAddressLookup
	cache       ShippingQuoteCache
	lightTypeID int
	heavyTypeID int
	concurrency int
	now         func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
	latency     metric.Float64Histogram
	failures    metric.Int64Counter
}

// ShippingEstimate holds per-store quotes and a combined message for failed stores.
type ShippingEstimate struct {
	Quotes map[string]ShippingQuote
	Error  string
}

// NewShippingEstimator validates dependencies and registers quote metrics.
func NewShippingEstimator(deps ShippingEstimatorDeps) (*ShippingEstimator, error) {
	if deps.Carrier == nil {
		return nil, errors.New("shipping estimator: carrier is required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	cache := deps.Cache
	if cache == nil {
		cache = NewMemoryQuoteCache(deps.CacheTTL, now)
	}
	light := deps.LightServiceTypeID
	if light <= 0 {
		light = defaultLightServiceTypeID
	}
	heavy := deps.HeavyServiceTypeID
	if heavy <= 0 {
		heavy = defaultHeavyServiceTypeID
	}
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = defaultShippingConcurrency
	}

	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(shippingMetricNamespace)
	}
	var latency metric.Float64Histogram = noop.Float64Histogram{}
	if h, err := meter.Float64Histogram(
		"checkout.shipping.quote.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for carrier fee quotes"),
	); err == nil {
		latency = h
	} else {
		logger(context.Background(), "shipping.metric_register_failed", map[string]any{"metric": "latency", "error": err.Error()})
	}
	var failures metric.Int64Counter = noop.Int64Counter{}
	if c, err := meter.Int64Counter(
		"checkout.shipping.quote.failures",
		metric.WithDescription("Count of carrier fee quotes that failed"),
	); err == nil {
		failures = c
	} else {
		logger(context.Background(), "shipping.metric_register_failed", map[string]any{"metric": "failures", "error": err.Error()})
	}

	return &ShippingEstimator{
		carrier:     deps.Carrier,
		addresses:   deps.Addresses,
		cache:       cache,
		lightTypeID: light,
		heavyTypeID: heavy,
		concurrency: concurrency,
		now:         func() time.Time { return now().UTC() },
		logger:      logger,
		latency:     latency,
		failures:    failures,
	}, nil
}

// ServiceTypeID returns the carrier service type configured for the tier.
func (s *ShippingEstimator) ServiceTypeID(tier domain.ServiceTier) int {
	if tier == domain.ServiceTierHeavy {
		return s.heavyTypeID
	}
	return s.lightTypeID
}

// Estimate quotes every group against the destination. One store's failure never affects the
// others; the returned error is reserved for cancellation and invalid destinations.
func (s *ShippingEstimator) Estimate(ctx context.Context, groups []StoreGroup, metadata map[string]ProductMetadata, dest *Address) (ShippingEstimate, error) {
	if dest == nil {
		return ShippingEstimate{}, ErrCheckoutAddressRequired
	}
	to := Origin{DistrictCode: dest.DistrictCode, WardCode: strings.TrimSpace(dest.WardCode)}
	if !to.Valid() {
		return ShippingEstimate{}, fmt.Errorf("%w: destination district and ward codes are required", ErrCheckoutInvalidInput)
	}

	quotes := make([]ShippingQuote, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, group := range groups {
		g.Go(func() error {
			quotes[i] = s.quoteGroup(gctx, group, metadata, to)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return ShippingEstimate{}, err
	}

	out := ShippingEstimate{Quotes: make(map[string]ShippingQuote, len(groups))}
	var failed []string
	for i, group := range groups {
		out.Quotes[group.StoreID] = quotes[i]
		if quotes[i].Failed() {
			label := group.StoreName
			if label == "" {
				label = group.StoreID
			}
			failed = append(failed, fmt.Sprintf("%s: %s", label, quotes[i].Error))
		}
	}
	if len(failed) > 0 {
		out.Error = "Shipping could not be calculated for " + strings.Join(failed, "; ")
	}
	return out, nil
}

func (s *ShippingEstimator) quoteGroup(ctx context.Context, group StoreGroup, metadata map[string]ProductMetadata, to Origin) ShippingQuote {
	weight := PackageWeightGrams(group.Lines, metadata)
	tier := TierForWeight(weight)
	quote := ShippingQuote{
		StoreID:       group.StoreID,
		ServiceTier:   tier,
		ServiceTypeID: s.ServiceTypeID(tier),
		WeightGrams:   weight,
	}

	from, ok := s.resolveOrigin(ctx, group, metadata)
	if !ok {
		quote.Error = "store pickup address is unavailable"
		quote.ErrorCode = domain.ShippingErrorMissingOrigin
		s.logger(ctx, "shipping.origin_missing", map[string]any{"storeId": group.StoreID})
		return quote
	}
	quote.OriginResolved = true

	key := shippingCacheKey(from, to, weight, quote.ServiceTypeID)
	if fee, hit := s.cache.Get(ctx, key); hit {
		quote.FeeAmount = fee
		return quote
	}

	req := CarrierFeeRequest{
		ServiceTypeID: quote.ServiceTypeID,
		From:          from,
		To:            to,
		WeightGrams:   weight,
		Items:         carrierItems(group.Lines, metadata),
	}
	start := time.Now()
	fee, err := s.carrier.QuoteFee(ctx, req)
	s.recordLatency(ctx, time.Since(start), tier, err)

	switch {
	case err == nil:
		quote.FeeAmount = max(fee, 0)
		s.cache.Put(ctx, key, quote.FeeAmount)
	case errors.Is(err, ErrCarrierServiceNotOffered):
		quote.FeeAmount = 0
		s.cache.Put(ctx, key, 0)
	default:
		quote.Error = "carrier fee quote failed"
		quote.ErrorCode = domain.ShippingErrorQuoteFailed
		s.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", string(tier))))
		s.logger(ctx, "shipping.quote_failed", map[string]any{
			"storeId": group.StoreID,
			"weight":  weight,
			"error":   err.Error(),
		})
	}
	return quote
}

// resolveOrigin tries the store's default address first and falls back to the origin codes on the
// first line's product metadata.
func (s *ShippingEstimator) resolveOrigin(ctx context.Context, group StoreGroup, metadata map[string]ProductMetadata) (Origin, bool) {
	if s.addresses != nil {
		for _, ref := range productRefs(group.Lines) {
			origin, err := s.addresses.DefaultOrigin(ctx, ref)
			if err == nil && origin.Valid() {
				return origin, true
			}
			if err != nil && !errors.Is(err, ErrMarketplaceNotFound) {
				s.logger(ctx, "shipping.store_address_failed", map[string]any{
					"storeId":    group.StoreID,
					"productRef": ref,
					"error":      err.Error(),
				})
			}
		}
	}
	if len(group.Lines) == 0 {
		return Origin{}, false
	}
	meta, ok := metadata[group.Lines[0].ProductRef]
	if !ok || !meta.HasOrigin() {
		return Origin{}, false
	}
	return Origin{DistrictCode: meta.OriginDistrictCode, WardCode: meta.OriginWardCode}, true
}

func (s *ShippingEstimator) recordLatency(ctx context.Context, d time.Duration, tier domain.ServiceTier, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("tier", string(tier)),
		attribute.Bool("error", err != nil && !errors.Is(err, ErrCarrierServiceNotOffered)),
	}
	s.latency.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(attrs...))
}

func carrierItems(lines []CartLine, metadata map[string]ProductMetadata) []CarrierItem {
	items := make([]CarrierItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, CarrierItem{
			Name:        line.ProductRef,
			Quantity:    line.Quantity,
			WeightGrams: unitWeightKg(line, metadata).Mul(gramsPerKg).Ceil().IntPart(),
			LengthCm:    defaultPackageLengthCm,
			WidthCm:     defaultPackageWidthCm,
			HeightCm:    defaultPackageHeightCm,
		})
	}
	return items
}
