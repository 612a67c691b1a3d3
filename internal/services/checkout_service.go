package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/marketcart/checkout-api/internal/domain"
)

var checkoutTracer = otel.Tracer("github.com/marketcart/checkout-api/internal/services")

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Products     ProductMetadataLookup
	Vouchers     *VoucherCatalogResolver
	Discounts    *DiscountEngine
	Shipping     *ShippingEstimator
	Compiler     *PricingCompiler
	Backend      CheckoutBackend
	Events       OrderEventPublisher
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
	NewRequestID func() string
}

type checkoutService struct {
	products     ProductMetadataLookup
	vouchers     *VoucherCatalogResolver
	discounts    *DiscountEngine
	shipping     *ShippingEstimator
	compiler     *PricingCompiler
	backend      CheckoutBackend
	events       OrderEventPublisher
	now          func() time.Time
	logger       func(ctx context.Context, event string, fields map[string]any)
	newRequestID func() string
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Products == nil {
		return nil, errors.New("checkout service: product metadata lookup is required")
	}
	if deps.Vouchers == nil {
		return nil, errors.New("checkout service: voucher resolver is required")
	}
	if deps.Discounts == nil {
		return nil, errors.New("checkout service: discount engine is required")
	}
	if deps.Shipping == nil {
		return nil, errors.New("checkout service: shipping estimator is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	compiler := deps.Compiler
	if compiler == nil {
		compiler = NewPricingCompiler(PricingCompilerDeps{Logger: logger})
	}
	newRequestID := deps.NewRequestID
	if newRequestID == nil {
		newRequestID = func() string {
			return ulid.MustNew(ulid.Timestamp(clock()), rand.Reader).String()
		}
	}

	return &checkoutService{
		products:  deps.Products,
		vouchers:  deps.Vouchers,
		discounts: deps.Discounts,
		shipping:  deps.Shipping,
		compiler:  compiler,
		backend:   deps.Backend,
		events:    deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:       logger,
		newRequestID: newRequestID,
	}, nil
}

// pricingRun keeps the intermediate outputs so preview and submission can rebuild the summary.
type pricingRun struct {
	snapshot CheckoutSnapshot
	groups   []StoreGroup
	input    CompileInput
	summary  CheckoutSummary
}

func (s *checkoutService) Summarize(ctx context.Context, cmd SummarizeCheckoutCommand) (CheckoutSummary, error) {
	ctx, span := checkoutTracer.Start(ctx, "checkout.Summarize")
	defer span.End()

	run, err := s.price(ctx, cmd.Snapshot)
	if err != nil {
		recordSpanError(span, err)
		return CheckoutSummary{}, err
	}
	return run.summary, nil
}

func (s *checkoutService) Preview(ctx context.Context, cmd SummarizeCheckoutCommand) (CheckoutSummary, error) {
	ctx, span := checkoutTracer.Start(ctx, "checkout.Preview")
	defer span.End()

	if s.backend == nil {
		return CheckoutSummary{}, fmt.Errorf("%w: order service is not configured", ErrCheckoutUnavailable)
	}
	run, err := s.price(ctx, cmd.Snapshot)
	if err != nil {
		recordSpanError(span, err)
		return CheckoutSummary{}, err
	}
	payload, err := s.payloadFor(run)
	if err != nil {
		recordSpanError(span, err)
		return CheckoutSummary{}, err
	}

	preview, err := s.backend.PreviewCheckout(ctx, payload)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return CheckoutSummary{}, ctxErr
		}
		s.logger(ctx, "checkout.preview_failed", map[string]any{"error": err.Error()})
		summary := run.summary
		summary.Warnings = append(summary.Warnings, domain.Warning{
			Code:    domain.WarningPreviewUnavailable,
			Message: "Totals could not be confirmed with the order service.",
		})
		return summary, nil
	}

	input := run.input
	input.Preview = &preview
	summary := s.compiler.Compile(ctx, input)
	span.SetAttributes(
		attribute.Int64("checkout.computed_total", summary.ComputedGrandTotal),
		attribute.Int64("checkout.preview_total", preview.GrandTotal),
	)
	return summary, nil
}

func (s *checkoutService) Submit(ctx context.Context, cmd SubmitOrderCommand) (SubmitOrderResult, error) {
	ctx, span := checkoutTracer.Start(ctx, "checkout.Submit")
	defer span.End()

	if s.backend == nil {
		return SubmitOrderResult{}, fmt.Errorf("%w: order service is not configured", ErrCheckoutUnavailable)
	}
	if cmd.Snapshot.Address == nil || strings.TrimSpace(cmd.Snapshot.Address.ID) == "" {
		return SubmitOrderResult{}, ErrCheckoutAddressRequired
	}

	run, err := s.price(ctx, cmd.Snapshot)
	if err != nil {
		recordSpanError(span, err)
		return SubmitOrderResult{}, err
	}
	payload, err := s.payloadFor(run)
	if err != nil {
		recordSpanError(span, err)
		return SubmitOrderResult{}, err
	}

	requestID := strings.TrimSpace(cmd.IdempotencyKey)
	if requestID == "" {
		requestID = s.newRequestID()
	}
	span.SetAttributes(attribute.String("checkout.request_id", requestID))

	result, err := s.backend.SubmitOrder(ctx, payload, requestID)
	if err != nil {
		subErr := categorizeSubmissionError(err)
		s.logger(ctx, "checkout.submission_failed", map[string]any{
			"requestId": requestID,
			"category":  string(subErr.Category),
			"status":    subErr.Status,
			"error":     err.Error(),
		})
		recordSpanError(span, subErr)
		return SubmitOrderResult{}, subErr
	}
	if result.RequestID == "" {
		result.RequestID = requestID
	}
	if result.SubmittedAt.IsZero() {
		result.SubmittedAt = s.now()
	}

	s.logger(ctx, "checkout.submitted", map[string]any{
		"requestId": result.RequestID,
		"orders":    len(result.Orders),
	})
	s.publishSubmitted(ctx, run, payload, result)

	return SubmitOrderResult{
		Summary: run.summary,
		Payload: payload,
		Result:  result,
	}, nil
}

func (s *checkoutService) price(ctx context.Context, snapshot CheckoutSnapshot) (pricingRun, error) {
	if err := validateSnapshot(snapshot); err != nil {
		return pricingRun{}, err
	}
	currency := strings.ToUpper(strings.TrimSpace(snapshot.Currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	lines := selectedLines(snapshot)

	metadata := map[string]ProductMetadata{}
	if refs := productRefs(lines); len(refs) > 0 {
		found, err := s.products.LookupProducts(ctx, refs)
		if err != nil {
			return pricingRun{}, fmt.Errorf("%w: product metadata: %v", ErrCheckoutUnavailable, err)
		}
		if found != nil {
			metadata = found
		}
	}

	groups := AggregateCart(lines, metadata)
	catalog, err := s.vouchers.Resolve(ctx, groups)
	if err != nil {
		return pricingRun{}, err
	}
	discounts := s.discounts.ApplyAll(ctx, groups, catalog, snapshot.Selection, currency)

	var shipping ShippingEstimate
	if snapshot.Address != nil && len(groups) > 0 {
		shipping, err = s.shipping.Estimate(ctx, groups, metadata, snapshot.Address)
		if err != nil {
			return pricingRun{}, err
		}
	}

	input := CompileInput{
		Currency:  currency,
		Groups:    groups,
		Discounts: discounts,
		Shipping:  shipping,
		Selection: snapshot.Selection,
	}
	return pricingRun{
		snapshot: snapshot,
		groups:   groups,
		input:    input,
		summary:  s.compiler.Compile(ctx, input),
	}, nil
}

func (s *checkoutService) payloadFor(run pricingRun) (OrderPayload, error) {
	addressID := ""
	if run.snapshot.Address != nil {
		addressID = run.snapshot.Address.ID
	}
	return BuildOrderPayload(OrderPayloadInput{
		Groups:          run.groups,
		SelectedLineIDs: run.snapshot.SelectedLineID,
		AddressID:       addressID,
		Summary:         run.summary,
	})
}

func (s *checkoutService) publishSubmitted(ctx context.Context, run pricingRun, payload OrderPayload, result SubmissionResult) {
	if s.events == nil {
		return
	}
	event := OrdersSubmittedEvent{
		RequestID:   result.RequestID,
		AddressID:   payload.AddressID,
		GrandTotal:  run.summary.OverallGrandTotal,
		Currency:    run.summary.Currency,
		SubmittedAt: result.SubmittedAt,
	}
	for _, order := range result.Orders {
		event.OrderIDs = append(event.OrderIDs, order.OrderID)
		event.StoreIDs = append(event.StoreIDs, order.StoreID)
	}
	if err := s.events.PublishOrdersSubmitted(ctx, event); err != nil {
		s.logger(ctx, "checkout.event_publish_failed", map[string]any{
			"requestId": result.RequestID,
			"error":     err.Error(),
		})
	}
}

func validateSnapshot(snapshot CheckoutSnapshot) error {
	seen := make(map[string]struct{}, len(snapshot.Lines))
	for i, line := range snapshot.Lines {
		id := strings.TrimSpace(line.ID)
		if id == "" {
			return fmt.Errorf("%w: line %d is missing an id", ErrCheckoutInvalidInput, i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate line id %s", ErrCheckoutInvalidInput, id)
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(line.ProductRef) == "" {
			return fmt.Errorf("%w: line %s is missing a product", ErrCheckoutInvalidInput, id)
		}
		if line.Quantity < 1 {
			return fmt.Errorf("%w: line %s quantity must be at least 1", ErrCheckoutInvalidInput, id)
		}
		if line.BaseUnitPrice < 0 {
			return fmt.Errorf("%w: line %s price must not be negative", ErrCheckoutInvalidInput, id)
		}
		if p := line.PlatformCampaignUnitPrice; p != nil && (*p < 0 || *p > line.BaseUnitPrice) {
			return fmt.Errorf("%w: line %s campaign price must be between 0 and the base price", ErrCheckoutInvalidInput, id)
		}
	}
	return nil
}

func selectedLines(snapshot CheckoutSnapshot) []CartLine {
	selected := selectedLineSet(snapshot.SelectedLineID)
	if selected == nil {
		return snapshot.Lines
	}
	lines := make([]CartLine, 0, len(selected))
	for _, line := range snapshot.Lines {
		if _, ok := selected[line.ID]; ok {
			lines = append(lines, line)
		}
	}
	return lines
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
