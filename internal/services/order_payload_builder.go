package services

import (
	"fmt"
	"strings"

	domain "github.com/marketcart/checkout-api/internal/domain"
)

// OrderPayloadInput is what the builder serialises. SelectedLineIDs nil means every line.
type OrderPayloadInput struct {
	Groups          []StoreGroup
	SelectedLineIDs []string
	AddressID       string
	Summary         CheckoutSummary
}

// BuildOrderPayload serialises the priced selection into the order-creation request. Vouchers are
// sent by code, and each item carries exactly one of productId, variantId or comboId.
func BuildOrderPayload(in OrderPayloadInput) (OrderPayload, error) {
	addressID := strings.TrimSpace(in.AddressID)
	if addressID == "" {
		return OrderPayload{}, ErrCheckoutAddressRequired
	}

	selected := selectedLineSet(in.SelectedLineIDs)
	isSelected := func(lineID string) bool {
		if selected == nil {
			return true
		}
		_, ok := selected[lineID]
		return ok
	}

	payload := OrderPayload{
		AddressID:        addressID,
		Items:            []OrderItem{},
		StoreVouchers:    []StoreVoucherCodes{},
		PlatformVouchers: []PlatformVoucherUsage{},
		ServiceTypeIDs:   map[string]int{},
	}
	campaigns := newCampaignUsage()

	for _, group := range in.Groups {
		var lines []CartLine
		for _, line := range group.Lines {
			if isSelected(line.ID) {
				lines = append(lines, line)
			}
		}
		if len(lines) == 0 {
			continue
		}

		for _, line := range lines {
			item, err := orderItemFor(line)
			if err != nil {
				return OrderPayload{}, err
			}
			payload.Items = append(payload.Items, item)
			campaigns.add(line)
		}

		store, ok := in.Summary.Store(group.StoreID)
		if !ok {
			continue
		}
		if codes := appliedCodes(store, isSelected); len(codes) > 0 {
			payload.StoreVouchers = append(payload.StoreVouchers, StoreVoucherCodes{StoreID: group.StoreID, Codes: codes})
		}
		if store.Shipping.ServiceTypeID > 0 {
			payload.ServiceTypeIDs[group.StoreID] = store.Shipping.ServiceTypeID
		}
	}

	if len(payload.Items) == 0 {
		return OrderPayload{}, ErrCheckoutNothingSelected
	}
	payload.PlatformVouchers = campaigns.usages()
	return payload, nil
}

func orderItemFor(line CartLine) (OrderItem, error) {
	if line.Quantity < 1 {
		return OrderItem{}, fmt.Errorf("%w: line %s quantity must be positive", ErrCheckoutInvalidInput, line.ID)
	}
	item := OrderItem{Quantity: line.Quantity}
	switch line.Kind() {
	case domain.LineKindCombo:
		item.ComboID = line.ComboRef
	case domain.LineKindVariant:
		item.VariantID = line.VariantRef
	default:
		if strings.TrimSpace(line.ProductRef) == "" {
			return OrderItem{}, fmt.Errorf("%w: line %s has no product", ErrCheckoutInvalidInput, line.ID)
		}
		item.ProductID = line.ProductRef
	}
	return item, nil
}

func appliedCodes(store StoreSummary, isSelected func(string) bool) []string {
	seen := make(map[string]struct{})
	var codes []string
	add := func(code string) {
		code = strings.TrimSpace(code)
		if code == "" {
			return
		}
		if _, dup := seen[code]; dup {
			return
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	if store.AppliedStoreVoucher != nil {
		add(store.AppliedStoreVoucher.Code)
	}
	for _, applied := range store.AppliedProductVouchers {
		if isSelected(applied.LineID) {
			add(applied.Code)
		}
	}
	return codes
}

func selectedLineSet(ids []string) map[string]struct{} {
	if ids == nil {
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// campaignUsage sums claimed campaign units per campaign product. Each line claims at most its
// remaining quota and the total never exceeds the smallest remaining quota reported.
type campaignUsage struct {
	order     []string
	quantity  map[string]int
	remaining map[string]int
}

func newCampaignUsage() *campaignUsage {
	return &campaignUsage{
		quantity:  make(map[string]int),
		remaining: make(map[string]int),
	}
}

func (c *campaignUsage) add(line CartLine) {
	campaignID := strings.TrimSpace(line.CampaignProductID)
	if campaignID == "" || !line.CampaignActive() {
		return
	}
	qty := line.Quantity
	if line.CampaignRemainingUnits != nil {
		remaining := max(*line.CampaignRemainingUnits, 0)
		qty = min(qty, remaining)
		if current, ok := c.remaining[campaignID]; !ok || remaining < current {
			c.remaining[campaignID] = remaining
		}
	}
	if qty <= 0 {
		return
	}
	if _, ok := c.quantity[campaignID]; !ok {
		c.order = append(c.order, campaignID)
	}
	c.quantity[campaignID] += qty
}

func (c *campaignUsage) usages() []PlatformVoucherUsage {
	out := make([]PlatformVoucherUsage, 0, len(c.order))
	for _, id := range c.order {
		qty := c.quantity[id]
		if limit, ok := c.remaining[id]; ok {
			qty = min(qty, limit)
		}
		if qty <= 0 {
			continue
		}
		out = append(out, PlatformVoucherUsage{CampaignProductID: id, Quantity: qty})
	}
	return out
}
