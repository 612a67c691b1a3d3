package services

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/marketcart/checkout-api/internal/domain"
)

var storeNamePolicy = bluemonday.StrictPolicy()

// AggregateCart groups cart lines by owning store. Stores appear in order of first appearance and
// lines keep cart order inside a group. A line whose product has no metadata lands in its own
// unresolved group keyed "unknown-{productRef}"; no line is dropped.
func AggregateCart(lines []CartLine, metadata map[string]ProductMetadata) []StoreGroup {
	if len(lines) == 0 {
		return nil
	}

	groups := make([]StoreGroup, 0, len(lines))
	index := make(map[string]int, len(lines))

	for _, line := range lines {
		storeID, storeName, resolved := storeForLine(line, metadata)
		pos, ok := index[storeID]
		if !ok {
			pos = len(groups)
			index[storeID] = pos
			groups = append(groups, StoreGroup{
				StoreID:   storeID,
				StoreName: storeName,
				Resolved:  resolved,
			})
		}
		groups[pos].Lines = append(groups[pos].Lines, line)
	}

	return groups
}

func storeForLine(line CartLine, metadata map[string]ProductMetadata) (string, string, bool) {
	meta, ok := metadata[line.ProductRef]
	storeID := strings.TrimSpace(meta.StoreID)
	if !ok || storeID == "" {
		return domain.UnknownStorePrefix + line.ProductRef, "", false
	}
	return storeID, sanitizeStoreName(meta.StoreName), true
}

func sanitizeStoreName(name string) string {
	return strings.TrimSpace(storeNamePolicy.Sanitize(name))
}

// productRefs returns the distinct product references of the lines in cart order.
func productRefs(lines []CartLine) []string {
	seen := make(map[string]struct{}, len(lines))
	refs := make([]string, 0, len(lines))
	for _, line := range lines {
		ref := strings.TrimSpace(line.ProductRef)
		if ref == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	return refs
}
