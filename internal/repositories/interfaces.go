package repositories

import (
	"context"

	domain "github.com/marketcart/checkout-api/internal/domain"
)

// ProductMetadataRepository resolves the store, weight and pickup origin of products.
type ProductMetadataRepository interface {
	LookupProducts(ctx context.Context, productRefs []string) (map[string]domain.ProductMetadata, error)
}

// HealthRepository probes downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
