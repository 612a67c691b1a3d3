package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/marketcart/checkout-api/internal/domain"
	pfirestore "github.com/marketcart/checkout-api/internal/platform/firestore"
	"github.com/marketcart/checkout-api/internal/repositories"
)

const productMetadataCollection = "productMetadata"

// ProductMetadataRepository reads the store, weight and pickup origin of catalog products.
type ProductMetadataRepository struct {
	base *pfirestore.BaseRepository[productMetadataDocument]
}

var _ repositories.ProductMetadataRepository = (*ProductMetadataRepository)(nil)

// NewProductMetadataRepository constructs a Firestore-backed metadata repository.
func NewProductMetadataRepository(provider *pfirestore.Provider) (*ProductMetadataRepository, error) {
	if provider == nil {
		return nil, errors.New("product metadata repository requires firestore provider")
	}
	return &ProductMetadataRepository{
		base: pfirestore.NewBaseRepository[productMetadataDocument](provider, productMetadataCollection, decodeProductMetadata),
	}, nil
}

// LookupProducts fetches metadata for refs in one batch. Unknown products are left out of the map.
func (r *ProductMetadataRepository) LookupProducts(ctx context.Context, refs []string) (map[string]domain.ProductMetadata, error) {
	docs, err := r.base.GetMany(ctx, refs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.ProductMetadata, len(docs))
	for id, doc := range docs {
		out[id] = doc.Data.toDomain(id)
	}
	return out, nil
}

// Save upserts the metadata of a product. Used by catalog sync jobs and tests.
func (r *ProductMetadataRepository) Save(ctx context.Context, meta domain.ProductMetadata) error {
	id := strings.TrimSpace(meta.ProductRef)
	if id == "" {
		return errors.New("product metadata: product ref is required")
	}
	return r.base.Set(ctx, id, newProductMetadataDocument(meta))
}

type productMetadataDocument struct {
	StoreID            string   `firestore:"storeId"`
	StoreName          string   `firestore:"storeName"`
	WeightKg           *float64 `firestore:"weightKg,omitempty"`
	OriginDistrictCode int64    `firestore:"originDistrictCode"`
	OriginWardCode     string   `firestore:"originWardCode"`
}

func decodeProductMetadata(snap *firestore.DocumentSnapshot) (productMetadataDocument, error) {
	var doc productMetadataDocument
	if err := snap.DataTo(&doc); err != nil {
		return productMetadataDocument{}, err
	}
	return doc, nil
}

func newProductMetadataDocument(meta domain.ProductMetadata) productMetadataDocument {
	return productMetadataDocument{
		StoreID:            strings.TrimSpace(meta.StoreID),
		StoreName:          strings.TrimSpace(meta.StoreName),
		WeightKg:           meta.WeightKg,
		OriginDistrictCode: int64(meta.OriginDistrictCode),
		OriginWardCode:     strings.TrimSpace(meta.OriginWardCode),
	}
}

func (d productMetadataDocument) toDomain(productRef string) domain.ProductMetadata {
	meta := domain.ProductMetadata{
		ProductRef:         productRef,
		StoreID:            strings.TrimSpace(d.StoreID),
		StoreName:          strings.TrimSpace(d.StoreName),
		OriginDistrictCode: int(d.OriginDistrictCode),
		OriginWardCode:     strings.TrimSpace(d.OriginWardCode),
	}
	if d.WeightKg != nil && *d.WeightKg > 0 {
		w := *d.WeightKg
		meta.WeightKg = &w
	}
	return meta
}
