package firestore

import (
	"context"
	"os"
	"testing"
	"time"

	domain "github.com/marketcart/checkout-api/internal/domain"
	"github.com/marketcart/checkout-api/internal/platform/config"
	pfirestore "github.com/marketcart/checkout-api/internal/platform/firestore"
)

func newEmulatorProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(config.FirestoreConfig{ProjectID: "checkout-test", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close() })
	return provider
}

func TestProductMetadataRepository_LookupProducts(t *testing.T) {
	provider := newEmulatorProvider(t)
	repo, err := NewProductMetadataRepository(provider)
	if err != nil {
		t.Fatalf("NewProductMetadataRepository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	weight := 0.75
	seed := []domain.ProductMetadata{
		{ProductRef: "prod-a", StoreID: "s1", StoreName: "Store One", WeightKg: &weight, OriginDistrictCode: 1454, OriginWardCode: "21211"},
		{ProductRef: "prod-b", StoreID: "s2", StoreName: "Store Two"},
	}
	for _, meta := range seed {
		if err := repo.Save(ctx, meta); err != nil {
			t.Fatalf("Save(%s): %v", meta.ProductRef, err)
		}
	}

	got, err := repo.LookupProducts(ctx, []string{"prod-a", "prod-b", "prod-missing", "prod-a"})
	if err != nil {
		t.Fatalf("LookupProducts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 products, got %d", len(got))
	}
	a := got["prod-a"]
	if a.StoreID != "s1" || a.WeightKg == nil || *a.WeightKg != weight || !a.HasOrigin() {
		t.Fatalf("unexpected prod-a metadata: %+v", a)
	}
	if b := got["prod-b"]; b.WeightKg != nil || b.HasOrigin() {
		t.Fatalf("unexpected prod-b metadata: %+v", b)
	}
}

func TestNewProductMetadataRepository_RequiresProvider(t *testing.T) {
	if _, err := NewProductMetadataRepository(nil); err == nil {
		t.Fatalf("expected error without provider")
	}
}

func TestProductMetadataDocument_ToDomain(t *testing.T) {
	zero := 0.0
	doc := productMetadataDocument{StoreID: " s1 ", WeightKg: &zero, OriginDistrictCode: 1442, OriginWardCode: "20109"}
	meta := doc.toDomain("prod-z")
	if meta.ProductRef != "prod-z" || meta.StoreID != "s1" {
		t.Fatalf("unexpected identity: %+v", meta)
	}
	if meta.WeightKg != nil {
		t.Fatalf("non-positive weight should be treated as unknown")
	}
	if meta.OriginDistrictCode != 1442 {
		t.Fatalf("unexpected district: %d", meta.OriginDistrictCode)
	}
}
