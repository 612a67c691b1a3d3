package domain

// DefaultCurrency is the currency used when a cart snapshot does not declare one.
const DefaultCurrency = "VND"

// UnknownStorePrefix prefixes the synthetic store id given to lines whose product has no metadata.
const UnknownStorePrefix = "unknown-"

// CartLine is one row of the customer's cart as delivered by the cart store.
type CartLine struct {
	ID                        string
	ProductRef                string
	VariantRef                string
	ComboRef                  string
	Quantity                  int
	BaseUnitPrice             int64
	ServerUnitPrice           *int64
	PlatformCampaignUnitPrice *int64
	InPlatformCampaign        bool
	CampaignQuotaExceeded     bool
	CampaignRemainingUnits    *int
	CampaignProductID         string
}

// LineKind identifies which catalog entity a cart line refers to.
type LineKind string

const (
	// LineKindProduct is a plain product line.
	LineKindProduct LineKind = "product"
	// LineKindVariant is a line pinned to a product variant.
	LineKindVariant LineKind = "variant"
	// LineKindCombo is a bundle line.
	LineKindCombo LineKind = "combo"
)

// Kind reports the catalog entity the line refers to. Combo wins over variant.
func (l CartLine) Kind() LineKind {
	switch {
	case l.ComboRef != "":
		return LineKindCombo
	case l.VariantRef != "":
		return LineKindVariant
	default:
		return LineKindProduct
	}
}

// CampaignActive reports whether the platform campaign price applies to the line.
func (l CartLine) CampaignActive() bool {
	return l.InPlatformCampaign && !l.CampaignQuotaExceeded && l.PlatformCampaignUnitPrice != nil
}

// EffectiveUnitPrice returns the unit price after the platform layer.
func (l CartLine) EffectiveUnitPrice() int64 {
	if l.CampaignActive() {
		return *l.PlatformCampaignUnitPrice
	}
	if l.ServerUnitPrice != nil && *l.ServerUnitPrice >= 0 && *l.ServerUnitPrice <= l.BaseUnitPrice {
		return *l.ServerUnitPrice
	}
	return l.BaseUnitPrice
}

// ProductMetadata describes the owning store and physical attributes of a product.
type ProductMetadata struct {
	ProductRef         string
	StoreID            string
	StoreName          string
	WeightKg           *float64
	OriginDistrictCode int
	OriginWardCode     string
}

// HasOrigin reports whether the metadata carries usable origin codes.
func (m ProductMetadata) HasOrigin() bool {
	return m.OriginDistrictCode > 0 && m.OriginWardCode != ""
}

// StoreGroup is the set of cart lines owned by one store, in cart order.
type StoreGroup struct {
	StoreID   string
	StoreName string
	Lines     []CartLine
	Resolved  bool
}

// Address is the delivery destination chosen by the customer.
type Address struct {
	ID           string
	Recipient    string
	Phone        string
	Line1        string
	Line2        *string
	ProvinceCode int
	DistrictCode int
	WardCode     string
}

// Origin is a pickup location expressed in carrier administrative codes.
type Origin struct {
	DistrictCode int
	WardCode     string
}

// Valid reports whether both codes are present.
func (o Origin) Valid() bool {
	return o.DistrictCode > 0 && o.WardCode != ""
}

// CheckoutSnapshot is the immutable input of one pricing run.
type CheckoutSnapshot struct {
	Currency       string
	Lines          []CartLine
	SelectedLineID []string
	Selection      VoucherSelection
	Address        *Address
}
