package domain

// VoucherScope tells whether a voucher applies to a whole store or to a single product.
type VoucherScope string

const (
	// VoucherScopeStoreWide applies to the whole store subtotal.
	VoucherScopeStoreWide VoucherScope = "STORE_WIDE"
	// VoucherScopeProduct applies to cart lines of one product.
	VoucherScopeProduct VoucherScope = "PRODUCT"
)

// VoucherKind selects how the discount amount is computed.
type VoucherKind string

const (
	// VoucherKindPercent discounts a percentage of the base, optionally capped.
	VoucherKindPercent VoucherKind = "PERCENT"
	// VoucherKindFixed discounts a fixed amount.
	VoucherKindFixed VoucherKind = "FIXED"
)

// VoucherStatus is the lifecycle status reported by the catalog.
type VoucherStatus string

const (
	VoucherStatusActive   VoucherStatus = "ACTIVE"
	VoucherStatusInactive VoucherStatus = "INACTIVE"
	VoucherStatusExpired  VoucherStatus = "EXPIRED"
	VoucherStatusUsed     VoucherStatus = "USED"
)

// Voucher is a discount instrument issued by a store. Date bounds are kept as the raw catalog
// strings and parsed leniently when evaluated.
type Voucher struct {
	ID               string
	Code             string
	Scope            VoucherScope
	Kind             VoucherKind
	PercentValue     *float64
	FixedValue       *int64
	MaxDiscountValue *int64
	MinOrderValue    *int64
	ValidFrom        string
	ValidTo          string
	Status           VoucherStatus
	StoreID          string
	ProductRef       string
	Description      string
}

// EffectiveScope returns the scope, defaulting to store-wide when the catalog omits it.
func (v Voucher) EffectiveScope() VoucherScope {
	if v.Scope == "" {
		return VoucherScopeStoreWide
	}
	return v.Scope
}

// VoucherSelection records the customer's chosen vouchers. Store keys are store ids, product keys
// are cart line ids; each key holds at most one voucher id.
type VoucherSelection struct {
	Store   map[string]string
	Product map[string]string
}

// StoreVoucher returns the voucher id selected for the store, if any.
func (s VoucherSelection) StoreVoucher(storeID string) (string, bool) {
	id, ok := s.Store[storeID]
	return id, ok && id != ""
}

// ProductVoucher returns the voucher id selected for the cart line, if any.
func (s VoucherSelection) ProductVoucher(lineID string) (string, bool) {
	id, ok := s.Product[lineID]
	return id, ok && id != ""
}

// WithStore returns a copy of the selection with the store voucher replaced. An empty voucher id
// clears the selection for that store.
func (s VoucherSelection) WithStore(storeID, voucherID string) VoucherSelection {
	out := s.clone()
	if voucherID == "" {
		delete(out.Store, storeID)
	} else {
		out.Store[storeID] = voucherID
	}
	return out
}

// WithProduct returns a copy of the selection with the line voucher replaced.
func (s VoucherSelection) WithProduct(lineID, voucherID string) VoucherSelection {
	out := s.clone()
	if voucherID == "" {
		delete(out.Product, lineID)
	} else {
		out.Product[lineID] = voucherID
	}
	return out
}

func (s VoucherSelection) clone() VoucherSelection {
	out := VoucherSelection{
		Store:   make(map[string]string, len(s.Store)),
		Product: make(map[string]string, len(s.Product)),
	}
	for k, v := range s.Store {
		out.Store[k] = v
	}
	for k, v := range s.Product {
		out.Product[k] = v
	}
	return out
}
