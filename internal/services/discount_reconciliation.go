package services

import domain "github.com/marketcart/checkout-api/internal/domain"

// storeSelectionState captures whether the customer picked any voucher for the store.
type storeSelectionState int

const (
	storeSelectionNone storeSelectionState = iota
	storeSelectionExplicit
)

// ReconcileStoreDiscount compares the computed store-level discount with the figure the backend
// reports for the same store and returns the display adjustments.
//
// Precedence:
//   - no voucher selected for the store and a positive backend figure: the backend figure is
//     shown as an inferred store discount;
//   - a store voucher or a product voucher selected: the computed amount stands and any positive
//     residual (backend minus computed) is shown as another store discount;
//   - no backend figure: nothing to reconcile.
//
// Adjustments are informational and never change the store grand total.
func ReconcileStoreDiscount(discount StoreDiscount, selected bool, backendDiscount int64) []Adjustment {
	if backendDiscount <= 0 {
		return nil
	}
	state := storeSelectionNone
	if selected {
		state = storeSelectionExplicit
	}

	switch state {
	case storeSelectionNone:
		return []Adjustment{{Kind: domain.AdjustmentInferredStoreDiscount, Amount: backendDiscount}}
	case storeSelectionExplicit:
		computed := discount.StoreVoucherDiscount + discount.ProductVoucherDiscount
		if residual := backendDiscount - computed; residual > 0 {
			return []Adjustment{{Kind: domain.AdjustmentOtherStoreDiscount, Amount: residual}}
		}
	}
	return nil
}
