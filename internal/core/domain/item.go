package domain

import "time"

// ItemRef identifies a stockable item. When VariantID is set the counters live
// on the variant row; the track_inventory flag is always inherited from the
// parent product.
type ItemRef struct {
	ProductID string
	VariantID string
}

func (r ItemRef) IsVariant() bool {
	return r.VariantID != ""
}

// Key returns a stable identifier usable as a map key.
func (r ItemRef) Key() string {
	if r.VariantID == "" {
		return r.ProductID
	}
	return r.ProductID + "/" + r.VariantID
}

// StockableItem is a snapshot of one item's ledger counters.
type StockableItem struct {
	Ref            ItemRef
	BusinessID     string
	TrackInventory bool
	Stock          int
	ReservedStock  int
	UpdatedAt      time.Time
}

// AvailableStock is the quantity that can still be reserved.
func (s *StockableItem) AvailableStock() int {
	return s.Stock - s.ReservedStock
}

func (s *StockableItem) CanReserve(quantity int) bool {
	if !s.TrackInventory {
		return true
	}
	return quantity > 0 && s.AvailableStock() >= quantity
}

// OrderLine is one item of an order batch as passed in by the order
// management collaborator.
type OrderLine struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

func (l OrderLine) Ref() ItemRef {
	return ItemRef{ProductID: l.ProductID, VariantID: l.VariantID}
}
