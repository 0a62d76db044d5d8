package domain

import (
	"errors"
	"testing"
)

func TestParseActivityType(t *testing.T) {
	for _, valid := range []string{"MANUAL_INCREASE", "MANUAL_DECREASE", "ORDER_SALE", "ORDER_RELEASE", "EXTERNAL_SYNC"} {
		if _, err := ParseActivityType(valid); err != nil {
			t.Errorf("expected %q to parse, got: %v", valid, err)
		}
	}

	if _, err := ParseActivityType("STOCK_TAKE"); err == nil {
		t.Error("expected error for unknown activity type")
	}
	if _, err := ParseActivityType(""); err == nil {
		t.Error("expected error for empty activity type")
	}
}

func TestShortfallError_UnwrapsToInsufficientStock(t *testing.T) {
	err := error(&ShortfallError{Shortfalls: []Shortfall{
		{ProductID: "item-1", Requested: 6, Available: 4},
	}})

	if !errors.Is(err, ErrInsufficientStock) {
		t.Error("expected ShortfallError to match ErrInsufficientStock")
	}

	var shortfallErr *ShortfallError
	if !errors.As(err, &shortfallErr) {
		t.Fatal("expected errors.As to extract ShortfallError")
	}
	if shortfallErr.Shortfalls[0].Available != 4 {
		t.Errorf("unexpected shortfall detail: %+v", shortfallErr.Shortfalls[0])
	}
}

func TestItemRefKey(t *testing.T) {
	product := ItemRef{ProductID: "p1"}
	if product.Key() != "p1" || product.IsVariant() {
		t.Errorf("unexpected product ref behavior: key=%s", product.Key())
	}

	variant := ItemRef{ProductID: "p1", VariantID: "v1"}
	if variant.Key() != "p1/v1" || !variant.IsVariant() {
		t.Errorf("unexpected variant ref behavior: key=%s", variant.Key())
	}
}

func TestStockableItem_Availability(t *testing.T) {
	item := &StockableItem{TrackInventory: true, Stock: 10, ReservedStock: 6}
	if item.AvailableStock() != 4 {
		t.Errorf("expected available 4, got %d", item.AvailableStock())
	}
	if item.CanReserve(5) {
		t.Error("expected CanReserve(5) to be false with 4 available")
	}
	if !item.CanReserve(4) {
		t.Error("expected CanReserve(4) to be true")
	}
	if item.CanReserve(0) {
		t.Error("expected CanReserve(0) to be false")
	}

	untracked := &StockableItem{TrackInventory: false, Stock: 0}
	if !untracked.CanReserve(1000) {
		t.Error("untracked item must always be reservable")
	}
}
