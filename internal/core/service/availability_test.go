package service

import (
	"context"
	"errors"
	"testing"

	"github.com/merchkit/inventory/internal/core/domain"
)

func TestCheck_AllSatisfiable(t *testing.T) {
	ledger := newMockLedger()
	ledger.seed("item-1", true, 10, 2)
	ledger.seed("item-2", true, 5, 0)
	checker := NewAvailabilityChecker(ledger)

	shortfalls, err := checker.Check(context.Background(), []domain.OrderLine{
		{ProductID: "item-1", Quantity: 8},
		{ProductID: "item-2", Quantity: 5},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(shortfalls) != 0 {
		t.Errorf("expected no shortfalls, got %+v", shortfalls)
	}
}

func TestCheck_ReportsShortfalls(t *testing.T) {
	ledger := newMockLedger()
	ledger.seed("item-1", true, 10, 4)
	ledger.seed("item-2", true, 2, 0)
	checker := NewAvailabilityChecker(ledger)

	shortfalls, err := checker.Check(context.Background(), []domain.OrderLine{
		{ProductID: "item-1", Quantity: 7},
		{ProductID: "item-2", Quantity: 2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(shortfalls) != 1 {
		t.Fatalf("expected 1 shortfall, got %d", len(shortfalls))
	}
	sf := shortfalls[0]
	if sf.ProductID != "item-1" || sf.Requested != 7 || sf.Available != 6 {
		t.Errorf("unexpected shortfall: %+v", sf)
	}
}

func TestCheck_SkipsUntracked(t *testing.T) {
	ledger := newMockLedger()
	ledger.seed("untracked", false, 0, 0)
	checker := NewAvailabilityChecker(ledger)

	shortfalls, err := checker.Check(context.Background(), []domain.OrderLine{
		{ProductID: "untracked", Quantity: 100},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(shortfalls) != 0 {
		t.Errorf("untracked items must never be short, got %+v", shortfalls)
	}
}

func TestCheck_ItemNotFound(t *testing.T) {
	ledger := newMockLedger()
	checker := NewAvailabilityChecker(ledger)

	_, err := checker.Check(context.Background(), []domain.OrderLine{
		{ProductID: "ghost", Quantity: 1},
	})
	if !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got: %v", err)
	}
}
