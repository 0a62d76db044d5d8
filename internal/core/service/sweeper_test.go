package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/merchkit/inventory/internal/core/domain"
)

func TestSweepOnce_ReleasesExpired(t *testing.T) {
	ctx := context.Background()
	ledger := newMockLedger()
	ledger.seed("item-1", true, 10, 0)

	ref := domain.ItemRef{ProductID: "item-1"}
	expired := domain.NewReservation("order-1", "biz-1", ref, 4, -time.Minute)
	live := domain.NewReservation("order-2", "biz-1", ref, 2, time.Hour)
	if err := ledger.TryReserve(ctx, expired); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := ledger.TryReserve(ctx, live); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	sweeper := NewSweeper(ledger, ledger, zerolog.Nop(), time.Minute, 100)

	released, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected 1 released, got %d", released)
	}

	if _, reserved := ledger.counters("item-1"); reserved != 2 {
		t.Errorf("expected reserved 2 after sweep, got %d", reserved)
	}
	if expired.Status != domain.ReservationExpired {
		t.Errorf("expected EXPIRED status, got %s", expired.Status)
	}
	if live.Status != domain.ReservationReserved {
		t.Errorf("live reservation must be untouched, got %s", live.Status)
	}
}

func TestSweepOnce_ExpiresEachReservationOnce(t *testing.T) {
	ctx := context.Background()
	ledger := newMockLedger()
	ledger.seed("item-1", true, 10, 0)

	ref := domain.ItemRef{ProductID: "item-1"}
	expired := domain.NewReservation("order-1", "biz-1", ref, 3, -time.Minute)
	if err := ledger.TryReserve(ctx, expired); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	sweeper := NewSweeper(ledger, ledger, zerolog.Nop(), time.Minute, 100)

	if released, _ := sweeper.SweepOnce(ctx); released != 1 {
		t.Fatalf("expected first sweep to release 1, got %d", released)
	}
	if released, _ := sweeper.SweepOnce(ctx); released != 0 {
		t.Errorf("expected second sweep to release 0, got %d", released)
	}

	if _, reserved := ledger.counters("item-1"); reserved != 0 {
		t.Errorf("expected reserved 0, got %d", reserved)
	}
}

func TestSweepOnce_NothingExpired(t *testing.T) {
	ctx := context.Background()
	ledger := newMockLedger()
	ledger.seed("item-1", true, 10, 0)

	live := domain.NewReservation("order-1", "biz-1", domain.ItemRef{ProductID: "item-1"}, 2, time.Hour)
	if err := ledger.TryReserve(ctx, live); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	sweeper := NewSweeper(ledger, ledger, zerolog.Nop(), time.Minute, 100)

	released, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if released != 0 {
		t.Errorf("expected 0 released, got %d", released)
	}
	if _, reserved := ledger.counters("item-1"); reserved != 2 {
		t.Errorf("expected reserved 2, got %d", reserved)
	}
}
