package service

import (
	"context"
	"fmt"

	"github.com/merchkit/inventory/internal/core/domain"
	"github.com/merchkit/inventory/internal/port"
)

// AvailabilityChecker evaluates whether requested quantities can be satisfied
// at read time. It is advisory only: the snapshot can go stale the instant it
// is taken, and the authoritative decision is the conditional update inside
// the ledger's TryReserve.
type AvailabilityChecker struct {
	ledger port.LedgerRepository
}

func NewAvailabilityChecker(ledger port.LedgerRepository) *AvailabilityChecker {
	return &AvailabilityChecker{ledger: ledger}
}

// Check returns one Shortfall per tracked line whose requested quantity
// exceeds available stock. An empty slice means every line can be satisfied
// at read time.
func (c *AvailabilityChecker) Check(ctx context.Context, lines []domain.OrderLine) ([]domain.Shortfall, error) {
	var shortfalls []domain.Shortfall
	for _, line := range lines {
		item, err := c.ledger.GetCounters(ctx, line.Ref())
		if err != nil {
			return nil, fmt.Errorf("check availability: %w", err)
		}
		if !item.TrackInventory {
			continue
		}
		if available := item.AvailableStock(); line.Quantity > available {
			shortfalls = append(shortfalls, domain.Shortfall{
				ProductID: line.ProductID,
				VariantID: line.VariantID,
				Requested: line.Quantity,
				Available: available,
			})
		}
	}
	return shortfalls, nil
}
