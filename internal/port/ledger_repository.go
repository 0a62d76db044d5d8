package port

import (
	"context"

	"github.com/merchkit/inventory/internal/core/domain"
)

// LedgerRepository owns the per-item counters. Every mutation is a single
// atomic storage operation: a conditional update checked by affected rows, or
// a row-locked transaction. Callers must treat each method as blocking I/O.
type LedgerRepository interface {
	// TryReserve atomically increments reservedStock by the reservation's
	// quantity only if stock - reservedStock >= quantity at the moment of the
	// update, and persists the RESERVED row in the same transaction, so a held
	// counter always has a row the expiry sweep can find. Returns
	// domain.ErrInsufficientStock when the condition fails; nothing is written.
	// Untracked items skip the counter change but still get a row.
	TryReserve(ctx context.Context, res *domain.Reservation) error

	// Release atomically decrements reservedStock, floored at zero. When
	// orderID is non-empty the decrement only applies if a RESERVED
	// reservation row for (orderID, ref) transitions to RELEASED in the same
	// transaction; otherwise it is a no-op, which makes repeated releases of
	// the same order safe. Pass an empty orderID for unguarded compensation
	// releases.
	Release(ctx context.Context, orderID string, ref domain.ItemRef, quantity int) error

	// Commit atomically decrements both stock and reservedStock by quantity
	// and appends exactly one activity record in the same transaction. When
	// orderID is non-empty the mutation is guarded by the reservation row:
	// a retried commit whose row is already COMMITTED does nothing, and a
	// commit whose row is EXPIRED, RELEASED or missing fails with
	// domain.ErrReservationNotActive without touching counters.
	Commit(ctx context.Context, orderID string, ref domain.ItemRef, quantity int, businessID, reason, actor string) error

	// ManualAdjust sets stock directly and logs the delta. reservedStock is
	// untouched; adjustments below the current reservedStock are rejected.
	ManualAdjust(ctx context.Context, ref domain.ItemRef, newQuantity int, businessID, reason, actor string) error

	// GetCounters reads the current counter snapshot for one item.
	GetCounters(ctx context.Context, ref domain.ItemRef) (*domain.StockableItem, error)
}
