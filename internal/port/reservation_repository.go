package port

import (
	"context"
	"time"

	"github.com/merchkit/inventory/internal/core/domain"
)

// ReservationRepository reads and transitions per-order reservation rows.
// Rows are written by the ledger inside TryReserve's transaction, never
// through this interface.
type ReservationRepository interface {
	// FindExpired returns up to limit RESERVED rows whose expiry is before
	// cutoff, oldest first.
	FindExpired(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Reservation, error)

	// Transition moves one row from one status to another. Returns false
	// without error when the row is not in the expected status.
	Transition(ctx context.Context, id string, from, to domain.ReservationStatus) (bool, error)
}

// ActivityRepository reads the append-only activity log. Writes happen inside
// the ledger's transactions, never through this interface.
type ActivityRepository interface {
	ListActivities(ctx context.Context, filter domain.ActivityFilter) ([]*domain.ActivityRecord, error)
}
