package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientStock is a business failure: the requested quantity
	// exceeds available stock. Never retried automatically.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrItemNotFound means the referenced product or variant does not exist.
	ErrItemNotFound = errors.New("item not found")

	// ErrConflict is a transient storage conflict (lock wait, deadlock).
	// Callers inside the subsystem retry it with bounded backoff.
	ErrConflict = errors.New("storage conflict")

	// ErrInvariantViolation means a counter post-condition failed. The item is
	// quarantined and refuses further mutation pending investigation.
	ErrInvariantViolation = errors.New("ledger invariant violation")

	// ErrDuplicateRequest is returned when an idempotency key already exists.
	ErrDuplicateRequest = errors.New("duplicate request")

	// ErrReservationNotActive rejects a commit whose reservation row is
	// expired, released or missing. The counters were not deducted; the caller
	// must not treat the order as fulfilled.
	ErrReservationNotActive = errors.New("reservation no longer active")

	// ErrStockBelowReserved rejects a manual adjustment that would set stock
	// below the quantity currently reserved against open orders.
	ErrStockBelowReserved = errors.New("stock below reserved")
)

// ShortfallError carries per-line shortfall detail for a failed reservation.
// It unwraps to ErrInsufficientStock so callers can branch with errors.Is.
type ShortfallError struct {
	Shortfalls []Shortfall
}

func (e *ShortfallError) Error() string {
	if len(e.Shortfalls) == 1 {
		s := e.Shortfalls[0]
		return fmt.Sprintf("insufficient stock for %s: requested %d, available %d",
			s.ProductID, s.Requested, s.Available)
	}
	return fmt.Sprintf("insufficient stock for %d items", len(e.Shortfalls))
}

func (e *ShortfallError) Unwrap() error {
	return ErrInsufficientStock
}
