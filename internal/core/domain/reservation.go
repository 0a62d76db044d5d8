package domain

import (
	"time"

	"github.com/google/uuid"
)

type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "RESERVED"
	ReservationCommitted ReservationStatus = "COMMITTED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// Reservation is one held line of an open order. Rows are bookkeeping on top
// of the item counters: they guard release/commit against double application
// and give the expiry sweep something to scan.
type Reservation struct {
	ID         string
	OrderID    string
	BusinessID string
	Ref        ItemRef
	Quantity   int
	Status     ReservationStatus
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func NewReservation(orderID, businessID string, ref ItemRef, quantity int, ttl time.Duration) *Reservation {
	now := time.Now()
	return &Reservation{
		ID:         uuid.NewString(),
		OrderID:    orderID,
		BusinessID: businessID,
		Ref:        ref,
		Quantity:   quantity,
		Status:     ReservationReserved,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Shortfall reports one line that cannot be satisfied.
type Shortfall struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}
