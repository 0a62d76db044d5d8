package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/merchkit/inventory/internal/core/domain"
	"github.com/merchkit/inventory/internal/metrics"
	"github.com/merchkit/inventory/internal/port"
)

// Sweeper releases reservations whose order never reached a terminal state
// before the expiry deadline. Abandoned orders would otherwise hold reserved
// stock forever.
type Sweeper struct {
	ledger       port.LedgerRepository
	reservations port.ReservationRepository
	logger       zerolog.Logger
	interval     time.Duration
	batchSize    int
}

func NewSweeper(
	ledger port.LedgerRepository,
	reservations port.ReservationRepository,
	logger zerolog.Logger,
	interval time.Duration,
	batchSize int,
) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		ledger:       ledger,
		reservations: reservations,
		logger:       logger.With().Str("component", "expiry_sweeper").Logger(),
		interval:     interval,
		batchSize:    batchSize,
	}
}

// Run loops until ctx is cancelled. A zero interval disables the sweep
// entirely for deployments that expire orders through an external job.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info().Msg("expiry sweep disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			released, err := s.SweepOnce(ctx)
			if err != nil {
				s.logger.Error().Err(err).Msg("expiry sweep failed")
			} else if released > 0 {
				s.logger.Info().Int("released", released).Msg("expired reservations released")
			}
		}
	}
}

// SweepOnce expires one batch of overdue reservations and returns how many
// were released. Each row is first moved RESERVED -> EXPIRED, then its hold
// on the counters is released; a crash between the two leaves at worst a
// clamped no-op on the next manual release.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	expired, err := s.reservations.FindExpired(ctx, time.Now(), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("find expired reservations: %w", err)
	}

	released := 0
	for _, r := range expired {
		moved, err := s.reservations.Transition(ctx, r.ID, domain.ReservationReserved, domain.ReservationExpired)
		if err != nil {
			return released, fmt.Errorf("expire reservation %s: %w", r.ID, err)
		}
		if !moved {
			// The order was released or committed between the scan and now.
			continue
		}
		if err := s.ledger.Release(ctx, "", r.Ref, r.Quantity); err != nil {
			return released, fmt.Errorf("release expired reservation %s: %w", r.ID, err)
		}
		released++
		metrics.ExpiredReservationsTotal.Inc()
		s.logger.Warn().Str("order_id", r.OrderID).Str("item", r.Ref.Key()).
			Int("quantity", r.Quantity).Msg("reservation expired")
	}
	return released, nil
}
