package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/merchkit/inventory/internal/core/domain"
	"github.com/merchkit/inventory/internal/metrics"
	"github.com/merchkit/inventory/internal/port"
)

// RetryPolicy bounds the internal retries of transient storage conflicts.
// Business failures (insufficient stock, item not found) are never retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, BaseDelay: 25 * time.Millisecond, MaxDelay: 500 * time.Millisecond}
}

// Coordinator turns order batches into all-or-nothing reservation, release
// and commit operations over the stock ledger, compensating partial effects
// when a batch fails midway.
type Coordinator struct {
	ledger         port.LedgerRepository
	cache          port.CacheRepository
	checker        *AvailabilityChecker
	logger         zerolog.Logger
	retry          RetryPolicy
	reservationTTL time.Duration
}

func NewCoordinator(
	ledger port.LedgerRepository,
	cache port.CacheRepository,
	logger zerolog.Logger,
	retry RetryPolicy,
	reservationTTL time.Duration,
) *Coordinator {
	if retry.MaxAttempts < 1 {
		retry = DefaultRetryPolicy()
	}
	return &Coordinator{
		ledger:         ledger,
		cache:          cache,
		checker:        NewAvailabilityChecker(ledger),
		logger:         logger.With().Str("component", "coordinator").Logger(),
		retry:          retry,
		reservationTTL: reservationTTL,
	}
}

// Checker exposes the advisory availability checker sharing this
// coordinator's ledger.
func (c *Coordinator) Checker() *AvailabilityChecker {
	return c.checker
}

// ReserveOrder reserves every line or nothing. On the first line that cannot
// be satisfied, reservations already taken in this batch are rolled back
// before the failure is returned, so a partial reservation is never left
// standing. The returned *domain.ShortfallError covers every short line.
func (c *Coordinator) ReserveOrder(ctx context.Context, orderID, businessID string, lines []domain.OrderLine) error {
	idemKey := "reserve:" + orderID
	ok, err := c.cache.SetIdempotency(ctx, idemKey)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if !ok {
		metrics.ReservationsTotal.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		return fmt.Errorf("order %s: %w", orderID, domain.ErrDuplicateRequest)
	}

	reserved := make([]*domain.Reservation, 0, len(lines))
	for i, line := range lines {
		res := domain.NewReservation(orderID, businessID, line.Ref(), line.Quantity, c.reservationTTL)
		err := c.withRetry(ctx, "reserve", func() error {
			return c.ledger.TryReserve(ctx, res)
		})
		if err == nil {
			reserved = append(reserved, res)
			continue
		}

		c.rollbackReservations(ctx, orderID, reserved)
		c.clearIdempotency(ctx, idemKey)

		if errors.Is(err, domain.ErrInsufficientStock) {
			metrics.ReservationsTotal.WithLabelValues(metrics.OutcomeShortfall).Inc()
			return c.shortfallError(ctx, lines[i:])
		}
		metrics.ReservationsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return fmt.Errorf("reserve order %s: %w", orderID, err)
	}

	metrics.ReservationsTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	c.logger.Info().Str("order_id", orderID).Int("lines", len(lines)).Msg("order reserved")
	return nil
}

// ReleaseOrder releases every line of a cancelled or failed order. Safe to
// call repeatedly: the ledger clamps at zero and the per-order reservation
// rows guard against double release.
func (c *Coordinator) ReleaseOrder(ctx context.Context, orderID string, lines []domain.OrderLine) error {
	var errs []error
	for _, line := range lines {
		err := c.withRetry(ctx, "release", func() error {
			return c.ledger.Release(ctx, orderID, line.Ref(), line.Quantity)
		})
		if err != nil {
			c.logger.Error().Err(err).Str("order_id", orderID).
				Str("item", line.Ref().Key()).Msg("release failed")
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("release order %s: %w", orderID, errors.Join(errs...))
	}
	metrics.ReleasesTotal.Inc()
	return nil
}

// CommitOrder converts the order's reservations into permanent stock
// deductions. Each line commit is atomic and writes one activity record, so
// an interrupted batch can be retried; already-committed lines no-op.
func (c *Coordinator) CommitOrder(ctx context.Context, orderID, businessID string, lines []domain.OrderLine) error {
	for _, line := range lines {
		err := c.withRetry(ctx, "commit", func() error {
			return c.ledger.Commit(ctx, orderID, line.Ref(), line.Quantity,
				businessID, "Order completed", domain.ActorSystem)
		})
		if err != nil {
			return fmt.Errorf("commit order %s item %s: %w", orderID, line.Ref().Key(), err)
		}
	}
	metrics.CommitsTotal.Inc()
	c.logger.Info().Str("order_id", orderID).Int("lines", len(lines)).Msg("order committed")
	return nil
}

// ManualAdjust sets an item's stock through the ledger's atomic primitive.
// requestID deduplicates pushes from external stock-sync integrations; pass
// empty to skip the check.
func (c *Coordinator) ManualAdjust(ctx context.Context, requestID string, ref domain.ItemRef, newQuantity int, businessID, reason, actor string) error {
	idemKey := ""
	if requestID != "" {
		idemKey = "adjust:" + requestID
		ok, err := c.cache.SetIdempotency(ctx, idemKey)
		if err != nil {
			return fmt.Errorf("idempotency check: %w", err)
		}
		if !ok {
			return fmt.Errorf("adjust request %s: %w", requestID, domain.ErrDuplicateRequest)
		}
	}

	err := c.withRetry(ctx, "manual adjust", func() error {
		return c.ledger.ManualAdjust(ctx, ref, newQuantity, businessID, reason, actor)
	})
	if err != nil {
		if idemKey != "" {
			c.clearIdempotency(ctx, idemKey)
		}
		return err
	}
	return nil
}

// rollbackReservations compensates a failed batch, newest first, through the
// order-guarded release so each row lands in RELEASED. Failures are logged and
// swallowed: the batch outcome is already failure, and a missed compensation
// self-heals through the reservation expiry sweep.
func (c *Coordinator) rollbackReservations(ctx context.Context, orderID string, reserved []*domain.Reservation) {
	for i := len(reserved) - 1; i >= 0; i-- {
		r := reserved[i]
		err := c.withRetry(ctx, "rollback release", func() error {
			return c.ledger.Release(ctx, orderID, r.Ref, r.Quantity)
		})
		if err != nil {
			c.logger.Error().Err(err).Str("order_id", orderID).
				Str("item", r.Ref.Key()).Msg("rollback release failed")
		}
	}
}

// shortfallError builds the failure detail for the failing line and, as an
// advisory snapshot, any other short lines of the rest of the batch.
func (c *Coordinator) shortfallError(ctx context.Context, remaining []domain.OrderLine) error {
	shortfalls, err := c.checker.Check(ctx, remaining)
	if err != nil || len(shortfalls) == 0 {
		first := remaining[0]
		shortfalls = []domain.Shortfall{{
			ProductID: first.ProductID,
			VariantID: first.VariantID,
			Requested: first.Quantity,
		}}
	}
	return &domain.ShortfallError{Shortfalls: shortfalls}
}

func (c *Coordinator) clearIdempotency(ctx context.Context, key string) {
	if err := c.cache.ClearIdempotency(ctx, key); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to clear idempotency key")
	}
}

// withRetry retries fn on transient storage conflicts with exponential
// backoff. Any other error returns immediately.
func (c *Coordinator) withRetry(ctx context.Context, op string, fn func() error) error {
	delay := c.retry.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, domain.ErrConflict) {
			return err
		}
		if attempt >= c.retry.MaxAttempts {
			break
		}

		metrics.ConflictRetriesTotal.Inc()
		c.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("storage conflict, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.retry.MaxDelay {
			delay = c.retry.MaxDelay
		}
	}
	return fmt.Errorf("%s: retries exhausted: %w", op, err)
}
