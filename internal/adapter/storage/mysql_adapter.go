package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/merchkit/inventory/internal/core/domain"
)

// MySQL error numbers that indicate transient lock contention.
const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// MySQLAdapter implements the stock ledger, the reservation store and the
// activity-log reader on one database handle. Counter mutations are single
// conditional updates checked via RowsAffected, or row-locked transactions
// when an activity record must be written atomically with the change.
type MySQLAdapter struct {
	db     *sql.DB
	logger zerolog.Logger

	// LogUntrackedCommits makes commits of untracked items write a zero-delta
	// audit record instead of being silent no-ops.
	LogUntrackedCommits bool

	mu          sync.RWMutex
	quarantined map[string]struct{}
}

func NewMySQLAdapter(db *sql.DB, logger zerolog.Logger) *MySQLAdapter {
	return &MySQLAdapter{
		db:          db,
		logger:      logger.With().Str("component", "stock_ledger").Logger(),
		quarantined: make(map[string]struct{}),
	}
}

// itemMeta is the quasi-static part of an item row. Variants inherit the
// track_inventory flag and business from the parent product.
type itemMeta struct {
	businessID string
	tracked    bool
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (m *MySQLAdapter) itemMeta(ctx context.Context, q querier, ref domain.ItemRef) (*itemMeta, error) {
	var meta itemMeta
	var err error
	if ref.IsVariant() {
		err = q.QueryRowContext(ctx, `
			SELECT p.business_id, p.track_inventory
			FROM product_variants v
			JOIN products p ON p.id = v.product_id
			WHERE v.id = ? AND v.product_id = ?`,
			ref.VariantID, ref.ProductID,
		).Scan(&meta.businessID, &meta.tracked)
	} else {
		err = q.QueryRowContext(ctx, `
			SELECT business_id, track_inventory
			FROM products WHERE id = ?`, ref.ProductID,
		).Scan(&meta.businessID, &meta.tracked)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", ref.Key(), domain.ErrItemNotFound)
	}
	if err != nil {
		return nil, mapMySQLErr("query item", err)
	}
	return &meta, nil
}

func (m *MySQLAdapter) TryReserve(ctx context.Context, res *domain.Reservation) error {
	if res.Quantity <= 0 {
		return fmt.Errorf("reserve quantity must be positive, got %d", res.Quantity)
	}
	ref := res.Ref
	if err := m.checkQuarantine(ref); err != nil {
		return err
	}

	// Counter increment and reservation row commit or roll back together, so
	// a held counter always has a row the expiry sweep can find.
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return mapMySQLErr("begin tx", err)
	}
	defer tx.Rollback()

	meta, err := m.itemMeta(ctx, tx, ref)
	if err != nil {
		return err
	}
	if res.BusinessID == "" {
		res.BusinessID = meta.businessID
	}

	if meta.tracked {
		// The availability check lives inside the UPDATE predicate; a separate
		// read-then-write loses the race under concurrent callers.
		var result sql.Result
		if ref.IsVariant() {
			result, err = tx.ExecContext(ctx, `
				UPDATE product_variants
				SET reserved_stock = reserved_stock + ?, updated_at = NOW()
				WHERE id = ? AND product_id = ? AND stock - reserved_stock >= ?`,
				res.Quantity, ref.VariantID, ref.ProductID, res.Quantity,
			)
		} else {
			result, err = tx.ExecContext(ctx, `
				UPDATE products
				SET reserved_stock = reserved_stock + ?, updated_at = NOW()
				WHERE id = ? AND stock - reserved_stock >= ?`,
				res.Quantity, ref.ProductID, res.Quantity,
			)
		}
		if err != nil {
			return mapMySQLErr("reserve stock", err)
		}

		rows, _ := result.RowsAffected()
		if rows == 0 {
			return fmt.Errorf("%s: %w", ref.Key(), domain.ErrInsufficientStock)
		}
	}

	if err := insertReservation(ctx, tx, res); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *MySQLAdapter) Release(ctx context.Context, orderID string, ref domain.ItemRef, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("release quantity must be positive, got %d", quantity)
	}
	if err := m.checkQuarantine(ref); err != nil {
		return err
	}

	meta, err := m.itemMeta(ctx, m.db, ref)
	if err != nil {
		return err
	}

	if orderID == "" {
		if !meta.tracked {
			return nil
		}
		// Unguarded compensation release, clamped at zero.
		_, err = m.db.ExecContext(ctx, m.releaseCounterQuery(ref), m.releaseCounterArgs(ref, quantity)...)
		if err != nil {
			return mapMySQLErr("release stock", err)
		}
		return nil
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return mapMySQLErr("begin tx", err)
	}
	defer tx.Rollback()

	moved, err := transitionReservation(ctx, tx, orderID, ref, domain.ReservationReserved, domain.ReservationReleased)
	if err != nil {
		return err
	}
	if !moved || !meta.tracked {
		// Already released, committed or never reserved: repeated release
		// must not drive counters below what other orders hold.
		return tx.Commit()
	}

	if _, err = tx.ExecContext(ctx, m.releaseCounterQuery(ref), m.releaseCounterArgs(ref, quantity)...); err != nil {
		return mapMySQLErr("release stock", err)
	}
	return tx.Commit()
}

func (m *MySQLAdapter) releaseCounterQuery(ref domain.ItemRef) string {
	if ref.IsVariant() {
		return `
			UPDATE product_variants
			SET reserved_stock = GREATEST(reserved_stock - ?, 0), updated_at = NOW()
			WHERE id = ? AND product_id = ?`
	}
	return `
		UPDATE products
		SET reserved_stock = GREATEST(reserved_stock - ?, 0), updated_at = NOW()
		WHERE id = ?`
}

func (m *MySQLAdapter) releaseCounterArgs(ref domain.ItemRef, quantity int) []any {
	if ref.IsVariant() {
		return []any{quantity, ref.VariantID, ref.ProductID}
	}
	return []any{quantity, ref.ProductID}
}

func (m *MySQLAdapter) Commit(ctx context.Context, orderID string, ref domain.ItemRef, quantity int, businessID, reason, actor string) error {
	if quantity <= 0 {
		return fmt.Errorf("commit quantity must be positive, got %d", quantity)
	}
	if err := m.checkQuarantine(ref); err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return mapMySQLErr("begin tx", err)
	}
	defer tx.Rollback()

	if orderID != "" {
		moved, err := transitionReservation(ctx, tx, orderID, ref, domain.ReservationReserved, domain.ReservationCommitted)
		if err != nil {
			return err
		}
		if !moved {
			status, found, err := reservationStatus(ctx, tx, orderID, ref)
			if err != nil {
				return err
			}
			if found && status == domain.ReservationCommitted {
				// Retried commit: the counters were deducted in the
				// transaction that moved the row.
				return tx.Commit()
			}
			if !found {
				return fmt.Errorf("no reservation for order %s item %s: %w",
					orderID, ref.Key(), domain.ErrReservationNotActive)
			}
			// EXPIRED (swept past TTL) or RELEASED (cancelled). The hold is
			// gone; committing here would ship stock that was never deducted.
			return fmt.Errorf("order %s item %s reservation is %s: %w",
				orderID, ref.Key(), status, domain.ErrReservationNotActive)
		}
	}

	stock, reserved, meta, err := m.lockCounters(ctx, tx, ref)
	if err != nil {
		return err
	}
	if businessID == "" {
		businessID = meta.businessID
	}

	if !meta.tracked {
		if m.LogUntrackedCommits {
			if err := insertActivity(ctx, tx, &domain.ActivityRecord{
				BusinessID: businessID,
				ProductID:  ref.ProductID,
				VariantID:  ref.VariantID,
				Type:       domain.ActivityOrderSale,
				OldStock:   stock,
				NewStock:   stock,
				Reason:     reason,
				ChangedBy:  actor,
			}); err != nil {
				return err
			}
		}
		return tx.Commit()
	}

	if stock < quantity {
		return fmt.Errorf("commit of %d exceeds stock %d for %s: %w",
			quantity, stock, ref.Key(), domain.ErrInsufficientStock)
	}

	newStock := stock - quantity
	newReserved := reserved - quantity
	if newReserved < 0 {
		newReserved = 0
	}
	if newReserved > newStock {
		m.quarantine(ref, "reserved stock exceeds stock after commit", newStock, newReserved)
		return fmt.Errorf("%s: %w", ref.Key(), domain.ErrInvariantViolation)
	}

	if ref.IsVariant() {
		_, err = tx.ExecContext(ctx, `
			UPDATE product_variants
			SET stock = ?, reserved_stock = ?, updated_at = NOW()
			WHERE id = ? AND product_id = ?`,
			newStock, newReserved, ref.VariantID, ref.ProductID,
		)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE products
			SET stock = ?, reserved_stock = ?, updated_at = NOW()
			WHERE id = ?`,
			newStock, newReserved, ref.ProductID,
		)
	}
	if err != nil {
		return mapMySQLErr("commit stock", err)
	}

	if err := insertActivity(ctx, tx, &domain.ActivityRecord{
		BusinessID:    businessID,
		ProductID:     ref.ProductID,
		VariantID:     ref.VariantID,
		Type:          domain.ActivityOrderSale,
		QuantityDelta: -quantity,
		OldStock:      stock,
		NewStock:      newStock,
		Reason:        reason,
		ChangedBy:     actor,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *MySQLAdapter) ManualAdjust(ctx context.Context, ref domain.ItemRef, newQuantity int, businessID, reason, actor string) error {
	if newQuantity < 0 {
		return fmt.Errorf("negative stock quantity %d", newQuantity)
	}
	if err := m.checkQuarantine(ref); err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return mapMySQLErr("begin tx", err)
	}
	defer tx.Rollback()

	stock, reserved, meta, err := m.lockCounters(ctx, tx, ref)
	if err != nil {
		return err
	}
	if businessID == "" {
		businessID = meta.businessID
	}
	if newQuantity < reserved {
		return fmt.Errorf("cannot set stock to %d with %d reserved for %s: %w",
			newQuantity, reserved, ref.Key(), domain.ErrStockBelowReserved)
	}

	delta := newQuantity - stock
	if delta == 0 {
		return tx.Commit()
	}

	if ref.IsVariant() {
		_, err = tx.ExecContext(ctx, `
			UPDATE product_variants SET stock = ?, updated_at = NOW()
			WHERE id = ? AND product_id = ?`,
			newQuantity, ref.VariantID, ref.ProductID,
		)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE products SET stock = ?, updated_at = NOW()
			WHERE id = ?`,
			newQuantity, ref.ProductID,
		)
	}
	if err != nil {
		return mapMySQLErr("adjust stock", err)
	}

	activityType := domain.ActivityManualIncrease
	if delta < 0 {
		activityType = domain.ActivityManualDecrease
	}
	if err := insertActivity(ctx, tx, &domain.ActivityRecord{
		BusinessID:    businessID,
		ProductID:     ref.ProductID,
		VariantID:     ref.VariantID,
		Type:          activityType,
		QuantityDelta: delta,
		OldStock:      stock,
		NewStock:      newQuantity,
		Reason:        reason,
		ChangedBy:     actor,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *MySQLAdapter) GetCounters(ctx context.Context, ref domain.ItemRef) (*domain.StockableItem, error) {
	item := &domain.StockableItem{Ref: ref}
	var err error
	if ref.IsVariant() {
		err = m.db.QueryRowContext(ctx, `
			SELECT p.business_id, p.track_inventory, v.stock, v.reserved_stock, v.updated_at
			FROM product_variants v
			JOIN products p ON p.id = v.product_id
			WHERE v.id = ? AND v.product_id = ?`,
			ref.VariantID, ref.ProductID,
		).Scan(&item.BusinessID, &item.TrackInventory, &item.Stock, &item.ReservedStock, &item.UpdatedAt)
	} else {
		err = m.db.QueryRowContext(ctx, `
			SELECT business_id, track_inventory, stock, reserved_stock, updated_at
			FROM products WHERE id = ?`, ref.ProductID,
		).Scan(&item.BusinessID, &item.TrackInventory, &item.Stock, &item.ReservedStock, &item.UpdatedAt)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", ref.Key(), domain.ErrItemNotFound)
	}
	if err != nil {
		return nil, mapMySQLErr("query counters", err)
	}

	if item.ReservedStock < 0 || (item.TrackInventory && item.ReservedStock > item.Stock) {
		m.quarantine(ref, "counter snapshot out of range", item.Stock, item.ReservedStock)
		return nil, fmt.Errorf("%s: %w", ref.Key(), domain.ErrInvariantViolation)
	}
	return item, nil
}

// lockCounters reads one item's counters under a row lock inside tx.
func (m *MySQLAdapter) lockCounters(ctx context.Context, tx *sql.Tx, ref domain.ItemRef) (stock, reserved int, meta *itemMeta, err error) {
	meta = &itemMeta{}
	if ref.IsVariant() {
		err = tx.QueryRowContext(ctx, `
			SELECT p.business_id, p.track_inventory, v.stock, v.reserved_stock
			FROM product_variants v
			JOIN products p ON p.id = v.product_id
			WHERE v.id = ? AND v.product_id = ?
			FOR UPDATE`,
			ref.VariantID, ref.ProductID,
		).Scan(&meta.businessID, &meta.tracked, &stock, &reserved)
	} else {
		err = tx.QueryRowContext(ctx, `
			SELECT business_id, track_inventory, stock, reserved_stock
			FROM products WHERE id = ?
			FOR UPDATE`, ref.ProductID,
		).Scan(&meta.businessID, &meta.tracked, &stock, &reserved)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil, fmt.Errorf("%s: %w", ref.Key(), domain.ErrItemNotFound)
	}
	if err != nil {
		return 0, 0, nil, mapMySQLErr("lock counters", err)
	}
	return stock, reserved, meta, nil
}

func transitionReservation(ctx context.Context, tx *sql.Tx, orderID string, ref domain.ItemRef, from, to domain.ReservationStatus) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE stock_reservations
		SET status = ?, updated_at = NOW()
		WHERE order_id = ? AND product_id = ? AND variant_id <=> ? AND status = ?`,
		to, orderID, ref.ProductID, nullableString(ref.VariantID), from,
	)
	if err != nil {
		return false, mapMySQLErr("transition reservation", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func insertActivity(ctx context.Context, tx *sql.Tx, rec *domain.ActivityRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO inventory_activities
			(id, business_id, product_id, variant_id, type, quantity_delta,
			 old_stock, new_stock, reason, changed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW())`,
		uuid.NewString(), rec.BusinessID, rec.ProductID, nullableString(rec.VariantID),
		rec.Type, rec.QuantityDelta, rec.OldStock, rec.NewStock, rec.Reason, rec.ChangedBy,
	)
	if err != nil {
		return mapMySQLErr("insert activity", err)
	}
	return nil
}

func (m *MySQLAdapter) checkQuarantine(ref domain.ItemRef) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.quarantined[ref.Key()]; ok {
		return fmt.Errorf("%s is quarantined: %w", ref.Key(), domain.ErrInvariantViolation)
	}
	return nil
}

// quarantine halts further mutation of an item after a failed post-condition
// check. The counters are never clamped once a violation is detected.
func (m *MySQLAdapter) quarantine(ref domain.ItemRef, cause string, stock, reserved int) {
	m.mu.Lock()
	m.quarantined[ref.Key()] = struct{}{}
	m.mu.Unlock()

	m.logger.Error().
		Str("item", ref.Key()).
		Int("stock", stock).
		Int("reserved_stock", reserved).
		Str("cause", cause).
		Msg("invariant violation detected, item quarantined")
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func mapMySQLErr(op string, err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrLockWaitTimeout, mysqlErrDeadlock:
			return fmt.Errorf("%s: %w: %v", op, domain.ErrConflict, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// --- reservation store ---

func insertReservation(ctx context.Context, tx *sql.Tx, r *domain.Reservation) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_reservations
			(id, order_id, business_id, product_id, variant_id, quantity,
			 status, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OrderID, r.BusinessID, r.Ref.ProductID, nullableString(r.Ref.VariantID),
		r.Quantity, r.Status, r.ExpiresAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return mapMySQLErr("insert reservation", err)
	}
	return nil
}

func reservationStatus(ctx context.Context, tx *sql.Tx, orderID string, ref domain.ItemRef) (domain.ReservationStatus, bool, error) {
	var status domain.ReservationStatus
	err := tx.QueryRowContext(ctx, `
		SELECT status FROM stock_reservations
		WHERE order_id = ? AND product_id = ? AND variant_id <=> ?`,
		orderID, ref.ProductID, nullableString(ref.VariantID),
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, mapMySQLErr("query reservation status", err)
	}
	return status, true, nil
}

func (m *MySQLAdapter) FindExpired(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Reservation, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, order_id, business_id, product_id, variant_id, quantity,
		       status, expires_at, created_at, updated_at
		FROM stock_reservations
		WHERE status = ? AND expires_at < ?
		ORDER BY expires_at
		LIMIT ?`,
		domain.ReservationReserved, cutoff, limit,
	)
	if err != nil {
		return nil, mapMySQLErr("query expired reservations", err)
	}
	defer rows.Close()

	var out []*domain.Reservation
	for rows.Next() {
		r := &domain.Reservation{}
		var variantID sql.NullString
		if err := rows.Scan(&r.ID, &r.OrderID, &r.BusinessID, &r.Ref.ProductID, &variantID,
			&r.Quantity, &r.Status, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, mapMySQLErr("scan reservation", err)
		}
		r.Ref.VariantID = variantID.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (m *MySQLAdapter) Transition(ctx context.Context, id string, from, to domain.ReservationStatus) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE stock_reservations SET status = ?, updated_at = NOW()
		WHERE id = ? AND status = ?`,
		to, id, from,
	)
	if err != nil {
		return false, mapMySQLErr("transition reservation", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// --- activity log reads ---

func (m *MySQLAdapter) ListActivities(ctx context.Context, filter domain.ActivityFilter) ([]*domain.ActivityRecord, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT id, business_id, product_id, variant_id, type, quantity_delta,
		       old_stock, new_stock, reason, changed_by, created_at
		FROM inventory_activities
		WHERE 1=1`)
	var args []any
	if filter.BusinessID != "" {
		query.WriteString(" AND business_id = ?")
		args = append(args, filter.BusinessID)
	}
	if filter.ProductID != "" {
		query.WriteString(" AND product_id = ?")
		args = append(args, filter.ProductID)
	}
	if !filter.Since.IsZero() {
		query.WriteString(" AND created_at >= ?")
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		query.WriteString(" AND created_at < ?")
		args = append(args, filter.Until)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query.WriteString(" ORDER BY created_at DESC LIMIT ?")
	args = append(args, limit)

	rows, err := m.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, mapMySQLErr("query activities", err)
	}
	defer rows.Close()

	var out []*domain.ActivityRecord
	for rows.Next() {
		rec := &domain.ActivityRecord{}
		var variantID sql.NullString
		if err := rows.Scan(&rec.ID, &rec.BusinessID, &rec.ProductID, &variantID, &rec.Type,
			&rec.QuantityDelta, &rec.OldStock, &rec.NewStock, &rec.Reason, &rec.ChangedBy,
			&rec.CreatedAt); err != nil {
			return nil, mapMySQLErr("scan activity", err)
		}
		rec.VariantID = variantID.String
		out = append(out, rec)
	}
	return out, rows.Err()
}
