package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	dominv "github.com/partshub/fulfillment/internal/domain/inventory"
)

// InventoryRepository is the durable inventory ledger. Reserve relies on a
// single conditional UPDATE so the availability check and the counter bump
// can never interleave with another writer.
type InventoryRepository struct {
	db *sqlx.DB
}

func NewInventoryRepository(db *sqlx.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

type skuRow struct {
	SKUID            string `db:"sku_id"`
	VendorID         string `db:"vendor_id"`
	CategoryID       string `db:"category_id"`
	OnHand           int64  `db:"on_hand"`
	Reserved         int64  `db:"reserved"`
	ReorderThreshold int64  `db:"reorder_threshold"`
	UpdatedAt        int64  `db:"updated_at"`
}

func (r skuRow) toDomain() *dominv.Record {
	return &dominv.Record{
		SKUID:            r.SKUID,
		VendorID:         r.VendorID,
		CategoryID:       r.CategoryID,
		OnHand:           r.OnHand,
		Reserved:         r.Reserved,
		ReorderThreshold: r.ReorderThreshold,
		UpdatedAt:        fromNanos(r.UpdatedAt),
	}
}

type reservationRow struct {
	Token     string `db:"token"`
	SKUID     string `db:"sku_id"`
	Quantity  int64  `db:"quantity"`
	State     string `db:"state"`
	CreatedAt int64  `db:"created_at"`
	ExpiresAt int64  `db:"expires_at"`
}

func (r reservationRow) toDomain() *dominv.Reservation {
	return &dominv.Reservation{
		Token:     r.Token,
		SKUID:     r.SKUID,
		Quantity:  r.Quantity,
		State:     dominv.ReservationState(r.State),
		CreatedAt: fromNanos(r.CreatedAt),
		ExpiresAt: fromNanos(r.ExpiresAt),
	}
}

func (r *InventoryRepository) Reserve(ctx context.Context, skuID, token string, quantity int64, ttl time.Duration) (*dominv.Reservation, error) {
	if quantity <= 0 {
		return nil, dominv.ErrInvalidQuantity
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE skus
		SET reserved = reserved + ?, updated_at = ?
		WHERE sku_id = ? AND on_hand - reserved >= ?
	`, quantity, toNanos(now), skuID, quantity)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		var exists int
		if err := tx.GetContext(ctx, &exists, `SELECT COUNT(*) FROM skus WHERE sku_id = ?`, skuID); err != nil {
			return nil, err
		}
		if exists == 0 {
			return nil, dominv.ErrNotFound
		}
		return nil, dominv.ErrInsufficientStock
	}

	hold, err := dominv.NewReservation(token, skuID, quantity, ttl)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO reservations(token, sku_id, quantity, state, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, hold.Token, hold.SKUID, hold.Quantity, string(hold.State), toNanos(hold.CreatedAt), toNanos(hold.ExpiresAt)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return hold, nil
}

func (r *InventoryRepository) Commit(ctx context.Context, token string) (*dominv.Reservation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var row reservationRow
	if err := tx.GetContext(ctx, &row, `SELECT * FROM reservations WHERE token = ?`, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dominv.ErrReservationNotFound
		}
		return nil, err
	}

	switch dominv.ReservationState(row.State) {
	case dominv.ReservationCommitted:
		return row.toDomain(), nil
	case dominv.ReservationReleased:
		return nil, dominv.ErrReservationReleased
	}

	now := toNanos(time.Now().UTC())
	if _, err := tx.ExecContext(ctx, `
		UPDATE skus
		SET on_hand = on_hand - ?, reserved = reserved - ?, updated_at = ?
		WHERE sku_id = ?
	`, row.Quantity, row.Quantity, now, row.SKUID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE reservations SET state = ? WHERE token = ?
	`, string(dominv.ReservationCommitted), token); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	row.State = string(dominv.ReservationCommitted)
	return row.toDomain(), nil
}

func (r *InventoryRepository) Release(ctx context.Context, token string) (*dominv.Reservation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var row reservationRow
	if err := tx.GetContext(ctx, &row, `SELECT * FROM reservations WHERE token = ?`, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dominv.ErrReservationNotFound
		}
		return nil, err
	}

	switch dominv.ReservationState(row.State) {
	case dominv.ReservationReleased:
		return row.toDomain(), nil
	case dominv.ReservationCommitted:
		return nil, dominv.ErrReservationCommitted
	}

	now := toNanos(time.Now().UTC())
	if _, err := tx.ExecContext(ctx, `
		UPDATE skus SET reserved = reserved - ?, updated_at = ? WHERE sku_id = ?
	`, row.Quantity, now, row.SKUID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE reservations SET state = ? WHERE token = ?
	`, string(dominv.ReservationReleased), token); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	row.State = string(dominv.ReservationReleased)
	return row.toDomain(), nil
}

func (r *InventoryRepository) ReleaseExpired(ctx context.Context, now time.Time) ([]dominv.Reservation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var rows []reservationRow
	if err := tx.SelectContext(ctx, &rows, `
		SELECT * FROM reservations
		WHERE state = ? AND expires_at <= ?
	`, string(dominv.ReservationActive), toNanos(now)); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, tx.Commit()
	}

	ts := toNanos(time.Now().UTC())
	released := make([]dominv.Reservation, 0, len(rows))
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, `
			UPDATE skus SET reserved = reserved - ?, updated_at = ? WHERE sku_id = ?
		`, row.Quantity, ts, row.SKUID); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE reservations SET state = ? WHERE token = ?
		`, string(dominv.ReservationReleased), row.Token); err != nil {
			return nil, err
		}
		row.State = string(dominv.ReservationReleased)
		released = append(released, *row.toDomain())
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return released, nil
}

func (r *InventoryRepository) Get(ctx context.Context, skuID string) (*dominv.Record, error) {
	var row skuRow
	if err := r.db.GetContext(ctx, &row, `SELECT * FROM skus WHERE sku_id = ?`, skuID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dominv.ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *InventoryRepository) Upsert(ctx context.Context, rec *dominv.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO skus(sku_id, vendor_id, category_id, on_hand, reserved, reorder_threshold, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sku_id) DO UPDATE SET
		  vendor_id = excluded.vendor_id,
		  category_id = excluded.category_id,
		  on_hand = excluded.on_hand,
		  reserved = excluded.reserved,
		  reorder_threshold = excluded.reorder_threshold,
		  updated_at = excluded.updated_at
	`, rec.SKUID, rec.VendorID, rec.CategoryID, rec.OnHand, rec.Reserved, rec.ReorderThreshold, toNanos(time.Now().UTC()))
	return err
}

func (r *InventoryRepository) Restock(ctx context.Context, skuID string, quantity int64) (int64, error) {
	if quantity <= 0 {
		return 0, dominv.ErrInvalidQuantity
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE skus SET on_hand = on_hand + ?, updated_at = ? WHERE sku_id = ?
	`, quantity, toNanos(time.Now().UTC()), skuID)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, dominv.ErrNotFound
	}
	var onHand int64
	if err := r.db.GetContext(ctx, &onHand, `SELECT on_hand FROM skus WHERE sku_id = ?`, skuID); err != nil {
		return 0, err
	}
	return onHand, nil
}
