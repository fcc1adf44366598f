package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	domorder "github.com/partshub/fulfillment/internal/domain/order"
)

type OrderRepository struct {
	db *sqlx.DB
}

func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

type orderRow struct {
	ID            string `db:"id"`
	CustomerID    string `db:"customer_id"`
	Status        string `db:"status"`
	FailureReason string `db:"failure_reason"`
	CreatedAt     int64  `db:"created_at"`
	UpdatedAt     int64  `db:"updated_at"`
}

type orderLineRow struct {
	OrderID        string `db:"order_id"`
	Idx            int    `db:"idx"`
	SKUID          string `db:"sku_id"`
	Quantity       int64  `db:"quantity"`
	UnitPriceCents int64  `db:"unit_price_cents"`
}

type subOrderRow struct {
	ID        string `db:"id"`
	OrderID   string `db:"order_id"`
	VendorID  string `db:"vendor_id"`
	MethodRef string `db:"method_ref"`
	Status    string `db:"status"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

type subOrderLineRow struct {
	SubOrderID       string `db:"sub_order_id"`
	Idx              int    `db:"idx"`
	LineRef          string `db:"line_ref"`
	SKUID            string `db:"sku_id"`
	CategoryID       string `db:"category_id"`
	Quantity         int64  `db:"quantity"`
	UnitPriceCents   int64  `db:"unit_price_cents"`
	ReservationToken string `db:"reservation_token"`
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r *OrderRepository) Insert(ctx context.Context, o *domorder.Order) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO orders(id, customer_id, status, failure_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, o.ID, o.CustomerID, string(o.Status), o.FailureReason, toNanos(o.CreatedAt), toNanos(o.UpdatedAt)); err != nil {
		if isUniqueViolation(err) {
			return domorder.ErrConflict
		}
		return err
	}
	for i, line := range o.Lines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_lines(order_id, idx, sku_id, quantity, unit_price_cents)
			VALUES (?, ?, ?, ?, ?)
		`, o.ID, i, line.SKUID, line.Quantity, line.UnitPriceCents); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domorder.Order, error) {
	var row orderRow
	if err := r.db.GetContext(ctx, &row, `SELECT * FROM orders WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domorder.ErrNotFound
		}
		return nil, err
	}

	var lineRows []orderLineRow
	if err := r.db.SelectContext(ctx, &lineRows, `
		SELECT * FROM order_lines WHERE order_id = ? ORDER BY idx
	`, id); err != nil {
		return nil, err
	}

	lines := make([]domorder.LineItem, 0, len(lineRows))
	for _, lr := range lineRows {
		lines = append(lines, domorder.LineItem{
			SKUID:          lr.SKUID,
			Quantity:       lr.Quantity,
			UnitPriceCents: lr.UnitPriceCents,
		})
	}

	return &domorder.Order{
		ID:            row.ID,
		CustomerID:    row.CustomerID,
		Lines:         lines,
		Status:        domorder.Status(row.Status),
		FailureReason: row.FailureReason,
		CreatedAt:     fromNanos(row.CreatedAt),
		UpdatedAt:     fromNanos(row.UpdatedAt),
	}, nil
}

func (r *OrderRepository) Update(ctx context.Context, o *domorder.Order) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ?
	`, string(o.Status), o.FailureReason, toNanos(o.UpdatedAt), o.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domorder.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) InsertSubOrder(ctx context.Context, s *domorder.SubOrder) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sub_orders(id, order_id, vendor_id, method_ref, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.OrderID, s.VendorID, s.MethodRef, string(s.Status), toNanos(s.CreatedAt), toNanos(s.UpdatedAt)); err != nil {
		if isUniqueViolation(err) {
			return domorder.ErrConflict
		}
		return err
	}
	for i, line := range s.Lines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sub_order_lines(sub_order_id, idx, line_ref, sku_id, category_id, quantity, unit_price_cents, reservation_token)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, s.ID, i, line.LineRef, line.SKUID, line.CategoryID, line.Quantity, line.UnitPriceCents, line.ReservationToken); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *OrderRepository) GetSubOrder(ctx context.Context, id string) (*domorder.SubOrder, error) {
	var row subOrderRow
	if err := r.db.GetContext(ctx, &row, `SELECT * FROM sub_orders WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domorder.ErrSubOrderNotFound
		}
		return nil, err
	}
	return r.loadSubOrder(ctx, row)
}

func (r *OrderRepository) UpdateSubOrder(ctx context.Context, s *domorder.SubOrder) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sub_orders SET status = ?, updated_at = ? WHERE id = ?
	`, string(s.Status), toNanos(s.UpdatedAt), s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domorder.ErrSubOrderNotFound
	}
	return nil
}

func (r *OrderRepository) ListSubOrders(ctx context.Context, orderID string) ([]*domorder.SubOrder, error) {
	var rows []subOrderRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM sub_orders WHERE order_id = ? ORDER BY created_at, id
	`, orderID); err != nil {
		return nil, err
	}

	out := make([]*domorder.SubOrder, 0, len(rows))
	for _, row := range rows {
		s, err := r.loadSubOrder(ctx, row)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *OrderRepository) loadSubOrder(ctx context.Context, row subOrderRow) (*domorder.SubOrder, error) {
	var lineRows []subOrderLineRow
	if err := r.db.SelectContext(ctx, &lineRows, `
		SELECT * FROM sub_order_lines WHERE sub_order_id = ? ORDER BY idx
	`, row.ID); err != nil {
		return nil, err
	}

	lines := make([]domorder.SubOrderLine, 0, len(lineRows))
	for _, lr := range lineRows {
		lines = append(lines, domorder.SubOrderLine{
			LineRef:          lr.LineRef,
			SKUID:            lr.SKUID,
			CategoryID:       lr.CategoryID,
			Quantity:         lr.Quantity,
			UnitPriceCents:   lr.UnitPriceCents,
			ReservationToken: lr.ReservationToken,
		})
	}

	return &domorder.SubOrder{
		ID:        row.ID,
		OrderID:   row.OrderID,
		VendorID:  row.VendorID,
		MethodRef: row.MethodRef,
		Lines:     lines,
		Status:    domorder.SubOrderStatus(row.Status),
		CreatedAt: fromNanos(row.CreatedAt),
		UpdatedAt: fromNanos(row.UpdatedAt),
	}, nil
}
