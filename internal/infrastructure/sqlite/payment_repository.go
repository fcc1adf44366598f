package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	dompayment "github.com/partshub/fulfillment/internal/domain/payment"
)

type PaymentRepository struct {
	db *sqlx.DB
}

func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

type paymentRow struct {
	ID              string `db:"id"`
	SubOrderID      string `db:"sub_order_id"`
	LineRef         string `db:"line_ref"`
	VendorID        string `db:"vendor_id"`
	GrossCents      int64  `db:"gross_cents"`
	CommissionCents int64  `db:"commission_cents"`
	NetCents        int64  `db:"net_cents"`
	Status          string `db:"status"`
	TransactionID   string `db:"transaction_id"`
	FailureReason   string `db:"failure_reason"`
	PayoutID        string `db:"payout_id"`
	ReversalOf      string `db:"reversal_of"`
	CreatedAt       int64  `db:"created_at"`
	UpdatedAt       int64  `db:"updated_at"`
}

func (r paymentRow) toDomain() *dompayment.Payment {
	return &dompayment.Payment{
		ID:              r.ID,
		SubOrderID:      r.SubOrderID,
		LineRef:         r.LineRef,
		VendorID:        r.VendorID,
		GrossCents:      r.GrossCents,
		CommissionCents: r.CommissionCents,
		NetCents:        r.NetCents,
		Status:          dompayment.Status(r.Status),
		TransactionID:   r.TransactionID,
		FailureReason:   r.FailureReason,
		PayoutID:        r.PayoutID,
		ReversalOf:      r.ReversalOf,
		CreatedAt:       fromNanos(r.CreatedAt),
		UpdatedAt:       fromNanos(r.UpdatedAt),
	}
}

func (r *PaymentRepository) Insert(ctx context.Context, p *dompayment.Payment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments(
			id, sub_order_id, line_ref, vendor_id,
			gross_cents, commission_cents, net_cents,
			status, transaction_id, failure_reason, payout_id, reversal_of,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.SubOrderID, p.LineRef, p.VendorID,
		p.GrossCents, p.CommissionCents, p.NetCents,
		string(p.Status), p.TransactionID, p.FailureReason, p.PayoutID, p.ReversalOf,
		toNanos(p.CreatedAt), toNanos(p.UpdatedAt))
	if isUniqueViolation(err) {
		return dompayment.ErrConflict
	}
	return err
}

func (r *PaymentRepository) FindBySubOrderLine(ctx context.Context, subOrderID, lineRef string) (*dompayment.Payment, error) {
	var row paymentRow
	if err := r.db.GetContext(ctx, &row, `
		SELECT * FROM payments WHERE sub_order_id = ? AND line_ref = ?
	`, subOrderID, lineRef); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dompayment.ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *PaymentRepository) Update(ctx context.Context, p *dompayment.Payment) error {
	// Amounts are immutable; only verdict fields are written.
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = ?, transaction_id = ?, failure_reason = ?, updated_at = ?
		WHERE id = ?
	`, string(p.Status), p.TransactionID, p.FailureReason, toNanos(p.UpdatedAt), p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dompayment.ErrNotFound
	}
	return nil
}

func (r *PaymentRepository) ListBySubOrder(ctx context.Context, subOrderID string) ([]*dompayment.Payment, error) {
	var rows []paymentRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM payments WHERE sub_order_id = ? ORDER BY created_at, id
	`, subOrderID); err != nil {
		return nil, err
	}
	out := make([]*dompayment.Payment, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}
