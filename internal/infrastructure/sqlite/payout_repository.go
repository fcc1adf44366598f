package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	dompayment "github.com/partshub/fulfillment/internal/domain/payment"
	dompayout "github.com/partshub/fulfillment/internal/domain/payout"
)

type PayoutRepository struct {
	db *sqlx.DB
}

func NewPayoutRepository(db *sqlx.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

type payoutRow struct {
	ID                   string `db:"id"`
	VendorID             string `db:"vendor_id"`
	PeriodStart          int64  `db:"period_start"`
	PeriodEnd            int64  `db:"period_end"`
	TotalGrossCents      int64  `db:"total_gross_cents"`
	TotalCommissionCents int64  `db:"total_commission_cents"`
	TotalNetCents        int64  `db:"total_net_cents"`
	PaymentCount         int    `db:"payment_count"`
	Status               string `db:"status"`
	CreatedAt            int64  `db:"created_at"`
	UpdatedAt            int64  `db:"updated_at"`
}

func (r payoutRow) toDomain() *dompayout.Payout {
	return &dompayout.Payout{
		ID:                   r.ID,
		VendorID:             r.VendorID,
		PeriodStart:          fromNanos(r.PeriodStart),
		PeriodEnd:            fromNanos(r.PeriodEnd),
		TotalGrossCents:      r.TotalGrossCents,
		TotalCommissionCents: r.TotalCommissionCents,
		TotalNetCents:        r.TotalNetCents,
		PaymentCount:         r.PaymentCount,
		Status:               dompayout.Status(r.Status),
		CreatedAt:            fromNanos(r.CreatedAt),
		UpdatedAt:            fromNanos(r.UpdatedAt),
	}
}

// BuildFromSettledPayments claims and totals in one transaction. The payout_id
// stamp is the exclusivity authority: a payment claimed here is invisible to
// every later build, whatever period that build uses.
func (r *PayoutRepository) BuildFromSettledPayments(ctx context.Context, p *dompayout.Payout) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE payments
		SET payout_id = ?
		WHERE vendor_id = ? AND status = ? AND payout_id = ''
		  AND created_at >= ? AND created_at < ?
	`, p.ID, p.VendorID, string(dompayment.StatusSettled), toNanos(p.PeriodStart), toNanos(p.PeriodEnd))
	if err != nil {
		return err
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if claimed == 0 {
		return dompayout.ErrNoSettledPayments
	}

	var totals struct {
		Gross      int64 `db:"gross"`
		Commission int64 `db:"commission"`
		Net        int64 `db:"net"`
		Count      int   `db:"count"`
	}
	if err := tx.GetContext(ctx, &totals, `
		SELECT
		  COALESCE(SUM(gross_cents), 0)      AS gross,
		  COALESCE(SUM(commission_cents), 0) AS commission,
		  COALESCE(SUM(net_cents), 0)        AS net,
		  COUNT(*)                           AS count
		FROM payments WHERE payout_id = ?
	`, p.ID); err != nil {
		return err
	}
	p.ApplyTotals(totals.Gross, totals.Commission, totals.Net, totals.Count)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO payouts(
			id, vendor_id, period_start, period_end,
			total_gross_cents, total_commission_cents, total_net_cents, payment_count,
			status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.VendorID, toNanos(p.PeriodStart), toNanos(p.PeriodEnd),
		p.TotalGrossCents, p.TotalCommissionCents, p.TotalNetCents, p.PaymentCount,
		string(p.Status), toNanos(p.CreatedAt), toNanos(p.UpdatedAt)); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *PayoutRepository) Get(ctx context.Context, id string) (*dompayout.Payout, error) {
	var row payoutRow
	if err := r.db.GetContext(ctx, &row, `SELECT * FROM payouts WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dompayout.ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *PayoutRepository) Update(ctx context.Context, p *dompayout.Payout) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payouts SET status = ?, updated_at = ? WHERE id = ?
	`, string(p.Status), toNanos(p.UpdatedAt), p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dompayout.ErrNotFound
	}
	return nil
}
