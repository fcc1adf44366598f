package sqlite

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	domrate "github.com/partshub/fulfillment/internal/domain/commission"
)

type RateRepository struct {
	db *sqlx.DB
}

func NewRateRepository(db *sqlx.DB) *RateRepository {
	return &RateRepository{db: db}
}

type rateRow struct {
	ID             string  `db:"id"`
	VendorID       *string `db:"vendor_id"`
	CategoryID     *string `db:"category_id"`
	RatePercent    string  `db:"rate_percent"`
	FixedFeeCents  int64   `db:"fixed_fee_cents"`
	EffectiveFrom  int64   `db:"effective_from"`
	EffectiveUntil *int64  `db:"effective_until"`
	CreatedAt      int64   `db:"created_at"`
}

func (r rateRow) toDomain() (*domrate.Rate, error) {
	pct, err := decimal.NewFromString(r.RatePercent)
	if err != nil {
		return nil, err
	}
	rate := &domrate.Rate{
		ID:            r.ID,
		VendorID:      r.VendorID,
		CategoryID:    r.CategoryID,
		RatePercent:   pct,
		FixedFeeCents: r.FixedFeeCents,
		EffectiveFrom: fromNanos(r.EffectiveFrom),
		CreatedAt:     fromNanos(r.CreatedAt),
	}
	if r.EffectiveUntil != nil {
		until := fromNanos(*r.EffectiveUntil)
		rate.EffectiveUntil = &until
	}
	return rate, nil
}

func (r *RateRepository) Insert(ctx context.Context, rate *domrate.Rate) error {
	var until *int64
	if rate.EffectiveUntil != nil {
		n := toNanos(*rate.EffectiveUntil)
		until = &n
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO commission_rates(
			id, vendor_id, category_id, rate_percent, fixed_fee_cents,
			effective_from, effective_until, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rate.ID, rate.VendorID, rate.CategoryID, rate.RatePercent.String(), rate.FixedFeeCents,
		toNanos(rate.EffectiveFrom), until, toNanos(rate.CreatedAt))
	return err
}

// ListCandidates pulls every rate that matches the vendor/category exactly or
// through a NULL wildcard. Interval filtering and tier precedence stay in the
// domain resolver.
func (r *RateRepository) ListCandidates(ctx context.Context, vendorID, categoryID string) ([]*domrate.Rate, error) {
	var rows []rateRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM commission_rates
		WHERE (vendor_id IS NULL OR vendor_id = ?)
		  AND (category_id IS NULL OR category_id = ?)
	`, vendorID, categoryID); err != nil {
		return nil, err
	}

	out := make([]*domrate.Rate, 0, len(rows))
	for _, row := range rows {
		rate, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, rate)
	}
	return out, nil
}
