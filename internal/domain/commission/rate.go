package commission

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNoApplicableRate = errors.New("commission: no applicable rate")
	ErrInvalidRate      = errors.New("commission: rate percentage must be between 0 and 100")
	ErrInvalidInterval  = errors.New("commission: effective_until must be after effective_from")
)

// Rate is one versioned commission policy entry. A nil VendorID or
// CategoryID means the entry applies to any vendor or any category; both nil
// is the platform default. Entries are never edited in place: superseding a
// rate closes its interval and inserts a new row.
type Rate struct {
	ID             string
	VendorID       *string
	CategoryID     *string
	RatePercent    decimal.Decimal
	FixedFeeCents  int64
	EffectiveFrom  time.Time
	EffectiveUntil *time.Time
	CreatedAt      time.Time
}

func NewRate(id string, vendorID, categoryID *string, ratePercent decimal.Decimal, fixedFeeCents int64, from time.Time, until *time.Time) (*Rate, error) {
	if id == "" {
		return nil, errors.New("commission: rate id is required")
	}
	if ratePercent.IsNegative() || ratePercent.GreaterThan(decimal.NewFromInt(100)) {
		return nil, ErrInvalidRate
	}
	if fixedFeeCents < 0 {
		return nil, errors.New("commission: fixed fee must be zero or greater")
	}
	if until != nil && !until.After(from) {
		return nil, ErrInvalidInterval
	}
	return &Rate{
		ID:             id,
		VendorID:       vendorID,
		CategoryID:     categoryID,
		RatePercent:    ratePercent,
		FixedFeeCents:  fixedFeeCents,
		EffectiveFrom:  from,
		EffectiveUntil: until,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// ActiveAt reports whether at falls inside [EffectiveFrom, EffectiveUntil).
func (r *Rate) ActiveAt(at time.Time) bool {
	if at.Before(r.EffectiveFrom) {
		return false
	}
	return r.EffectiveUntil == nil || at.Before(*r.EffectiveUntil)
}

// CommissionFor computes the platform cut for a gross amount in cents:
// half-even rounding of gross * percent / 100, plus the fixed fee, clamped
// to [0, gross] so net can never go negative.
func (r *Rate) CommissionFor(grossCents int64) int64 {
	pct := decimal.NewFromInt(grossCents).
		Mul(r.RatePercent).
		Div(decimal.NewFromInt(100)).
		RoundBank(0)
	commission := pct.IntPart() + r.FixedFeeCents
	if commission < 0 {
		return 0
	}
	if commission > grossCents {
		return grossCents
	}
	return commission
}
