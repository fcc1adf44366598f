package payout

import (
	"errors"
	"time"
)

var (
	ErrNotFound               = errors.New("payout: not found")
	ErrInvalidPeriod          = errors.New("payout: period end must be after period start")
	ErrNoSettledPayments      = errors.New("payout: no settled payments in period")
	ErrInvalidStateTransition = errors.New("payout: invalid state transition")
	ErrImmutable              = errors.New("payout: paid payouts are immutable")
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusPaid     Status = "paid"
)

// Payout rolls up one vendor's settled payments for a period. Totals are
// computed inside the same ledger transaction that claims the payments, so
// two overlapping builds can never share a payment.
type Payout struct {
	ID                   string
	VendorID             string
	PeriodStart          time.Time
	PeriodEnd            time.Time
	TotalGrossCents      int64
	TotalCommissionCents int64
	TotalNetCents        int64
	PaymentCount         int
	Status               Status
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func New(id, vendorID string, periodStart, periodEnd time.Time) (*Payout, error) {
	if id == "" {
		return nil, errors.New("payout: id is required")
	}
	if vendorID == "" {
		return nil, errors.New("payout: vendor id is required")
	}
	if !periodEnd.After(periodStart) {
		return nil, ErrInvalidPeriod
	}
	now := time.Now().UTC()
	return &Payout{
		ID:          id,
		VendorID:    vendorID,
		PeriodStart: periodStart.UTC(),
		PeriodEnd:   periodEnd.UTC(),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ApplyTotals records the sums computed by the claim transaction.
func (p *Payout) ApplyTotals(gross, commission, net int64, count int) {
	p.TotalGrossCents = gross
	p.TotalCommissionCents = commission
	p.TotalNetCents = net
	p.PaymentCount = count
	p.touch()
}

// Approve is driven by the external approval workflow.
func (p *Payout) Approve() error {
	switch p.Status {
	case StatusPending, StatusApproved:
		p.Status = StatusApproved
		p.touch()
		return nil
	case StatusPaid:
		return ErrImmutable
	default:
		return ErrInvalidStateTransition
	}
}

// MarkPaid finalizes the payout; the record is immutable afterwards.
func (p *Payout) MarkPaid() error {
	switch p.Status {
	case StatusApproved, StatusPaid:
		p.Status = StatusPaid
		p.touch()
		return nil
	default:
		return ErrInvalidStateTransition
	}
}

func (p *Payout) touch() {
	p.UpdatedAt = time.Now().UTC()
}

func (p *Payout) Clone() *Payout {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}
