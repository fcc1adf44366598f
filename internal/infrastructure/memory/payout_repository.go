package memory

import (
	"context"
	"sync"

	dompayout "github.com/partshub/fulfillment/internal/domain/payout"
)

// PayoutRepository aggregates payouts over the in-memory payment ledger. The
// build lock serializes overlapping builds so the claim-then-total step stays
// atomic, mirroring the SQL transaction.
type PayoutRepository struct {
	mu       sync.RWMutex
	buildMu  sync.Mutex
	payouts  map[string]*dompayout.Payout
	payments *PaymentRepository
}

func NewPayoutRepository(payments *PaymentRepository) *PayoutRepository {
	return &PayoutRepository{
		payouts:  make(map[string]*dompayout.Payout),
		payments: payments,
	}
}

func (r *PayoutRepository) BuildFromSettledPayments(_ context.Context, p *dompayout.Payout) error {
	r.buildMu.Lock()
	defer r.buildMu.Unlock()

	claimed := r.payments.claimSettled(p.VendorID, p.ID, p.PeriodStart.UnixNano(), p.PeriodEnd.UnixNano())
	if len(claimed) == 0 {
		return dompayout.ErrNoSettledPayments
	}

	var gross, commission, net int64
	for _, payment := range claimed {
		gross += payment.GrossCents
		commission += payment.CommissionCents
		net += payment.NetCents
	}
	p.ApplyTotals(gross, commission, net, len(claimed))

	r.mu.Lock()
	r.payouts[p.ID] = p.Clone()
	r.mu.Unlock()
	return nil
}

func (r *PayoutRepository) Get(_ context.Context, id string) (*dompayout.Payout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.payouts[id]
	if !ok {
		return nil, dompayout.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *PayoutRepository) Update(_ context.Context, p *dompayout.Payout) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.payouts[p.ID]; !ok {
		return dompayout.ErrNotFound
	}
	r.payouts[p.ID] = p.Clone()
	return nil
}
