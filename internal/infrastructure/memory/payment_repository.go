package memory

import (
	"context"
	"sync"

	dompayment "github.com/partshub/fulfillment/internal/domain/payment"
)

// PaymentRepository keeps the payment ledger in process memory. The
// (sub_order_id, line_ref) uniqueness check runs under the same lock as the
// insert, so concurrent settlement runs cannot both record the same line.
type PaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]*dompayment.Payment
	byLine   map[string]string   // subOrderID+"\x00"+lineRef -> payment id
	bySub    map[string][]string // subOrderID -> payment ids, insertion order
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		payments: make(map[string]*dompayment.Payment),
		byLine:   make(map[string]string),
		bySub:    make(map[string][]string),
	}
}

func lineKey(subOrderID, lineRef string) string {
	return subOrderID + "\x00" + lineRef
}

func (r *PaymentRepository) Insert(_ context.Context, p *dompayment.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := lineKey(p.SubOrderID, p.LineRef)
	if _, exists := r.byLine[key]; exists {
		return dompayment.ErrConflict
	}
	r.payments[p.ID] = p.Clone()
	r.byLine[key] = p.ID
	r.bySub[p.SubOrderID] = append(r.bySub[p.SubOrderID], p.ID)
	return nil
}

func (r *PaymentRepository) FindBySubOrderLine(_ context.Context, subOrderID, lineRef string) (*dompayment.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byLine[lineKey(subOrderID, lineRef)]
	if !ok {
		return nil, dompayment.ErrNotFound
	}
	return r.payments[id].Clone(), nil
}

func (r *PaymentRepository) Update(_ context.Context, p *dompayment.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.payments[p.ID]
	if !ok {
		return dompayment.ErrNotFound
	}
	// Amounts are immutable; only the verdict fields move.
	existing.Status = p.Status
	existing.TransactionID = p.TransactionID
	existing.FailureReason = p.FailureReason
	existing.UpdatedAt = p.UpdatedAt
	return nil
}

func (r *PaymentRepository) ListBySubOrder(_ context.Context, subOrderID string) ([]*dompayment.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.bySub[subOrderID]
	out := make([]*dompayment.Payment, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.payments[id]; ok {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

// claimSettled stamps every settled, unclaimed payment of the vendor created
// inside [start, end) with the payout id and returns the claimed set. Used by
// the payout repository under its own build lock.
func (r *PaymentRepository) claimSettled(vendorID, payoutID string, startNanos, endNanos int64) []*dompayment.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()

	var claimed []*dompayment.Payment
	for _, p := range r.payments {
		if p.VendorID != vendorID || p.Status != dompayment.StatusSettled || p.PayoutID != "" {
			continue
		}
		// Nanosecond bounds, matching the SQL ledger's timestamp columns.
		created := p.CreatedAt.UnixNano()
		if created < startNanos || created >= endNanos {
			continue
		}
		p.PayoutID = payoutID
		claimed = append(claimed, p.Clone())
	}
	return claimed
}
