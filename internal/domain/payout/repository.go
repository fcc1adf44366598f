package payout

import "context"

type Repository interface {
	// BuildFromSettledPayments claims every settled, unclaimed payment of
	// the payout's vendor with created_at inside [PeriodStart, PeriodEnd),
	// stamps them with the payout id, computes the totals, and persists the
	// payout — all inside one ledger transaction. The claim marker, not the
	// date range, is the exclusivity authority, so late-settled payments
	// from an earlier window are picked up by the next build instead of
	// being dropped or double-counted. ErrNoSettledPayments when nothing is
	// claimable.
	BuildFromSettledPayments(ctx context.Context, p *Payout) error

	Get(ctx context.Context, id string) (*Payout, error)

	// Update persists a status transition (approve / mark paid).
	Update(ctx context.Context, p *Payout) error
}
