package payment

import "context"

type Repository interface {
	// Insert persists a new payment. ErrConflict signals that a payment for
	// the same (sub_order_id, line_ref) already exists, which is how
	// settlement stays at-most-once-effective under retries.
	Insert(ctx context.Context, p *Payment) error

	FindBySubOrderLine(ctx context.Context, subOrderID, lineRef string) (*Payment, error)

	// Update persists a status transition. Amounts are immutable; ledger
	// implementations only write status, transaction id, and failure reason.
	Update(ctx context.Context, p *Payment) error

	ListBySubOrder(ctx context.Context, subOrderID string) ([]*Payment, error)
}
