package inventory

import "context"

type IDGenerator interface {
	NewID() string
}

// AvailabilityCache is an optional read-through cache for availability
// reads. The ledger stays authoritative: every reserve, commit, and release
// invalidates the cached value.
type AvailabilityCache interface {
	Get(ctx context.Context, skuID string) (int64, bool, error)
	Set(ctx context.Context, skuID string, available int64) error
	Invalidate(ctx context.Context, skuID string) error
}
