package order

import (
	"context"

	dominv "github.com/partshub/fulfillment/internal/domain/inventory"
)

type IDGenerator interface {
	NewID() string
}

// InventoryPort is what the splitter needs from the reservation manager:
// SKU ownership lookup plus the reserve/commit/release triple.
type InventoryPort interface {
	GetSKU(ctx context.Context, skuID string) (*dominv.Record, error)
	Reserve(ctx context.Context, skuID string, quantity int64) (*dominv.Reservation, error)
	Commit(ctx context.Context, token string) (*dominv.Reservation, error)
	Release(ctx context.Context, token string) (*dominv.Reservation, error)
}
