package settlement

import (
	"context"
	"time"

	domrate "github.com/partshub/fulfillment/internal/domain/commission"
)

type IDGenerator interface {
	NewID() string
}

// RateResolver yields the commission rate in effect for a vendor/category at
// a point in time. Satisfied by the commission resolver service.
type RateResolver interface {
	Resolve(ctx context.Context, vendorID, categoryID string, at time.Time) (*domrate.Rate, error)
}
