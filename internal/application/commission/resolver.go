package commission

import (
	"context"
	"fmt"
	"time"

	domrate "github.com/partshub/fulfillment/internal/domain/commission"
	"github.com/partshub/fulfillment/internal/observability"
	"github.com/partshub/fulfillment/internal/observability/logctx"
)

const componentResolver = "commission_resolver"

// Resolver selects the effective commission rate for a vendor/category at a
// point in time. Precedence lives in the domain; this layer adds storage
// access and anomaly reporting.
type Resolver struct {
	repo domrate.Repository
	log  observability.Logger
}

func NewResolver(repo domrate.Repository, logger observability.Logger) *Resolver {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Resolver{
		repo: repo,
		log:  logger.With(observability.F("component", componentResolver)),
	}
}

// Resolve returns the rate in effect. A tier with multiple qualifying rates
// is a policy-data anomaly: the most recently created rate wins and the
// condition is logged, never silently absorbed. ErrNoApplicableRate means
// even the platform default is missing — a configuration fault, not a
// normal runtime outcome.
func (r *Resolver) Resolve(ctx context.Context, vendorID, categoryID string, at time.Time) (*domrate.Rate, error) {
	candidates, err := r.repo.ListCandidates(ctx, vendorID, categoryID)
	if err != nil {
		return nil, fmt.Errorf("commission: list candidates: %w", err)
	}
	resolution, err := domrate.Resolve(candidates, vendorID, categoryID, at)
	if err != nil {
		return nil, err
	}
	if resolution.Anomaly {
		logctx.FromOr(ctx, r.log).Warn("commission_rate_anomaly",
			observability.F("vendor_id", vendorID),
			observability.F("category_id", categoryID),
			observability.F("at", at),
			observability.F("rate_id", resolution.Rate.ID),
		)
	}
	return resolution.Rate, nil
}

// AddRate inserts a new versioned rate entry.
func (r *Resolver) AddRate(ctx context.Context, rate *domrate.Rate) error {
	if err := r.repo.Insert(ctx, rate); err != nil {
		return fmt.Errorf("commission: insert rate: %w", err)
	}
	return nil
}
