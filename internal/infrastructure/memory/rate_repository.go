package memory

import (
	"context"
	"sync"

	domrate "github.com/partshub/fulfillment/internal/domain/commission"
)

// RateRepository keeps the versioned commission policy table in memory.
type RateRepository struct {
	mu    sync.RWMutex
	rates []*domrate.Rate
}

func NewRateRepository() *RateRepository {
	return &RateRepository{}
}

func (r *RateRepository) Insert(_ context.Context, rate *domrate.Rate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *rate
	r.rates = append(r.rates, &clone)
	return nil
}

// ListCandidates returns rates whose vendor/category either match or are
// wildcards. Interval and precedence filtering stay in the domain resolver.
func (r *RateRepository) ListCandidates(_ context.Context, vendorID, categoryID string) ([]*domrate.Rate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domrate.Rate
	for _, rate := range r.rates {
		if rate.VendorID != nil && *rate.VendorID != vendorID {
			continue
		}
		if rate.CategoryID != nil && *rate.CategoryID != categoryID {
			continue
		}
		clone := *rate
		out = append(out, &clone)
	}
	return out, nil
}
