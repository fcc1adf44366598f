package commission

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domrate "github.com/partshub/fulfillment/internal/domain/commission"
	"github.com/partshub/fulfillment/internal/infrastructure/memory"
)

func addRate(t *testing.T, r *Resolver, id string, vendorID, categoryID *string, pct string) {
	t.Helper()
	rate, err := domrate.NewRate(id, vendorID, categoryID, decimal.RequireFromString(pct), 0, time.Now().UTC().Add(-time.Hour), nil)
	require.NoError(t, err)
	require.NoError(t, r.AddRate(context.Background(), rate))
}

func TestResolverAppliesPrecedenceOverStore(t *testing.T) {
	ctx := context.Background()
	resolver := NewResolver(memory.NewRateRepository(), nil)

	v1 := "v1"
	books := "books"
	addRate(t, resolver, "default", nil, nil, "10")
	addRate(t, resolver, "vendor", &v1, nil, "6")
	addRate(t, resolver, "vendor-category", &v1, &books, "4")

	now := time.Now().UTC()

	rate, err := resolver.Resolve(ctx, "v1", "books", now)
	require.NoError(t, err)
	assert.Equal(t, "vendor-category", rate.ID)

	rate, err = resolver.Resolve(ctx, "v1", "toys", now)
	require.NoError(t, err)
	assert.Equal(t, "vendor", rate.ID)

	rate, err = resolver.Resolve(ctx, "v2", "toys", now)
	require.NoError(t, err)
	assert.Equal(t, "default", rate.ID)
}

func TestResolverNoApplicableRate(t *testing.T) {
	resolver := NewResolver(memory.NewRateRepository(), nil)
	_, err := resolver.Resolve(context.Background(), "v1", "books", time.Now().UTC())
	assert.ErrorIs(t, err, domrate.ErrNoApplicableRate)
}
