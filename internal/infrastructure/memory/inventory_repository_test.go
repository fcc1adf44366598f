package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dominv "github.com/partshub/fulfillment/internal/domain/inventory"
)

func seedSKU(t *testing.T, repo *InventoryRepository, skuID string, onHand int64) {
	t.Helper()
	rec, err := dominv.NewRecord(skuID, "vendor_1", "cat_1", onHand, 0)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(context.Background(), rec))
}

func TestReserveDecrementsAvailability(t *testing.T) {
	ctx := context.Background()
	repo := NewInventoryRepository()
	seedSKU(t, repo, "sku_a", 10)

	res, err := repo.Reserve(ctx, "sku_a", "rsv_1", 4, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, dominv.ReservationActive, res.State)

	rec, err := repo.Get(ctx, "sku_a")
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.OnHand)
	assert.Equal(t, int64(4), rec.Reserved)
	assert.Equal(t, int64(6), rec.Available())
}

func TestReserveRejectsOversellAndUnknownSKU(t *testing.T) {
	ctx := context.Background()
	repo := NewInventoryRepository()
	seedSKU(t, repo, "sku_a", 3)

	_, err := repo.Reserve(ctx, "sku_a", "rsv_1", 4, time.Minute)
	assert.ErrorIs(t, err, dominv.ErrInsufficientStock)

	_, err = repo.Reserve(ctx, "sku_missing", "rsv_2", 1, time.Minute)
	assert.ErrorIs(t, err, dominv.ErrNotFound)

	_, err = repo.Reserve(ctx, "sku_a", "rsv_3", 0, time.Minute)
	assert.ErrorIs(t, err, dominv.ErrInvalidQuantity)
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	ctx := context.Background()
	repo := NewInventoryRepository()
	seedSKU(t, repo, "sku_a", 50)

	const workers = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Reserve(ctx, "sku_a", fmt.Sprintf("rsv_%d", i), 1, time.Minute)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, dominv.ErrInsufficientStock)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, succeeded)

	rec, err := repo.Get(ctx, "sku_a")
	require.NoError(t, err)
	assert.Equal(t, int64(50), rec.Reserved)
	assert.Equal(t, int64(0), rec.Available())
}

func TestCommitConvertsHoldToDecrement(t *testing.T) {
	ctx := context.Background()
	repo := NewInventoryRepository()
	seedSKU(t, repo, "sku_a", 10)

	_, err := repo.Reserve(ctx, "sku_a", "rsv_1", 4, time.Minute)
	require.NoError(t, err)

	res, err := repo.Commit(ctx, "rsv_1")
	require.NoError(t, err)
	assert.Equal(t, dominv.ReservationCommitted, res.State)

	rec, err := repo.Get(ctx, "sku_a")
	require.NoError(t, err)
	assert.Equal(t, int64(6), rec.OnHand)
	assert.Equal(t, int64(0), rec.Reserved)

	// Commit is idempotent; the counters move exactly once.
	_, err = repo.Commit(ctx, "rsv_1")
	require.NoError(t, err)
	rec, err = repo.Get(ctx, "sku_a")
	require.NoError(t, err)
	assert.Equal(t, int64(6), rec.OnHand)

	// A committed hold can no longer be released.
	_, err = repo.Release(ctx, "rsv_1")
	assert.ErrorIs(t, err, dominv.ErrReservationCommitted)
}

func TestReleaseReturnsHold(t *testing.T) {
	ctx := context.Background()
	repo := NewInventoryRepository()
	seedSKU(t, repo, "sku_a", 10)

	_, err := repo.Reserve(ctx, "sku_a", "rsv_1", 4, time.Minute)
	require.NoError(t, err)

	res, err := repo.Release(ctx, "rsv_1")
	require.NoError(t, err)
	assert.Equal(t, dominv.ReservationReleased, res.State)

	rec, err := repo.Get(ctx, "sku_a")
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.OnHand)
	assert.Equal(t, int64(0), rec.Reserved)

	// Release is idempotent.
	_, err = repo.Release(ctx, "rsv_1")
	require.NoError(t, err)
	rec, err = repo.Get(ctx, "sku_a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Reserved)

	// A released hold can no longer be committed.
	_, err = repo.Commit(ctx, "rsv_1")
	assert.ErrorIs(t, err, dominv.ErrReservationReleased)

	_, err = repo.Release(ctx, "rsv_unknown")
	assert.ErrorIs(t, err, dominv.ErrReservationNotFound)
}

func TestReleaseExpiredSweepsOnlyOverdueHolds(t *testing.T) {
	ctx := context.Background()
	repo := NewInventoryRepository()
	seedSKU(t, repo, "sku_a", 10)

	_, err := repo.Reserve(ctx, "sku_a", "rsv_short", 3, time.Millisecond)
	require.NoError(t, err)
	_, err = repo.Reserve(ctx, "sku_a", "rsv_long", 2, time.Hour)
	require.NoError(t, err)

	released, err := repo.ReleaseExpired(ctx, time.Now().UTC().Add(time.Second))
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.Equal(t, "rsv_short", released[0].Token)

	rec, err := repo.Get(ctx, "sku_a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Reserved)

	// The sweep is a release: the hold cannot be committed afterwards.
	_, err = repo.Commit(ctx, "rsv_short")
	assert.ErrorIs(t, err, dominv.ErrReservationReleased)

	// A second sweep finds nothing.
	released, err = repo.ReleaseExpired(ctx, time.Now().UTC().Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, released)
}

func TestRestock(t *testing.T) {
	ctx := context.Background()
	repo := NewInventoryRepository()
	seedSKU(t, repo, "sku_a", 5)

	onHand, err := repo.Restock(ctx, "sku_a", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(12), onHand)

	_, err = repo.Restock(ctx, "sku_a", 0)
	assert.ErrorIs(t, err, dominv.ErrInvalidQuantity)

	_, err = repo.Restock(ctx, "sku_missing", 1)
	assert.ErrorIs(t, err, dominv.ErrNotFound)
}
