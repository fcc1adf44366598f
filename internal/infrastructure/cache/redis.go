package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const availabilityPrefix = "availability:"

// AvailabilityCache is a read-through Redis cache over the availability
// query. Correctness never depends on it: every stock mutation invalidates
// the key, and a miss falls back to the ledger.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAvailabilityCache(client *redis.Client, ttl time.Duration) *AvailabilityCache {
	return &AvailabilityCache{client: client, ttl: ttl}
}

func (c *AvailabilityCache) Get(ctx context.Context, skuID string) (int64, bool, error) {
	val, err := c.client.Get(ctx, availabilityPrefix+skuID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	available, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return available, true, nil
}

func (c *AvailabilityCache) Set(ctx context.Context, skuID string, available int64) error {
	return c.client.Set(ctx, availabilityPrefix+skuID, strconv.FormatInt(available, 10), c.ttl).Err()
}

func (c *AvailabilityCache) Invalidate(ctx context.Context, skuID string) error {
	return c.client.Del(ctx, availabilityPrefix+skuID).Err()
}
