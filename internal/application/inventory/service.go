package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	dominv "github.com/partshub/fulfillment/internal/domain/inventory"
	domoutbox "github.com/partshub/fulfillment/internal/domain/outbox"
	"github.com/partshub/fulfillment/internal/observability"
	"github.com/partshub/fulfillment/internal/observability/logctx"
)

const componentInventory = "inventory_service"

// Service is the reservation manager. All stock mutations funnel through
// the ledger repository's atomic operations; the service layers on token
// generation, cache invalidation, and low-stock signalling.
type Service struct {
	repo      dominv.Repository
	cache     AvailabilityCache
	publisher domoutbox.Publisher
	idGen     IDGenerator
	ttl       time.Duration
	log       observability.Logger
}

func NewService(
	repo dominv.Repository,
	cache AvailabilityCache,
	publisher domoutbox.Publisher,
	idGen IDGenerator,
	ttl time.Duration,
	logger observability.Logger,
) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		idGen:     idGen,
		ttl:       ttl,
		log:       logger.With(observability.F("component", componentInventory)),
	}
}

// Reserve places a hold on a SKU. The conditional check and the counter
// bump are one atomic ledger operation, so concurrent callers on the same
// SKU can never oversell.
func (s *Service) Reserve(ctx context.Context, skuID string, quantity int64) (*dominv.Reservation, error) {
	if quantity <= 0 {
		return nil, dominv.ErrInvalidQuantity
	}
	token := s.idGen.NewID()
	res, err := s.repo.Reserve(ctx, skuID, token, quantity, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("inventory: reserve: %w", err)
	}
	s.invalidate(ctx, skuID)
	return res, nil
}

// Commit converts a hold into a permanent decrement. Idempotent.
func (s *Service) Commit(ctx context.Context, token string) (*dominv.Reservation, error) {
	res, err := s.repo.Commit(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("inventory: commit: %w", err)
	}
	s.invalidate(ctx, res.SKUID)
	s.signalLowStock(ctx, res.SKUID)
	return res, nil
}

// Release cancels a hold without touching on-hand stock. Idempotent.
func (s *Service) Release(ctx context.Context, token string) (*dominv.Reservation, error) {
	res, err := s.repo.Release(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("inventory: release: %w", err)
	}
	s.invalidate(ctx, res.SKUID)
	return res, nil
}

// ReleaseExpired sweeps abandoned holds past their TTL. Each release is
// logged; expiry is silent recovery, not an error.
func (s *Service) ReleaseExpired(ctx context.Context, now time.Time) ([]dominv.Reservation, error) {
	released, err := s.repo.ReleaseExpired(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("inventory: release expired: %w", err)
	}
	logger := logctx.FromOr(ctx, s.log)
	for _, res := range released {
		s.invalidate(ctx, res.SKUID)
		logger.Info("reservation_expired",
			observability.F("token", res.Token),
			observability.F("sku_id", res.SKUID),
			observability.F("quantity", res.Quantity),
		)
		if s.publisher != nil {
			if err := s.publisher.Publish(ctx, dominv.NewReservationExpiredEvent(res)); err != nil {
				logger.Warn("reservation_expired_publish_failed",
					observability.F("token", res.Token),
					observability.F("error", err.Error()),
				)
			}
		}
	}
	return released, nil
}

// GetSKU returns the SKU record (vendor, category, counters).
func (s *Service) GetSKU(ctx context.Context, skuID string) (*dominv.Record, error) {
	return s.repo.Get(ctx, skuID)
}

// Availability reads the reservable quantity, through the cache when one is
// configured.
func (s *Service) Availability(ctx context.Context, skuID string) (int64, error) {
	if s.cache != nil {
		if available, ok, err := s.cache.Get(ctx, skuID); err == nil && ok {
			return available, nil
		} else if err != nil {
			logctx.FromOr(ctx, s.log).Warn("availability_cache_read_failed",
				observability.F("sku_id", skuID),
				observability.F("error", err.Error()),
			)
		}
	}
	rec, err := s.repo.Get(ctx, skuID)
	if err != nil {
		return 0, err
	}
	available := rec.Available()
	if s.cache != nil {
		if err := s.cache.Set(ctx, skuID, available); err != nil {
			logctx.FromOr(ctx, s.log).Warn("availability_cache_write_failed",
				observability.F("sku_id", skuID),
				observability.F("error", err.Error()),
			)
		}
	}
	return available, nil
}

// Upsert creates or replaces a SKU record.
func (s *Service) Upsert(ctx context.Context, rec *dominv.Record) error {
	if err := s.repo.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("inventory: upsert: %w", err)
	}
	s.invalidate(ctx, rec.SKUID)
	return nil
}

// Restock is the explicit compensating operation that adds stock back, used
// by the surrounding cancellation/refund flow. Never triggered implicitly.
func (s *Service) Restock(ctx context.Context, skuID string, quantity int64) (int64, error) {
	if quantity <= 0 {
		return 0, dominv.ErrInvalidQuantity
	}
	onHand, err := s.repo.Restock(ctx, skuID, quantity)
	if err != nil {
		return 0, fmt.Errorf("inventory: restock: %w", err)
	}
	s.invalidate(ctx, skuID)
	return onHand, nil
}

func (s *Service) invalidate(ctx context.Context, skuID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, skuID); err != nil {
		logctx.FromOr(ctx, s.log).Warn("availability_cache_invalidate_failed",
			observability.F("sku_id", skuID),
			observability.F("error", err.Error()),
		)
	}
}

func (s *Service) signalLowStock(ctx context.Context, skuID string) {
	if s.publisher == nil {
		return
	}
	rec, err := s.repo.Get(ctx, skuID)
	if err != nil {
		if !errors.Is(err, dominv.ErrNotFound) {
			logctx.FromOr(ctx, s.log).Warn("low_stock_check_failed",
				observability.F("sku_id", skuID),
				observability.F("error", err.Error()),
			)
		}
		return
	}
	if !rec.BelowThreshold() {
		return
	}
	if err := s.publisher.Publish(ctx, dominv.NewLowStockEvent(rec)); err != nil {
		logctx.FromOr(ctx, s.log).Warn("low_stock_publish_failed",
			observability.F("sku_id", skuID),
			observability.F("error", err.Error()),
		)
	}
}
