package worker

import (
	"context"
	"time"

	appinventory "github.com/partshub/fulfillment/internal/application/inventory"
	"github.com/partshub/fulfillment/internal/observability"
	"github.com/partshub/fulfillment/internal/observability/logctx"
	workerpresentation "github.com/partshub/fulfillment/internal/presentation/worker"
)

const componentSweeper = "reservation_sweeper"

// Sweeper periodically releases reservations that outlived their TTL, so
// abandoned checkouts return stock without manual intervention.
type Sweeper struct {
	service  *appinventory.Service
	interval time.Duration
	log      observability.Logger
	expired  observability.Counter // inventory_reservations_expired_total{sku_id}
}

func NewSweeper(service *appinventory.Service, interval time.Duration, tel observability.Observability) *Sweeper {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Sweeper{
		service:  service,
		interval: interval,
		log:      tel.Logger().With(observability.F("component", componentSweeper)),
		expired:  tel.Metrics().Counter(observability.MReservationsExpired),
	}
}

// Run blocks until the context is canceled. Start it in its own goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("reservation_sweeper_started",
		observability.F("interval", s.interval.String()),
	)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("reservation_sweeper_stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	ctx = workerpresentation.WithJobContext(ctx, s.log, map[string]string{
		"job": "reservation_sweep",
	})
	logger := logctx.FromOr(ctx, s.log)

	released, err := s.service.ReleaseExpired(ctx, time.Now().UTC())
	if err != nil {
		logger.Error("reservation_sweep_failed",
			observability.F("error", err.Error()),
		)
		return
	}
	if len(released) == 0 {
		return
	}

	for _, res := range released {
		if s.expired != nil {
			s.expired.Add(1, observability.L("sku_id", res.SKUID))
		}
	}
	logger.Info("reservation_sweep_done",
		observability.F("released", len(released)),
	)
}
