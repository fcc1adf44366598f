package settlement

import (
	"context"

	domorder "github.com/partshub/fulfillment/internal/domain/order"
	domoutbox "github.com/partshub/fulfillment/internal/domain/outbox"
	"github.com/partshub/fulfillment/internal/observability"
	"github.com/partshub/fulfillment/internal/observability/logctx"
)

const settlementWorker = "settlement_worker"

// Worker drives settlement off the sub-order stream. Each sub-order settles
// independently; the use case carries its own telemetry.
type Worker struct {
	subscriber domoutbox.Subscriber
	usecase    *SettleSubOrderUseCase
	log        observability.Logger
}

func NewWorker(subscriber domoutbox.Subscriber, usecase *SettleSubOrderUseCase, logger observability.Logger) *Worker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Worker{
		subscriber: subscriber,
		usecase:    usecase,
		log:        logger.With(observability.F("component", settlementWorker)),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.usecase == nil {
		return
	}
	w.subscriber.Subscribe(domorder.SubOrderCreatedEvent{}.EventName(), w.handleSubOrderCreated)
}

func (w *Worker) handleSubOrderCreated(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domorder.SubOrderCreatedEvent)
	if !ok {
		return nil
	}

	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("event", e.EventName()),
		observability.F("sub_order_id", evt.SubOrderID),
	)

	result, err := w.usecase.Execute(ctx, evt.SubOrderID)
	if err != nil {
		logger.Warn("sub_order_settlement_failed",
			observability.F("error", err.Error()),
		)
		return err
	}

	logger.Info("sub_order_settlement_done",
		observability.F("status", string(result.Status)),
		observability.F("lines", len(result.Lines)),
	)
	return nil
}
