package order

import (
	"context"
	"fmt"
	"time"

	domain "github.com/partshub/fulfillment/internal/domain/order"
	domoutbox "github.com/partshub/fulfillment/internal/domain/outbox"
	"github.com/partshub/fulfillment/internal/observability"
	"github.com/partshub/fulfillment/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const finalizerService = "order-finalizer"

// Worker finalizes orders as their sub-orders reach a settlement verdict.
// When the last sub-order terminates, the parent order completes or records
// the partial failure.
type Worker struct {
	repo       domain.Repository
	subscriber domoutbox.Subscriber
	publisher  domoutbox.Publisher
	tel        observability.Observability

	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
}

func NewWorker(
	repo domain.Repository,
	subscriber domoutbox.Subscriber,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()

	return &Worker{
		repo:       repo,
		subscriber: subscriber,
		publisher:  publisher,
		tel:        tel,
		log: tel.Logger().With(
			observability.F("service", finalizerService),
		),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.repo == nil {
		return
	}
	w.subscriber.Subscribe(domain.SubOrderSettledEvent{}.EventName(), w.handleSubOrderTerminal)
	w.subscriber.Subscribe(domain.SubOrderFailedEvent{}.EventName(), w.handleSubOrderTerminal)
}

func (w *Worker) handleSubOrderTerminal(ctx context.Context, e domoutbox.Event) (err error) {
	const useCase = "order.worker.sub_order_terminal"

	orderID, reason, ok := terminalEventDetails(e)
	if !ok {
		w.count(useCase, "ignored")
		return nil
	}

	ctx, span := w.tel.Tracer().Start(ctx, spanPrefix+"SubOrderTerminal",
		attribute.String("use_case", useCase),
		attribute.String("event", e.EventName()),
		attribute.String("order.id", orderID),
	)
	start := time.Now()
	outcome, status := "success", "OK"

	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("use_case", useCase),
		observability.F("event", e.EventName()),
		observability.F("order_id", orderID),
	)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		logger = logger.With(
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	ctx = logctx.With(ctx, logger)

	defer func() {
		lat := time.Since(start).Seconds()
		w.observe(useCase, outcome, lat)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, status)
		} else {
			span.SetStatus(codes.Ok, status)
		}
		span.End()

		logger.Info("use_case_done",
			observability.F("outcome", outcome),
			observability.F("status", status),
			observability.F("latency_seconds", lat),
		)
	}()

	entity, err := w.repo.Get(ctx, orderID)
	if err != nil {
		outcome, status = "error", "ORDER_LOAD_FAILED"
		return fmt.Errorf("finalizer: load order: %w", err)
	}

	subOrders, err := w.repo.ListSubOrders(ctx, orderID)
	if err != nil {
		outcome, status = "error", "SUB_ORDER_LIST_FAILED"
		return fmt.Errorf("finalizer: list sub-orders: %w", err)
	}

	allSettled := true
	for _, sub := range subOrders {
		if !sub.Terminal() {
			// Siblings still settling; the last terminal event finalizes.
			status = "PENDING_SIBLINGS"
			return nil
		}
		if sub.Status != domain.SubOrderSettled {
			allSettled = false
		}
	}

	// Completion requires a fully reserved order on top of fully settled
	// sub-orders; a partially reserved order stays partially_failed.
	fullyReserved := entity.Status != domain.StatusPartiallyFailed
	if err := entity.FinishSettlements(allSettled && fullyReserved); err != nil {
		outcome, status = "error", "STATE_TRANSITION_FAILED"
		return fmt.Errorf("finalizer: finish settlements: %w", err)
	}
	if err := w.repo.Update(ctx, entity); err != nil {
		outcome, status = "error", "ORDER_UPDATE_FAILED"
		return fmt.Errorf("finalizer: update order: %w", err)
	}

	if w.publisher != nil {
		ctxPub, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()

		var event domoutbox.Event
		if entity.Status == domain.StatusCompleted {
			event = domain.NewOrderSettledEvent(entity)
		} else {
			if reason == "" {
				reason = "settlement_failed"
			}
			event = domain.NewOrderPartiallyFailedEvent(entity, reason)
		}
		if perr := w.publisher.Publish(ctxPub, event); perr != nil {
			span.RecordError(perr)
			status = "EVENT_PUBLISH_FAILED"
			logger.Warn("event_publish_failed",
				observability.F("event", event.EventName()),
				observability.F("error", perr.Error()),
			)
		}
	}

	span.SetAttributes(attribute.String("order.status", string(entity.Status)))
	logger.Info("order_finalized",
		observability.F("order_status", string(entity.Status)),
		observability.F("sub_orders", len(subOrders)),
	)
	return nil
}

func terminalEventDetails(e domoutbox.Event) (orderID, reason string, ok bool) {
	switch evt := e.(type) {
	case domain.SubOrderSettledEvent:
		return evt.OrderID, "", true
	case domain.SubOrderFailedEvent:
		return evt.OrderID, evt.Reason, true
	default:
		return "", "", false
	}
}

func (w *Worker) count(useCase, outcome string) {
	if w.reqCounter != nil {
		w.reqCounter.Add(1,
			observability.L("use_case", useCase),
			observability.L("outcome", outcome),
		)
	}
}

func (w *Worker) observe(useCase, outcome string, latencySeconds float64) {
	w.count(useCase, outcome)
	if w.durHistogram != nil {
		w.durHistogram.Observe(latencySeconds,
			observability.L("use_case", useCase),
		)
	}
}
