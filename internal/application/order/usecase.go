package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/partshub/fulfillment/internal/application"
	dominv "github.com/partshub/fulfillment/internal/domain/inventory"
	domain "github.com/partshub/fulfillment/internal/domain/order"
	domoutbox "github.com/partshub/fulfillment/internal/domain/outbox"
	"github.com/partshub/fulfillment/internal/observability"
	"github.com/partshub/fulfillment/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	orderService       = "order-service"
	useCaseOrderSubmit = "order.submit"
	spanPrefix         = "UC."
	publishPeer        = "outbox"
	publishTimeout     = 300 * time.Millisecond
)

var (
	ErrNotFound   = domain.ErrNotFound
	ErrConflict   = domain.ErrConflict
	ErrRepository = errors.New("order: repository failure")
)

// PartialFailurePolicy is the caller's decision for orders where only some
// lines could be reserved: keep the reserved lines (partial checkout) or
// release everything.
type PartialFailurePolicy string

const (
	PartialContinue PartialFailurePolicy = "continue"
	PartialRollback PartialFailurePolicy = "rollback"
)

type LineInput struct {
	SKUID          string
	Quantity       int64
	UnitPriceCents int64
}

type SubmitOrderInput struct {
	CustomerID       string
	MethodRef        string
	Lines            []LineInput
	OnPartialFailure PartialFailurePolicy
}

// LineOutcome reports the reservation result for one input line. Failures
// are always per line; the caller can see exactly which lines succeeded.
type LineOutcome struct {
	LineIndex        int
	SKUID            string
	VendorID         string
	CategoryID       string
	Quantity         int64
	Reserved         bool
	Released         bool
	ReservationToken string
	FailureReason    string
}

type SubmitOrderResult struct {
	OrderID     string
	Status      domain.Status
	SubOrderIDs []string
	Lines       []LineOutcome
}

var _ application.UseCase[SubmitOrderInput, *SubmitOrderResult] = (*SubmitOrderUseCase)(nil)

// SubmitOrderUseCase is the order splitter: it groups an incoming cart by
// vendor, drives per-line reservation, emits per-vendor sub-orders for
// independent settlement, and reports a per-line manifest.
type SubmitOrderUseCase struct {
	repo        domain.Repository
	inventory   InventoryPort
	idGenerator IDGenerator
	publisher   domoutbox.Publisher
	tel         observability.Observability

	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

func NewSubmitOrderUseCase(
	repo domain.Repository,
	inventory InventoryPort,
	idGen IDGenerator,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *SubmitOrderUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	baseLog := tel.Logger().With(
		observability.F("service", orderService),
	)
	metrics := tel.Metrics()

	return &SubmitOrderUseCase{
		repo:         repo,
		inventory:    inventory,
		idGenerator:  idGen,
		publisher:    publisher,
		tel:          tel,
		log:          baseLog,
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
		extCounter:   metrics.Counter(observability.MExternalRequests),
		extHistogram: metrics.Histogram(observability.MExternalRequestDuration),
	}
}

// Execute performs the submit-order flow.
func (uc *SubmitOrderUseCase) Execute(ctx context.Context, cmd SubmitOrderInput) (_ *SubmitOrderResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(observability.F("use_case", useCaseOrderSubmit))

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"SubmitOrder",
		attribute.String("use_case", useCaseOrderSubmit),
		attribute.String("order.customer_id", cmd.CustomerID),
		attribute.Int("order.line_count", len(cmd.Lines)),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	var orderID string

	defer func() {
		lat := time.Since(start).Seconds()

		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, statusText)
			} else {
				span.SetStatus(codes.Ok, statusText)
			}
			span.End()
		}

		if uc.reqCounter != nil {
			uc.reqCounter.Add(1,
				observability.L("use_case", useCaseOrderSubmit),
				observability.L("outcome", outcome),
			)
		}
		if uc.durHistogram != nil {
			uc.durHistogram.Observe(lat,
				observability.L("use_case", useCaseOrderSubmit),
			)
		}

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
			observability.F("order_id", orderID),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}

		logger.Info("use_case_done", fields...)
	}()

	if cmd.CustomerID == "" {
		outcome, statusText = "error", "CUSTOMER_ID_REQUIRED"
		return nil, newValidation("customer id is required")
	}
	if len(cmd.Lines) == 0 {
		outcome, statusText = "error", "LINE_ITEMS_REQUIRED"
		return nil, newValidation("at least one line item is required")
	}
	policy := cmd.OnPartialFailure
	if policy == "" {
		policy = PartialContinue
	}
	if policy != PartialContinue && policy != PartialRollback {
		outcome, statusText = "error", "PARTIAL_POLICY_INVALID"
		return nil, newValidation("on_partial_failure must be continue or rollback")
	}
	if err := ctx.Err(); err != nil {
		outcome, statusText = "error", "CONTEXT_CANCELED"
		return nil, err
	}

	lines := make([]domain.LineItem, 0, len(cmd.Lines))
	for _, l := range cmd.Lines {
		lines = append(lines, domain.LineItem{
			SKUID:          l.SKUID,
			Quantity:       l.Quantity,
			UnitPriceCents: l.UnitPriceCents,
		})
	}

	orderID = uc.idGenerator.NewID()
	entity, derr := domain.New(orderID, cmd.CustomerID, lines)
	if derr != nil {
		outcome, statusText = "error", "DOMAIN_CONSTRUCTION_FAILED"
		return nil, fmt.Errorf("order: construct: %w", derr)
	}
	if err := uc.repo.Insert(ctx, entity); err != nil {
		outcome, statusText = "error", "REPO_INSERT_FAILED"
		return nil, wrapRepositoryError(err)
	}
	if err := entity.BeginReserving(); err != nil {
		outcome, statusText = "error", "STATE_TRANSITION_FAILED"
		return nil, err
	}
	if err := uc.repo.Update(ctx, entity); err != nil {
		outcome, statusText = "error", "REPO_UPDATE_FAILED"
		return nil, wrapRepositoryError(err)
	}

	outcomes := uc.reserveLines(ctx, logger, entity)
	reserved := 0
	for _, o := range outcomes {
		if o.Reserved {
			reserved++
		}
	}
	span.SetAttributes(
		attribute.Int("order.lines_reserved", reserved),
		attribute.Int("order.lines_failed", len(outcomes)-reserved),
	)

	switch {
	case reserved == 0:
		statusText = "RESERVATION_FAILED"
		if terr := entity.MarkReservationFailed("insufficient_stock"); terr != nil {
			outcome, statusText = "error", "STATE_TRANSITION_FAILED"
			return nil, terr
		}
		if uerr := uc.repo.Update(ctx, entity); uerr != nil {
			outcome, statusText = "error", "REPO_UPDATE_FAILED"
			return nil, wrapRepositoryError(uerr)
		}
		return uc.result(entity, nil, outcomes), nil

	case reserved < len(outcomes) && policy == PartialRollback:
		statusText = "ROLLED_BACK"
		uc.rollback(ctx, logger, outcomes)
		if terr := entity.MarkReservationFailed("rolled_back"); terr != nil {
			outcome, statusText = "error", "STATE_TRANSITION_FAILED"
			return nil, terr
		}
		if uerr := uc.repo.Update(ctx, entity); uerr != nil {
			outcome, statusText = "error", "REPO_UPDATE_FAILED"
			return nil, wrapRepositoryError(uerr)
		}
		return uc.result(entity, nil, outcomes), nil

	case reserved < len(outcomes):
		statusText = "PARTIALLY_RESERVED"
		if terr := entity.MarkPartiallyReserved("insufficient_stock"); terr != nil {
			outcome, statusText = "error", "STATE_TRANSITION_FAILED"
			return nil, terr
		}

	default:
		if terr := entity.MarkFullyReserved(); terr != nil {
			outcome, statusText = "error", "STATE_TRANSITION_FAILED"
			return nil, terr
		}
	}

	subOrders, serr := uc.emitSubOrders(ctx, logger, entity, cmd.MethodRef, outcomes)
	if serr != nil {
		outcome, statusText = "error", "SUB_ORDER_EMIT_FAILED"
		return nil, serr
	}

	// Reserved holds become permanent decrements at split time; settlement
	// outcome never restocks implicitly.
	uc.commitReservations(ctx, logger, outcomes)

	if terr := entity.BeginSettling(); terr != nil {
		outcome, statusText = "error", "STATE_TRANSITION_FAILED"
		return nil, terr
	}
	if uerr := uc.repo.Update(ctx, entity); uerr != nil {
		outcome, statusText = "error", "REPO_UPDATE_FAILED"
		return nil, wrapRepositoryError(uerr)
	}

	for _, sub := range subOrders {
		uc.publish(ctx, logger, domain.NewSubOrderCreatedEvent(sub), sub.ID)
	}

	span.SetAttributes(attribute.String("order.status", string(entity.Status)))
	span.AddEvent("order.split",
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.Int("order.sub_orders", len(subOrders)),
		),
	)

	return uc.result(entity, subOrders, outcomes), nil
}

// reserveLines drives one reserve call per line. A failure on one line never
// aborts lines that already succeeded.
func (uc *SubmitOrderUseCase) reserveLines(ctx context.Context, logger observability.Logger, entity *domain.Order) []LineOutcome {
	outcomes := make([]LineOutcome, 0, len(entity.Lines))
	for i, line := range entity.Lines {
		out := LineOutcome{
			LineIndex: i,
			SKUID:     line.SKUID,
			Quantity:  line.Quantity,
		}

		rec, err := uc.inventory.GetSKU(ctx, line.SKUID)
		if err != nil {
			out.FailureReason = reasonFor(err)
			logger.Warn("line_sku_lookup_failed",
				observability.F("order_id", entity.ID),
				observability.F("sku_id", line.SKUID),
				observability.F("error", err.Error()),
			)
			outcomes = append(outcomes, out)
			continue
		}
		out.VendorID = rec.VendorID
		out.CategoryID = rec.CategoryID

		res, err := uc.inventory.Reserve(ctx, line.SKUID, line.Quantity)
		if err != nil {
			out.FailureReason = reasonFor(err)
			logger.Info("line_reservation_failed",
				observability.F("order_id", entity.ID),
				observability.F("sku_id", line.SKUID),
				observability.F("quantity", line.Quantity),
				observability.F("reason", out.FailureReason),
			)
			outcomes = append(outcomes, out)
			continue
		}
		out.Reserved = true
		out.ReservationToken = res.Token
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// rollback releases every successful hold. Best-effort compensating action:
// a failed release is logged and never blocks reporting the rollback.
func (uc *SubmitOrderUseCase) rollback(ctx context.Context, logger observability.Logger, outcomes []LineOutcome) {
	for i := range outcomes {
		if !outcomes[i].Reserved {
			continue
		}
		if _, err := uc.inventory.Release(ctx, outcomes[i].ReservationToken); err != nil {
			logger.Error("rollback_release_failed",
				observability.F("token", outcomes[i].ReservationToken),
				observability.F("sku_id", outcomes[i].SKUID),
				observability.F("error", err.Error()),
			)
			continue
		}
		outcomes[i].Released = true
	}
}

// emitSubOrders groups the reserved lines by vendor, preserving the original
// line order and the order in which vendors first appear.
func (uc *SubmitOrderUseCase) emitSubOrders(ctx context.Context, logger observability.Logger, entity *domain.Order, methodRef string, outcomes []LineOutcome) ([]*domain.SubOrder, error) {
	vendorOrder := make([]string, 0, 2)
	grouped := make(map[string][]domain.SubOrderLine, 2)

	for _, out := range outcomes {
		if !out.Reserved {
			continue
		}
		line := entity.Lines[out.LineIndex]
		if _, seen := grouped[out.VendorID]; !seen {
			vendorOrder = append(vendorOrder, out.VendorID)
		}
		// Category was resolved with the reservation lookup; re-fetching here
		// could silently shift commission resolution into a broader tier.
		grouped[out.VendorID] = append(grouped[out.VendorID], domain.SubOrderLine{
			LineRef:          domain.LineRef(line.SKUID, out.LineIndex),
			SKUID:            line.SKUID,
			CategoryID:       out.CategoryID,
			Quantity:         line.Quantity,
			UnitPriceCents:   line.UnitPriceCents,
			ReservationToken: out.ReservationToken,
		})
	}

	subOrders := make([]*domain.SubOrder, 0, len(vendorOrder))
	for _, vendorID := range vendorOrder {
		sub, err := domain.NewSubOrder(uc.idGenerator.NewID(), entity.ID, vendorID, methodRef, grouped[vendorID])
		if err != nil {
			return nil, fmt.Errorf("order: build sub-order: %w", err)
		}
		if err := uc.repo.InsertSubOrder(ctx, sub); err != nil {
			return nil, wrapRepositoryError(err)
		}
		logger.Info("sub_order_created",
			observability.F("order_id", entity.ID),
			observability.F("sub_order_id", sub.ID),
			observability.F("vendor_id", vendorID),
			observability.F("lines", len(sub.Lines)),
			observability.F("gross_cents", sub.GrossCents()),
		)
		subOrders = append(subOrders, sub)
	}
	return subOrders, nil
}

// commitReservations converts holds to permanent decrements. Commit is
// idempotent on the ledger, so a failure here is retried by operators, not
// compensated.
func (uc *SubmitOrderUseCase) commitReservations(ctx context.Context, logger observability.Logger, outcomes []LineOutcome) {
	for _, out := range outcomes {
		if !out.Reserved {
			continue
		}
		if _, err := uc.inventory.Commit(ctx, out.ReservationToken); err != nil {
			logger.Error("reservation_commit_failed",
				observability.F("token", out.ReservationToken),
				observability.F("sku_id", out.SKUID),
				observability.F("error", err.Error()),
			)
		}
	}
}

func (uc *SubmitOrderUseCase) publish(ctx context.Context, logger observability.Logger, e domoutbox.Event, subOrderID string) {
	if uc.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	pubStart := time.Now()
	pubOutcome := "success"
	if err := uc.publisher.Publish(pubCtx, e); err != nil {
		pubOutcome = "error"
		logger.Warn("event_publish_failed",
			observability.F("event", e.EventName()),
			observability.F("sub_order_id", subOrderID),
			observability.F("error", err.Error()),
		)
	}

	if uc.extCounter != nil {
		uc.extCounter.Add(1,
			observability.L("peer", publishPeer),
			observability.L("endpoint", e.EventName()),
			observability.L("outcome", pubOutcome),
		)
	}
	if uc.extHistogram != nil {
		uc.extHistogram.Observe(time.Since(pubStart).Seconds(),
			observability.L("peer", publishPeer),
			observability.L("endpoint", e.EventName()),
		)
	}
}

func (uc *SubmitOrderUseCase) result(entity *domain.Order, subOrders []*domain.SubOrder, outcomes []LineOutcome) *SubmitOrderResult {
	ids := make([]string, 0, len(subOrders))
	for _, s := range subOrders {
		ids = append(ids, s.ID)
	}
	return &SubmitOrderResult{
		OrderID:     entity.ID,
		Status:      entity.Status,
		SubOrderIDs: ids,
		Lines:       outcomes,
	}
}

// GetOrder returns the order with its sub-orders.
func (uc *SubmitOrderUseCase) GetOrder(ctx context.Context, id string) (*domain.Order, []*domain.SubOrder, error) {
	if id == "" {
		return nil, nil, newValidation("order id is required")
	}
	entity, err := uc.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, wrapRepositoryError(err)
	}
	subOrders, err := uc.repo.ListSubOrders(ctx, id)
	if err != nil {
		return nil, nil, wrapRepositoryError(err)
	}
	return entity, subOrders, nil
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, dominv.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, dominv.ErrNotFound):
		return "sku_not_found"
	default:
		return err.Error()
	}
}

func wrapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, domain.ErrConflict):
		return ErrConflict
	default:
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
}

func newValidation(msg string) error {
	return fmt.Errorf("validation: %w", errors.New(msg))
}
