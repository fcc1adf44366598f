package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/partshub/fulfillment/internal/application"
	domrate "github.com/partshub/fulfillment/internal/domain/commission"
	domorder "github.com/partshub/fulfillment/internal/domain/order"
	domoutbox "github.com/partshub/fulfillment/internal/domain/outbox"
	dompayment "github.com/partshub/fulfillment/internal/domain/payment"
	"github.com/partshub/fulfillment/internal/observability"
	"github.com/partshub/fulfillment/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	settlementService = "settlement-service"
	useCaseSettle     = "settlement.settle_sub_order"
	spanPrefix        = "UC."
	publishTimeout    = 300 * time.Millisecond
	gatewayPeer       = "payment-gateway"

	// maxChargeAttempts bounds retries for transient gateway failures. A
	// decline is a business answer and is never retried.
	maxChargeAttempts = 3
	chargeRetryDelay  = 50 * time.Millisecond
)

var ErrSubOrderNotFound = domorder.ErrSubOrderNotFound

// LineSettlement is the per-line verdict of one settlement run.
type LineSettlement struct {
	LineRef         string
	PaymentID       string
	GrossCents      int64
	CommissionCents int64
	NetCents        int64
	Status          dompayment.Status
	FailureReason   string
}

type SettleResult struct {
	SubOrderID string
	Status     domorder.SubOrderStatus
	Lines      []LineSettlement
}

var _ application.UseCase[string, *SettleResult] = (*SettleSubOrderUseCase)(nil)

// SettleSubOrderUseCase charges each line of a sub-order and records the
// commission/net split. Re-running it for an already settled line is a
// no-op: the (sub_order_id, line_ref) pair is the idempotency key, and
// amounts are locked at first settlement.
type SettleSubOrderUseCase struct {
	orders   domorder.Repository
	payments dompayment.Repository
	rates    RateResolver
	gateway  dompayment.Gateway
	idGen    IDGenerator
	pub      domoutbox.Publisher
	tel      observability.Observability

	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

func NewSettleSubOrderUseCase(
	orders domorder.Repository,
	payments dompayment.Repository,
	rates RateResolver,
	gateway dompayment.Gateway,
	idGen IDGenerator,
	pub domoutbox.Publisher,
	tel observability.Observability,
) *SettleSubOrderUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()

	return &SettleSubOrderUseCase{
		orders:   orders,
		payments: payments,
		rates:    rates,
		gateway:  gateway,
		idGen:    idGen,
		pub:      pub,
		tel:      tel,
		log: tel.Logger().With(
			observability.F("service", settlementService),
		),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
		extCounter:   metrics.Counter(observability.MExternalRequests),
		extHistogram: metrics.Histogram(observability.MExternalRequestDuration),
	}
}

// Execute settles one sub-order line by line. A failed line never aborts the
// remaining lines. Terminal sub-orders replay their recorded payments.
func (uc *SettleSubOrderUseCase) Execute(ctx context.Context, subOrderID string) (_ *SettleResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseSettle),
		observability.F("sub_order_id", subOrderID),
	)

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"SettleSubOrder",
		attribute.String("use_case", useCaseSettle),
		attribute.String("sub_order.id", subOrderID),
	)
	start := time.Now()
	outcome, status := "success", "OK"

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		logger = logger.With(
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	ctx = logctx.With(ctx, logger)

	defer func() {
		lat := time.Since(start).Seconds()

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, status)
		} else {
			span.SetStatus(codes.Ok, status)
		}
		span.End()

		if uc.reqCounter != nil {
			uc.reqCounter.Add(1,
				observability.L("use_case", useCaseSettle),
				observability.L("outcome", outcome),
			)
		}
		if uc.durHistogram != nil {
			uc.durHistogram.Observe(lat,
				observability.L("use_case", useCaseSettle),
			)
		}

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", status),
			observability.F("latency_seconds", lat),
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	sub, err := uc.orders.GetSubOrder(ctx, subOrderID)
	if err != nil {
		outcome, status = "error", "SUB_ORDER_LOAD_FAILED"
		return nil, fmt.Errorf("settlement: load sub-order: %w", err)
	}

	if sub.Terminal() {
		status = "REPLAYED"
		return uc.replay(ctx, sub)
	}

	if terr := sub.BeginSettlement(); terr != nil {
		outcome, status = "error", "STATE_TRANSITION_FAILED"
		return nil, terr
	}
	if uerr := uc.orders.UpdateSubOrder(ctx, sub); uerr != nil {
		outcome, status = "error", "SUB_ORDER_UPDATE_FAILED"
		return nil, fmt.Errorf("settlement: update sub-order: %w", uerr)
	}

	// The rate is locked at sub-order creation time so retries and delayed
	// runs settle at the rate the vendor saw when the order split.
	rateAt := sub.CreatedAt

	results := make([]LineSettlement, 0, len(sub.Lines))
	allSettled := true
	var firstFailure string

	for _, line := range sub.Lines {
		lr := uc.settleLine(ctx, logger, sub, line, rateAt)
		if lr.Status != dompayment.StatusSettled {
			allSettled = false
			if firstFailure == "" {
				firstFailure = lr.FailureReason
			}
		}
		results = append(results, lr)
	}

	if allSettled {
		err = sub.MarkSettled()
	} else {
		status = "PARTIALLY_SETTLED"
		err = sub.MarkFailed()
	}
	if err != nil {
		outcome, status = "error", "STATE_TRANSITION_FAILED"
		return nil, err
	}
	if uerr := uc.orders.UpdateSubOrder(ctx, sub); uerr != nil {
		outcome, status = "error", "SUB_ORDER_UPDATE_FAILED"
		return nil, fmt.Errorf("settlement: update sub-order: %w", uerr)
	}

	uc.publishTerminal(ctx, logger, sub, firstFailure)

	span.SetAttributes(
		attribute.String("sub_order.status", string(sub.Status)),
		attribute.Int("sub_order.lines", len(results)),
	)

	return &SettleResult{SubOrderID: sub.ID, Status: sub.Status, Lines: results}, nil
}

// settleLine resolves the rate, records the pending payment, and charges the
// gateway for a single line. Every path ends with a persisted verdict.
func (uc *SettleSubOrderUseCase) settleLine(ctx context.Context, logger observability.Logger, sub *domorder.SubOrder, line domorder.SubOrderLine, rateAt time.Time) LineSettlement {
	gross := line.GrossCents()

	// Retry safety: a payment row for this line means a previous run got at
	// least as far as recording it. Terminal rows replay as-is.
	if existing, err := uc.payments.FindBySubOrderLine(ctx, sub.ID, line.LineRef); err == nil {
		if existing.Status != dompayment.StatusPending {
			return lineFromPayment(existing)
		}
		return uc.charge(ctx, logger, sub, existing)
	} else if !errors.Is(err, dompayment.ErrNotFound) {
		return LineSettlement{
			LineRef:       line.LineRef,
			GrossCents:    gross,
			Status:        dompayment.StatusFailed,
			FailureReason: "payment_lookup_failed",
		}
	}

	rate, err := uc.rates.Resolve(ctx, sub.VendorID, line.CategoryID, rateAt)
	if err != nil {
		// A missing platform default halts this line only; other lines and
		// sub-orders keep settling.
		reason := "rate_resolution_failed"
		if errors.Is(err, domrate.ErrNoApplicableRate) {
			reason = "no_applicable_rate"
		}
		logger.Error("commission_rate_unavailable",
			observability.F("line_ref", line.LineRef),
			observability.F("vendor_id", sub.VendorID),
			observability.F("category_id", line.CategoryID),
			observability.F("error", err.Error()),
		)
		return uc.recordFailure(ctx, logger, sub, line, gross, reason)
	}

	p, err := dompayment.New(uc.idGen.NewID(), sub.ID, line.LineRef, sub.VendorID, gross, rate.CommissionFor(gross))
	if err != nil {
		logger.Error("payment_construction_failed",
			observability.F("line_ref", line.LineRef),
			observability.F("error", err.Error()),
		)
		return LineSettlement{
			LineRef:       line.LineRef,
			GrossCents:    gross,
			Status:        dompayment.StatusFailed,
			FailureReason: "invalid_amounts",
		}
	}

	if err := uc.payments.Insert(ctx, p); err != nil {
		if errors.Is(err, dompayment.ErrConflict) {
			// Concurrent run won the insert; defer to its record.
			if existing, ferr := uc.payments.FindBySubOrderLine(ctx, sub.ID, line.LineRef); ferr == nil {
				if existing.Status != dompayment.StatusPending {
					return lineFromPayment(existing)
				}
				return uc.charge(ctx, logger, sub, existing)
			}
		}
		logger.Error("payment_insert_failed",
			observability.F("line_ref", line.LineRef),
			observability.F("error", err.Error()),
		)
		return LineSettlement{
			LineRef:       line.LineRef,
			GrossCents:    gross,
			Status:        dompayment.StatusFailed,
			FailureReason: "payment_insert_failed",
		}
	}

	return uc.charge(ctx, logger, sub, p)
}

// charge runs the gateway call with a bounded retry budget and persists the
// verdict on the pending payment.
func (uc *SettleSubOrderUseCase) charge(ctx context.Context, logger observability.Logger, sub *domorder.SubOrder, p *dompayment.Payment) LineSettlement {
	var (
		result *dompayment.ChargeResult
		err    error
	)
	for attempt := 1; attempt <= maxChargeAttempts; attempt++ {
		chargeStart := time.Now()
		result, err = uc.gateway.Charge(ctx, p.GrossCents, sub.MethodRef)
		uc.observeGateway(err == nil, time.Since(chargeStart))
		if err == nil || errors.Is(err, dompayment.ErrChargeDeclined) || ctx.Err() != nil {
			break
		}
		logger.Warn("gateway_charge_retry",
			observability.F("payment_id", p.ID),
			observability.F("attempt", attempt),
			observability.F("error", err.Error()),
		)
		select {
		case <-ctx.Done():
		case <-time.After(chargeRetryDelay):
		}
	}

	if err != nil {
		reason := "gateway_unavailable"
		if errors.Is(err, dompayment.ErrChargeDeclined) {
			reason = "charge_declined"
		}
		if merr := p.MarkFailed(reason); merr == nil {
			if uerr := uc.payments.Update(ctx, p); uerr != nil {
				logger.Error("payment_update_failed",
					observability.F("payment_id", p.ID),
					observability.F("error", uerr.Error()),
				)
			}
		}
		logger.Info("line_settlement_failed",
			observability.F("payment_id", p.ID),
			observability.F("line_ref", p.LineRef),
			observability.F("reason", reason),
		)
		return lineFromPayment(p)
	}

	if merr := p.MarkSettled(result.TransactionID); merr != nil {
		logger.Error("payment_settle_transition_failed",
			observability.F("payment_id", p.ID),
			observability.F("error", merr.Error()),
		)
		return lineFromPayment(p)
	}
	if uerr := uc.payments.Update(ctx, p); uerr != nil {
		logger.Error("payment_update_failed",
			observability.F("payment_id", p.ID),
			observability.F("error", uerr.Error()),
		)
	}

	logger.Info("line_settled",
		observability.F("payment_id", p.ID),
		observability.F("line_ref", p.LineRef),
		observability.F("gross_cents", p.GrossCents),
		observability.F("commission_cents", p.CommissionCents),
		observability.F("net_cents", p.NetCents),
	)
	return lineFromPayment(p)
}

// recordFailure persists a zero-commission failed payment so every line has
// an auditable verdict, even when no rate could be resolved.
func (uc *SettleSubOrderUseCase) recordFailure(ctx context.Context, logger observability.Logger, sub *domorder.SubOrder, line domorder.SubOrderLine, gross int64, reason string) LineSettlement {
	p, err := dompayment.New(uc.idGen.NewID(), sub.ID, line.LineRef, sub.VendorID, gross, 0)
	if err == nil {
		if merr := p.MarkFailed(reason); merr == nil {
			if ierr := uc.payments.Insert(ctx, p); ierr != nil && !errors.Is(ierr, dompayment.ErrConflict) {
				logger.Error("payment_insert_failed",
					observability.F("line_ref", line.LineRef),
					observability.F("error", ierr.Error()),
				)
			}
		}
		return lineFromPayment(p)
	}
	return LineSettlement{
		LineRef:       line.LineRef,
		GrossCents:    gross,
		Status:        dompayment.StatusFailed,
		FailureReason: reason,
	}
}

// Reverse appends a reversal record for a settled line and voids the
// original. Amounts are never edited; the original's status flips to
// reversed so neither side of the pair is claimable by a payout build.
func (uc *SettleSubOrderUseCase) Reverse(ctx context.Context, subOrderID, lineRef string) (*dompayment.Payment, error) {
	original, err := uc.payments.FindBySubOrderLine(ctx, subOrderID, lineRef)
	if err != nil {
		return nil, fmt.Errorf("settlement: load payment: %w", err)
	}
	if original.Status == dompayment.StatusReversed {
		return uc.payments.FindBySubOrderLine(ctx, subOrderID, dompayment.ReversalLineRef(lineRef))
	}
	rev, err := dompayment.NewReversal(uc.idGen.NewID(), original)
	if err != nil {
		return nil, err
	}
	if err := uc.payments.Insert(ctx, rev); err != nil {
		if !errors.Is(err, dompayment.ErrConflict) {
			return nil, fmt.Errorf("settlement: insert reversal: %w", err)
		}
		// A retry after a crash between insert and void lands here.
		rev, err = uc.payments.FindBySubOrderLine(ctx, subOrderID, rev.LineRef)
		if err != nil {
			return nil, fmt.Errorf("settlement: load reversal: %w", err)
		}
	}
	if err := original.MarkReversed(); err != nil {
		return nil, err
	}
	if err := uc.payments.Update(ctx, original); err != nil {
		return nil, fmt.Errorf("settlement: void original: %w", err)
	}
	logctx.FromOr(ctx, uc.log).Info("payment_reversed",
		observability.F("payment_id", original.ID),
		observability.F("reversal_id", rev.ID),
		observability.F("sub_order_id", subOrderID),
		observability.F("line_ref", lineRef),
	)
	return rev, nil
}

func (uc *SettleSubOrderUseCase) replay(ctx context.Context, sub *domorder.SubOrder) (*SettleResult, error) {
	payments, err := uc.payments.ListBySubOrder(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("settlement: list payments: %w", err)
	}
	lines := make([]LineSettlement, 0, len(payments))
	for _, p := range payments {
		if p.ReversalOf != "" {
			continue
		}
		lines = append(lines, lineFromPayment(p))
	}
	return &SettleResult{SubOrderID: sub.ID, Status: sub.Status, Lines: lines}, nil
}

func (uc *SettleSubOrderUseCase) publishTerminal(ctx context.Context, logger observability.Logger, sub *domorder.SubOrder, reason string) {
	if uc.pub == nil {
		return
	}
	ctxPub, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	var event domoutbox.Event
	if sub.Status == domorder.SubOrderSettled {
		event = domorder.NewSubOrderSettledEvent(sub)
	} else {
		event = domorder.NewSubOrderFailedEvent(sub, reason)
	}
	if err := uc.pub.Publish(ctxPub, event); err != nil {
		logger.Warn("event_publish_failed",
			observability.F("event", event.EventName()),
			observability.F("sub_order_id", sub.ID),
			observability.F("error", err.Error()),
		)
	}
}

func (uc *SettleSubOrderUseCase) observeGateway(success bool, elapsed time.Duration) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	if uc.extCounter != nil {
		uc.extCounter.Add(1,
			observability.L("peer", gatewayPeer),
			observability.L("endpoint", "charge"),
			observability.L("outcome", outcome),
		)
	}
	if uc.extHistogram != nil {
		uc.extHistogram.Observe(elapsed.Seconds(),
			observability.L("peer", gatewayPeer),
			observability.L("endpoint", "charge"),
		)
	}
}

func lineFromPayment(p *dompayment.Payment) LineSettlement {
	return LineSettlement{
		LineRef:         p.LineRef,
		PaymentID:       p.ID,
		GrossCents:      p.GrossCents,
		CommissionCents: p.CommissionCents,
		NetCents:        p.NetCents,
		Status:          p.Status,
		FailureReason:   p.FailureReason,
	}
}
