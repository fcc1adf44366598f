package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/partshub/fulfillment/internal/application"
	domoutbox "github.com/partshub/fulfillment/internal/domain/outbox"
	domain "github.com/partshub/fulfillment/internal/domain/payout"
	"github.com/partshub/fulfillment/internal/observability"
	"github.com/partshub/fulfillment/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	payoutService  = "payout-service"
	useCaseBuild   = "payout.build"
	spanPrefix     = "UC."
	publishTimeout = 300 * time.Millisecond
)

var (
	ErrNotFound          = domain.ErrNotFound
	ErrNoSettledPayments = domain.ErrNoSettledPayments
)

type IDGenerator interface {
	NewID() string
}

type BuildPayoutInput struct {
	VendorID    string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

var _ application.UseCase[BuildPayoutInput, *domain.Payout] = (*BuildPayoutUseCase)(nil)

// BuildPayoutUseCase aggregates a vendor's settled, unclaimed payments into a
// payout batch. The claim happens inside one ledger transaction, so two
// overlapping builds for the same vendor split the payments instead of
// double-counting them.
type BuildPayoutUseCase struct {
	repo  domain.Repository
	idGen IDGenerator
	pub   domoutbox.Publisher
	tel   observability.Observability

	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
}

func NewBuildPayoutUseCase(
	repo domain.Repository,
	idGen IDGenerator,
	pub domoutbox.Publisher,
	tel observability.Observability,
) *BuildPayoutUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()

	return &BuildPayoutUseCase{
		repo:  repo,
		idGen: idGen,
		pub:   pub,
		tel:   tel,
		log: tel.Logger().With(
			observability.F("service", payoutService),
		),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
	}
}

// Execute builds one payout batch. ErrNoSettledPayments when the period
// holds nothing claimable for the vendor.
func (uc *BuildPayoutUseCase) Execute(ctx context.Context, cmd BuildPayoutInput) (_ *domain.Payout, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseBuild),
		observability.F("vendor_id", cmd.VendorID),
	)

	ctx, span := uc.tel.Tracer().Start(ctx, spanPrefix+"BuildPayout",
		attribute.String("use_case", useCaseBuild),
		attribute.String("payout.vendor_id", cmd.VendorID),
	)
	start := time.Now()
	outcome, status := "success", "OK"
	var payoutID string

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
				observability.L("use_case", useCaseBuild),
				observability.L("outcome", outcome),
			)
		}
		if uc.durHistogram != nil {
			uc.durHistogram.Observe(lat,
				observability.L("use_case", useCaseBuild),
			)
		}

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", status),
			observability.F("latency_seconds", lat),
		}
		if payoutID != "" {
			fields = append(fields, observability.F("payout_id", payoutID))
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		logger.Info("use_case_done", fields...)
	}()

	entity, derr := domain.New(uc.idGen.NewID(), cmd.VendorID, cmd.PeriodStart, cmd.PeriodEnd)
	if derr != nil {
		outcome, status = "error", "VALIDATION_FAILED"
		return nil, derr
	}
	payoutID = entity.ID

	if berr := uc.repo.BuildFromSettledPayments(ctx, entity); berr != nil {
		if errors.Is(berr, domain.ErrNoSettledPayments) {
			status = "NO_SETTLED_PAYMENTS"
			return nil, berr
		}
		outcome, status = "error", "BUILD_FAILED"
		return nil, fmt.Errorf("payout: build: %w", berr)
	}

	span.SetAttributes(
		attribute.Int("payout.payment_count", entity.PaymentCount),
		attribute.Int64("payout.total_net_cents", entity.TotalNetCents),
	)
	logger.Info("payout_built",
		observability.F("payout_id", entity.ID),
		observability.F("payment_count", entity.PaymentCount),
		observability.F("total_gross_cents", entity.TotalGrossCents),
		observability.F("total_commission_cents", entity.TotalCommissionCents),
		observability.F("total_net_cents", entity.TotalNetCents),
	)

	if uc.pub != nil {
		ctxPub, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		if perr := uc.pub.Publish(ctxPub, domain.NewPayoutReadyEvent(entity)); perr != nil {
			span.RecordError(perr)
			logger.Warn("event_publish_failed",
				observability.F("event", "payout.ready"),
				observability.F("payout_id", entity.ID),
				observability.F("error", perr.Error()),
			)
		}
	}

	return entity, nil
}

// Get returns a payout by id.
func (uc *BuildPayoutUseCase) Get(ctx context.Context, id string) (*domain.Payout, error) {
	p, err := uc.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Approve moves a pending payout into the approved state. Idempotent.
func (uc *BuildPayoutUseCase) Approve(ctx context.Context, id string) (*domain.Payout, error) {
	return uc.transition(ctx, id, "payout_approved", (*domain.Payout).Approve)
}

// MarkPaid finalizes an approved payout. The record is immutable afterwards.
func (uc *BuildPayoutUseCase) MarkPaid(ctx context.Context, id string) (*domain.Payout, error) {
	return uc.transition(ctx, id, "payout_paid", (*domain.Payout).MarkPaid)
}

func (uc *BuildPayoutUseCase) transition(ctx context.Context, id, logMsg string, step func(*domain.Payout) error) (*domain.Payout, error) {
	p, err := uc.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := step(p); err != nil {
		return nil, err
	}
	if err := uc.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("payout: update: %w", err)
	}
	logctx.FromOr(ctx, uc.log).Info(logMsg,
		observability.F("payout_id", p.ID),
		observability.F("vendor_id", p.VendorID),
		observability.F("status", string(p.Status)),
	)
	return p, nil
}
