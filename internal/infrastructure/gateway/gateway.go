package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	dompayment "github.com/partshub/fulfillment/internal/domain/payment"
	"github.com/partshub/fulfillment/internal/observability"
	"github.com/partshub/fulfillment/internal/observability/logctx"
)

const componentGateway = "payment_gateway"

type IDGenerator interface {
	NewID() string
}

// SimulatedGateway stands in for the external payment provider. Method refs
// prefixed with "declined" are rejected, which gives deterministic failure
// paths for local runs and tests.
type SimulatedGateway struct {
	idGen   IDGenerator
	latency time.Duration
	log     observability.Logger
}

func NewSimulatedGateway(idGen IDGenerator, latency time.Duration, logger observability.Logger) *SimulatedGateway {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &SimulatedGateway{
		idGen:   idGen,
		latency: latency,
		log:     logger.With(observability.F("component", componentGateway)),
	}
}

func (g *SimulatedGateway) Charge(ctx context.Context, amountCents int64, methodRef string) (*dompayment.ChargeResult, error) {
	if g.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.latency):
		}
	}

	if amountCents < 0 {
		return nil, fmt.Errorf("gateway: negative amount %d", amountCents)
	}
	if strings.HasPrefix(methodRef, "declined") {
		logctx.FromOr(ctx, g.log).Info("charge_declined",
			observability.F("amount_cents", amountCents),
		)
		return nil, dompayment.ErrChargeDeclined
	}

	txID := "txn_" + g.idGen.NewID()
	logctx.FromOr(ctx, g.log).Debug("charge_accepted",
		observability.F("amount_cents", amountCents),
		observability.F("transaction_id", txID),
	)
	return &dompayment.ChargeResult{TransactionID: txID}, nil
}
