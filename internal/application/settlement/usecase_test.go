package settlement

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domrate "github.com/partshub/fulfillment/internal/domain/commission"
	domorder "github.com/partshub/fulfillment/internal/domain/order"
	domoutbox "github.com/partshub/fulfillment/internal/domain/outbox"
	dompayment "github.com/partshub/fulfillment/internal/domain/payment"
	dompayout "github.com/partshub/fulfillment/internal/domain/payout"
	"github.com/partshub/fulfillment/internal/infrastructure/memory"
)

type fakeRates struct {
	rate *domrate.Rate
	err  error
}

func (f *fakeRates) Resolve(_ context.Context, _, _ string, _ time.Time) (*domrate.Rate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rate, nil
}

type fakeGateway struct {
	calls      int
	transients int // errors returned before the first success
	decline    bool
}

func (g *fakeGateway) Charge(_ context.Context, _ int64, _ string) (*dompayment.ChargeResult, error) {
	g.calls++
	if g.decline {
		return nil, dompayment.ErrChargeDeclined
	}
	if g.calls <= g.transients {
		return nil, errors.New("gateway timeout")
	}
	return &dompayment.ChargeResult{TransactionID: fmt.Sprintf("txn_%d", g.calls)}, nil
}

type seqIDGenerator struct{ n int }

func (g *seqIDGenerator) NewID() string {
	g.n++
	return fmt.Sprintf("id_%d", g.n)
}

type capturingPublisher struct{ events []domoutbox.Event }

func (p *capturingPublisher) Publish(_ context.Context, e domoutbox.Event) error {
	p.events = append(p.events, e)
	return nil
}

type fixture struct {
	uc       *SettleSubOrderUseCase
	orders   *memory.OrderRepository
	payments *memory.PaymentRepository
	gateway  *fakeGateway
	pub      *capturingPublisher
}

func newFixture(t *testing.T, rates RateResolver, gateway *fakeGateway) *fixture {
	t.Helper()
	orders := memory.NewOrderRepository()
	payments := memory.NewPaymentRepository()
	pub := &capturingPublisher{}
	uc := NewSettleSubOrderUseCase(orders, payments, rates, gateway, &seqIDGenerator{}, pub, nil)
	return &fixture{uc: uc, orders: orders, payments: payments, gateway: gateway, pub: pub}
}

func percentRate(t *testing.T, pct string, fixedFee int64) *domrate.Rate {
	t.Helper()
	r, err := domrate.NewRate("rate_1", nil, nil, decimal.RequireFromString(pct), fixedFee, time.Now().UTC().Add(-time.Hour), nil)
	require.NoError(t, err)
	return r
}

func seedSubOrder(t *testing.T, orders *memory.OrderRepository, lines []domorder.SubOrderLine) *domorder.SubOrder {
	t.Helper()
	ctx := context.Background()
	o, err := domorder.New("ord_1", "cust_1", []domorder.LineItem{{SKUID: "sku_a", Quantity: 1, UnitPriceCents: 1}})
	require.NoError(t, err)
	require.NoError(t, orders.Insert(ctx, o))

	sub, err := domorder.NewSubOrder("sub_1", "ord_1", "vendor_1", "card", lines)
	require.NoError(t, err)
	require.NoError(t, orders.InsertSubOrder(ctx, sub))
	return sub
}

func twoLines() []domorder.SubOrderLine {
	return []domorder.SubOrderLine{
		{LineRef: "sku_a#0", SKUID: "sku_a", CategoryID: "books", Quantity: 2, UnitPriceCents: 5000},
		{LineRef: "sku_b#1", SKUID: "sku_b", CategoryID: "toys", Quantity: 1, UnitPriceCents: 2000},
	}
}

func TestSettleSubOrderHappyPath(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, &fakeRates{rate: percentRate(t, "5", 50)}, &fakeGateway{})
	seedSubOrder(t, fx.orders, twoLines())

	res, err := fx.uc.Execute(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domorder.SubOrderSettled, res.Status)
	require.Len(t, res.Lines, 2)

	// 10000 gross at 5% + 50 fixed = 550 commission.
	assert.Equal(t, dompayment.StatusSettled, res.Lines[0].Status)
	assert.Equal(t, int64(10000), res.Lines[0].GrossCents)
	assert.Equal(t, int64(550), res.Lines[0].CommissionCents)
	assert.Equal(t, int64(9450), res.Lines[0].NetCents)

	// 2000 gross at 5% + 50 fixed = 150 commission.
	assert.Equal(t, int64(150), res.Lines[1].CommissionCents)
	assert.Equal(t, int64(1850), res.Lines[1].NetCents)

	sub, err := fx.orders.GetSubOrder(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domorder.SubOrderSettled, sub.Status)

	require.Len(t, fx.pub.events, 1)
	assert.Equal(t, "sub_order.settled", fx.pub.events[0].EventName())
	assert.Equal(t, 2, fx.gateway.calls)
}

func TestSettleSubOrderReplayNeverRecharges(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, &fakeRates{rate: percentRate(t, "5", 0)}, &fakeGateway{})
	seedSubOrder(t, fx.orders, twoLines())

	first, err := fx.uc.Execute(ctx, "sub_1")
	require.NoError(t, err)
	callsAfterFirst := fx.gateway.calls

	second, err := fx.uc.Execute(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domorder.SubOrderSettled, second.Status)
	assert.Equal(t, callsAfterFirst, fx.gateway.calls)
	assert.Len(t, second.Lines, len(first.Lines))

	// Amounts are locked at first settlement.
	assert.Equal(t, first.Lines[0].PaymentID, second.Lines[0].PaymentID)
	assert.Equal(t, first.Lines[0].CommissionCents, second.Lines[0].CommissionCents)

	// Only one terminal event fired.
	assert.Len(t, fx.pub.events, 1)
}

func TestSettleSubOrderDeclineIsNeverRetried(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, &fakeRates{rate: percentRate(t, "5", 0)}, &fakeGateway{decline: true})
	seedSubOrder(t, fx.orders, twoLines()[:1])

	res, err := fx.uc.Execute(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domorder.SubOrderFailed, res.Status)
	require.Len(t, res.Lines, 1)
	assert.Equal(t, dompayment.StatusFailed, res.Lines[0].Status)
	assert.Equal(t, "charge_declined", res.Lines[0].FailureReason)
	assert.Equal(t, 1, fx.gateway.calls)

	require.Len(t, fx.pub.events, 1)
	assert.Equal(t, "sub_order.failed", fx.pub.events[0].EventName())
	failed, ok := fx.pub.events[0].(domorder.SubOrderFailedEvent)
	require.True(t, ok)
	assert.Equal(t, "charge_declined", failed.Reason)
}

func TestSettleSubOrderRetriesTransientGatewayErrors(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, &fakeRates{rate: percentRate(t, "5", 0)}, &fakeGateway{transients: 2})
	seedSubOrder(t, fx.orders, twoLines()[:1])

	res, err := fx.uc.Execute(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domorder.SubOrderSettled, res.Status)
	assert.Equal(t, 3, fx.gateway.calls)
}

func TestSettleSubOrderExhaustedRetriesFailLine(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, &fakeRates{rate: percentRate(t, "5", 0)}, &fakeGateway{transients: 10})
	seedSubOrder(t, fx.orders, twoLines()[:1])

	res, err := fx.uc.Execute(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domorder.SubOrderFailed, res.Status)
	assert.Equal(t, "gateway_unavailable", res.Lines[0].FailureReason)
	assert.Equal(t, 3, fx.gateway.calls)
}

func TestSettleSubOrderNoApplicableRateFailsLineOnly(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, &fakeRates{err: domrate.ErrNoApplicableRate}, &fakeGateway{})
	seedSubOrder(t, fx.orders, twoLines())

	res, err := fx.uc.Execute(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domorder.SubOrderFailed, res.Status)
	require.Len(t, res.Lines, 2)
	for _, line := range res.Lines {
		assert.Equal(t, dompayment.StatusFailed, line.Status)
		assert.Equal(t, "no_applicable_rate", line.FailureReason)
		assert.Zero(t, line.CommissionCents)
	}
	// The gateway is never reached without a rate.
	assert.Zero(t, fx.gateway.calls)

	// The failed verdict is persisted for audit.
	p, err := fx.payments.FindBySubOrderLine(ctx, "sub_1", "sku_a#0")
	require.NoError(t, err)
	assert.Equal(t, dompayment.StatusFailed, p.Status)
}

func TestSettleSubOrderNotFound(t *testing.T) {
	fx := newFixture(t, &fakeRates{rate: percentRate(t, "5", 0)}, &fakeGateway{})
	_, err := fx.uc.Execute(context.Background(), "sub_missing")
	assert.ErrorIs(t, err, domorder.ErrSubOrderNotFound)
}

func TestReverseAppendsReversalRecord(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, &fakeRates{rate: percentRate(t, "5", 0)}, &fakeGateway{})
	seedSubOrder(t, fx.orders, twoLines()[:1])

	_, err := fx.uc.Execute(ctx, "sub_1")
	require.NoError(t, err)

	rev, err := fx.uc.Reverse(ctx, "sub_1", "sku_a#0")
	require.NoError(t, err)
	assert.Equal(t, dompayment.StatusReversed, rev.Status)
	assert.Equal(t, "sku_a#0/reversal", rev.LineRef)
	assert.Equal(t, int64(10000), rev.GrossCents)

	// The original keeps its amounts but is voided.
	original, err := fx.payments.FindBySubOrderLine(ctx, "sub_1", "sku_a#0")
	require.NoError(t, err)
	assert.Equal(t, dompayment.StatusReversed, original.Status)
	assert.Equal(t, int64(10000), original.GrossCents)
	assert.Equal(t, original.ID, rev.ReversalOf)

	// Reversing twice returns the existing record.
	again, err := fx.uc.Reverse(ctx, "sub_1", "sku_a#0")
	require.NoError(t, err)
	assert.Equal(t, rev.ID, again.ID)

	// A replay of the sub-order excludes reversal rows.
	res, err := fx.uc.Execute(ctx, "sub_1")
	require.NoError(t, err)
	require.Len(t, res.Lines, 1)
	assert.Equal(t, "sku_a#0", res.Lines[0].LineRef)
}

func TestReverseExcludesPaymentFromPayouts(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, &fakeRates{rate: percentRate(t, "5", 50)}, &fakeGateway{})
	seedSubOrder(t, fx.orders, twoLines())

	_, err := fx.uc.Execute(ctx, "sub_1")
	require.NoError(t, err)

	_, err = fx.uc.Reverse(ctx, "sub_1", "sku_a#0")
	require.NoError(t, err)

	// A refunded sale must never be paid out: only the untouched sibling
	// line remains claimable.
	payouts := memory.NewPayoutRepository(fx.payments)
	now := time.Now().UTC()
	po, err := dompayout.New("po_1", "vendor_1", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, payouts.BuildFromSettledPayments(ctx, po))
	assert.Equal(t, 1, po.PaymentCount)
	assert.Equal(t, int64(2000), po.TotalGrossCents)
	assert.Equal(t, int64(1850), po.TotalNetCents)

	// With the sibling claimed and the pair reversed, nothing is left.
	po2, err := dompayout.New("po_2", "vendor_1", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	err = payouts.BuildFromSettledPayments(ctx, po2)
	assert.ErrorIs(t, err, dompayout.ErrNoSettledPayments)
}

func TestReverseRequiresSettledPayment(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, &fakeRates{rate: percentRate(t, "5", 0)}, &fakeGateway{decline: true})
	seedSubOrder(t, fx.orders, twoLines()[:1])

	_, err := fx.uc.Execute(ctx, "sub_1")
	require.NoError(t, err)

	_, err = fx.uc.Reverse(ctx, "sub_1", "sku_a#0")
	assert.Error(t, err)
}
