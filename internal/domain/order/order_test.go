package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(t *testing.T) *Order {
	t.Helper()
	o, err := New("ord_1", "cust_1", []LineItem{
		{SKUID: "sku_a", Quantity: 2, UnitPriceCents: 1500},
	})
	require.NoError(t, err)
	return o
}

func TestNewOrderValidation(t *testing.T) {
	lines := []LineItem{{SKUID: "sku_a", Quantity: 1, UnitPriceCents: 100}}

	_, err := New("", "cust_1", lines)
	assert.Error(t, err)

	_, err = New("ord_1", "", lines)
	assert.Error(t, err)

	_, err = New("ord_1", "cust_1", nil)
	assert.ErrorIs(t, err, ErrNoLineItems)

	_, err = New("ord_1", "cust_1", []LineItem{{SKUID: "sku_a", Quantity: 0, UnitPriceCents: 100}})
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = New("ord_1", "cust_1", []LineItem{{SKUID: "sku_a", Quantity: 1, UnitPriceCents: -1}})
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestOrderHappyPath(t *testing.T) {
	o := newOrder(t)
	assert.Equal(t, StatusReceived, o.Status)

	require.NoError(t, o.BeginReserving())
	assert.Equal(t, StatusReserving, o.Status)

	require.NoError(t, o.MarkFullyReserved())
	assert.Equal(t, StatusSplit, o.Status)

	require.NoError(t, o.BeginSettling())
	assert.Equal(t, StatusSettling, o.Status)

	require.NoError(t, o.FinishSettlements(true))
	assert.Equal(t, StatusCompleted, o.Status)
	assert.Empty(t, o.FailureReason)

	// Completed is terminal but settlement re-delivery stays idempotent.
	require.NoError(t, o.FinishSettlements(true))
	assert.Equal(t, StatusCompleted, o.Status)
	assert.ErrorIs(t, o.BeginReserving(), ErrInvalidStateTransition)
}

func TestOrderSettlementFailureEndsPartiallyFailed(t *testing.T) {
	o := newOrder(t)
	require.NoError(t, o.BeginReserving())
	require.NoError(t, o.MarkFullyReserved())
	require.NoError(t, o.BeginSettling())

	require.NoError(t, o.FinishSettlements(false))
	assert.Equal(t, StatusPartiallyFailed, o.Status)
	assert.Equal(t, "settlement_failed", o.FailureReason)
}

func TestOrderPartialReservationStillSettles(t *testing.T) {
	o := newOrder(t)
	require.NoError(t, o.BeginReserving())
	require.NoError(t, o.MarkPartiallyReserved("insufficient_stock"))
	assert.Equal(t, StatusPartiallyFailed, o.Status)
	assert.Equal(t, "insufficient_stock", o.FailureReason)

	// The reserved lines are still handed to settlement; the order never
	// leaves partially_failed from there.
	require.NoError(t, o.BeginSettling())
	assert.Equal(t, StatusPartiallyFailed, o.Status)

	require.NoError(t, o.FinishSettlements(true))
	assert.Equal(t, StatusPartiallyFailed, o.Status)
	assert.Equal(t, "insufficient_stock", o.FailureReason)
}

func TestOrderReservationFailedIsTerminal(t *testing.T) {
	o := newOrder(t)
	require.NoError(t, o.BeginReserving())
	require.NoError(t, o.MarkReservationFailed("insufficient_stock"))
	assert.Equal(t, StatusReservationFailed, o.Status)
	assert.Equal(t, "insufficient_stock", o.FailureReason)

	assert.ErrorIs(t, o.BeginSettling(), ErrInvalidStateTransition)
	assert.ErrorIs(t, o.MarkFullyReserved(), ErrInvalidStateTransition)

	// Re-applying the same failure is a no-op transition.
	require.NoError(t, o.MarkReservationFailed("rolled_back"))
	assert.Equal(t, "rolled_back", o.FailureReason)
}

func TestOrderRejectsOutOfOrderTransitions(t *testing.T) {
	o := newOrder(t)
	assert.ErrorIs(t, o.MarkFullyReserved(), ErrInvalidStateTransition)
	assert.ErrorIs(t, o.BeginSettling(), ErrInvalidStateTransition)
	assert.ErrorIs(t, o.FinishSettlements(true), ErrInvalidStateTransition)

	require.NoError(t, o.BeginReserving())
	assert.ErrorIs(t, o.FinishSettlements(true), ErrInvalidStateTransition)
}

func TestLineRefDisambiguatesRepeatedSKUs(t *testing.T) {
	assert.Equal(t, "sku_a#0", LineRef("sku_a", 0))
	assert.Equal(t, "sku_a#2", LineRef("sku_a", 2))
	assert.NotEqual(t, LineRef("sku_a", 0), LineRef("sku_a", 1))
}

func TestSubOrderLifecycle(t *testing.T) {
	lines := []SubOrderLine{
		{LineRef: "sku_a#0", SKUID: "sku_a", Quantity: 2, UnitPriceCents: 1500, ReservationToken: "rsv_1"},
		{LineRef: "sku_b#1", SKUID: "sku_b", Quantity: 1, UnitPriceCents: 700, ReservationToken: "rsv_2"},
	}
	s, err := NewSubOrder("sub_1", "ord_1", "vendor_1", "card", lines)
	require.NoError(t, err)
	assert.Equal(t, SubOrderPending, s.Status)
	assert.Equal(t, int64(3700), s.GrossCents())
	assert.False(t, s.Terminal())

	// Settlement cannot be skipped straight to a verdict.
	assert.ErrorIs(t, s.MarkSettled(), ErrInvalidStateTransition)

	require.NoError(t, s.BeginSettlement())
	require.NoError(t, s.BeginSettlement()) // retry-safe
	require.NoError(t, s.MarkSettled())
	assert.True(t, s.Terminal())

	// Settled and failed are mutually exclusive.
	assert.ErrorIs(t, s.MarkFailed(), ErrInvalidStateTransition)
	require.NoError(t, s.MarkSettled())
}

func TestSubOrderValidation(t *testing.T) {
	lines := []SubOrderLine{{LineRef: "sku_a#0", SKUID: "sku_a", Quantity: 1, UnitPriceCents: 100}}

	_, err := NewSubOrder("", "ord_1", "vendor_1", "card", lines)
	assert.Error(t, err)

	_, err = NewSubOrder("sub_1", "", "vendor_1", "card", lines)
	assert.Error(t, err)

	_, err = NewSubOrder("sub_1", "ord_1", "", "card", lines)
	assert.Error(t, err)

	_, err = NewSubOrder("sub_1", "ord_1", "vendor_1", "card", nil)
	assert.ErrorIs(t, err, ErrNoLineItems)
}
