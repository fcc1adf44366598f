package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPayment(t *testing.T) *Payment {
	t.Helper()
	p, err := New("pay_1", "sub_1", "sku_a#0", "vendor_1", 10000, 550)
	require.NoError(t, err)
	return p
}

func TestNewPaymentSplitsGross(t *testing.T) {
	p := newPayment(t)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, int64(10000), p.GrossCents)
	assert.Equal(t, int64(550), p.CommissionCents)
	assert.Equal(t, int64(9450), p.NetCents)
	assert.Empty(t, p.PayoutID)
}

func TestNewPaymentValidation(t *testing.T) {
	_, err := New("", "sub_1", "sku_a#0", "vendor_1", 100, 10)
	assert.Error(t, err)

	_, err = New("pay_1", "", "sku_a#0", "vendor_1", 100, 10)
	assert.Error(t, err)

	_, err = New("pay_1", "sub_1", "", "vendor_1", 100, 10)
	assert.Error(t, err)

	_, err = New("pay_1", "sub_1", "sku_a#0", "", 100, 10)
	assert.Error(t, err)

	_, err = New("pay_1", "sub_1", "sku_a#0", "vendor_1", -1, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	// Commission can never exceed gross.
	_, err = New("pay_1", "sub_1", "sku_a#0", "vendor_1", 100, 101)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestMarkSettledIsIdempotent(t *testing.T) {
	p := newPayment(t)
	require.NoError(t, p.MarkSettled("txn_1"))
	assert.Equal(t, StatusSettled, p.Status)
	assert.Equal(t, "txn_1", p.TransactionID)

	// A redelivered settlement keeps the original transaction id.
	require.NoError(t, p.MarkSettled("txn_2"))
	assert.Equal(t, "txn_1", p.TransactionID)

	assert.ErrorIs(t, p.MarkFailed("charge_declined"), ErrInvalidStateTransition)
}

func TestMarkFailed(t *testing.T) {
	p := newPayment(t)
	require.NoError(t, p.MarkFailed("charge_declined"))
	assert.Equal(t, StatusFailed, p.Status)
	assert.Equal(t, "charge_declined", p.FailureReason)

	require.NoError(t, p.MarkFailed("gateway_unavailable"))
	assert.Equal(t, "gateway_unavailable", p.FailureReason)

	assert.ErrorIs(t, p.MarkSettled("txn_1"), ErrInvalidStateTransition)
}

func TestNewReversalMirrorsOriginal(t *testing.T) {
	original := newPayment(t)
	require.NoError(t, original.MarkSettled("txn_1"))

	rev, err := NewReversal("pay_2", original)
	require.NoError(t, err)
	assert.Equal(t, StatusReversed, rev.Status)
	assert.Equal(t, original.ID, rev.ReversalOf)
	assert.Equal(t, "sku_a#0/reversal", rev.LineRef)
	assert.Equal(t, original.GrossCents, rev.GrossCents)
	assert.Equal(t, original.CommissionCents, rev.CommissionCents)
	assert.Equal(t, original.NetCents, rev.NetCents)

	// Constructing the reversal alone does not touch the original; voiding
	// it is the caller's explicit follow-up.
	assert.Equal(t, StatusSettled, original.Status)
}

func TestMarkReversedVoidsSettledPayment(t *testing.T) {
	p := newPayment(t)
	require.NoError(t, p.MarkSettled("txn_1"))

	require.NoError(t, p.MarkReversed())
	assert.Equal(t, StatusReversed, p.Status)
	assert.Equal(t, int64(10000), p.GrossCents)
	assert.Equal(t, int64(9450), p.NetCents)

	// Replays are no-ops; other verdicts can no longer apply.
	require.NoError(t, p.MarkReversed())
	assert.ErrorIs(t, p.MarkSettled("txn_2"), ErrInvalidStateTransition)
	assert.ErrorIs(t, p.MarkFailed("late_failure"), ErrInvalidStateTransition)
}

func TestMarkReversedRequiresSettled(t *testing.T) {
	pending := newPayment(t)
	assert.ErrorIs(t, pending.MarkReversed(), ErrInvalidStateTransition)

	failed := newPayment(t)
	require.NoError(t, failed.MarkFailed("charge_declined"))
	assert.ErrorIs(t, failed.MarkReversed(), ErrInvalidStateTransition)
}

func TestNewReversalRequiresSettledOriginal(t *testing.T) {
	pending := newPayment(t)
	_, err := NewReversal("pay_2", pending)
	assert.Error(t, err)

	failed := newPayment(t)
	require.NoError(t, failed.MarkFailed("charge_declined"))
	_, err = NewReversal("pay_2", failed)
	assert.Error(t, err)

	_, err = NewReversal("pay_2", nil)
	assert.Error(t, err)
}
