package order

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dominv "github.com/partshub/fulfillment/internal/domain/inventory"
	domain "github.com/partshub/fulfillment/internal/domain/order"
	domoutbox "github.com/partshub/fulfillment/internal/domain/outbox"
	"github.com/partshub/fulfillment/internal/infrastructure/memory"
)

type fakeInventory struct {
	records  map[string]*dominv.Record
	lookups  map[string]int
	seq      int
	commits  []string
	releases []string

	failRepeatLookups bool
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{
		records: make(map[string]*dominv.Record),
		lookups: make(map[string]int),
	}
}

func (f *fakeInventory) add(skuID, vendorID, categoryID string, onHand int64) {
	f.records[skuID] = &dominv.Record{
		SKUID:      skuID,
		VendorID:   vendorID,
		CategoryID: categoryID,
		OnHand:     onHand,
	}
}

func (f *fakeInventory) GetSKU(_ context.Context, skuID string) (*dominv.Record, error) {
	f.lookups[skuID]++
	if f.failRepeatLookups && f.lookups[skuID] > 1 {
		return nil, dominv.ErrNotFound
	}
	rec, ok := f.records[skuID]
	if !ok {
		return nil, dominv.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (f *fakeInventory) Reserve(_ context.Context, skuID string, quantity int64) (*dominv.Reservation, error) {
	rec, ok := f.records[skuID]
	if !ok {
		return nil, dominv.ErrNotFound
	}
	if rec.Available() < quantity {
		return nil, dominv.ErrInsufficientStock
	}
	rec.Reserved += quantity
	f.seq++
	return &dominv.Reservation{
		Token:    fmt.Sprintf("rsv_%d", f.seq),
		SKUID:    skuID,
		Quantity: quantity,
		State:    dominv.ReservationActive,
	}, nil
}

func (f *fakeInventory) Commit(_ context.Context, token string) (*dominv.Reservation, error) {
	f.commits = append(f.commits, token)
	return &dominv.Reservation{Token: token, State: dominv.ReservationCommitted}, nil
}

func (f *fakeInventory) Release(_ context.Context, token string) (*dominv.Reservation, error) {
	f.releases = append(f.releases, token)
	return &dominv.Reservation{Token: token, State: dominv.ReservationReleased}, nil
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

func newSplitter(t *testing.T) (*SubmitOrderUseCase, *memory.OrderRepository, *fakeInventory, *capturingPublisher) {
	t.Helper()
	repo := memory.NewOrderRepository()
	inv := newFakeInventory()
	pub := &capturingPublisher{}
	uc := NewSubmitOrderUseCase(repo, inv, &seqIDGenerator{}, pub, nil)
	return uc, repo, inv, pub
}

func TestSubmitOrderSplitsByVendor(t *testing.T) {
	ctx := context.Background()
	uc, repo, inv, pub := newSplitter(t)
	inv.add("sku_a", "vendor_a", "books", 10)
	inv.add("sku_b", "vendor_b", "toys", 10)
	inv.add("sku_c", "vendor_a", "books", 10)

	res, err := uc.Execute(ctx, SubmitOrderInput{
		CustomerID: "cust_1",
		MethodRef:  "card",
		Lines: []LineInput{
			{SKUID: "sku_a", Quantity: 2, UnitPriceCents: 1500},
			{SKUID: "sku_b", Quantity: 1, UnitPriceCents: 700},
			{SKUID: "sku_c", Quantity: 3, UnitPriceCents: 100},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSettling, res.Status)
	require.Len(t, res.SubOrderIDs, 2)
	require.Len(t, res.Lines, 3)
	for _, line := range res.Lines {
		assert.True(t, line.Reserved)
		assert.Empty(t, line.FailureReason)
		assert.NotEmpty(t, line.ReservationToken)
	}

	// Vendors are grouped in first-appearance order, lines in cart order.
	subs, err := repo.ListSubOrders(ctx, res.OrderID)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "vendor_a", subs[0].VendorID)
	require.Len(t, subs[0].Lines, 2)
	assert.Equal(t, "sku_a#0", subs[0].Lines[0].LineRef)
	assert.Equal(t, "sku_c#2", subs[0].Lines[1].LineRef)
	assert.Equal(t, "books", subs[0].Lines[0].CategoryID)
	assert.Equal(t, int64(3300), subs[0].GrossCents())
	assert.Equal(t, "vendor_b", subs[1].VendorID)
	assert.Equal(t, int64(700), subs[1].GrossCents())

	// One settlement event per sub-order, holds committed.
	require.Len(t, pub.events, 2)
	for _, e := range pub.events {
		assert.Equal(t, "sub_order.created", e.EventName())
	}
	assert.Len(t, inv.commits, 3)
	assert.Empty(t, inv.releases)
}

func TestSubmitOrderCarriesCategoryFromReservationLookup(t *testing.T) {
	ctx := context.Background()
	uc, repo, inv, _ := newSplitter(t)
	inv.add("sku_a", "vendor_a", "books", 10)
	// Any lookup after the reservation-time one fails. The category must
	// still land on the sub-order line; a blank category would resolve
	// commission in a broader tier.
	inv.failRepeatLookups = true

	res, err := uc.Execute(ctx, SubmitOrderInput{
		CustomerID: "cust_1",
		MethodRef:  "card",
		Lines:      []LineInput{{SKUID: "sku_a", Quantity: 1, UnitPriceCents: 1500}},
	})
	require.NoError(t, err)
	assert.Equal(t, "books", res.Lines[0].CategoryID)
	assert.Equal(t, 1, inv.lookups["sku_a"])

	subs, err := repo.ListSubOrders(ctx, res.OrderID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Len(t, subs[0].Lines, 1)
	assert.Equal(t, "books", subs[0].Lines[0].CategoryID)
}

func TestSubmitOrderPartialContinueKeepsReservedLines(t *testing.T) {
	ctx := context.Background()
	uc, repo, inv, pub := newSplitter(t)
	inv.add("sku_a", "vendor_a", "books", 10)
	inv.add("sku_b", "vendor_b", "toys", 0) // short

	res, err := uc.Execute(ctx, SubmitOrderInput{
		CustomerID:       "cust_1",
		OnPartialFailure: PartialContinue,
		Lines: []LineInput{
			{SKUID: "sku_a", Quantity: 2, UnitPriceCents: 1500},
			{SKUID: "sku_b", Quantity: 1, UnitPriceCents: 700},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartiallyFailed, res.Status)
	require.Len(t, res.SubOrderIDs, 1)

	assert.True(t, res.Lines[0].Reserved)
	assert.False(t, res.Lines[1].Reserved)
	assert.Equal(t, "insufficient_stock", res.Lines[1].FailureReason)

	// Only the reserved vendor gets a sub-order and an event.
	subs, err := repo.ListSubOrders(ctx, res.OrderID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "vendor_a", subs[0].VendorID)
	assert.Len(t, pub.events, 1)
	assert.Len(t, inv.commits, 1)
}

func TestSubmitOrderPartialRollbackReleasesEverything(t *testing.T) {
	ctx := context.Background()
	uc, repo, inv, pub := newSplitter(t)
	inv.add("sku_a", "vendor_a", "books", 10)
	inv.add("sku_b", "vendor_b", "toys", 0)

	res, err := uc.Execute(ctx, SubmitOrderInput{
		CustomerID:       "cust_1",
		OnPartialFailure: PartialRollback,
		Lines: []LineInput{
			{SKUID: "sku_a", Quantity: 2, UnitPriceCents: 1500},
			{SKUID: "sku_b", Quantity: 1, UnitPriceCents: 700},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReservationFailed, res.Status)
	assert.Empty(t, res.SubOrderIDs)

	assert.True(t, res.Lines[0].Reserved)
	assert.True(t, res.Lines[0].Released)
	assert.Len(t, inv.releases, 1)
	assert.Empty(t, inv.commits)
	assert.Empty(t, pub.events)

	entity, err := repo.Get(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReservationFailed, entity.Status)
	assert.Equal(t, "rolled_back", entity.FailureReason)
}

func TestSubmitOrderAllLinesFail(t *testing.T) {
	ctx := context.Background()
	uc, _, inv, pub := newSplitter(t)
	inv.add("sku_a", "vendor_a", "books", 0)

	res, err := uc.Execute(ctx, SubmitOrderInput{
		CustomerID: "cust_1",
		Lines: []LineInput{
			{SKUID: "sku_a", Quantity: 1, UnitPriceCents: 100},
			{SKUID: "sku_missing", Quantity: 1, UnitPriceCents: 100},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReservationFailed, res.Status)
	assert.Empty(t, res.SubOrderIDs)
	assert.Equal(t, "insufficient_stock", res.Lines[0].FailureReason)
	assert.Equal(t, "sku_not_found", res.Lines[1].FailureReason)
	assert.Empty(t, pub.events)
}

func TestSubmitOrderValidation(t *testing.T) {
	ctx := context.Background()
	uc, _, inv, _ := newSplitter(t)
	inv.add("sku_a", "vendor_a", "books", 10)

	lines := []LineInput{{SKUID: "sku_a", Quantity: 1, UnitPriceCents: 100}}

	_, err := uc.Execute(ctx, SubmitOrderInput{CustomerID: "", Lines: lines})
	assert.Error(t, err)

	_, err = uc.Execute(ctx, SubmitOrderInput{CustomerID: "cust_1"})
	assert.Error(t, err)

	_, err = uc.Execute(ctx, SubmitOrderInput{CustomerID: "cust_1", Lines: lines, OnPartialFailure: "abort"})
	assert.Error(t, err)

	_, err = uc.Execute(ctx, SubmitOrderInput{
		CustomerID: "cust_1",
		Lines:      []LineInput{{SKUID: "sku_a", Quantity: 0, UnitPriceCents: 100}},
	})
	assert.Error(t, err)
}

func TestGetOrderReturnsSubOrders(t *testing.T) {
	ctx := context.Background()
	uc, _, inv, _ := newSplitter(t)
	inv.add("sku_a", "vendor_a", "books", 10)

	res, err := uc.Execute(ctx, SubmitOrderInput{
		CustomerID: "cust_1",
		Lines:      []LineInput{{SKUID: "sku_a", Quantity: 1, UnitPriceCents: 100}},
	})
	require.NoError(t, err)

	entity, subs, err := uc.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, res.OrderID, entity.ID)
	assert.Len(t, subs, 1)

	_, _, err = uc.GetOrder(ctx, "ord_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
