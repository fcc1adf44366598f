package order

import (
	"errors"
	"time"
)

var (
	ErrNotFound               = errors.New("order: not found")
	ErrConflict               = errors.New("order: already exists")
	ErrInvalidQuantity        = errors.New("order: quantity must be greater than zero")
	ErrInvalidPrice           = errors.New("order: unit price must be zero or greater")
	ErrNoLineItems            = errors.New("order: at least one line item is required")
	ErrInvalidStateTransition = errors.New("order: invalid state transition")
)

type Status string

const (
	StatusReceived          Status = "received"
	StatusReserving         Status = "reserving"
	StatusSplit             Status = "split"
	StatusSettling          Status = "settling"
	StatusCompleted         Status = "completed"
	StatusReservationFailed Status = "reservation_failed"
	StatusPartiallyFailed   Status = "partially_failed"
)

// LineItem is one cart position. The owning vendor is resolved from the SKU
// record at split time, never supplied by the caller.
type LineItem struct {
	SKUID          string
	Quantity       int64
	UnitPriceCents int64
}

// Order is immutable once created except for status transitions.
type Order struct {
	ID            string
	CustomerID    string
	Lines         []LineItem
	Status        Status
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func New(id, customerID string, lines []LineItem) (*Order, error) {
	if id == "" {
		return nil, errors.New("order: id is required")
	}
	if customerID == "" {
		return nil, errors.New("order: customer id is required")
	}
	if len(lines) == 0 {
		return nil, ErrNoLineItems
	}
	for _, l := range lines {
		if l.SKUID == "" {
			return nil, errors.New("order: line sku id is required")
		}
		if l.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if l.UnitPriceCents < 0 {
			return nil, ErrInvalidPrice
		}
	}
	now := time.Now().UTC()
	return &Order{
		ID:         id,
		CustomerID: customerID,
		Lines:      append([]LineItem(nil), lines...),
		Status:     StatusReceived,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// BeginReserving moves the order into the reservation phase.
func (o *Order) BeginReserving() error {
	return o.transition(func(s OrderState) (OrderState, error) { return s.OnReserving(o) })
}

// MarkFullyReserved records that every line item obtained a hold.
func (o *Order) MarkFullyReserved() error {
	return o.transition(func(s OrderState) (OrderState, error) { return s.OnFullyReserved(o) })
}

// MarkPartiallyReserved records that only some line items obtained holds.
// The order is terminal for the failed lines; reserved lines still settle.
func (o *Order) MarkPartiallyReserved(reason string) error {
	return o.transition(func(s OrderState) (OrderState, error) { return s.OnPartiallyReserved(o, reason) })
}

// MarkReservationFailed records that no line item could be reserved, or that
// the caller chose full rollback after a partial reservation.
func (o *Order) MarkReservationFailed(reason string) error {
	return o.transition(func(s OrderState) (OrderState, error) { return s.OnReservationFailed(o, reason) })
}

// BeginSettling records that sub-orders were handed to settlement.
func (o *Order) BeginSettling() error {
	return o.transition(func(s OrderState) (OrderState, error) { return s.OnSettling(o) })
}

// FinishSettlements records that every sub-order's settlement terminated.
// The order completes only when it was fully reserved and every payment
// settled; anything less ends partially_failed.
func (o *Order) FinishSettlements(allSettled bool) error {
	return o.transition(func(s OrderState) (OrderState, error) { return s.OnSettlementsFinished(o, allSettled) })
}

func (o *Order) transition(step func(OrderState) (OrderState, error)) error {
	next, err := step(stateFor(o.Status))
	if err != nil {
		return err
	}
	o.Status = next.Status()
	o.touch()
	return nil
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Lines = append([]LineItem(nil), o.Lines...)
	return &clone
}
