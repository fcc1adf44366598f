package order

import "time"

// SubOrderCreatedEvent hands one vendor's sub-order to the settlement
// engine. Each sub-order settles independently of its siblings.
type SubOrderCreatedEvent struct {
	SubOrderID string
	OrderID    string
	VendorID   string
	OccurredAt time.Time
}

func (SubOrderCreatedEvent) EventName() string { return "sub_order.created" }

func NewSubOrderCreatedEvent(s *SubOrder) SubOrderCreatedEvent {
	return SubOrderCreatedEvent{
		SubOrderID: s.ID,
		OrderID:    s.OrderID,
		VendorID:   s.VendorID,
		OccurredAt: time.Now().UTC(),
	}
}

// SubOrderSettledEvent signals that every line of the sub-order charged
// successfully. Consumed by the order finalizer.
type SubOrderSettledEvent struct {
	SubOrderID string
	OrderID    string
	VendorID   string
	OccurredAt time.Time
}

func (SubOrderSettledEvent) EventName() string { return "sub_order.settled" }

func NewSubOrderSettledEvent(s *SubOrder) SubOrderSettledEvent {
	return SubOrderSettledEvent{
		SubOrderID: s.ID,
		OrderID:    s.OrderID,
		VendorID:   s.VendorID,
		OccurredAt: time.Now().UTC(),
	}
}

// SubOrderFailedEvent signals that settlement for the sub-order terminated
// with at least one failed line.
type SubOrderFailedEvent struct {
	SubOrderID string
	OrderID    string
	VendorID   string
	Reason     string
	OccurredAt time.Time
}

func (SubOrderFailedEvent) EventName() string { return "sub_order.failed" }

func NewSubOrderFailedEvent(s *SubOrder, reason string) SubOrderFailedEvent {
	return SubOrderFailedEvent{
		SubOrderID: s.ID,
		OrderID:    s.OrderID,
		VendorID:   s.VendorID,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}

// OrderSettledEvent is the fire-and-forget notification that every sub-order
// of the order settled successfully.
type OrderSettledEvent struct {
	OrderID    string
	CustomerID string
	OccurredAt time.Time
}

func (OrderSettledEvent) EventName() string { return "order.settled" }

func NewOrderSettledEvent(o *Order) OrderSettledEvent {
	return OrderSettledEvent{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		OccurredAt: time.Now().UTC(),
	}
}

// OrderPartiallyFailedEvent is the fire-and-forget notification that some
// lines of the order failed reservation or settlement.
type OrderPartiallyFailedEvent struct {
	OrderID    string
	CustomerID string
	Reason     string
	OccurredAt time.Time
}

func (OrderPartiallyFailedEvent) EventName() string { return "order.partially_failed" }

func NewOrderPartiallyFailedEvent(o *Order, reason string) OrderPartiallyFailedEvent {
	return OrderPartiallyFailedEvent{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}
