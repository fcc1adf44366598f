package inventory

import "time"

// LowStockEvent is emitted when a commit drops on-hand stock to or below the
// reorder threshold.
type LowStockEvent struct {
	SKUID      string
	VendorID   string
	OnHand     int64
	Threshold  int64
	OccurredAt time.Time
}

func (LowStockEvent) EventName() string { return "inventory.low_stock" }

func NewLowStockEvent(r *Record) LowStockEvent {
	return LowStockEvent{
		SKUID:      r.SKUID,
		VendorID:   r.VendorID,
		OnHand:     r.OnHand,
		Threshold:  r.ReorderThreshold,
		OccurredAt: time.Now().UTC(),
	}
}

// ReservationExpiredEvent is emitted when the sweeper releases an abandoned
// reservation.
type ReservationExpiredEvent struct {
	Token      string
	SKUID      string
	Quantity   int64
	OccurredAt time.Time
}

func (ReservationExpiredEvent) EventName() string { return "inventory.reservation_expired" }

func NewReservationExpiredEvent(r Reservation) ReservationExpiredEvent {
	return ReservationExpiredEvent{
		Token:      r.Token,
		SKUID:      r.SKUID,
		Quantity:   r.Quantity,
		OccurredAt: time.Now().UTC(),
	}
}
