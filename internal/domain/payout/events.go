package payout

import "time"

// PayoutReadyEvent is the fire-and-forget notification that a payout batch
// was built and awaits approval.
type PayoutReadyEvent struct {
	PayoutID      string
	VendorID      string
	TotalNetCents int64
	PaymentCount  int
	OccurredAt    time.Time
}

func (PayoutReadyEvent) EventName() string { return "payout.ready" }

func NewPayoutReadyEvent(p *Payout) PayoutReadyEvent {
	return PayoutReadyEvent{
		PayoutID:      p.ID,
		VendorID:      p.VendorID,
		TotalNetCents: p.TotalNetCents,
		PaymentCount:  p.PaymentCount,
		OccurredAt:    time.Now().UTC(),
	}
}
