package inventory

import (
	"errors"
	"time"
)

var (
	ErrReservationNotFound  = errors.New("inventory: reservation not found")
	ErrReservationReleased  = errors.New("inventory: reservation already released")
	ErrReservationCommitted = errors.New("inventory: reservation already committed")
)

type ReservationState string

const (
	ReservationActive    ReservationState = "active"
	ReservationCommitted ReservationState = "committed"
	ReservationReleased  ReservationState = "released"
)

// Reservation is a temporary hold against a SKU that has not yet been
// converted into a permanent decrement. Holds expire after a bounded TTL so
// abandoned orders cannot starve stock.
type Reservation struct {
	Token     string
	SKUID     string
	Quantity  int64
	State     ReservationState
	CreatedAt time.Time
	ExpiresAt time.Time
}

func NewReservation(token, skuID string, quantity int64, ttl time.Duration) (*Reservation, error) {
	if token == "" {
		return nil, errors.New("inventory: reservation token is required")
	}
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	now := time.Now().UTC()
	return &Reservation{
		Token:     token,
		SKUID:     skuID,
		Quantity:  quantity,
		State:     ReservationActive,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// ExpiredAt reports whether an active reservation has outlived its TTL at
// the reference time. Committed and released reservations never expire.
func (r *Reservation) ExpiredAt(now time.Time) bool {
	return r.State == ReservationActive && !now.Before(r.ExpiresAt)
}
