package order

import (
	"errors"
	"fmt"
	"time"
)

var ErrSubOrderNotFound = errors.New("order: sub-order not found")

type SubOrderStatus string

const (
	SubOrderPending  SubOrderStatus = "pending"
	SubOrderSettling SubOrderStatus = "settling"
	SubOrderSettled  SubOrderStatus = "settled"
	SubOrderFailed   SubOrderStatus = "failed"
)

// SubOrderLine is one successfully reserved line of the parent order,
// assigned to a single vendor. LineRef is the settlement idempotency key
// component, stable across retries.
type SubOrderLine struct {
	LineRef          string
	SKUID            string
	CategoryID       string
	Quantity         int64
	UnitPriceCents   int64
	ReservationToken string
}

// GrossCents is the line's gross amount.
func (l SubOrderLine) GrossCents() int64 {
	return l.Quantity * l.UnitPriceCents
}

// LineRef builds the stable per-line settlement reference. The index keeps
// refs unique when the same SKU appears twice in one cart.
func LineRef(skuID string, index int) string {
	return fmt.Sprintf("%s#%d", skuID, index)
}

// SubOrder groups the reserved lines of one vendor within one order. Its
// lifetime is bounded by the parent order.
type SubOrder struct {
	ID        string
	OrderID   string
	VendorID  string
	MethodRef string
	Lines     []SubOrderLine
	Status    SubOrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewSubOrder(id, orderID, vendorID, methodRef string, lines []SubOrderLine) (*SubOrder, error) {
	if id == "" {
		return nil, errors.New("order: sub-order id is required")
	}
	if orderID == "" {
		return nil, errors.New("order: sub-order parent order id is required")
	}
	if vendorID == "" {
		return nil, errors.New("order: sub-order vendor id is required")
	}
	if len(lines) == 0 {
		return nil, ErrNoLineItems
	}
	now := time.Now().UTC()
	return &SubOrder{
		ID:        id,
		OrderID:   orderID,
		VendorID:  vendorID,
		MethodRef: methodRef,
		Lines:     append([]SubOrderLine(nil), lines...),
		Status:    SubOrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GrossCents is the sub-order total before commission.
func (s *SubOrder) GrossCents() int64 {
	var total int64
	for _, l := range s.Lines {
		total += l.GrossCents()
	}
	return total
}

func (s *SubOrder) BeginSettlement() error {
	switch s.Status {
	case SubOrderPending, SubOrderSettling:
		s.Status = SubOrderSettling
		s.touch()
		return nil
	default:
		return ErrInvalidStateTransition
	}
}

func (s *SubOrder) MarkSettled() error {
	switch s.Status {
	case SubOrderSettling, SubOrderSettled:
		s.Status = SubOrderSettled
		s.touch()
		return nil
	default:
		return ErrInvalidStateTransition
	}
}

func (s *SubOrder) MarkFailed() error {
	switch s.Status {
	case SubOrderSettling, SubOrderFailed:
		s.Status = SubOrderFailed
		s.touch()
		return nil
	default:
		return ErrInvalidStateTransition
	}
}

// Terminal reports whether settlement for this sub-order has finished,
// successfully or not.
func (s *SubOrder) Terminal() bool {
	return s.Status == SubOrderSettled || s.Status == SubOrderFailed
}

func (s *SubOrder) touch() {
	s.UpdatedAt = time.Now().UTC()
}

func (s *SubOrder) Clone() *SubOrder {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Lines = append([]SubOrderLine(nil), s.Lines...)
	return &clone
}
