package payment

import (
	"errors"
	"time"
)

var (
	ErrNotFound               = errors.New("payment: not found")
	ErrConflict               = errors.New("payment: already exists for sub-order line")
	ErrInvalidAmount          = errors.New("payment: amounts must reconstruct gross exactly")
	ErrInvalidStateTransition = errors.New("payment: invalid state transition")
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusSettled  Status = "settled"
	StatusFailed   Status = "failed"
	StatusReversed Status = "reversed"
)

// Payment is the immutable commission/net split for one settled line item.
// Amounts never change after creation; corrections are new reversal records.
// PayoutID is the exclusivity marker: a payment belongs to at most one
// payout, and claiming it happens inside the payout build transaction.
type Payment struct {
	ID              string
	SubOrderID      string
	LineRef         string
	VendorID        string
	GrossCents      int64
	CommissionCents int64
	NetCents        int64
	Status          Status
	TransactionID   string
	FailureReason   string
	PayoutID        string
	ReversalOf      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func New(id, subOrderID, lineRef, vendorID string, grossCents, commissionCents int64) (*Payment, error) {
	if id == "" {
		return nil, errors.New("payment: id is required")
	}
	if subOrderID == "" || lineRef == "" {
		return nil, errors.New("payment: sub-order id and line ref are required")
	}
	if vendorID == "" {
		return nil, errors.New("payment: vendor id is required")
	}
	if grossCents < 0 || commissionCents < 0 || commissionCents > grossCents {
		return nil, ErrInvalidAmount
	}
	now := time.Now().UTC()
	return &Payment{
		ID:              id,
		SubOrderID:      subOrderID,
		LineRef:         lineRef,
		VendorID:        vendorID,
		GrossCents:      grossCents,
		CommissionCents: commissionCents,
		NetCents:        grossCents - commissionCents,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

const reversalSuffix = "/reversal"

// ReversalLineRef is the line ref under which the correction record for the
// given line is stored.
func ReversalLineRef(lineRef string) string {
	return lineRef + reversalSuffix
}

// NewReversal creates the append-only correction record for a settled
// payment. Amounts on the original are never edited; the caller voids it
// with MarkReversed so neither side of the pair is claimable by a payout.
func NewReversal(id string, original *Payment) (*Payment, error) {
	if original == nil || original.Status != StatusSettled {
		return nil, errors.New("payment: only settled payments can be reversed")
	}
	rev, err := New(id, original.SubOrderID, ReversalLineRef(original.LineRef), original.VendorID,
		original.GrossCents, original.CommissionCents)
	if err != nil {
		return nil, err
	}
	rev.Status = StatusReversed
	rev.ReversalOf = original.ID
	return rev, nil
}

func (p *Payment) MarkSettled(transactionID string) error {
	switch p.Status {
	case StatusPending:
		p.Status = StatusSettled
		p.TransactionID = transactionID
		p.FailureReason = ""
		p.touch()
		return nil
	case StatusSettled:
		return nil
	default:
		return ErrInvalidStateTransition
	}
}

func (p *Payment) MarkFailed(reason string) error {
	switch p.Status {
	case StatusPending, StatusFailed:
		p.Status = StatusFailed
		p.FailureReason = reason
		p.touch()
		return nil
	default:
		return ErrInvalidStateTransition
	}
}

// MarkReversed voids a settled payment once its reversal record exists.
// Amounts stay as written; the status flip is what removes the payment from
// payout claims.
func (p *Payment) MarkReversed() error {
	switch p.Status {
	case StatusSettled:
		p.Status = StatusReversed
		p.touch()
		return nil
	case StatusReversed:
		return nil
	default:
		return ErrInvalidStateTransition
	}
}

func (p *Payment) touch() {
	p.UpdatedAt = time.Now().UTC()
}

func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}
