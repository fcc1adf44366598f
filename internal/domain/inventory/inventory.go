package inventory

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("inventory: sku not found")
	ErrInvalidQuantity   = errors.New("inventory: quantity must be greater than zero")
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
)

// Record is the per-SKU stock counter. It is mutated only through the
// reservation operations on Repository; order logic never writes it directly.
type Record struct {
	SKUID            string
	VendorID         string
	CategoryID       string
	OnHand           int64
	Reserved         int64
	ReorderThreshold int64
	UpdatedAt        time.Time
}

func NewRecord(skuID, vendorID, categoryID string, onHand, reorderThreshold int64) (*Record, error) {
	if skuID == "" {
		return nil, errors.New("inventory: sku id is required")
	}
	if vendorID == "" {
		return nil, errors.New("inventory: vendor id is required")
	}
	if onHand < 0 {
		return nil, ErrInvalidQuantity
	}
	return &Record{
		SKUID:            skuID,
		VendorID:         vendorID,
		CategoryID:       categoryID,
		OnHand:           onHand,
		Reserved:         0,
		ReorderThreshold: reorderThreshold,
		UpdatedAt:        time.Now().UTC(),
	}, nil
}

// Available is the quantity that can still be reserved.
func (r *Record) Available() int64 {
	return r.OnHand - r.Reserved
}

// BelowThreshold reports whether on-hand stock has dropped to or under the
// reorder threshold.
func (r *Record) BelowThreshold() bool {
	return r.OnHand <= r.ReorderThreshold
}
