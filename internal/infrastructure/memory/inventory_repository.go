package memory

import (
	"context"
	"sync"
	"time"

	dominv "github.com/partshub/fulfillment/internal/domain/inventory"
)

// InventoryRepository is the in-memory inventory ledger. The mutex makes the
// availability check and the counter bump a single atomic step, matching the
// conditional-update contract of the SQL implementation.
type InventoryRepository struct {
	mu           sync.RWMutex
	records      map[string]*dominv.Record
	reservations map[string]*dominv.Reservation
}

func NewInventoryRepository() *InventoryRepository {
	return &InventoryRepository{
		records:      make(map[string]*dominv.Record),
		reservations: make(map[string]*dominv.Reservation),
	}
}

func (r *InventoryRepository) Reserve(_ context.Context, skuID, token string, quantity int64, ttl time.Duration) (*dominv.Reservation, error) {
	if quantity <= 0 {
		return nil, dominv.ErrInvalidQuantity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[skuID]
	if !ok {
		return nil, dominv.ErrNotFound
	}
	if rec.Available() < quantity {
		return nil, dominv.ErrInsufficientStock
	}

	res, err := dominv.NewReservation(token, skuID, quantity, ttl)
	if err != nil {
		return nil, err
	}

	rec.Reserved += quantity
	rec.UpdatedAt = time.Now().UTC()
	r.reservations[token] = res

	clone := *res
	return &clone, nil
}

func (r *InventoryRepository) Commit(_ context.Context, token string) (*dominv.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[token]
	if !ok {
		return nil, dominv.ErrReservationNotFound
	}
	switch res.State {
	case dominv.ReservationCommitted:
		clone := *res
		return &clone, nil
	case dominv.ReservationReleased:
		return nil, dominv.ErrReservationReleased
	}

	rec, ok := r.records[res.SKUID]
	if !ok {
		return nil, dominv.ErrNotFound
	}
	rec.OnHand -= res.Quantity
	rec.Reserved -= res.Quantity
	rec.UpdatedAt = time.Now().UTC()
	res.State = dominv.ReservationCommitted

	clone := *res
	return &clone, nil
}

func (r *InventoryRepository) Release(_ context.Context, token string) (*dominv.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[token]
	if !ok {
		return nil, dominv.ErrReservationNotFound
	}
	switch res.State {
	case dominv.ReservationReleased:
		clone := *res
		return &clone, nil
	case dominv.ReservationCommitted:
		return nil, dominv.ErrReservationCommitted
	}

	if rec, ok := r.records[res.SKUID]; ok {
		rec.Reserved -= res.Quantity
		rec.UpdatedAt = time.Now().UTC()
	}
	res.State = dominv.ReservationReleased

	clone := *res
	return &clone, nil
}

func (r *InventoryRepository) ReleaseExpired(_ context.Context, now time.Time) ([]dominv.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var released []dominv.Reservation
	for _, res := range r.reservations {
		if !res.ExpiredAt(now) {
			continue
		}
		if rec, ok := r.records[res.SKUID]; ok {
			rec.Reserved -= res.Quantity
			rec.UpdatedAt = time.Now().UTC()
		}
		res.State = dominv.ReservationReleased
		released = append(released, *res)
	}
	return released, nil
}

func (r *InventoryRepository) Get(_ context.Context, skuID string) (*dominv.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[skuID]
	if !ok {
		return nil, dominv.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (r *InventoryRepository) Upsert(_ context.Context, rec *dominv.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *rec
	clone.UpdatedAt = time.Now().UTC()
	r.records[rec.SKUID] = &clone
	return nil
}

func (r *InventoryRepository) Restock(_ context.Context, skuID string, quantity int64) (int64, error) {
	if quantity <= 0 {
		return 0, dominv.ErrInvalidQuantity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[skuID]
	if !ok {
		return 0, dominv.ErrNotFound
	}
	rec.OnHand += quantity
	rec.UpdatedAt = time.Now().UTC()
	return rec.OnHand, nil
}
