package memory

import (
	"context"
	"sync"

	domorder "github.com/partshub/fulfillment/internal/domain/order"
)

// OrderRepository stores orders and sub-orders in process memory.
type OrderRepository struct {
	mu        sync.RWMutex
	orders    map[string]*domorder.Order
	subOrders map[string]*domorder.SubOrder
	byOrder   map[string][]string // orderID -> sub-order ids, creation order
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:    make(map[string]*domorder.Order),
		subOrders: make(map[string]*domorder.SubOrder),
		byOrder:   make(map[string][]string),
	}
}

func (r *OrderRepository) Insert(_ context.Context, o *domorder.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[o.ID]; exists {
		return domorder.ErrConflict
	}
	r.orders[o.ID] = o.Clone()
	return nil
}

func (r *OrderRepository) Get(_ context.Context, id string) (*domorder.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, domorder.ErrNotFound
	}
	return o.Clone(), nil
}

func (r *OrderRepository) Update(_ context.Context, o *domorder.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[o.ID]; !ok {
		return domorder.ErrNotFound
	}
	r.orders[o.ID] = o.Clone()
	return nil
}

func (r *OrderRepository) InsertSubOrder(_ context.Context, s *domorder.SubOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.subOrders[s.ID]; exists {
		return domorder.ErrConflict
	}
	r.subOrders[s.ID] = s.Clone()
	r.byOrder[s.OrderID] = append(r.byOrder[s.OrderID], s.ID)
	return nil
}

func (r *OrderRepository) GetSubOrder(_ context.Context, id string) (*domorder.SubOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.subOrders[id]
	if !ok {
		return nil, domorder.ErrSubOrderNotFound
	}
	return s.Clone(), nil
}

func (r *OrderRepository) UpdateSubOrder(_ context.Context, s *domorder.SubOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subOrders[s.ID]; !ok {
		return domorder.ErrSubOrderNotFound
	}
	r.subOrders[s.ID] = s.Clone()
	return nil
}

func (r *OrderRepository) ListSubOrders(_ context.Context, orderID string) ([]*domorder.SubOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byOrder[orderID]
	out := make([]*domorder.SubOrder, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.subOrders[id]; ok {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}
