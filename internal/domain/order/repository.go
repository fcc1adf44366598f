package order

import "context"

type Repository interface {
	Insert(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, o *Order) error

	InsertSubOrder(ctx context.Context, s *SubOrder) error
	GetSubOrder(ctx context.Context, id string) (*SubOrder, error)
	UpdateSubOrder(ctx context.Context, s *SubOrder) error

	// ListSubOrders returns every sub-order of the parent order, in
	// creation order.
	ListSubOrders(ctx context.Context, orderID string) ([]*SubOrder, error)
}
