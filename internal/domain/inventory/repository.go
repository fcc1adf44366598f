package inventory

import (
	"context"
	"time"
)

// Repository is the ledger-store contract for inventory counters. Reserve
// must be a single atomic conditional update: implementations may never
// check availability and write in separate steps.
type Repository interface {
	// Reserve atomically increments the reserved counter when
	// on_hand - reserved >= quantity, and fails with ErrInsufficientStock
	// (without side effects) otherwise. The caller supplies the token.
	Reserve(ctx context.Context, skuID, token string, quantity int64, ttl time.Duration) (*Reservation, error)

	// Commit converts a reservation into a permanent decrement and returns
	// the final hold. Committing an already-committed token is a no-op so
	// retries are safe.
	Commit(ctx context.Context, token string) (*Reservation, error)

	// Release cancels a reservation without touching on-hand stock and
	// returns the final hold. Releasing an already-released token is a
	// no-op.
	Release(ctx context.Context, token string) (*Reservation, error)

	// ReleaseExpired releases every active reservation whose TTL has passed
	// at the reference time and returns the released holds.
	ReleaseExpired(ctx context.Context, now time.Time) ([]Reservation, error)

	Get(ctx context.Context, skuID string) (*Record, error)

	// Upsert creates or replaces a SKU record (seeding and catalog sync).
	Upsert(ctx context.Context, r *Record) error

	// Restock atomically adds quantity to on-hand stock and returns the new
	// total. It backs the explicit compensating restock operation.
	Restock(ctx context.Context, skuID string, quantity int64) (int64, error)
}
