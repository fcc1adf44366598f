package id

import "github.com/google/uuid"

// UUIDGenerator issues random UUID strings for orders, reservations,
// payments, and payouts.
type UUIDGenerator struct{}

func NewUUIDGenerator() UUIDGenerator { return UUIDGenerator{} }

func (UUIDGenerator) NewID() string { return uuid.NewString() }
