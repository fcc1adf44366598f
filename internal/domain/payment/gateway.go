package payment

import (
	"context"
	"errors"
)

var ErrChargeDeclined = errors.New("payment: charge declined")

// ChargeResult carries the external transaction identifier on success.
type ChargeResult struct {
	TransactionID string
}

// Gateway is the black-box payment capability. The engine never interprets
// payment-method details; it only records the returned transaction status.
type Gateway interface {
	Charge(ctx context.Context, amountCents int64, methodRef string) (*ChargeResult, error)
}
