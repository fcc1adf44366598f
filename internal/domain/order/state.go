package order

// OrderState implements the state pattern for the fulfillment lifecycle:
// received → reserving → split → settling → completed, with
// reservation_failed and partially_failed branches. partially_failed is
// terminal for the affected lines only, so it still accepts settlement
// progress for the sub-orders that did reserve.
type OrderState interface {
	Status() Status
	OnReserving(o *Order) (OrderState, error)
	OnFullyReserved(o *Order) (OrderState, error)
	OnPartiallyReserved(o *Order, reason string) (OrderState, error)
	OnReservationFailed(o *Order, reason string) (OrderState, error)
	OnSettling(o *Order) (OrderState, error)
	OnSettlementsFinished(o *Order, allSettled bool) (OrderState, error)
}

func stateFor(s Status) OrderState {
	switch s {
	case StatusReceived:
		return receivedState{}
	case StatusReserving:
		return reservingState{}
	case StatusSplit:
		return splitState{}
	case StatusSettling:
		return settlingState{}
	case StatusCompleted:
		return completedState{}
	case StatusReservationFailed:
		return reservationFailedState{}
	case StatusPartiallyFailed:
		return partiallyFailedState{}
	default:
		return receivedState{}
	}
}

type receivedState struct{}

func (receivedState) Status() Status { return StatusReceived }

func (receivedState) OnReserving(o *Order) (OrderState, error) {
	o.FailureReason = ""
	return reservingState{}, nil
}

func (receivedState) OnFullyReserved(*Order) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (receivedState) OnPartiallyReserved(*Order, string) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (receivedState) OnReservationFailed(*Order, string) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (receivedState) OnSettling(*Order) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (receivedState) OnSettlementsFinished(*Order, bool) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

type reservingState struct{}

func (reservingState) Status() Status { return StatusReserving }

func (reservingState) OnReserving(*Order) (OrderState, error) {
	return reservingState{}, nil
}

func (reservingState) OnFullyReserved(o *Order) (OrderState, error) {
	o.FailureReason = ""
	return splitState{}, nil
}

func (reservingState) OnPartiallyReserved(o *Order, reason string) (OrderState, error) {
	o.FailureReason = reason
	return partiallyFailedState{}, nil
}

func (reservingState) OnReservationFailed(o *Order, reason string) (OrderState, error) {
	o.FailureReason = reason
	return reservationFailedState{}, nil
}

func (reservingState) OnSettling(*Order) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (reservingState) OnSettlementsFinished(*Order, bool) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

type splitState struct{}

func (splitState) Status() Status { return StatusSplit }

func (splitState) OnReserving(*Order) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (splitState) OnFullyReserved(*Order) (OrderState, error) {
	return splitState{}, nil
}

func (splitState) OnPartiallyReserved(*Order, string) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (splitState) OnReservationFailed(*Order, string) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (splitState) OnSettling(o *Order) (OrderState, error) {
	return settlingState{}, nil
}

func (splitState) OnSettlementsFinished(*Order, bool) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

type settlingState struct{}

func (settlingState) Status() Status { return StatusSettling }

func (settlingState) OnReserving(*Order) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (settlingState) OnFullyReserved(*Order) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (settlingState) OnPartiallyReserved(*Order, string) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (settlingState) OnReservationFailed(*Order, string) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (settlingState) OnSettling(*Order) (OrderState, error) {
	return settlingState{}, nil
}

func (settlingState) OnSettlementsFinished(o *Order, allSettled bool) (OrderState, error) {
	if allSettled {
		o.FailureReason = ""
		return completedState{}, nil
	}
	if o.FailureReason == "" {
		o.FailureReason = "settlement_failed"
	}
	return partiallyFailedState{}, nil
}

type completedState struct{}

func (completedState) Status() Status { return StatusCompleted }

func (completedState) OnReserving(*Order) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (completedState) OnFullyReserved(*Order) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (completedState) OnPartiallyReserved(*Order, string) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (completedState) OnReservationFailed(*Order, string) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (completedState) OnSettling(*Order) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (completedState) OnSettlementsFinished(*Order, bool) (OrderState, error) {
	return completedState{}, nil
}

type reservationFailedState struct{}

func (reservationFailedState) Status() Status { return StatusReservationFailed }

func (reservationFailedState) OnReserving(*Order) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (reservationFailedState) OnFullyReserved(*Order) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (reservationFailedState) OnPartiallyReserved(*Order, string) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (reservationFailedState) OnReservationFailed(o *Order, reason string) (OrderState, error) {
	o.FailureReason = reason
	return reservationFailedState{}, nil
}

func (reservationFailedState) OnSettling(*Order) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (reservationFailedState) OnSettlementsFinished(*Order, bool) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

type partiallyFailedState struct{}

func (partiallyFailedState) Status() Status { return StatusPartiallyFailed }

func (partiallyFailedState) OnReserving(*Order) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (partiallyFailedState) OnFullyReserved(*Order) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

func (partiallyFailedState) OnPartiallyReserved(o *Order, reason string) (OrderState, error) {
	o.FailureReason = reason
	return partiallyFailedState{}, nil
}

func (partiallyFailedState) OnReservationFailed(*Order, string) (OrderState, error) {
	return nil, ErrInvalidStateTransition
}

// Sub-orders built from the reserved lines still settle, so settlement
// progress is accepted without leaving the partially failed status.
func (partiallyFailedState) OnSettling(*Order) (OrderState, error) {
	return partiallyFailedState{}, nil
}

func (partiallyFailedState) OnSettlementsFinished(*Order, bool) (OrderState, error) {
	return partiallyFailedState{}, nil
}
