package domain

import (
	"errors"
	"fmt"
	"slices"
)

// ErrIllegalTransition indicates a status move the lifecycle does not allow.
// Every mutation path routes through the guards below so the rules live in
// exactly one place.
var ErrIllegalTransition = errors.New("domain: illegal status transition")

var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped},
	OrderStatusShipped:    {OrderStatusDelivered},
}

var paymentStatusTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:   {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusCompleted: {PaymentStatusRefunded},
}

var cancellableOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
}

// CanTransitionOrder reports whether an order may move from current to
// target. Same-state moves are allowed so idempotent updates converge.
func CanTransitionOrder(current, target OrderStatus) bool {
	if current == target {
		return true
	}
	return slices.Contains(orderStatusTransitions[current], target)
}

// TransitionOrder validates a fulfilment status change and returns the new
// status, or ErrIllegalTransition when the lifecycle forbids it.
func TransitionOrder(current, target OrderStatus) (OrderStatus, error) {
	if !CanTransitionOrder(current, target) {
		return current, fmt.Errorf("%w: order %s -> %s", ErrIllegalTransition, current, target)
	}
	return target, nil
}

// CanTransitionPayment reports whether a payment status move is allowed.
func CanTransitionPayment(current, target PaymentStatus) bool {
	if current == target {
		return true
	}
	return slices.Contains(paymentStatusTransitions[current], target)
}

// TransitionPayment validates a payment status change and returns the new
// status.
func TransitionPayment(current, target PaymentStatus) (PaymentStatus, error) {
	if !CanTransitionPayment(current, target) {
		return current, fmt.Errorf("%w: payment %s -> %s", ErrIllegalTransition, current, target)
	}
	return target, nil
}

// Cancellable reports whether the order may still be cancelled. Once an
// order enters fulfilment (processing and beyond) cancellation is closed.
func Cancellable(status OrderStatus) bool {
	return slices.Contains(cancellableOrderStatuses, status)
}
