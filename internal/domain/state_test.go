package domain

import (
	"errors"
	"testing"
)

func TestTransitionOrderFollowsLifecycle(t *testing.T) {
	status := OrderStatusPending

	for _, target := range []OrderStatus{
		OrderStatusConfirmed,
		OrderStatusProcessing,
		OrderStatusShipped,
		OrderStatusDelivered,
	} {
		next, err := TransitionOrder(status, target)
		if err != nil {
			t.Fatalf("transition to %s: unexpected error %v", target, err)
		}
		status = next
	}
	if status != OrderStatusDelivered {
		t.Fatalf("expected delivered, got %s", status)
	}
}

func TestTransitionOrderRejectsBackwardMove(t *testing.T) {
	next, err := TransitionOrder(OrderStatusDelivered, OrderStatusProcessing)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	if next != OrderStatusDelivered {
		t.Fatalf("status mutated on rejected transition: %s", next)
	}
}

func TestTransitionOrderRejectsSkippingStates(t *testing.T) {
	if _, err := TransitionOrder(OrderStatusConfirmed, OrderStatusShipped); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition for confirmed -> shipped, got %v", err)
	}
}

func TestTransitionOrderSameStateIsNoop(t *testing.T) {
	if _, err := TransitionOrder(OrderStatusShipped, OrderStatusShipped); err != nil {
		t.Fatalf("same-state transition should succeed, got %v", err)
	}
}

func TestCancellableWindow(t *testing.T) {
	cases := []struct {
		status OrderStatus
		want   bool
	}{
		{OrderStatusPending, true},
		{OrderStatusConfirmed, true},
		{OrderStatusProcessing, false},
		{OrderStatusShipped, false},
		{OrderStatusDelivered, false},
		{OrderStatusCancelled, false},
	}
	for _, tc := range cases {
		if got := Cancellable(tc.status); got != tc.want {
			t.Fatalf("Cancellable(%s) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestTransitionPayment(t *testing.T) {
	status, err := TransitionPayment(PaymentStatusPending, PaymentStatusCompleted)
	if err != nil {
		t.Fatalf("pending -> completed: %v", err)
	}
	status, err = TransitionPayment(status, PaymentStatusRefunded)
	if err != nil {
		t.Fatalf("completed -> refunded: %v", err)
	}
	if _, err = TransitionPayment(status, PaymentStatusFailed); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition for refunded -> failed, got %v", err)
	}
}

func TestPercentOfRoundsHalfUp(t *testing.T) {
	// 18% of 33830 paise is 6089.4, rounds down to 6089.
	if got := PercentOf(33830, 1800); got != 6089 {
		t.Fatalf("PercentOf(33830, 1800) = %d, want 6089", got)
	}
	// 15% of 19900 is exact.
	if got := PercentOf(19900, 1500); got != 2985 {
		t.Fatalf("PercentOf(19900, 1500) = %d, want 2985", got)
	}
	// Half-up boundary: 18% of 25 paise = 4.5 rounds to 5.
	if got := PercentOf(25, 1800); got != 5 {
		t.Fatalf("PercentOf(25, 1800) = %d, want 5", got)
	}
}

func TestRupeesPaiseConversion(t *testing.T) {
	if got := RupeesToPaise(999.99); got != 99999 {
		t.Fatalf("RupeesToPaise(999.99) = %d, want 99999", got)
	}
	if got := RupeesToPaise(1000); got != 100000 {
		t.Fatalf("RupeesToPaise(1000) = %d, want 100000", got)
	}
	if got := PaiseToRupees(33830); got != 338.30 {
		t.Fatalf("PaiseToRupees(33830) = %v, want 338.30", got)
	}
}
