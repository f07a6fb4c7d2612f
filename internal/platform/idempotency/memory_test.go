package idempotency

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreReserveLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)

	res, err := store.Reserve(ctx, "evt_123", "razorpay", now, time.Hour)
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %v", res.State)
	}

	res, err = store.Reserve(ctx, "evt_123", "razorpay", now.Add(time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if res.State != ReservationStatePending {
		t.Fatalf("expected pending reservation, got %v", res.State)
	}

	if err := store.Complete(ctx, "evt_123", now.Add(time.Minute), time.Hour); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	res, err = store.Reserve(ctx, "evt_123", "razorpay", now.Add(2*time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if res.State != ReservationStateCompleted {
		t.Fatalf("expected completed reservation, got %v", res.State)
	}
}

func TestMemoryStoreReleaseAllowsRetry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)

	if _, err := store.Reserve(ctx, "evt_retry", "razorpay", now, time.Hour); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if err := store.Release(ctx, "evt_retry"); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}

	res, err := store.Reserve(ctx, "evt_retry", "razorpay", now.Add(time.Second), time.Hour)
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if res.State != ReservationStateNew {
		t.Fatalf("expected new reservation after release, got %v", res.State)
	}
}

func TestMemoryStoreExpiredRecordIsReclaimed(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Complete(ctx, "evt_old", now, time.Minute); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	res, err := store.Reserve(ctx, "evt_old", "razorpay", now.Add(2*time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if res.State != ReservationStateNew {
		t.Fatalf("expected expired record to be reclaimed, got %v", res.State)
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Complete(ctx, "evt_a", now, time.Minute); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if err := store.Complete(ctx, "evt_b", now, 2*time.Hour); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	removed, err := store.CleanupExpired(ctx, now.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("CleanupExpired returned error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 record removed, got %d", removed)
	}
}
