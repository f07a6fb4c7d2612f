package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Status represents the lifecycle state of a processed-event record.
type Status string

const (
	// DefaultTTL is the default duration that processed-event records are retained.
	DefaultTTL = 72 * time.Hour
	// StatusPending indicates that a handler has reserved the event but not yet finished processing it.
	StatusPending Status = "pending"
	// StatusCompleted indicates that the event was fully processed and replays must be skipped.
	StatusCompleted Status = "completed"
)

// ReservationState describes the outcome of attempting to reserve an event identifier.
type ReservationState int

const (
	// ReservationStateNew means the event has not been seen and the caller may process it.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means the event was already processed and should be acknowledged without effect.
	ReservationStateCompleted
	// ReservationStatePending means another delivery of the same event is currently being processed.
	ReservationStatePending
)

// Reservation encapsulates the result of reserving an event, including the stored record if available.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record captures the persisted metadata for a processed event.
type Record struct {
	EventID   string
	Source    string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Store persists processed-event reservations so that redelivered events are applied at most once.
type Store interface {
	Reserve(ctx context.Context, eventID, source string, now time.Time, ttl time.Duration) (Reservation, error)
	Complete(ctx context.Context, eventID string, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, eventID string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

func recordID(eventID string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(eventID)))
	return hex.EncodeToString(sum[:])
}
