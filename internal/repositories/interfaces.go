package repositories

import (
	"context"
	"time"

	domain "github.com/cafeatonce/commerce-api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for
// dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Carts() CartRepository
	Orders() OrderRepository
	Subscriptions() SubscriptionRepository
	Stock() StockRepository
	Counters() CounterRepository

	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation
// used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional
// boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository reads catalog entries. Stock fields on the product are
// mutated only through StockRepository.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	ListActive(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error)
}

// CartRepository persists user and guest carts.
type CartRepository interface {
	FindByUser(ctx context.Context, userID string) (domain.Cart, error)
	FindBySession(ctx context.Context, sessionID string) (domain.Cart, error)
	Upsert(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	Delete(ctx context.Context, cartID string) error
	// PurgeExpired removes guest carts whose ExpiresAt is before now and
	// returns how many were deleted.
	PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// OrderRepository persists orders. Insert enforces order-number uniqueness
// at the storage layer and surfaces violations as conflicts so callers can
// regenerate and retry.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error)
	FindByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter narrows admin order listings.
type OrderListFilter struct {
	Status        *domain.OrderStatus
	PaymentStatus *domain.PaymentStatus
	Pagination    domain.Pagination
}

// SubscriptionRepository persists recurring delivery plans.
type SubscriptionRepository interface {
	Insert(ctx context.Context, sub domain.Subscription) error
	Update(ctx context.Context, sub domain.Subscription) error
	FindByID(ctx context.Context, subscriptionID string) (domain.Subscription, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error)
	// ListDue returns active subscriptions whose NextDelivery is not after
	// the given instant.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Subscription, error)
}

// StockRepository manages stock levels on product documents together with
// the reservation lifecycle. Implementations must make Reserve all-or-nothing:
// either every line's availability check passes and the holds are written, or
// nothing changes.
type StockRepository interface {
	Reserve(ctx context.Context, req StockReserveRequest) (domain.Reservation, error)
	Commit(ctx context.Context, req StockCommitRequest) error
	Release(ctx context.Context, req StockReleaseRequest) error
	// Restock adds quantities back to on-hand stock, used when a confirmed
	// order is cancelled after its reservation was committed.
	Restock(ctx context.Context, lines []domain.ReservationLine, now time.Time) error
	FindReservation(ctx context.Context, reservationID string) (domain.Reservation, error)
	// ReleaseExpired settles active reservations past their ExpiresAt and
	// returns how many were swept. A hold whose order reference resolves to
	// a stored order is committed instead of released.
	ReleaseExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// StockReserveRequest creates a reservation with a TTL.
type StockReserveRequest struct {
	Reservation domain.Reservation
	Now         time.Time
}

// StockCommitRequest finalises a reservation into an on-hand decrement.
type StockCommitRequest struct {
	ReservationID string
	OrderRef      string
	Now           time.Time
}

// StockReleaseRequest returns reserved quantities to availability.
type StockReleaseRequest struct {
	ReservationID string
	Reason        string
	Now           time.Time
}

// CounterRepository issues monotonically increasing sequences, used for
// order-number suffixes.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}
