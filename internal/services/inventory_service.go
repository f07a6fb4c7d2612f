package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/cafeatonce/commerce-api/internal/domain"
	"github.com/cafeatonce/commerce-api/internal/repositories"
)

var (
	// ErrInventoryInvalidInput indicates the caller supplied invalid input.
	ErrInventoryInvalidInput = errors.New("inventory service: invalid input")
	// ErrInventoryInsufficient indicates at least one line cannot be covered by available stock.
	ErrInventoryInsufficient = errors.New("inventory service: insufficient stock")
	// ErrInventoryNotFound indicates the product or reservation does not exist.
	ErrInventoryNotFound = errors.New("inventory service: not found")
	// ErrInventoryUnavailable indicates the stock backend cannot serve the request.
	ErrInventoryUnavailable = errors.New("inventory service: unavailable")
)

const (
	defaultReservationTTL    = 15 * time.Minute
	defaultLowStockWatermark = 10
)

// InventoryServiceDeps wires the stock repository and event publishing.
type InventoryServiceDeps struct {
	Stock             repositories.StockRepository
	Products          repositories.ProductRepository
	Events            EventPublisher
	Clock             func() time.Time
	IDGenerator       func() string
	ReservationTTL    time.Duration
	LowStockWatermark int64
	Logger            func(context.Context, string, map[string]any)
}

type inventoryService struct {
	stock     repositories.StockRepository
	products  repositories.ProductRepository
	events    EventPublisher
	now       func() time.Time
	newID     func() string
	ttl       time.Duration
	watermark int64
	logger    func(context.Context, string, map[string]any)
}

// NewInventoryService constructs an InventoryService enforcing dependency validation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Stock == nil {
		return nil, errors.New("inventory service: stock repository is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("inventory service: clock is required")
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	ttl := deps.ReservationTTL
	if ttl <= 0 {
		ttl = defaultReservationTTL
	}
	watermark := deps.LowStockWatermark
	if watermark <= 0 {
		watermark = defaultLowStockWatermark
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		stock:     deps.Stock,
		products:  deps.Products,
		events:    deps.Events,
		now:       func() time.Time { return deps.Clock().UTC() },
		newID:     idGen,
		ttl:       ttl,
		watermark: watermark,
		logger:    logger,
	}, nil
}

// Reserve places a hold on every requested line or nothing at all.
func (s *inventoryService) Reserve(ctx context.Context, cmd ReserveStockCommand) (Reservation, error) {
	if len(cmd.Lines) == 0 {
		return Reservation{}, fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}
	merged := make(map[string]int64, len(cmd.Lines))
	order := make([]string, 0, len(cmd.Lines))
	for _, line := range cmd.Lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return Reservation{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
		}
		if line.Quantity <= 0 {
			return Reservation{}, fmt.Errorf("%w: quantity must be positive for product %s", ErrInventoryInvalidInput, productID)
		}
		if _, ok := merged[productID]; !ok {
			order = append(order, productID)
		}
		merged[productID] += line.Quantity
	}

	lines := make([]ReservationLine, 0, len(order))
	for _, productID := range order {
		lines = append(lines, ReservationLine{ProductID: productID, Quantity: merged[productID]})
	}

	now := s.now()
	reservation := Reservation{
		ID:        s.newID(),
		UserID:    strings.TrimSpace(cmd.UserID),
		OrderRef:  strings.TrimSpace(cmd.OrderRef),
		Lines:     lines,
		Status:    domain.ReservationActive,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	created, err := s.stock.Reserve(ctx, repositories.StockReserveRequest{Reservation: reservation, Now: now})
	if err != nil {
		return Reservation{}, s.translateStockError(err)
	}
	return created, nil
}

// Commit finalises the reservation into an on-hand decrement for the order.
func (s *inventoryService) Commit(ctx context.Context, reservationID, orderRef string) error {
	id := strings.TrimSpace(reservationID)
	if id == "" {
		return fmt.Errorf("%w: reservation id is required", ErrInventoryInvalidInput)
	}

	err := s.stock.Commit(ctx, repositories.StockCommitRequest{
		ReservationID: id,
		OrderRef:      strings.TrimSpace(orderRef),
		Now:           s.now(),
	})
	if err != nil {
		return s.translateStockError(err)
	}

	s.publishLowStock(ctx, id)
	return nil
}

// Release returns the reserved quantities to availability.
func (s *inventoryService) Release(ctx context.Context, reservationID, reason string) error {
	id := strings.TrimSpace(reservationID)
	if id == "" {
		return fmt.Errorf("%w: reservation id is required", ErrInventoryInvalidInput)
	}

	err := s.stock.Release(ctx, repositories.StockReleaseRequest{
		ReservationID: id,
		Reason:        strings.TrimSpace(reason),
		Now:           s.now(),
	})
	if err != nil {
		return s.translateStockError(err)
	}
	return nil
}

// Restock adds quantities back to on-hand stock after a cancellation.
func (s *inventoryService) Restock(ctx context.Context, lines []ReservationLine) error {
	if len(lines) == 0 {
		return nil
	}
	if err := s.stock.Restock(ctx, lines, s.now()); err != nil {
		return s.translateStockError(err)
	}
	return nil
}

// ReleaseExpired sweeps reservations past their expiry.
func (s *inventoryService) ReleaseExpired(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	released, err := s.stock.ReleaseExpired(ctx, s.now(), limit)
	if err != nil {
		return released, s.translateStockError(err)
	}
	return released, nil
}

func (s *inventoryService) publishLowStock(ctx context.Context, reservationID string) {
	if s.events == nil || s.products == nil {
		return
	}

	reservation, err := s.stock.FindReservation(ctx, reservationID)
	if err != nil {
		return
	}
	ids := make([]string, 0, len(reservation.Lines))
	for _, line := range reservation.Lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return
	}

	for _, product := range products {
		if product.Available() > s.watermark {
			continue
		}
		if _, err := s.events.PublishEvent(ctx, EventMessage{
			ID:         s.newID(),
			Type:       EventStockLow,
			OccurredAt: s.now(),
			ProductID:  product.ID,
			Amount:     product.Available(),
		}); err != nil {
			s.logger(ctx, "inventory.low_stock.publish_failed", map[string]any{
				"productId": product.ID,
				"error":     err.Error(),
			})
		}
	}
}

func (s *inventoryService) translateStockError(err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %s", ErrInventoryInsufficient, stockErr.ProductName)
		case repositories.StockErrorProductNotFound, repositories.StockErrorReservationNotFound:
			return ErrInventoryNotFound
		case repositories.StockErrorInvalidReservationState:
			return fmt.Errorf("%w: %s", ErrInventoryInvalidInput, stockErr.Message)
		}
	}
	if isRepoNotFound(err) {
		return ErrInventoryNotFound
	}
	return ErrInventoryUnavailable
}
