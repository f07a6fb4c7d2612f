package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/cafeatonce/commerce-api/internal/domain"
	"github.com/cafeatonce/commerce-api/internal/repositories"
)

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return "stub repo error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

var (
	errStubNotFound = stubRepoError{notFound: true}
	errStubConflict = stubRepoError{conflict: true}
)

type stubProductRepo struct {
	findFn    func(ctx context.Context, productID string) (domain.Product, error)
	findAllFn func(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	listFn    func(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error)
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFn != nil {
		return s.findFn(ctx, productID)
	}
	return domain.Product{}, errStubNotFound
}

func (s *stubProductRepo) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if s.findAllFn != nil {
		return s.findAllFn(ctx, productIDs)
	}
	return nil, errors.New("not implemented")
}

func (s *stubProductRepo) ListActive(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, pager)
	}
	return domain.CursorPage[domain.Product]{}, nil
}

// catalogRepo builds a product repo backed by a fixed catalog map.
func catalogRepo(products map[string]domain.Product) *stubProductRepo {
	return &stubProductRepo{
		findFn: func(_ context.Context, productID string) (domain.Product, error) {
			product, ok := products[productID]
			if !ok {
				return domain.Product{}, errStubNotFound
			}
			return product, nil
		},
		findAllFn: func(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
			out := make(map[string]domain.Product, len(productIDs))
			for _, id := range productIDs {
				if product, ok := products[id]; ok {
					out[id] = product
				}
			}
			return out, nil
		},
	}
}

type stubCartRepo struct {
	findUserFn    func(ctx context.Context, userID string) (domain.Cart, error)
	findSessionFn func(ctx context.Context, sessionID string) (domain.Cart, error)
	upsertFn      func(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	deleteFn      func(ctx context.Context, cartID string) error
	purgeFn       func(ctx context.Context, now time.Time, limit int) (int, error)
}

func (s *stubCartRepo) FindByUser(ctx context.Context, userID string) (domain.Cart, error) {
	if s.findUserFn != nil {
		return s.findUserFn(ctx, userID)
	}
	return domain.Cart{}, errStubNotFound
}

func (s *stubCartRepo) FindBySession(ctx context.Context, sessionID string) (domain.Cart, error) {
	if s.findSessionFn != nil {
		return s.findSessionFn(ctx, sessionID)
	}
	return domain.Cart{}, errStubNotFound
}

func (s *stubCartRepo) Upsert(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, cart)
	}
	return cart, nil
}

func (s *stubCartRepo) Delete(ctx context.Context, cartID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, cartID)
	}
	return nil
}

func (s *stubCartRepo) PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if s.purgeFn != nil {
		return s.purgeFn(ctx, now, limit)
	}
	return 0, nil
}

type stubOrderRepo struct {
	insertFn        func(ctx context.Context, order domain.Order) error
	updateFn        func(ctx context.Context, order domain.Order) error
	findFn          func(ctx context.Context, orderID string) (domain.Order, error)
	findByGWOrderFn func(ctx context.Context, gatewayOrderID string) (domain.Order, error)
	findByGWPayFn   func(ctx context.Context, gatewayPaymentID string) (domain.Order, error)
	listByUserFn    func(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	listFn          func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errStubNotFound
}

func (s *stubOrderRepo) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	if s.findByGWOrderFn != nil {
		return s.findByGWOrderFn(ctx, gatewayOrderID)
	}
	return domain.Order{}, errStubNotFound
}

func (s *stubOrderRepo) FindByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (domain.Order, error) {
	if s.findByGWPayFn != nil {
		return s.findByGWPayFn(ctx, gatewayPaymentID)
	}
	return domain.Order{}, errStubNotFound
}

func (s *stubOrderRepo) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if s.listByUserFn != nil {
		return s.listByUserFn(ctx, userID, pager)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

type stubSubscriptionRepo struct {
	insertFn     func(ctx context.Context, sub domain.Subscription) error
	updateFn     func(ctx context.Context, sub domain.Subscription) error
	findFn       func(ctx context.Context, subscriptionID string) (domain.Subscription, error)
	listByUserFn func(ctx context.Context, userID string) ([]domain.Subscription, error)
	listDueFn    func(ctx context.Context, now time.Time, limit int) ([]domain.Subscription, error)
}

func (s *stubSubscriptionRepo) Insert(ctx context.Context, sub domain.Subscription) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, sub)
	}
	return nil
}

func (s *stubSubscriptionRepo) Update(ctx context.Context, sub domain.Subscription) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, sub)
	}
	return nil
}

func (s *stubSubscriptionRepo) FindByID(ctx context.Context, subscriptionID string) (domain.Subscription, error) {
	if s.findFn != nil {
		return s.findFn(ctx, subscriptionID)
	}
	return domain.Subscription{}, errStubNotFound
}

func (s *stubSubscriptionRepo) ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error) {
	if s.listByUserFn != nil {
		return s.listByUserFn(ctx, userID)
	}
	return nil, nil
}

func (s *stubSubscriptionRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Subscription, error) {
	if s.listDueFn != nil {
		return s.listDueFn(ctx, now, limit)
	}
	return nil, nil
}

type stubStockRepo struct {
	reserveFn    func(ctx context.Context, req repositories.StockReserveRequest) (domain.Reservation, error)
	commitFn     func(ctx context.Context, req repositories.StockCommitRequest) error
	releaseFn    func(ctx context.Context, req repositories.StockReleaseRequest) error
	restockFn    func(ctx context.Context, lines []domain.ReservationLine, now time.Time) error
	findFn       func(ctx context.Context, reservationID string) (domain.Reservation, error)
	releaseExpFn func(ctx context.Context, now time.Time, limit int) (int, error)
}

func (s *stubStockRepo) Reserve(ctx context.Context, req repositories.StockReserveRequest) (domain.Reservation, error) {
	if s.reserveFn != nil {
		return s.reserveFn(ctx, req)
	}
	return req.Reservation, nil
}

func (s *stubStockRepo) Commit(ctx context.Context, req repositories.StockCommitRequest) error {
	if s.commitFn != nil {
		return s.commitFn(ctx, req)
	}
	return nil
}

func (s *stubStockRepo) Release(ctx context.Context, req repositories.StockReleaseRequest) error {
	if s.releaseFn != nil {
		return s.releaseFn(ctx, req)
	}
	return nil
}

func (s *stubStockRepo) Restock(ctx context.Context, lines []domain.ReservationLine, now time.Time) error {
	if s.restockFn != nil {
		return s.restockFn(ctx, lines, now)
	}
	return nil
}

func (s *stubStockRepo) FindReservation(ctx context.Context, reservationID string) (domain.Reservation, error) {
	if s.findFn != nil {
		return s.findFn(ctx, reservationID)
	}
	return domain.Reservation{}, errStubNotFound
}

func (s *stubStockRepo) ReleaseExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if s.releaseExpFn != nil {
		return s.releaseExpFn(ctx, now, limit)
	}
	return 0, nil
}

type stubCounterRepo struct {
	nextFn func(ctx context.Context, counterID string, step int64) (int64, error)
	value  int64
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	s.value += step
	return s.value, nil
}

type captureEvents struct {
	messages []EventMessage
	err      error
}

func (c *captureEvents) PublishEvent(_ context.Context, message EventMessage) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.messages = append(c.messages, message)
	return message.ID, nil
}

func (c *captureEvents) ofType(eventType string) []EventMessage {
	var out []EventMessage
	for _, msg := range c.messages {
		if msg.Type == eventType {
			out = append(out, msg)
		}
	}
	return out
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}
