package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/cafeatonce/commerce-api/internal/domain"
	"github.com/cafeatonce/commerce-api/internal/services"
)

type stubInventoryService struct {
	reserveFn    func(context.Context, services.ReserveStockCommand) (services.Reservation, error)
	commitFn     func(context.Context, string, string) error
	releaseFn    func(context.Context, string, string) error
	restockFn    func(context.Context, []domain.ReservationLine) error
	releaseExpFn func(context.Context, int) (int, error)
}

func (s *stubInventoryService) Reserve(ctx context.Context, cmd services.ReserveStockCommand) (services.Reservation, error) {
	if s.reserveFn != nil {
		return s.reserveFn(ctx, cmd)
	}
	return services.Reservation{}, errors.New("not implemented")
}

func (s *stubInventoryService) Commit(ctx context.Context, reservationID, orderRef string) error {
	if s.commitFn != nil {
		return s.commitFn(ctx, reservationID, orderRef)
	}
	return errors.New("not implemented")
}

func (s *stubInventoryService) Release(ctx context.Context, reservationID, reason string) error {
	if s.releaseFn != nil {
		return s.releaseFn(ctx, reservationID, reason)
	}
	return errors.New("not implemented")
}

func (s *stubInventoryService) Restock(ctx context.Context, lines []domain.ReservationLine) error {
	if s.restockFn != nil {
		return s.restockFn(ctx, lines)
	}
	return errors.New("not implemented")
}

func (s *stubInventoryService) ReleaseExpired(ctx context.Context, limit int) (int, error) {
	if s.releaseExpFn != nil {
		return s.releaseExpFn(ctx, limit)
	}
	return 0, errors.New("not implemented")
}

func newInternalRouter(inventory services.InventoryService, carts services.CartService, subscriptions services.SubscriptionService) chi.Router {
	handler := NewInternalJobHandlers(inventory, carts, subscriptions, nil)
	router := chi.NewRouter()
	router.Route("/internal", handler.Routes)
	return router
}

func TestInternalJobHandlersSweepReservations(t *testing.T) {
	var capturedLimit int
	inventory := &stubInventoryService{
		releaseExpFn: func(ctx context.Context, limit int) (int, error) {
			capturedLimit = limit
			return 3, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/reservations/sweep?limit=25", nil)
	rr := httptest.NewRecorder()
	newInternalRouter(inventory, &stubCartService{}, &stubSubscriptionService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedLimit != 25 {
		t.Fatalf("expected limit 25, got %d", capturedLimit)
	}

	var resp jobResultResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Processed != 3 {
		t.Fatalf("expected 3 processed, got %d", resp.Processed)
	}
}

func TestInternalJobHandlersSweepInvalidLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/reservations/sweep?limit=-1", nil)
	rr := httptest.NewRecorder()
	newInternalRouter(&stubInventoryService{}, &stubCartService{}, &stubSubscriptionService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestInternalJobHandlersPurgeCarts(t *testing.T) {
	carts := &stubCartService{
		purgeFn: func(ctx context.Context, limit int) (int, error) {
			if limit != 0 {
				t.Fatalf("expected default limit 0, got %d", limit)
			}
			return 7, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/carts/purge", nil)
	rr := httptest.NewRecorder()
	newInternalRouter(&stubInventoryService{}, carts, &stubSubscriptionService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp jobResultResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Processed != 7 {
		t.Fatalf("expected 7 processed, got %d", resp.Processed)
	}
}

func TestInternalJobHandlersAdvanceSubscriptionsFailure(t *testing.T) {
	subscriptions := &stubSubscriptionService{
		advanceFn: func(ctx context.Context, limit int) (int, error) {
			return 0, errors.New("firestore down")
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/subscriptions/advance", nil)
	rr := httptest.NewRecorder()
	newInternalRouter(&stubInventoryService{}, &stubCartService{}, subscriptions).ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}

func TestRequireJobTokenRejectsMismatch(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	protected := RequireJobToken("secret-token")(next)

	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/carts/purge", nil)
	req.Header.Set("X-Internal-Token", "wrong")
	rr := httptest.NewRecorder()
	protected.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/internal/jobs/carts/purge", nil)
	req.Header.Set("X-Internal-Token", "secret-token")
	rr = httptest.NewRecorder()
	protected.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestRequireJobTokenDisabledWhenEmpty(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	protected := RequireJobToken("")(next)

	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/carts/purge", nil)
	rr := httptest.NewRecorder()
	protected.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}
