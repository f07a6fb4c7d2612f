package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/cafeatonce/commerce-api/internal/domain"
	"github.com/cafeatonce/commerce-api/internal/platform/auth"
	"github.com/cafeatonce/commerce-api/internal/services"
)

type stubCartService struct {
	getFn    func(context.Context, services.CartRef) (services.CartView, error)
	addFn    func(context.Context, services.AddCartItemCommand) (services.CartView, error)
	updateFn func(context.Context, services.UpdateCartItemCommand) (services.CartView, error)
	removeFn func(context.Context, services.RemoveCartItemCommand) (services.CartView, error)
	clearFn  func(context.Context, services.CartRef) error
	mergeFn  func(context.Context, services.MergeCartCommand) (services.CartView, error)
	purgeFn  func(context.Context, int) (int, error)
}

func (s *stubCartService) GetCart(ctx context.Context, ref services.CartRef) (services.CartView, error) {
	if s.getFn != nil {
		return s.getFn(ctx, ref)
	}
	return services.CartView{}, errors.New("not implemented")
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.CartView, error) {
	if s.addFn != nil {
		return s.addFn(ctx, cmd)
	}
	return services.CartView{}, errors.New("not implemented")
}

func (s *stubCartService) UpdateItemQuantity(ctx context.Context, cmd services.UpdateCartItemCommand) (services.CartView, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.CartView{}, errors.New("not implemented")
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) (services.CartView, error) {
	if s.removeFn != nil {
		return s.removeFn(ctx, cmd)
	}
	return services.CartView{}, errors.New("not implemented")
}

func (s *stubCartService) ClearCart(ctx context.Context, ref services.CartRef) error {
	if s.clearFn != nil {
		return s.clearFn(ctx, ref)
	}
	return errors.New("not implemented")
}

func (s *stubCartService) MergeGuestCart(ctx context.Context, cmd services.MergeCartCommand) (services.CartView, error) {
	if s.mergeFn != nil {
		return s.mergeFn(ctx, cmd)
	}
	return services.CartView{}, errors.New("not implemented")
}

func (s *stubCartService) PurgeExpired(ctx context.Context, limit int) (int, error) {
	if s.purgeFn != nil {
		return s.purgeFn(ctx, limit)
	}
	return 0, errors.New("not implemented")
}

func newCartRouter(service services.CartService) chi.Router {
	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)
	return router
}

func sampleCartView(owner services.CartRef) services.CartView {
	now := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	return services.CartView{
		Cart: services.Cart{
			ID:        "cart-1",
			UserID:    owner.UserID,
			SessionID: owner.SessionID,
			Items: []services.CartItem{
				{ProductID: "p-classic", Quantity: 2, Type: domain.PurchaseOneTime},
			},
			UpdatedAt: now,
		},
		Lines: []services.PricedCartLine{
			{
				ProductID: "p-classic",
				Name:      "Classic Concentrate",
				SKU:       "CAO-CL-01",
				Quantity:  2,
				Type:      domain.PurchaseOneTime,
				ListPrice: 29900,
				UnitPrice: 29900,
				LineTotal: 59800,
			},
		},
		Subtotal: 59800,
	}
}

func TestCartHandlersGetCartForUser(t *testing.T) {
	var captured services.CartRef
	service := &stubCartService{
		getFn: func(ctx context.Context, ref services.CartRef) (services.CartView, error) {
			captured = ref
			return sampleCartView(ref), nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: "user-1"}))
	req.Header.Set(sessionHeader, "sess-ignored")

	rr := httptest.NewRecorder()
	newCartRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" || captured.SessionID != "" {
		t.Fatalf("expected identity to win over session header, got %+v", captured)
	}

	var resp cartViewResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Cart.ID != "cart-1" || resp.Cart.ItemsCount != 1 {
		t.Fatalf("unexpected cart payload: %+v", resp.Cart)
	}
	if resp.Cart.Subtotal != 598 {
		t.Fatalf("expected subtotal 598 rupees, got %v", resp.Cart.Subtotal)
	}
	if resp.Cart.Items[0].LineTotal != 598 {
		t.Fatalf("expected line total 598, got %v", resp.Cart.Items[0].LineTotal)
	}
}

func TestCartHandlersGetCartForGuestSession(t *testing.T) {
	var captured services.CartRef
	service := &stubCartService{
		getFn: func(ctx context.Context, ref services.CartRef) (services.CartView, error) {
			captured = ref
			return sampleCartView(ref), nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set(sessionHeader, "sess-77")

	rr := httptest.NewRecorder()
	newCartRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.SessionID != "sess-77" || captured.UserID != "" {
		t.Fatalf("expected session ref, got %+v", captured)
	}
}

func TestCartHandlersGetCartRequiresOwner(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	rr := httptest.NewRecorder()
	newCartRouter(&stubCartService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestCartHandlersAddItem(t *testing.T) {
	var captured services.AddCartItemCommand
	service := &stubCartService{
		addFn: func(ctx context.Context, cmd services.AddCartItemCommand) (services.CartView, error) {
			captured = cmd
			return sampleCartView(cmd.Ref), nil
		},
	}

	body := bytes.NewBufferString(`{"product_id":"p-classic","quantity":2,"type":"subscription"}`)
	req := httptest.NewRequest(http.MethodPost, "/cart/items", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: "user-1"}))

	rr := httptest.NewRecorder()
	newCartRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProductID != "p-classic" || captured.Quantity != 2 {
		t.Fatalf("unexpected command: %+v", captured)
	}
	if captured.Type != domain.PurchaseSubscription {
		t.Fatalf("expected subscription purchase type, got %s", captured.Type)
	}
}

func TestCartHandlersAddItemDefaultsPurchaseType(t *testing.T) {
	var captured services.AddCartItemCommand
	service := &stubCartService{
		addFn: func(ctx context.Context, cmd services.AddCartItemCommand) (services.CartView, error) {
			captured = cmd
			return sampleCartView(cmd.Ref), nil
		},
	}

	body := bytes.NewBufferString(`{"product_id":"p-classic","quantity":1}`)
	req := httptest.NewRequest(http.MethodPost, "/cart/items", body)
	req.Header.Set(sessionHeader, "sess-77")

	rr := httptest.NewRecorder()
	newCartRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.Type != domain.PurchaseOneTime {
		t.Fatalf("expected one-time default, got %s", captured.Type)
	}
}

func TestCartHandlersAddItemEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/cart/items", nil)
	req.Header.Set(sessionHeader, "sess-77")

	rr := httptest.NewRecorder()
	newCartRouter(&stubCartService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCartHandlersUpdateItemQuantity(t *testing.T) {
	var captured services.UpdateCartItemCommand
	service := &stubCartService{
		updateFn: func(ctx context.Context, cmd services.UpdateCartItemCommand) (services.CartView, error) {
			captured = cmd
			return sampleCartView(cmd.Ref), nil
		},
	}

	body := bytes.NewBufferString(`{"quantity":0}`)
	req := httptest.NewRequest(http.MethodPatch, "/cart/items/p-classic", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: "user-1"}))

	rr := httptest.NewRecorder()
	newCartRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.ProductID != "p-classic" || captured.Quantity != 0 {
		t.Fatalf("unexpected command: %+v", captured)
	}
}

func TestCartHandlersRemoveItemUsesQueryType(t *testing.T) {
	var captured services.RemoveCartItemCommand
	service := &stubCartService{
		removeFn: func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.CartView, error) {
			captured = cmd
			return sampleCartView(cmd.Ref), nil
		},
	}

	req := httptest.NewRequest(http.MethodDelete, "/cart/items/p-classic?type=subscription", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: "user-1"}))

	rr := httptest.NewRecorder()
	newCartRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.Type != domain.PurchaseSubscription {
		t.Fatalf("expected subscription type from query, got %s", captured.Type)
	}
}

func TestCartHandlersClearCart(t *testing.T) {
	cleared := false
	service := &stubCartService{
		clearFn: func(ctx context.Context, ref services.CartRef) error {
			cleared = true
			return nil
		},
	}

	req := httptest.NewRequest(http.MethodDelete, "/cart", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: "user-1"}))

	rr := httptest.NewRecorder()
	newCartRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if !cleared {
		t.Fatalf("expected clear to be invoked")
	}
}

func TestCartHandlersMergeRequiresSessionHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/cart/merge", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: "user-1"}))

	rr := httptest.NewRecorder()
	newCartRouter(&stubCartService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCartHandlersMergeGuestCart(t *testing.T) {
	var captured services.MergeCartCommand
	service := &stubCartService{
		mergeFn: func(ctx context.Context, cmd services.MergeCartCommand) (services.CartView, error) {
			captured = cmd
			return sampleCartView(services.CartRef{UserID: cmd.UserID}), nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/cart/merge", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: "user-1"}))
	req.Header.Set(sessionHeader, "sess-77")

	rr := httptest.NewRecorder()
	newCartRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.UserID != "user-1" || captured.SessionID != "sess-77" {
		t.Fatalf("unexpected merge command: %+v", captured)
	}
}

func TestCartHandlersServiceErrorsMapped(t *testing.T) {
	service := &stubCartService{
		getFn: func(ctx context.Context, ref services.CartRef) (services.CartView, error) {
			return services.CartView{}, services.ErrCartUnavailable
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set(sessionHeader, "sess-77")

	rr := httptest.NewRecorder()
	newCartRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
