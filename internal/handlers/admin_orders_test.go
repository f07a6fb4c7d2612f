package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/cafeatonce/commerce-api/internal/domain"
	"github.com/cafeatonce/commerce-api/internal/platform/auth"
	"github.com/cafeatonce/commerce-api/internal/services"
)

func newAdminRouter(orders services.OrderService, payments services.PaymentService) chi.Router {
	handler := NewAdminOrderHandlers(nil, orders, payments)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)
	return router
}

func adminRequest(req *http.Request) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: "admin-1", Role: auth.RoleAdmin}))
}

func TestAdminOrderHandlersRequireAdminRole(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: "user-1", Role: auth.RoleUser}))

	rr := httptest.NewRecorder()
	newAdminRouter(&stubOrderService{}, &stubPaymentService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestAdminOrderHandlersRequireAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	rr := httptest.NewRecorder()
	newAdminRouter(&stubOrderService{}, &stubPaymentService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestAdminOrderHandlersListWithFilters(t *testing.T) {
	var captured services.AdminOrderFilter
	service := &stubOrderService{
		listFn: func(ctx context.Context, filter services.AdminOrderFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder()}}, nil
		},
	}

	req := adminRequest(httptest.NewRequest(http.MethodGet, "/admin/orders?status=confirmed&payment_status=completed&page_size=50", nil))
	rr := httptest.NewRecorder()
	newAdminRouter(service, &stubPaymentService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Status == nil || *captured.Status != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected status filter: %v", captured.Status)
	}
	if captured.PaymentStatus == nil || *captured.PaymentStatus != domain.PaymentStatusCompleted {
		t.Fatalf("unexpected payment status filter: %v", captured.PaymentStatus)
	}
	if captured.Pagination.PageSize != 50 {
		t.Fatalf("unexpected pagination: %+v", captured.Pagination)
	}
}

func TestAdminOrderHandlersUpdateStatus(t *testing.T) {
	var captured services.UpdateOrderStatusCommand
	service := &stubOrderService{
		updateFn: func(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = cmd.Status
			return order, nil
		},
	}

	body := bytes.NewBufferString(`{"status":"shipped","tracking_number":"AWB-42","note":"left warehouse"}`)
	req := adminRequest(httptest.NewRequest(http.MethodPatch, "/admin/orders/ord-1/status", body))

	rr := httptest.NewRecorder()
	newAdminRouter(service, &stubPaymentService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.OrderID != "ord-1" || captured.Status != domain.OrderStatusShipped {
		t.Fatalf("unexpected command: %+v", captured)
	}
	if captured.TrackingNumber != "AWB-42" || captured.Note != "left warehouse" {
		t.Fatalf("unexpected command: %+v", captured)
	}
}

func TestAdminOrderHandlersUpdateStatusIllegalTransition(t *testing.T) {
	service := &stubOrderService{
		updateFn: func(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderIllegalTransition
		},
	}

	body := bytes.NewBufferString(`{"status":"processing"}`)
	req := adminRequest(httptest.NewRequest(http.MethodPatch, "/admin/orders/ord-1/status", body))

	rr := httptest.NewRecorder()
	newAdminRouter(service, &stubPaymentService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestAdminOrderHandlersCancelLeavesUserEmpty(t *testing.T) {
	var captured services.CancelOrderCommand
	service := &stubOrderService{
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}

	body := bytes.NewBufferString(`{"reason":"fraud review"}`)
	req := adminRequest(httptest.NewRequest(http.MethodPost, "/admin/orders/ord-1/cancel", body))

	rr := httptest.NewRecorder()
	newAdminRouter(service, &stubPaymentService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.UserID != "" {
		t.Fatalf("expected empty user id for admin cancel, got %q", captured.UserID)
	}
	if captured.Reason != "fraud review" {
		t.Fatalf("unexpected reason: %q", captured.Reason)
	}
}

func TestAdminOrderHandlersRefund(t *testing.T) {
	var captured services.RefundOrderCommand
	payments := &stubPaymentService{
		refundFn: func(ctx context.Context, cmd services.RefundOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.RefundStatus = domain.RefundStatusProcessing
			order.RefundAmount = cmd.Amount
			return order, nil
		},
	}

	body := bytes.NewBufferString(`{"amount":427.82,"reason":"damaged in transit"}`)
	req := adminRequest(httptest.NewRequest(http.MethodPost, "/admin/orders/ord-1/refund", body))

	rr := httptest.NewRecorder()
	newAdminRouter(&stubOrderService{}, payments).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord-1" || captured.Amount != 42782 {
		t.Fatalf("unexpected command: %+v", captured)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.RefundStatus != "processing" || resp.Order.RefundAmount != 427.82 {
		t.Fatalf("unexpected refund payload: %+v", resp.Order)
	}
}

func TestAdminOrderHandlersRefundNotRefundable(t *testing.T) {
	payments := &stubPaymentService{
		refundFn: func(ctx context.Context, cmd services.RefundOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrPaymentNotRefundable
		},
	}

	req := adminRequest(httptest.NewRequest(http.MethodPost, "/admin/orders/ord-1/refund", nil))
	rr := httptest.NewRecorder()
	newAdminRouter(&stubOrderService{}, payments).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}
