package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/cafeatonce/commerce-api/internal/platform/auth"
	"github.com/cafeatonce/commerce-api/internal/services"
)

type stubPaymentService struct {
	createFn  func(context.Context, services.CreateGatewayOrderCommand) (services.GatewayOrderView, error)
	verifyFn  func(context.Context, services.VerifyPaymentCommand) (services.Order, error)
	refundFn  func(context.Context, services.RefundOrderCommand) (services.Order, error)
	webhookFn func(context.Context, services.WebhookCommand) error
	keyFn     func() string
}

func (s *stubPaymentService) CreateGatewayOrder(ctx context.Context, cmd services.CreateGatewayOrderCommand) (services.GatewayOrderView, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.GatewayOrderView{}, errors.New("not implemented")
}

func (s *stubPaymentService) VerifyPayment(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Order, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubPaymentService) Refund(ctx context.Context, cmd services.RefundOrderCommand) (services.Order, error) {
	if s.refundFn != nil {
		return s.refundFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubPaymentService) ProcessWebhook(ctx context.Context, cmd services.WebhookCommand) error {
	if s.webhookFn != nil {
		return s.webhookFn(ctx, cmd)
	}
	return errors.New("not implemented")
}

func (s *stubPaymentService) CheckoutKeyID() string {
	if s.keyFn != nil {
		return s.keyFn()
	}
	return "rzp_test_key"
}

func newPaymentRouter(service services.PaymentService) chi.Router {
	handler := NewPaymentHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)
	return router
}

func TestPaymentHandlersCreateGatewayOrder(t *testing.T) {
	var captured services.CreateGatewayOrderCommand
	service := &stubPaymentService{
		createFn: func(ctx context.Context, cmd services.CreateGatewayOrderCommand) (services.GatewayOrderView, error) {
			captured = cmd
			return services.GatewayOrderView{
				GatewayOrderID: "order_gw1",
				Amount:         cmd.Amount,
				Currency:       "INR",
				KeyID:          "rzp_test_key",
			}, nil
		},
	}

	body := bytes.NewBufferString(`{"amount":427.82,"receipt":"ord-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/payments/order", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: "user-1"}))

	rr := httptest.NewRecorder()
	newPaymentRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Amount != 42782 {
		t.Fatalf("expected amount 42782 paise, got %d", captured.Amount)
	}
	if captured.Receipt != "ord-1" {
		t.Fatalf("unexpected receipt: %q", captured.Receipt)
	}

	var resp gatewayOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.GatewayOrderID != "order_gw1" || resp.KeyID != "rzp_test_key" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Amount != 427.82 {
		t.Fatalf("expected amount 427.82 rupees, got %v", resp.Amount)
	}
}

func TestPaymentHandlersCreateGatewayOrderRequiresAuth(t *testing.T) {
	body := bytes.NewBufferString(`{"amount":100}`)
	req := httptest.NewRequest(http.MethodPost, "/payments/order", body)

	rr := httptest.NewRecorder()
	newPaymentRouter(&stubPaymentService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestPaymentHandlersVerifyPayment(t *testing.T) {
	var captured services.VerifyPaymentCommand
	service := &stubPaymentService{
		verifyFn: func(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}

	body := bytes.NewBufferString(`{"gateway_order_id":"order_gw1","gateway_payment_id":"pay_gw1","signature":"sig"}`)
	req := httptest.NewRequest(http.MethodPost, "/payments/verify", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: "user-1"}))

	rr := httptest.NewRecorder()
	newPaymentRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.UserID != "user-1" || captured.GatewayOrderID != "order_gw1" || captured.GatewayPaymentID != "pay_gw1" {
		t.Fatalf("unexpected command: %+v", captured)
	}
}

func TestPaymentHandlersVerifyPaymentBadSignature(t *testing.T) {
	service := &stubPaymentService{
		verifyFn: func(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Order, error) {
			return services.Order{}, services.ErrPaymentSignature
		},
	}

	body := bytes.NewBufferString(`{"gateway_order_id":"order_gw1","gateway_payment_id":"pay_gw1","signature":"bad"}`)
	req := httptest.NewRequest(http.MethodPost, "/payments/verify", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: "user-1"}))

	rr := httptest.NewRecorder()
	newPaymentRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestPaymentHandlersWebhookPassesRawBody(t *testing.T) {
	var captured services.WebhookCommand
	service := &stubPaymentService{
		webhookFn: func(ctx context.Context, cmd services.WebhookCommand) error {
			captured = cmd
			return nil
		},
	}

	raw := `{"event":"payment.captured","payload":{}}`
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewBufferString(raw))
	req.Header.Set(webhookSignatureHeader, "deadbeef")
	req.Header.Set(webhookEventIDHeader, "evt_1")

	rr := httptest.NewRecorder()
	newPaymentRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if string(captured.Body) != raw {
		t.Fatalf("expected raw body to reach the service unchanged, got %q", string(captured.Body))
	}
	if captured.Signature != "deadbeef" || captured.EventID != "evt_1" {
		t.Fatalf("unexpected command: %+v", captured)
	}
}

func TestPaymentHandlersWebhookSignatureRejected(t *testing.T) {
	service := &stubPaymentService{
		webhookFn: func(ctx context.Context, cmd services.WebhookCommand) error {
			return services.ErrPaymentSignature
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewBufferString(`{}`))
	req.Header.Set(webhookSignatureHeader, "tampered")

	rr := httptest.NewRecorder()
	newPaymentRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestPaymentHandlersWebhookProcessingFailureRetriable(t *testing.T) {
	service := &stubPaymentService{
		webhookFn: func(ctx context.Context, cmd services.WebhookCommand) error {
			return errors.New("backend down")
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewBufferString(`{}`))
	req.Header.Set(webhookSignatureHeader, "sig")

	rr := httptest.NewRecorder()
	newPaymentRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500 so the gateway retries, got %d", rr.Code)
	}
}

func TestPaymentHandlersWebhookEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", nil)

	rr := httptest.NewRecorder()
	newPaymentRouter(&stubPaymentService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestPaymentHandlersCheckoutKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/payments/key", nil)

	rr := httptest.NewRecorder()
	newPaymentRouter(&stubPaymentService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp struct {
		KeyID string `json:"key_id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.KeyID != "rzp_test_key" {
		t.Fatalf("expected key id rzp_test_key, got %q", resp.KeyID)
	}
}

func TestPaymentHandlersCheckoutKeyUnconfigured(t *testing.T) {
	service := &stubPaymentService{keyFn: func() string { return "" }}

	req := httptest.NewRequest(http.MethodGet, "/payments/key", nil)

	rr := httptest.NewRecorder()
	newPaymentRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
