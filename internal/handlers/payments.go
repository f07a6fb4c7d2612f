package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/cafeatonce/commerce-api/internal/domain"
	"github.com/cafeatonce/commerce-api/internal/platform/httpx"
	"github.com/cafeatonce/commerce-api/internal/services"
)

const (
	maxPaymentBodySize = 16 * 1024
	maxWebhookBodySize = 256 * 1024

	webhookSignatureHeader = "X-Razorpay-Signature"
	webhookEventIDHeader   = "X-Razorpay-Event-Id"

	webhookRateLimit  = 120
	webhookRateWindow = time.Minute
)

// PaymentHandlers exposes gateway checkout endpoints and the webhook receiver.
// The webhook route deliberately skips identity middleware; the raw-body HMAC
// is the only authentication it has.
type PaymentHandlers struct {
	authn    func(http.Handler) http.Handler
	payments services.PaymentService
	limiter  rateLimiter
}

// NewPaymentHandlers constructs payment handlers. Webhook deliveries are
// rate limited per source address.
func NewPaymentHandlers(authn func(http.Handler) http.Handler, payments services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{
		authn:    authn,
		payments: payments,
		limiter:  newSimpleRateLimiter(webhookRateLimit, webhookRateWindow, nil),
	}
}

// Routes wires the /payments endpoints onto the provided router.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn)
		}
		g.Post("/order", h.createGatewayOrder)
		g.Post("/verify", h.verifyPayment)
	})
	r.Get("/key", h.checkoutKey)
	r.Post("/webhook", h.handleWebhook)
}

// checkoutKey returns the publishable gateway key the storefront embeds in
// its checkout widget.
func (h *PaymentHandlers) checkoutKey(w http.ResponseWriter, r *http.Request) {
	keyID := strings.TrimSpace(h.payments.CheckoutKeyID())
	if keyID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("gateway_unavailable", "online payments are not configured", http.StatusServiceUnavailable))
		return
	}
	writeJSONResponse(w, http.StatusOK, checkoutKeyResponse{KeyID: keyID})
}

func (h *PaymentHandlers) createGatewayOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	var req createGatewayOrderRequest
	if !decodeJSONBody(w, r, maxPaymentBodySize, &req) {
		return
	}

	view, err := h.payments.CreateGatewayOrder(ctx, services.CreateGatewayOrderCommand{
		Amount:   domain.RupeesToPaise(req.Amount),
		Currency: strings.TrimSpace(req.Currency),
		Receipt:  strings.TrimSpace(req.Receipt),
		Notes:    req.Notes,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, gatewayOrderResponse{
		GatewayOrderID: view.GatewayOrderID,
		Amount:         domain.PaiseToRupees(view.Amount),
		Currency:       view.Currency,
		KeyID:          view.KeyID,
	})
}

func (h *PaymentHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req verifyPaymentRequest
	if !decodeJSONBody(w, r, maxPaymentBodySize, &req) {
		return
	}

	order, err := h.payments.VerifyPayment(ctx, services.VerifyPaymentCommand{
		UserID:           identity.UserID,
		GatewayOrderID:   strings.TrimSpace(req.GatewayOrderID),
		GatewayPaymentID: strings.TrimSpace(req.GatewayPaymentID),
		Signature:        strings.TrimSpace(req.Signature),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *PaymentHandlers) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.limiter != nil && !h.limiter.Allow(r.RemoteAddr) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many webhook deliveries", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook body is required", http.StatusBadRequest))
		return
	}

	err = h.payments.ProcessWebhook(ctx, services.WebhookCommand{
		Body:      body,
		Signature: strings.TrimSpace(r.Header.Get(webhookSignatureHeader)),
		EventID:   strings.TrimSpace(r.Header.Get(webhookEventIDHeader)),
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPaymentSignature):
			// A tampered delivery stays permanently unverifiable; 400 keeps
			// the gateway from retrying it as a server fault.
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		case errors.Is(err, services.ErrPaymentInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		default:
			// Non-2xx makes the gateway retry the delivery later.
			httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "webhook processing failed", http.StatusInternalServerError))
		}
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentSignature):
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_failed", "payment signature verification failed", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentNotRefundable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_refundable", "payment is not refundable", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "payment operation failed", http.StatusInternalServerError))
	}
}

type createGatewayOrderRequest struct {
	Amount   float64           `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes"`
}

type gatewayOrderResponse struct {
	GatewayOrderID string  `json:"gateway_order_id"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	KeyID          string  `json:"key_id"`
}

type verifyPaymentRequest struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

type checkoutKeyResponse struct {
	KeyID string `json:"key_id"`
}
