package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/cafeatonce/commerce-api/internal/domain"
	"github.com/cafeatonce/commerce-api/internal/platform/auth"
	"github.com/cafeatonce/commerce-api/internal/platform/httpx"
	"github.com/cafeatonce/commerce-api/internal/services"
)

const maxOrderBodySize = 32 * 1024

// OrderHandlers exposes the authenticated checkout and order lifecycle
// endpoints for the current user.
type OrderHandlers struct {
	authn  func(http.Handler) http.Handler
	orders services.OrderService
}

// NewOrderHandlers constructs order handlers enforcing authentication before
// invoking the order service.
func NewOrderHandlers(authn func(http.Handler) http.Handler, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn)
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/tracking", h.getTracking)
	r.Post("/{orderID}/cancel", h.cancelOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(w, r, maxOrderBodySize, &req) {
		return
	}

	order, err := h.orders.CreateFromCart(ctx, services.CreateOrderCommand{
		UserID:        identity.UserID,
		SessionID:     strings.TrimSpace(r.Header.Get(sessionHeader)),
		PaymentMethod: domain.PaymentMethod(strings.TrimSpace(strings.ToLower(req.PaymentMethod))),
		ShippingAddress: domain.ShippingAddress{
			Name:       strings.TrimSpace(req.ShippingAddress.Name),
			Line1:      strings.TrimSpace(req.ShippingAddress.Line1),
			Line2:      strings.TrimSpace(req.ShippingAddress.Line2),
			City:       strings.TrimSpace(req.ShippingAddress.City),
			State:      strings.TrimSpace(req.ShippingAddress.State),
			PostalCode: strings.TrimSpace(req.ShippingAddress.PostalCode),
			Country:    strings.TrimSpace(req.ShippingAddress.Country),
			Phone:      strings.TrimSpace(req.ShippingAddress.Phone),
		},
		Notes:            strings.TrimSpace(req.Notes),
		GatewayOrderID:   strings.TrimSpace(req.GatewayOrderID),
		GatewayPaymentID: strings.TrimSpace(req.GatewayPaymentID),
		GatewaySignature: strings.TrimSpace(req.GatewaySignature),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListUserOrders(ctx, identity.UserID, pager)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, services.OrderQuery{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		UserID:  identity.UserID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getTracking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	tracking, err := h.orders.GetTracking(ctx, services.OrderQuery{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		UserID:  identity.UserID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := trackingPayload{
		OrderID:        tracking.OrderID,
		OrderNumber:    tracking.OrderNumber,
		Status:         string(tracking.Status),
		TrackingNumber: tracking.TrackingNumber,
		Timeline:       make([]trackingEventPayload, 0, len(tracking.Timeline)),
	}
	if tracking.EstimatedDelivery != nil {
		payload.EstimatedDelivery = formatTime(*tracking.EstimatedDelivery)
	}
	if tracking.ActualDelivery != nil {
		payload.ActualDelivery = formatTime(*tracking.ActualDelivery)
	}
	for _, event := range tracking.Timeline {
		payload.Timeline = append(payload.Timeline, trackingEventPayload{
			Status:     string(event.Status),
			OccurredAt: formatTime(event.OccurredAt),
			Note:       event.Note,
		})
	}
	writeJSONResponse(w, http.StatusOK, trackingResponse{Tracking: payload})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req cancelOrderRequest
	if r.ContentLength > 0 {
		if !decodeJSONBody(w, r, maxOrderBodySize, &req) {
			return
		}
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		UserID:  identity.UserID,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UserID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInventoryInsufficient):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderPaymentRequired):
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_failed", "payment could not be verified", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotCancellable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_cancellable", "order can no longer be cancelled", http.StatusConflict))
	case errors.Is(err, services.ErrOrderIllegalTransition):
		httpx.WriteError(ctx, w, httpx.NewError("illegal_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "order operation failed", http.StatusInternalServerError))
	}
}

type createOrderRequest struct {
	PaymentMethod    string                 `json:"payment_method"`
	ShippingAddress  shippingAddressPayload `json:"shipping_address"`
	Notes            string                 `json:"notes"`
	GatewayOrderID   string                 `json:"gateway_order_id"`
	GatewayPaymentID string                 `json:"gateway_payment_id"`
	GatewaySignature string                 `json:"gateway_signature"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderPayload struct {
	ID                 string                 `json:"id"`
	OrderNumber        string                 `json:"order_number"`
	UserID             string                 `json:"user_id"`
	Status             string                 `json:"status"`
	PaymentStatus      string                 `json:"payment_status"`
	PaymentMethod      string                 `json:"payment_method"`
	Currency           string                 `json:"currency"`
	Items              []orderItemPayload     `json:"items"`
	Totals             totalsPayload          `json:"totals"`
	ShippingAddress    shippingAddressPayload `json:"shipping_address"`
	TrackingNumber     string                 `json:"tracking_number,omitempty"`
	Notes              string                 `json:"notes,omitempty"`
	CancellationReason string                 `json:"cancellation_reason,omitempty"`
	RefundStatus       string                 `json:"refund_status,omitempty"`
	RefundAmount       float64                `json:"refund_amount,omitempty"`
	EstimatedDelivery  string                 `json:"estimated_delivery,omitempty"`
	ActualDelivery     string                 `json:"actual_delivery,omitempty"`
	CreatedAt          string                 `json:"created_at,omitempty"`
	UpdatedAt          string                 `json:"updated_at,omitempty"`
	CancelledAt        string                 `json:"cancelled_at,omitempty"`
}

type orderItemPayload struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	SKU       string  `json:"sku"`
	Quantity  int64   `json:"quantity"`
	Type      string  `json:"type"`
	ListPrice float64 `json:"list_price"`
	UnitPrice float64 `json:"unit_price"`
	Total     float64 `json:"total"`
}

type totalsPayload struct {
	Subtotal float64 `json:"subtotal"`
	Discount float64 `json:"discount"`
	Tax      float64 `json:"tax"`
	Shipping float64 `json:"shipping"`
	Total    float64 `json:"total"`
}

type shippingAddressPayload struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type trackingResponse struct {
	Tracking trackingPayload `json:"tracking"`
}

type trackingPayload struct {
	OrderID           string                 `json:"order_id"`
	OrderNumber       string                 `json:"order_number"`
	Status            string                 `json:"status"`
	TrackingNumber    string                 `json:"tracking_number,omitempty"`
	EstimatedDelivery string                 `json:"estimated_delivery,omitempty"`
	ActualDelivery    string                 `json:"actual_delivery,omitempty"`
	Timeline          []trackingEventPayload `json:"timeline"`
}

type trackingEventPayload struct {
	Status     string `json:"status"`
	OccurredAt string `json:"occurred_at"`
	Note       string `json:"note,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		PaymentMethod: string(order.PaymentMethod),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		Items:         make([]orderItemPayload, 0, len(order.Items)),
		Totals: totalsPayload{
			Subtotal: domain.PaiseToRupees(order.Totals.Subtotal),
			Discount: domain.PaiseToRupees(order.Totals.Discount),
			Tax:      domain.PaiseToRupees(order.Totals.Tax),
			Shipping: domain.PaiseToRupees(order.Totals.Shipping),
			Total:    domain.PaiseToRupees(order.Totals.Total),
		},
		ShippingAddress: shippingAddressPayload{
			Name:       order.ShippingAddress.Name,
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			State:      order.ShippingAddress.State,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
			Phone:      order.ShippingAddress.Phone,
		},
		TrackingNumber:     order.TrackingNumber,
		Notes:              order.Notes,
		CancellationReason: order.CancellationReason,
		CreatedAt:          formatTime(order.CreatedAt),
		UpdatedAt:          formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			Type:      string(item.Type),
			ListPrice: domain.PaiseToRupees(item.ListPrice),
			UnitPrice: domain.PaiseToRupees(item.UnitPrice),
			Total:     domain.PaiseToRupees(item.Total),
		})
	}
	if order.RefundStatus != "" && order.RefundStatus != domain.RefundStatusNone {
		payload.RefundStatus = string(order.RefundStatus)
		payload.RefundAmount = domain.PaiseToRupees(order.RefundAmount)
	}
	if order.EstimatedDelivery != nil {
		payload.EstimatedDelivery = formatTime(*order.EstimatedDelivery)
	}
	if order.ActualDelivery != nil {
		payload.ActualDelivery = formatTime(*order.ActualDelivery)
	}
	if order.CancelledAt != nil {
		payload.CancelledAt = formatTime(*order.CancelledAt)
	}
	return payload
}
