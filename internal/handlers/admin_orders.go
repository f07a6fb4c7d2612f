package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/cafeatonce/commerce-api/internal/domain"
	"github.com/cafeatonce/commerce-api/internal/platform/auth"
	"github.com/cafeatonce/commerce-api/internal/platform/httpx"
	"github.com/cafeatonce/commerce-api/internal/services"
)

// AdminOrderHandlers exposes the back-office order surfaces: cross-user
// listing, fulfilment status updates, cancellations, and refunds.
type AdminOrderHandlers struct {
	authn    func(http.Handler) http.Handler
	orders   services.OrderService
	payments services.PaymentService
}

// NewAdminOrderHandlers constructs admin handlers. Routes additionally gate
// on the admin role after authentication.
func NewAdminOrderHandlers(authn func(http.Handler) http.Handler, orders services.OrderService, payments services.PaymentService) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		authn:    authn,
		orders:   orders,
		payments: payments,
	}
}

// Routes wires the /admin endpoints onto the provided router.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn)
	}
	r.Use(auth.RequireAdmin)
	r.Get("/orders", h.listOrders)
	r.Patch("/orders/{orderID}/status", h.updateStatus)
	r.Post("/orders/{orderID}/cancel", h.cancelOrder)
	r.Post("/orders/{orderID}/refund", h.refundOrder)
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.AdminOrderFilter{Pagination: pager}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status := domain.OrderStatus(strings.ToLower(raw))
		filter.Status = &status
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("payment_status")); raw != "" {
		status := domain.PaymentStatus(strings.ToLower(raw))
		filter.PaymentStatus = &status
	}

	page, err := h.orders.ListOrders(ctx, filter)
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

func (h *AdminOrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req updateOrderStatusRequest
	if !decodeJSONBody(w, r, maxOrderBodySize, &req) {
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID:        strings.TrimSpace(chi.URLParam(r, "orderID")),
		Status:         domain.OrderStatus(strings.TrimSpace(strings.ToLower(req.Status))),
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
		Note:           strings.TrimSpace(req.Note),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req cancelOrderRequest
	if r.ContentLength > 0 {
		if !decodeJSONBody(w, r, maxOrderBodySize, &req) {
			return
		}
	}

	// UserID stays empty: admin cancellations skip the ownership check.
	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req refundOrderRequest
	if r.ContentLength > 0 {
		if !decodeJSONBody(w, r, maxOrderBodySize, &req) {
			return
		}
	}

	order, err := h.payments.Refund(ctx, services.RefundOrderCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		Amount:  domain.RupeesToPaise(req.Amount),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type updateOrderStatusRequest struct {
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number"`
	Note           string `json:"note"`
}

type refundOrderRequest struct {
	Amount float64 `json:"amount"`
	Reason string  `json:"reason"`
}
