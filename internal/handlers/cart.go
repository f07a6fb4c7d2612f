package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/cafeatonce/commerce-api/internal/domain"
	"github.com/cafeatonce/commerce-api/internal/platform/auth"
	"github.com/cafeatonce/commerce-api/internal/platform/httpx"
	"github.com/cafeatonce/commerce-api/internal/services"
)

const (
	maxCartBodySize = 16 * 1024

	// sessionHeader identifies a guest cart when no bearer token is present.
	sessionHeader = "X-Session-Id"
)

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

// CartHandlers exposes cart endpoints for authenticated users and guest
// sessions.
type CartHandlers struct {
	authn func(http.Handler) http.Handler
	carts services.CartService
}

// NewCartHandlers constructs cart handlers. The middleware is expected to
// resolve identities optionally so guest sessions pass through.
func NewCartHandlers(authn func(http.Handler) http.Handler, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn)
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{productID}", h.updateItem)
	r.Delete("/items/{productID}", h.removeItem)
	r.Post("/merge", h.mergeCart)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, ok := h.cartRef(w, r)
	if !ok {
		return
	}

	view, err := h.carts.GetCart(ctx, ref)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartViewPayload(view))
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, ok := h.cartRef(w, r)
	if !ok {
		return
	}

	var req cartItemRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}

	view, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		Ref:       ref,
		ProductID: strings.TrimSpace(req.ProductID),
		Quantity:  req.Quantity,
		Type:      purchaseTypeOrDefault(req.Type),
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartViewPayload(view))
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, ok := h.cartRef(w, r)
	if !ok {
		return
	}

	var req cartItemRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}

	view, err := h.carts.UpdateItemQuantity(ctx, services.UpdateCartItemCommand{
		Ref:       ref,
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		Quantity:  req.Quantity,
		Type:      purchaseTypeOrDefault(req.Type),
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartViewPayload(view))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, ok := h.cartRef(w, r)
	if !ok {
		return
	}

	view, err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{
		Ref:       ref,
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		Type:      purchaseTypeOrDefault(r.URL.Query().Get("type")),
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartViewPayload(view))
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, ok := h.cartRef(w, r)
	if !ok {
		return
	}

	if err := h.carts.ClearCart(ctx, ref); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) mergeCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UserID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	sessionID := strings.TrimSpace(r.Header.Get(sessionHeader))
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "X-Session-Id header is required to merge a guest cart", http.StatusBadRequest))
		return
	}

	view, err := h.carts.MergeGuestCart(ctx, services.MergeCartCommand{
		UserID:    identity.UserID,
		SessionID: sessionID,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartViewPayload(view))
}

// cartRef resolves the cart owner from the identity or the session header.
// Authenticated callers always act on their user cart even when a session
// header is also present.
func (h *CartHandlers) cartRef(w http.ResponseWriter, r *http.Request) (services.CartRef, bool) {
	ctx := r.Context()
	if identity, ok := auth.IdentityFromContext(ctx); ok && strings.TrimSpace(identity.UserID) != "" {
		return services.CartRef{UserID: identity.UserID}, true
	}
	if sessionID := strings.TrimSpace(r.Header.Get(sessionHeader)); sessionID != "" {
		return services.CartRef{SessionID: sessionID}, true
	}
	httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication or X-Session-Id header required", http.StatusUnauthorized))
	return services.CartRef{}, false
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "cart operation failed", http.StatusInternalServerError))
	}
}

type cartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	Type      string `json:"type"`
}

type cartViewResponse struct {
	Cart cartViewPayload `json:"cart"`
}

type cartViewPayload struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	ItemsCount int               `json:"items_count"`
	Items      []cartLinePayload `json:"items"`
	Subtotal   float64           `json:"subtotal"`
	Discount   float64           `json:"discount"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
	ExpiresAt  string            `json:"expires_at,omitempty"`
}

type cartLinePayload struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	SKU       string  `json:"sku"`
	Quantity  int64   `json:"quantity"`
	Type      string  `json:"type"`
	ListPrice float64 `json:"list_price"`
	UnitPrice float64 `json:"unit_price"`
	LineTotal float64 `json:"line_total"`
}

func buildCartViewPayload(view services.CartView) cartViewResponse {
	payload := cartViewPayload{
		ID:         strings.TrimSpace(view.Cart.ID),
		UserID:     strings.TrimSpace(view.Cart.UserID),
		SessionID:  strings.TrimSpace(view.Cart.SessionID),
		ItemsCount: len(view.Lines),
		Items:      make([]cartLinePayload, 0, len(view.Lines)),
		Subtotal:   domain.PaiseToRupees(view.Subtotal),
		Discount:   domain.PaiseToRupees(view.Discount),
	}
	for _, line := range view.Lines {
		payload.Items = append(payload.Items, cartLinePayload{
			ProductID: line.ProductID,
			Name:      line.Name,
			SKU:       line.SKU,
			Quantity:  line.Quantity,
			Type:      string(line.Type),
			ListPrice: domain.PaiseToRupees(line.ListPrice),
			UnitPrice: domain.PaiseToRupees(line.UnitPrice),
			LineTotal: domain.PaiseToRupees(line.LineTotal),
		})
	}
	if !view.Cart.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(view.Cart.UpdatedAt)
	}
	if view.Cart.ExpiresAt != nil && !view.Cart.ExpiresAt.IsZero() {
		payload.ExpiresAt = formatTime(*view.Cart.ExpiresAt)
	}
	return cartViewResponse{Cart: payload}
}

func purchaseTypeOrDefault(raw string) domain.PurchaseType {
	value := strings.TrimSpace(strings.ToLower(raw))
	if value == "" {
		return domain.PurchaseOneTime
	}
	return domain.PurchaseType(value)
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxCartBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads a size-limited JSON body into target, writing the
// error response itself when parsing fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, target any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, limit)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
