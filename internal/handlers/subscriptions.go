package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/cafeatonce/commerce-api/internal/domain"
	"github.com/cafeatonce/commerce-api/internal/platform/httpx"
	"github.com/cafeatonce/commerce-api/internal/services"
)

const maxSubscriptionBodySize = 16 * 1024

// SubscriptionHandlers exposes the recurring delivery plan endpoints for the
// current user.
type SubscriptionHandlers struct {
	authn         func(http.Handler) http.Handler
	subscriptions services.SubscriptionService
}

// NewSubscriptionHandlers constructs subscription handlers enforcing
// authentication before invoking the subscription service.
func NewSubscriptionHandlers(authn func(http.Handler) http.Handler, subscriptions services.SubscriptionService) *SubscriptionHandlers {
	return &SubscriptionHandlers{
		authn:         authn,
		subscriptions: subscriptions,
	}
}

// Routes wires the /subscriptions endpoints onto the provided router.
func (h *SubscriptionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn)
	}
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{subscriptionID}", h.get)
	r.Put("/{subscriptionID}/items", h.updateItems)
	r.Post("/{subscriptionID}/pause", h.pause)
	r.Post("/{subscriptionID}/resume", h.resume)
	r.Post("/{subscriptionID}/cancel", h.cancel)
}

func (h *SubscriptionHandlers) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createSubscriptionRequest
	if !decodeJSONBody(w, r, maxSubscriptionBodySize, &req) {
		return
	}

	cmd := services.CreateSubscriptionCommand{
		UserID:    identity.UserID,
		Items:     buildSubscriptionItems(req.Items),
		Frequency: domain.SubscriptionFrequency(strings.TrimSpace(strings.ToLower(req.Frequency))),
	}
	if raw := strings.TrimSpace(req.StartDate); raw != "" {
		start, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "start_date must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.StartDate = &start
	}

	subscription, err := h.subscriptions.Create(ctx, cmd)
	if err != nil {
		writeSubscriptionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, subscriptionResponse{Subscription: buildSubscriptionPayload(subscription)})
}

func (h *SubscriptionHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	subscriptions, err := h.subscriptions.ListByUser(ctx, identity.UserID)
	if err != nil {
		writeSubscriptionError(ctx, w, err)
		return
	}

	items := make([]subscriptionPayload, 0, len(subscriptions))
	for _, subscription := range subscriptions {
		items = append(items, buildSubscriptionPayload(subscription))
	}
	writeJSONResponse(w, http.StatusOK, subscriptionListResponse{Items: items})
}

func (h *SubscriptionHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	subscription, err := h.subscriptions.Get(ctx, strings.TrimSpace(chi.URLParam(r, "subscriptionID")), identity.UserID)
	if err != nil {
		writeSubscriptionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, subscriptionResponse{Subscription: buildSubscriptionPayload(subscription)})
}

func (h *SubscriptionHandlers) updateItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req updateSubscriptionRequest
	if !decodeJSONBody(w, r, maxSubscriptionBodySize, &req) {
		return
	}

	cmd := services.UpdateSubscriptionCommand{
		SubscriptionID: strings.TrimSpace(chi.URLParam(r, "subscriptionID")),
		UserID:         identity.UserID,
		Items:          buildSubscriptionItems(req.Items),
	}
	if raw := strings.TrimSpace(req.Frequency); raw != "" {
		frequency := domain.SubscriptionFrequency(strings.ToLower(raw))
		cmd.Frequency = &frequency
	}

	subscription, err := h.subscriptions.UpdateItems(ctx, cmd)
	if err != nil {
		writeSubscriptionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, subscriptionResponse{Subscription: buildSubscriptionPayload(subscription)})
}

func (h *SubscriptionHandlers) pause(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req pauseSubscriptionRequest
	if r.ContentLength > 0 {
		if !decodeJSONBody(w, r, maxSubscriptionBodySize, &req) {
			return
		}
	}

	cmd := services.PauseSubscriptionCommand{
		SubscriptionID: strings.TrimSpace(chi.URLParam(r, "subscriptionID")),
		UserID:         identity.UserID,
	}
	if raw := strings.TrimSpace(req.Until); raw != "" {
		until, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "until must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.Until = &until
	}

	subscription, err := h.subscriptions.Pause(ctx, cmd)
	if err != nil {
		writeSubscriptionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, subscriptionResponse{Subscription: buildSubscriptionPayload(subscription)})
}

func (h *SubscriptionHandlers) resume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	subscription, err := h.subscriptions.Resume(ctx, strings.TrimSpace(chi.URLParam(r, "subscriptionID")), identity.UserID)
	if err != nil {
		writeSubscriptionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, subscriptionResponse{Subscription: buildSubscriptionPayload(subscription)})
}

func (h *SubscriptionHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	subscription, err := h.subscriptions.Cancel(ctx, strings.TrimSpace(chi.URLParam(r, "subscriptionID")), identity.UserID)
	if err != nil {
		writeSubscriptionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, subscriptionResponse{Subscription: buildSubscriptionPayload(subscription)})
}

func writeSubscriptionError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrSubscriptionInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrSubscriptionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("subscription_not_found", "subscription not found", http.StatusNotFound))
	case errors.Is(err, services.ErrSubscriptionState):
		httpx.WriteError(ctx, w, httpx.NewError("subscription_state_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrSubscriptionUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("subscription_service_unavailable", "subscription service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("subscription_error", "subscription operation failed", http.StatusInternalServerError))
	}
}

type subscriptionItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

type createSubscriptionRequest struct {
	Items     []subscriptionItemRequest `json:"items"`
	Frequency string                    `json:"frequency"`
	StartDate string                    `json:"start_date"`
}

type updateSubscriptionRequest struct {
	Items     []subscriptionItemRequest `json:"items"`
	Frequency string                    `json:"frequency"`
}

type pauseSubscriptionRequest struct {
	Until string `json:"until"`
}

type subscriptionResponse struct {
	Subscription subscriptionPayload `json:"subscription"`
}

type subscriptionListResponse struct {
	Items []subscriptionPayload `json:"items"`
}

type subscriptionPayload struct {
	ID           string                    `json:"id"`
	UserID       string                    `json:"user_id"`
	Items        []subscriptionItemPayload `json:"items"`
	Frequency    string                    `json:"frequency"`
	Status       string                    `json:"status"`
	TotalAmount  float64                   `json:"total_amount"`
	StartDate    string                    `json:"start_date,omitempty"`
	NextDelivery string                    `json:"next_delivery,omitempty"`
	LastDelivery string                    `json:"last_delivery,omitempty"`
	PausedUntil  string                    `json:"paused_until,omitempty"`
	CreatedAt    string                    `json:"created_at,omitempty"`
	UpdatedAt    string                    `json:"updated_at,omitempty"`
}

type subscriptionItemPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

func buildSubscriptionItems(items []subscriptionItemRequest) []domain.SubscriptionItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]domain.SubscriptionItem, 0, len(items))
	for _, item := range items {
		out = append(out, domain.SubscriptionItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}
	return out
}

func buildSubscriptionPayload(subscription services.Subscription) subscriptionPayload {
	payload := subscriptionPayload{
		ID:           subscription.ID,
		UserID:       subscription.UserID,
		Items:        make([]subscriptionItemPayload, 0, len(subscription.Items)),
		Frequency:    string(subscription.Frequency),
		Status:       string(subscription.Status),
		TotalAmount:  domain.PaiseToRupees(subscription.TotalAmount),
		StartDate:    formatTime(subscription.StartDate),
		NextDelivery: formatTime(subscription.NextDelivery),
		CreatedAt:    formatTime(subscription.CreatedAt),
		UpdatedAt:    formatTime(subscription.UpdatedAt),
	}
	for _, item := range subscription.Items {
		payload.Items = append(payload.Items, subscriptionItemPayload{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}
	if subscription.LastDelivery != nil {
		payload.LastDelivery = formatTime(*subscription.LastDelivery)
	}
	if subscription.PausedUntil != nil {
		payload.PausedUntil = formatTime(*subscription.PausedUntil)
	}
	return payload
}

func parseRFC3339(value string) (time.Time, error) {
	layouts := []string{time.RFC3339Nano, time.RFC3339}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", value)
}
