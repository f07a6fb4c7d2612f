package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cafeatonce/commerce-api/internal/platform/httpx"
	"github.com/cafeatonce/commerce-api/internal/services"
)

// InternalJobHandlers exposes the maintenance endpoints invoked by the
// scheduler: expired reservation sweeps, guest cart purges, and subscription
// delivery advancement.
type InternalJobHandlers struct {
	inventory     services.InventoryService
	carts         services.CartService
	subscriptions services.SubscriptionService
	log           func(ctx context.Context, msg string, fields map[string]any)
}

// NewInternalJobHandlers constructs the internal job handlers. The logger is
// optional.
func NewInternalJobHandlers(
	inventory services.InventoryService,
	carts services.CartService,
	subscriptions services.SubscriptionService,
	log func(ctx context.Context, msg string, fields map[string]any),
) *InternalJobHandlers {
	if log == nil {
		log = func(context.Context, string, map[string]any) {}
	}
	return &InternalJobHandlers{
		inventory:     inventory,
		carts:         carts,
		subscriptions: subscriptions,
		log:           log,
	}
}

// Routes wires the /internal job endpoints onto the provided router.
func (h *InternalJobHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/jobs/reservations/sweep", h.sweepReservations)
	r.Post("/jobs/carts/purge", h.purgeCarts)
	r.Post("/jobs/subscriptions/advance", h.advanceSubscriptions)
}

func (h *InternalJobHandlers) sweepReservations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := parseJobLimit(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	released, err := h.inventory.ReleaseExpired(ctx, limit)
	if err != nil {
		h.log(ctx, "reservation sweep failed", map[string]any{"error": err.Error()})
		httpx.WriteError(ctx, w, httpx.NewError("job_error", "reservation sweep failed", http.StatusInternalServerError))
		return
	}
	h.log(ctx, "reservation sweep completed", map[string]any{"released": released})
	writeJSONResponse(w, http.StatusOK, jobResultResponse{Processed: released})
}

func (h *InternalJobHandlers) purgeCarts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := parseJobLimit(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	purged, err := h.carts.PurgeExpired(ctx, limit)
	if err != nil {
		h.log(ctx, "cart purge failed", map[string]any{"error": err.Error()})
		httpx.WriteError(ctx, w, httpx.NewError("job_error", "cart purge failed", http.StatusInternalServerError))
		return
	}
	h.log(ctx, "cart purge completed", map[string]any{"purged": purged})
	writeJSONResponse(w, http.StatusOK, jobResultResponse{Processed: purged})
}

func (h *InternalJobHandlers) advanceSubscriptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := parseJobLimit(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	advanced, err := h.subscriptions.AdvanceDue(ctx, limit)
	if err != nil {
		h.log(ctx, "subscription advance failed", map[string]any{"error": err.Error()})
		httpx.WriteError(ctx, w, httpx.NewError("job_error", "subscription advance failed", http.StatusInternalServerError))
		return
	}
	h.log(ctx, "subscription advance completed", map[string]any{"advanced": advanced})
	writeJSONResponse(w, http.StatusOK, jobResultResponse{Processed: advanced})
}

type jobResultResponse struct {
	Processed int `json:"processed"`
}

func parseJobLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return limit, nil
}

// RequireJobToken authenticates scheduler calls with a shared bearer token
// carried in the X-Internal-Token header.
func RequireJobToken(token string) func(http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(token))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "internal endpoints are disabled", http.StatusForbidden))
				return
			}
			presented := []byte(strings.TrimSpace(r.Header.Get("X-Internal-Token")))
			if subtle.ConstantTimeCompare(expected, presented) != 1 {
				httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "invalid internal token", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
