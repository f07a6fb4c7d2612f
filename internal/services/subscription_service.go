package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/cafeatonce/commerce-api/internal/domain"
	"github.com/cafeatonce/commerce-api/internal/repositories"
)

var (
	// ErrSubscriptionInvalidInput indicates the caller supplied invalid input.
	ErrSubscriptionInvalidInput = errors.New("subscription service: invalid input")
	// ErrSubscriptionNotFound indicates the subscription does not exist or is not visible to the caller.
	ErrSubscriptionNotFound = errors.New("subscription service: not found")
	// ErrSubscriptionState indicates the subscription's status forbids the operation.
	ErrSubscriptionState = errors.New("subscription service: invalid state")
	// ErrSubscriptionUnavailable indicates the backend cannot serve the request.
	ErrSubscriptionUnavailable = errors.New("subscription service: unavailable")
)

const maxSubscriptionLines = 20

// SubscriptionServiceDeps wires the repositories and pricing for recurring plans.
type SubscriptionServiceDeps struct {
	Subscriptions repositories.SubscriptionRepository
	Products      repositories.ProductRepository
	Pricing       *PricingEngine
	Events        EventPublisher
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(context.Context, string, map[string]any)
}

type subscriptionService struct {
	subs     repositories.SubscriptionRepository
	products repositories.ProductRepository
	pricing  *PricingEngine
	events   EventPublisher
	now      func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewSubscriptionService constructs a SubscriptionService enforcing dependency validation.
func NewSubscriptionService(deps SubscriptionServiceDeps) (SubscriptionService, error) {
	if deps.Subscriptions == nil {
		return nil, errors.New("subscription service: subscription repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("subscription service: product repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("subscription service: pricing engine is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("subscription service: clock is required")
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &subscriptionService{
		subs:     deps.Subscriptions,
		products: deps.Products,
		pricing:  deps.Pricing,
		events:   deps.Events,
		now:      func() time.Time { return deps.Clock().UTC() },
		newID:    idGen,
		logger:   logger,
	}, nil
}

// NextDeliveryDate returns the delivery date one cadence after from.
func NextDeliveryDate(from time.Time, frequency domain.SubscriptionFrequency) time.Time {
	switch frequency {
	case domain.FrequencyWeekly:
		return from.AddDate(0, 0, 7)
	case domain.FrequencyBiweekly:
		return from.AddDate(0, 0, 14)
	case domain.FrequencyMonthly:
		return from.AddDate(0, 1, 0)
	default:
		return from
	}
}

func (s *subscriptionService) Create(ctx context.Context, cmd CreateSubscriptionCommand) (Subscription, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Subscription{}, fmt.Errorf("%w: user id is required", ErrSubscriptionInvalidInput)
	}
	if !cmd.Frequency.Valid() {
		return Subscription{}, fmt.Errorf("%w: unknown frequency %q", ErrSubscriptionInvalidInput, cmd.Frequency)
	}
	items, err := normaliseSubscriptionItems(cmd.Items)
	if err != nil {
		return Subscription{}, err
	}

	total, err := s.currentTotal(ctx, items)
	if err != nil {
		return Subscription{}, err
	}

	now := s.now()
	start := now
	if cmd.StartDate != nil && cmd.StartDate.After(now) {
		start = cmd.StartDate.UTC()
	}

	sub := Subscription{
		ID:           s.newID(),
		UserID:       userID,
		Items:        items,
		Frequency:    cmd.Frequency,
		Status:       domain.SubscriptionActive,
		TotalAmount:  total,
		StartDate:    start,
		NextDelivery: NextDeliveryDate(start, cmd.Frequency),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.subs.Insert(ctx, sub); err != nil {
		return Subscription{}, ErrSubscriptionUnavailable
	}

	s.publish(ctx, EventMessage{
		ID:             s.newID(),
		Type:           EventSubscriptionCreated,
		OccurredAt:     now,
		UserID:         userID,
		SubscriptionID: sub.ID,
		Amount:         total,
	})
	return sub, nil
}

func (s *subscriptionService) Get(ctx context.Context, subscriptionID, userID string) (Subscription, error) {
	return s.load(ctx, subscriptionID, userID)
}

func (s *subscriptionService) ListByUser(ctx context.Context, userID string) ([]Subscription, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrSubscriptionInvalidInput)
	}

	subs, err := s.subs.ListByUser(ctx, uid)
	if err != nil {
		return nil, ErrSubscriptionUnavailable
	}
	return subs, nil
}

// UpdateItems replaces the plan's items and optionally its cadence. The total
// is recomputed from current catalog prices; orders already placed keep their
// frozen prices.
func (s *subscriptionService) UpdateItems(ctx context.Context, cmd UpdateSubscriptionCommand) (Subscription, error) {
	sub, err := s.load(ctx, cmd.SubscriptionID, cmd.UserID)
	if err != nil {
		return Subscription{}, err
	}
	if sub.Status == domain.SubscriptionCancelled {
		return Subscription{}, fmt.Errorf("%w: subscription is cancelled", ErrSubscriptionState)
	}

	items, err := normaliseSubscriptionItems(cmd.Items)
	if err != nil {
		return Subscription{}, err
	}
	total, err := s.currentTotal(ctx, items)
	if err != nil {
		return Subscription{}, err
	}

	now := s.now()
	sub.Items = items
	sub.TotalAmount = total
	if cmd.Frequency != nil {
		if !cmd.Frequency.Valid() {
			return Subscription{}, fmt.Errorf("%w: unknown frequency %q", ErrSubscriptionInvalidInput, *cmd.Frequency)
		}
		sub.Frequency = *cmd.Frequency
	}
	sub.UpdatedAt = now

	if err := s.subs.Update(ctx, sub); err != nil {
		return Subscription{}, ErrSubscriptionUnavailable
	}
	return sub, nil
}

func (s *subscriptionService) Pause(ctx context.Context, cmd PauseSubscriptionCommand) (Subscription, error) {
	sub, err := s.load(ctx, cmd.SubscriptionID, cmd.UserID)
	if err != nil {
		return Subscription{}, err
	}
	if sub.Status != domain.SubscriptionActive {
		return Subscription{}, fmt.Errorf("%w: only active subscriptions can be paused", ErrSubscriptionState)
	}

	now := s.now()
	sub.Status = domain.SubscriptionPaused
	sub.PausedUntil = nil
	if cmd.Until != nil && cmd.Until.After(now) {
		until := cmd.Until.UTC()
		sub.PausedUntil = &until
	}
	sub.UpdatedAt = now

	if err := s.subs.Update(ctx, sub); err != nil {
		return Subscription{}, ErrSubscriptionUnavailable
	}
	return sub, nil
}

// Resume reactivates a paused plan. A next delivery that slipped into the
// past while paused is rescheduled one cadence from now.
func (s *subscriptionService) Resume(ctx context.Context, subscriptionID, userID string) (Subscription, error) {
	sub, err := s.load(ctx, subscriptionID, userID)
	if err != nil {
		return Subscription{}, err
	}
	if sub.Status != domain.SubscriptionPaused {
		return Subscription{}, fmt.Errorf("%w: only paused subscriptions can be resumed", ErrSubscriptionState)
	}

	now := s.now()
	sub.Status = domain.SubscriptionActive
	sub.PausedUntil = nil
	if sub.NextDelivery.Before(now) {
		sub.NextDelivery = NextDeliveryDate(now, sub.Frequency)
	}
	sub.UpdatedAt = now

	if err := s.subs.Update(ctx, sub); err != nil {
		return Subscription{}, ErrSubscriptionUnavailable
	}
	return sub, nil
}

// Cancel is terminal and idempotent.
func (s *subscriptionService) Cancel(ctx context.Context, subscriptionID, userID string) (Subscription, error) {
	sub, err := s.load(ctx, subscriptionID, userID)
	if err != nil {
		return Subscription{}, err
	}
	if sub.Status == domain.SubscriptionCancelled {
		return sub, nil
	}

	sub.Status = domain.SubscriptionCancelled
	sub.PausedUntil = nil
	sub.UpdatedAt = s.now()

	if err := s.subs.Update(ctx, sub); err != nil {
		return Subscription{}, ErrSubscriptionUnavailable
	}
	return sub, nil
}

// AdvanceDue rolls due subscriptions forward one cadence, recomputing their
// totals from the current catalog, and publishes a due event per plan.
func (s *subscriptionService) AdvanceDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	now := s.now()

	due, err := s.subs.ListDue(ctx, now, limit)
	if err != nil {
		return 0, ErrSubscriptionUnavailable
	}

	advanced := 0
	for _, sub := range due {
		if sub.Status != domain.SubscriptionActive {
			continue
		}

		delivered := sub.NextDelivery
		sub.LastDelivery = &delivered
		sub.NextDelivery = NextDeliveryDate(delivered, sub.Frequency)

		total, err := s.currentTotal(ctx, sub.Items)
		if err != nil {
			s.logger(ctx, "subscription.advance.reprice_failed", map[string]any{
				"subscriptionId": sub.ID,
				"error":          err.Error(),
			})
		} else {
			sub.TotalAmount = total
		}
		sub.UpdatedAt = now

		if err := s.subs.Update(ctx, sub); err != nil {
			s.logger(ctx, "subscription.advance.update_failed", map[string]any{
				"subscriptionId": sub.ID,
				"error":          err.Error(),
			})
			continue
		}
		advanced++

		s.publish(ctx, EventMessage{
			ID:             s.newID(),
			Type:           EventSubscriptionDue,
			OccurredAt:     now,
			UserID:         sub.UserID,
			SubscriptionID: sub.ID,
			Amount:         sub.TotalAmount,
		})
	}
	return advanced, nil
}

func (s *subscriptionService) load(ctx context.Context, subscriptionID, userID string) (Subscription, error) {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return Subscription{}, fmt.Errorf("%w: subscription id is required", ErrSubscriptionInvalidInput)
	}

	sub, err := s.subs.FindByID(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			return Subscription{}, ErrSubscriptionNotFound
		}
		return Subscription{}, ErrSubscriptionUnavailable
	}
	if user := strings.TrimSpace(userID); user != "" && sub.UserID != user {
		return Subscription{}, ErrSubscriptionNotFound
	}
	return sub, nil
}

// currentTotal prices the plan's items at today's catalog prices with the
// subscription discount applied.
func (s *subscriptionService) currentTotal(ctx context.Context, items []SubscriptionItem) (int64, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}

	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return 0, ErrSubscriptionUnavailable
	}

	var total int64
	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok || !product.Active {
			return 0, fmt.Errorf("%w: product %s is not available", ErrSubscriptionInvalidInput, item.ProductID)
		}
		unit := s.pricing.UnitPrice(product.Price, domain.PurchaseSubscription)
		line, ok := domain.MulQuantity(unit, item.Quantity)
		if !ok {
			return 0, fmt.Errorf("%w: line total overflow for product %s", ErrSubscriptionInvalidInput, item.ProductID)
		}
		total += line
	}
	return total, nil
}

func (s *subscriptionService) publish(ctx context.Context, message EventMessage) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishEvent(ctx, message); err != nil {
		s.logger(ctx, "subscription.event.publish_failed", map[string]any{
			"eventType":      message.Type,
			"subscriptionId": message.SubscriptionID,
			"error":          err.Error(),
		})
	}
}

func normaliseSubscriptionItems(items []SubscriptionItem) ([]SubscriptionItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrSubscriptionInvalidInput)
	}
	if len(items) > maxSubscriptionLines {
		return nil, fmt.Errorf("%w: item limit reached", ErrSubscriptionInvalidInput)
	}

	merged := make(map[string]int64, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrSubscriptionInvalidInput)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive for product %s", ErrSubscriptionInvalidInput, productID)
		}
		if _, ok := merged[productID]; !ok {
			order = append(order, productID)
		}
		merged[productID] += item.Quantity
	}

	out := make([]SubscriptionItem, 0, len(order))
	for _, productID := range order {
		out = append(out, SubscriptionItem{ProductID: productID, Quantity: merged[productID]})
	}
	return out, nil
}
