package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/cafeatonce/commerce-api/internal/domain"
	pfirestore "github.com/cafeatonce/commerce-api/internal/platform/firestore"
	"github.com/cafeatonce/commerce-api/internal/repositories"
)

const subscriptionsCollection = "subscriptions"

type subscriptionDocument struct {
	UserID       string                     `firestore:"userId"`
	Items        []subscriptionItemDocument `firestore:"items"`
	Frequency    string                     `firestore:"frequency"`
	Status       string                     `firestore:"status"`
	TotalAmount  int64                      `firestore:"totalAmount"`
	StartDate    time.Time                  `firestore:"startDate"`
	NextDelivery time.Time                  `firestore:"nextDelivery"`
	LastDelivery *time.Time                 `firestore:"lastDelivery,omitempty"`
	PausedUntil  *time.Time                 `firestore:"pausedUntil,omitempty"`
	CreatedAt    time.Time                  `firestore:"createdAt"`
	UpdatedAt    time.Time                  `firestore:"updatedAt"`
}

type subscriptionItemDocument struct {
	ProductID string `firestore:"productId"`
	Quantity  int64  `firestore:"qty"`
}

func newSubscriptionDocument(sub domain.Subscription) subscriptionDocument {
	items := make([]subscriptionItemDocument, len(sub.Items))
	for i, item := range sub.Items {
		items[i] = subscriptionItemDocument{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		}
	}
	return subscriptionDocument{
		UserID:       strings.TrimSpace(sub.UserID),
		Items:        items,
		Frequency:    string(sub.Frequency),
		Status:       string(sub.Status),
		TotalAmount:  sub.TotalAmount,
		StartDate:    sub.StartDate.UTC(),
		NextDelivery: sub.NextDelivery.UTC(),
		LastDelivery: sub.LastDelivery,
		PausedUntil:  sub.PausedUntil,
		CreatedAt:    sub.CreatedAt.UTC(),
		UpdatedAt:    sub.UpdatedAt.UTC(),
	}
}

func (d subscriptionDocument) toDomain(id string) domain.Subscription {
	items := make([]domain.SubscriptionItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.SubscriptionItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		}
	}
	return domain.Subscription{
		ID:           id,
		UserID:       strings.TrimSpace(d.UserID),
		Items:        items,
		Frequency:    domain.SubscriptionFrequency(d.Frequency),
		Status:       domain.SubscriptionStatus(d.Status),
		TotalAmount:  d.TotalAmount,
		StartDate:    d.StartDate,
		NextDelivery: d.NextDelivery,
		LastDelivery: d.LastDelivery,
		PausedUntil:  d.PausedUntil,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// SubscriptionRepository persists recurring delivery plans in Firestore.
type SubscriptionRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[subscriptionDocument]
}

// NewSubscriptionRepository constructs a Firestore-backed subscription repository.
func NewSubscriptionRepository(provider *pfirestore.Provider) (*SubscriptionRepository, error) {
	if provider == nil {
		return nil, errors.New("subscription repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[subscriptionDocument](provider, subscriptionsCollection, nil)
	return &SubscriptionRepository{provider: provider, base: base}, nil
}

// Insert creates the subscription document, failing on duplicate IDs.
func (r *SubscriptionRepository) Insert(ctx context.Context, sub domain.Subscription) error {
	if r == nil || r.base == nil {
		return errors.New("subscription repository not initialised")
	}
	id := strings.TrimSpace(sub.ID)
	if id == "" {
		return errors.New("subscription repository: subscription id is required")
	}
	_, err := r.base.Create(ctx, id, newSubscriptionDocument(sub))
	return err
}

// Update overwrites the subscription document.
func (r *SubscriptionRepository) Update(ctx context.Context, sub domain.Subscription) error {
	if r == nil || r.base == nil {
		return errors.New("subscription repository not initialised")
	}
	id := strings.TrimSpace(sub.ID)
	if id == "" {
		return errors.New("subscription repository: subscription id is required")
	}
	_, err := r.base.Set(ctx, id, newSubscriptionDocument(sub))
	return err
}

// FindByID loads a subscription by document ID.
func (r *SubscriptionRepository) FindByID(ctx context.Context, subscriptionID string) (domain.Subscription, error) {
	if r == nil || r.base == nil {
		return domain.Subscription{}, errors.New("subscription repository not initialised")
	}
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return domain.Subscription{}, errors.New("subscription repository: subscription id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListByUser returns the user's plans newest first.
func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("subscription repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("subscription repository: user id is required")
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("userId", "==", uid).OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}

	subs := make([]domain.Subscription, 0, len(docs))
	for _, doc := range docs {
		subs = append(subs, doc.Data.toDomain(doc.ID))
	}
	return subs, nil
}

// ListDue returns active plans whose next delivery is not after now.
func (r *SubscriptionRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Subscription, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("subscription repository not initialised")
	}
	if limit <= 0 {
		limit = 100
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("status", "==", string(domain.SubscriptionActive)).
			Where("nextDelivery", "<=", now.UTC()).
			OrderBy("nextDelivery", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	subs := make([]domain.Subscription, 0, len(docs))
	for _, doc := range docs {
		subs = append(subs, doc.Data.toDomain(doc.ID))
	}
	return subs, nil
}

var _ repositories.SubscriptionRepository = (*SubscriptionRepository)(nil)
