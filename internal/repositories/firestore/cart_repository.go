package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/cafeatonce/commerce-api/internal/domain"
	pfirestore "github.com/cafeatonce/commerce-api/internal/platform/firestore"
	"github.com/cafeatonce/commerce-api/internal/repositories"
)

const cartsCollection = "carts"

type cartDocument struct {
	UserID    string             `firestore:"userId,omitempty"`
	SessionID string             `firestore:"sessionId,omitempty"`
	Items     []cartItemDocument `firestore:"items"`
	ExpiresAt *time.Time         `firestore:"expiresAt,omitempty"`
	CreatedAt time.Time          `firestore:"createdAt"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID string `firestore:"productId"`
	Quantity  int64  `firestore:"qty"`
	Type      string `firestore:"type"`
}

func newCartDocument(cart domain.Cart) cartDocument {
	items := make([]cartItemDocument, len(cart.Items))
	for i, item := range cart.Items {
		items[i] = cartItemDocument{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
			Type:      string(item.Type),
		}
	}
	doc := cartDocument{
		UserID:    strings.TrimSpace(cart.UserID),
		SessionID: strings.TrimSpace(cart.SessionID),
		Items:     items,
		CreatedAt: cart.CreatedAt.UTC(),
		UpdatedAt: cart.UpdatedAt.UTC(),
	}
	if cart.ExpiresAt != nil {
		expires := cart.ExpiresAt.UTC()
		doc.ExpiresAt = &expires
	}
	return doc
}

func (d cartDocument) toDomain(id string) domain.Cart {
	items := make([]domain.CartItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.CartItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
			Type:      domain.PurchaseType(item.Type),
		}
	}
	return domain.Cart{
		ID:        id,
		UserID:    strings.TrimSpace(d.UserID),
		SessionID: strings.TrimSpace(d.SessionID),
		Items:     items,
		ExpiresAt: d.ExpiresAt,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// CartRepository persists user and guest carts in Firestore. A cart document
// carries either a userId or a sessionId, never both.
type CartRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartsCollection, nil)
	return &CartRepository{provider: provider, base: base}, nil
}

// FindByUser loads the cart owned by the given user.
func (r *CartRepository) FindByUser(ctx context.Context, userID string) (domain.Cart, error) {
	return r.findByField(ctx, "userId", strings.TrimSpace(userID))
}

// FindBySession loads the guest cart bound to the given session.
func (r *CartRepository) FindBySession(ctx context.Context, sessionID string) (domain.Cart, error) {
	return r.findByField(ctx, "sessionId", strings.TrimSpace(sessionID))
}

func (r *CartRepository) findByField(ctx context.Context, field, value string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	if value == "" {
		return domain.Cart{}, errors.New("cart repository: lookup value is required")
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where(field, "==", value).Limit(1)
	})
	if err != nil {
		return domain.Cart{}, err
	}
	if len(docs) == 0 {
		return domain.Cart{}, pfirestore.NewNotFoundError("carts.find", fmt.Errorf("cart for %s %q not found", field, value))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// Upsert writes the cart document under its ID.
func (r *CartRepository) Upsert(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	cartID := strings.TrimSpace(cart.ID)
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	doc := newCartDocument(cart)
	result, err := r.base.Set(ctx, cartID, doc)
	if err != nil {
		return domain.Cart{}, err
	}

	saved := doc.toDomain(cartID)
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// Delete removes the cart document. Deleting an absent cart is not an error.
func (r *CartRepository) Delete(ctx context.Context, cartID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(cartID)
	if id == "" {
		return errors.New("cart repository: cart id is required")
	}
	return r.base.Delete(ctx, id)
}

// PurgeExpired deletes guest carts whose expiry passed and reports how many
// were removed.
func (r *CartRepository) PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if r == nil || r.base == nil {
		return 0, errors.New("cart repository not initialised")
	}
	if limit <= 0 {
		limit = 100
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("expiresAt", "<=", now.UTC()).Limit(limit)
	})
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, doc := range docs {
		if err := r.base.Delete(ctx, doc.ID); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

var _ repositories.CartRepository = (*CartRepository)(nil)
