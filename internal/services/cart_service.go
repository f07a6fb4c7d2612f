package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cafeatonce/commerce-api/internal/repositories"
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart service: invalid input")
	// ErrCartNotFound indicates the requested cart or cart line does not exist.
	ErrCartNotFound = errors.New("cart service: not found")
	// ErrCartUnavailable indicates the cart backend cannot serve the request.
	ErrCartUnavailable = errors.New("cart service: unavailable")
)

const (
	defaultGuestCartTTL  = 30 * 24 * time.Hour
	maxCartLineQuantity  = 50
	maxDistinctCartLines = 50
)

// CartServiceDeps wires the repositories and pricing dependencies for cart operations.
type CartServiceDeps struct {
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Pricing     *PricingEngine
	Clock       func() time.Time
	IDGenerator func() string
	GuestTTL    time.Duration
	Logger      func(context.Context, string, map[string]any)
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	pricing  *PricingEngine
	now      func() time.Time
	newID    func() string
	guestTTL time.Duration
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("cart service: pricing engine is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("cart service: clock is required")
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	ttl := deps.GuestTTL
	if ttl <= 0 {
		ttl = defaultGuestCartTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		pricing:  deps.Pricing,
		now:      func() time.Time { return deps.Clock().UTC() },
		newID:    idGen,
		guestTTL: ttl,
		logger:   logger,
	}, nil
}

func (r CartRef) validate() error {
	user := strings.TrimSpace(r.UserID)
	session := strings.TrimSpace(r.SessionID)
	if user == "" && session == "" {
		return fmt.Errorf("%w: cart owner is required", ErrCartInvalidInput)
	}
	return nil
}

// GetCart loads the owner's cart with priced lines. A missing cart is an
// empty cart, not an error.
func (s *cartService) GetCart(ctx context.Context, ref CartRef) (CartView, error) {
	if err := ref.validate(); err != nil {
		return CartView{}, err
	}

	cart, err := s.findCart(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return CartView{Cart: s.emptyCart(ref)}, nil
		}
		return CartView{}, err
	}
	return s.priceView(ctx, cart)
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error) {
	if err := cmd.Ref.validate(); err != nil {
		return CartView{}, err
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return CartView{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity <= 0 || cmd.Quantity > maxCartLineQuantity {
		return CartView{}, fmt.Errorf("%w: quantity must be between 1 and %d", ErrCartInvalidInput, maxCartLineQuantity)
	}
	if !cmd.Type.Valid() {
		return CartView{}, fmt.Errorf("%w: unknown purchase type %q", ErrCartInvalidInput, cmd.Type)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return CartView{}, fmt.Errorf("%w: product %s", ErrCartNotFound, productID)
		}
		return CartView{}, ErrCartUnavailable
	}
	if !product.Active {
		return CartView{}, fmt.Errorf("%w: product %s", ErrCartNotFound, productID)
	}

	cart, err := s.findCart(ctx, cmd.Ref)
	if err != nil {
		if !errors.Is(err, ErrCartNotFound) {
			return CartView{}, err
		}
		cart = s.emptyCart(cmd.Ref)
	}

	idx := findLine(cart.Items, productID, cmd.Type)
	if idx >= 0 {
		next := cart.Items[idx].Quantity + cmd.Quantity
		if next > maxCartLineQuantity {
			return CartView{}, fmt.Errorf("%w: quantity must be between 1 and %d", ErrCartInvalidInput, maxCartLineQuantity)
		}
		cart.Items[idx].Quantity = next
	} else {
		if len(cart.Items) >= maxDistinctCartLines {
			return CartView{}, fmt.Errorf("%w: cart line limit reached", ErrCartInvalidInput)
		}
		cart.Items = append(cart.Items, CartItem{ProductID: productID, Quantity: cmd.Quantity, Type: cmd.Type})
	}

	saved, err := s.saveCart(ctx, cart)
	if err != nil {
		return CartView{}, err
	}
	return s.priceView(ctx, saved)
}

func (s *cartService) UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (CartView, error) {
	if err := cmd.Ref.validate(); err != nil {
		return CartView{}, err
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return CartView{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 0 || cmd.Quantity > maxCartLineQuantity {
		return CartView{}, fmt.Errorf("%w: quantity must be between 0 and %d", ErrCartInvalidInput, maxCartLineQuantity)
	}
	if !cmd.Type.Valid() {
		return CartView{}, fmt.Errorf("%w: unknown purchase type %q", ErrCartInvalidInput, cmd.Type)
	}

	cart, err := s.findCart(ctx, cmd.Ref)
	if err != nil {
		return CartView{}, err
	}

	idx := findLine(cart.Items, productID, cmd.Type)
	if idx < 0 {
		return CartView{}, fmt.Errorf("%w: cart line for product %s", ErrCartNotFound, productID)
	}
	if cmd.Quantity == 0 {
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
	} else {
		cart.Items[idx].Quantity = cmd.Quantity
	}

	saved, err := s.saveCart(ctx, cart)
	if err != nil {
		return CartView{}, err
	}
	return s.priceView(ctx, saved)
}

func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (CartView, error) {
	return s.UpdateItemQuantity(ctx, UpdateCartItemCommand{
		Ref:       cmd.Ref,
		ProductID: cmd.ProductID,
		Quantity:  0,
		Type:      cmd.Type,
	})
}

// ClearCart empties the cart. Clearing an absent cart is a no-op.
func (s *cartService) ClearCart(ctx context.Context, ref CartRef) error {
	if err := ref.validate(); err != nil {
		return err
	}

	cart, err := s.findCart(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return nil
		}
		return err
	}

	if err := s.carts.Delete(ctx, cart.ID); err != nil && !isRepoNotFound(err) {
		return ErrCartUnavailable
	}
	return nil
}

// MergeGuestCart folds the session cart into the user's cart after login.
// Quantities merge per (product, purchase type) line; the guest cart is
// deleted afterwards. A missing or empty guest cart leaves the user cart
// untouched.
func (s *cartService) MergeGuestCart(ctx context.Context, cmd MergeCartCommand) (CartView, error) {
	userID := strings.TrimSpace(cmd.UserID)
	sessionID := strings.TrimSpace(cmd.SessionID)
	if userID == "" || sessionID == "" {
		return CartView{}, fmt.Errorf("%w: user and session ids are required", ErrCartInvalidInput)
	}

	guest, err := s.findCart(ctx, CartRef{SessionID: sessionID})
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return s.GetCart(ctx, CartRef{UserID: userID})
		}
		return CartView{}, err
	}
	if len(guest.Items) == 0 {
		if err := s.carts.Delete(ctx, guest.ID); err != nil && !isRepoNotFound(err) {
			return CartView{}, ErrCartUnavailable
		}
		return s.GetCart(ctx, CartRef{UserID: userID})
	}

	userCart, err := s.findCart(ctx, CartRef{UserID: userID})
	if err != nil {
		if !errors.Is(err, ErrCartNotFound) {
			return CartView{}, err
		}
		userCart = s.emptyCart(CartRef{UserID: userID})
	}

	for _, line := range guest.Items {
		idx := findLine(userCart.Items, line.ProductID, line.Type)
		if idx >= 0 {
			merged := userCart.Items[idx].Quantity + line.Quantity
			if merged > maxCartLineQuantity {
				merged = maxCartLineQuantity
				s.logger(ctx, "cart.merge.line_clamped", map[string]any{
					"cartId":    userCart.ID,
					"productId": line.ProductID,
					"type":      string(line.Type),
				})
			}
			userCart.Items[idx].Quantity = merged
		} else {
			userCart.Items = append(userCart.Items, line)
		}
	}

	saved, err := s.saveCart(ctx, userCart)
	if err != nil {
		return CartView{}, err
	}
	if err := s.carts.Delete(ctx, guest.ID); err != nil && !isRepoNotFound(err) {
		s.logger(ctx, "cart.merge.guest_delete_failed", map[string]any{
			"cartId": guest.ID,
			"error":  err.Error(),
		})
	}
	return s.priceView(ctx, saved)
}

// PurgeExpired deletes guest carts past their expiry.
func (s *cartService) PurgeExpired(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	removed, err := s.carts.PurgeExpired(ctx, s.now(), limit)
	if err != nil {
		return removed, ErrCartUnavailable
	}
	return removed, nil
}

func (s *cartService) findCart(ctx context.Context, ref CartRef) (Cart, error) {
	var (
		cart Cart
		err  error
	)
	if user := strings.TrimSpace(ref.UserID); user != "" {
		cart, err = s.carts.FindByUser(ctx, user)
	} else {
		cart, err = s.carts.FindBySession(ctx, strings.TrimSpace(ref.SessionID))
	}
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrCartNotFound
		}
		return Cart{}, ErrCartUnavailable
	}
	if cart.IsGuest() && cart.ExpiresAt != nil && !s.now().Before(*cart.ExpiresAt) {
		return Cart{}, ErrCartNotFound
	}
	return cart, nil
}

func (s *cartService) emptyCart(ref CartRef) Cart {
	now := s.now()
	cart := Cart{
		ID:        s.newID(),
		UserID:    strings.TrimSpace(ref.UserID),
		SessionID: strings.TrimSpace(ref.SessionID),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if cart.UserID != "" {
		cart.SessionID = ""
	}
	return cart
}

func (s *cartService) saveCart(ctx context.Context, cart Cart) (Cart, error) {
	now := s.now()
	cart.UpdatedAt = now
	if cart.IsGuest() {
		expires := now.Add(s.guestTTL)
		cart.ExpiresAt = &expires
	} else {
		cart.ExpiresAt = nil
	}

	saved, err := s.carts.Upsert(ctx, cart)
	if err != nil {
		return Cart{}, ErrCartUnavailable
	}
	return saved, nil
}

func (s *cartService) priceView(ctx context.Context, cart Cart) (CartView, error) {
	if len(cart.Items) == 0 {
		return CartView{Cart: cart}, nil
	}

	ids := make([]string, 0, len(cart.Items))
	seen := make(map[string]struct{}, len(cart.Items))
	for _, item := range cart.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}

	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return CartView{}, ErrCartUnavailable
	}

	// Lines whose product vanished from the catalog are skipped rather than
	// failing the whole read.
	priceable := make([]CartItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		if _, ok := products[item.ProductID]; !ok {
			s.logger(ctx, "cart.line.orphaned", map[string]any{
				"cartId":    cart.ID,
				"productId": item.ProductID,
			})
			continue
		}
		priceable = append(priceable, item)
	}

	lines, subtotal, discount, err := s.pricing.PriceLines(priceable, products)
	if err != nil {
		return CartView{}, fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
	}

	return CartView{
		Cart:     cart,
		Lines:    lines,
		Subtotal: subtotal,
		Discount: discount,
	}, nil
}

func findLine(items []CartItem, productID string, purchaseType PurchaseType) int {
	for i, item := range items {
		if item.ProductID == productID && item.Type == purchaseType {
			return i
		}
	}
	return -1
}
