package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/cafeatonce/commerce-api/internal/domain"
)

func newTestCartService(t *testing.T, carts *stubCartRepo, products map[string]domain.Product, now time.Time) CartService {
	t.Helper()
	svc, err := NewCartService(CartServiceDeps{
		Carts:       carts,
		Products:    catalogRepo(products),
		Pricing:     newTestPricingEngine(t),
		Clock:       fixedClock(now),
		IDGenerator: sequentialIDs("cart-"),
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return svc
}

func TestCartGetMissingCartIsEmpty(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := newTestCartService(t, &stubCartRepo{}, testCatalog(), now)

	view, err := svc.GetCart(context.Background(), CartRef{UserID: "user-1"})
	if err != nil {
		t.Fatalf("GetCart returned error: %v", err)
	}
	if len(view.Lines) != 0 || view.Subtotal != 0 {
		t.Fatalf("expected empty cart view, got %+v", view)
	}
}

func TestCartAddItemMergesSameLine(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var stored domain.Cart
	haveCart := false
	carts := &stubCartRepo{
		findUserFn: func(_ context.Context, userID string) (domain.Cart, error) {
			if !haveCart {
				return domain.Cart{}, errStubNotFound
			}
			return stored, nil
		},
		upsertFn: func(_ context.Context, cart domain.Cart) (domain.Cart, error) {
			stored = cart
			haveCart = true
			return cart, nil
		},
	}
	svc := newTestCartService(t, carts, testCatalog(), now)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, AddCartItemCommand{
		Ref:       CartRef{UserID: "user-1"},
		ProductID: "p-classic",
		Quantity:  1,
		Type:      domain.PurchaseOneTime,
	}); err != nil {
		t.Fatalf("AddItem returned error: %v", err)
	}

	view, err := svc.AddItem(ctx, AddCartItemCommand{
		Ref:       CartRef{UserID: "user-1"},
		ProductID: "p-classic",
		Quantity:  2,
		Type:      domain.PurchaseOneTime,
	})
	if err != nil {
		t.Fatalf("AddItem returned error: %v", err)
	}

	if len(view.Cart.Items) != 1 {
		t.Fatalf("expected a single merged line, got %d", len(view.Cart.Items))
	}
	if view.Cart.Items[0].Quantity != 3 {
		t.Fatalf("expected quantity 3, got %d", view.Cart.Items[0].Quantity)
	}
	if view.Subtotal != 3*29900 {
		t.Fatalf("unexpected subtotal %d", view.Subtotal)
	}
}

func TestCartSameProductDifferentTypesAreSeparateLines(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var stored domain.Cart
	haveCart := false
	carts := &stubCartRepo{
		findUserFn: func(_ context.Context, _ string) (domain.Cart, error) {
			if !haveCart {
				return domain.Cart{}, errStubNotFound
			}
			return stored, nil
		},
		upsertFn: func(_ context.Context, cart domain.Cart) (domain.Cart, error) {
			stored = cart
			haveCart = true
			return cart, nil
		},
	}
	svc := newTestCartService(t, carts, testCatalog(), now)
	ctx := context.Background()

	for _, purchaseType := range []domain.PurchaseType{domain.PurchaseOneTime, domain.PurchaseSubscription} {
		if _, err := svc.AddItem(ctx, AddCartItemCommand{
			Ref:       CartRef{UserID: "user-1"},
			ProductID: "p-classic",
			Quantity:  1,
			Type:      purchaseType,
		}); err != nil {
			t.Fatalf("AddItem(%s) returned error: %v", purchaseType, err)
		}
	}

	if len(stored.Items) != 2 {
		t.Fatalf("expected two lines, got %d", len(stored.Items))
	}
}

func TestCartAddItemRejectsUnknownProduct(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := newTestCartService(t, &stubCartRepo{}, testCatalog(), now)

	_, err := svc.AddItem(context.Background(), AddCartItemCommand{
		Ref:       CartRef{UserID: "user-1"},
		ProductID: "p-missing",
		Quantity:  1,
		Type:      domain.PurchaseOneTime,
	})
	if !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound, got %v", err)
	}
}

func TestCartGuestCartCarriesExpiry(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var stored domain.Cart
	carts := &stubCartRepo{
		upsertFn: func(_ context.Context, cart domain.Cart) (domain.Cart, error) {
			stored = cart
			return cart, nil
		},
	}
	svc := newTestCartService(t, carts, testCatalog(), now)

	if _, err := svc.AddItem(context.Background(), AddCartItemCommand{
		Ref:       CartRef{SessionID: "sess-1"},
		ProductID: "p-classic",
		Quantity:  1,
		Type:      domain.PurchaseOneTime,
	}); err != nil {
		t.Fatalf("AddItem returned error: %v", err)
	}

	if stored.ExpiresAt == nil {
		t.Fatalf("expected guest cart expiry to be set")
	}
	want := now.Add(30 * 24 * time.Hour)
	if !stored.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, *stored.ExpiresAt)
	}
}

func TestCartUpdateQuantityZeroRemovesLine(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	stored := domain.Cart{
		ID:     "cart-1",
		UserID: "user-1",
		Items: []domain.CartItem{
			{ProductID: "p-classic", Quantity: 2, Type: domain.PurchaseOneTime},
			{ProductID: "p-dark", Quantity: 1, Type: domain.PurchaseOneTime},
		},
	}
	carts := &stubCartRepo{
		findUserFn: func(_ context.Context, _ string) (domain.Cart, error) { return stored, nil },
		upsertFn: func(_ context.Context, cart domain.Cart) (domain.Cart, error) {
			stored = cart
			return cart, nil
		},
	}
	svc := newTestCartService(t, carts, testCatalog(), now)

	view, err := svc.UpdateItemQuantity(context.Background(), UpdateCartItemCommand{
		Ref:       CartRef{UserID: "user-1"},
		ProductID: "p-classic",
		Quantity:  0,
		Type:      domain.PurchaseOneTime,
	})
	if err != nil {
		t.Fatalf("UpdateItemQuantity returned error: %v", err)
	}
	if len(view.Cart.Items) != 1 || view.Cart.Items[0].ProductID != "p-dark" {
		t.Fatalf("expected only p-dark to remain, got %+v", view.Cart.Items)
	}
}

func TestCartMergeGuestCartCombinesAndDeletesGuest(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	guest := domain.Cart{
		ID:        "cart-guest",
		SessionID: "sess-1",
		Items: []domain.CartItem{
			{ProductID: "p-classic", Quantity: 2, Type: domain.PurchaseOneTime},
			{ProductID: "p-dark", Quantity: 1, Type: domain.PurchaseSubscription},
		},
	}
	user := domain.Cart{
		ID:     "cart-user",
		UserID: "user-1",
		Items: []domain.CartItem{
			{ProductID: "p-classic", Quantity: 1, Type: domain.PurchaseOneTime},
		},
	}
	var deleted []string
	var saved domain.Cart
	carts := &stubCartRepo{
		findUserFn:    func(_ context.Context, _ string) (domain.Cart, error) { return user, nil },
		findSessionFn: func(_ context.Context, _ string) (domain.Cart, error) { return guest, nil },
		upsertFn: func(_ context.Context, cart domain.Cart) (domain.Cart, error) {
			saved = cart
			return cart, nil
		},
		deleteFn: func(_ context.Context, cartID string) error {
			deleted = append(deleted, cartID)
			return nil
		},
	}
	svc := newTestCartService(t, carts, testCatalog(), now)

	view, err := svc.MergeGuestCart(context.Background(), MergeCartCommand{UserID: "user-1", SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("MergeGuestCart returned error: %v", err)
	}

	if len(saved.Items) != 2 {
		t.Fatalf("expected two merged lines, got %+v", saved.Items)
	}
	if saved.Items[0].ProductID != "p-classic" || saved.Items[0].Quantity != 3 {
		t.Fatalf("expected merged quantity 3 for p-classic, got %+v", saved.Items[0])
	}
	if len(deleted) != 1 || deleted[0] != "cart-guest" {
		t.Fatalf("expected guest cart deletion, got %v", deleted)
	}
	if len(view.Lines) != 2 {
		t.Fatalf("expected priced lines in view, got %d", len(view.Lines))
	}
}

func TestCartMergeClampsOversizedLineAndLogs(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	guest := domain.Cart{
		ID:        "cart-guest",
		SessionID: "sess-1",
		Items: []domain.CartItem{
			{ProductID: "p-classic", Quantity: 30, Type: domain.PurchaseOneTime},
		},
	}
	user := domain.Cart{
		ID:     "cart-user",
		UserID: "user-1",
		Items: []domain.CartItem{
			{ProductID: "p-classic", Quantity: 40, Type: domain.PurchaseOneTime},
		},
	}
	var saved domain.Cart
	carts := &stubCartRepo{
		findUserFn:    func(_ context.Context, _ string) (domain.Cart, error) { return user, nil },
		findSessionFn: func(_ context.Context, _ string) (domain.Cart, error) { return guest, nil },
		upsertFn: func(_ context.Context, cart domain.Cart) (domain.Cart, error) {
			saved = cart
			return cart, nil
		},
	}
	var logged []string
	svc, err := NewCartService(CartServiceDeps{
		Carts:       carts,
		Products:    catalogRepo(testCatalog()),
		Pricing:     newTestPricingEngine(t),
		Clock:       fixedClock(now),
		IDGenerator: sequentialIDs("cart-"),
		Logger: func(_ context.Context, event string, _ map[string]any) {
			logged = append(logged, event)
		},
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}

	if _, err := svc.MergeGuestCart(context.Background(), MergeCartCommand{UserID: "user-1", SessionID: "sess-1"}); err != nil {
		t.Fatalf("MergeGuestCart returned error: %v", err)
	}

	if len(saved.Items) != 1 || saved.Items[0].Quantity != maxCartLineQuantity {
		t.Fatalf("expected merged line clamped to %d, got %+v", maxCartLineQuantity, saved.Items)
	}
	clamped := false
	for _, event := range logged {
		if event == "cart.merge.line_clamped" {
			clamped = true
		}
	}
	if !clamped {
		t.Fatalf("expected clamp to be logged, got %v", logged)
	}
}

func TestCartMergeMissingGuestCartIsNoop(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	user := domain.Cart{
		ID:     "cart-user",
		UserID: "user-1",
		Items:  []domain.CartItem{{ProductID: "p-classic", Quantity: 1, Type: domain.PurchaseOneTime}},
	}
	upserts := 0
	carts := &stubCartRepo{
		findUserFn: func(_ context.Context, _ string) (domain.Cart, error) { return user, nil },
		upsertFn: func(_ context.Context, cart domain.Cart) (domain.Cart, error) {
			upserts++
			return cart, nil
		},
	}
	svc := newTestCartService(t, carts, testCatalog(), now)

	view, err := svc.MergeGuestCart(context.Background(), MergeCartCommand{UserID: "user-1", SessionID: "sess-unknown"})
	if err != nil {
		t.Fatalf("MergeGuestCart returned error: %v", err)
	}
	if upserts != 0 {
		t.Fatalf("expected no writes for missing guest cart, got %d", upserts)
	}
	if len(view.Cart.Items) != 1 {
		t.Fatalf("expected user cart unchanged, got %+v", view.Cart.Items)
	}
}

func TestCartPurgeExpiredDelegates(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var gotLimit int
	var gotNow time.Time
	carts := &stubCartRepo{
		purgeFn: func(_ context.Context, at time.Time, limit int) (int, error) {
			gotNow = at
			gotLimit = limit
			return 4, nil
		},
	}
	svc := newTestCartService(t, carts, testCatalog(), now)

	removed, err := svc.PurgeExpired(context.Background(), 25)
	if err != nil {
		t.Fatalf("PurgeExpired returned error: %v", err)
	}
	if removed != 4 || gotLimit != 25 || !gotNow.Equal(now) {
		t.Fatalf("unexpected purge call removed=%d limit=%d now=%v", removed, gotLimit, gotNow)
	}
}
