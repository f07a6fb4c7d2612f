package services

import (
	"context"
	"time"

	domain "github.com/cafeatonce/commerce-api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination       = domain.Pagination
	Product          = domain.Product
	Cart             = domain.Cart
	CartItem         = domain.CartItem
	Totals           = domain.Totals
	Order            = domain.Order
	OrderItem        = domain.OrderItem
	OrderStatus      = domain.OrderStatus
	PaymentStatus    = domain.PaymentStatus
	PaymentMethod    = domain.PaymentMethod
	PurchaseType     = domain.PurchaseType
	ShippingAddress  = domain.ShippingAddress
	TrackingEvent    = domain.TrackingEvent
	Subscription     = domain.Subscription
	SubscriptionItem = domain.SubscriptionItem
	Reservation      = domain.Reservation
	ReservationLine  = domain.ReservationLine
)

// Commerce event types published to the events topic.
const (
	EventOrderCreated        = "order.created"
	EventOrderStatusChanged  = "order.status.changed"
	EventOrderCancelled      = "order.cancelled"
	EventPaymentCompleted    = "payment.completed"
	EventPaymentFailed       = "payment.failed"
	EventRefundProcessed     = "refund.processed"
	EventStockLow            = "stock.low"
	EventSubscriptionCreated = "subscription.created"
	EventSubscriptionDue     = "subscription.due"
)

// EventMessage is the envelope published for commerce lifecycle events.
type EventMessage struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	OccurredAt     time.Time `json:"occurredAt"`
	OrderID        string    `json:"orderId,omitempty"`
	OrderNumber    string    `json:"orderNumber,omitempty"`
	UserID         string    `json:"userId,omitempty"`
	ProductID      string    `json:"productId,omitempty"`
	SubscriptionID string    `json:"subscriptionId,omitempty"`
	Status         string    `json:"status,omitempty"`
	Amount         int64     `json:"amount,omitempty"`
}

// EventPublisher enqueues commerce events for downstream consumers. Publish
// failures are logged by callers, never surfaced to the storefront.
type EventPublisher interface {
	PublishEvent(ctx context.Context, message EventMessage) (string, error)
}

// CatalogService serves product reads for the storefront.
type CatalogService interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListProducts(ctx context.Context, pager Pagination) (domain.CursorPage[Product], error)
}

// CartRef identifies a cart owner: an authenticated user or a guest session,
// never both.
type CartRef struct {
	UserID    string
	SessionID string
}

// PricedCartLine is a cart line joined with current catalog pricing.
type PricedCartLine struct {
	ProductID string
	Name      string
	SKU       string
	Quantity  int64
	Type      PurchaseType
	ListPrice int64
	UnitPrice int64
	LineTotal int64
}

// CartView is the cart together with priced lines. Shipping and tax are not
// included here; they depend on the payment method and are quoted at checkout.
type CartView struct {
	Cart     Cart
	Lines    []PricedCartLine
	Subtotal int64
	Discount int64
}

// CartService manages user and guest carts.
type CartService interface {
	GetCart(ctx context.Context, ref CartRef) (CartView, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error)
	UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (CartView, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (CartView, error)
	ClearCart(ctx context.Context, ref CartRef) error
	MergeGuestCart(ctx context.Context, cmd MergeCartCommand) (CartView, error)
	PurgeExpired(ctx context.Context, limit int) (int, error)
}

// AddCartItemCommand adds quantity to a cart line, creating the line when the
// (product, purchase type) pair is not present yet.
type AddCartItemCommand struct {
	Ref       CartRef
	ProductID string
	Quantity  int64
	Type      PurchaseType
}

// UpdateCartItemCommand sets the absolute quantity for a cart line. A zero
// quantity removes the line.
type UpdateCartItemCommand struct {
	Ref       CartRef
	ProductID string
	Quantity  int64
	Type      PurchaseType
}

// RemoveCartItemCommand removes a cart line.
type RemoveCartItemCommand struct {
	Ref       CartRef
	ProductID string
	Type      PurchaseType
}

// MergeCartCommand folds a guest session cart into the user's cart after login.
type MergeCartCommand struct {
	UserID    string
	SessionID string
}

// InventoryService wraps the transactional stock operations and emits
// low-stock events.
type InventoryService interface {
	Reserve(ctx context.Context, cmd ReserveStockCommand) (Reservation, error)
	Commit(ctx context.Context, reservationID, orderRef string) error
	Release(ctx context.Context, reservationID, reason string) error
	Restock(ctx context.Context, lines []ReservationLine) error
	ReleaseExpired(ctx context.Context, limit int) (int, error)
}

// ReserveStockCommand places a short-lived hold on stock for a checkout
// attempt. OrderRef names the order the hold is being placed for; the expiry
// sweep uses it to finish a commit the checkout did not get to.
type ReserveStockCommand struct {
	UserID   string
	OrderRef string
	Lines    []ReservationLine
}

// OrderService encapsulates checkout and order lifecycle flows.
type OrderService interface {
	CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, q OrderQuery) (Order, error)
	ListUserOrders(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error)
	ListOrders(ctx context.Context, filter AdminOrderFilter) (domain.CursorPage[Order], error)
	GetTracking(ctx context.Context, q OrderQuery) (OrderTracking, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
}

// CreateOrderCommand turns the caller's cart into an order. For online
// payments the gateway references must carry a valid signature; checkout is
// rejected otherwise and no stock stays held.
type CreateOrderCommand struct {
	UserID           string
	SessionID        string
	PaymentMethod    PaymentMethod
	ShippingAddress  ShippingAddress
	Notes            string
	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string
}

// OrderQuery scopes an order read. Admin reads leave UserID empty.
type OrderQuery struct {
	OrderID string
	UserID  string
}

// AdminOrderFilter narrows the admin order listing.
type AdminOrderFilter struct {
	Status        *OrderStatus
	PaymentStatus *PaymentStatus
	Pagination    Pagination
}

// OrderTracking is the customer-facing status timeline for an order.
type OrderTracking struct {
	OrderID           string
	OrderNumber       string
	Status            OrderStatus
	TrackingNumber    string
	EstimatedDelivery *time.Time
	ActualDelivery    *time.Time
	Timeline          []TrackingEvent
}

// CancelOrderCommand cancels a pending or confirmed order and returns its
// stock. Admin cancellations leave UserID empty.
type CancelOrderCommand struct {
	OrderID string
	UserID  string
	Reason  string
}

// UpdateOrderStatusCommand moves an order along the fulfilment lifecycle.
// Shipping requires a tracking number; delivery stamps the actual delivery
// time and settles COD payments.
type UpdateOrderStatusCommand struct {
	OrderID        string
	Status         OrderStatus
	TrackingNumber string
	Note           string
}

// GatewayOrderView is returned to the client to open the gateway checkout.
type GatewayOrderView struct {
	GatewayOrderID string
	Amount         int64
	Currency       string
	KeyID          string
}

// PaymentService fronts the payment gateway and reconciles webhook events.
type PaymentService interface {
	CreateGatewayOrder(ctx context.Context, cmd CreateGatewayOrderCommand) (GatewayOrderView, error)
	VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (Order, error)
	Refund(ctx context.Context, cmd RefundOrderCommand) (Order, error)
	ProcessWebhook(ctx context.Context, cmd WebhookCommand) error
	CheckoutKeyID() string
}

// CreateGatewayOrderCommand opens a gateway order for the given amount in paise.
type CreateGatewayOrderCommand struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// VerifyPaymentCommand confirms a checkout callback against the stored order.
type VerifyPaymentCommand struct {
	UserID           string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// RefundOrderCommand refunds a completed payment, fully by default.
type RefundOrderCommand struct {
	OrderID string
	Amount  int64
	Reason  string
}

// WebhookCommand carries the raw webhook request. Body must be the exact
// bytes received so signature verification happens before any parsing.
// EventID comes from the gateway's delivery header and deduplicates replays.
type WebhookCommand struct {
	Body      []byte
	Signature string
	EventID   string
}

// SubscriptionService manages recurring delivery plans.
type SubscriptionService interface {
	Create(ctx context.Context, cmd CreateSubscriptionCommand) (Subscription, error)
	Get(ctx context.Context, subscriptionID, userID string) (Subscription, error)
	ListByUser(ctx context.Context, userID string) ([]Subscription, error)
	UpdateItems(ctx context.Context, cmd UpdateSubscriptionCommand) (Subscription, error)
	Pause(ctx context.Context, cmd PauseSubscriptionCommand) (Subscription, error)
	Resume(ctx context.Context, subscriptionID, userID string) (Subscription, error)
	Cancel(ctx context.Context, subscriptionID, userID string) (Subscription, error)
	AdvanceDue(ctx context.Context, limit int) (int, error)
}

// CreateSubscriptionCommand starts a recurring plan. The first delivery is
// scheduled one cadence after the start date.
type CreateSubscriptionCommand struct {
	UserID    string
	Items     []SubscriptionItem
	Frequency domain.SubscriptionFrequency
	StartDate *time.Time
}

// UpdateSubscriptionCommand replaces the plan's items and optionally its
// cadence. The total is recomputed from current catalog prices.
type UpdateSubscriptionCommand struct {
	SubscriptionID string
	UserID         string
	Items          []SubscriptionItem
	Frequency      *domain.SubscriptionFrequency
}

// PauseSubscriptionCommand pauses a plan, optionally until a given date.
type PauseSubscriptionCommand struct {
	SubscriptionID string
	UserID         string
	Until          *time.Time
}
