package domain

import "time"

// PurchaseType distinguishes a one-off line item from a recurring one.
type PurchaseType string

const (
	// PurchaseOneTime is a regular single purchase.
	PurchaseOneTime PurchaseType = "one-time"
	// PurchaseSubscription marks an item sold on a recurring plan at the
	// subscription discount.
	PurchaseSubscription PurchaseType = "subscription"
)

// Valid reports whether the purchase type is one of the known values.
func (t PurchaseType) Valid() bool {
	return t == PurchaseOneTime || t == PurchaseSubscription
}

// PaymentMethod identifies how an order is paid.
type PaymentMethod string

const (
	// PaymentMethodOnline settles through the payment gateway before the
	// order is accepted.
	PaymentMethodOnline PaymentMethod = "online"
	// PaymentMethodCOD settles cash on delivery.
	PaymentMethodCOD PaymentMethod = "cod"
)

// Valid reports whether the payment method is one of the known values.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodOnline || m == PaymentMethodCOD
}

// OrderStatus captures the fulfilment lifecycle of an order.
type OrderStatus string

const (
	// OrderStatusPending is the initial state before confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed means stock is committed and payment accepted
	// (or COD promised).
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing means the order is being packed.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped means the parcel left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered is the terminal happy-path state.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is the terminal state for aborted orders.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus captures the settlement lifecycle of an order's payment.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// RefundStatus tracks the progress of a refund against an order.
type RefundStatus string

const (
	RefundStatusNone       RefundStatus = "none"
	RefundStatusRequested  RefundStatus = "requested"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusCompleted  RefundStatus = "completed"
)

// SubscriptionFrequency is the delivery cadence of a subscription.
type SubscriptionFrequency string

const (
	FrequencyWeekly   SubscriptionFrequency = "weekly"
	FrequencyBiweekly SubscriptionFrequency = "biweekly"
	FrequencyMonthly  SubscriptionFrequency = "monthly"
)

// Valid reports whether the frequency is one of the known cadences.
func (f SubscriptionFrequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return true
	}
	return false
}

// SubscriptionStatus captures the lifecycle of a subscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPaused    SubscriptionStatus = "paused"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Product is a catalog entry. Price is carried in paise. Stock and Reserved
// live on the product document and are only mutated transactionally.
type Product struct {
	ID        string
	Name      string
	SKU       string
	Category  string
	Price     int64
	Stock     int64
	Reserved  int64
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Available returns the stock not currently held by reservations.
func (p Product) Available() int64 {
	available := p.Stock - p.Reserved
	if available < 0 {
		return 0
	}
	return available
}

// CartItem is one line of a cart. The same product may appear twice with
// different purchase types.
type CartItem struct {
	ProductID string
	Quantity  int64
	Type      PurchaseType
}

// Cart belongs to either an authenticated user or an anonymous session,
// never both. Guest carts expire after a period of inactivity.
type Cart struct {
	ID        string
	UserID    string
	SessionID string
	Items     []CartItem
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt *time.Time
}

// IsGuest reports whether the cart is session scoped.
func (c Cart) IsGuest() bool {
	return c.UserID == "" && c.SessionID != ""
}

// Totals is the priced breakdown of an order, in paise. Total is always
// exactly Subtotal+Tax+Shipping; Discount is reported separately and is
// already reflected in Subtotal.
type Totals struct {
	Subtotal int64
	Discount int64
	Tax      int64
	Shipping int64
	Total    int64
}

// OrderItem is a cart line frozen at checkout. UnitPrice is the effective
// per-unit price (after any subscription discount) at the time the order was
// placed; later catalog changes never touch it.
type OrderItem struct {
	ProductID string
	Name      string
	SKU       string
	Quantity  int64
	UnitPrice int64
	ListPrice int64
	Type      PurchaseType
	Total     int64
}

// ShippingAddress is the destination captured on the order.
type ShippingAddress struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// GatewayRefs holds the payment gateway identifiers attached to an order.
type GatewayRefs struct {
	OrderID   string
	PaymentID string
	Signature string
}

// Order is the checkout aggregate. Item prices and totals are immutable
// once created; only status fields, tracking data, and refund fields move.
type Order struct {
	ID                 string
	OrderNumber        string
	UserID             string
	Items              []OrderItem
	Totals             Totals
	Currency           string
	Status             OrderStatus
	PaymentStatus      PaymentStatus
	PaymentMethod      PaymentMethod
	Gateway            GatewayRefs
	ShippingAddress    ShippingAddress
	TrackingNumber     string
	Timeline           []TrackingEvent
	Notes              string
	CancellationReason string
	RefundStatus       RefundStatus
	RefundAmount       int64
	EstimatedDelivery  *time.Time
	ActualDelivery     *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CancelledAt        *time.Time
}

// SubscriptionItem is one recurring line. Prices are not stored here: the
// subscription total is recomputed from the current catalog on every change.
type SubscriptionItem struct {
	ProductID string
	Quantity  int64
}

// Subscription is a recurring delivery plan.
type Subscription struct {
	ID           string
	UserID       string
	Items        []SubscriptionItem
	Frequency    SubscriptionFrequency
	Status       SubscriptionStatus
	TotalAmount  int64
	StartDate    time.Time
	NextDelivery time.Time
	LastDelivery *time.Time
	PausedUntil  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Reservation is a short-lived hold on stock taken during checkout. It is
// committed into a decrement when the order lands or released otherwise,
// and swept after ExpiresAt if neither happened.
type Reservation struct {
	ID        string
	UserID    string
	Lines     []ReservationLine
	OrderRef  string
	Status    ReservationStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ReservationLine is a per-product quantity inside a reservation.
type ReservationLine struct {
	ProductID string
	Quantity  int64
}

// ReservationStatus is the lifecycle of a stock reservation.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)

// TrackingEvent is one entry of an order's status timeline.
type TrackingEvent struct {
	Status     OrderStatus
	OccurredAt time.Time
	Note       string
}

// Pagination carries cursor paging inputs.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results together with the token for the next one.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
