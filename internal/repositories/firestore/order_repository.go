package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/cafeatonce/commerce-api/internal/domain"
	pfirestore "github.com/cafeatonce/commerce-api/internal/platform/firestore"
	"github.com/cafeatonce/commerce-api/internal/repositories"
)

const (
	ordersCollection       = "orders"
	orderNumbersCollection = "orderNumbers"
)

type orderDocument struct {
	OrderNumber        string                 `firestore:"orderNumber"`
	UserID             string                 `firestore:"userId"`
	Items              []orderItemDocument    `firestore:"items"`
	Totals             orderTotalsDocument    `firestore:"totals"`
	Currency           string                 `firestore:"currency"`
	Status             string                 `firestore:"status"`
	PaymentStatus      string                 `firestore:"paymentStatus"`
	PaymentMethod      string                 `firestore:"paymentMethod"`
	Gateway            gatewayRefsDocument    `firestore:"gateway"`
	ShippingAddress    shippingAddrDocument   `firestore:"shippingAddress"`
	TrackingNumber     string                 `firestore:"trackingNumber,omitempty"`
	Timeline           []trackingItemDocument `firestore:"timeline"`
	Notes              string                 `firestore:"notes,omitempty"`
	CancellationReason string                 `firestore:"cancellationReason,omitempty"`
	RefundStatus       string                 `firestore:"refundStatus,omitempty"`
	RefundAmount       int64                  `firestore:"refundAmount,omitempty"`
	EstimatedDelivery  *time.Time             `firestore:"estimatedDelivery,omitempty"`
	ActualDelivery     *time.Time             `firestore:"actualDelivery,omitempty"`
	CancelledAt        *time.Time             `firestore:"cancelledAt,omitempty"`
	CreatedAt          time.Time              `firestore:"createdAt"`
	UpdatedAt          time.Time              `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	SKU       string `firestore:"sku"`
	Quantity  int64  `firestore:"qty"`
	UnitPrice int64  `firestore:"unitPrice"`
	ListPrice int64  `firestore:"listPrice"`
	Type      string `firestore:"type"`
	Total     int64  `firestore:"total"`
}

type orderTotalsDocument struct {
	Subtotal int64 `firestore:"subtotal"`
	Discount int64 `firestore:"discount"`
	Tax      int64 `firestore:"tax"`
	Shipping int64 `firestore:"shipping"`
	Total    int64 `firestore:"total"`
}

type gatewayRefsDocument struct {
	OrderID   string `firestore:"orderId,omitempty"`
	PaymentID string `firestore:"paymentId,omitempty"`
	Signature string `firestore:"signature,omitempty"`
}

type shippingAddrDocument struct {
	Name       string `firestore:"name"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

type trackingItemDocument struct {
	Status     string    `firestore:"status"`
	OccurredAt time.Time `firestore:"occurredAt"`
	Note       string    `firestore:"note,omitempty"`
}

// orderNumberDocument reserves an order number. Creating it in the same
// transaction as the order makes the number unique across concurrent inserts.
type orderNumberDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			ListPrice: item.ListPrice,
			Type:      string(item.Type),
			Total:     item.Total,
		}
	}
	timeline := make([]trackingItemDocument, len(order.Timeline))
	for i, event := range order.Timeline {
		timeline[i] = trackingItemDocument{
			Status:     string(event.Status),
			OccurredAt: event.OccurredAt.UTC(),
			Note:       event.Note,
		}
	}
	return orderDocument{
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		UserID:        strings.TrimSpace(order.UserID),
		Items:         items,
		Totals:        orderTotalsDocument(order.Totals),
		Currency:      strings.TrimSpace(order.Currency),
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		PaymentMethod: string(order.PaymentMethod),
		Gateway:       gatewayRefsDocument(order.Gateway),
		ShippingAddress: shippingAddrDocument{
			Name:       order.ShippingAddress.Name,
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			State:      order.ShippingAddress.State,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
			Phone:      order.ShippingAddress.Phone,
		},
		TrackingNumber:     strings.TrimSpace(order.TrackingNumber),
		Timeline:           timeline,
		Notes:              order.Notes,
		CancellationReason: order.CancellationReason,
		RefundStatus:       string(order.RefundStatus),
		RefundAmount:       order.RefundAmount,
		EstimatedDelivery:  order.EstimatedDelivery,
		ActualDelivery:     order.ActualDelivery,
		CancelledAt:        order.CancelledAt,
		CreatedAt:          order.CreatedAt.UTC(),
		UpdatedAt:          order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			ListPrice: item.ListPrice,
			Type:      domain.PurchaseType(item.Type),
			Total:     item.Total,
		}
	}
	timeline := make([]domain.TrackingEvent, len(d.Timeline))
	for i, event := range d.Timeline {
		timeline[i] = domain.TrackingEvent{
			Status:     domain.OrderStatus(event.Status),
			OccurredAt: event.OccurredAt,
			Note:       event.Note,
		}
	}
	return domain.Order{
		ID:            id,
		OrderNumber:   d.OrderNumber,
		UserID:        d.UserID,
		Items:         items,
		Totals:        domain.Totals(d.Totals),
		Currency:      d.Currency,
		Status:        domain.OrderStatus(d.Status),
		PaymentStatus: domain.PaymentStatus(d.PaymentStatus),
		PaymentMethod: domain.PaymentMethod(d.PaymentMethod),
		Gateway:       domain.GatewayRefs(d.Gateway),
		ShippingAddress: domain.ShippingAddress{
			Name:       d.ShippingAddress.Name,
			Line1:      d.ShippingAddress.Line1,
			Line2:      d.ShippingAddress.Line2,
			City:       d.ShippingAddress.City,
			State:      d.ShippingAddress.State,
			PostalCode: d.ShippingAddress.PostalCode,
			Country:    d.ShippingAddress.Country,
			Phone:      d.ShippingAddress.Phone,
		},
		TrackingNumber:     d.TrackingNumber,
		Timeline:           timeline,
		Notes:              d.Notes,
		CancellationReason: d.CancellationReason,
		RefundStatus:       domain.RefundStatus(d.RefundStatus),
		RefundAmount:       d.RefundAmount,
		EstimatedDelivery:  d.EstimatedDelivery,
		ActualDelivery:     d.ActualDelivery,
		CancelledAt:        d.CancelledAt,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

// OrderRepository persists orders in Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
	numbers  *pfirestore.BaseRepository[orderNumberDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil),
		numbers:  pfirestore.NewBaseRepository[orderNumberDocument](provider, orderNumbersCollection, nil),
	}, nil
}

// Insert creates the order together with its number guard document. A taken
// order number surfaces as a conflict so the caller can regenerate and retry.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	number := strings.TrimSpace(order.OrderNumber)
	if number == "" {
		return errors.New("order repository: order number is required")
	}

	orderRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	numberRef, err := r.numbers.DocumentRef(ctx, number)
	if err != nil {
		return err
	}

	doc := newOrderDocument(order)
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(numberRef, orderNumberDocument{OrderID: orderID, CreatedAt: doc.CreatedAt}); err != nil {
			return err
		}
		return tx.Create(orderRef, doc)
	})
	return pfirestore.WrapError("orders.insert", err)
}

// Update overwrites the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	_, err := r.base.Set(ctx, orderID, newOrderDocument(order))
	return err
}

// FindByID loads an order by document ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByGatewayOrderID resolves an order from the gateway's order reference.
func (r *OrderRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	return r.findByGatewayField(ctx, "gateway.orderId", gatewayOrderID)
}

// FindByGatewayPaymentID resolves an order from the gateway's payment reference.
func (r *OrderRepository) FindByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (domain.Order, error) {
	return r.findByGatewayField(ctx, "gateway.paymentId", gatewayPaymentID)
}

func (r *OrderRepository) findByGatewayField(ctx context.Context, field, value string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return domain.Order{}, errors.New("order repository: lookup value is required")
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where(field, "==", trimmed).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NewNotFoundError("orders.find", fmt.Errorf("order for %s %q not found", field, trimmed))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// ListByUser returns the user's orders newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: user id is required")
	}
	return r.list(ctx, pager, func(query firestore.Query) firestore.Query {
		return query.Where("userId", "==", uid)
	})
}

// List returns orders for the admin surface, optionally narrowed by status.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return r.list(ctx, filter.Pagination, func(query firestore.Query) firestore.Query {
		if filter.Status != nil {
			query = query.Where("status", "==", string(*filter.Status))
		}
		if filter.PaymentStatus != nil {
			query = query.Where("paymentStatus", "==", string(*filter.PaymentStatus))
		}
		return query
	})
}

func (r *OrderRepository) list(ctx context.Context, pager domain.Pagination, narrow pfirestore.QueryBuilder) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	var token *orderPageToken
	if trimmed := strings.TrimSpace(pager.PageToken); trimmed != "" {
		decoded, err := decodeOrderPageToken(trimmed)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		token = decoded
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		query = narrow(query).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Asc).
			Limit(pageSize + 1)
		if token != nil {
			query = query.StartAfter(token.CreatedAt, token.ID)
		}
		return query
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{
		Items:         orders,
		NextPageToken: nextToken,
	}, nil
}

type orderPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode order page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode order page token json: %w", err)
	}
	return &token, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
