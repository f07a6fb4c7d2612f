package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/cafeatonce/commerce-api/internal/domain"
	"github.com/cafeatonce/commerce-api/internal/payments"
	"github.com/cafeatonce/commerce-api/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates the caller supplied invalid input.
	ErrOrderInvalidInput = errors.New("order service: invalid input")
	// ErrOrderNotFound indicates the requested order does not exist or is not visible to the caller.
	ErrOrderNotFound = errors.New("order service: not found")
	// ErrOrderEmptyCart indicates checkout was attempted with no items.
	ErrOrderEmptyCart = errors.New("order service: cart is empty")
	// ErrOrderPaymentRequired indicates online checkout is missing verified gateway references.
	ErrOrderPaymentRequired = errors.New("order service: payment verification failed")
	// ErrOrderIllegalTransition indicates the requested status change is not allowed.
	ErrOrderIllegalTransition = errors.New("order service: illegal status transition")
	// ErrOrderNotCancellable indicates the order is past the cancellation window.
	ErrOrderNotCancellable = errors.New("order service: order can no longer be cancelled")
	// ErrOrderUnavailable indicates the order backend cannot serve the request.
	ErrOrderUnavailable = errors.New("order service: unavailable")
)

const (
	orderNumberPrefix        = "ORD"
	orderNumberCounter       = "orders"
	orderNumberInsertRetries = 3
	defaultDeliveryWindow    = 5 * 24 * time.Hour
	defaultOrderPageSize     = 20
)

// OrderServiceDeps wires the repositories and collaborators for order flows.
type OrderServiceDeps struct {
	Orders         repositories.OrderRepository
	Counters       repositories.CounterRepository
	Carts          repositories.CartRepository
	Products       repositories.ProductRepository
	Inventory      InventoryService
	Pricing        *PricingEngine
	Gateways       *payments.Manager
	Events         EventPublisher
	Clock          func() time.Time
	IDGenerator    func() string
	DeliveryWindow time.Duration
	Logger         func(context.Context, string, map[string]any)
}

type orderService struct {
	orders         repositories.OrderRepository
	counters       repositories.CounterRepository
	carts          repositories.CartRepository
	products       repositories.ProductRepository
	inventory      InventoryService
	pricing        *PricingEngine
	gateways       *payments.Manager
	events         EventPublisher
	now            func() time.Time
	newID          func() string
	deliveryWindow time.Duration
	logger         func(context.Context, string, map[string]any)
}

// NewOrderService constructs an OrderService enforcing dependency validation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing engine is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("order service: gateway manager is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("order service: clock is required")
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	window := deps.DeliveryWindow
	if window <= 0 {
		window = defaultDeliveryWindow
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:         deps.Orders,
		counters:       deps.Counters,
		carts:          deps.Carts,
		products:       deps.Products,
		inventory:      deps.Inventory,
		pricing:        deps.Pricing,
		gateways:       deps.Gateways,
		events:         deps.Events,
		now:            func() time.Time { return deps.Clock().UTC() },
		newID:          idGen,
		deliveryWindow: window,
		logger:         logger,
	}, nil
}

// CreateFromCart turns the caller's cart into an order. Stock is reserved
// before pricing and payment checks; any failure on the way releases the
// reservation so nothing stays held. The reservation carries the order id
// from the start, so a commit that fails after the order document lands is
// finished later by the expiry sweep instead of being handed back.
func (s *orderService) CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if !cmd.PaymentMethod.Valid() {
		return Order{}, fmt.Errorf("%w: unknown payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	if err := validateShippingAddress(cmd.ShippingAddress); err != nil {
		return Order{}, err
	}

	cart, err := s.loadCheckoutCart(ctx, userID, strings.TrimSpace(cmd.SessionID))
	if err != nil {
		return Order{}, err
	}
	if len(cart.Items) == 0 {
		return Order{}, ErrOrderEmptyCart
	}

	products, err := s.loadProducts(ctx, cart.Items)
	if err != nil {
		return Order{}, err
	}

	orderID := s.newID()
	reservation, err := s.inventory.Reserve(ctx, ReserveStockCommand{
		UserID:   userID,
		OrderRef: orderID,
		Lines:    reservationLines(cart.Items),
	})
	if err != nil {
		return Order{}, err
	}

	order, err := s.buildOrder(orderID, cmd, userID, cart, products)
	if err != nil {
		s.releaseReservation(ctx, reservation.ID, "checkout_failed")
		return Order{}, err
	}

	if cmd.PaymentMethod == domain.PaymentMethodOnline {
		if err := s.verifyCheckoutPayment(cmd); err != nil {
			s.releaseReservation(ctx, reservation.ID, "signature_mismatch")
			return Order{}, err
		}
		order.PaymentStatus = domain.PaymentStatusCompleted
		order.Status = domain.OrderStatusConfirmed
		order.Gateway = domain.GatewayRefs{
			OrderID:   strings.TrimSpace(cmd.GatewayOrderID),
			PaymentID: strings.TrimSpace(cmd.GatewayPaymentID),
			Signature: strings.TrimSpace(cmd.GatewaySignature),
		}
		order.Timeline = append(order.Timeline, TrackingEvent{
			Status:     domain.OrderStatusConfirmed,
			OccurredAt: order.CreatedAt,
			Note:       "Payment verified",
		})
	} else {
		// Cash on delivery confirms immediately; payment settles at the door.
		order.Status = domain.OrderStatusConfirmed
		order.Timeline = append(order.Timeline, TrackingEvent{
			Status:     domain.OrderStatusConfirmed,
			OccurredAt: order.CreatedAt,
			Note:       "Order confirmed",
		})
	}

	if err := s.insertWithOrderNumber(ctx, &order); err != nil {
		s.releaseReservation(ctx, reservation.ID, "order_insert_failed")
		return Order{}, err
	}

	if err := s.inventory.Commit(ctx, reservation.ID, order.ID); err != nil {
		s.logger(ctx, "order.reservation.commit_failed", map[string]any{
			"orderId":       order.ID,
			"reservationId": reservation.ID,
			"error":         err.Error(),
		})
	}

	if err := s.carts.Delete(ctx, cart.ID); err != nil && !isRepoNotFound(err) {
		s.logger(ctx, "order.cart.delete_failed", map[string]any{
			"orderId": order.ID,
			"cartId":  cart.ID,
			"error":   err.Error(),
		})
	}

	s.publish(ctx, EventMessage{
		ID:          s.newID(),
		Type:        EventOrderCreated,
		OccurredAt:  order.CreatedAt,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      string(order.Status),
		Amount:      order.Totals.Total,
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, q OrderQuery) (Order, error) {
	order, err := s.loadOrder(ctx, q)
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) ListUserOrders(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if pager.PageSize <= 0 {
		pager.PageSize = defaultOrderPageSize
	}

	page, err := s.orders.ListByUser(ctx, uid, pager)
	if err != nil {
		return domain.CursorPage[Order]{}, ErrOrderUnavailable
	}
	return page, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter AdminOrderFilter) (domain.CursorPage[Order], error) {
	if filter.Pagination.PageSize <= 0 {
		filter.Pagination.PageSize = defaultOrderPageSize
	}

	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		Status:        filter.Status,
		PaymentStatus: filter.PaymentStatus,
		Pagination:    filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, ErrOrderUnavailable
	}
	return page, nil
}

func (s *orderService) GetTracking(ctx context.Context, q OrderQuery) (OrderTracking, error) {
	order, err := s.loadOrder(ctx, q)
	if err != nil {
		return OrderTracking{}, err
	}

	return OrderTracking{
		OrderID:           order.ID,
		OrderNumber:       order.OrderNumber,
		Status:            order.Status,
		TrackingNumber:    order.TrackingNumber,
		EstimatedDelivery: order.EstimatedDelivery,
		ActualDelivery:    order.ActualDelivery,
		Timeline:          order.Timeline,
	}, nil
}

// Cancel aborts a pending or confirmed order, returns its stock, and flags
// paid orders for refund.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	order, err := s.loadOrder(ctx, OrderQuery{OrderID: cmd.OrderID, UserID: cmd.UserID})
	if err != nil {
		return Order{}, err
	}
	if !domain.Cancellable(order.Status) {
		return Order{}, fmt.Errorf("%w: status %s", ErrOrderNotCancellable, order.Status)
	}

	now := s.now()
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &now
	order.UpdatedAt = now
	order.CancellationReason = strings.TrimSpace(cmd.Reason)
	if order.PaymentStatus == domain.PaymentStatusCompleted {
		order.RefundStatus = domain.RefundStatusRequested
	}
	order.Timeline = append(order.Timeline, TrackingEvent{
		Status:     domain.OrderStatusCancelled,
		OccurredAt: now,
		Note:       order.CancellationReason,
	})

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, ErrOrderUnavailable
	}

	if err := s.inventory.Restock(ctx, reservationLinesFromOrder(order.Items)); err != nil {
		s.logger(ctx, "order.cancel.restock_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}

	s.publish(ctx, EventMessage{
		ID:          s.newID(),
		Type:        EventOrderCancelled,
		OccurredAt:  now,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      string(order.Status),
	})

	return order, nil
}

// UpdateStatus moves an order along the fulfilment lifecycle. Shipping
// requires a tracking number. Delivery stamps the actual delivery time and
// settles cash-on-delivery payments.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	order, err := s.loadOrder(ctx, OrderQuery{OrderID: cmd.OrderID})
	if err != nil {
		return Order{}, err
	}
	if order.Status == cmd.Status {
		return order, nil
	}

	next, err := domain.TransitionOrder(order.Status, cmd.Status)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderIllegalTransition, order.Status, cmd.Status)
	}

	now := s.now()
	order.Status = next
	order.UpdatedAt = now

	switch next {
	case domain.OrderStatusShipped:
		tracking := strings.TrimSpace(cmd.TrackingNumber)
		if tracking == "" {
			return Order{}, fmt.Errorf("%w: tracking number is required to ship", ErrOrderInvalidInput)
		}
		order.TrackingNumber = tracking
	case domain.OrderStatusDelivered:
		order.ActualDelivery = &now
		if order.PaymentMethod == domain.PaymentMethodCOD && order.PaymentStatus == domain.PaymentStatusPending {
			order.PaymentStatus = domain.PaymentStatusCompleted
		}
	}

	order.Timeline = append(order.Timeline, TrackingEvent{
		Status:     next,
		OccurredAt: now,
		Note:       strings.TrimSpace(cmd.Note),
	})

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, ErrOrderUnavailable
	}

	s.publish(ctx, EventMessage{
		ID:          s.newID(),
		Type:        EventOrderStatusChanged,
		OccurredAt:  now,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      string(next),
	})

	return order, nil
}

func (s *orderService) loadOrder(ctx context.Context, q OrderQuery) (Order, error) {
	orderID := strings.TrimSpace(q.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, ErrOrderUnavailable
	}
	if user := strings.TrimSpace(q.UserID); user != "" && order.UserID != user {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (s *orderService) loadCheckoutCart(ctx context.Context, userID, sessionID string) (Cart, error) {
	var (
		cart Cart
		err  error
	)
	if sessionID != "" {
		cart, err = s.carts.FindBySession(ctx, sessionID)
	} else {
		cart, err = s.carts.FindByUser(ctx, userID)
	}
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrOrderEmptyCart
		}
		return Cart{}, ErrOrderUnavailable
	}
	return cart, nil
}

func (s *orderService) loadProducts(ctx context.Context, items []CartItem) (map[string]Product, error) {
	ids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}

	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, ErrOrderUnavailable
	}
	for _, id := range ids {
		product, ok := products[id]
		if !ok || !product.Active {
			return nil, fmt.Errorf("%w: product %s is not available", ErrOrderInvalidInput, id)
		}
	}
	return products, nil
}

func (s *orderService) buildOrder(orderID string, cmd CreateOrderCommand, userID string, cart Cart, products map[string]Product) (Order, error) {
	quote, err := s.pricing.Quote(cart.Items, products, cmd.PaymentMethod)
	if err != nil {
		if errors.Is(err, ErrPricingInvalidInput) {
			return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return Order{}, ErrOrderUnavailable
	}

	now := s.now()
	estimated := now.Add(s.deliveryWindow)

	items := make([]OrderItem, 0, len(quote.Lines))
	for _, line := range quote.Lines {
		items = append(items, OrderItem{
			ProductID: line.ProductID,
			Name:      line.Name,
			SKU:       line.SKU,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			ListPrice: line.ListPrice,
			Type:      line.Type,
			Total:     line.LineTotal,
		})
	}

	return Order{
		ID:                orderID,
		UserID:            userID,
		Items:             items,
		Totals:            quote.Totals,
		Currency:          domain.Currency,
		Status:            domain.OrderStatusPending,
		PaymentStatus:     domain.PaymentStatusPending,
		PaymentMethod:     cmd.PaymentMethod,
		ShippingAddress:   cmd.ShippingAddress,
		Notes:             strings.TrimSpace(cmd.Notes),
		RefundStatus:      domain.RefundStatusNone,
		EstimatedDelivery: &estimated,
		CreatedAt:         now,
		UpdatedAt:         now,
		Timeline: []TrackingEvent{{
			Status:     domain.OrderStatusPending,
			OccurredAt: now,
			Note:       "Order placed",
		}},
	}, nil
}

func (s *orderService) verifyCheckoutPayment(cmd CreateOrderCommand) error {
	orderID := strings.TrimSpace(cmd.GatewayOrderID)
	paymentID := strings.TrimSpace(cmd.GatewayPaymentID)
	signature := strings.TrimSpace(cmd.GatewaySignature)
	if orderID == "" || paymentID == "" || signature == "" {
		return fmt.Errorf("%w: gateway references are required for online payment", ErrOrderPaymentRequired)
	}

	err := s.gateways.VerifySignature(domain.PaymentMethodOnline, payments.VerificationRequest{
		GatewayOrderID:   orderID,
		GatewayPaymentID: paymentID,
		Signature:        signature,
	})
	if err != nil {
		if errors.Is(err, payments.ErrSignatureMismatch) {
			return ErrOrderPaymentRequired
		}
		return ErrOrderUnavailable
	}
	return nil
}

// insertWithOrderNumber assigns a fresh order number and inserts the order,
// regenerating on a storage-level uniqueness conflict.
func (s *orderService) insertWithOrderNumber(ctx context.Context, order *Order) error {
	var lastErr error
	for attempt := 0; attempt < orderNumberInsertRetries; attempt++ {
		number, err := s.nextOrderNumber(ctx)
		if err != nil {
			return err
		}
		order.OrderNumber = number

		if err := s.orders.Insert(ctx, *order); err != nil {
			if isRepoConflict(err) {
				lastErr = err
				continue
			}
			return ErrOrderUnavailable
		}
		return nil
	}
	s.logger(ctx, "order.number.exhausted", map[string]any{
		"orderId": order.ID,
		"error":   lastErr.Error(),
	})
	return ErrOrderUnavailable
}

func (s *orderService) nextOrderNumber(ctx context.Context) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounter, 1)
	if err != nil {
		return "", ErrOrderUnavailable
	}
	return fmt.Sprintf("%s%d%04d", orderNumberPrefix, s.now().UnixMilli(), seq%10000), nil
}

func (s *orderService) releaseReservation(ctx context.Context, reservationID, reason string) {
	if err := s.inventory.Release(ctx, reservationID, reason); err != nil {
		s.logger(ctx, "order.reservation.release_failed", map[string]any{
			"reservationId": reservationID,
			"reason":        reason,
			"error":         err.Error(),
		})
	}
}

func (s *orderService) publish(ctx context.Context, message EventMessage) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishEvent(ctx, message); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"eventType": message.Type,
			"orderId":   message.OrderID,
			"error":     err.Error(),
		})
	}
}

func validateShippingAddress(addr ShippingAddress) error {
	required := map[string]string{
		"name":        addr.Name,
		"line1":       addr.Line1,
		"city":        addr.City,
		"state":       addr.State,
		"postal code": addr.PostalCode,
	}
	for field, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: shipping address %s is required", ErrOrderInvalidInput, field)
		}
	}
	return nil
}

func reservationLines(items []CartItem) []ReservationLine {
	lines := make([]ReservationLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, ReservationLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

func reservationLinesFromOrder(items []OrderItem) []ReservationLine {
	lines := make([]ReservationLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, ReservationLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}
