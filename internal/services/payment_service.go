package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/cafeatonce/commerce-api/internal/domain"
	"github.com/cafeatonce/commerce-api/internal/payments"
	"github.com/cafeatonce/commerce-api/internal/platform/idempotency"
	"github.com/cafeatonce/commerce-api/internal/repositories"
)

var (
	// ErrPaymentInvalidInput indicates the caller supplied invalid input.
	ErrPaymentInvalidInput = errors.New("payment service: invalid input")
	// ErrPaymentNotFound indicates no order matches the gateway references.
	ErrPaymentNotFound = errors.New("payment service: order not found")
	// ErrPaymentSignature indicates signature verification failed.
	ErrPaymentSignature = errors.New("payment service: signature verification failed")
	// ErrPaymentNotRefundable indicates the order's payment cannot be refunded.
	ErrPaymentNotRefundable = errors.New("payment service: payment is not refundable")
	// ErrPaymentUnavailable indicates the gateway or backend cannot serve the request.
	ErrPaymentUnavailable = errors.New("payment service: unavailable")
)

const defaultRefundReason = "Customer request"

// Webhook event names delivered by the gateway.
const (
	webhookEventPaymentCaptured = "payment.captured"
	webhookEventPaymentFailed   = "payment.failed"
	webhookEventRefundProcessed = "refund.processed"
)

// PaymentServiceDeps wires the gateway manager, order repository and webhook dedupe store.
type PaymentServiceDeps struct {
	Orders          repositories.OrderRepository
	Gateways        *payments.Manager
	ProcessedEvents idempotency.Store
	Events          EventPublisher
	KeyID           string
	WebhookSecret   string
	EventTTL        time.Duration
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(context.Context, string, map[string]any)
}

type paymentService struct {
	orders        repositories.OrderRepository
	gateways      *payments.Manager
	processed     idempotency.Store
	events        EventPublisher
	keyID         string
	webhookSecret string
	eventTTL      time.Duration
	now           func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewPaymentService constructs a PaymentService enforcing dependency validation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("payment service: gateway manager is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("payment service: clock is required")
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	ttl := deps.EventTTL
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		orders:        deps.Orders,
		gateways:      deps.Gateways,
		processed:     deps.ProcessedEvents,
		events:        deps.Events,
		keyID:         strings.TrimSpace(deps.KeyID),
		webhookSecret: strings.TrimSpace(deps.WebhookSecret),
		eventTTL:      ttl,
		now:           func() time.Time { return deps.Clock().UTC() },
		newID:         idGen,
		logger:        logger,
	}, nil
}

// CheckoutKeyID returns the public gateway key the client embeds in checkout.
func (s *paymentService) CheckoutKeyID() string {
	return s.keyID
}

// CreateGatewayOrder opens a gateway order for the amount in paise.
func (s *paymentService) CreateGatewayOrder(ctx context.Context, cmd CreateGatewayOrderCommand) (GatewayOrderView, error) {
	if cmd.Amount <= 0 {
		return GatewayOrderView{}, fmt.Errorf("%w: amount must be positive", ErrPaymentInvalidInput)
	}
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = domain.Currency
	}

	order, err := s.gateways.CreateOrder(ctx, domain.PaymentMethodOnline, payments.OrderRequest{
		Amount:   cmd.Amount,
		Currency: currency,
		Receipt:  strings.TrimSpace(cmd.Receipt),
		Notes:    cmd.Notes,
	})
	if err != nil {
		if errors.Is(err, payments.ErrGatewayUnavailable) || errors.Is(err, payments.ErrUnsupportedMethod) {
			return GatewayOrderView{}, ErrPaymentUnavailable
		}
		return GatewayOrderView{}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
	}

	return GatewayOrderView{
		GatewayOrderID: order.ID,
		Amount:         order.Amount,
		Currency:       order.Currency,
		KeyID:          order.KeyID,
	}, nil
}

// VerifyPayment confirms a checkout callback signature and settles the
// matching order. Replaying a verified payment is a no-op success.
func (s *paymentService) VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.GatewayOrderID)
	paymentID := strings.TrimSpace(cmd.GatewayPaymentID)
	if orderID == "" || paymentID == "" {
		return Order{}, fmt.Errorf("%w: gateway order and payment ids are required", ErrPaymentInvalidInput)
	}

	err := s.gateways.VerifySignature(domain.PaymentMethodOnline, payments.VerificationRequest{
		GatewayOrderID:   orderID,
		GatewayPaymentID: paymentID,
		Signature:        cmd.Signature,
	})
	if err != nil {
		if errors.Is(err, payments.ErrSignatureMismatch) {
			return Order{}, ErrPaymentSignature
		}
		return Order{}, ErrPaymentUnavailable
	}

	order, err := s.orders.FindByGatewayOrderID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrPaymentNotFound
		}
		return Order{}, ErrPaymentUnavailable
	}
	if user := strings.TrimSpace(cmd.UserID); user != "" && order.UserID != user {
		return Order{}, ErrPaymentNotFound
	}

	updated, changed, err := s.settlePayment(order, paymentID)
	if err != nil {
		return Order{}, err
	}
	if !changed {
		return updated, nil
	}

	if err := s.orders.Update(ctx, updated); err != nil {
		return Order{}, ErrPaymentUnavailable
	}
	s.publish(ctx, EventMessage{
		ID:          s.newID(),
		Type:        EventPaymentCompleted,
		OccurredAt:  s.now(),
		OrderID:     updated.ID,
		OrderNumber: updated.OrderNumber,
		UserID:      updated.UserID,
		Amount:      updated.Totals.Total,
	})
	return updated, nil
}

// Refund refunds a captured payment through the gateway, fully unless a
// partial amount is given.
func (s *paymentService) Refund(ctx context.Context, cmd RefundOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrPaymentNotFound
		}
		return Order{}, ErrPaymentUnavailable
	}
	if order.PaymentStatus != domain.PaymentStatusCompleted {
		return Order{}, fmt.Errorf("%w: payment status is %s", ErrPaymentNotRefundable, order.PaymentStatus)
	}
	if order.PaymentMethod != domain.PaymentMethodOnline || order.Gateway.PaymentID == "" {
		return Order{}, fmt.Errorf("%w: no gateway payment to refund", ErrPaymentNotRefundable)
	}

	amount := cmd.Amount
	if amount <= 0 {
		amount = order.Totals.Total
	}
	if amount > order.Totals.Total {
		return Order{}, fmt.Errorf("%w: refund exceeds order total", ErrPaymentInvalidInput)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = defaultRefundReason
	}

	result, err := s.gateways.Refund(ctx, order.PaymentMethod, payments.RefundRequest{
		GatewayPaymentID: order.Gateway.PaymentID,
		Amount:           amount,
		Reason:           reason,
		Notes:            map[string]string{"orderId": order.ID},
	})
	if err != nil {
		return Order{}, ErrPaymentUnavailable
	}

	now := s.now()
	next, err := domain.TransitionPayment(order.PaymentStatus, domain.PaymentStatusRefunded)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrPaymentNotRefundable, err)
	}
	order.PaymentStatus = next
	order.RefundStatus = domain.RefundStatusProcessing
	order.RefundAmount = amount
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, ErrPaymentUnavailable
	}

	s.logger(ctx, "payment.refund.created", map[string]any{
		"orderId":  order.ID,
		"refundId": result.ID,
		"amount":   amount,
	})
	return order, nil
}

// ProcessWebhook verifies, deduplicates, and applies a gateway webhook.
// Signature verification runs over the raw body before any parsing; unknown
// events and events for unknown orders succeed without effect so the gateway
// does not retry them.
func (s *paymentService) ProcessWebhook(ctx context.Context, cmd WebhookCommand) error {
	if len(cmd.Body) == 0 {
		return fmt.Errorf("%w: empty webhook body", ErrPaymentInvalidInput)
	}
	if s.webhookSecret == "" {
		return ErrPaymentUnavailable
	}
	if err := payments.VerifyWebhookSignature(s.webhookSecret, cmd.Body, cmd.Signature); err != nil {
		return ErrPaymentSignature
	}

	var event webhookEvent
	if err := json.Unmarshal(cmd.Body, &event); err != nil {
		return fmt.Errorf("%w: malformed webhook body", ErrPaymentInvalidInput)
	}

	eventID := strings.TrimSpace(cmd.EventID)
	if eventID == "" {
		sum := sha256.Sum256(cmd.Body)
		eventID = hex.EncodeToString(sum[:])
	}

	if s.processed != nil {
		reservation, err := s.processed.Reserve(ctx, eventID, "razorpay", s.now(), s.eventTTL)
		if err != nil {
			return ErrPaymentUnavailable
		}
		if reservation.State != idempotency.ReservationStateNew {
			s.logger(ctx, "payment.webhook.duplicate", map[string]any{
				"eventId":   eventID,
				"eventType": event.Event,
			})
			return nil
		}
	}

	if err := s.applyWebhookEvent(ctx, event); err != nil {
		if s.processed != nil {
			if releaseErr := s.processed.Release(ctx, eventID); releaseErr != nil {
				s.logger(ctx, "payment.webhook.release_failed", map[string]any{
					"eventId": eventID,
					"error":   releaseErr.Error(),
				})
			}
		}
		return err
	}

	if s.processed != nil {
		if err := s.processed.Complete(ctx, eventID, s.now(), s.eventTTL); err != nil {
			s.logger(ctx, "payment.webhook.complete_failed", map[string]any{
				"eventId": eventID,
				"error":   err.Error(),
			})
		}
	}
	return nil
}

type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Amount  int64  `json:"amount"`
			} `json:"entity"`
		} `json:"payment"`
		Refund struct {
			Entity struct {
				ID        string `json:"id"`
				PaymentID string `json:"payment_id"`
				Amount    int64  `json:"amount"`
			} `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

func (s *paymentService) applyWebhookEvent(ctx context.Context, event webhookEvent) error {
	switch event.Event {
	case webhookEventPaymentCaptured:
		return s.handlePaymentCaptured(ctx, event)
	case webhookEventPaymentFailed:
		return s.handlePaymentFailed(ctx, event)
	case webhookEventRefundProcessed:
		return s.handleRefundProcessed(ctx, event)
	default:
		s.logger(ctx, "payment.webhook.ignored", map[string]any{"eventType": event.Event})
		return nil
	}
}

func (s *paymentService) handlePaymentCaptured(ctx context.Context, event webhookEvent) error {
	entity := event.Payload.Payment.Entity
	order, ok, err := s.findWebhookOrder(ctx, entity.OrderID, event.Event)
	if err != nil || !ok {
		return err
	}

	updated, changed, err := s.settlePayment(order, entity.ID)
	if err != nil {
		// A capture contradicting a terminal payment state can never be
		// applied; acknowledging it stops the gateway redelivering it.
		s.logger(ctx, "payment.webhook.stale", map[string]any{
			"orderId":   order.ID,
			"eventType": event.Event,
			"status":    string(order.PaymentStatus),
		})
		return nil
	}
	if !changed {
		return nil
	}
	if err := s.orders.Update(ctx, updated); err != nil {
		return ErrPaymentUnavailable
	}

	s.publish(ctx, EventMessage{
		ID:          s.newID(),
		Type:        EventPaymentCompleted,
		OccurredAt:  s.now(),
		OrderID:     updated.ID,
		OrderNumber: updated.OrderNumber,
		UserID:      updated.UserID,
		Amount:      entity.Amount,
	})
	return nil
}

func (s *paymentService) handlePaymentFailed(ctx context.Context, event webhookEvent) error {
	entity := event.Payload.Payment.Entity
	order, ok, err := s.findWebhookOrder(ctx, entity.OrderID, event.Event)
	if err != nil || !ok {
		return err
	}
	if order.PaymentStatus == domain.PaymentStatusFailed {
		return nil
	}

	next, err := domain.TransitionPayment(order.PaymentStatus, domain.PaymentStatusFailed)
	if err != nil {
		s.logger(ctx, "payment.webhook.stale", map[string]any{
			"orderId":   order.ID,
			"eventType": event.Event,
			"status":    string(order.PaymentStatus),
		})
		return nil
	}

	now := s.now()
	order.PaymentStatus = next
	order.Gateway.PaymentID = entity.ID
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return ErrPaymentUnavailable
	}

	s.publish(ctx, EventMessage{
		ID:          s.newID(),
		Type:        EventPaymentFailed,
		OccurredAt:  now,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Amount:      entity.Amount,
	})
	return nil
}

func (s *paymentService) handleRefundProcessed(ctx context.Context, event webhookEvent) error {
	entity := event.Payload.Refund.Entity
	if entity.PaymentID == "" {
		return nil
	}

	order, err := s.orders.FindByGatewayPaymentID(ctx, entity.PaymentID)
	if err != nil {
		if isRepoNotFound(err) {
			s.logger(ctx, "payment.webhook.order_missing", map[string]any{
				"eventType":        event.Event,
				"gatewayPaymentId": entity.PaymentID,
			})
			return nil
		}
		return ErrPaymentUnavailable
	}

	if order.RefundStatus == domain.RefundStatusCompleted {
		return nil
	}

	now := s.now()
	if order.PaymentStatus == domain.PaymentStatusCompleted {
		if next, err := domain.TransitionPayment(order.PaymentStatus, domain.PaymentStatusRefunded); err == nil {
			order.PaymentStatus = next
		}
	}
	order.RefundStatus = domain.RefundStatusCompleted
	if entity.Amount > 0 {
		order.RefundAmount = entity.Amount
	}
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return ErrPaymentUnavailable
	}

	s.publish(ctx, EventMessage{
		ID:          s.newID(),
		Type:        EventRefundProcessed,
		OccurredAt:  now,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Amount:      order.RefundAmount,
	})
	return nil
}

func (s *paymentService) findWebhookOrder(ctx context.Context, gatewayOrderID, eventType string) (Order, bool, error) {
	id := strings.TrimSpace(gatewayOrderID)
	if id == "" {
		return Order{}, false, nil
	}
	order, err := s.orders.FindByGatewayOrderID(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			s.logger(ctx, "payment.webhook.order_missing", map[string]any{
				"eventType":      eventType,
				"gatewayOrderId": id,
			})
			return Order{}, false, nil
		}
		return Order{}, false, ErrPaymentUnavailable
	}
	return order, true, nil
}

// settlePayment marks the order's payment as completed. It reports
// changed=false when the payment was already settled so replays converge
// without a write.
func (s *paymentService) settlePayment(order Order, gatewayPaymentID string) (Order, bool, error) {
	if order.PaymentStatus == domain.PaymentStatusCompleted {
		return order, false, nil
	}

	next, err := domain.TransitionPayment(order.PaymentStatus, domain.PaymentStatusCompleted)
	if err != nil {
		return Order{}, false, fmt.Errorf("%w: payment status is %s", ErrPaymentInvalidInput, order.PaymentStatus)
	}

	now := s.now()
	order.PaymentStatus = next
	order.Gateway.PaymentID = strings.TrimSpace(gatewayPaymentID)
	order.UpdatedAt = now
	if order.Status == domain.OrderStatusPending {
		if nextStatus, err := domain.TransitionOrder(order.Status, domain.OrderStatusConfirmed); err == nil {
			order.Status = nextStatus
			order.Timeline = append(order.Timeline, TrackingEvent{
				Status:     nextStatus,
				OccurredAt: now,
				Note:       "Payment received",
			})
		}
	}
	return order, true, nil
}

func (s *paymentService) publish(ctx context.Context, message EventMessage) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishEvent(ctx, message); err != nil {
		s.logger(ctx, "payment.event.publish_failed", map[string]any{
			"eventType": message.Type,
			"orderId":   message.OrderID,
			"error":     err.Error(),
		})
	}
}
