package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
	"golang.org/x/text/currency"
)

type razorpayOrderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type razorpayPaymentAPI interface {
	Fetch(paymentID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Refund(paymentID string, amount int, data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type razorpayClients struct {
	orders   razorpayOrderAPI
	payments razorpayPaymentAPI
}

// RazorpayGatewayConfig configures the RazorpayGateway.
type RazorpayGatewayConfig struct {
	KeyID     string
	KeySecret string
	Logger    GatewayLogger
	Clock     func() time.Time
	Clients   *razorpayClients
}

// RazorpayGateway implements the Gateway interface against the Razorpay REST API.
type RazorpayGateway struct {
	api    razorpayClients
	keyID  string
	secret string
	clock  func() time.Time
	logger GatewayLogger
}

// NewRazorpayGateway constructs a Razorpay Gateway using the given configuration.
func NewRazorpayGateway(cfg RazorpayGatewayConfig) (*RazorpayGateway, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	secret := strings.TrimSpace(cfg.KeySecret)
	if secret == "" {
		return nil, errors.New("razorpay: key secret is required")
	}

	var clients razorpayClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		if keyID == "" {
			return nil, errors.New("razorpay: key id is required")
		}
		rc := razorpay.NewClient(keyID, secret)
		clients = razorpayClients{
			orders:   rc.Order,
			payments: rc.Payment,
		}
	}
	if clients.orders == nil || clients.payments == nil {
		return nil, errors.New("razorpay: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &RazorpayGateway{
		api:    clients,
		keyID:  keyID,
		secret: secret,
		clock:  clock,
		logger: logger,
	}, nil
}

// CreateOrder opens a gateway order for the supplied amount in minor units.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error) {
	if req.Amount <= 0 {
		return GatewayOrder{}, errors.New("razorpay: order amount must be positive")
	}
	code, err := normalizeCurrency(req.Currency)
	if err != nil {
		return GatewayOrder{}, err
	}

	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": code,
	}
	if receipt := strings.TrimSpace(req.Receipt); receipt != "" {
		data["receipt"] = receipt
	}
	if len(req.Notes) > 0 {
		notes := make(map[string]interface{}, len(req.Notes))
		for k, v := range req.Notes {
			notes[k] = v
		}
		data["notes"] = notes
	}

	body, err := g.api.orders.Create(data, nil)
	if err != nil {
		g.logger(ctx, "razorpay.order.create.failed", map[string]any{"error": err.Error()})
		return GatewayOrder{}, fmt.Errorf("razorpay: create order: %w", err)
	}

	order := GatewayOrder{
		ID:       stringField(body, "id"),
		Amount:   int64Field(body, "amount"),
		Currency: code,
		Receipt:  stringField(body, "receipt"),
		KeyID:    g.keyID,
		Raw:      body,
	}
	if order.ID == "" {
		return GatewayOrder{}, errors.New("razorpay: order response missing id")
	}
	g.logger(ctx, "razorpay.order.created", map[string]any{
		"gateway_order_id": order.ID,
		"amount":           order.Amount,
	})
	return order, nil
}

// VerifySignature checks the checkout callback signature for the gateway order and payment pair.
func (g *RazorpayGateway) VerifySignature(req VerificationRequest) error {
	orderID := strings.TrimSpace(req.GatewayOrderID)
	paymentID := strings.TrimSpace(req.GatewayPaymentID)
	if orderID == "" || paymentID == "" {
		return fmt.Errorf("%w: missing order or payment id", ErrSignatureMismatch)
	}
	return VerifyPaymentSignature(g.secret, orderID, paymentID, req.Signature)
}

// Refund issues a refund for the captured payment, in minor units.
func (g *RazorpayGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	paymentID := strings.TrimSpace(req.GatewayPaymentID)
	if paymentID == "" {
		return RefundResult{}, errors.New("razorpay: payment id is required")
	}
	if req.Amount <= 0 {
		return RefundResult{}, errors.New("razorpay: refund amount must be positive")
	}

	data := map[string]interface{}{}
	notes := make(map[string]interface{}, len(req.Notes)+1)
	for k, v := range req.Notes {
		notes[k] = v
	}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		notes["reason"] = reason
	}
	if len(notes) > 0 {
		data["notes"] = notes
	}

	body, err := g.api.payments.Refund(paymentID, int(req.Amount), data, nil)
	if err != nil {
		g.logger(ctx, "razorpay.refund.failed", map[string]any{
			"gateway_payment_id": paymentID,
			"error":              err.Error(),
		})
		return RefundResult{}, fmt.Errorf("razorpay: refund payment: %w", err)
	}

	result := RefundResult{
		ID:     stringField(body, "id"),
		Amount: int64Field(body, "amount"),
		Status: refundStatus(stringField(body, "status")),
		Raw:    body,
	}
	g.logger(ctx, "razorpay.refund.created", map[string]any{
		"gateway_payment_id": paymentID,
		"refund_id":          result.ID,
		"amount":             result.Amount,
	})
	return result, nil
}

// FetchPayment looks up the payment details for reconciliation.
func (g *RazorpayGateway) FetchPayment(ctx context.Context, paymentID string) (PaymentDetails, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return PaymentDetails{}, errors.New("razorpay: payment id is required")
	}

	body, err := g.api.payments.Fetch(paymentID, nil, nil)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("razorpay: fetch payment: %w", err)
	}

	return PaymentDetails{
		ID:             stringField(body, "id"),
		GatewayOrderID: stringField(body, "order_id"),
		Status:         paymentStatus(stringField(body, "status")),
		Amount:         int64Field(body, "amount"),
		Currency:       stringField(body, "currency"),
		Method:         stringField(body, "method"),
		Raw:            body,
	}, nil
}

func normalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", errors.New("razorpay: currency is required")
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("razorpay: invalid currency %q: %w", code, err)
	}
	return unit.String(), nil
}

func paymentStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "captured":
		return StatusCaptured
	case "failed":
		return StatusFailed
	case "refunded":
		return StatusRefunded
	default:
		return StatusCreated
	}
}

func refundStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "processed":
		return StatusRefunded
	case "failed":
		return StatusFailed
	default:
		return StatusCreated
	}
}

func stringField(body map[string]interface{}, key string) string {
	if body == nil {
		return ""
	}
	if v, ok := body[key].(string); ok {
		return v
	}
	return ""
}

func int64Field(body map[string]interface{}, key string) int64 {
	if body == nil {
		return 0
	}
	switch v := body[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
