package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cafeatonce/commerce-api/internal/domain"
)

// Status enumerates the normalised payment states shared across gateways.
type Status string

const (
	// StatusCreated indicates the gateway order exists but no payment has been attempted.
	StatusCreated Status = "created"
	// StatusCaptured indicates the gateway reports the payment as successfully captured.
	StatusCaptured Status = "captured"
	// StatusFailed indicates the gateway reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded.
	StatusRefunded Status = "refunded"
)

var (
	// ErrUnsupportedMethod is returned when the manager cannot locate a gateway for a payment method.
	ErrUnsupportedMethod = errors.New("payments: unsupported payment method")
	// ErrGatewayUnavailable is returned when no gateway credentials are configured for the method.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
	// ErrSignatureMismatch is returned when a payment or webhook signature fails verification.
	ErrSignatureMismatch = errors.New("payments: signature verification failed")
	// ErrOperationNotSupported is returned when a gateway cannot perform the requested operation.
	ErrOperationNotSupported = errors.New("payments: operation not supported")
)

// GatewayLogger defines the logging contract for gateway operations.
type GatewayLogger func(ctx context.Context, event string, fields map[string]any)

// OrderRequest captures the payload required to open a gateway order.
type OrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// GatewayOrder represents the gateway order returned to the client for checkout.
type GatewayOrder struct {
	ID       string
	Amount   int64
	Currency string
	Receipt  string
	KeyID    string
	Raw      map[string]any
}

// VerificationRequest contains the fields checked during payment signature verification.
type VerificationRequest struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// RefundRequest defines a gateway refund attempt.
type RefundRequest struct {
	GatewayPaymentID string
	Amount           int64
	Reason           string
	Notes            map[string]string
}

// RefundResult normalises gateway refund responses for storage.
type RefundResult struct {
	ID     string
	Amount int64
	Status Status
	Raw    map[string]any
}

// PaymentDetails normalises gateway payment lookups for reconciliation.
type PaymentDetails struct {
	ID             string
	GatewayOrderID string
	Status         Status
	Amount         int64
	Currency       string
	Method         string
	Raw            map[string]any
}

// Gateway defines the contract payment gateway adapters implement.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error)
	VerifySignature(req VerificationRequest) error
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	FetchPayment(ctx context.Context, paymentID string) (PaymentDetails, error)
}

// Manager routes gateway operations by payment method.
type Manager struct {
	gateways map[domain.PaymentMethod]Gateway
}

// NewManager constructs a Manager over the supplied gateways.
func NewManager(gateways map[domain.PaymentMethod]Gateway) (*Manager, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	copyMap := make(map[domain.PaymentMethod]Gateway, len(gateways))
	for method, gw := range gateways {
		if !method.Valid() || gw == nil {
			return nil, fmt.Errorf("payments: invalid gateway registration for method %q", method)
		}
		copyMap[method] = gw
	}
	return &Manager{gateways: copyMap}, nil
}

// Gateway returns the gateway registered for the payment method.
func (m *Manager) Gateway(method domain.PaymentMethod) (Gateway, error) {
	if m == nil || len(m.gateways) == 0 {
		return nil, errors.New("payments: manager is not initialised")
	}
	gw, ok := m.gateways[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	return gw, nil
}

// CreateOrder delegates to the gateway registered for the payment method.
func (m *Manager) CreateOrder(ctx context.Context, method domain.PaymentMethod, req OrderRequest) (GatewayOrder, error) {
	gw, err := m.Gateway(method)
	if err != nil {
		return GatewayOrder{}, err
	}
	return gw.CreateOrder(ctx, req)
}

// VerifySignature delegates signature verification to the gateway for the method.
func (m *Manager) VerifySignature(method domain.PaymentMethod, req VerificationRequest) error {
	gw, err := m.Gateway(method)
	if err != nil {
		return err
	}
	return gw.VerifySignature(req)
}

// Refund delegates to the gateway registered for the payment method.
func (m *Manager) Refund(ctx context.Context, method domain.PaymentMethod, req RefundRequest) (RefundResult, error) {
	gw, err := m.Gateway(method)
	if err != nil {
		return RefundResult{}, err
	}
	return gw.Refund(ctx, req)
}

// FetchPayment delegates to the gateway registered for the payment method.
func (m *Manager) FetchPayment(ctx context.Context, method domain.PaymentMethod, paymentID string) (PaymentDetails, error) {
	gw, err := m.Gateway(method)
	if err != nil {
		return PaymentDetails{}, err
	}
	return gw.FetchPayment(ctx, strings.TrimSpace(paymentID))
}
