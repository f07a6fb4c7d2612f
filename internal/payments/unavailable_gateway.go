package payments

import (
	"context"
	"fmt"
	"strings"
)

// UnavailableGateway stands in for a gateway whose credentials are not configured.
// Every operation fails with ErrGatewayUnavailable so callers surface a clear error
// instead of a nil dereference.
type UnavailableGateway struct {
	reason string
}

// NewUnavailableGateway constructs a placeholder gateway with an optional reason.
func NewUnavailableGateway(reason string) *UnavailableGateway {
	return &UnavailableGateway{reason: strings.TrimSpace(reason)}
}

func (g *UnavailableGateway) err() error {
	if g != nil && g.reason != "" {
		return fmt.Errorf("%w: %s", ErrGatewayUnavailable, g.reason)
	}
	return ErrGatewayUnavailable
}

// CreateOrder implements the Gateway interface.
func (g *UnavailableGateway) CreateOrder(context.Context, OrderRequest) (GatewayOrder, error) {
	return GatewayOrder{}, g.err()
}

// VerifySignature implements the Gateway interface.
func (g *UnavailableGateway) VerifySignature(VerificationRequest) error {
	return g.err()
}

// Refund implements the Gateway interface.
func (g *UnavailableGateway) Refund(context.Context, RefundRequest) (RefundResult, error) {
	return RefundResult{}, g.err()
}

// FetchPayment implements the Gateway interface.
func (g *UnavailableGateway) FetchPayment(context.Context, string) (PaymentDetails, error) {
	return PaymentDetails{}, g.err()
}
