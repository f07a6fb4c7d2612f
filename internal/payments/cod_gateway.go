package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CODGateway implements the Gateway interface for cash-on-delivery orders.
// No money moves at checkout, so orders are acknowledged locally and
// signature verification always passes.
type CODGateway struct {
	clock func() time.Time
}

// NewCODGateway constructs a cash-on-delivery gateway.
func NewCODGateway(clock func() time.Time) *CODGateway {
	if clock == nil {
		clock = time.Now
	}
	return &CODGateway{clock: clock}
}

// CreateOrder acknowledges the order locally without contacting a payment provider.
func (g *CODGateway) CreateOrder(_ context.Context, req OrderRequest) (GatewayOrder, error) {
	if req.Amount <= 0 {
		return GatewayOrder{}, errors.New("cod: order amount must be positive")
	}
	receipt := strings.TrimSpace(req.Receipt)
	if receipt == "" {
		receipt = fmt.Sprintf("%d", g.clock().UTC().UnixMilli())
	}
	return GatewayOrder{
		ID:       "cod_" + receipt,
		Amount:   req.Amount,
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
		Receipt:  receipt,
	}, nil
}

// VerifySignature is a no-op because cash-on-delivery has no gateway callback.
func (g *CODGateway) VerifySignature(VerificationRequest) error {
	return nil
}

// Refund is not supported; cash refunds are settled outside the gateway.
func (g *CODGateway) Refund(context.Context, RefundRequest) (RefundResult, error) {
	return RefundResult{}, fmt.Errorf("%w: cod refunds are settled offline", ErrOperationNotSupported)
}

// FetchPayment is not supported; no payment record exists at a provider.
func (g *CODGateway) FetchPayment(context.Context, string) (PaymentDetails, error) {
	return PaymentDetails{}, fmt.Errorf("%w: cod payments have no provider record", ErrOperationNotSupported)
}
