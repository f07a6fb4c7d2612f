package services

import (
	"errors"
	"fmt"

	domain "github.com/cafeatonce/commerce-api/internal/domain"
)

var (
	// ErrPricingInvalidInput signals bad pricing data such as unknown products or non-positive quantities.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
)

const (
	defaultSubscriptionDiscountBps = 1500
	defaultTaxRateBps              = 1800
	defaultFreeShippingThreshold   = 100000
	defaultCODShippingFee          = 7500
	defaultOnlineShippingFee       = 5000
)

// PricingEngine computes cart and order totals in paise. Subscription lines
// are discounted off the list price, GST applies to the discounted subtotal,
// and shipping depends on the payment method below the free-shipping
// threshold. The invariant Total = Subtotal + Tax + Shipping holds exactly;
// Discount is informational and already reflected in Subtotal.
type PricingEngine struct {
	subscriptionDiscountBps int64
	taxRateBps              int64
	freeShippingThreshold   int64
	codShippingFee          int64
	onlineShippingFee       int64
}

// PricingEngineDeps overrides the engine's rate table. Zero values keep the defaults.
type PricingEngineDeps struct {
	SubscriptionDiscountBps int64
	TaxRateBps              int64
	FreeShippingThreshold   int64
	CODShippingFee          int64
	OnlineShippingFee       int64
}

// NewPricingEngine constructs a PricingEngine with the default rate table
// unless overridden.
func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	engine := &PricingEngine{
		subscriptionDiscountBps: defaultSubscriptionDiscountBps,
		taxRateBps:              defaultTaxRateBps,
		freeShippingThreshold:   defaultFreeShippingThreshold,
		codShippingFee:          defaultCODShippingFee,
		onlineShippingFee:       defaultOnlineShippingFee,
	}
	if deps.SubscriptionDiscountBps != 0 {
		if deps.SubscriptionDiscountBps < 0 || deps.SubscriptionDiscountBps > 10000 {
			return nil, errors.New("pricing engine: subscription discount out of range")
		}
		engine.subscriptionDiscountBps = deps.SubscriptionDiscountBps
	}
	if deps.TaxRateBps != 0 {
		if deps.TaxRateBps < 0 {
			return nil, errors.New("pricing engine: tax rate out of range")
		}
		engine.taxRateBps = deps.TaxRateBps
	}
	if deps.FreeShippingThreshold > 0 {
		engine.freeShippingThreshold = deps.FreeShippingThreshold
	}
	if deps.CODShippingFee > 0 {
		engine.codShippingFee = deps.CODShippingFee
	}
	if deps.OnlineShippingFee > 0 {
		engine.onlineShippingFee = deps.OnlineShippingFee
	}
	return engine, nil
}

// Quote is the priced form of a set of cart lines for a given payment method.
type Quote struct {
	Lines  []PricedCartLine
	Totals Totals
}

// UnitPrice returns the effective per-unit price for a purchase type.
func (e *PricingEngine) UnitPrice(listPrice int64, purchaseType PurchaseType) int64 {
	if purchaseType == domain.PurchaseSubscription {
		return listPrice - domain.PercentOf(listPrice, e.subscriptionDiscountBps)
	}
	return listPrice
}

// SubscriptionUnitPrice applies the default subscription discount to a list
// price. Display only; checkout pricing always goes through an engine.
func SubscriptionUnitPrice(listPrice int64) int64 {
	return listPrice - domain.PercentOf(listPrice, defaultSubscriptionDiscountBps)
}

// PriceLines joins cart lines with catalog prices and computes the subtotal
// and the subscription discount already baked into it.
func (e *PricingEngine) PriceLines(items []CartItem, products map[string]Product) ([]PricedCartLine, int64, int64, error) {
	if len(items) == 0 {
		return nil, 0, 0, nil
	}

	lines := make([]PricedCartLine, 0, len(items))
	var subtotal, discount int64
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, 0, 0, fmt.Errorf("%w: quantity must be positive for product %s", ErrPricingInvalidInput, item.ProductID)
		}
		if !item.Type.Valid() {
			return nil, 0, 0, fmt.Errorf("%w: unknown purchase type %q", ErrPricingInvalidInput, item.Type)
		}
		product, ok := products[item.ProductID]
		if !ok {
			return nil, 0, 0, fmt.Errorf("%w: product %s not found", ErrPricingInvalidInput, item.ProductID)
		}
		if product.Price < 0 {
			return nil, 0, 0, fmt.Errorf("%w: product %s has a negative price", ErrPricingInvalidInput, item.ProductID)
		}

		unitPrice := e.UnitPrice(product.Price, item.Type)
		lineTotal, ok := domain.MulQuantity(unitPrice, item.Quantity)
		if !ok {
			return nil, 0, 0, fmt.Errorf("%w: line total overflow for product %s", ErrPricingInvalidInput, item.ProductID)
		}
		lineDiscount, ok := domain.MulQuantity(product.Price-unitPrice, item.Quantity)
		if !ok {
			return nil, 0, 0, fmt.Errorf("%w: line discount overflow for product %s", ErrPricingInvalidInput, item.ProductID)
		}

		lines = append(lines, PricedCartLine{
			ProductID: product.ID,
			Name:      product.Name,
			SKU:       product.SKU,
			Quantity:  item.Quantity,
			Type:      item.Type,
			ListPrice: product.Price,
			UnitPrice: unitPrice,
			LineTotal: lineTotal,
		})
		subtotal += lineTotal
		discount += lineDiscount
	}

	return lines, subtotal, discount, nil
}

// ShippingFee returns the shipping charge for a subtotal and payment method.
func (e *PricingEngine) ShippingFee(subtotal int64, method PaymentMethod) int64 {
	if subtotal >= e.freeShippingThreshold {
		return 0
	}
	if method == domain.PaymentMethodCOD {
		return e.codShippingFee
	}
	return e.onlineShippingFee
}

// Quote prices the cart lines for the payment method.
func (e *PricingEngine) Quote(items []CartItem, products map[string]Product, method PaymentMethod) (Quote, error) {
	if !method.Valid() {
		return Quote{}, fmt.Errorf("%w: unknown payment method %q", ErrPricingInvalidInput, method)
	}
	lines, subtotal, discount, err := e.PriceLines(items, products)
	if err != nil {
		return Quote{}, err
	}
	if len(lines) == 0 {
		return Quote{}, fmt.Errorf("%w: no items to price", ErrPricingInvalidInput)
	}

	tax := domain.PercentOf(subtotal, e.taxRateBps)
	shipping := e.ShippingFee(subtotal, method)

	return Quote{
		Lines: lines,
		Totals: Totals{
			Subtotal: subtotal,
			Discount: discount,
			Tax:      tax,
			Shipping: shipping,
			Total:    subtotal + tax + shipping,
		},
	}, nil
}
