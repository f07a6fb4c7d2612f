package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cafeatonce/commerce-api/internal/domain"
	"github.com/cafeatonce/commerce-api/internal/payments"
	"github.com/cafeatonce/commerce-api/internal/platform/config"
	"github.com/cafeatonce/commerce-api/internal/platform/idempotency"
	"github.com/cafeatonce/commerce-api/internal/platform/observability"
	"github.com/cafeatonce/commerce-api/internal/repositories"
	"github.com/cafeatonce/commerce-api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog       services.CatalogService
	Cart          services.CartService
	Inventory     services.InventoryService
	Orders        services.OrderService
	Payments      services.PaymentService
	Subscriptions services.SubscriptionService
}

// Container wires repositories, services, and gateway infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

type containerDeps struct {
	events    services.EventPublisher
	processed idempotency.Store
	logger    *zap.Logger
}

// Option customises optional container dependencies.
type Option func(*containerDeps)

// WithEventPublisher supplies the publisher used for domain events. Services
// skip event emission when no publisher is configured.
func WithEventPublisher(pub services.EventPublisher) Option {
	return func(d *containerDeps) {
		d.events = pub
	}
}

// WithIdempotencyStore supplies the store tracking processed webhook events.
// Defaults to an in-memory store suitable for a single replica.
func WithIdempotencyStore(store idempotency.Store) Option {
	return func(d *containerDeps) {
		d.processed = store
	}
}

// WithLogger supplies the logger propagated to services and gateways.
func WithLogger(logger *zap.Logger) Option {
	return func(d *containerDeps) {
		d.logger = logger
	}
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// the Firestore-backed registry, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	deps := containerDeps{}
	for _, opt := range opts {
		if opt != nil {
			opt(&deps)
		}
	}
	if deps.processed == nil {
		deps.processed = idempotency.NewMemoryStore()
	}

	svc, err := buildServices(ctx, cfg, reg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, reg repositories.Registry, deps containerDeps) (Services, error) {
	var svc Services

	logFn := observability.ServiceLogger(deps.logger)

	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}

	gateways, err := buildGatewayManager(cfg, logFn)
	if err != nil {
		return Services{}, fmt.Errorf("build gateway manager: %w", err)
	}

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products: reg.Products(),
		Logger:   logFn,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:    reg.Carts(),
		Products: reg.Products(),
		Pricing:  pricing,
		Clock:    time.Now,
		GuestTTL: cfg.Checkout.GuestCartTTL,
		Logger:   logFn,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Stock:          reg.Stock(),
		Products:       reg.Products(),
		Events:         deps.events,
		Clock:          time.Now,
		ReservationTTL: cfg.Checkout.ReservationTTL,
		Logger:         logFn,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    reg.Orders(),
		Counters:  reg.Counters(),
		Carts:     reg.Carts(),
		Products:  reg.Products(),
		Inventory: svc.Inventory,
		Pricing:   pricing,
		Gateways:  gateways,
		Events:    deps.events,
		Clock:     time.Now,
		Logger:    logFn,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:          reg.Orders(),
		Gateways:        gateways,
		ProcessedEvents: deps.processed,
		Events:          deps.events,
		KeyID:           cfg.Gateway.KeyID,
		WebhookSecret:   cfg.Gateway.WebhookSecret,
		EventTTL:        cfg.Checkout.WebhookEventTTL,
		Clock:           time.Now,
		Logger:          logFn,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	subscriptionSvc, err := services.NewSubscriptionService(services.SubscriptionServiceDeps{
		Subscriptions: reg.Subscriptions(),
		Products:      reg.Products(),
		Pricing:       pricing,
		Events:        deps.events,
		Clock:         time.Now,
		Logger:        logFn,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build subscription service: %w", err)
	}
	svc.Subscriptions = subscriptionSvc

	return svc, nil
}

// buildGatewayManager assembles the payment gateway routing table. Online
// payments fall back to an unavailable gateway when no credentials are set so
// COD checkout keeps working in development environments.
func buildGatewayManager(cfg config.Config, logFn payments.GatewayLogger) (*payments.Manager, error) {
	var online payments.Gateway
	if cfg.Gateway.Configured() {
		gw, err := payments.NewRazorpayGateway(payments.RazorpayGatewayConfig{
			KeyID:     cfg.Gateway.KeyID,
			KeySecret: cfg.Gateway.KeySecret,
			Logger:    logFn,
			Clock:     time.Now,
		})
		if err != nil {
			return nil, err
		}
		online = gw
	} else {
		online = payments.NewUnavailableGateway("razorpay credentials are not configured")
	}

	return payments.NewManager(map[domain.PaymentMethod]payments.Gateway{
		domain.PaymentMethodOnline: online,
		domain.PaymentMethodCOD:    payments.NewCODGateway(time.Now),
	})
}
