package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/cafeatonce/commerce-api/internal/di"
	"github.com/cafeatonce/commerce-api/internal/handlers"
	"github.com/cafeatonce/commerce-api/internal/platform/auth"
	"github.com/cafeatonce/commerce-api/internal/platform/config"
	pfirestore "github.com/cafeatonce/commerce-api/internal/platform/firestore"
	"github.com/cafeatonce/commerce-api/internal/platform/idempotency"
	"github.com/cafeatonce/commerce-api/internal/platform/jobs"
	"github.com/cafeatonce/commerce-api/internal/platform/observability"
	"github.com/cafeatonce/commerce-api/internal/platform/secrets"
	firestoreRepo "github.com/cafeatonce/commerce-api/internal/repositories/firestore"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	containerOpts := []di.Option{
		di.WithLogger(logger),
		di.WithIdempotencyStore(idempotency.NewFirestoreStore(firestoreClient)),
	}

	if cfg.PubSub.ProjectID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer pubsubClient.Close()

		publisher, err := jobs.NewPubSubEventPublisher(pubsubClient.Topic(cfg.PubSub.EventsTopic))
		if err != nil {
			logger.Fatal("failed to initialise event publisher", zap.Error(err))
		}
		containerOpts = append(containerOpts, di.WithEventPublisher(publisher))
	} else {
		logger.Warn("pubsub project not configured; domain events are disabled")
	}

	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		logger.Fatal("failed to build service container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	verifier, err := auth.NewJWTVerifier(cfg.Security.JWTSecret)
	if err != nil {
		logger.Fatal("failed to initialise token verifier", zap.Error(err))
	}
	requireAuth := auth.Middleware(verifier, true)
	optionalAuth := auth.Middleware(verifier, false)

	healthHandlers := handlers.NewHealthHandlers(firestoreReadiness(firestoreClient))
	catalogHandlers := handlers.NewCatalogHandlers(container.Services.Catalog)
	cartHandlers := handlers.NewCartHandlers(optionalAuth, container.Services.Cart)
	orderHandlers := handlers.NewOrderHandlers(requireAuth, container.Services.Orders)
	paymentHandlers := handlers.NewPaymentHandlers(requireAuth, container.Services.Payments)
	subscriptionHandlers := handlers.NewSubscriptionHandlers(requireAuth, container.Services.Subscriptions)
	adminHandlers := handlers.NewAdminOrderHandlers(requireAuth, container.Services.Orders, container.Services.Payments)
	jobHandlers := handlers.NewInternalJobHandlers(
		container.Services.Inventory,
		container.Services.Cart,
		container.Services.Subscriptions,
		observability.ServiceLogger(logger.Named("jobs")),
	)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	if strings.TrimSpace(cfg.Security.JobToken) == "" {
		logger.Warn("job token not configured; internal endpoints will reject all requests")
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCatalogRoutes(catalogHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithSubscriptionRoutes(subscriptionHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithInternalRoutes(jobHandlers.Routes),
		handlers.WithInternalMiddlewares(handlers.RequireJobToken(cfg.Security.JobToken)),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("commerce api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// firestoreReadiness reports whether the Firestore backend is reachable. A
// collection listing doubles as a cheap liveness probe against the emulator
// and production alike.
func firestoreReadiness(client *firestore.Client) func(*http.Request) error {
	if client == nil {
		return func(*http.Request) error {
			return errors.New("firestore client not initialised")
		}
	}
	return func(r *http.Request) error {
		probeCtx, cancel := context.WithTimeout(r.Context(), 1500*time.Millisecond)
		defer cancel()
		iter := client.Collections(probeCtx)
		if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
			return err
		}
		return nil
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
	}
	project := strings.TrimSpace(os.Getenv("API_SECRET_PROJECT_ID"))
	if project == "" {
		project = strings.TrimSpace(os.Getenv("API_FIRESTORE_PROJECT_ID"))
	}
	if project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	return secrets.NewFetcher(ctx, opts...)
}
