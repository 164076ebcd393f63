package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/bus"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/client"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/discovery"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/events"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/handler"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/repository"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/server"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/service"
	"github.com/cloud-wave-best-zizon/fulfillment-service/pkg/config"
	"github.com/cloud-wave-best-zizon/fulfillment-service/pkg/observability"
	"github.com/cloud-wave-best-zizon/fulfillment-service/pkg/tls"
	"go.uber.org/zap"
)

const inventoryCallTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadFor("order-service", "8081")
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.Setup(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to set up OpenTelemetry:", err)
	}
	defer shutdownOtel(context.Background())

	logger, err := observability.NewLogger(cfg)
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}
	defer logger.Sync()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Order service stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var (
		orders  repository.OrderRepository
		catalog repository.CatalogRepository
	)
	if cfg.LocalMode {
		logger.Info("Running in local mode with in-memory order and catalog stores")
		orders = repository.NewMemoryOrderRepository()
		catalog = repository.NewMemoryCatalogRepository()
	} else {
		db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := repository.Migrate(ctx, db); err != nil {
			return err
		}

		redisClient, err := repository.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		orders = repository.NewPostgresOrderRepository(db)
		catalog = repository.NewCachedCatalogRepository(repository.NewPostgresCatalogRepository(db), redisClient, cfg.RedisTTL, logger)
	}

	tlsSource, err := tls.NewSource(ctx, cfg.TLSEnabled, cfg.SpireSocketPath, logger)
	if err != nil {
		return err
	}
	defer tlsSource.Close()
	go tlsSource.Watch(ctx, 30*time.Second)

	// Consul 이 없으면 설정된 URL 사용
	var (
		resolver discovery.Resolver = discovery.StaticResolver{
			client.InventoryService: cfg.InventoryServiceURL,
			client.PaymentService:   cfg.PaymentServiceURL,
		}.WithScheme(cfg.Scheme())
		consul *discovery.ConsulClient
	)
	if cfg.ConsulAddr != "" {
		consul, err = discovery.NewConsulClient(cfg.ConsulAddr, cfg.Scheme(), resolver, logger)
		if err != nil {
			logger.Warn("Consul unavailable, using static service URLs", zap.Error(err))
			consul = nil
		} else {
			resolver = consul
		}
	}

	inventory := client.NewInventoryClient(resolver, inventoryCallTimeout, tlsSource.ClientConfig())
	payments := client.NewPaymentClient(resolver, cfg.PaymentLookupTimeout, tlsSource.ClientConfig())

	eventBus, err := bus.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eventBus.Close()
	publisher := events.NewPublisher(eventBus, logger)

	projection := service.NewCatalogProjection(catalog, inventory, logger)
	stateMachine := service.NewOrderStateMachine(orders, payments, publisher, logger, service.OrderStateMachineOptions{
		LookupTimeout: cfg.PaymentLookupTimeout,
		Fallback:      cfg.PaymentLookupFallback,
	})
	orderService := service.NewOrderService(orders, projection, inventory, publisher, logger)

	group := cfg.Group()
	listeners := []func() error{
		func() error { return events.Listen(ctx, eventBus, group, logger, projection.OnCreated) },
		func() error { return events.Listen(ctx, eventBus, group, logger, projection.OnUpdated) },
		func() error { return events.Listen(ctx, eventBus, group, logger, projection.OnDeleted) },
		func() error { return events.Listen(ctx, eventBus, group, logger, stateMachine.OnPaymentCreated) },
		func() error { return events.Listen(ctx, eventBus, group, logger, stateMachine.OnExpirationComplete) },
	}
	for _, listen := range listeners {
		if err := listen(); err != nil {
			return err
		}
	}

	router := server.NewRouter(cfg, logger)
	handler.NewOrderHandler(orderService, logger).RegisterRoutes(router.Group("/api/v1"))

	return server.Run(ctx, cfg, router, tlsSource.ServerConfig(), consul, logger)
}
