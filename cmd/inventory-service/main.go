package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/bus"
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

func main() {
	// Config 로드
	cfg, err := config.LoadFor("inventory-service", "8080")
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

	// Logger 초기화
	logger, err := observability.NewLogger(cfg)
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}
	defer logger.Sync()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Inventory service stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// DynamoDB 또는 로컬 메모리 저장소
	var repo repository.InventoryRepository
	if cfg.LocalMode {
		logger.Info("Running in local mode with in-memory inventory store")
		repo = repository.NewMemoryInventoryRepository()
	} else {
		dynamoClient, err := repository.NewDynamoDBClient(ctx, cfg)
		if err != nil {
			return err
		}
		repo = repository.NewDynamoInventoryRepository(dynamoClient, cfg.ProductTableName)
	}

	eventBus, err := bus.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eventBus.Close()

	publisher := events.NewPublisher(eventBus, logger)
	ledger := service.NewInventoryLedger(repo, service.NewProductEvents(publisher), logger, service.LedgerOptions{
		ReservationTTL: cfg.ReservationTTL,
		MaxAttempts:    cfg.ReserveMaxAttempts,
	})
	coordinator := service.NewReservationCoordinator(ledger, logger)

	// order:updated 로 예약 확정/해제
	settlement := service.NewOrderSettlement(ledger, logger)
	if err := events.Listen(ctx, eventBus, cfg.Group(), logger, settlement.OnOrderUpdated); err != nil {
		return err
	}

	go service.NewSweeper(ledger, cfg.SweepInterval, logger).Run(ctx)

	tlsSource, err := tls.NewSource(ctx, cfg.TLSEnabled, cfg.SpireSocketPath, logger)
	if err != nil {
		return err
	}
	defer tlsSource.Close()
	go tlsSource.Watch(ctx, 30*time.Second)

	var consul *discovery.ConsulClient
	if cfg.ConsulAddr != "" {
		consul, err = discovery.NewConsulClient(cfg.ConsulAddr, cfg.Scheme(), nil, logger)
		if err != nil {
			logger.Warn("Consul unavailable, continuing without registration", zap.Error(err))
			consul = nil
		}
	}

	router := server.NewRouter(cfg, logger)
	v1 := router.Group("/api/v1")
	handler.NewProductHandler(ledger, logger).RegisterRoutes(v1)
	handler.NewInventoryHandler(ledger, coordinator, logger).RegisterRoutes(v1)

	return server.Run(ctx, cfg, router, tlsSource.ServerConfig(), consul, logger)
}
