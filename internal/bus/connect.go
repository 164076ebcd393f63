package bus

import (
	"context"
	"fmt"

	"github.com/cloud-wave-best-zizon/fulfillment-service/pkg/config"
	"go.uber.org/zap"
)

// New connects the driver selected by BUS_DRIVER.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Bus, error) {
	opts := Options{
		ClusterID:       cfg.BusClusterID,
		ClientID:        cfg.ClientID(),
		Brokers:         cfg.KafkaBrokers,
		URL:             cfg.AMQPURL,
		ConnectTimeout:  cfg.BusConnectTimeout,
		ConnectAttempts: cfg.BusConnectAttempts,
		RedeliveryDelay: cfg.BusRedeliveryDelay,
		Hooks:           LogHooks(logger),
		Logger:          logger,
	}

	switch cfg.BusDriver {
	case config.BusDriverKafka:
		return ConnectKafka(ctx, opts)
	case config.BusDriverAMQP:
		return ConnectAMQP(ctx, opts)
	case config.BusDriverMemory:
		return NewMemoryBus(opts), nil
	default:
		return nil, fmt.Errorf("unsupported bus driver %q", cfg.BusDriver)
	}
}
