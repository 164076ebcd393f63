package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/bus"
	"go.uber.org/zap"
)

type Publisher struct {
	bus    bus.Bus
	logger *zap.Logger
}

func NewPublisher(b bus.Bus, logger *zap.Logger) *Publisher {
	return &Publisher{bus: b, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	eventBytes, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.Subject(), err)
	}

	if err := p.bus.Publish(ctx, string(ev.Subject()), ev.Key(), eventBytes); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("subject", string(ev.Subject())),
			zap.String("key", ev.Key()),
			zap.Error(err))
		return err
	}

	p.logger.Info("Event published successfully",
		zap.String("subject", string(ev.Subject())),
		zap.String("key", ev.Key()))
	return nil
}
