package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/bus"
	"go.uber.org/zap"
)

// Listen subscribes handle to the subject of T. Payloads that fail to decode
// are logged and acknowledged since redelivery cannot fix them; errors from
// handle leave the message unacknowledged.
func Listen[T Event](ctx context.Context, b bus.Bus, queueGroup string, logger *zap.Logger, handle func(ctx context.Context, ev T) error) error {
	var zero T
	subject := zero.Subject()

	return b.Subscribe(ctx, string(subject), queueGroup, func(ctx context.Context, msg *bus.Message) error {
		logger.Debug("Processing message",
			zap.String("subject", msg.Subject),
			zap.String("key", msg.Key),
			zap.Bool("redelivered", msg.Redelivered))

		ev, err := Decode(Subject(msg.Subject), msg.Data)
		if err != nil {
			logger.Error("Dropping undecodable message",
				zap.String("subject", msg.Subject),
				zap.String("key", msg.Key),
				zap.Error(err))
			return nil
		}
		typed, ok := ev.(T)
		if !ok {
			logger.Error("Dropping message with mismatched schema",
				zap.String("subject", msg.Subject),
				zap.String("expected", string(subject)))
			return nil
		}

		if err := handle(ctx, typed); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			logger.Error("Error processing message",
				zap.String("subject", msg.Subject),
				zap.String("key", msg.Key),
				zap.Error(err))
			return fmt.Errorf("handle %s: %w", subject, err)
		}
		return nil
	})
}
