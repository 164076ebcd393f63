// Package bus is a durable publish/subscribe client with queue-group
// subscriptions and at-least-once delivery.
//
// A Handler acknowledges a message by returning nil. Returning an error, or
// panicking, leaves the message unacknowledged and it is delivered again, so
// handlers must be idempotent.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("bus: client closed")

type Message struct {
	Subject     string
	Key         string
	Data        []byte
	Headers     map[string]string
	Redelivered bool
}

type Handler func(ctx context.Context, msg *Message) error

type Bus interface {
	Publish(ctx context.Context, subject, key string, data []byte) error
	// Subscribe delivers each message of subject to exactly one member of
	// queueGroup. It returns once the subscription is established; delivery
	// runs until ctx is cancelled or the client is closed.
	Subscribe(ctx context.Context, subject, queueGroup string, h Handler) error
	Close() error
}

// Hooks are connection state notifications.
type Hooks struct {
	OnConnected    func()
	OnDisconnected func(err error)
	OnReconnected  func()
}

func (h Hooks) connected() {
	if h.OnConnected != nil {
		h.OnConnected()
	}
}

func (h Hooks) disconnected(err error) {
	if h.OnDisconnected != nil {
		h.OnDisconnected(err)
	}
}

func (h Hooks) reconnected() {
	if h.OnReconnected != nil {
		h.OnReconnected()
	}
}

// LogHooks reports connection state changes through logger.
func LogHooks(logger *zap.Logger) Hooks {
	return Hooks{
		OnConnected:    func() { logger.Info("Event bus connected") },
		OnDisconnected: func(err error) { logger.Warn("Event bus disconnected", zap.Error(err)) },
		OnReconnected:  func() { logger.Info("Event bus reconnected") },
	}
}

type Options struct {
	ClusterID       string
	ClientID        string
	Brokers         []string // kafka
	URL             string   // amqp
	ConnectTimeout  time.Duration
	ConnectAttempts int
	// RedeliveryDelay is the first pause before an unacknowledged message is
	// delivered again; it doubles per attempt up to MaxRedeliveryDelay.
	RedeliveryDelay    time.Duration
	MaxRedeliveryDelay time.Duration
	Hooks              Hooks
	Logger             *zap.Logger
}

func (o *Options) setDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.ConnectAttempts < 1 {
		o.ConnectAttempts = 3
	}
	if o.RedeliveryDelay <= 0 {
		o.RedeliveryDelay = time.Second
	}
	if o.MaxRedeliveryDelay < o.RedeliveryDelay {
		o.MaxRedeliveryDelay = 30 * o.RedeliveryDelay
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

func (o *Options) backoff(attempt int) time.Duration {
	d := o.RedeliveryDelay
	for i := 1; i < attempt && d < o.MaxRedeliveryDelay; i++ {
		d *= 2
	}
	if d > o.MaxRedeliveryDelay {
		d = o.MaxRedeliveryDelay
	}
	return d
}

// connectWithRetry runs dial up to ConnectAttempts times, each bounded by
// ConnectTimeout.
func connectWithRetry(ctx context.Context, o *Options, dial func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= o.ConnectAttempts; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, o.ConnectTimeout)
		lastErr = dial(dialCtx)
		cancel()
		if lastErr == nil {
			return nil
		}

		o.Logger.Warn("Event bus connect attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", o.ConnectAttempts),
			zap.Error(lastErr))

		if attempt < o.ConnectAttempts && !sleep(ctx, o.backoff(attempt)) {
			return ctx.Err()
		}
	}
	return fmt.Errorf("failed to connect to event bus after %d attempts: %w", o.ConnectAttempts, lastErr)
}

// deliver runs h and converts a panic into an error so the message is
// redelivered instead of crashing the consumer.
func deliver(ctx context.Context, msg *Message, h Handler) (err error) {
	ctx, span := startConsumeSpan(ctx, msg)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		endSpan(span, err)
	}()
	return h(ctx, msg)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// topicName maps a subject such as "product:created" onto a broker-safe
// name scoped by the cluster id.
func topicName(clusterID, subject string) string {
	name := strings.NewReplacer(":", ".", "/", ".").Replace(subject)
	if clusterID == "" {
		return name
	}
	return clusterID + "." + name
}
