package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPBus publishes to a durable topic exchange named after the cluster id.
// Every (subject, queue group) pair gets its own durable queue, so members of
// one group compete for messages while separate groups each get a copy.
type AMQPBus struct {
	opts     Options
	exchange string

	mu     sync.Mutex
	conn   *amqp.Connection
	pubCh  *amqp.Channel
	subs   []*amqpSubscription
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

type amqpSubscription struct {
	ctx     context.Context
	subject string
	group   string
	handler Handler
}

func ConnectAMQP(ctx context.Context, opts Options) (*AMQPBus, error) {
	opts.setDefaults()
	if opts.URL == "" {
		return nil, errors.New("amqp: no url configured")
	}

	exchange := opts.ClusterID
	if exchange == "" {
		exchange = "events"
	}

	b := &AMQPBus{
		opts:     opts,
		exchange: exchange,
		done:     make(chan struct{}),
	}

	err := connectWithRetry(ctx, &b.opts, func(ctx context.Context) error {
		return b.dial(ctx)
	})
	if err != nil {
		return nil, err
	}
	b.opts.Hooks.connected()

	b.wg.Add(1)
	go b.watch()

	return b, nil
}

func (b *AMQPBus) dial(ctx context.Context) error {
	conn, err := amqp.DialConfig(b.opts.URL, amqp.Config{
		Dial:       amqp.DefaultDial(b.opts.ConnectTimeout),
		Properties: amqp.Table{"connection_name": b.opts.ClientID},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	if ctx.Err() != nil {
		conn.Close()
		return ctx.Err()
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		b.exchange, // name
		"topic",    // kind
		true,       // durable
		false,      // auto-delete
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.pubCh = ch
	b.mu.Unlock()
	return nil
}

// watch reconnects after the broker drops the connection and re-establishes
// every subscription on the new one.
func (b *AMQPBus) watch() {
	defer b.wg.Done()

	for {
		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()

		closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))

		var reason *amqp.Error
		select {
		case <-b.done:
			return
		case reason = <-closeCh:
		}
		if reason == nil {
			// graceful close
			return
		}

		b.opts.Hooks.disconnected(reason)

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-b.done:
				cancel()
			case <-ctx.Done():
			}
		}()

		for attempt := 1; ; attempt++ {
			dialCtx, dialCancel := context.WithTimeout(ctx, b.opts.ConnectTimeout)
			err := b.dial(dialCtx)
			dialCancel()
			if err == nil {
				break
			}
			b.opts.Logger.Warn("Event bus reconnect attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			if !sleep(ctx, b.opts.backoff(attempt)) {
				cancel()
				return
			}
		}
		cancel()

		b.mu.Lock()
		subs := append([]*amqpSubscription(nil), b.subs...)
		b.mu.Unlock()

		for _, s := range subs {
			if s.ctx.Err() != nil {
				continue
			}
			if err := b.consume(s); err != nil {
				b.opts.Logger.Error("Failed to resubscribe",
					zap.String("subject", s.subject),
					zap.String("queue_group", s.group),
					zap.Error(err))
			}
		}
		b.opts.Hooks.reconnected()
	}
}

func (b *AMQPBus) Publish(ctx context.Context, subject, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	headers := make(map[string]string)
	ctx, span := startPublishSpan(ctx, subject, key, headers)

	table := amqp.Table{}
	for k, v := range headers {
		table[k] = v
	}

	err := b.pubCh.PublishWithContext(ctx,
		b.exchange, // exchange
		subject,    // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    key,
			Timestamp:    time.Now(),
			Headers:      table,
			Body:         data,
		},
	)
	endSpan(span, err)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

func (b *AMQPBus) Subscribe(ctx context.Context, subject, queueGroup string, h Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	s := &amqpSubscription{ctx: ctx, subject: subject, group: queueGroup, handler: h}
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	if err := b.consume(s); err != nil {
		return err
	}
	b.opts.Logger.Info("Subscribed",
		zap.String("subject", subject),
		zap.String("queue_group", queueGroup))
	return nil
}

func (b *AMQPBus) consume(s *amqpSubscription) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	// 한 번에 하나씩 처리, ack 전까지 다음 메시지 없음
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("failed to set qos: %w", err)
	}

	queue := s.subject + "." + s.group
	_, err = ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(queue, s.subject, b.exchange, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,           // queue name
		b.opts.ClientID, // consumer tag
		false,           // auto-ack (false = manual ack)
		false,           // exclusive
		false,           // no-local
		false,           // no-wait
		nil,             // arguments
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to consume messages: %w", err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.handle(s, ch, deliveries)
	}()
	return nil
}

func (b *AMQPBus) handle(s *amqpSubscription, ch *amqp.Channel, deliveries <-chan amqp.Delivery) {
	defer ch.Close()

	failures := 0
	for {
		var d amqp.Delivery
		var ok bool
		select {
		case <-s.ctx.Done():
			return
		case <-b.done:
			return
		case d, ok = <-deliveries:
			if !ok {
				// channel closed with the connection; watch resubscribes
				return
			}
		}

		msg := &Message{
			Subject:     s.subject,
			Key:         d.MessageId,
			Data:        d.Body,
			Headers:     make(map[string]string, len(d.Headers)),
			Redelivered: d.Redelivered,
		}
		for k, v := range d.Headers {
			if str, ok := v.(string); ok {
				msg.Headers[k] = str
			}
		}

		if err := deliver(s.ctx, msg, s.handler); err != nil {
			failures++
			b.opts.Logger.Warn("Message not acknowledged, requeueing",
				zap.String("subject", s.subject),
				zap.String("key", msg.Key),
				zap.Int("failures", failures),
				zap.Error(err))
			sleep(s.ctx, b.opts.backoff(failures))
			if err := d.Nack(false, true); err != nil {
				b.opts.Logger.Error("Error nacking message", zap.Error(err))
			}
			continue
		}
		failures = 0
		if err := d.Ack(false); err != nil {
			b.opts.Logger.Error("Error acking message", zap.Error(err))
		}
	}
}

func (b *AMQPBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	conn := b.conn
	b.mu.Unlock()

	b.wg.Wait()

	if conn != nil && !conn.IsClosed() {
		return conn.Close()
	}
	return nil
}
