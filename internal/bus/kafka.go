package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaBus maps subjects onto topics and queue groups onto consumer groups.
// A message is committed only after its handler succeeds; until then the
// handler is re-invoked on the same message, so the partition never moves
// past an unacknowledged event.
type KafkaBus struct {
	opts   Options
	writer *kafka.Writer
	dialer *kafka.Dialer

	mu      sync.Mutex
	closed  bool
	readers []*kafka.Reader
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

func ConnectKafka(ctx context.Context, opts Options) (*KafkaBus, error) {
	opts.setDefaults()
	if len(opts.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}

	dialer := &kafka.Dialer{
		ClientID: opts.ClientID,
		Timeout:  opts.ConnectTimeout,
	}

	err := connectWithRetry(ctx, &opts, func(ctx context.Context) error {
		var lastErr error
		for _, broker := range opts.Brokers {
			conn, err := dialer.DialContext(ctx, "tcp", broker)
			if err != nil {
				lastErr = err
				continue
			}
			return conn.Close()
		}
		return lastErr
	})
	if err != nil {
		return nil, err
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(opts.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}

	opts.Hooks.connected()

	return &KafkaBus{
		opts:   opts,
		writer: writer,
		dialer: dialer,
	}, nil
}

func (b *KafkaBus) Publish(ctx context.Context, subject, key string, data []byte) error {
	headers := make(map[string]string)
	ctx, span := startPublishSpan(ctx, subject, key, headers)

	msg := kafka.Message{
		Topic: topicName(b.opts.ClusterID, subject),
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	err := b.writer.WriteMessages(ctx, msg)
	endSpan(span, err)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

func (b *KafkaBus) Subscribe(ctx context.Context, subject, queueGroup string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.opts.Brokers,
		GroupID:     queueGroup,
		Topic:       topicName(b.opts.ClusterID, subject),
		Dialer:      b.dialer,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})

	ctx, cancel := context.WithCancel(ctx)
	b.readers = append(b.readers, reader)
	b.cancels = append(b.cancels, cancel)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consume(ctx, reader, subject, h)
	}()

	b.opts.Logger.Info("Subscribed",
		zap.String("subject", subject),
		zap.String("queue_group", queueGroup))
	return nil
}

func (b *KafkaBus) consume(ctx context.Context, reader *kafka.Reader, subject string, h Handler) {
	disconnected := false
	fetchFailures := 0

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			if !disconnected {
				disconnected = true
				b.opts.Hooks.disconnected(err)
			}
			fetchFailures++
			if !sleep(ctx, b.opts.backoff(fetchFailures)) {
				return
			}
			continue
		}
		if disconnected {
			disconnected = false
			b.opts.Hooks.reconnected()
		}
		fetchFailures = 0

		msg := &Message{
			Subject: subject,
			Key:     string(m.Key),
			Data:    m.Value,
			Headers: make(map[string]string, len(m.Headers)),
		}
		for _, hdr := range m.Headers {
			msg.Headers[hdr.Key] = string(hdr.Value)
		}

		for attempt := 1; ; attempt++ {
			msg.Redelivered = attempt > 1
			err := deliver(ctx, msg, h)
			if err == nil {
				break
			}
			b.opts.Logger.Warn("Message not acknowledged, redelivering",
				zap.String("subject", subject),
				zap.String("key", msg.Key),
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if !sleep(ctx, b.opts.backoff(attempt)) {
				return
			}
		}

		// commit 실패 시 재시작 후 재전달됨 (at-least-once)
		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			b.opts.Logger.Error("Error committing message",
				zap.String("subject", subject),
				zap.Int64("offset", m.Offset),
				zap.Error(err))
		}
	}
}

func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, cancel := range b.cancels {
		cancel()
	}
	readers := b.readers
	b.mu.Unlock()

	b.wg.Wait()

	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
