package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// MemoryBus is an in-process Bus used in local mode and tests. A queue
// group receives messages published after its first member subscribed.
type MemoryBus struct {
	opts Options

	mu        sync.Mutex
	closed    bool
	groups    map[string]map[string]*memQueue // subject -> group -> queue
	published []*Message

	done chan struct{}
	wg   sync.WaitGroup
}

func NewMemoryBus(opts Options) *MemoryBus {
	opts.setDefaults()
	b := &MemoryBus{
		opts:   opts,
		groups: make(map[string]map[string]*memQueue),
		done:   make(chan struct{}),
	}
	opts.Hooks.connected()
	return b
}

func (b *MemoryBus) Publish(ctx context.Context, subject, key string, data []byte) error {
	headers := make(map[string]string)
	_, span := startPublishSpan(ctx, subject, key, headers)
	defer endSpan(span, nil)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	payload := append([]byte(nil), data...)
	b.published = append(b.published, &Message{Subject: subject, Key: key, Data: payload, Headers: headers})

	for _, q := range b.groups[subject] {
		q.push(&Message{Subject: subject, Key: key, Data: payload, Headers: copyHeaders(headers)})
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, subject, queueGroup string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	groups, ok := b.groups[subject]
	if !ok {
		groups = make(map[string]*memQueue)
		b.groups[subject] = groups
	}
	q, ok := groups[queueGroup]
	if !ok {
		q = newMemQueue()
		groups[queueGroup] = q
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.work(ctx, q, h)
	}()

	b.opts.Logger.Debug("Subscribed",
		zap.String("subject", subject),
		zap.String("queue_group", queueGroup))
	return nil
}

func (b *MemoryBus) work(ctx context.Context, q *memQueue, h Handler) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-b.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		msg, ok := q.pop(ctx)
		if !ok {
			return
		}
		if err := deliver(ctx, msg, h); err != nil {
			b.opts.Logger.Debug("Message not acknowledged, requeueing",
				zap.String("subject", msg.Subject),
				zap.String("key", msg.Key),
				zap.Error(err))
			redelivery := *msg
			redelivery.Redelivered = true
			if !sleep(ctx, b.opts.RedeliveryDelay) {
				return
			}
			q.push(&redelivery)
		}
	}
}

// Published returns every message published to subject, in order.
func (b *MemoryBus) Published(subject string) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Message
	for _, m := range b.published {
		if m.Subject == subject {
			out = append(out, m)
		}
	}
	return out
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

type memQueue struct {
	mu     sync.Mutex
	items  []*Message
	signal chan struct{}
}

func newMemQueue() *memQueue {
	return &memQueue{signal: make(chan struct{}, 1)}
}

func (q *memQueue) push(m *Message) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *memQueue) pop(ctx context.Context) (*Message, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			m := q.items[0]
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				// wake another competing worker
				select {
				case q.signal <- struct{}{}:
				default:
				}
			}
			return m, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.signal:
		}
	}
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
