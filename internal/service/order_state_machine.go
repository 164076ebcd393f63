package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/domain"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/events"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/repository"
	"github.com/cloud-wave-best-zizon/fulfillment-service/pkg/config"
	"go.uber.org/zap"
)

// Payment statuses reported by the payment service.
const (
	PaymentAwaitingDelivery = "awaiting_delivery"
	PaymentCompleted        = "completed"
	PaymentPaid             = "paid"
	PaymentSucceeded        = "succeeded"
)

type PaymentStatusReader interface {
	GetPaymentStatus(ctx context.Context, orderID string) (string, error)
}

// EventPublisher is satisfied by *events.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

type OrderStateMachineOptions struct {
	LookupTimeout time.Duration
	// Fallback is config.FallbackAssumePaid or config.FallbackRetry.
	Fallback string
	Now      func() time.Time
}

// OrderStateMachine moves orders from pending to completed or cancelled in
// response to payment and expiration events.
type OrderStateMachine struct {
	orders    repository.OrderRepository
	payments  PaymentStatusReader
	publisher EventPublisher
	logger    *zap.Logger
	opts      OrderStateMachineOptions
}

func NewOrderStateMachine(orders repository.OrderRepository, payments PaymentStatusReader, publisher EventPublisher, logger *zap.Logger, opts OrderStateMachineOptions) *OrderStateMachine {
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 3 * time.Second
	}
	if opts.Fallback == "" {
		opts.Fallback = config.FallbackAssumePaid
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &OrderStateMachine{
		orders:    orders,
		payments:  payments,
		publisher: publisher,
		logger:    logger,
		opts:      opts,
	}
}

func (m *OrderStateMachine) OnPaymentCreated(ctx context.Context, ev events.PaymentCreatedEvent) error {
	order, err := m.orders.Get(ctx, ev.OrderID)
	if errors.Is(err, domain.ErrNotFound) {
		m.logger.Warn("Payment for unknown order ignored",
			zap.String("order_id", ev.OrderID),
			zap.String("payment_id", ev.ID))
		return nil
	}
	if err != nil {
		return err
	}

	switch order.Status {
	case domain.OrderStatusCompleted:
		// 중복 이벤트: 현재 상태를 다시 발행
		return m.publish(ctx, order)
	case domain.OrderStatusCancelled:
		m.logger.Warn("Payment received for cancelled order",
			zap.String("order_id", order.ID),
			zap.String("payment_id", ev.ID))
		return nil
	}

	status, err := m.lookupStatus(ctx, order.ID)
	if err != nil {
		return err
	}

	expected := order.Version
	now := m.opts.Now()
	switch status {
	case PaymentAwaitingDelivery:
		if order.AwaitingDelivery {
			return m.publish(ctx, order)
		}
		order.MarkAwaitingDelivery(now)
	case PaymentCompleted, PaymentPaid, PaymentSucceeded:
		order.MarkPaid(now)
	default:
		m.logger.Info("Payment status needs no transition",
			zap.String("order_id", order.ID),
			zap.String("payment_status", status))
		return nil
	}

	if err := m.save(ctx, order, expected); err != nil {
		return err
	}

	m.logger.Info("Order payment applied",
		zap.String("order_id", order.ID),
		zap.String("status", string(order.Status)),
		zap.Bool("is_paid", order.IsPaid),
		zap.Bool("awaiting_delivery", order.AwaitingDelivery))
	return m.publish(ctx, order)
}

func (m *OrderStateMachine) OnExpirationComplete(ctx context.Context, ev events.ExpirationCompleteEvent) error {
	order, err := m.orders.Get(ctx, ev.OrderID)
	if errors.Is(err, domain.ErrNotFound) {
		m.logger.Warn("Expiration for unknown order ignored", zap.String("order_id", ev.OrderID))
		return nil
	}
	if err != nil {
		return err
	}

	switch order.Status {
	case domain.OrderStatusCompleted:
		return nil
	case domain.OrderStatusCancelled:
		return m.publish(ctx, order)
	}

	expected := order.Version
	order.Cancel(m.opts.Now())
	if err := m.save(ctx, order, expected); err != nil {
		return err
	}

	m.logger.Info("Order cancelled after reservation expired", zap.String("order_id", order.ID))
	return m.publish(ctx, order)
}

// lookupStatus asks the payment service for the outcome, bounded by the
// lookup timeout. On failure the fallback policy decides.
func (m *OrderStateMachine) lookupStatus(ctx context.Context, orderID string) (string, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, m.opts.LookupTimeout)
	defer cancel()

	status, err := m.payments.GetPaymentStatus(lookupCtx, orderID)
	if err == nil {
		return strings.ToLower(strings.TrimSpace(status)), nil
	}

	if m.opts.Fallback == config.FallbackRetry {
		m.logger.Warn("Payment status lookup failed, leaving event for redelivery",
			zap.String("order_id", orderID),
			zap.Error(err))
		return "", fmt.Errorf("payment status for order %s: %w", orderID, err)
	}

	m.logger.Warn("Payment status lookup failed, assuming paid",
		zap.String("order_id", orderID),
		zap.Error(err))
	return PaymentCompleted, nil
}

func (m *OrderStateMachine) save(ctx context.Context, order *domain.Order, expected int64) error {
	if err := m.orders.UpdateIfVersion(ctx, order, expected); err != nil {
		return fmt.Errorf("failed to update order %s: %w", order.ID, err)
	}
	return nil
}

func (m *OrderStateMachine) publish(ctx context.Context, order *domain.Order) error {
	return m.publisher.Publish(ctx, orderUpdated(order))
}

func orderUpdated(order *domain.Order) events.OrderUpdatedEvent {
	return events.OrderUpdatedEvent{
		ID:               order.ID,
		Status:           string(order.Status),
		IsPaid:           order.IsPaid,
		AwaitingDelivery: order.AwaitingDelivery,
		ReservationID:    order.ReservationID,
		Version:          order.Version,
	}
}
