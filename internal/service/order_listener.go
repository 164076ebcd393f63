package service

import (
	"context"
	"errors"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/domain"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/events"
	"go.uber.org/zap"
)

// OrderSettlement settles an order's reservation once the order reaches a
// terminal state. Release and Commit are idempotent, so redelivered or
// republished order events are safe. A commit whose reservation already
// lapsed is logged and acknowledged.
type OrderSettlement struct {
	ledger *InventoryLedger
	logger *zap.Logger
}

func NewOrderSettlement(ledger *InventoryLedger, logger *zap.Logger) *OrderSettlement {
	return &OrderSettlement{ledger: ledger, logger: logger}
}

func (s *OrderSettlement) OnOrderUpdated(ctx context.Context, ev events.OrderUpdatedEvent) error {
	if ev.ReservationID == "" {
		return nil
	}

	var items []domain.AffectedItem
	var err error
	switch domain.OrderStatus(ev.Status) {
	case domain.OrderStatusCancelled:
		items, err = s.ledger.Release(ctx, ev.ReservationID)
	case domain.OrderStatusCompleted:
		items, err = s.ledger.Commit(ctx, ev.ReservationID)
	default:
		return nil
	}
	if errors.Is(err, domain.ErrReservationLapsed) {
		// 재전달해도 결과는 같음, 재고 불일치는 운영자가 처리
		s.logger.Error("Completed order lost its reservation to expiry",
			zap.String("order_id", ev.ID),
			zap.String("reservation_id", ev.ReservationID),
			zap.Int("items_committed", len(items)),
			zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}

	s.logger.Info("Order reservation settled",
		zap.String("order_id", ev.ID),
		zap.String("status", ev.Status),
		zap.String("reservation_id", ev.ReservationID),
		zap.Int("items", len(items)))
	return nil
}
