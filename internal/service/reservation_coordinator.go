package service

import (
	"context"
	"errors"
	"time"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	compensationAttempts = 3
	compensationDelay    = 100 * time.Millisecond
)

// ReservationCoordinator reserves every item of an order under one
// reservation id, or none of them.
type ReservationCoordinator struct {
	ledger *InventoryLedger
	logger *zap.Logger
}

func NewReservationCoordinator(ledger *InventoryLedger, logger *zap.Logger) *ReservationCoordinator {
	return &ReservationCoordinator{ledger: ledger, logger: logger}
}

func (c *ReservationCoordinator) ReserveOrder(ctx context.Context, req domain.ReserveInventoryRequest) (*domain.ReservationResult, error) {
	items, err := mergeItems(req.Items)
	if err != nil {
		return nil, err
	}

	reservationID := req.ReservationID
	if reservationID == "" {
		reservationID = uuid.New().String()
	}

	// 1단계: 모든 상품을 먼저 확인하고 문제를 한 번에 모아서 반환
	var issues []domain.ItemIssue
	for _, item := range items {
		rec, err := c.ledger.GetProduct(ctx, item.ProductID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
			issues = append(issues, domain.IssueFor(item.ProductID, item.Quantity, err))
			continue
		}
		if rec.HasReservation(reservationID) {
			// 재시도: 이미 잡힌 수량
			continue
		}
		if rec.Available() < item.Quantity {
			issues = append(issues, domain.IssueFor(item.ProductID, item.Quantity, &domain.InsufficientStockError{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: rec.Available(),
			}))
		}
	}
	if len(issues) > 0 {
		c.logger.Info("Reservation rejected by pre-check",
			zap.String("order_id", req.OrderID),
			zap.Int("issues", len(issues)))
		return nil, &domain.PartialFailureError{Issues: issues}
	}

	// 2단계: 순서대로 예약, 실패 시 역순으로 보상
	var reserved []domain.ReserveItem
	var expiresAt time.Time

	for _, item := range items {
		r, err := c.ledger.Reserve(ctx, ReserveParams{
			ReservationID: reservationID,
			ProductID:     item.ProductID,
			OrderID:       req.OrderID,
			Quantity:      item.Quantity,
			RequestedBy:   req.UserID,
		})
		if err != nil {
			c.logger.Warn("Item reservation failed, compensating",
				zap.String("order_id", req.OrderID),
				zap.String("reservation_id", reservationID),
				zap.String("product_id", item.ProductID),
				zap.Int("reserved_so_far", len(reserved)),
				zap.Error(err))
			c.compensate(ctx, reservationID, reserved)
			return nil, &domain.PartialFailureError{
				Issues: []domain.ItemIssue{domain.IssueFor(item.ProductID, item.Quantity, err)},
			}
		}
		reserved = append(reserved, item)
		if expiresAt.IsZero() || r.ExpiresAt.Before(expiresAt) {
			expiresAt = r.ExpiresAt
		}
	}

	c.logger.Info("Order reserved",
		zap.String("order_id", req.OrderID),
		zap.String("reservation_id", reservationID),
		zap.Int("items", len(reserved)))

	return &domain.ReservationResult{
		ReservationID: reservationID,
		ReservedItems: reserved,
		ExpiresAt:     expiresAt,
	}, nil
}

// compensate releases the reserved items in reverse order. It ignores the
// caller's cancellation so a dropped request cannot leave stock held.
func (c *ReservationCoordinator) compensate(ctx context.Context, reservationID string, reserved []domain.ReserveItem) {
	ctx = context.WithoutCancel(ctx)

	for i := len(reserved) - 1; i >= 0; i-- {
		productID := reserved[i].ProductID

		var err error
		for attempt := 1; attempt <= compensationAttempts; attempt++ {
			if _, err = c.ledger.ReleaseItem(ctx, productID, reservationID); err == nil {
				break
			}
			time.Sleep(compensationDelay * time.Duration(attempt))
		}
		if err != nil {
			// TTL 만료 후 sweeper가 정리
			c.logger.Error("Compensation failed, reservation left to expire",
				zap.String("reservation_id", reservationID),
				zap.String("product_id", productID),
				zap.Error(err))
		}
	}
}

func mergeItems(items []domain.ReserveItem) ([]domain.ReserveItem, error) {
	if len(items) == 0 {
		return nil, domain.ErrInvalidQuantity
	}
	index := make(map[string]int, len(items))
	merged := make([]domain.ReserveItem, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, domain.ErrInvalidQuantity
		}
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}
