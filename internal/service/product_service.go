package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/domain"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/events"
	"go.uber.org/zap"
)

// 상품 관리 작업도 재고 원장과 같은 조건부 쓰기를 거침

func (l *InventoryLedger) CreateProduct(ctx context.Context, req domain.CreateProductRequest) (*domain.InventoryRecord, error) {
	if req.TotalStock < 0 {
		return nil, domain.ErrInvalidQuantity
	}

	now := l.now()
	rec := &domain.InventoryRecord{
		ProductID:    req.ProductID,
		Title:        req.Title,
		Price:        req.Price,
		TotalStock:   req.TotalStock,
		Reservations: []domain.Reservation{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := l.repo.Create(ctx, rec); err != nil {
		if !errors.Is(err, domain.ErrProductExists) {
			l.logger.Error("Failed to save product",
				zap.String("product_id", rec.ProductID),
				zap.Error(err))
		}
		return nil, err
	}

	l.logger.Info("Product created successfully",
		zap.String("product_id", rec.ProductID),
		zap.Int("initial_stock", rec.TotalStock))

	l.notify(ctx, ChangeCreated, rec)
	return rec, nil
}

func (l *InventoryLedger) GetProduct(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	return l.repo.Get(ctx, productID)
}

func (l *InventoryLedger) UpdateProduct(ctx context.Context, productID string, req domain.UpdateProductRequest) (*domain.InventoryRecord, error) {
	return l.update(ctx, productID, func(rec *domain.InventoryRecord, now time.Time) (bool, error) {
		return rec.ApplyDetails(req, now)
	})
}

// DeleteProduct removes a product that holds no active reservations.
func (l *InventoryLedger) DeleteProduct(ctx context.Context, productID string) error {
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		rec, err := l.repo.Get(ctx, productID)
		if err != nil {
			return err
		}
		if len(rec.Reservations) > 0 {
			return domain.ErrActiveReservations
		}

		err = l.repo.DeleteIfVersion(ctx, productID, rec.Version)
		if errors.Is(err, domain.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to delete product %s: %w", productID, err)
		}

		l.logger.Info("Product deleted", zap.String("product_id", productID))
		// 삭제 이벤트도 버전 체인을 이어가도록 +1
		rec.Version++
		l.notify(ctx, ChangeDeleted, rec)
		return nil
	}
	return fmt.Errorf("%w: product %s", domain.ErrReservationConflict, productID)
}

// ProductEvents publishes catalog lifecycle events for ledger writes. The
// event version is the record version, so the order service's projection
// sees one event per version.
type ProductEvents struct {
	publisher *events.Publisher
}

func NewProductEvents(publisher *events.Publisher) *ProductEvents {
	return &ProductEvents{publisher: publisher}
}

func (p *ProductEvents) RecordChanged(ctx context.Context, kind ChangeKind, rec *domain.InventoryRecord) error {
	var ev events.Event
	switch kind {
	case ChangeCreated:
		ev = events.ProductCreatedEvent{
			ID:           rec.ProductID,
			Title:        rec.Title,
			Price:        rec.Price,
			CountInStock: rec.Available(),
			Version:      rec.Version,
		}
	case ChangeUpdated:
		ev = events.ProductUpdatedEvent{
			ID:           rec.ProductID,
			Title:        rec.Title,
			Price:        rec.Price,
			CountInStock: rec.Available(),
			Version:      rec.Version,
		}
	case ChangeDeleted:
		ev = events.ProductDeletedEvent{ID: rec.ProductID, Version: rec.Version}
	default:
		return fmt.Errorf("unknown change kind %q", kind)
	}
	return p.publisher.Publish(context.WithoutCancel(ctx), ev)
}
