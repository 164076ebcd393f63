package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/domain"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/events"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/repository"
	"go.uber.org/zap"
)

// CatalogSource reads the authoritative copy of a product.
type CatalogSource interface {
	GetProduct(ctx context.Context, productID string) (*domain.CatalogProjection, error)
}

// CatalogProjection keeps the order service's copy of the catalog in step
// with product events. Handlers return nil for events that are already
// applied or out of date, so only write failures are redelivered.
type CatalogProjection struct {
	repo   repository.CatalogRepository
	source CatalogSource
	logger *zap.Logger
}

func NewCatalogProjection(repo repository.CatalogRepository, source CatalogSource, logger *zap.Logger) *CatalogProjection {
	return &CatalogProjection{repo: repo, source: source, logger: logger}
}

func (p *CatalogProjection) OnCreated(ctx context.Context, ev events.ProductCreatedEvent) error {
	inserted, err := p.repo.Insert(ctx, &domain.CatalogProjection{
		ID:           ev.ID,
		Title:        ev.Title,
		Price:        ev.Price,
		CountInStock: ev.CountInStock,
		Version:      ev.Version,
	})
	if err != nil {
		return err
	}
	if inserted {
		return nil
	}

	deleted, err := p.repo.IsDeleted(ctx, ev.ID)
	if err != nil {
		return err
	}
	if !deleted {
		p.logger.Debug("Duplicate product created event",
			zap.String("product_id", ev.ID),
			zap.Int64("version", ev.Version))
		return nil
	}

	// 삭제 뒤에 도착한 created: 재전달인지 재생성인지 원본으로 판단
	p.logger.Info("Created event for deleted product, resyncing",
		zap.String("product_id", ev.ID),
		zap.Int64("version", ev.Version))
	return p.resync(ctx, ev.ID)
}

func (p *CatalogProjection) OnUpdated(ctx context.Context, ev events.ProductUpdatedEvent) error {
	next := &domain.CatalogProjection{
		ID:           ev.ID,
		Title:        ev.Title,
		Price:        ev.Price,
		CountInStock: ev.CountInStock,
		Version:      ev.Version,
	}

	applied, err := p.repo.ApplyUpdate(ctx, next)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	current, err := p.repo.Get(ctx, ev.ID)
	if errors.Is(err, domain.ErrNotFound) {
		p.logger.Debug("Update for unknown product ignored", zap.String("product_id", ev.ID))
		return nil
	}
	if err != nil {
		return err
	}
	if current.Version >= ev.Version {
		p.logger.Debug("Stale product updated event",
			zap.String("product_id", ev.ID),
			zap.Int64("event_version", ev.Version),
			zap.Int64("current_version", current.Version))
		return nil
	}

	// 중간 버전 누락: 원본에서 다시 읽어옴
	p.logger.Warn("Version gap in product events, resyncing",
		zap.String("product_id", ev.ID),
		zap.Int64("event_version", ev.Version),
		zap.Int64("current_version", current.Version))
	return p.resync(ctx, ev.ID)
}

func (p *CatalogProjection) OnDeleted(ctx context.Context, ev events.ProductDeletedEvent) error {
	_, err := p.repo.Delete(ctx, ev.ID)
	return err
}

func (p *CatalogProjection) resync(ctx context.Context, productID string) error {
	latest, err := p.source.GetProduct(ctx, productID)
	if errors.Is(err, domain.ErrNotFound) {
		_, err = p.repo.Delete(ctx, productID)
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to resync product %s: %w", productID, err)
	}
	if _, err := p.repo.Upsert(ctx, latest); err != nil {
		return err
	}
	p.logger.Info("Product resynced",
		zap.String("product_id", productID),
		zap.Int64("version", latest.Version))
	return nil
}

// Get reads one product from the projection.
func (p *CatalogProjection) Get(ctx context.Context, productID string) (*domain.CatalogProjection, error) {
	return p.repo.Get(ctx, productID)
}
