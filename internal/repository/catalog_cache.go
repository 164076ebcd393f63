package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedCatalogRepository puts a Redis cache-aside layer in front of the
// projection store. Every write invalidates the product's key.
type CachedCatalogRepository struct {
	repo   CatalogRepository
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func NewCachedCatalogRepository(repo CatalogRepository, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedCatalogRepository {
	return &CachedCatalogRepository{
		repo:   repo,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func catalogKey(id string) string {
	return "catalog:product:" + id
}

func (r *CachedCatalogRepository) Get(ctx context.Context, id string) (*domain.CatalogProjection, error) {
	val, err := r.client.Get(ctx, catalogKey(id)).Bytes()
	if err == nil {
		var p domain.CatalogProjection
		if err := json.Unmarshal(val, &p); err == nil {
			return &p, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		r.logger.Warn("Catalog cache read failed", zap.String("product_id", id), zap.Error(err))
	}

	p, err := r.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(p)
	if err == nil {
		if err := r.client.Set(ctx, catalogKey(id), data, r.ttl).Err(); err != nil {
			r.logger.Warn("Catalog cache write failed", zap.String("product_id", id), zap.Error(err))
		}
	}
	return p, nil
}

func (r *CachedCatalogRepository) Insert(ctx context.Context, p *domain.CatalogProjection) (bool, error) {
	return r.invalidateAfter(ctx, p.ID, func() (bool, error) { return r.repo.Insert(ctx, p) })
}

func (r *CachedCatalogRepository) ApplyUpdate(ctx context.Context, p *domain.CatalogProjection) (bool, error) {
	return r.invalidateAfter(ctx, p.ID, func() (bool, error) { return r.repo.ApplyUpdate(ctx, p) })
}

func (r *CachedCatalogRepository) Upsert(ctx context.Context, p *domain.CatalogProjection) (bool, error) {
	return r.invalidateAfter(ctx, p.ID, func() (bool, error) { return r.repo.Upsert(ctx, p) })
}

func (r *CachedCatalogRepository) Delete(ctx context.Context, id string) (bool, error) {
	return r.invalidateAfter(ctx, id, func() (bool, error) { return r.repo.Delete(ctx, id) })
}

func (r *CachedCatalogRepository) IsDeleted(ctx context.Context, id string) (bool, error) {
	return r.repo.IsDeleted(ctx, id)
}

func (r *CachedCatalogRepository) invalidateAfter(ctx context.Context, id string, write func() (bool, error)) (bool, error) {
	changed, err := write()
	if err != nil || !changed {
		return changed, err
	}
	if err := r.client.Del(ctx, catalogKey(id)).Err(); err != nil {
		r.logger.Warn("Catalog cache invalidation failed", zap.String("product_id", id), zap.Error(err))
	}
	return changed, nil
}
