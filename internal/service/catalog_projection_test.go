package service

import (
	"context"
	"errors"
	"testing"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/domain"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/events"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubCatalogSource struct {
	product *domain.CatalogProjection
	err     error
	calls   int
}

func (s *stubCatalogSource) GetProduct(ctx context.Context, productID string) (*domain.CatalogProjection, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.product, nil
}

func TestCatalogProjection_UpdateAppliedOnce(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryCatalogRepository()
	source := &stubCatalogSource{}
	p := NewCatalogProjection(repo, source, zap.NewNop())

	require.NoError(t, p.OnCreated(ctx, events.ProductCreatedEvent{ID: "A", Title: "Shirt", Price: 10, CountInStock: 5, Version: 0}))
	require.NoError(t, p.OnCreated(ctx, events.ProductCreatedEvent{ID: "A", Title: "dup", Price: 99, CountInStock: 1, Version: 0}))

	update := events.ProductUpdatedEvent{ID: "A", Title: "Shirt", Price: 12, CountInStock: 4, Version: 1}
	require.NoError(t, p.OnUpdated(ctx, update))
	require.NoError(t, p.OnUpdated(ctx, update))

	got, err := p.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, &domain.CatalogProjection{ID: "A", Title: "Shirt", Price: 12, CountInStock: 4, Version: 1}, got)
	assert.Zero(t, source.calls)
}

func TestCatalogProjection_StaleAndUnknownUpdatesAreAcked(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryCatalogRepository()
	source := &stubCatalogSource{}
	p := NewCatalogProjection(repo, source, zap.NewNop())

	_, err := repo.Insert(ctx, &domain.CatalogProjection{ID: "A", Title: "v3", Version: 3})
	require.NoError(t, err)

	require.NoError(t, p.OnUpdated(ctx, events.ProductUpdatedEvent{ID: "A", Title: "v2", Version: 2}))
	require.NoError(t, p.OnUpdated(ctx, events.ProductUpdatedEvent{ID: "missing", Title: "v5", Version: 5}))

	got, err := p.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "v3", got.Title)
	assert.Zero(t, source.calls)
}

func TestCatalogProjection_GapResyncs(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryCatalogRepository()
	source := &stubCatalogSource{product: &domain.CatalogProjection{ID: "A", Title: "latest", Price: 15, CountInStock: 2, Version: 4}}
	p := NewCatalogProjection(repo, source, zap.NewNop())

	_, err := repo.Insert(ctx, &domain.CatalogProjection{ID: "A", Title: "v1", Version: 1})
	require.NoError(t, err)

	// v2 유실, v3 도착
	require.NoError(t, p.OnUpdated(ctx, events.ProductUpdatedEvent{ID: "A", Title: "v3", Version: 3}))

	got, err := p.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "latest", got.Title)
	assert.Equal(t, int64(4), got.Version)
	assert.Equal(t, 1, source.calls)

	// 이후 도착한 v4는 중복
	require.NoError(t, p.OnUpdated(ctx, events.ProductUpdatedEvent{ID: "A", Title: "v4", Version: 4}))
	got, err = p.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "latest", got.Title)
}

func TestCatalogProjection_FailedResyncIsRedelivered(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryCatalogRepository()
	p := NewCatalogProjection(repo, &stubCatalogSource{err: domain.ErrUpstreamUnavailable}, zap.NewNop())

	_, err := repo.Insert(ctx, &domain.CatalogProjection{ID: "A", Title: "v1", Version: 1})
	require.NoError(t, err)

	err = p.OnUpdated(ctx, events.ProductUpdatedEvent{ID: "A", Title: "v5", Version: 5})
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestCatalogProjection_ResyncOfDeletedProduct(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryCatalogRepository()
	p := NewCatalogProjection(repo, &stubCatalogSource{err: domain.ErrNotFound}, zap.NewNop())

	_, err := repo.Insert(ctx, &domain.CatalogProjection{ID: "A", Version: 1})
	require.NoError(t, err)

	require.NoError(t, p.OnUpdated(ctx, events.ProductUpdatedEvent{ID: "A", Version: 5}))

	_, err = p.Get(ctx, "A")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCatalogProjection_DeleteAlwaysAcks(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryCatalogRepository()
	p := NewCatalogProjection(repo, &stubCatalogSource{}, zap.NewNop())

	require.NoError(t, p.OnCreated(ctx, events.ProductCreatedEvent{ID: "A", Version: 0}))
	require.NoError(t, p.OnDeleted(ctx, events.ProductDeletedEvent{ID: "A", Version: 1}))
	require.NoError(t, p.OnDeleted(ctx, events.ProductDeletedEvent{ID: "A", Version: 1}))

	_, err := p.Get(ctx, "A")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCatalogProjection_LateCreatedAfterDelete(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryCatalogRepository()
	source := &stubCatalogSource{err: domain.ErrNotFound}
	p := NewCatalogProjection(repo, source, zap.NewNop())

	created := events.ProductCreatedEvent{ID: "A", Title: "Shirt", Price: 10, CountInStock: 5, Version: 0}
	require.NoError(t, p.OnCreated(ctx, created))
	require.NoError(t, p.OnDeleted(ctx, events.ProductDeletedEvent{ID: "A", Version: 1}))

	// 재전달된 created
	require.NoError(t, p.OnCreated(ctx, created))
	_, err := p.Get(ctx, "A")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1, source.calls)

	// deleted 가 created 보다 먼저 온 경우
	require.NoError(t, p.OnDeleted(ctx, events.ProductDeletedEvent{ID: "B", Version: 1}))
	require.NoError(t, p.OnCreated(ctx, events.ProductCreatedEvent{ID: "B", Title: "Hat", Version: 0}))
	_, err = p.Get(ctx, "B")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCatalogProjection_RecreatedProductIsRevived(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryCatalogRepository()
	source := &stubCatalogSource{product: &domain.CatalogProjection{ID: "A", Title: "Shirt v2", Price: 11, CountInStock: 3, Version: 0}}
	p := NewCatalogProjection(repo, source, zap.NewNop())

	require.NoError(t, p.OnCreated(ctx, events.ProductCreatedEvent{ID: "A", Title: "Shirt", Price: 10, CountInStock: 5, Version: 0}))
	require.NoError(t, p.OnDeleted(ctx, events.ProductDeletedEvent{ID: "A", Version: 1}))
	require.NoError(t, p.OnCreated(ctx, events.ProductCreatedEvent{ID: "A", Title: "Shirt v2", Price: 11, CountInStock: 3, Version: 0}))

	got, err := p.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, &domain.CatalogProjection{ID: "A", Title: "Shirt v2", Price: 11, CountInStock: 3, Version: 0}, got)
	assert.Equal(t, 1, source.calls)
}
