package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/domain"
	"github.com/jmoiron/sqlx"
)

// CatalogRepository stores the order service's catalog projection. The bool
// results report whether a row changed. Deleted products stay behind as
// tombstones so a late created event cannot bring them back.
type CatalogRepository interface {
	// Insert never overwrites a row, live or deleted.
	Insert(ctx context.Context, p *domain.CatalogProjection) (bool, error)
	// ApplyUpdate overwrites a live row only when its version is p.Version-1.
	ApplyUpdate(ctx context.Context, p *domain.CatalogProjection) (bool, error)
	// Upsert writes p unless the live row is already at p.Version or newer.
	// A tombstone is always revived.
	Upsert(ctx context.Context, p *domain.CatalogProjection) (bool, error)
	// Delete leaves a tombstone, even for an id never seen before.
	Delete(ctx context.Context, id string) (bool, error)
	IsDeleted(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (*domain.CatalogProjection, error)
}

type PostgresCatalogRepository struct {
	db *sqlx.DB
}

func NewPostgresCatalogRepository(db *sqlx.DB) *PostgresCatalogRepository {
	return &PostgresCatalogRepository{db: db}
}

func (r *PostgresCatalogRepository) Insert(ctx context.Context, p *domain.CatalogProjection) (bool, error) {
	query := `
		INSERT INTO catalog_products (id, title, price, count_in_stock, version)
		VALUES (:id, :title, :price, :count_in_stock, :version)
		ON CONFLICT (id) DO NOTHING
	`
	result, err := r.db.NamedExecContext(ctx, query, p)
	if err != nil {
		return false, fmt.Errorf("failed to insert catalog product: %w", err)
	}
	return changed(result)
}

func (r *PostgresCatalogRepository) ApplyUpdate(ctx context.Context, p *domain.CatalogProjection) (bool, error) {
	query := `
		UPDATE catalog_products
		SET title = $1, price = $2, count_in_stock = $3, version = $4
		WHERE id = $5 AND version = $6 AND NOT deleted
	`
	result, err := r.db.ExecContext(ctx, query, p.Title, p.Price, p.CountInStock, p.Version, p.ID, p.Version-1)
	if err != nil {
		return false, fmt.Errorf("failed to update catalog product: %w", err)
	}
	return changed(result)
}

func (r *PostgresCatalogRepository) Upsert(ctx context.Context, p *domain.CatalogProjection) (bool, error) {
	query := `
		INSERT INTO catalog_products (id, title, price, count_in_stock, version)
		VALUES (:id, :title, :price, :count_in_stock, :version)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title, price = EXCLUDED.price,
			count_in_stock = EXCLUDED.count_in_stock, version = EXCLUDED.version,
			deleted = FALSE
		WHERE catalog_products.version < EXCLUDED.version OR catalog_products.deleted
	`
	result, err := r.db.NamedExecContext(ctx, query, p)
	if err != nil {
		return false, fmt.Errorf("failed to upsert catalog product: %w", err)
	}
	return changed(result)
}

func (r *PostgresCatalogRepository) Delete(ctx context.Context, id string) (bool, error) {
	query := `
		INSERT INTO catalog_products (id, title, price, count_in_stock, version, deleted)
		VALUES ($1, '', 0, 0, 0, TRUE)
		ON CONFLICT (id) DO UPDATE
		SET deleted = TRUE
		WHERE NOT catalog_products.deleted
	`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete catalog product: %w", err)
	}
	return changed(result)
}

func (r *PostgresCatalogRepository) IsDeleted(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := r.db.GetContext(ctx, &deleted, `SELECT deleted FROM catalog_products WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to find catalog product: %w", err)
	}
	return deleted, nil
}

func (r *PostgresCatalogRepository) Get(ctx context.Context, id string) (*domain.CatalogProjection, error) {
	var p domain.CatalogProjection
	query := `SELECT id, title, price, count_in_stock, version FROM catalog_products WHERE id = $1 AND NOT deleted`

	err := r.db.GetContext(ctx, &p, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find catalog product: %w", err)
	}
	return &p, nil
}

func changed(result sql.Result) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// MemoryCatalogRepository is the LOCAL_MODE projection store.
type MemoryCatalogRepository struct {
	mu   sync.Mutex
	rows map[string]catalogRow
}

type catalogRow struct {
	product domain.CatalogProjection
	deleted bool
}

func NewMemoryCatalogRepository() *MemoryCatalogRepository {
	return &MemoryCatalogRepository{rows: make(map[string]catalogRow)}
}

func (r *MemoryCatalogRepository) Insert(ctx context.Context, p *domain.CatalogProjection) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rows[p.ID]; exists {
		return false, nil
	}
	r.rows[p.ID] = catalogRow{product: *p}
	return true, nil
}

func (r *MemoryCatalogRepository) ApplyUpdate(ctx context.Context, p *domain.CatalogProjection) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.rows[p.ID]
	if !ok || current.deleted || current.product.Version != p.Version-1 {
		return false, nil
	}
	r.rows[p.ID] = catalogRow{product: *p}
	return true, nil
}

func (r *MemoryCatalogRepository) Upsert(ctx context.Context, p *domain.CatalogProjection) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.rows[p.ID]; ok && !current.deleted && current.product.Version >= p.Version {
		return false, nil
	}
	r.rows[p.ID] = catalogRow{product: *p}
	return true, nil
}

func (r *MemoryCatalogRepository) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.rows[id]
	if ok && current.deleted {
		return false, nil
	}
	if !ok {
		current.product.ID = id
	}
	current.deleted = true
	r.rows[id] = current
	return true, nil
}

func (r *MemoryCatalogRepository) IsDeleted(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.rows[id].deleted, nil
}

func (r *MemoryCatalogRepository) Get(ctx context.Context, id string) (*domain.CatalogProjection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok || row.deleted {
		return nil, domain.ErrNotFound
	}
	p := row.product
	return &p, nil
}
