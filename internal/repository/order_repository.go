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

type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	Get(ctx context.Context, id string) (*domain.Order, error)
	// UpdateIfVersion persists order only if the stored version still equals
	// expectedVersion; otherwise it returns domain.ErrVersionConflict.
	UpdateIfVersion(ctx context.Context, order *domain.Order, expectedVersion int64) error
}

type PostgresOrderRepository struct {
	db *sqlx.DB
}

func NewPostgresOrderRepository(db *sqlx.DB) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

func (r *PostgresOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders (id, user_id, status, cart, payment_method, is_paid, paid_at,
			awaiting_delivery, reservation_id, version, expires_at, created_at, updated_at)
		VALUES (:id, :user_id, :status, :cart, :payment_method, :is_paid, :paid_at,
			:awaiting_delivery, :reservation_id, :version, :expires_at, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, order); err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (r *PostgresOrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	var order domain.Order
	query := `
		SELECT id, user_id, status, cart, payment_method, is_paid, paid_at, awaiting_delivery,
			reservation_id, version, expires_at, created_at, updated_at
		FROM orders WHERE id = $1
	`
	err := r.db.GetContext(ctx, &order, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find order: %w", err)
	}
	return &order, nil
}

func (r *PostgresOrderRepository) UpdateIfVersion(ctx context.Context, order *domain.Order, expectedVersion int64) error {
	query := `
		UPDATE orders
		SET status = $1, is_paid = $2, paid_at = $3, awaiting_delivery = $4, version = $5, updated_at = $6
		WHERE id = $7 AND version = $8
	`
	result, err := r.db.ExecContext(ctx, query,
		order.Status, order.IsPaid, order.PaidAt, order.AwaitingDelivery, order.Version, order.UpdatedAt,
		order.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

// MemoryOrderRepository is the LOCAL_MODE order store.
type MemoryOrderRepository struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[string]domain.Order)}
}

func (r *MemoryOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return fmt.Errorf("failed to create order: duplicate id %s", order.ID)
	}
	r.orders[order.ID] = copyOrder(order)
	return nil
}

func (r *MemoryOrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := copyOrder(&order)
	return &out, nil
}

func (r *MemoryOrderRepository) UpdateIfVersion(ctx context.Context, order *domain.Order, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[order.ID]
	if !ok || current.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	r.orders[order.ID] = copyOrder(order)
	return nil
}

func copyOrder(o *domain.Order) domain.Order {
	c := *o
	c.Cart = append(domain.Cart(nil), o.Cart...)
	if o.PaidAt != nil {
		paidAt := *o.PaidAt
		c.PaidAt = &paidAt
	}
	return c
}
