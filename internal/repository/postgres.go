package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id                VARCHAR(64) PRIMARY KEY,
		user_id           VARCHAR(64) NOT NULL,
		status            VARCHAR(16) NOT NULL,
		cart              JSONB NOT NULL DEFAULT '[]',
		payment_method    VARCHAR(32) NOT NULL,
		is_paid           BOOLEAN NOT NULL DEFAULT FALSE,
		paid_at           TIMESTAMPTZ,
		awaiting_delivery BOOLEAN NOT NULL DEFAULT FALSE,
		reservation_id    VARCHAR(64) NOT NULL,
		version           BIGINT NOT NULL DEFAULT 0,
		expires_at        TIMESTAMPTZ NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id)`,
	`CREATE TABLE IF NOT EXISTS catalog_products (
		id             VARCHAR(64) PRIMARY KEY,
		title          TEXT NOT NULL,
		price          NUMERIC(12, 2) NOT NULL,
		count_in_stock INTEGER NOT NULL,
		version        BIGINT NOT NULL,
		deleted        BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`ALTER TABLE catalog_products ADD COLUMN IF NOT EXISTS deleted BOOLEAN NOT NULL DEFAULT FALSE`,
}

func NewPostgresDB(ctx context.Context, databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}
