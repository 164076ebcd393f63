package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal states accept no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

type Order struct {
	ID               string      `db:"id"                json:"id"`
	UserID           string      `db:"user_id"           json:"user_id"`
	Status           OrderStatus `db:"status"            json:"status"`
	Cart             Cart        `db:"cart"              json:"cart"`
	PaymentMethod    string      `db:"payment_method"    json:"payment_method"`
	IsPaid           bool        `db:"is_paid"           json:"is_paid"`
	PaidAt           *time.Time  `db:"paid_at"           json:"paid_at,omitempty"`
	AwaitingDelivery bool        `db:"awaiting_delivery" json:"awaiting_delivery"`
	ReservationID    string      `db:"reservation_id"    json:"reservation_id"`
	Version          int64       `db:"version"           json:"version"`
	ExpiresAt        time.Time   `db:"expires_at"        json:"expires_at"`
	CreatedAt        time.Time   `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at"        json:"updated_at"`
}

type CartItem struct {
	ProductID string  `json:"product_id"`
	Title     string  `json:"title"`
	Qty       int     `json:"qty"`
	Price     float64 `json:"price"`
}

// Cart is stored as a JSONB column.
type Cart []CartItem

func (c Cart) Value() (driver.Value, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c)
}

func (c *Cart) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	case nil:
		*c = nil
		return nil
	default:
		return errors.New("unsupported cart column type")
	}
}

func (c Cart) Total() float64 {
	var total float64
	for _, item := range c {
		total += item.Price * float64(item.Qty)
	}
	return total
}

// MarkPaid moves a pending order to Completed.
func (o *Order) MarkPaid(now time.Time) {
	o.Status = OrderStatusCompleted
	o.IsPaid = true
	o.AwaitingDelivery = false
	o.PaidAt = &now
	o.touch(now)
}

// MarkAwaitingDelivery keeps the order pending until cash is collected.
func (o *Order) MarkAwaitingDelivery(now time.Time) {
	o.IsPaid = false
	o.AwaitingDelivery = true
	o.touch(now)
}

func (o *Order) Cancel(now time.Time) {
	o.Status = OrderStatusCancelled
	o.touch(now)
}

func (o *Order) touch(now time.Time) {
	o.Version++
	o.UpdatedAt = now
}

type CreateOrderRequest struct {
	UserID        string                   `json:"user_id"        binding:"required"`
	PaymentMethod string                   `json:"payment_method" binding:"required"`
	Items         []CreateOrderItemRequest `json:"items"          binding:"required,min=1,dive"`
}

type CreateOrderItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Qty       int    `json:"qty"        binding:"required,min=1"`
}
