package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Subject string

const (
	ProductCreated     Subject = "product:created"
	ProductUpdated     Subject = "product:updated"
	ProductDeleted     Subject = "product:deleted"
	PaymentCreated     Subject = "payment:created"
	ExpirationComplete Subject = "expiration:complete"
	OrderCreated       Subject = "order:created"
	OrderUpdated       Subject = "order:updated"
)

var ErrUnknownSubject = errors.New("unknown event subject")

// Event is implemented by every payload type; the subject is the variant tag.
type Event interface {
	Subject() Subject
	// Key orders the events of one aggregate on the bus.
	Key() string
}

// 카탈로그(inventory-service)에서 발행하는 상품 이벤트
type ProductCreatedEvent struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Price        float64 `json:"price"`
	CountInStock int     `json:"count_in_stock"`
	Version      int64   `json:"version"`
}

type ProductUpdatedEvent struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Price        float64 `json:"price"`
	CountInStock int     `json:"count_in_stock"`
	Version      int64   `json:"version"`
}

type ProductDeletedEvent struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

// 결제 서비스 이벤트. 결제 결과는 포함하지 않음 (상태 조회 필요)
type PaymentCreatedEvent struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Version int64  `json:"version"`
}

// 타이머 서비스가 예약 만료 시 발행
type ExpirationCompleteEvent struct {
	OrderID string `json:"order_id"`
}

type OrderItem struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type OrderCreatedEvent struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id"`
	Status        string      `json:"status"`
	ReservationID string      `json:"reservation_id"`
	Items         []OrderItem `json:"items"`
	ExpiresAt     time.Time   `json:"expires_at"`
	Version       int64       `json:"version"`
}

type OrderUpdatedEvent struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	IsPaid           bool   `json:"is_paid"`
	AwaitingDelivery bool   `json:"awaiting_delivery"`
	ReservationID    string `json:"reservation_id"`
	Version          int64  `json:"version"`
}

func (e ProductCreatedEvent) Subject() Subject     { return ProductCreated }
func (e ProductUpdatedEvent) Subject() Subject     { return ProductUpdated }
func (e ProductDeletedEvent) Subject() Subject     { return ProductDeleted }
func (e PaymentCreatedEvent) Subject() Subject     { return PaymentCreated }
func (e ExpirationCompleteEvent) Subject() Subject { return ExpirationComplete }
func (e OrderCreatedEvent) Subject() Subject       { return OrderCreated }
func (e OrderUpdatedEvent) Subject() Subject       { return OrderUpdated }

func (e ProductCreatedEvent) Key() string     { return e.ID }
func (e ProductUpdatedEvent) Key() string     { return e.ID }
func (e ProductDeletedEvent) Key() string     { return e.ID }
func (e PaymentCreatedEvent) Key() string     { return e.OrderID }
func (e ExpirationCompleteEvent) Key() string { return e.OrderID }
func (e OrderCreatedEvent) Key() string       { return e.ID }
func (e OrderUpdatedEvent) Key() string       { return e.ID }

// Decode parses data into the schema registered for subject.
func Decode(subject Subject, data []byte) (Event, error) {
	var ev Event
	var err error
	switch subject {
	case ProductCreated:
		ev, err = decode[ProductCreatedEvent](data)
	case ProductUpdated:
		ev, err = decode[ProductUpdatedEvent](data)
	case ProductDeleted:
		ev, err = decode[ProductDeletedEvent](data)
	case PaymentCreated:
		ev, err = decode[PaymentCreatedEvent](data)
	case ExpirationComplete:
		ev, err = decode[ExpirationCompleteEvent](data)
	case OrderCreated:
		ev, err = decode[OrderCreatedEvent](data)
	case OrderUpdated:
		ev, err = decode[OrderUpdatedEvent](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSubject, subject)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s event: %w", subject, err)
	}
	return ev, nil
}

func decode[T Event](data []byte) (T, error) {
	var ev T
	err := json.Unmarshal(data, &ev)
	return ev, err
}
