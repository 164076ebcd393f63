package service

import (
	"context"
	"errors"
	"time"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/domain"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/events"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InventoryReserver is the inventory service as seen from the order service.
type InventoryReserver interface {
	Reserve(ctx context.Context, req domain.ReserveInventoryRequest) (*domain.ReservationResult, error)
	Release(ctx context.Context, reservationID string) error
}

type CatalogLookup interface {
	Get(ctx context.Context, productID string) (*domain.CatalogProjection, error)
}

type OrderService struct {
	orders    repository.OrderRepository
	catalog   CatalogLookup
	inventory InventoryReserver
	publisher EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewOrderService(orders repository.OrderRepository, catalog CatalogLookup, inventory InventoryReserver, publisher EventPublisher, logger *zap.Logger) *OrderService {
	return &OrderService{
		orders:    orders,
		catalog:   catalog,
		inventory: inventory,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateOrder validates the cart against the local catalog, reserves stock
// for every item and stores the pending order. Either the whole cart is
// reserved or no order is created.
func (s *OrderService) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error) {
	cart, err := s.buildCart(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	orderID := uuid.New().String()
	reserveReq := domain.ReserveInventoryRequest{
		ReservationID: uuid.New().String(),
		OrderID:       orderID,
		UserID:        req.UserID,
	}
	for _, item := range cart {
		reserveReq.Items = append(reserveReq.Items, domain.ReserveItem{ProductID: item.ProductID, Quantity: item.Qty})
	}

	reservation, err := s.inventory.Reserve(ctx, reserveReq)
	if err != nil {
		s.logger.Info("Order rejected, inventory not reserved",
			zap.String("order_id", orderID),
			zap.String("user_id", req.UserID),
			zap.Error(err))
		// 응답을 못 받았을 뿐 예약은 됐을 수 있음
		if errors.Is(err, domain.ErrUpstreamUnavailable) {
			s.release(ctx, reserveReq.ReservationID)
		}
		return nil, err
	}

	now := s.now()
	order := &domain.Order{
		ID:            orderID,
		UserID:        req.UserID,
		Status:        domain.OrderStatusPending,
		Cart:          cart,
		PaymentMethod: req.PaymentMethod,
		ReservationID: reservation.ReservationID,
		ExpiresAt:     reservation.ExpiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.orders.Create(ctx, order); err != nil {
		s.logger.Error("Failed to save order, releasing reservation",
			zap.String("order_id", orderID),
			zap.String("reservation_id", reservation.ReservationID),
			zap.Error(err))
		s.release(ctx, reservation.ReservationID)
		return nil, err
	}

	s.logger.Info("Order created successfully",
		zap.String("order_id", order.ID),
		zap.String("reservation_id", order.ReservationID),
		zap.Int("items_count", len(order.Cart)),
		zap.Float64("total_amount", order.Cart.Total()))

	created := events.OrderCreatedEvent{
		ID:            order.ID,
		UserID:        order.UserID,
		Status:        string(order.Status),
		ReservationID: order.ReservationID,
		ExpiresAt:     order.ExpiresAt,
		Version:       order.Version,
	}
	for _, item := range order.Cart {
		created.Items = append(created.Items, events.OrderItem{ProductID: item.ProductID, Quantity: item.Qty, Price: item.Price})
	}
	// 발행 실패해도 주문은 유지, 예약은 TTL로 정리됨
	if err := s.publisher.Publish(ctx, created); err != nil {
		s.logger.Error("Failed to publish order created event",
			zap.String("order_id", order.ID),
			zap.Error(err))
	}

	return order, nil
}

// release is best effort. Whatever it misses expires with the TTL.
func (s *OrderService) release(ctx context.Context, reservationID string) {
	if err := s.inventory.Release(context.WithoutCancel(ctx), reservationID); err != nil {
		s.logger.Error("Failed to release reservation",
			zap.String("reservation_id", reservationID),
			zap.Error(err))
	}
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.orders.Get(ctx, orderID)
}

func (s *OrderService) buildCart(ctx context.Context, items []domain.CreateOrderItemRequest) (domain.Cart, error) {
	if len(items) == 0 {
		return nil, domain.ErrInvalidQuantity
	}

	index := make(map[string]int, len(items))
	cart := make(domain.Cart, 0, len(items))
	var issues []domain.ItemIssue

	for _, item := range items {
		if item.Qty <= 0 {
			return nil, domain.ErrInvalidQuantity
		}
		if i, ok := index[item.ProductID]; ok {
			cart[i].Qty += item.Qty
			continue
		}

		product, err := s.catalog.Get(ctx, item.ProductID)
		if errors.Is(err, domain.ErrNotFound) {
			issues = append(issues, domain.IssueFor(item.ProductID, item.Qty, err))
			continue
		}
		if err != nil {
			return nil, err
		}

		index[item.ProductID] = len(cart)
		cart = append(cart, domain.CartItem{
			ProductID: product.ID,
			Title:     product.Title,
			Qty:       item.Qty,
			Price:     product.Price,
		})
	}

	if len(issues) > 0 {
		return nil, &domain.PartialFailureError{Issues: issues}
	}
	return cart, nil
}
