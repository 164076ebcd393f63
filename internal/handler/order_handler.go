package handler

import (
	"errors"
	"net/http"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/domain"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type OrderHandler struct {
	orderService *service.OrderService
	logger       *zap.Logger
}

func NewOrderHandler(orderService *service.OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
		logger:       logger,
	}
}

func (h *OrderHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/orders", h.CreateOrder)
	rg.GET("/orders/:id", h.GetOrder)
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req domain.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request format",
		})
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), req)
	if err != nil {
		var pfe *domain.PartialFailureError
		switch {
		case errors.As(err, &pfe):
			c.JSON(http.StatusConflict, domain.ReservationIssuesResponse{
				Error:  domain.ErrPartialSagaFailure.Error(),
				Issues: pfe.Issues,
			})
		case errors.Is(err, domain.ErrInvalidQuantity):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Quantity must be positive"})
		case errors.Is(err, domain.ErrUpstreamUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Inventory service unavailable, please retry"})
		default:
			h.logger.Error("Failed to create order",
				zap.String("user_id", req.UserID),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create order"})
		}
		return
	}

	c.JSON(http.StatusCreated, order)
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	orderID := c.Param("id")

	order, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Order not found",
			})
			return
		}

		h.logger.Error("Failed to get order",
			zap.String("order_id", orderID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get order",
		})
		return
	}

	c.JSON(http.StatusOK, order)
}

// Health is the liveness check shared by both services.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
