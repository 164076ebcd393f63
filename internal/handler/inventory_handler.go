package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/domain"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type InventoryHandler struct {
	ledger      *service.InventoryLedger
	coordinator *service.ReservationCoordinator
	logger      *zap.Logger
}

func NewInventoryHandler(ledger *service.InventoryLedger, coordinator *service.ReservationCoordinator, logger *zap.Logger) *InventoryHandler {
	return &InventoryHandler{
		ledger:      ledger,
		coordinator: coordinator,
		logger:      logger,
	}
}

func (h *InventoryHandler) RegisterRoutes(rg *gin.RouterGroup) {
	inv := rg.Group("/inventory")
	inv.POST("/reserve", h.Reserve)
	inv.POST("/release", h.Release)
	inv.POST("/commit", h.Commit)
	inv.POST("/cleanup-expired", h.CleanupExpired)
}

func (h *InventoryHandler) Reserve(c *gin.Context) {
	var req domain.ReserveInventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request format",
		})
		return
	}

	result, err := h.coordinator.ReserveOrder(c.Request.Context(), req)
	if err != nil {
		var pfe *domain.PartialFailureError
		if errors.As(err, &pfe) {
			c.JSON(http.StatusConflict, domain.ReservationIssuesResponse{
				Error:  domain.ErrPartialSagaFailure.Error(),
				Issues: pfe.Issues,
			})
			return
		}
		if errors.Is(err, domain.ErrInvalidQuantity) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Quantity must be positive"})
			return
		}

		h.logger.Error("Failed to reserve inventory",
			zap.String("order_id", req.OrderID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to reserve inventory",
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *InventoryHandler) Release(c *gin.Context) {
	h.settle(c, "release", h.ledger.Release)
}

func (h *InventoryHandler) Commit(c *gin.Context) {
	h.settle(c, "commit", h.ledger.Commit)
}

func (h *InventoryHandler) settle(c *gin.Context, action string, apply func(ctx context.Context, reservationID string) ([]domain.AffectedItem, error)) {
	var req domain.ReservationRefRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request format",
		})
		return
	}

	items, err := apply(c.Request.Context(), req.ReservationID)
	if errors.Is(err, domain.ErrReservationLapsed) {
		h.logger.Warn("Reservation lapsed before "+action,
			zap.String("reservation_id", req.ReservationID),
			zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{
			"error":          domain.ErrReservationLapsed.Error(),
			"reservation_id": req.ReservationID,
			"items":          items,
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to "+action+" reservation",
			zap.String("reservation_id", req.ReservationID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to " + action + " reservation",
		})
		return
	}

	c.JSON(http.StatusOK, domain.ReservationRefResponse{
		ReservationID: req.ReservationID,
		Items:         items,
	})
}

func (h *InventoryHandler) CleanupExpired(c *gin.Context) {
	result, err := h.ledger.SweepNow(c.Request.Context())
	if err != nil && result == nil {
		h.logger.Error("Failed to clean up expired reservations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to clean up expired reservations",
		})
		return
	}
	if err != nil {
		h.logger.Warn("Expiry sweep partially failed", zap.Error(err))
	}

	c.JSON(http.StatusOK, result)
}
