package handler

import (
	"errors"
	"net/http"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/domain"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ProductHandler struct {
	ledger *service.InventoryLedger
	logger *zap.Logger
}

func NewProductHandler(ledger *service.InventoryLedger, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		ledger: ledger,
		logger: logger,
	}
}

func (h *ProductHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/products", h.CreateProduct)
	rg.GET("/products/:id", h.GetProduct)
	rg.PUT("/products/:id", h.UpdateProduct)
	rg.DELETE("/products/:id", h.DeleteProduct)
}

func (h *ProductHandler) CreateProduct(c *gin.Context) {
	var req domain.CreateProductRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request format",
		})
		return
	}

	product, err := h.ledger.CreateProduct(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrProductExists) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Product already exists",
			})
			return
		}
		if errors.Is(err, domain.ErrInvalidQuantity) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Stock cannot be negative",
			})
			return
		}

		h.logger.Error("Failed to create product",
			zap.String("product_id", req.ProductID),
			zap.Error(err))

		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create product",
		})
		return
	}

	c.JSON(http.StatusCreated, domain.NewProductResponse(product))
}

func (h *ProductHandler) GetProduct(c *gin.Context) {
	productID := c.Param("id")

	product, err := h.ledger.GetProduct(c.Request.Context(), productID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Product not found",
			})
			return
		}

		h.logger.Error("Failed to get product",
			zap.String("product_id", productID),
			zap.Error(err))

		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get product",
		})
		return
	}

	c.JSON(http.StatusOK, domain.NewProductResponse(product))
}

func (h *ProductHandler) UpdateProduct(c *gin.Context) {
	productID := c.Param("id")

	var req domain.UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request format",
		})
		return
	}

	product, err := h.ledger.UpdateProduct(c.Request.Context(), productID, req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		case errors.Is(err, domain.ErrStockBelowReserved):
			c.JSON(http.StatusConflict, gin.H{"error": "Total stock cannot drop below reserved quantity"})
		case errors.Is(err, domain.ErrInvalidQuantity):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Price must be positive"})
		case errors.Is(err, domain.ErrReservationConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "Product is being modified, please retry"})
		default:
			h.logger.Error("Failed to update product",
				zap.String("product_id", productID),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update product"})
		}
		return
	}

	c.JSON(http.StatusOK, domain.NewProductResponse(product))
}

func (h *ProductHandler) DeleteProduct(c *gin.Context) {
	productID := c.Param("id")

	err := h.ledger.DeleteProduct(c.Request.Context(), productID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		case errors.Is(err, domain.ErrActiveReservations):
			c.JSON(http.StatusConflict, gin.H{"error": "Product has active reservations"})
		case errors.Is(err, domain.ErrReservationConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "Product is being modified, please retry"})
		default:
			h.logger.Error("Failed to delete product",
				zap.String("product_id", productID),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete product"})
		}
		return
	}

	c.Status(http.StatusNoContent)
}
