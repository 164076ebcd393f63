package domain

import "time"

// CatalogProjection is the order service's local mirror of a catalog item.
type CatalogProjection struct {
	ID           string  `db:"id"             json:"id"`
	Title        string  `db:"title"          json:"title"`
	Price        float64 `db:"price"          json:"price"`
	CountInStock int     `db:"count_in_stock" json:"count_in_stock"`
	Version      int64   `db:"version"        json:"version"`
}

type CreateProductRequest struct {
	ProductID  string  `json:"product_id"  binding:"required"`
	Title      string  `json:"title"       binding:"required"`
	Price      float64 `json:"price"       binding:"required,gt=0"`
	TotalStock int     `json:"total_stock" binding:"min=0"`
}

type UpdateProductRequest struct {
	Title      *string  `json:"title"`
	Price      *float64 `json:"price"       binding:"omitempty,gt=0"`
	TotalStock *int     `json:"total_stock" binding:"omitempty,min=0"`
}

// ApplyDetails updates the catalog fields present in req. Total stock may
// not drop below what is currently reserved.
func (i *InventoryRecord) ApplyDetails(req UpdateProductRequest, now time.Time) (bool, error) {
	changed := false
	if req.Title != nil && *req.Title != i.Title {
		i.Title = *req.Title
		changed = true
	}
	if req.Price != nil && *req.Price != i.Price {
		if *req.Price <= 0 {
			return false, ErrInvalidQuantity
		}
		i.Price = *req.Price
		changed = true
	}
	if req.TotalStock != nil && *req.TotalStock != i.TotalStock {
		if *req.TotalStock < i.ReservedQuantity {
			return false, ErrStockBelowReserved
		}
		i.TotalStock = *req.TotalStock
		changed = true
	}
	if changed {
		i.touch(now)
	}
	return changed, nil
}

type ProductResponse struct {
	ProductID        string  `json:"product_id"`
	Title            string  `json:"title"`
	Price            float64 `json:"price"`
	TotalStock       int     `json:"total_stock"`
	ReservedQuantity int     `json:"reserved_quantity"`
	Available        int     `json:"available"`
	Version          int64   `json:"version"`
}

func NewProductResponse(rec *InventoryRecord) ProductResponse {
	return ProductResponse{
		ProductID:        rec.ProductID,
		Title:            rec.Title,
		Price:            rec.Price,
		TotalStock:       rec.TotalStock,
		ReservedQuantity: rec.ReservedQuantity,
		Available:        rec.Available(),
		Version:          rec.Version,
	}
}
