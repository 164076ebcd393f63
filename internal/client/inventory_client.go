package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/discovery"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/domain"
)

// InventoryClient talks to the inventory service: reservations for order
// creation and product reads for projection resync.
type InventoryClient struct {
	baseClient
}

func NewInventoryClient(resolver discovery.Resolver, timeout time.Duration, tlsConfig *tls.Config) *InventoryClient {
	return &InventoryClient{baseClient: newBaseClient(resolver, InventoryService, timeout, tlsConfig)}
}

func (c *InventoryClient) Reserve(ctx context.Context, req domain.ReserveInventoryRequest) (*domain.ReservationResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/inventory/reserve", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result domain.ReservationResult
		if err := decodeJSON(resp, &result); err != nil {
			return nil, err
		}
		return &result, nil
	case http.StatusConflict:
		var body domain.ReservationIssuesResponse
		if err := decodeJSON(resp, &body); err != nil {
			return nil, err
		}
		return nil, &domain.PartialFailureError{Issues: body.Issues}
	case http.StatusBadRequest:
		return nil, domain.ErrInvalidQuantity
	default:
		return nil, unexpectedStatus(c.service, resp)
	}
}

func (c *InventoryClient) Release(ctx context.Context, reservationID string) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/inventory/release", domain.ReservationRefRequest{ReservationID: reservationID})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return unexpectedStatus(c.service, resp)
	}
	return nil
}

// GetProduct reads the authoritative record and shapes it like a catalog
// projection row.
func (c *InventoryClient) GetProduct(ctx context.Context, productID string) (*domain.CatalogProjection, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/products/"+url.PathEscape(productID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
	default:
		return nil, unexpectedStatus(c.service, resp)
	}

	var product domain.ProductResponse
	if err := decodeJSON(resp, &product); err != nil {
		return nil, err
	}
	if product.ProductID == "" {
		return nil, errors.New("inventory service returned a product without id")
	}
	return &domain.CatalogProjection{
		ID:           product.ProductID,
		Title:        product.Title,
		Price:        product.Price,
		CountInStock: product.Available,
		Version:      product.Version,
	}, nil
}
