package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/discovery"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/domain"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ service.PaymentStatusReader = (*PaymentClient)(nil)
	_ service.InventoryReserver   = (*InventoryClient)(nil)
	_ service.CatalogSource       = (*InventoryClient)(nil)
)

func serve(t *testing.T, name string, h http.HandlerFunc) discovery.Resolver {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return discovery.StaticResolver{name: srv.URL}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestPaymentClient_GetPaymentStatus(t *testing.T) {
	resolver := serve(t, PaymentService, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/payments/orders/order-1/status":
			writeJSON(w, http.StatusOK, map[string]string{"status": "Succeeded"})
		case "/api/v1/payments/orders/order-2/status":
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "boom"})
		case "/api/v1/payments/orders/order-3/status":
			_, _ = w.Write([]byte("not json"))
		default:
			writeJSON(w, http.StatusOK, map[string]string{})
		}
	})
	c := NewPaymentClient(resolver, time.Second, nil)
	ctx := context.Background()

	status, err := c.GetPaymentStatus(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "Succeeded", status)

	for _, id := range []string{"order-2", "order-3", "order-4"} {
		_, err := c.GetPaymentStatus(ctx, id)
		assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable, id)
	}
}

func TestPaymentClient_Unreachable(t *testing.T) {
	c := NewPaymentClient(discovery.StaticResolver{PaymentService: "http://127.0.0.1:1"}, 200*time.Millisecond, nil)
	_, err := c.GetPaymentStatus(context.Background(), "order-1")
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	c = NewPaymentClient(discovery.StaticResolver{}, time.Second, nil)
	_, err = c.GetPaymentStatus(context.Background(), "order-1")
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestPaymentClient_OverTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "Succeeded"})
	}))
	t.Cleanup(srv.Close)
	tlsConfig := srv.Client().Transport.(*http.Transport).TLSClientConfig

	resolver := discovery.StaticResolver{PaymentService: srv.URL}
	status, err := NewPaymentClient(resolver, time.Second, tlsConfig).GetPaymentStatus(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, "Succeeded", status)

	// 평문 http 로 TLS 서버를 부르면 실패
	plain := resolver.WithScheme("http")
	_, err = NewPaymentClient(plain, time.Second, tlsConfig).GetPaymentStatus(context.Background(), "order-1")
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestInventoryClient_Reserve(t *testing.T) {
	issues := []domain.ItemIssue{{ProductID: "B", Code: domain.IssueInsufficientStock, Message: "Only 2 left in stock", Requested: 3, Available: 2}}
	resolver := serve(t, InventoryService, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/inventory/reserve", r.URL.Path)
		var req domain.ReserveInventoryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch req.OrderID {
		case "ok":
			writeJSON(w, http.StatusOK, domain.ReservationResult{ReservationID: "res-1", ReservedItems: req.Items})
		case "conflict":
			writeJSON(w, http.StatusConflict, domain.ReservationIssuesResponse{Error: domain.ErrPartialSagaFailure.Error(), Issues: issues})
		case "invalid":
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Quantity must be positive"})
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	})
	c := NewInventoryClient(resolver, time.Second, nil)
	ctx := context.Background()
	items := []domain.ReserveItem{{ProductID: "A", Quantity: 1}}

	result, err := c.Reserve(ctx, domain.ReserveInventoryRequest{OrderID: "ok", UserID: "u", Items: items})
	require.NoError(t, err)
	assert.Equal(t, "res-1", result.ReservationID)
	assert.Equal(t, items, result.ReservedItems)

	_, err = c.Reserve(ctx, domain.ReserveInventoryRequest{OrderID: "conflict", UserID: "u", Items: items})
	var pfe *domain.PartialFailureError
	require.ErrorAs(t, err, &pfe)
	assert.Equal(t, issues, pfe.Issues)
	assert.ErrorIs(t, err, domain.ErrPartialSagaFailure)

	_, err = c.Reserve(ctx, domain.ReserveInventoryRequest{OrderID: "invalid", UserID: "u", Items: items})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = c.Reserve(ctx, domain.ReserveInventoryRequest{OrderID: "down", UserID: "u", Items: items})
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestInventoryClient_ReleaseAndGetProduct(t *testing.T) {
	var released string
	resolver := serve(t, InventoryService, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/inventory/release":
			var req domain.ReservationRefRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			released = req.ReservationID
			writeJSON(w, http.StatusOK, domain.ReservationRefResponse{ReservationID: req.ReservationID, Items: []domain.AffectedItem{}})
		case r.URL.Path == "/api/v1/products/A":
			writeJSON(w, http.StatusOK, domain.ProductResponse{ProductID: "A", Title: "Mug", Price: 9.5, TotalStock: 5, ReservedQuantity: 2, Available: 3, Version: 7})
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Product not found"})
		}
	})
	c := NewInventoryClient(resolver, time.Second, nil)
	ctx := context.Background()

	require.NoError(t, c.Release(ctx, "res-9"))
	assert.Equal(t, "res-9", released)

	p, err := c.GetProduct(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, &domain.CatalogProjection{ID: "A", Title: "Mug", Price: 9.5, CountInStock: 3, Version: 7}, p)

	_, err = c.GetProduct(ctx, "Z")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
