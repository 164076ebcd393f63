package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/domain"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/events"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/repository"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newInventoryRouter(t *testing.T) (*gin.Engine, *service.InventoryLedger) {
	t.Helper()
	return newInventoryRouterWith(t, service.LedgerOptions{})
}

func newInventoryRouterWith(t *testing.T, opts service.LedgerOptions) (*gin.Engine, *service.InventoryLedger) {
	t.Helper()
	logger := zap.NewNop()
	ledger := service.NewInventoryLedger(repository.NewMemoryInventoryRepository(), nil, logger, opts)
	coord := service.NewReservationCoordinator(ledger, logger)

	router := gin.New()
	v1 := router.Group("/api/v1")
	NewInventoryHandler(ledger, coord, logger).RegisterRoutes(v1)
	NewProductHandler(ledger, logger).RegisterRoutes(v1)
	return router, ledger
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestProductHandler_CRUD(t *testing.T) {
	router, _ := newInventoryRouter(t)

	w := do(t, router, http.MethodPost, "/api/v1/products", gin.H{"product_id": "PROD001", "title": "Mug", "price": 12.5, "total_stock": 4})
	require.Equal(t, http.StatusCreated, w.Code)

	var created domain.ProductResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, 4, created.Available)

	w = do(t, router, http.MethodPost, "/api/v1/products", gin.H{"product_id": "PROD001", "title": "Mug", "price": 12.5, "total_stock": 4})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, router, http.MethodPut, "/api/v1/products/PROD001", gin.H{"title": "Big mug", "total_stock": 6})
	require.Equal(t, http.StatusOK, w.Code)
	var updated domain.ProductResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, "Big mug", updated.Title)
	assert.Equal(t, 6, updated.TotalStock)
	assert.Equal(t, int64(1), updated.Version)

	w = do(t, router, http.MethodGet, "/api/v1/products/PROD001", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodDelete, "/api/v1/products/PROD001", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, router, http.MethodGet, "/api/v1/products/PROD001", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/products", gin.H{"title": "no id"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInventoryHandler_ReserveCommitRelease(t *testing.T) {
	router, ledger := newInventoryRouter(t)
	ctx := context.Background()
	for _, id := range []string{"A", "B"} {
		_, err := ledger.CreateProduct(ctx, domain.CreateProductRequest{ProductID: id, Title: id, Price: 1, TotalStock: 5})
		require.NoError(t, err)
	}

	w := do(t, router, http.MethodPost, "/api/v1/inventory/reserve", gin.H{
		"order_id": "order-1",
		"user_id":  "user-1",
		"items":    []gin.H{{"product_id": "A", "quantity": 2}, {"product_id": "B", "quantity": 1}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result domain.ReservationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.NotEmpty(t, result.ReservationID)
	assert.Len(t, result.ReservedItems, 2)

	w = do(t, router, http.MethodPost, "/api/v1/inventory/commit", gin.H{"reservation_id": result.ReservationID})
	require.Equal(t, http.StatusOK, w.Code)
	var committed domain.ReservationRefResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &committed))
	assert.ElementsMatch(t, []domain.AffectedItem{{ProductID: "A", Quantity: 2}, {ProductID: "B", Quantity: 1}}, committed.Items)

	w = do(t, router, http.MethodPost, "/api/v1/inventory/release", gin.H{"reservation_id": result.ReservationID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"reservation_id":"`+result.ReservationID+`","items":[]}`, w.Body.String())

	a, err := ledger.GetProduct(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 3, a.TotalStock)
}

func TestInventoryHandler_ReserveConflictReportsIssues(t *testing.T) {
	router, ledger := newInventoryRouter(t)
	_, err := ledger.CreateProduct(context.Background(), domain.CreateProductRequest{ProductID: "A", Title: "A", Price: 1, TotalStock: 1})
	require.NoError(t, err)

	w := do(t, router, http.MethodPost, "/api/v1/inventory/reserve", gin.H{
		"order_id": "order-1",
		"user_id":  "user-1",
		"items":    []gin.H{{"product_id": "A", "quantity": 3}, {"product_id": "Z", "quantity": 1}},
	})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{
		"error": "could not reserve all items, please retry",
		"issues": [
			{"product_id":"A","code":"insufficient_stock","message":"Only 1 left in stock","requested":3,"available":1},
			{"product_id":"Z","code":"not_found","message":"Product not found","requested":1,"available":0}
		]
	}`, w.Body.String())

	w = do(t, router, http.MethodPost, "/api/v1/inventory/reserve", gin.H{"order_id": "order-1", "user_id": "u", "items": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInventoryHandler_CleanupExpired(t *testing.T) {
	router, _ := newInventoryRouter(t)

	w := do(t, router, http.MethodPost, "/api/v1/inventory/cleanup-expired", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"records_scanned":0,"records_updated":0,"reservations_expired":0,"released":{}}`, w.Body.String())
}

func TestInventoryHandler_CleanupExpiredUsesLedgerClock(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	router, ledger := newInventoryRouterWith(t, service.LedgerOptions{
		ReservationTTL: time.Minute,
		Now:            func() time.Time { return now },
	})
	ctx := context.Background()
	_, err := ledger.CreateProduct(ctx, domain.CreateProductRequest{ProductID: "A", Title: "A", Price: 1, TotalStock: 2})
	require.NoError(t, err)
	_, err = ledger.Reserve(ctx, service.ReserveParams{ReservationID: "r1", ProductID: "A", OrderID: "o1", Quantity: 2})
	require.NoError(t, err)

	// 벽시계 기준으로는 이미 만료, 원장 시계 기준으로는 아직 유효
	w := do(t, router, http.MethodPost, "/api/v1/inventory/cleanup-expired", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"records_scanned":0,"records_updated":0,"reservations_expired":0,"released":{}}`, w.Body.String())

	now = now.Add(2 * time.Minute)
	w = do(t, router, http.MethodPost, "/api/v1/inventory/cleanup-expired", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"records_scanned":1,"records_updated":1,"reservations_expired":1,"released":{"A":2}}`, w.Body.String())
}

func TestInventoryHandler_LateCommitIsConflict(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	router, ledger := newInventoryRouterWith(t, service.LedgerOptions{
		ReservationTTL: time.Minute,
		Now:            func() time.Time { return now },
	})
	ctx := context.Background()
	_, err := ledger.CreateProduct(ctx, domain.CreateProductRequest{ProductID: "A", Title: "A", Price: 1, TotalStock: 1})
	require.NoError(t, err)
	_, err = ledger.Reserve(ctx, service.ReserveParams{ReservationID: "r1", ProductID: "A", OrderID: "o1", Quantity: 1})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	w := do(t, router, http.MethodPost, "/api/v1/inventory/cleanup-expired", nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, err = ledger.Reserve(ctx, service.ReserveParams{ReservationID: "r2", ProductID: "A", OrderID: "o2", Quantity: 1})
	require.NoError(t, err)

	w = do(t, router, http.MethodPost, "/api/v1/inventory/commit", gin.H{"reservation_id": "r1"})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"error":"reservation expired before it was committed","reservation_id":"r1","items":[]}`, w.Body.String())
}

type stubReserver struct {
	result *domain.ReservationResult
	err    error
}

func (s *stubReserver) Reserve(ctx context.Context, req domain.ReserveInventoryRequest) (*domain.ReservationResult, error) {
	return s.result, s.err
}

func (s *stubReserver) Release(ctx context.Context, reservationID string) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, ev events.Event) error { return nil }

func newOrderRouter(t *testing.T, reserver service.InventoryReserver) *gin.Engine {
	t.Helper()
	catalog := repository.NewMemoryCatalogRepository()
	_, err := catalog.Insert(context.Background(), &domain.CatalogProjection{ID: "A", Title: "Mug", Price: 10, CountInStock: 3})
	require.NoError(t, err)

	svc := service.NewOrderService(repository.NewMemoryOrderRepository(), catalog, reserver, nopPublisher{}, zap.NewNop())
	router := gin.New()
	router.GET("/health", Health)
	NewOrderHandler(svc, zap.NewNop()).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func TestOrderHandler_CreateAndGet(t *testing.T) {
	router := newOrderRouter(t, &stubReserver{result: &domain.ReservationResult{ReservationID: "res-1"}})

	w := do(t, router, http.MethodPost, "/api/v1/orders", gin.H{
		"user_id":        "user-1",
		"payment_method": "card",
		"items":          []gin.H{{"product_id": "A", "qty": 2}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var order domain.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, "res-1", order.ReservationID)

	w = do(t, router, http.MethodGet, "/api/v1/orders/"+order.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, "/api/v1/orders/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodGet, "/health", nil)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestOrderHandler_ReservationFailures(t *testing.T) {
	issues := []domain.ItemIssue{{ProductID: "A", Code: domain.IssueReservationFailed, Message: "Item is already reserved by other customers, please retry", Requested: 2}}
	router := newOrderRouter(t, &stubReserver{err: &domain.PartialFailureError{Issues: issues}})

	body := gin.H{"user_id": "user-1", "payment_method": "card", "items": []gin.H{{"product_id": "A", "qty": 2}}}
	w := do(t, router, http.MethodPost, "/api/v1/orders", body)
	require.Equal(t, http.StatusConflict, w.Code)

	var resp domain.ReservationIssuesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, issues, resp.Issues)

	router = newOrderRouter(t, &stubReserver{err: domain.ErrUpstreamUnavailable})
	w = do(t, router, http.MethodPost, "/api/v1/orders", body)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
