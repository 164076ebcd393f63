package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/domain"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// contendedRepository loses every conditional write on one product, as if
// other customers kept winning the race for it.
type contendedRepository struct {
	*repository.MemoryInventoryRepository
	contended string
}

func (r *contendedRepository) SaveIfVersion(ctx context.Context, rec *domain.InventoryRecord, expectedVersion int64) error {
	if rec.ProductID == r.contended {
		return domain.ErrVersionConflict
	}
	return r.MemoryInventoryRepository.SaveIfVersion(ctx, rec, expectedVersion)
}

func newCoordinator(t *testing.T, repo repository.InventoryRepository, stock map[string]int) (*ReservationCoordinator, *InventoryLedger) {
	t.Helper()
	ledger := NewInventoryLedger(repo, nil, zap.NewNop(), LedgerOptions{ReservationTTL: time.Minute, MaxAttempts: 3})
	for id, qty := range stock {
		_, err := ledger.CreateProduct(context.Background(), domain.CreateProductRequest{ProductID: id, Title: id, Price: 5, TotalStock: qty})
		require.NoError(t, err)
	}
	return NewReservationCoordinator(ledger, zap.NewNop()), ledger
}

func TestReserveOrder_AllItems(t *testing.T) {
	ctx := context.Background()
	coord, ledger := newCoordinator(t, repository.NewMemoryInventoryRepository(), map[string]int{"A": 5, "B": 5})

	result, err := coord.ReserveOrder(ctx, domain.ReserveInventoryRequest{
		OrderID: "order-1",
		UserID:  "user-1",
		Items: []domain.ReserveItem{
			{ProductID: "A", Quantity: 1},
			{ProductID: "B", Quantity: 2},
			{ProductID: "A", Quantity: 2},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.ReservationID)
	assert.Equal(t, []domain.ReserveItem{{ProductID: "A", Quantity: 3}, {ProductID: "B", Quantity: 2}}, result.ReservedItems)
	assert.False(t, result.ExpiresAt.IsZero())

	a, err := ledger.GetProduct(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 3, a.ReservedQuantity)
	assert.True(t, a.HasReservation(result.ReservationID))
	assert.Equal(t, "order-1", a.Reservations[0].OrderID)
	assert.Equal(t, "user-1", a.Reservations[0].RequestedBy)
}

func TestReserveOrder_RetryWithSameIDHoldsOnce(t *testing.T) {
	ctx := context.Background()
	coord, ledger := newCoordinator(t, repository.NewMemoryInventoryRepository(), map[string]int{"A": 4, "B": 2})
	req := domain.ReserveInventoryRequest{
		ReservationID: "res-42",
		OrderID:       "order-1",
		UserID:        "user-1",
		Items:         []domain.ReserveItem{{ProductID: "A", Quantity: 3}, {ProductID: "B", Quantity: 2}},
	}

	first, err := coord.ReserveOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "res-42", first.ReservationID)

	// B는 재고가 모두 잡혀 있지만 같은 예약이므로 통과
	again, err := coord.ReserveOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ReservationID, again.ReservationID)
	assert.Equal(t, first.ExpiresAt, again.ExpiresAt)

	for id, held := range map[string]int{"A": 3, "B": 2} {
		rec, err := ledger.GetProduct(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, held, rec.ReservedQuantity, id)
		assert.Len(t, rec.Reservations, 1, id)
	}
}

func TestReserveOrder_PreCheckAggregatesIssues(t *testing.T) {
	ctx := context.Background()
	coord, ledger := newCoordinator(t, repository.NewMemoryInventoryRepository(), map[string]int{"A": 5, "B": 0, "C": 2})

	_, err := coord.ReserveOrder(ctx, domain.ReserveInventoryRequest{
		OrderID: "order-1",
		UserID:  "user-1",
		Items: []domain.ReserveItem{
			{ProductID: "A", Quantity: 1},
			{ProductID: "B", Quantity: 1},
			{ProductID: "C", Quantity: 3},
			{ProductID: "missing", Quantity: 1},
		},
	})
	require.ErrorIs(t, err, domain.ErrPartialSagaFailure)

	var pfe *domain.PartialFailureError
	require.True(t, errors.As(err, &pfe))
	assert.Equal(t, []domain.ItemIssue{
		{ProductID: "B", Code: domain.IssueInsufficientStock, Message: "Out of stock", Requested: 1, Available: 0},
		{ProductID: "C", Code: domain.IssueInsufficientStock, Message: "Only 2 left in stock", Requested: 3, Available: 2},
		{ProductID: "missing", Code: domain.IssueNotFound, Message: "Product not found", Requested: 1},
	}, pfe.Issues)

	a, err := ledger.GetProduct(ctx, "A")
	require.NoError(t, err)
	assert.Zero(t, a.ReservedQuantity)
}

func TestReserveOrder_CompensatesOnMidSagaFailure(t *testing.T) {
	ctx := context.Background()
	repo := &contendedRepository{MemoryInventoryRepository: repository.NewMemoryInventoryRepository(), contended: "C"}
	coord, ledger := newCoordinator(t, repo, map[string]int{"A": 5, "B": 5, "C": 5})

	_, err := coord.ReserveOrder(ctx, domain.ReserveInventoryRequest{
		OrderID: "order-1",
		UserID:  "user-1",
		Items: []domain.ReserveItem{
			{ProductID: "A", Quantity: 1},
			{ProductID: "B", Quantity: 1},
			{ProductID: "C", Quantity: 1},
		},
	})

	var pfe *domain.PartialFailureError
	require.ErrorAs(t, err, &pfe)
	require.Len(t, pfe.Issues, 1)
	assert.Equal(t, "C", pfe.Issues[0].ProductID)
	assert.Equal(t, domain.IssueReservationFailed, pfe.Issues[0].Code)
	assert.Equal(t, "Item is already reserved by other customers, please retry", pfe.Issues[0].Message)

	for _, id := range []string{"A", "B", "C"} {
		rec, err := ledger.GetProduct(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, rec.ReservedQuantity, "product %s still holds stock", id)
		assert.Empty(t, rec.Reservations)
		assert.True(t, rec.CheckInvariant())
	}
}

func TestReserveOrder_CompensationSurvivesCancelledCaller(t *testing.T) {
	repo := &contendedRepository{MemoryInventoryRepository: repository.NewMemoryInventoryRepository(), contended: "B"}
	coord, ledger := newCoordinator(t, repo, map[string]int{"A": 5, "B": 5})

	// 호출자가 이미 취소되어도 보상 해제는 실행됨
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := coord.ReserveOrder(ctx, domain.ReserveInventoryRequest{
		OrderID: "order-1",
		UserID:  "user-1",
		Items:   []domain.ReserveItem{{ProductID: "A", Quantity: 2}, {ProductID: "B", Quantity: 1}},
	})
	require.Error(t, err)

	a, err := ledger.GetProduct(context.Background(), "A")
	require.NoError(t, err)
	assert.Zero(t, a.ReservedQuantity)
}

func TestReserveOrder_RejectsInvalidQuantity(t *testing.T) {
	coord, _ := newCoordinator(t, repository.NewMemoryInventoryRepository(), map[string]int{"A": 5})

	_, err := coord.ReserveOrder(context.Background(), domain.ReserveInventoryRequest{
		OrderID: "order-1",
		Items:   []domain.ReserveItem{{ProductID: "A", Quantity: 0}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = coord.ReserveOrder(context.Background(), domain.ReserveInventoryRequest{OrderID: "order-1"})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}
