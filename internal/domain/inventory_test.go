package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(stock int) *InventoryRecord {
	return &InventoryRecord{ProductID: "PROD001", Title: "Mug", Price: 12.5, TotalStock: stock}
}

func reservation(id string, qty int, expiresAt time.Time) Reservation {
	return Reservation{ReservationID: id, OrderID: "order-" + id, Quantity: qty, RequestedBy: "user1", ExpiresAt: expiresAt}
}

func TestInventoryRecord_AddReservation(t *testing.T) {
	now := time.Now()
	rec := newRecord(5)

	require.NoError(t, rec.AddReservation(reservation("r1", 3, now.Add(time.Minute)), now))

	assert.Equal(t, 3, rec.ReservedQuantity)
	assert.Equal(t, 2, rec.Available())
	assert.Equal(t, int64(1), rec.Version)
	assert.True(t, rec.CheckInvariant())
}

func TestInventoryRecord_AddReservation_Insufficient(t *testing.T) {
	now := time.Now()
	rec := newRecord(2)

	err := rec.AddReservation(reservation("r1", 3, now), now)

	var ise *InsufficientStockError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, 2, ise.Available)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, int64(0), rec.Version)
	assert.Zero(t, rec.ReservedQuantity)
}

func TestInventoryRecord_AddReservation_InvalidQuantity(t *testing.T) {
	rec := newRecord(2)
	assert.ErrorIs(t, rec.AddReservation(reservation("r1", 0, time.Now()), time.Now()), ErrInvalidQuantity)
}

func TestInventoryRecord_RemoveReservation(t *testing.T) {
	now := time.Now()
	rec := newRecord(10)
	require.NoError(t, rec.AddReservation(reservation("r1", 2, now), now))
	require.NoError(t, rec.AddReservation(reservation("r2", 3, now), now))

	assert.Equal(t, 2, rec.RemoveReservation("r1", now))
	assert.Equal(t, 3, rec.ReservedQuantity)
	assert.Equal(t, 10, rec.TotalStock)
	assert.True(t, rec.CheckInvariant())

	version := rec.Version
	assert.Zero(t, rec.RemoveReservation("r1", now))
	assert.Equal(t, version, rec.Version, "removing an absent reservation must not bump the version")
}

func TestInventoryRecord_ConsumeReservation(t *testing.T) {
	now := time.Now()
	rec := newRecord(5)
	require.NoError(t, rec.AddReservation(reservation("r1", 3, now), now))

	assert.Equal(t, 3, rec.ConsumeReservation("r1", now))
	assert.Equal(t, 2, rec.TotalStock)
	assert.Zero(t, rec.ReservedQuantity)
	assert.Empty(t, rec.Reservations)
	assert.Zero(t, rec.ConsumeReservation("r1", now))
	assert.Equal(t, 2, rec.TotalStock)
}

func TestInventoryRecord_RemoveExpired(t *testing.T) {
	now := time.Now()
	rec := newRecord(10)
	require.NoError(t, rec.AddReservation(reservation("old", 4, now.Add(-time.Second)), now))
	require.NoError(t, rec.AddReservation(reservation("fresh", 1, now.Add(time.Hour)), now))

	expired := rec.RemoveExpired(now)

	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].ReservationID)
	assert.Equal(t, 1, rec.ReservedQuantity)
	assert.True(t, rec.HasReservation("fresh"))
	assert.True(t, rec.CheckInvariant())

	earliest, ok := rec.EarliestExpiry()
	require.True(t, ok)
	assert.Equal(t, now.Add(time.Hour), earliest)
}

func TestInventoryRecord_LapsedReservations(t *testing.T) {
	now := time.Now()
	rec := newRecord(2)
	require.NoError(t, rec.AddReservation(reservation("r1", 2, now.Add(-time.Second)), now))

	rec.RemoveExpired(now)
	assert.False(t, rec.HasReservation("r1"))
	assert.True(t, rec.Holds("r1"))
	assert.Equal(t, []string{"r1"}, rec.HeldReservationIDs())
	assert.Equal(t, 2, rec.Available())
	assert.True(t, rec.CheckInvariant())

	earliest, ok := rec.EarliestExpiry()
	require.True(t, ok)
	assert.Equal(t, now.Add(-time.Second).Add(LapsedRetention), earliest)

	require.NoError(t, rec.AddReservation(reservation("r2", 1, now.Add(time.Minute)), now))
	version := rec.Version
	_, err := rec.CommitReservation("r1", now)
	var lapsed *ReservationLapsedError
	require.ErrorAs(t, err, &lapsed)
	assert.Equal(t, 2, lapsed.Requested)
	assert.Equal(t, 1, lapsed.Available)
	assert.Equal(t, version, rec.Version)

	assert.Zero(t, rec.RemoveReservation("r1", now))
	assert.False(t, rec.Holds("r1"))
	assert.Equal(t, version+1, rec.Version)

	committed, err := rec.CommitReservation("unknown", now)
	require.NoError(t, err)
	assert.Zero(t, committed)
}

func TestInventoryRecord_RemoveExpiredBumpsVersionOnce(t *testing.T) {
	now := time.Now()
	rec := newRecord(5)
	rec.Lapsed = []Reservation{reservation("old", 1, now.Add(-LapsedRetention-time.Minute))}
	require.NoError(t, rec.AddReservation(reservation("new", 1, now.Add(-time.Second)), now))
	version := rec.Version

	expired := rec.RemoveExpired(now)

	require.Len(t, expired, 1)
	assert.Equal(t, version+1, rec.Version)
	require.Len(t, rec.Lapsed, 1)
	assert.Equal(t, "new", rec.Lapsed[0].ReservationID)
}

func TestInventoryRecord_CloneIsDeep(t *testing.T) {
	now := time.Now()
	rec := newRecord(10)
	require.NoError(t, rec.AddReservation(reservation("r1", 1, now), now))

	c := rec.Clone()
	c.Reservations[0].Quantity = 9

	assert.Equal(t, 1, rec.Reservations[0].Quantity)
}

func TestIssueFor(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    string
		message string
	}{
		{"only n left", &InsufficientStockError{Available: 2}, IssueInsufficientStock, "Only 2 left in stock"},
		{"out of stock", &InsufficientStockError{Available: 0}, IssueInsufficientStock, "Out of stock"},
		{"not found", ErrNotFound, IssueNotFound, "Product not found"},
		{"conflict", ErrReservationConflict, IssueReservationFailed, "Item is already reserved by other customers, please retry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issue := IssueFor("PROD001", 3, tt.err)
			assert.Equal(t, tt.code, issue.Code)
			assert.Equal(t, tt.message, issue.Message)
			assert.Equal(t, 3, issue.Requested)
		})
	}
}
