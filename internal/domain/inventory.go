package domain

import (
	"time"
)

// LapsedRetention is how long a swept reservation is remembered so a late
// commit is recognised instead of silently ignored.
const LapsedRetention = 24 * time.Hour

// InventoryRecord is the catalog item together with its stock ledger.
// reserved_quantity always equals the sum of the active reservations.
// Lapsed reservations hold no stock.
type InventoryRecord struct {
	ProductID        string        `dynamodbav:"product_id"        json:"product_id"`
	Title            string        `dynamodbav:"title"             json:"title"`
	Price            float64       `dynamodbav:"price"             json:"price"`
	TotalStock       int           `dynamodbav:"total_stock"       json:"total_stock"`
	ReservedQuantity int           `dynamodbav:"reserved_quantity" json:"reserved_quantity"`
	Reservations     []Reservation `dynamodbav:"reservations"      json:"reservations"`
	Lapsed           []Reservation `dynamodbav:"lapsed,omitempty"  json:"lapsed,omitempty"`
	Version          int64         `dynamodbav:"version"           json:"version"`
	CreatedAt        time.Time     `dynamodbav:"created_at"        json:"created_at"`
	UpdatedAt        time.Time     `dynamodbav:"updated_at"        json:"updated_at"`
}

// Reservation is a time-bounded hold on stock for one order. It is never
// partially consumed: it is either removed whole or kept.
type Reservation struct {
	ReservationID string    `dynamodbav:"reservation_id" json:"reservation_id"`
	OrderID       string    `dynamodbav:"order_id"       json:"order_id"`
	Quantity      int       `dynamodbav:"quantity"       json:"quantity"`
	RequestedBy   string    `dynamodbav:"requested_by"   json:"requested_by"`
	ReservedAt    time.Time `dynamodbav:"reserved_at"    json:"reserved_at"`
	ExpiresAt     time.Time `dynamodbav:"expires_at"     json:"expires_at"`
}

func (r Reservation) Expired(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}

// Available is the quantity that can still be reserved.
func (i *InventoryRecord) Available() int {
	return i.TotalStock - i.ReservedQuantity
}

// CheckInvariant reports whether the ledger totals are consistent.
func (i *InventoryRecord) CheckInvariant() bool {
	sum := 0
	for _, r := range i.Reservations {
		sum += r.Quantity
	}
	return sum == i.ReservedQuantity && i.ReservedQuantity >= 0 && i.Available() >= 0
}

// AddReservation appends r and bumps the version. The caller must have
// checked availability against this exact version of the record.
func (i *InventoryRecord) AddReservation(r Reservation, now time.Time) error {
	if r.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if i.Available() < r.Quantity {
		return &InsufficientStockError{ProductID: i.ProductID, Requested: r.Quantity, Available: i.Available()}
	}
	i.Reservations = append(i.Reservations, r)
	i.ReservedQuantity += r.Quantity
	i.touch(now)
	return nil
}

// RemoveReservation drops every reservation carrying reservationID and
// returns the released quantity. A lapsed entry under the same id is
// forgotten as well; the version moves only when something was dropped.
func (i *InventoryRecord) RemoveReservation(reservationID string, now time.Time) int {
	released := i.remove(func(r Reservation) bool { return r.ReservationID == reservationID })
	forgotten := i.forgetLapsed(reservationID)
	if released > 0 || forgotten > 0 {
		i.touch(now)
	}
	return released
}

// ConsumeReservation removes the reservation and permanently deducts its
// quantity from total stock.
func (i *InventoryRecord) ConsumeReservation(reservationID string, now time.Time) int {
	consumed := i.remove(func(r Reservation) bool { return r.ReservationID == reservationID })
	if consumed > 0 {
		i.forgetLapsed(reservationID)
		i.TotalStock -= consumed
		i.touch(now)
	}
	return consumed
}

// CommitReservation consumes reservationID. A reservation the sweep already
// lapsed is consumed from available stock when enough is left, otherwise a
// ReservationLapsedError is returned and nothing changes. Committing an
// unknown id is a no-op.
func (i *InventoryRecord) CommitReservation(reservationID string, now time.Time) (int, error) {
	if consumed := i.ConsumeReservation(reservationID, now); consumed > 0 {
		return consumed, nil
	}

	lapsed := 0
	for _, r := range i.Lapsed {
		if r.ReservationID == reservationID {
			lapsed += r.Quantity
		}
	}
	if lapsed == 0 {
		return 0, nil
	}
	if i.Available() < lapsed {
		return 0, &ReservationLapsedError{
			ProductID:     i.ProductID,
			ReservationID: reservationID,
			Requested:     lapsed,
			Available:     i.Available(),
		}
	}

	i.forgetLapsed(reservationID)
	i.TotalStock -= lapsed
	i.touch(now)
	return lapsed, nil
}

// RemoveExpired moves every reservation that expired before now to Lapsed
// and forgets lapsed entries older than LapsedRetention. The version moves
// once when either happened.
func (i *InventoryRecord) RemoveExpired(now time.Time) (expired []Reservation) {
	for _, r := range i.Reservations {
		if r.Expired(now) {
			expired = append(expired, r)
		}
	}
	if len(expired) > 0 {
		i.remove(func(r Reservation) bool { return r.Expired(now) })
		i.Lapsed = append(i.Lapsed, expired...)
	}

	kept := i.Lapsed[:0:0]
	for _, r := range i.Lapsed {
		if r.ExpiresAt.Add(LapsedRetention).After(now) {
			kept = append(kept, r)
		}
	}
	pruned := len(kept) != len(i.Lapsed)
	if len(kept) == 0 {
		kept = nil
	}
	i.Lapsed = kept

	if len(expired) > 0 || pruned {
		i.touch(now)
	}
	return expired
}

// HasReservation reports whether the record holds reservationID.
func (i *InventoryRecord) HasReservation(reservationID string) bool {
	_, ok := i.FindReservation(reservationID)
	return ok
}

// FindReservation returns the active reservation carrying reservationID.
func (i *InventoryRecord) FindReservation(reservationID string) (Reservation, bool) {
	for _, r := range i.Reservations {
		if r.ReservationID == reservationID {
			return r, true
		}
	}
	return Reservation{}, false
}

// Holds reports whether reservationID is active or lapsed on the record.
func (i *InventoryRecord) Holds(reservationID string) bool {
	if i.HasReservation(reservationID) {
		return true
	}
	for _, r := range i.Lapsed {
		if r.ReservationID == reservationID {
			return true
		}
	}
	return false
}

// HeldReservationIDs lists the distinct active and lapsed reservation ids.
func (i *InventoryRecord) HeldReservationIDs() []string {
	ids := make([]string, 0, len(i.Reservations)+len(i.Lapsed))
	seen := make(map[string]bool, cap(ids))
	for _, list := range [][]Reservation{i.Reservations, i.Lapsed} {
		for _, r := range list {
			if !seen[r.ReservationID] {
				seen[r.ReservationID] = true
				ids = append(ids, r.ReservationID)
			}
		}
	}
	return ids
}

// EarliestExpiry returns when the record next needs a sweep: the soonest
// active expiry, or the moment a lapsed entry falls out of retention.
func (i *InventoryRecord) EarliestExpiry() (time.Time, bool) {
	var earliest time.Time
	for _, r := range i.Reservations {
		if earliest.IsZero() || r.ExpiresAt.Before(earliest) {
			earliest = r.ExpiresAt
		}
	}
	for _, r := range i.Lapsed {
		if at := r.ExpiresAt.Add(LapsedRetention); earliest.IsZero() || at.Before(earliest) {
			earliest = at
		}
	}
	return earliest, !earliest.IsZero()
}

// Clone returns a deep copy, so in-flight mutations never leak into a store.
func (i *InventoryRecord) Clone() *InventoryRecord {
	c := *i
	c.Reservations = append([]Reservation(nil), i.Reservations...)
	if i.Lapsed != nil {
		c.Lapsed = append([]Reservation(nil), i.Lapsed...)
	}
	return &c
}

func (i *InventoryRecord) forgetLapsed(reservationID string) int {
	kept := i.Lapsed[:0:0]
	for _, r := range i.Lapsed {
		if r.ReservationID != reservationID {
			kept = append(kept, r)
		}
	}
	forgotten := len(i.Lapsed) - len(kept)
	if len(kept) == 0 {
		kept = nil
	}
	i.Lapsed = kept
	return forgotten
}

func (i *InventoryRecord) remove(match func(Reservation) bool) int {
	kept := i.Reservations[:0:0]
	removed := 0
	for _, r := range i.Reservations {
		if match(r) {
			removed += r.Quantity
			continue
		}
		kept = append(kept, r)
	}
	i.Reservations = kept
	i.ReservedQuantity -= removed
	return removed
}

func (i *InventoryRecord) touch(now time.Time) {
	i.Version++
	i.UpdatedAt = now
}

// AffectedItem reports the quantity moved on one product by a release,
// commit or sweep.
type AffectedItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// SweepResult summarises one expiry sweep.
type SweepResult struct {
	RecordsScanned      int            `json:"records_scanned"`
	RecordsUpdated      int            `json:"records_updated"`
	ReservationsExpired int            `json:"reservations_expired"`
	Released            map[string]int `json:"released"`
}
