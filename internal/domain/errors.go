package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrReservationConflict = errors.New("reservation conflict")
	ErrPartialSagaFailure  = errors.New("could not reserve all items, please retry")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrInvalidQuantity     = errors.New("quantity must be positive")
	ErrVersionConflict     = errors.New("version conflict")
	ErrProductExists       = errors.New("product already exists")
	ErrStockBelowReserved  = errors.New("total stock cannot drop below reserved quantity")
	ErrActiveReservations  = errors.New("product has active reservations")
	ErrOrderTerminal       = errors.New("order is already completed or cancelled")
	ErrReservationLapsed   = errors.New("reservation expired before it was committed")
)

// InsufficientStockError carries the available amount so callers can build
// "only N left" messages.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// ReservationLapsedError is a commit that arrived after the sweep returned
// the reservation to stock, and the stock is gone.
type ReservationLapsedError struct {
	ProductID     string
	ReservationID string
	Requested     int
	Available     int
}

func (e *ReservationLapsedError) Error() string {
	return fmt.Sprintf("reservation %s on product %s lapsed: requested %d, available %d",
		e.ReservationID, e.ProductID, e.Requested, e.Available)
}

func (e *ReservationLapsedError) Is(target error) bool {
	return target == ErrReservationLapsed
}

// Issue codes reported per item of a batch reservation.
const (
	IssueNotFound          = "not_found"
	IssueInsufficientStock = "insufficient_stock"
	IssueReservationFailed = "reservation_failed"
)

// ItemIssue describes why one item of a batch reservation failed.
type ItemIssue struct {
	ProductID string `json:"product_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// PartialFailureError is returned once every successfully reserved item has
// been compensated.
type PartialFailureError struct {
	Issues []ItemIssue
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s (%d issue(s))", ErrPartialSagaFailure.Error(), len(e.Issues))
}

func (e *PartialFailureError) Is(target error) bool {
	return target == ErrPartialSagaFailure
}

// IssueFor maps a per-item reservation error to its user-facing issue.
func IssueFor(productID string, requested int, err error) ItemIssue {
	issue := ItemIssue{ProductID: productID, Requested: requested}

	var ise *InsufficientStockError
	switch {
	case errors.As(err, &ise):
		issue.Code = IssueInsufficientStock
		issue.Available = ise.Available
		if ise.Available > 0 {
			issue.Message = fmt.Sprintf("Only %d left in stock", ise.Available)
		} else {
			issue.Message = "Out of stock"
		}
	case errors.Is(err, ErrNotFound):
		issue.Code = IssueNotFound
		issue.Message = "Product not found"
	default:
		issue.Code = IssueReservationFailed
		issue.Message = "Item is already reserved by other customers, please retry"
	}
	return issue
}
