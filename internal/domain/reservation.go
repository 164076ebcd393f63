package domain

import "time"

type ReserveItem struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity"   binding:"required,min=1"`
}

type ReserveInventoryRequest struct {
	// ReservationID lets the caller retry or release a reservation whose
	// response it never saw. Generated when empty.
	ReservationID string        `json:"reservation_id,omitempty"`
	OrderID       string        `json:"order_id"                 binding:"required"`
	UserID        string        `json:"user_id"                  binding:"required"`
	Items         []ReserveItem `json:"items"                    binding:"required,min=1,dive"`
}

// ReservationResult is returned once every item of an order is reserved
// under one reservation id.
type ReservationResult struct {
	ReservationID string        `json:"reservation_id"`
	ReservedItems []ReserveItem `json:"reserved_items"`
	ExpiresAt     time.Time     `json:"expires_at"`
}

type ReservationRefRequest struct {
	ReservationID string `json:"reservation_id" binding:"required"`
}

type ReservationRefResponse struct {
	ReservationID string         `json:"reservation_id"`
	Items         []AffectedItem `json:"items"`
}

type ReservationIssuesResponse struct {
	Error  string      `json:"error"`
	Issues []ItemIssue `json:"issues"`
}
