package domain

import "time"

// OrderStatus enumerates lifecycle states for delivery orders.
type OrderStatus string

const (
	OrderStatusRequested OrderStatus = "REQUESTED"
	OrderStatusAccepted  OrderStatus = "ACCEPTED"
	OrderStatusInTransit OrderStatus = "IN_TRANSIT"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// IsTerminal reports whether no further status transition is possible. A
// delivered order still accepts a one-time rating attachment.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Rating bounds for delivered orders.
const (
	RatingMin = 1
	RatingMax = 5
)

// Order is the aggregate for a delivery request.
type Order struct {
	ID          int64
	RequesterID int64
	CourierID   *int64
	Pickup      string
	Dropoff     string
	Item        string
	Status      OrderStatus
	Rating      *int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Rated reports whether a rating has been attached.
func (o *Order) Rated() bool {
	return o.Rating != nil
}
