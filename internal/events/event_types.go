package events

import (
	"time"

	"github.com/spec-kit/campus-delivery/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventUserRegistered     EventType = "user_registered"
	EventOrderCreated       EventType = "order_created"
	EventOrderStatusChanged EventType = "order_status_changed"
	EventOrderRated         EventType = "order_rated"
	EventLevelUp            EventType = "level_up"
)

// Event represents a domain event emitted after a committed transition.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	UserID    int64       `json:"user_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// UserRegisteredPayload payload.
type UserRegisteredPayload struct {
	Campus   string `json:"campus"`
	Language string `json:"language"`
	XP       int64  `json:"xp"`
	Coins    int64  `json:"coins"`
}

// OrderCreatedPayload payload.
type OrderCreatedPayload struct {
	OrderID int64  `json:"order_id"`
	Pickup  string `json:"pickup"`
	Dropoff string `json:"dropoff"`
	Item    string `json:"item"`
}

// OrderStatusChangedPayload payload.
type OrderStatusChangedPayload struct {
	OrderID     int64              `json:"order_id"`
	OldStatus   domain.OrderStatus `json:"old_status"`
	NewStatus   domain.OrderStatus `json:"new_status"`
	ActorID     int64              `json:"actor_id"`
	RequesterID int64              `json:"requester_id"`
	CourierID   *int64             `json:"courier_id,omitempty"`
}

// OrderRatedPayload payload.
type OrderRatedPayload struct {
	OrderID   int64  `json:"order_id"`
	Rating    int    `json:"rating"`
	CourierID *int64 `json:"courier_id,omitempty"`
	Bonus     bool   `json:"bonus"`
}

// LevelUpPayload payload.
type LevelUpPayload struct {
	Level int   `json:"level"`
	XP    int64 `json:"xp"`
}
