package dto

import "time"

// InboundEventRequest is the transport adapter's envelope for one user
// interaction.
type InboundEventRequest struct {
	UserID    int64     `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Payload   string    `json:"payload"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
}
