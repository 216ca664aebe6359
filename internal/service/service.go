package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/campus-delivery/internal/events"
)

// publishEvent stamps and publishes a domain event, tolerating a nil
// dispatcher so services stay usable in isolation.
func publishEvent(ctx context.Context, dispatcher events.Dispatcher, event events.Event) {
	if dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = dispatcher.Publish(ctx, event)
}
