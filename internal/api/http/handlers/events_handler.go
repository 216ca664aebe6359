package handlers

import (
	"crypto/subtle"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/campus-delivery/internal/api/dto"
	"github.com/spec-kit/campus-delivery/internal/domain"
	"github.com/spec-kit/campus-delivery/internal/engine"
	"github.com/spec-kit/campus-delivery/pkg/util"
)

// HeaderWebhookToken authenticates the transport adapter on the events
// endpoint.
const HeaderWebhookToken = "X-Webhook-Token"

// EventsHandler exposes the inbound interaction endpoint consumed by the
// messaging transport adapter.
type EventsHandler struct {
	engine       *engine.Engine
	webhookToken string
}

// NewEventsHandler constructs handler.
func NewEventsHandler(eng *engine.Engine, webhookToken string) *EventsHandler {
	return &EventsHandler{engine: eng, webhookToken: webhookToken}
}

// Handle handles POST /v1/events.
func (h *EventsHandler) Handle(c *fiber.Ctx) error {
	token := c.Get(HeaderWebhookToken)
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.webhookToken)) != 1 {
		return util.NewUnauthorized("invalid webhook token")
	}

	var req dto.InboundEventRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid payload", nil)
	}

	kind := domain.EventKind(req.Kind)
	switch kind {
	case domain.EventKindText, domain.EventKindButton, domain.EventKindContact:
	default:
		return util.NewValidationError("unknown event kind", map[string]any{"kind": req.Kind})
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	replies, err := h.engine.Process(c.UserContext(), domain.InboundEvent{
		UserID:    req.UserID,
		Timestamp: ts,
		Kind:      kind,
		Payload:   req.Payload,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"data": fiber.Map{"replies": replies}})
}
