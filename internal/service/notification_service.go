package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/campus-delivery/internal/config"
	"github.com/spec-kit/campus-delivery/internal/domain"
	"github.com/spec-kit/campus-delivery/internal/events"
)

// ReplyOutbox queues replies addressed to users other than the one whose
// event is currently being processed.
type ReplyOutbox interface {
	Enqueue(ctx context.Context, reply domain.Reply) error
}

// NotificationService turns committed domain events into cross-user replies:
// counterparties and administrators learn about transitions they did not
// trigger themselves.
type NotificationService struct {
	dispatcher events.Dispatcher
	outbox     ReplyOutbox
	bot        config.BotConfig
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, outbox ReplyOutbox, bot config.BotConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		outbox:     outbox,
		bot:        bot,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventOrderCreated, n.handleOrderCreated)
	n.dispatcher.Subscribe(events.EventOrderStatusChanged, n.handleOrderStatusChanged)
	n.dispatcher.Subscribe(events.EventOrderRated, n.handleOrderRated)
	n.dispatcher.Subscribe(events.EventLevelUp, n.handleLevelUp)
}

// handleOrderCreated announces a new open order to the administrators, who
// relay it to available couriers.
func (n *NotificationService) handleOrderCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.OrderCreatedPayload)
	if !ok {
		return nil
	}
	for _, adminID := range n.bot.AdminIDs {
		n.enqueue(ctx, domain.Reply{
			UserID:     adminID,
			MessageKey: domain.MsgCourierNewOrder,
			Substitutions: map[string]any{
				"order_id": payload.OrderID,
				"pickup":   payload.Pickup,
				"dropoff":  payload.Dropoff,
				"item":     payload.Item,
			},
		})
	}
	return nil
}

// handleOrderStatusChanged informs the parties who did not trigger the
// transition. The actor already received a synchronous reply.
func (n *NotificationService) handleOrderStatusChanged(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.OrderStatusChangedPayload)
	if !ok {
		return nil
	}
	key := statusMessageKey(payload.NewStatus)
	if key == "" {
		return nil
	}
	subs := map[string]any{
		"order_id": payload.OrderID,
		"status":   payload.NewStatus,
	}
	if payload.RequesterID != payload.ActorID {
		reply := domain.Reply{UserID: payload.RequesterID, MessageKey: key, Substitutions: subs}
		if payload.NewStatus == domain.OrderStatusDelivered {
			reply.KeyboardSpec = domain.KbRating
		}
		n.enqueue(ctx, reply)
	}
	if payload.CourierID != nil && *payload.CourierID != payload.ActorID {
		n.enqueue(ctx, domain.Reply{UserID: *payload.CourierID, MessageKey: key, Substitutions: subs})
	}
	return nil
}

func (n *NotificationService) handleOrderRated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.OrderRatedPayload)
	if !ok || payload.CourierID == nil {
		return nil
	}
	n.enqueue(ctx, domain.Reply{
		UserID:     *payload.CourierID,
		MessageKey: domain.MsgCourierRated,
		Substitutions: map[string]any{
			"order_id": payload.OrderID,
			"rating":   payload.Rating,
			"bonus":    payload.Bonus,
		},
	})
	return nil
}

func (n *NotificationService) handleLevelUp(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.LevelUpPayload)
	if !ok {
		return nil
	}
	n.enqueue(ctx, domain.Reply{
		UserID:     event.UserID,
		MessageKey: domain.MsgLevelUp,
		Substitutions: map[string]any{
			"level": payload.Level,
			"xp":    payload.XP,
		},
	})
	return nil
}

func (n *NotificationService) enqueue(ctx context.Context, reply domain.Reply) {
	if n.outbox == nil {
		return
	}
	if err := n.outbox.Enqueue(ctx, reply); err != nil {
		n.logger.Error("enqueue reply failed",
			zap.Int64("user_id", reply.UserID),
			zap.String("message_key", reply.MessageKey),
			zap.Error(err))
	}
}

func statusMessageKey(status domain.OrderStatus) string {
	switch status {
	case domain.OrderStatusAccepted:
		return domain.MsgOrderAccepted
	case domain.OrderStatusInTransit:
		return domain.MsgOrderInTransit
	case domain.OrderStatusDelivered:
		return domain.MsgOrderDelivered
	case domain.OrderStatusCancelled:
		return domain.MsgOrderCancelled
	default:
		return ""
	}
}
