package service

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/campus-delivery/internal/config"
	"github.com/spec-kit/campus-delivery/internal/domain"
	"github.com/spec-kit/campus-delivery/internal/events"
	"github.com/spec-kit/campus-delivery/internal/repository"
	apperrors "github.com/spec-kit/campus-delivery/pkg/util"
)

// OrderService coordinates the delivery-order state machine.
type OrderService struct {
	orders     repository.OrderRepository
	users      repository.UserRepository
	dispatcher events.Dispatcher
	rewards    config.RewardConfig
	logger     *zap.Logger
}

// OrderDependencies bundles collaborators.
type OrderDependencies struct {
	OrderRepo  repository.OrderRepository
	UserRepo   repository.UserRepository
	Dispatcher events.Dispatcher
	Rewards    config.RewardConfig
	Logger     *zap.Logger
}

// OrderCreateInput describes an order request payload.
type OrderCreateInput struct {
	Pickup  string `json:"pickup"`
	Dropoff string `json:"dropoff"`
	Item    string `json:"item"`
}

// NewOrderService constructs the service.
func NewOrderService(deps OrderDependencies) *OrderService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderService{
		orders:     deps.OrderRepo,
		users:      deps.UserRepo,
		dispatcher: deps.Dispatcher,
		rewards:    deps.Rewards,
		logger:     logger,
	}
}

var allowedTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusRequested: {domain.OrderStatusAccepted, domain.OrderStatusCancelled},
	domain.OrderStatusAccepted:  {domain.OrderStatusInTransit, domain.OrderStatusCancelled},
	domain.OrderStatusInTransit: {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered: {},
	domain.OrderStatusCancelled: {},
}

func isValidTransition(current, next domain.OrderStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Create validates the request and opens a new order in REQUESTED.
func (s *OrderService) Create(ctx context.Context, requesterID int64, input OrderCreateInput) (*domain.Order, error) {
	pickup := strings.TrimSpace(input.Pickup)
	dropoff := strings.TrimSpace(input.Dropoff)
	item := strings.TrimSpace(input.Item)
	if pickup == "" || dropoff == "" || item == "" {
		return nil, apperrors.NewValidationError("pickup, dropoff and item are required", map[string]any{
			"pickup":  pickup,
			"dropoff": dropoff,
			"item":    item,
		})
	}

	order := &domain.Order{
		RequesterID: requesterID,
		Pickup:      pickup,
		Dropoff:     dropoff,
		Item:        item,
		Status:      domain.OrderStatusRequested,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, apperrors.NewPersistenceUnavailable(err)
	}

	publishEvent(ctx, s.dispatcher, events.Event{
		Type:   events.EventOrderCreated,
		UserID: requesterID,
		Payload: events.OrderCreatedPayload{
			OrderID: order.ID,
			Pickup:  order.Pickup,
			Dropoff: order.Dropoff,
			Item:    order.Item,
		},
	})
	return order, nil
}

// Accept claims an open order for the acting courier. Any registered user
// other than the requester may claim; the conditional write makes concurrent
// claims race-safe (one wins, the rest observe a conflict).
func (s *OrderService) Accept(ctx context.Context, courierID, orderID int64) (*domain.Order, error) {
	courier := courierID
	order, _, err := s.transition(ctx, courierID, orderID, domain.OrderStatusRequested, domain.OrderStatusAccepted,
		func(current *domain.Order) (*repository.TransitionEffects, error) {
			if current.RequesterID == courierID {
				return nil, apperrors.NewForbidden("requester cannot courier their own order")
			}
			return &repository.TransitionEffects{SetCourierID: &courier}, nil
		})
	return order, err
}

// Start moves an accepted order into transit. Courier only.
func (s *OrderService) Start(ctx context.Context, courierID, orderID int64) (*domain.Order, error) {
	order, _, err := s.transition(ctx, courierID, orderID, domain.OrderStatusAccepted, domain.OrderStatusInTransit,
		func(current *domain.Order) (*repository.TransitionEffects, error) {
			if err := requireCourier(current, courierID); err != nil {
				return nil, err
			}
			return nil, nil
		})
	return order, err
}

// Complete marks the order delivered. The delivery reward and the delivered
// status are written as one atomic pair: the requester is credited and their
// completed-deliveries counter incremented in the same transaction.
func (s *OrderService) Complete(ctx context.Context, courierID, orderID int64) (*domain.Order, *repository.CreditResult, error) {
	return s.transition(ctx, courierID, orderID, domain.OrderStatusInTransit, domain.OrderStatusDelivered,
		func(current *domain.Order) (*repository.TransitionEffects, error) {
			if err := requireCourier(current, courierID); err != nil {
				return nil, err
			}
			return &repository.TransitionEffects{
				CreditUserID:        current.RequesterID,
				CreditXP:            s.rewards.DeliveryXP,
				CreditCoins:         s.rewards.DeliveryCoins,
				LevelThreshold:      s.rewards.LevelUpThreshold,
				IncrementDeliveries: true,
			}, nil
		})
}

// Cancel ends the order from REQUESTED (requester or admin) or ACCEPTED
// (courier backs out, clearing the assignment).
func (s *OrderService) Cancel(ctx context.Context, actorID, orderID int64, isAdmin bool) (*domain.Order, error) {
	current, err := s.get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch current.Status {
	case domain.OrderStatusRequested:
		if current.RequesterID != actorID && !isAdmin {
			return nil, apperrors.NewForbidden("only the requester or an administrator may cancel an open order")
		}
		order, _, err := s.transition(ctx, actorID, orderID, domain.OrderStatusRequested, domain.OrderStatusCancelled,
			func(*domain.Order) (*repository.TransitionEffects, error) { return nil, nil })
		return order, err
	case domain.OrderStatusAccepted:
		if err := requireCourier(current, actorID); err != nil {
			return nil, err
		}
		order, _, err := s.transition(ctx, actorID, orderID, domain.OrderStatusAccepted, domain.OrderStatusCancelled,
			func(inner *domain.Order) (*repository.TransitionEffects, error) {
				if err := requireCourier(inner, actorID); err != nil {
					return nil, err
				}
				return &repository.TransitionEffects{ClearCourier: true}, nil
			})
		return order, err
	default:
		return nil, apperrors.NewInvalidTransition("order can no longer be cancelled", map[string]any{
			"order_id": orderID,
			"status":   current.Status,
		})
	}
}

// Rate attaches a one-time rating to a delivered order and credits the
// courier's bonus when the rating meets the threshold.
func (s *OrderService) Rate(ctx context.Context, requesterID, orderID int64, rating int) (*domain.Order, error) {
	if rating < domain.RatingMin || rating > domain.RatingMax {
		return nil, apperrors.NewValidationError("rating out of range", map[string]any{"rating": rating})
	}

	current, err := s.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if current.RequesterID != requesterID {
		return nil, apperrors.NewForbidden("only the requester may rate the order")
	}
	if current.Status != domain.OrderStatusDelivered {
		return nil, apperrors.NewInvalidTransition("only delivered orders can be rated", map[string]any{
			"order_id": orderID,
			"status":   current.Status,
		})
	}
	if current.Rated() {
		return nil, apperrors.NewInvalidTransition("order already rated", map[string]any{"order_id": orderID})
	}

	order, err := s.orders.AttachRating(ctx, orderID, rating)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrRatingConflict):
			return nil, apperrors.NewInvalidTransition("order already rated", map[string]any{"order_id": orderID})
		case errors.Is(err, pgx.ErrNoRows):
			return nil, apperrors.NewNotFound("order", map[string]any{"order_id": orderID})
		default:
			return nil, apperrors.NewPersistenceUnavailable(err)
		}
	}

	bonus := false
	if order.CourierID != nil && rating >= s.rewards.RatingThreshold &&
		(s.rewards.RatingBonusXP > 0 || s.rewards.RatingBonusCoins > 0) {
		if _, err := s.users.Credit(ctx, *order.CourierID, s.rewards.RatingBonusXP, s.rewards.RatingBonusCoins, s.rewards.LevelUpThreshold); err != nil {
			s.logger.Error("rating bonus credit failed", zap.Int64("courier_id", *order.CourierID), zap.Error(err))
		} else {
			bonus = true
		}
	}

	publishEvent(ctx, s.dispatcher, events.Event{
		Type:   events.EventOrderRated,
		UserID: requesterID,
		Payload: events.OrderRatedPayload{
			OrderID:   order.ID,
			Rating:    rating,
			CourierID: order.CourierID,
			Bonus:     bonus,
		},
	})
	return order, nil
}

// Track returns the requester's non-terminal orders. Read-only.
func (s *OrderService) Track(ctx context.Context, requesterID int64) ([]domain.Order, error) {
	orders, err := s.orders.ListActiveByRequester(ctx, requesterID)
	if err != nil {
		return nil, apperrors.NewPersistenceUnavailable(err)
	}
	return orders, nil
}

// transition drives one guarded status write. On a concurrency conflict the
// current state is re-read and the event re-evaluated once before an
// invalid-transition notice is surfaced.
func (s *OrderService) transition(ctx context.Context, actorID, orderID int64, from, to domain.OrderStatus,
	buildEffects func(*domain.Order) (*repository.TransitionEffects, error)) (*domain.Order, *repository.CreditResult, error) {

	for attempt := 0; ; attempt++ {
		current, err := s.get(ctx, orderID)
		if err != nil {
			return nil, nil, err
		}
		if current.Status != from || !isValidTransition(current.Status, to) {
			return nil, nil, apperrors.NewInvalidTransition("transition not allowed from current status", map[string]any{
				"order_id": orderID,
				"status":   current.Status,
				"target":   to,
			})
		}

		effects, err := buildEffects(current)
		if err != nil {
			return nil, nil, err
		}

		order, credit, err := s.orders.Transition(ctx, orderID, from, to, effects)
		if err != nil {
			if errors.Is(err, repository.ErrStatusConflict) && attempt == 0 {
				s.logger.Debug("order transition conflicted, retrying",
					zap.Int64("order_id", orderID), zap.String("target", string(to)))
				continue
			}
			if errors.Is(err, repository.ErrStatusConflict) {
				return nil, nil, apperrors.NewConcurrencyConflict("order changed concurrently", map[string]any{
					"order_id": orderID,
					"target":   to,
				})
			}
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, nil, apperrors.NewNotFound("order", map[string]any{"order_id": orderID})
			}
			return nil, nil, apperrors.NewPersistenceUnavailable(err)
		}

		publishEvent(ctx, s.dispatcher, events.Event{
			Type:   events.EventOrderStatusChanged,
			UserID: actorID,
			Payload: events.OrderStatusChangedPayload{
				OrderID:     order.ID,
				OldStatus:   from,
				NewStatus:   order.Status,
				ActorID:     actorID,
				RequesterID: order.RequesterID,
				CourierID:   order.CourierID,
			},
		})
		return order, credit, nil
	}
}

func (s *OrderService) get(ctx context.Context, orderID int64) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("order", map[string]any{"order_id": orderID})
		}
		return nil, apperrors.NewPersistenceUnavailable(err)
	}
	return order, nil
}

func requireCourier(order *domain.Order, actorID int64) error {
	if order.CourierID == nil || *order.CourierID != actorID {
		return apperrors.NewForbidden("only the assigned courier may do that")
	}
	return nil
}
