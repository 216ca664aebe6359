package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/campus-delivery/internal/config"
	"github.com/spec-kit/campus-delivery/internal/domain"
	"github.com/spec-kit/campus-delivery/internal/observability"
	"github.com/spec-kit/campus-delivery/internal/ratelimit"
	"github.com/spec-kit/campus-delivery/internal/repository"
	"github.com/spec-kit/campus-delivery/internal/service"
	apperrors "github.com/spec-kit/campus-delivery/pkg/util"
)

// Engine is the inbound-event front door: admission control, per-user
// serialization and routing between the onboarding and order state machines.
type Engine struct {
	limiter      *ratelimit.Limiter
	users        repository.UserRepository
	onboarding   *service.OnboardingService
	orders       *service.OrderService
	gamification *service.GamificationService
	bot          config.BotConfig
	metrics      *observability.Metrics
	logger       *zap.Logger

	mu    sync.Mutex
	locks map[int64]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// Dependencies bundles collaborators for the engine.
type Dependencies struct {
	Limiter      *ratelimit.Limiter
	UserRepo     repository.UserRepository
	Onboarding   *service.OnboardingService
	Orders       *service.OrderService
	Gamification *service.GamificationService
	Bot          config.BotConfig
	Metrics      *observability.Metrics
	Logger       *zap.Logger
}

// New constructs the engine.
func New(deps Dependencies) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		limiter:      deps.Limiter,
		users:        deps.UserRepo,
		onboarding:   deps.Onboarding,
		orders:       deps.Orders,
		gamification: deps.Gamification,
		bot:          deps.Bot,
		metrics:      deps.Metrics,
		logger:       logger,
	}
}

// Process applies one inbound event. Events from the same user are applied
// in arrival order under a per-user lock; distinct users proceed in
// parallel. An event that fails admission is answered with a throttling
// notice and never reaches a state machine.
func (e *Engine) Process(ctx context.Context, event domain.InboundEvent) ([]domain.Reply, error) {
	if event.UserID <= 0 {
		return nil, apperrors.NewValidationError("missing user id", nil)
	}

	if e.limiter != nil && !e.limiter.Admit(event.UserID, event.Timestamp) {
		e.metrics.RecordDenied(string(event.Kind))
		return []domain.Reply{{UserID: event.UserID, MessageKey: domain.MsgSlowDown}}, nil
	}
	e.metrics.RecordAdmitted(string(event.Kind))

	unlock := e.lockUser(event.UserID)
	defer unlock()

	replies, err := e.dispatch(ctx, event)
	if err != nil {
		return e.convertError(event, err)
	}
	e.metrics.RecordReplies(len(replies))
	return replies, nil
}

func (e *Engine) lockUser(id int64) func() {
	e.mu.Lock()
	if e.locks == nil {
		e.locks = make(map[int64]*userLock)
	}
	lock := e.locks[id]
	if lock == nil {
		lock = &userLock{}
		e.locks[id] = lock
	}
	lock.refs++
	e.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		e.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(e.locks, id)
		}
		e.mu.Unlock()
	}
}

func (e *Engine) dispatch(ctx context.Context, event domain.InboundEvent) ([]domain.Reply, error) {
	user, err := e.users.GetByID(ctx, event.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return e.onboarding.HandleEvent(ctx, event)
		}
		return nil, apperrors.NewPersistenceUnavailable(err)
	}

	if err := e.users.TouchLastActive(ctx, user.TelegramID); err != nil {
		e.logger.Warn("touch last active failed", zap.Int64("user_id", user.TelegramID), zap.Error(err))
	}

	return e.routeRegistered(ctx, event, user)
}

func (e *Engine) routeRegistered(ctx context.Context, event domain.InboundEvent, user *domain.User) ([]domain.Reply, error) {
	payload := strings.TrimSpace(event.Payload)

	if event.Kind == domain.EventKindText {
		switch strings.ToLower(payload) {
		case "track":
			return e.trackOrders(ctx, user)
		case "profile":
			return []domain.Reply{profileReply(user)}, nil
		case "leaderboard":
			return e.leaderboard(ctx, user.TelegramID)
		}
		return []domain.Reply{{UserID: user.TelegramID, MessageKey: domain.MsgUnknownCommand, KeyboardSpec: domain.KbMainMenu}}, nil
	}

	if event.Kind != domain.EventKindButton {
		return []domain.Reply{{UserID: user.TelegramID, MessageKey: domain.MsgUnknownCommand, KeyboardSpec: domain.KbMainMenu}}, nil
	}

	parts := strings.SplitN(payload, ":", 3)
	switch {
	case len(parts) >= 2 && parts[0] == "order" && parts[1] == "create":
		return e.createOrder(ctx, user, parts)
	case len(parts) == 3 && parts[0] == "order" && parts[1] == "cancel":
		return e.cancelOrder(ctx, user, parts[2])
	case len(parts) == 3 && parts[0] == "courier":
		return e.courierAction(ctx, user, parts[1], parts[2])
	case len(parts) == 3 && parts[0] == "rate":
		return e.rateOrder(ctx, user, parts[1], parts[2])
	case len(parts) == 3 && parts[0] == "settings":
		return e.updateSettings(ctx, user, parts[1], parts[2])
	case len(parts) >= 1 && parts[0] == "track":
		return e.trackOrders(ctx, user)
	case len(parts) >= 1 && parts[0] == "leaderboard":
		return e.leaderboard(ctx, user.TelegramID)
	case len(parts) >= 1 && parts[0] == "profile":
		return []domain.Reply{profileReply(user)}, nil
	default:
		return []domain.Reply{{UserID: user.TelegramID, MessageKey: domain.MsgUnknownCommand, KeyboardSpec: domain.KbMainMenu}}, nil
	}
}

func (e *Engine) createOrder(ctx context.Context, user *domain.User, parts []string) ([]domain.Reply, error) {
	if len(parts) != 3 {
		return nil, apperrors.NewValidationError("order payload missing", nil)
	}
	var input service.OrderCreateInput
	if err := json.Unmarshal([]byte(parts[2]), &input); err != nil {
		return nil, apperrors.NewValidationError("malformed order payload", map[string]any{"payload": parts[2]})
	}
	order, err := e.orders.Create(ctx, user.TelegramID, input)
	if err != nil {
		return nil, err
	}
	return []domain.Reply{{
		UserID:     user.TelegramID,
		MessageKey: domain.MsgOrderCreated,
		Substitutions: map[string]any{
			"order_id": order.ID,
			"pickup":   order.Pickup,
			"dropoff":  order.Dropoff,
			"item":     order.Item,
		},
		KeyboardSpec: domain.KbMainMenu,
	}}, nil
}

func (e *Engine) cancelOrder(ctx context.Context, user *domain.User, rawID string) ([]domain.Reply, error) {
	orderID, err := parseID(rawID)
	if err != nil {
		return nil, err
	}
	order, err := e.orders.Cancel(ctx, user.TelegramID, orderID, e.bot.IsAdmin(user.TelegramID))
	if err != nil {
		return nil, err
	}
	return []domain.Reply{{
		UserID:        user.TelegramID,
		MessageKey:    domain.MsgOrderCancelled,
		Substitutions: map[string]any{"order_id": order.ID},
	}}, nil
}

func (e *Engine) courierAction(ctx context.Context, user *domain.User, action, rawID string) ([]domain.Reply, error) {
	orderID, err := parseID(rawID)
	if err != nil {
		return nil, err
	}

	switch action {
	case "accept":
		order, err := e.orders.Accept(ctx, user.TelegramID, orderID)
		if err != nil {
			return nil, err
		}
		return []domain.Reply{{
			UserID:        user.TelegramID,
			MessageKey:    domain.MsgOrderAccepted,
			Substitutions: map[string]any{"order_id": order.ID, "pickup": order.Pickup, "dropoff": order.Dropoff},
		}}, nil
	case "start":
		order, err := e.orders.Start(ctx, user.TelegramID, orderID)
		if err != nil {
			return nil, err
		}
		return []domain.Reply{{
			UserID:        user.TelegramID,
			MessageKey:    domain.MsgOrderInTransit,
			Substitutions: map[string]any{"order_id": order.ID},
		}}, nil
	case "complete":
		order, credit, err := e.orders.Complete(ctx, user.TelegramID, orderID)
		if err != nil {
			return nil, err
		}
		subs := map[string]any{"order_id": order.ID}
		if credit != nil {
			subs["requester_xp"] = credit.XP
			subs["requester_level"] = credit.Level
		}
		return []domain.Reply{{
			UserID:        user.TelegramID,
			MessageKey:    domain.MsgOrderDelivered,
			Substitutions: subs,
		}}, nil
	case "cancel":
		order, err := e.orders.Cancel(ctx, user.TelegramID, orderID, false)
		if err != nil {
			return nil, err
		}
		return []domain.Reply{{
			UserID:        user.TelegramID,
			MessageKey:    domain.MsgOrderCancelled,
			Substitutions: map[string]any{"order_id": order.ID},
		}}, nil
	default:
		return nil, apperrors.NewValidationError("unknown courier action", map[string]any{"action": action})
	}
}

func (e *Engine) rateOrder(ctx context.Context, user *domain.User, rawID, rawStars string) ([]domain.Reply, error) {
	orderID, err := parseID(rawID)
	if err != nil {
		return nil, err
	}
	stars, convErr := strconv.Atoi(rawStars)
	if convErr != nil {
		return nil, apperrors.NewValidationError("malformed rating", map[string]any{"rating": rawStars})
	}
	order, err := e.orders.Rate(ctx, user.TelegramID, orderID, stars)
	if err != nil {
		return nil, err
	}
	return []domain.Reply{{
		UserID:        user.TelegramID,
		MessageKey:    domain.MsgRatingSaved,
		Substitutions: map[string]any{"order_id": order.ID, "rating": stars},
		KeyboardSpec:  domain.KbMainMenu,
	}}, nil
}

func (e *Engine) updateSettings(ctx context.Context, user *domain.User, field, value string) ([]domain.Reply, error) {
	switch field {
	case "campus":
		if !e.bot.HasCampus(value) {
			return nil, apperrors.NewValidationError("unknown campus", map[string]any{"campus": value})
		}
		if err := e.users.UpdateCampus(ctx, user.TelegramID, value); err != nil {
			return nil, apperrors.NewPersistenceUnavailable(err)
		}
	case "lang":
		if !e.bot.HasLanguage(value) {
			return nil, apperrors.NewValidationError("unknown language", map[string]any{"language": value})
		}
		if err := e.users.UpdateLanguage(ctx, user.TelegramID, strings.ToLower(value)); err != nil {
			return nil, apperrors.NewPersistenceUnavailable(err)
		}
	default:
		return nil, apperrors.NewValidationError("unknown setting", map[string]any{"setting": field})
	}
	return []domain.Reply{{
		UserID:        user.TelegramID,
		MessageKey:    domain.MsgSettingsSaved,
		Substitutions: map[string]any{"setting": field, "value": value},
		KeyboardSpec:  domain.KbMainMenu,
	}}, nil
}

func (e *Engine) trackOrders(ctx context.Context, user *domain.User) ([]domain.Reply, error) {
	orders, err := e.orders.Track(ctx, user.TelegramID)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return []domain.Reply{{UserID: user.TelegramID, MessageKey: domain.MsgOrderTrackEmpty, KeyboardSpec: domain.KbMainMenu}}, nil
	}
	entries := make([]map[string]any, 0, len(orders))
	for _, order := range orders {
		entries = append(entries, map[string]any{
			"order_id": order.ID,
			"status":   order.Status,
			"item":     order.Item,
			"dropoff":  order.Dropoff,
		})
	}
	return []domain.Reply{{
		UserID:        user.TelegramID,
		MessageKey:    domain.MsgOrderTrack,
		Substitutions: map[string]any{"orders": entries},
	}}, nil
}

func (e *Engine) leaderboard(ctx context.Context, userID int64) ([]domain.Reply, error) {
	top, err := e.gamification.Leaderboard(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]map[string]any, 0, len(top))
	for i, u := range top {
		entries = append(entries, map[string]any{
			"rank":       i + 1,
			"first_name": u.FirstName,
			"xp":         u.XP,
			"level":      u.Level,
		})
	}
	return []domain.Reply{{
		UserID:        userID,
		MessageKey:    domain.MsgLeaderboard,
		Substitutions: map[string]any{"entries": entries},
	}}, nil
}

// convertError maps recoverable domain errors onto user-facing notices; only
// storage/internal failures propagate to the caller.
func (e *Engine) convertError(event domain.InboundEvent, err error) ([]domain.Reply, error) {
	domainErr := apperrors.ToDomainError(err)
	e.metrics.RecordFailure(domainErr.Code)

	switch domainErr.Code {
	case "VALIDATION_FAILED":
		return []domain.Reply{{UserID: event.UserID, MessageKey: domain.MsgInvalidInput}}, nil
	case "INVALID_TRANSITION", "CONCURRENCY_CONFLICT", "NOT_FOUND", "FORBIDDEN":
		return []domain.Reply{{UserID: event.UserID, MessageKey: domain.MsgOrderNotAllowed}}, nil
	default:
		e.logger.Error("event processing failed",
			zap.Int64("user_id", event.UserID),
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
		return []domain.Reply{{UserID: event.UserID, MessageKey: domain.MsgServiceUnavailable}}, err
	}
}

func profileReply(user *domain.User) domain.Reply {
	return domain.Reply{
		UserID:     user.TelegramID,
		MessageKey: domain.MsgProfile,
		Substitutions: map[string]any{
			"first_name":       user.FirstName,
			"campus":           user.Campus,
			"xp":               user.XP,
			"coins":            user.Coins,
			"level":            user.Level,
			"total_deliveries": user.TotalDeliveries,
		},
		KeyboardSpec: domain.KbMainMenu,
	}
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("malformed order id", map[string]any{"order_id": raw})
	}
	return id, nil
}
