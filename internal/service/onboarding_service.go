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

// OnboardingService drives first-contact users through the
// language -> phone -> campus flow until a User record is finalized.
type OnboardingService struct {
	states     repository.OnboardingRepository
	dispatcher events.Dispatcher
	bot        config.BotConfig
	rewards    config.RewardConfig
	logger     *zap.Logger
}

// OnboardingDependencies bundles collaborators.
type OnboardingDependencies struct {
	OnboardingRepo repository.OnboardingRepository
	Dispatcher     events.Dispatcher
	Bot            config.BotConfig
	Rewards        config.RewardConfig
	Logger         *zap.Logger
}

// NewOnboardingService constructs the service.
func NewOnboardingService(deps OnboardingDependencies) *OnboardingService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OnboardingService{
		states:     deps.OnboardingRepo,
		dispatcher: deps.Dispatcher,
		bot:        deps.Bot,
		rewards:    deps.Rewards,
		logger:     logger,
	}
}

// HandleEvent applies one inbound event to the user's onboarding state
// machine. Invalid input re-prompts the current step without mutating
// anything; a valid final step finalizes registration exactly once.
func (s *OnboardingService) HandleEvent(ctx context.Context, event domain.InboundEvent) ([]domain.Reply, error) {
	state, err := s.states.Get(ctx, event.UserID)
	isNew := false
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewPersistenceUnavailable(err)
		}
		// No row means the implicit initial step.
		isNew = true
		state = &domain.OnboardingState{
			TelegramID: event.UserID,
			Step:       domain.StepLanguageSelect,
			FirstName:  event.FirstName,
			LastName:   event.LastName,
		}
	}

	switch state.Step {
	case domain.StepLanguageSelect:
		return s.handleLanguage(ctx, event, state, isNew)
	case domain.StepPhonePending:
		return s.handlePhone(ctx, event, state)
	case domain.StepCampusPending:
		return s.handleCampus(ctx, event, state)
	default:
		s.logger.Warn("unknown onboarding step", zap.Int64("user_id", event.UserID), zap.String("step", string(state.Step)))
		return []domain.Reply{prompt(event.UserID, domain.MsgChooseLanguage, domain.KbLanguages)}, nil
	}
}

func (s *OnboardingService) handleLanguage(ctx context.Context, event domain.InboundEvent, state *domain.OnboardingState, isNew bool) ([]domain.Reply, error) {
	lang, ok := buttonData(event, "lang")
	if ok && s.bot.HasLanguage(lang) {
		state.Language = strings.ToLower(lang)
		state.Step = domain.StepPhonePending
		if err := s.states.Upsert(ctx, state); err != nil {
			return nil, apperrors.NewPersistenceUnavailable(err)
		}
		return []domain.Reply{prompt(event.UserID, domain.MsgSharePhone, domain.KbContact)}, nil
	}

	// First contact: record the row so the flow has an anchor, then
	// prompt. Invalid input on an existing row writes nothing.
	if isNew {
		if err := s.states.Upsert(ctx, state); err != nil {
			return nil, apperrors.NewPersistenceUnavailable(err)
		}
	}
	return []domain.Reply{prompt(event.UserID, domain.MsgChooseLanguage, domain.KbLanguages)}, nil
}

func (s *OnboardingService) handlePhone(ctx context.Context, event domain.InboundEvent, state *domain.OnboardingState) ([]domain.Reply, error) {
	phone, ok := normalizePhone(event)
	if !ok {
		return []domain.Reply{prompt(event.UserID, domain.MsgSharePhone, domain.KbContact)}, nil
	}
	state.Phone = phone
	state.Step = domain.StepCampusPending
	if err := s.states.Upsert(ctx, state); err != nil {
		return nil, apperrors.NewPersistenceUnavailable(err)
	}
	return []domain.Reply{prompt(event.UserID, domain.MsgChooseCampus, domain.KbCampuses)}, nil
}

func (s *OnboardingService) handleCampus(ctx context.Context, event domain.InboundEvent, state *domain.OnboardingState) ([]domain.Reply, error) {
	campus, ok := buttonData(event, "campus")
	if !ok || !s.bot.HasCampus(campus) {
		return []domain.Reply{prompt(event.UserID, domain.MsgChooseCampus, domain.KbCampuses)}, nil
	}

	user, created, err := s.states.Finalize(ctx, state, campus,
		s.rewards.RegistrationXP, s.rewards.RegistrationCoins, s.rewards.LevelUpThreshold)
	if err != nil {
		return nil, apperrors.NewPersistenceUnavailable(err)
	}
	if created {
		publishEvent(ctx, s.dispatcher, events.Event{
			Type:   events.EventUserRegistered,
			UserID: user.TelegramID,
			Payload: events.UserRegisteredPayload{
				Campus:   user.Campus,
				Language: user.Language,
				XP:       user.XP,
				Coins:    user.Coins,
			},
		})
	} else {
		s.logger.Info("onboarding finalize replayed, reward skipped", zap.Int64("user_id", user.TelegramID))
	}

	return []domain.Reply{{
		UserID:     user.TelegramID,
		MessageKey: domain.MsgRegistered,
		Substitutions: map[string]any{
			"first_name": user.FirstName,
			"campus":     user.Campus,
			"xp":         user.XP,
			"coins":      user.Coins,
			"level":      user.Level,
		},
		KeyboardSpec: domain.KbMainMenu,
	}}, nil
}

func prompt(userID int64, key, keyboard string) domain.Reply {
	return domain.Reply{UserID: userID, MessageKey: key, KeyboardSpec: keyboard}
}

// buttonData extracts the data half of an "action:data" button payload when
// the action matches.
func buttonData(event domain.InboundEvent, action string) (string, bool) {
	if event.Kind != domain.EventKindButton {
		return "", false
	}
	parts := strings.SplitN(event.Payload, ":", 2)
	if len(parts) != 2 || parts[0] != action || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// normalizePhone accepts a contact-share payload and returns the cleaned
// number. Out-of-schema input is rejected without mutation.
func normalizePhone(event domain.InboundEvent) (string, bool) {
	if event.Kind != domain.EventKindContact {
		return "", false
	}
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9':
			return r
		case r == '+':
			return r
		case r == ' ' || r == '-' || r == '(' || r == ')':
			return -1
		default:
			return 'x'
		}
	}, strings.TrimSpace(event.Payload))

	digits := strings.TrimPrefix(cleaned, "+")
	if strings.ContainsAny(cleaned, "x") || strings.Contains(digits, "+") {
		return "", false
	}
	if len(digits) < 9 || len(digits) > 15 {
		return "", false
	}
	return cleaned, true
}
