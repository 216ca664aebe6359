package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/campus-delivery/internal/config"
	"github.com/spec-kit/campus-delivery/internal/domain"
	"github.com/spec-kit/campus-delivery/internal/events"
	"github.com/spec-kit/campus-delivery/internal/repository"
	apperrors "github.com/spec-kit/campus-delivery/pkg/util"
)

const leaderboardLimit = 10

// GamificationService is the concurrency-safe experience/coins/level ledger.
// All mutation goes through the repository's atomic credit, so two
// concurrent credits for one user can never lose an update.
type GamificationService struct {
	users      repository.UserRepository
	dispatcher events.Dispatcher
	rewards    config.RewardConfig
}

// GamificationDependencies bundles collaborators.
type GamificationDependencies struct {
	UserRepo   repository.UserRepository
	Dispatcher events.Dispatcher
	Rewards    config.RewardConfig
}

// NewGamificationService constructs the service.
func NewGamificationService(deps GamificationDependencies) *GamificationService {
	return &GamificationService{
		users:      deps.UserRepo,
		dispatcher: deps.Dispatcher,
		rewards:    deps.Rewards,
	}
}

// Credit applies xp/coin deltas atomically and reports whether the update
// crossed a level boundary.
func (s *GamificationService) Credit(ctx context.Context, userID int64, xpDelta, coinDelta int64) (*repository.CreditResult, error) {
	result, err := s.users.Credit(ctx, userID, xpDelta, coinDelta, s.rewards.LevelUpThreshold)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", map[string]any{"user_id": userID})
		}
		return nil, apperrors.NewPersistenceUnavailable(err)
	}
	if result.LeveledUp {
		publishEvent(ctx, s.dispatcher, events.Event{
			Type:   events.EventLevelUp,
			UserID: userID,
			Payload: events.LevelUpPayload{
				Level: result.Level,
				XP:    result.XP,
			},
		})
	}
	return result, nil
}

// Leaderboard returns the top users by experience, earlier registration
// breaking ties. Read-only.
func (s *GamificationService) Leaderboard(ctx context.Context) ([]domain.User, error) {
	users, err := s.users.TopByXP(ctx, leaderboardLimit)
	if err != nil {
		return nil, apperrors.NewPersistenceUnavailable(err)
	}
	return users, nil
}
