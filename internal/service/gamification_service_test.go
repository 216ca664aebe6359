package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/campus-delivery/internal/domain"
	"github.com/spec-kit/campus-delivery/internal/events"
	"github.com/spec-kit/campus-delivery/internal/repository"
	"github.com/spec-kit/campus-delivery/pkg/util"
)

func newGamification(users *repository.MemoryUserRepository, dispatcher events.Dispatcher) *GamificationService {
	return NewGamificationService(GamificationDependencies{
		UserRepo:   users,
		Dispatcher: dispatcher,
		Rewards:    testRewards(),
	})
}

func TestGamification_CreditAccumulates(t *testing.T) {
	ctx := context.Background()
	users := repository.NewMemoryUserRepository()
	users.Put(&domain.User{TelegramID: 1, XP: 30, Coins: 5})
	svc := newGamification(users, &captureDispatcher{})

	result, err := svc.Credit(ctx, 1, 50, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(80), result.XP)
	assert.Equal(t, int64(15), result.Coins)
	assert.Equal(t, 1, result.Level)
	assert.False(t, result.LeveledUp)
}

func TestGamification_LevelBoundary(t *testing.T) {
	ctx := context.Background()
	users := repository.NewMemoryUserRepository()
	users.Put(&domain.User{TelegramID: 1, XP: 50})
	dispatcher := &captureDispatcher{}
	svc := newGamification(users, dispatcher)

	result, err := svc.Credit(ctx, 1, 50, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(100), result.XP)
	assert.Equal(t, 2, result.Level)
	assert.True(t, result.LeveledUp)

	published := dispatcher.byType(events.EventLevelUp)
	require.Len(t, published, 1)
	payload, ok := published[0].Payload.(events.LevelUpPayload)
	require.True(t, ok)
	assert.Equal(t, 2, payload.Level)
}

func TestGamification_NoLevelUpEventWithinLevel(t *testing.T) {
	ctx := context.Background()
	users := repository.NewMemoryUserRepository()
	users.Put(&domain.User{TelegramID: 1, XP: 0})
	dispatcher := &captureDispatcher{}
	svc := newGamification(users, dispatcher)

	_, err := svc.Credit(ctx, 1, 30, 0)
	require.NoError(t, err)
	assert.Empty(t, dispatcher.byType(events.EventLevelUp))
}

func TestGamification_CreditUnknownUser(t *testing.T) {
	svc := newGamification(repository.NewMemoryUserRepository(), &captureDispatcher{})

	_, err := svc.Credit(context.Background(), 404, 10, 0)
	require.Error(t, err)
	assert.True(t, util.IsCode(err, "NOT_FOUND"))
}

func TestGamification_ConcurrentCreditsLoseNothing(t *testing.T) {
	ctx := context.Background()
	users := repository.NewMemoryUserRepository()
	users.Put(&domain.User{TelegramID: 1})
	svc := newGamification(users, &captureDispatcher{})

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Credit(ctx, 1, 10, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	u, err := users.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*10), u.XP)
	assert.Equal(t, int64(workers), u.Coins)
	assert.Equal(t, domain.LevelForXP(u.XP, 100), u.Level)
}

func TestGamification_LeaderboardOrdering(t *testing.T) {
	ctx := context.Background()
	users := repository.NewMemoryUserRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	users.Put(&domain.User{TelegramID: 1, XP: 300, CreatedAt: base.Add(time.Hour)})
	users.Put(&domain.User{TelegramID: 2, XP: 100, CreatedAt: base})
	users.Put(&domain.User{TelegramID: 3, XP: 300, CreatedAt: base})
	users.Put(&domain.User{TelegramID: 4, XP: 50, CreatedAt: base})
	svc := newGamification(users, &captureDispatcher{})

	top, err := svc.Leaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, top, 4)

	// Equal totals rank the earlier registration first.
	ids := []int64{top[0].TelegramID, top[1].TelegramID, top[2].TelegramID, top[3].TelegramID}
	assert.Equal(t, []int64{3, 1, 2, 4}, ids)
}

func TestLevelForXP(t *testing.T) {
	assert.Equal(t, 1, domain.LevelForXP(0, 100))
	assert.Equal(t, 1, domain.LevelForXP(99, 100))
	assert.Equal(t, 2, domain.LevelForXP(100, 100))
	assert.Equal(t, 3, domain.LevelForXP(250, 100))
}
