package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/campus-delivery/internal/config"
	"github.com/spec-kit/campus-delivery/internal/domain"
	"github.com/spec-kit/campus-delivery/internal/events"
	"github.com/spec-kit/campus-delivery/internal/observability"
	"github.com/spec-kit/campus-delivery/internal/repository"
	"github.com/spec-kit/campus-delivery/internal/service"
)

type memSnapshots struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (s *memSnapshots) StoreSnapshot(_ context.Context, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[string][]byte)
	}
	s.data[key] = payload
	return nil
}

type memOutbox struct {
	mu      sync.Mutex
	replies []domain.Reply
}

func (o *memOutbox) Enqueue(_ context.Context, reply domain.Reply) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.replies = append(o.replies, reply)
	return nil
}

type jobsFixture struct {
	users     *repository.MemoryUserRepository
	orders    *repository.MemoryOrderRepository
	states    *repository.MemoryOnboardingRepository
	snapshots *memSnapshots
	outbox    *memOutbox
	jobs      *Jobs
	now       time.Time
}

func newJobsFixture() *jobsFixture {
	users := repository.NewMemoryUserRepository()
	orders := repository.NewMemoryOrderRepository(users)
	states := repository.NewMemoryOnboardingRepository(users)
	snapshots := &memSnapshots{}
	outbox := &memOutbox{}
	now := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)

	f := &jobsFixture{
		users:     users,
		orders:    orders,
		states:    states,
		snapshots: snapshots,
		outbox:    outbox,
		now:       now,
	}
	f.jobs = NewJobs(JobDependencies{
		UserRepo:       users,
		OrderRepo:      orders,
		OnboardingRepo: states,
		Gamification: service.NewGamificationService(service.GamificationDependencies{
			UserRepo:   users,
			Dispatcher: events.NewInMemoryDispatcher(),
			Rewards:    config.RewardConfig{LevelUpThreshold: 100},
		}),
		Outbox:    outbox,
		Snapshots: snapshots,
		Bot:       config.BotConfig{AdminIDs: []int64{9000, 9001}},
		Cfg: config.JobConfig{
			StaleAfter:          30 * 24 * time.Hour,
			OnboardingRetention: 48 * time.Hour,
		},
		Metrics: observability.NewMetrics(),
		Now:     func() time.Time { return f.now },
	})
	return f
}

func TestJobs_UnknownName(t *testing.T) {
	f := newJobsFixture()
	err := f.jobs.Run(context.Background(), "defrag")
	require.ErrorIs(t, err, ErrUnknownJob)
}

func TestJobs_LeaderboardReset(t *testing.T) {
	ctx := context.Background()
	f := newJobsFixture()
	base := f.now.Add(-48 * time.Hour)
	f.users.Put(&domain.User{TelegramID: 1, FirstName: "A", XP: 300, CreatedAt: base, LastActiveAt: f.now})
	f.users.Put(&domain.User{TelegramID: 2, FirstName: "B", XP: 500, CreatedAt: base, LastActiveAt: f.now})

	require.NoError(t, f.jobs.Run(ctx, JobLeaderboardReset))

	payload, ok := f.snapshots.data["delivery:leaderboard:2026-03-01"]
	require.True(t, ok)
	assert.Equal(t, payload, f.snapshots.data["delivery:leaderboard:current"])

	var entries []struct {
		Rank   int   `json:"rank"`
		UserID int64 `json:"user_id"`
		XP     int64 `json:"xp"`
	}
	require.NoError(t, json.Unmarshal(payload, &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[0].UserID)
	assert.Equal(t, 1, entries[0].Rank)

	// The reset never touches experience totals.
	u, err := f.users.GetByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(500), u.XP)

	// Re-running the same day overwrites the same key; nothing accumulates.
	require.NoError(t, f.jobs.Run(ctx, JobLeaderboardReset))
	assert.Len(t, f.snapshots.data, 2)
}

func TestJobs_AdminDigest(t *testing.T) {
	ctx := context.Background()
	f := newJobsFixture()
	recent := f.now.Add(-2 * time.Hour)
	old := f.now.Add(-72 * time.Hour)

	f.users.Put(&domain.User{TelegramID: 1, CreatedAt: recent, LastActiveAt: recent})
	f.users.Put(&domain.User{TelegramID: 2, CreatedAt: old, LastActiveAt: recent})
	f.users.Put(&domain.User{TelegramID: 3, CreatedAt: old, LastActiveAt: old})
	f.orders.Put(&domain.Order{RequesterID: 1, Status: domain.OrderStatusRequested, CreatedAt: recent})
	f.orders.Put(&domain.Order{RequesterID: 2, Status: domain.OrderStatusDelivered, CreatedAt: old})

	require.NoError(t, f.jobs.Run(ctx, JobAdminDigest))

	require.Len(t, f.outbox.replies, 2)
	digest := f.outbox.replies[0]
	assert.Equal(t, domain.MsgAdminDigest, digest.MessageKey)
	assert.Equal(t, int64(1), digest.Substitutions["orders"])
	assert.Equal(t, int64(1), digest.Substitutions["new_users"])
	assert.Equal(t, int64(2), digest.Substitutions["active_users"])
}

func TestJobs_StaleSweep(t *testing.T) {
	ctx := context.Background()
	f := newJobsFixture()
	fresh := f.now.Add(-time.Hour)
	idle := f.now.Add(-40 * 24 * time.Hour)

	f.users.Put(&domain.User{TelegramID: 1, LastActiveAt: fresh})
	f.users.Put(&domain.User{TelegramID: 2, LastActiveAt: idle})

	f.states.Put(&domain.OnboardingState{TelegramID: 50, Step: domain.StepPhonePending, UpdatedAt: fresh})
	f.states.Put(&domain.OnboardingState{TelegramID: 51, Step: domain.StepLanguageSelect, UpdatedAt: f.now.Add(-72 * time.Hour)})

	require.NoError(t, f.jobs.Run(ctx, JobStaleSweep))

	active, err := f.users.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.UserStatusActive, active.Status)

	swept, err := f.users.GetByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.UserStatusInactive, swept.Status)

	_, err = f.states.Get(ctx, 50)
	require.NoError(t, err)
	_, err = f.states.Get(ctx, 51)
	require.Error(t, err)

	// Idempotent: a second run changes nothing further.
	require.NoError(t, f.jobs.Run(ctx, JobStaleSweep))
	swept, err = f.users.GetByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.UserStatusInactive, swept.Status)
}
