package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/campus-delivery/internal/config"
	"github.com/spec-kit/campus-delivery/internal/domain"
	"github.com/spec-kit/campus-delivery/internal/observability"
	"github.com/spec-kit/campus-delivery/internal/repository"
	"github.com/spec-kit/campus-delivery/internal/service"
)

// ErrUnknownJob reports a trigger request for a name no job carries.
var ErrUnknownJob = errors.New("unknown job")

// Job names, used for cron registration and manual triggering.
const (
	JobLeaderboardReset = "leaderboard_reset"
	JobAdminDigest      = "admin_digest"
	JobStaleSweep       = "stale_sweep"
)

const (
	leaderboardCurrentKey = "delivery:leaderboard:current"
	staleBatchSize        = 500
)

// SnapshotStore persists dated leaderboard snapshots.
type SnapshotStore interface {
	StoreSnapshot(ctx context.Context, key string, payload []byte) error
}

// Jobs are the time-triggered batch operations. Each is idempotent and works
// through the same per-record repository operations as the request path; no
// job takes a lock that outlives a single record's update.
type Jobs struct {
	users        repository.UserRepository
	orders       repository.OrderRepository
	onboarding   repository.OnboardingRepository
	gamification *service.GamificationService
	outbox       service.ReplyOutbox
	snapshots    SnapshotStore
	bot          config.BotConfig
	cfg          config.JobConfig
	metrics      *observability.Metrics
	logger       *zap.Logger
	now          func() time.Time
}

// JobDependencies bundles collaborators.
type JobDependencies struct {
	UserRepo       repository.UserRepository
	OrderRepo      repository.OrderRepository
	OnboardingRepo repository.OnboardingRepository
	Gamification   *service.GamificationService
	Outbox         service.ReplyOutbox
	Snapshots      SnapshotStore
	Bot            config.BotConfig
	Cfg            config.JobConfig
	Metrics        *observability.Metrics
	Logger         *zap.Logger
	Now            func() time.Time
}

// NewJobs constructs the job set.
func NewJobs(deps JobDependencies) *Jobs {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Jobs{
		users:        deps.UserRepo,
		orders:       deps.OrderRepo,
		onboarding:   deps.OnboardingRepo,
		gamification: deps.Gamification,
		outbox:       deps.Outbox,
		snapshots:    deps.Snapshots,
		bot:          deps.Bot,
		cfg:          deps.Cfg,
		metrics:      deps.Metrics,
		logger:       logger,
		now:          now,
	}
}

// Run executes the named job. Unknown names are an error so the admin
// trigger surface can report them.
func (j *Jobs) Run(ctx context.Context, name string) error {
	switch name {
	case JobLeaderboardReset:
		return j.RunLeaderboardReset(ctx)
	case JobAdminDigest:
		return j.RunAdminDigest(ctx)
	case JobStaleSweep:
		return j.RunStaleSweep(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
}

// RunLeaderboardReset closes the leaderboard period: the current top list is
// written as a dated snapshot and the cached current key refreshed.
// Experience totals are never reset; they are monotonic.
func (j *Jobs) RunLeaderboardReset(ctx context.Context) error {
	j.metrics.RecordJobRun(JobLeaderboardReset)

	top, err := j.gamification.Leaderboard(ctx)
	if err != nil {
		return err
	}
	type entry struct {
		Rank      int    `json:"rank"`
		UserID    int64  `json:"user_id"`
		FirstName string `json:"first_name"`
		XP        int64  `json:"xp"`
		Level     int    `json:"level"`
	}
	entries := make([]entry, 0, len(top))
	for i, u := range top {
		entries = append(entries, entry{
			Rank:      i + 1,
			UserID:    u.TelegramID,
			FirstName: u.FirstName,
			XP:        u.XP,
			Level:     u.Level,
		})
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	if j.snapshots == nil {
		j.logger.Warn("no snapshot store configured; leaderboard reset skipped")
		return nil
	}
	day := j.now().UTC().Format("2006-01-02")
	if err := j.snapshots.StoreSnapshot(ctx, "delivery:leaderboard:"+day, payload); err != nil {
		return err
	}
	if err := j.snapshots.StoreSnapshot(ctx, leaderboardCurrentKey, payload); err != nil {
		return err
	}
	j.logger.Info("leaderboard snapshot stored", zap.String("day", day), zap.Int("entries", len(entries)))
	return nil
}

// DigestStats summarizes one trailing day of activity.
type DigestStats struct {
	Orders      int64     `json:"orders"`
	NewUsers    int64     `json:"new_users"`
	ActiveUsers int64     `json:"active_users"`
	Since       time.Time `json:"since"`
}

// Digest compiles the last 24h of activity.
func (j *Jobs) Digest(ctx context.Context) (*DigestStats, error) {
	since := j.now().Add(-24 * time.Hour)
	orders, err := j.orders.CountCreatedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	newUsers, err := j.users.CountRegisteredSince(ctx, since)
	if err != nil {
		return nil, err
	}
	activeUsers, err := j.users.CountActiveSince(ctx, since)
	if err != nil {
		return nil, err
	}
	return &DigestStats{Orders: orders, NewUsers: newUsers, ActiveUsers: activeUsers, Since: since.UTC()}, nil
}

// RunAdminDigest queues the daily digest as a reply to every configured
// administrator.
func (j *Jobs) RunAdminDigest(ctx context.Context) error {
	j.metrics.RecordJobRun(JobAdminDigest)

	stats, err := j.Digest(ctx)
	if err != nil {
		return err
	}

	subs := map[string]any{
		"orders":       stats.Orders,
		"new_users":    stats.NewUsers,
		"active_users": stats.ActiveUsers,
		"since":        stats.Since.Format(time.RFC3339),
	}
	for _, adminID := range j.bot.AdminIDs {
		if err := j.outbox.Enqueue(ctx, domain.Reply{
			UserID:        adminID,
			MessageKey:    domain.MsgAdminDigest,
			Substitutions: subs,
		}); err != nil {
			j.logger.Error("digest enqueue failed", zap.Int64("admin_id", adminID), zap.Error(err))
		}
	}
	j.logger.Info("admin digest compiled",
		zap.Int64("orders", stats.Orders),
		zap.Int64("new_users", stats.NewUsers),
		zap.Int64("active_users", stats.ActiveUsers))
	return nil
}

// RunStaleSweep marks long-idle users inactive and purges orphaned
// onboarding rows past the retention window. With no qualifying rows both
// halves are no-ops.
func (j *Jobs) RunStaleSweep(ctx context.Context) error {
	j.metrics.RecordJobRun(JobStaleSweep)

	cutoff := j.now().Add(-j.cfg.StaleAfter)
	stale, err := j.users.ListStale(ctx, cutoff, staleBatchSize)
	if err != nil {
		return err
	}
	marked := 0
	for _, user := range stale {
		// One record at a time: a concurrent user-triggered update wins
		// the race cleanly because MarkInactive guards on ACTIVE.
		if err := j.users.MarkInactive(ctx, user.TelegramID); err != nil {
			j.logger.Warn("mark inactive failed", zap.Int64("user_id", user.TelegramID), zap.Error(err))
			continue
		}
		marked++
	}

	purged, err := j.onboarding.DeleteOlderThan(ctx, j.now().Add(-j.cfg.OnboardingRetention))
	if err != nil {
		return err
	}
	j.logger.Info("stale sweep complete", zap.Int("marked_inactive", marked), zap.Int64("onboarding_purged", purged))
	return nil
}
