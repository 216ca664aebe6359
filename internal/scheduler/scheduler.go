package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/campus-delivery/internal/config"
)

// Scheduler runs the background jobs on wall-clock cron schedules,
// independent of the request path.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	cfg    config.JobConfig
	logger *zap.Logger
}

// New builds a scheduler around the job set.
func New(jobs *Jobs, cfg config.JobConfig, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:   cron.New(),
		jobs:   jobs,
		cfg:    cfg,
		logger: logger,
	}
}

// Start registers the cron entries and launches the timer loop.
func (s *Scheduler) Start(ctx context.Context) error {
	entries := []struct {
		name string
		spec string
	}{
		{JobLeaderboardReset, s.cfg.LeaderboardResetSpec},
		{JobAdminDigest, s.cfg.AdminDigestSpec},
		{JobStaleSweep, s.cfg.StaleSweepSpec},
	}

	for _, entry := range entries {
		name := entry.name
		if _, err := s.cron.AddFunc(entry.spec, func() {
			if err := s.jobs.Run(ctx, name); err != nil {
				s.logger.Error("scheduled job failed", zap.String("job", name), zap.Error(err))
			}
		}); err != nil {
			return err
		}
		s.logger.Info("job scheduled", zap.String("job", name), zap.String("spec", entry.spec))
	}

	s.cron.Start()
	return nil
}

// Stop halts the timer loop, waiting for a running job to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

// Jobs exposes the job set for manual triggering.
func (s *Scheduler) Jobs() *Jobs {
	return s.jobs
}
