// Package scheduler periodically sweeps due flow enrollments. A redis lock
// keeps concurrent scheduler replicas from double-processing one sweep
// window.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/flywheelhq/flywheel/pkg/pipeline"
)

const (
	sweepSchedule = "*/30 * * * * *"
	lockKey       = "flywheel:sweep:lock"
	lockTTL       = 25 * time.Second
)

type Scheduler struct {
	pipeline *pipeline.Pipeline
	redis    *redis.Client
	cron     *cron.Cron
	batch    int
	logger   *slog.Logger
}

func New(p *pipeline.Pipeline, redisClient *redis.Client, batch int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		pipeline: p,
		redis:    redisClient,
		cron:     cron.New(cron.WithSeconds()),
		batch:    batch,
		logger:   logger.With("module", "scheduler"),
	}
}

// Start registers the sweep job and begins ticking. It returns immediately;
// call Stop to drain.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(sweepSchedule, func() {
		s.runSweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "scheduler started", "schedule", sweepSchedule)

	return nil
}

// Stop halts the cron and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runSweep(ctx context.Context) {
	acquired, err := s.acquireLock(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep lock error", "error", err)

		return
	}

	if !acquired {
		// Another replica holds the window; skipping is the expected outcome.
		s.logger.DebugContext(ctx, "sweep lock held elsewhere, skipping")

		return
	}

	defer s.releaseLock(ctx)

	sweep, err := s.pipeline.ProcessDueEnrollments(ctx, s.batch)
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep failed", "error", err)

		return
	}

	s.pipeline.Dispatch(ctx, sweep.Notifications)
}

func (s *Scheduler) acquireLock(ctx context.Context) (bool, error) {
	if s.redis == nil {
		// Single-process mode runs without coordination.
		return true, nil
	}

	return s.redis.SetNX(ctx, lockKey, "1", lockTTL).Result()
}

func (s *Scheduler) releaseLock(ctx context.Context) {
	if s.redis == nil {
		return
	}

	if err := s.redis.Del(ctx, lockKey).Err(); err != nil {
		s.logger.WarnContext(ctx, "failed to release sweep lock", "error", err)
	}
}
