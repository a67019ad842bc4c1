// Package cron restores user-defined schedules at startup and turns each
// firing into a synthetic inbound message for the job's handle.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/sidekick/internal/store"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// Inbound receives the synthetic message a fired job produces. Satisfied
// by the dispatcher.
type Inbound interface {
	HandleCronMessage(ctx context.Context, handle, text string)
}

// Scheduler wraps robfig/cron with skip-if-running semantics per job.
type Scheduler struct {
	cron    *cron.Cron
	inbound Inbound
	logger  *slog.Logger

	mu      sync.Mutex
	running map[int64]bool
}

// NewScheduler builds an idle scheduler.
func NewScheduler(inbound Inbound, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(),
		inbound: inbound,
		logger:  logger.With("component", "cron"),
		running: make(map[int64]bool),
	}
}

// Restore loads every active job from the repository and registers it.
// Individual invalid specs are logged and skipped, never fatal.
func (s *Scheduler) Restore(ctx context.Context, repo store.Repository) error {
	jobs, err := repo.GetActiveCronJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load cron jobs: %w", err)
	}
	restored := 0
	for _, job := range jobs {
		if err := s.Add(job); err != nil {
			s.logger.Warn("skipping invalid cron job",
				slog.Int64("job_id", job.ID),
				slog.String("schedule", job.Schedule),
				slog.Any("error", err))
			continue
		}
		restored++
	}
	s.logger.Info("cron jobs restored", slog.Int("count", restored))
	return nil
}

// Add registers one job with a skip-if-running wrapper: a firing while
// the previous one is still in flight is dropped.
func (s *Scheduler) Add(job models.CronJob) error {
	_, err := s.cron.AddFunc(job.Schedule, func() {
		s.mu.Lock()
		if s.running[job.ID] {
			s.mu.Unlock()
			s.logger.Warn("cron job still running, skipping fire", slog.Int64("job_id", job.ID))
			return
		}
		s.running[job.ID] = true
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.running, job.ID)
			s.mu.Unlock()
		}()

		s.logger.Info("cron job fired",
			slog.Int64("job_id", job.ID), slog.String("handle", job.Handle))
		s.inbound.HandleCronMessage(context.Background(), job.Handle, job.Message)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
	}
	return nil
}

// Start begins firing schedules.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and returns once in-flight jobs complete.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
