// Package scheduler runs root agents on cron schedules persisted in the run
// store. It polls rather than holding timers so schedules added at runtime
// are picked up on the next tick.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/agentic/internal/engine"
	"github.com/rendis/agentic/internal/store"
)

// AgentRunner is the engine surface the scheduler needs.
type AgentRunner interface {
	StartFromFile(ctx context.Context, path, input string) (*engine.Handle, error)
}

// Scheduler polls the store for due schedules and runs them.
type Scheduler struct {
	store  store.RunStore
	runner AgentRunner
	parser cron.Parser
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // schedule IDs currently executing (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s store.RunStore, runner AgentRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick checks all enabled schedules and runs those that are due.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	scheds, err := s.store.ListSchedules(ctx, store.ScheduleFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list schedules", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, sched := range scheds {
		if sched.NextRunAt == nil || !sched.NextRunAt.After(now) {
			if !s.tryAcquire(sched.ID) {
				continue // already running (dedup)
			}
			if err := s.runSchedule(ctx, sched, now); err != nil {
				s.logger.Error("failed to run schedule",
					slog.String("schedule_id", sched.ID),
					slog.String("error", err.Error()),
				)
			}
			s.release(sched.ID)
		}
	}
}

// runSchedule starts the scheduled agent, waits for it, and updates the
// schedule's timestamps.
func (s *Scheduler) runSchedule(ctx context.Context, sched *store.Schedule, now time.Time) error {
	s.logger.Info("running schedule",
		slog.String("schedule_id", sched.ID),
		slog.String("config_file", sched.ConfigFile),
	)

	status := "completed"
	h, err := s.runner.StartFromFile(ctx, sched.ConfigFile, sched.Input)
	if err != nil {
		status = "failed"
		s.logger.Error("scheduled run failed to start",
			slog.String("schedule_id", sched.ID),
			slog.String("error", err.Error()),
		)
	} else if _, err := h.Wait(ctx); err != nil {
		status = "failed"
		s.logger.Error("scheduled run failed",
			slog.String("schedule_id", sched.ID),
			slog.String("instance_id", h.InstanceID()),
			slog.String("error", err.Error()),
		)
	}

	return s.updateSchedule(ctx, sched, now, status)
}

func (s *Scheduler) updateSchedule(ctx context.Context, sched *store.Schedule, now time.Time, status string) error {
	nextRun, err := s.CalculateNextRun(sched.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for schedule %q: %w", sched.ID, err)
	}

	return s.store.UpdateSchedule(ctx, sched.ID, store.ScheduleUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
	})
}

// tryAcquire returns true and marks the schedule as in-flight if it is not
// already running.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

// release removes the schedule from the in-flight set.
func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// RecoverMissed advances schedules whose next run was missed while the
// process was down. The backlog is not executed; each missed schedule is
// marked and rescheduled from now.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	scheds, err := s.store.ListSchedules(ctx, store.ScheduleFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}

	now := time.Now().UTC()
	for _, sched := range scheds {
		if sched.NextRunAt == nil || sched.NextRunAt.After(now) {
			continue
		}

		nextRun, err := s.CalculateNextRun(sched.CronExpression, now)
		if err != nil {
			s.logger.Error("failed to reschedule missed run",
				slog.String("schedule_id", sched.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		s.logger.Warn("recovering missed schedule",
			slog.String("schedule_id", sched.ID),
			slog.Time("missed_at", *sched.NextRunAt),
			slog.Time("next_run_at", nextRun),
		)
		if err := s.store.UpdateSchedule(ctx, sched.ID, store.ScheduleUpdate{
			NextRunAt:     &nextRun,
			LastRunStatus: "missed",
		}); err != nil {
			s.logger.Error("failed to update missed schedule",
				slog.String("schedule_id", sched.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
