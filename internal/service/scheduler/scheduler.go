// Package scheduler triggers recurring discovery and masking runs on cron
// schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"maskflow/internal/config"
	"maskflow/internal/domain"
	"maskflow/internal/service/runner"
)

// Trigger starts a run in the background.
type Trigger interface {
	Start(ctx context.Context, kind runner.Kind, rf *config.RunFile) (runner.Run, error)
}

// Job is one recurring run. RunFile is re-read on every tick so edits apply
// without a restart.
type Job struct {
	Name     string
	Kind     runner.Kind
	Schedule string // standard 5-field cron expression or descriptor (@hourly)
	RunFile  string
}

// Scheduler manages cron-based run execution.
type Scheduler struct {
	cron     *cron.Cron
	trigger  Trigger
	defaults domain.RunParams
	logger   *slog.Logger
	mu       sync.Mutex
	entries  map[string]cron.EntryID // job name → cron entry
}

// NewScheduler creates a new run scheduler. defaults fill run parameters a
// run file leaves out.
func NewScheduler(trigger Trigger, defaults domain.RunParams, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		cron:     cron.New(),
		trigger:  trigger,
		defaults: defaults,
		logger:   logger.With("component", "scheduler"),
		entries:  make(map[string]cron.EntryID),
	}
}

// Add registers a job, replacing any job of the same name.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		job.Name = string(job.Kind)
	}
	if _, err := cron.ParseStandard(job.Schedule); err != nil {
		return domain.ErrValidation("invalid cron schedule %q for %s: %v", job.Schedule, job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[job.Name]; ok {
		s.cron.Remove(id)
	}
	id, err := s.cron.AddFunc(job.Schedule, func() { s.fire(context.Background(), job) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", job.Name, err)
	}
	s.entries[job.Name] = id
	s.logger.Info("scheduled run", "job", job.Name, "kind", job.Kind, "schedule", job.Schedule)
	return nil
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("run scheduler started", "jobs", s.Len())
}

// Stop stops the scheduler and waits for running trigger calls to return.
// Runs already started keep going in the runner.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("run scheduler stopped")
}

func (s *Scheduler) fire(ctx context.Context, job Job) {
	logger := s.logger.With("job", job.Name, "kind", job.Kind)
	rf, err := config.LoadRunFile(job.RunFile, s.defaults)
	if err != nil {
		logger.Warn("scheduled run skipped: bad run file", "run_file", job.RunFile, "error", err)
		return
	}
	run, err := s.trigger.Start(ctx, job.Kind, rf)
	var conflict *domain.ConflictError
	switch {
	case errors.As(err, &conflict):
		logger.Warn("scheduled run skipped: previous run still in progress", "error", err)
	case err != nil:
		logger.Warn("scheduled trigger failed", "error", err)
	default:
		logger.Info("scheduled run started", "run_id", run.ID)
	}
}
