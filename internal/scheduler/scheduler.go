// Package scheduler runs periodic jobs over persisted analyses.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs of the server.
type Scheduler struct {
	cron      *cron.Cron
	refresher *Refresher
	ctx       context.Context
	log       *slog.Logger
}

// NewScheduler creates a Scheduler. Specs use the six-field format with a
// leading seconds field. Jobs still running when their next tick fires are
// skipped.
func NewScheduler(ctx context.Context, refresher *Refresher, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "scheduler")
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		refresher: refresher,
		ctx:       ctx,
		log:       log,
	}
}

// RegisterRefresh schedules the incomplete-session refresh job.
func (s *Scheduler) RegisterRefresh(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.refreshTask); err != nil {
		return fmt.Errorf("register refresh task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// RunRefreshNow executes the refresh job immediately.
func (s *Scheduler) RunRefreshNow() {
	s.refreshTask()
}

func (s *Scheduler) refreshTask() {
	n, err := s.refresher.RunOnce(s.ctx)
	if err != nil {
		s.log.Error("refresh task failed", "error", err)
		return
	}
	s.log.Info("refresh task done", "refreshed", n)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
