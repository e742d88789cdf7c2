// Package scheduler refreshes cached results on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "calagg/internal/log"
)

// Job is one refresh. Errors are logged, never fatal.
type Job func(ctx context.Context) error

// Scheduler runs a Job on a standard five-field cron spec (or a descriptor
// such as "@hourly"). Overlapping runs are skipped.
type Scheduler struct {
	cron *cron.Cron
	spec string
	job  Job

	mu      sync.Mutex
	running bool
	runs    int
}

// New validates spec. Times are evaluated in loc.
func New(spec string, loc *time.Location, job Job) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("scheduler: invalid spec %q: %w", spec, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron: cron.New(cron.WithLocation(loc), cron.WithLogger(cronLogger{})),
		spec: spec,
		job:  job,
	}, nil
}

// Start registers the job and blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.RunNow(ctx) }); err != nil {
		return fmt.Errorf("scheduler: add job: %w", err)
	}
	s.cron.Start()
	appLog.Info("scheduler started", "spec", s.spec)

	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop halts the cron and waits for a running job to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	appLog.Info("scheduler stopped")
}

// RunNow runs the job immediately unless a run is already in progress. It
// reports whether the job ran.
func (s *Scheduler) RunNow(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		appLog.Debug("scheduler: previous refresh still running; skipping")
		return false
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.runs++
		s.mu.Unlock()
	}()

	started := time.Now()
	if err := s.job(ctx); err != nil {
		appLog.Error("scheduled refresh failed", err, "duration", time.Since(started).String())
		return true
	}
	appLog.Debug("scheduled refresh done", "duration", time.Since(started).String())
	return true
}

// Runs counts completed job runs.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// cronLogger routes cron's own messages into the process logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
