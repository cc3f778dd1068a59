// Package scheduler runs the periodic background jobs (goal expiration,
// completion scans, idle-session sweeps) on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"glitchcube/internal/logging"
)

// Job is one named periodic task. Schedule accepts standard cron expressions
// and descriptors like "@every 30s". A failing or panicking tick is logged
// and never affects the next tick.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler manages the background jobs with robfig/cron. Overlapping ticks
// of the same job are skipped, not queued.
type Scheduler struct {
	cron   *cron.Cron
	logger logging.Logger

	mu       sync.Mutex
	entryIDs map[string]cron.EntryID
	started  bool
	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates an empty scheduler.
func New(logger logging.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		logger:   logging.OrNop(logger),
		entryIDs: make(map[string]cron.EntryID),
		stopped:  make(chan struct{}),
	}
}

// Add registers a job. Duplicate names and invalid schedules are rejected.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job needs a name and a run function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entryIDs[job.Name]; exists {
		return fmt.Errorf("job %q already registered", job.Name)
	}
	entryID, err := s.cron.AddFunc(job.Schedule, s.tick(job))
	if err != nil {
		return fmt.Errorf("register job %q (%s): %w", job.Name, job.Schedule, err)
	}
	s.entryIDs[job.Name] = entryID
	s.logger.Info("Scheduled job %q (%s)", job.Name, job.Schedule)
	return nil
}

// tick wraps a job's Run with per-invocation panic and error isolation. The
// scheduler must survive any single tick.
func (s *Scheduler) tick(job Job) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Job %q panicked: %v, stack: %s", job.Name, r, debug.Stack())
			}
		}()

		ctx := context.Background()
		if job.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, job.Timeout)
			defer cancel()
		}
		if err := job.Run(ctx); err != nil {
			s.logger.Error("Job %q failed: %v", job.Name, err)
		}
	}
}

// Start begins ticking and stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	jobs := len(s.entryIDs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("Scheduler started with %d jobs", jobs)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop halts scheduling and waits for in-flight ticks. Safe to call more than
// once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Scheduler stopping...")
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		close(s.stopped)
		s.logger.Info("Scheduler stopped")
	})
}

// Done is closed once Stop has completed.
func (s *Scheduler) Done() <-chan struct{} {
	return s.stopped
}
