// Package scheduler runs named cron jobs, each with its own timeout.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultJobTimeout bounds a single job run when no timeout is configured.
const DefaultJobTimeout = 2 * time.Minute

// Job is a named handler run on a cron schedule with a seconds field.
type Job struct {
	Name     string
	Schedule string
	Handler  func(ctx context.Context) error
}

// Scheduler wraps a cron runner with named jobs.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration

	mu   sync.Mutex
	jobs map[string]Job
}

// New creates a scheduler. A run of the same job is skipped while the previous one is still going.
func New(logger *zap.Logger, timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger:  logger,
		timeout: timeout,
		jobs:    make(map[string]Job),
	}
}

// AddJob registers a job. Names must be unique.
func (s *Scheduler) AddJob(job Job) error {
	if job.Name == "" || job.Handler == nil {
		return fmt.Errorf("job needs a name and a handler")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already registered", job.Name)
	}

	_, err := s.cron.AddFunc(job.Schedule, func() {
		s.run(context.Background(), job)
	})
	if err != nil {
		return fmt.Errorf("scheduling job %q: %w", job.Name, err)
	}

	s.jobs[job.Name] = job
	return nil
}

func (s *Scheduler) run(parent context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	start := time.Now()
	s.logger.Debug("Executing scheduled job", zap.String("job", job.Name))

	err := job.Handler(ctx)
	if err != nil {
		// The sync service has already logged the failure.
		s.logger.Debug("Scheduled job failed",
			zap.String("job", job.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return err
	}

	s.logger.Debug("Scheduled job finished",
		zap.String("job", job.Name),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Job scheduler started", zap.Strings("jobs", s.Jobs()))
}

// Stop stops scheduling and waits for running jobs, or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Job scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("Job scheduler stop timed out with jobs still running")
	}
}

// Jobs returns the registered job names in sorted order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
