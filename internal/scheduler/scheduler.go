// Package scheduler runs the bot's periodic housekeeping jobs (rate-limiter
// sweeps, stats logging) on a cron engine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is a named task fired on a cron schedule.
type Job struct {
	ID   string                          // unique identifier
	Name string                          // human-readable name (optional)
	Spec string                          // cron spec, e.g. "*/5 * * * *" or "@every 5m"
	Run  func(ctx context.Context) error // work to do on each tick
}

// CronEngine abstracts the cron scheduler for testability.
// The real implementation wraps robfig/cron/v3.
type CronEngine interface {
	AddFunc(spec string, cmd func()) (int, error)
	Remove(id int)
	Start()
	// Stop halts scheduling; the returned context is done once running jobs finish.
	Stop() context.Context
}

// Option is a functional option for configuring a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger for job runs and failures. Defaults to a no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Sentinel errors for validation.
var (
	ErrEmptyJobID   = errors.New("scheduler: job ID must not be empty")
	ErrEmptySpec    = errors.New("scheduler: cron spec must not be empty")
	ErrNilRun       = errors.New("scheduler: job run func must not be nil")
	ErrDuplicateJob = errors.New("scheduler: job with this ID already exists")
	ErrJobNotFound  = errors.New("scheduler: job not found")
)

type jobEntry struct {
	job     Job
	entryID int
}

// Scheduler manages cron-based jobs. Jobs fired while Run is active receive
// Run's context, so they observe shutdown.
type Scheduler struct {
	engine CronEngine
	logger zerolog.Logger

	mu      sync.RWMutex
	jobs    map[string]jobEntry
	baseCtx context.Context
}

// NewScheduler creates a new Scheduler. engine must not be nil.
func NewScheduler(engine CronEngine, opts ...Option) *Scheduler {
	if engine == nil {
		panic("scheduler: engine must not be nil")
	}
	s := &Scheduler{
		engine:  engine,
		logger:  zerolog.Nop(),
		jobs:    make(map[string]jobEntry),
		baseCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob registers a new scheduled job.
func (s *Scheduler) AddJob(job Job) error {
	if job.ID == "" {
		return ErrEmptyJobID
	}
	if job.Spec == "" {
		return ErrEmptySpec
	}
	if job.Run == nil {
		return ErrNilRun
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}

	entryID, err := s.engine.AddFunc(job.Spec, func() { s.fire(job) })
	if err != nil {
		return fmt.Errorf("scheduler: register job %q: %w", job.ID, err)
	}

	s.jobs[job.ID] = jobEntry{job: job, entryID: entryID}
	s.logger.Info().
		Str("job_id", job.ID).
		Str("job_name", job.Name).
		Str("spec", job.Spec).
		Msg("job registered")
	return nil
}

func (s *Scheduler) fire(job Job) {
	s.mu.RLock()
	ctx := s.baseCtx
	s.mu.RUnlock()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("job failed")
		return
	}
	s.logger.Debug().Str("job_id", job.ID).Dur("took", time.Since(start)).Msg("job finished")
}

// Run starts the engine and blocks until ctx is done, then stops the engine
// and waits for running jobs. It always returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	s.engine.Start()
	s.logger.Info().Int("jobs", len(s.ListJobs())).Msg("scheduler started")
	<-ctx.Done()
	<-s.engine.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
	return nil
}

// RemoveJob unregisters a scheduled job by ID.
func (s *Scheduler) RemoveJob(id string) error {
	if id == "" {
		return ErrEmptyJobID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	s.engine.Remove(entry.entryID)
	delete(s.jobs, id)
	s.logger.Info().Str("job_id", id).Msg("job removed")
	return nil
}

// ListJobs returns the registered jobs ordered by ID. Never nil.
func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, entry := range s.jobs {
		jobs = append(jobs, entry.job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// GetJob returns the job with the given ID, or false if not found.
func (s *Scheduler) GetJob(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.jobs[id]
	return entry.job, ok
}

// Every builds a cron spec that fires at a fixed interval.
func Every(d time.Duration) string {
	return "@every " + d.String()
}
