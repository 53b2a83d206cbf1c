package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrJobNotFound indicates an unknown job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobFinished indicates a cancel on a job already in a terminal
	// state.
	ErrJobFinished = errors.New("job already finished")
)

// AdmissionChecker gates dispatch. A non-nil error leaves the due job
// pending for the next tick.
type AdmissionChecker interface {
	CheckAll() error
}

// SchedulerConfig sizes the driver loop.
type SchedulerConfig struct {
	// TickInterval is the pause between scan passes.
	TickInterval time.Duration

	// MaxConcurrent bounds in-flight executions across all jobs.
	MaxConcurrent int
}

// SchedulerStats counts jobs per status.
type SchedulerStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Scheduler drives interval and one-time jobs on a single cooperative
// loop. Each tick scans for due jobs and dispatches every one on its
// own goroutine; two independently-due jobs run concurrently with no
// ordering between them. The only ordering guarantee is that a job's
// next run is computed strictly after its own prior completion is
// recorded.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*ScheduledJob

	cfg      SchedulerConfig
	failures *FailureHandler
	limiter  AdmissionChecker
	sem      *semaphore.Weighted

	started    bool
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	logger zerolog.Logger
}

// NewScheduler creates a Scheduler. The failure handler and admission
// checker are optional: without a failure handler a failed execution
// goes straight to failed; without an admission checker every due job
// dispatches. Zero config fields default to a 1s tick and 16 concurrent
// executions.
func NewScheduler(cfg SchedulerConfig, failures *FailureHandler, limiter AdmissionChecker, logger zerolog.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 16
	}
	return &Scheduler{
		jobs:     make(map[string]*ScheduledJob),
		cfg:      cfg,
		failures: failures,
		limiter:  limiter,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:   logger.With().Str("component", "jobs.scheduler").Logger(),
	}
}

// ScheduleInterval registers a recurring job. The first run is due one
// interval from now; each later run is due one interval after the
// previous completion, so overruns push the cadence back rather than
// pile up.
func (s *Scheduler) ScheduleInterval(name string, every time.Duration, fn HandlerFunc) (string, error) {
	if every <= 0 {
		return "", fmt.Errorf("interval must be positive, got %s", every)
	}
	return s.add(&ScheduledJob{
		Name:     name,
		Type:     ScheduleTypeInterval,
		Interval: every,
		NextRun:  time.Now().Add(every),
		fn:       fn,
	})
}

// ScheduleOnce registers a job that runs once at the given time. A time
// in the past makes it due on the next tick.
func (s *Scheduler) ScheduleOnce(name string, at time.Time, fn HandlerFunc) (string, error) {
	return s.add(&ScheduledJob{
		Name:    name,
		Type:    ScheduleTypeOneTime,
		NextRun: at,
		fn:      fn,
	})
}

func (s *Scheduler) add(job *ScheduledJob) (string, error) {
	if job.fn == nil {
		return "", fmt.Errorf("job %q has no handler", job.Name)
	}
	job.ID = uuid.NewString()
	job.Status = StatusPending

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	s.logger.Info().
		Str("job_id", job.ID).
		Str("job_name", job.Name).
		Str("type", string(job.Type)).
		Time("next_run", job.NextRun).
		Msg("Job scheduled")
	return job.ID, nil
}

// CancelJob marks the job cancelled, preventing future dispatch. An
// in-flight execution is not interrupted; its result is discarded.
func (s *Scheduler) CancelJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	switch job.Status {
	case StatusCompleted, StatusFailed:
		return fmt.Errorf("%w: %s", ErrJobFinished, id)
	case StatusCancelled:
		return nil
	}
	job.Status = StatusCancelled
	s.logger.Info().Str("job_id", id).Str("job_name", job.Name).Msg("Job cancelled")
	return nil
}

// Job returns a snapshot of one job.
func (s *Scheduler) Job(id string) (ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ScheduledJob{}, false
	}
	return *job, true
}

// ListJobs returns snapshots of every registered job.
func (s *Scheduler) ListJobs() []ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	return out
}

// Stats counts jobs per status.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := SchedulerStats{Total: len(s.jobs)}
	for _, job := range s.jobs {
		switch job.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

// Start begins the driver loop in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel
	s.started = true

	s.wg.Add(1)
	go s.run(loopCtx)

	s.logger.Info().
		Dur("tick", s.cfg.TickInterval).
		Int("max_concurrent", s.cfg.MaxConcurrent).
		Msg("Scheduler started")
	return nil
}

// Stop cancels the loop and waits for in-flight executions, honoring
// the context deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.started = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn().Msg("Scheduler shutdown timed out")
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

// dispatchDue scans all jobs and dispatches every one whose NextRun has
// arrived and that is neither running nor in a terminal state.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	var due []*ScheduledJob
	for _, job := range s.jobs {
		if job.Status != StatusPending {
			continue
		}
		if !job.NextRun.After(now) {
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		if s.limiter != nil {
			if err := s.limiter.CheckAll(); err != nil {
				s.logger.Debug().
					Str("job_id", job.ID).
					Err(err).
					Msg("Admission check failed, job deferred")
				continue
			}
		}
		if !s.sem.TryAcquire(1) {
			// Pool is full; the job stays pending for the next tick.
			continue
		}

		s.mu.Lock()
		if job.Status != StatusPending {
			s.mu.Unlock()
			s.sem.Release(1)
			continue
		}
		job.Status = StatusRunning
		s.mu.Unlock()

		s.wg.Add(1)
		go s.execute(ctx, job)
	}
}

func (s *Scheduler) execute(ctx context.Context, job *ScheduledJob) {
	defer s.wg.Done()
	defer s.sem.Release(1)

	err := runHandler(ctx, job.fn)
	if err != nil && s.failures != nil {
		recovered, retryErr := s.failures.HandleFailure(ctx, job.ID, job.Name, job.fn, err, ReasonError, nil)
		switch {
		case retryErr != nil:
			err = retryErr
		case recovered:
			err = nil
		}
	}
	completed := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if job.Status == StatusCancelled {
		// Cancelled mid-flight; the result is discarded.
		return
	}
	if err != nil {
		job.Status = StatusFailed
		job.LastErr = err.Error()
		s.logger.Error().
			Str("job_id", job.ID).
			Str("job_name", job.Name).
			Err(err).
			Msg("Job failed")
		return
	}

	job.RunCount++
	job.LastRun = completed
	job.LastErr = ""
	if job.Type == ScheduleTypeInterval {
		job.Status = StatusPending
		job.NextRun = completed.Add(job.Interval)
	} else {
		job.Status = StatusCompleted
	}
	s.logger.Debug().
		Str("job_id", job.ID).
		Str("job_name", job.Name).
		Int("run_count", job.RunCount).
		Msg("Job completed")
}
