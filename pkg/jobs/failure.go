package jobs

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RetryPolicy bounds the retry loop. The delay before retry n is
// min(InitialDelay × Multiplier^n, MaxDelay).
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy retries three times starting at one second,
// doubling up to thirty seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     30 * time.Second,
	}
}

// Delay returns the backoff before the given retry attempt, starting
// from attempt 0.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := time.Duration(float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt)))
	if d <= 0 || d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// FailureStats summarizes the handler's bookkeeping.
type FailureStats struct {
	Active       int `json:"active"`
	DeadLettered int `json:"dead_lettered"`
}

// FailureHandler retries failed work with capped exponential backoff.
// A job that exhausts its budget is parked in an append-only
// dead-letter queue and never auto-retried again; recovery requires an
// operator to inspect and clear the queue.
//
// For a given job id there is at most one of: an active retry record or
// a dead-letter entry. Distinct job ids retry fully independently; the
// lock covers only the record maps, never a sleep or a handler call.
type FailureHandler struct {
	mu     sync.Mutex
	active map[string]*Failure
	dead   []Failure

	policy RetryPolicy
	logger zerolog.Logger
}

// NewFailureHandler creates a FailureHandler. Non-positive policy
// fields fall back to DefaultRetryPolicy values.
func NewFailureHandler(policy RetryPolicy, logger zerolog.Logger) *FailureHandler {
	def := DefaultRetryPolicy()
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = def.MaxRetries
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = def.InitialDelay
	}
	if policy.Multiplier <= 1 {
		policy.Multiplier = def.Multiplier
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = def.MaxDelay
	}
	return &FailureHandler{
		active: make(map[string]*Failure),
		policy: policy,
		logger: logger.With().Str("component", "jobs.failures").Logger(),
	}
}

// HandleFailure is called after fn already failed once with cause. It
// retries fn with backoff until it succeeds or the budget is spent.
// Returns true when a retry succeeded (the active record is cleared),
// false when the job was promoted to the dead-letter queue or was
// already there. The error is non-nil only when ctx was cancelled
// mid-backoff; the record then stays active so a later call resumes it.
func (h *FailureHandler) HandleFailure(ctx context.Context, jobID, jobName string, fn HandlerFunc, cause error, reason FailureReason, meta map[string]string) (bool, error) {
	now := time.Now()

	h.mu.Lock()
	if h.deadLetteredLocked(jobID) {
		h.mu.Unlock()
		h.logger.Debug().Str("job_id", jobID).Msg("Job is dead-lettered, not retrying")
		return false, nil
	}
	rec, ok := h.active[jobID]
	if !ok {
		rec = &Failure{
			ID:        uuid.NewString(),
			JobID:     jobID,
			JobName:   jobName,
			Reason:    reason,
			FirstSeen: now,
			Metadata:  meta,
		}
		h.active[jobID] = rec
	}
	rec.ErrorMessage = cause.Error()
	rec.LastSeen = now
	h.mu.Unlock()

	for {
		h.mu.Lock()
		if rec.RetryCount >= h.policy.MaxRetries {
			h.dead = append(h.dead, *rec)
			delete(h.active, jobID)
			h.mu.Unlock()

			h.logger.Error().
				Str("job_id", jobID).
				Str("job_name", jobName).
				Int("retries", rec.RetryCount).
				Str("error", rec.ErrorMessage).
				Msg("Retry budget exhausted, job dead-lettered")
			return false, nil
		}
		attempt := rec.RetryCount
		h.mu.Unlock()

		delay := h.policy.Delay(attempt)
		h.logger.Warn().
			Str("job_id", jobID).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("Retrying job after backoff")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}

		err := runHandler(ctx, fn)
		if err == nil {
			h.mu.Lock()
			delete(h.active, jobID)
			h.mu.Unlock()

			h.logger.Info().
				Str("job_id", jobID).
				Int("attempts", attempt+1).
				Msg("Job recovered after retry")
			return true, nil
		}

		h.mu.Lock()
		rec.RetryCount++
		rec.ErrorMessage = err.Error()
		rec.LastSeen = time.Now()
		h.mu.Unlock()
	}
}

// ActiveFailures returns copies of every active retry record.
func (h *FailureHandler) ActiveFailures() []Failure {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Failure, 0, len(h.active))
	for _, rec := range h.active {
		out = append(out, *rec)
	}
	return out
}

// DeadLetters returns a copy of the dead-letter queue, oldest first.
func (h *FailureHandler) DeadLetters() []Failure {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Failure, len(h.dead))
	copy(out, h.dead)
	return out
}

// ClearDeadLetters empties the dead-letter queue, returning how many
// entries were dropped. Cleared jobs become eligible to retry again.
func (h *FailureHandler) ClearDeadLetters() int {
	h.mu.Lock()
	n := len(h.dead)
	h.dead = nil
	h.mu.Unlock()

	if n > 0 {
		h.logger.Info().Int("cleared", n).Msg("Dead-letter queue cleared")
	}
	return n
}

// Stats returns current record counts.
func (h *FailureHandler) Stats() FailureStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return FailureStats{Active: len(h.active), DeadLettered: len(h.dead)}
}

func (h *FailureHandler) deadLetteredLocked(jobID string) bool {
	for _, f := range h.dead {
		if f.JobID == jobID {
			return true
		}
	}
	return false
}
