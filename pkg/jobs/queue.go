package jobs

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Health is the queue's 3-level health signal.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthWarning  Health = "warning"
	HealthCritical Health = "critical"
)

// QueuedJob is one entry in the backlog.
type QueuedJob struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Payload    any       `json:"-"`
}

// QueueMetrics is a derived snapshot, computed on demand.
type QueueMetrics struct {
	Depth          int           `json:"depth"`
	AvgWait        time.Duration `json:"avg_wait"`
	MaxWait        time.Duration `json:"max_wait"`
	OldestAge      time.Duration `json:"oldest_age"`
	ProcessingRate float64       `json:"processing_rate"` // dequeues per minute
}

// QueueConfig sizes the health thresholds and the rate window.
type QueueConfig struct {
	WarningDepth  int
	CriticalDepth int
	MetricsWindow time.Duration
}

type rateSnapshot struct {
	at        time.Time
	processed int
}

// Queue is a FIFO backlog. Order is preserved under one lock; metrics
// derive from the live queue plus a rolling window of past snapshots.
type Queue struct {
	mu        sync.Mutex
	items     []QueuedJob
	processed int
	startedAt time.Time
	history   []rateSnapshot

	cfg    QueueConfig
	logger zerolog.Logger
}

// NewQueue creates a Queue. Zero thresholds default to warning 10 /
// critical 50; a zero window defaults to 5m.
func NewQueue(cfg QueueConfig, logger zerolog.Logger) *Queue {
	if cfg.WarningDepth <= 0 {
		cfg.WarningDepth = 10
	}
	if cfg.CriticalDepth <= 0 {
		cfg.CriticalDepth = 50
	}
	if cfg.MetricsWindow <= 0 {
		cfg.MetricsWindow = 5 * time.Minute
	}
	return &Queue{
		cfg:       cfg,
		startedAt: time.Now(),
		logger:    logger.With().Str("component", "jobs.queue").Logger(),
	}
}

// Enqueue appends a job to the backlog. A zero EnqueuedAt is stamped
// with the current time.
func (q *Queue) Enqueue(j QueuedJob) {
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now()
	}

	q.mu.Lock()
	q.items = append(q.items, j)
	depth := len(q.items)
	q.mu.Unlock()

	q.logger.Debug().Str("job_id", j.ID).Int("depth", depth).Msg("Job enqueued")
}

// Dequeue pops the oldest job. The second return is false when the
// queue is empty.
func (q *Queue) Dequeue() (QueuedJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return QueuedJob{}, false
	}
	j := q.items[0]
	q.items = q.items[1:]
	q.processed++
	return j, true
}

// Len returns the current backlog depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Metrics computes the derived snapshot. Each call also records a rate
// snapshot, so the processing rate reflects the rolling window between
// successive calls rather than process lifetime.
func (q *Queue) Metrics() QueueMetrics {
	now := time.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	m := QueueMetrics{Depth: len(q.items)}

	var total time.Duration
	for _, j := range q.items {
		wait := now.Sub(j.EnqueuedAt)
		total += wait
		if wait > m.MaxWait {
			m.MaxWait = wait
		}
	}
	if len(q.items) > 0 {
		m.AvgWait = total / time.Duration(len(q.items))
		m.OldestAge = now.Sub(q.items[0].EnqueuedAt)
	}

	// Drop snapshots that fell out of the window, then rate against the
	// oldest one that remains (or process start when none do).
	cutoff := now.Add(-q.cfg.MetricsWindow)
	for len(q.history) > 0 && q.history[0].at.Before(cutoff) {
		q.history = q.history[1:]
	}

	baseAt, baseProcessed := q.startedAt, 0
	if len(q.history) > 0 {
		baseAt, baseProcessed = q.history[0].at, q.history[0].processed
	}
	if minutes := now.Sub(baseAt).Minutes(); minutes > 0 {
		m.ProcessingRate = float64(q.processed-baseProcessed) / minutes
	}

	q.history = append(q.history, rateSnapshot{at: now, processed: q.processed})
	return m
}

// Status maps the current depth onto the health scale: depth below the
// warning threshold is healthy, at or above it warning, at or above the
// critical threshold critical. A pure threshold, no hysteresis.
func (q *Queue) Status() Health {
	depth := q.Len()
	switch {
	case depth >= q.cfg.CriticalDepth:
		return HealthCritical
	case depth >= q.cfg.WarningDepth:
		return HealthWarning
	default:
		return HealthHealthy
	}
}
