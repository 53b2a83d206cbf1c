// Package jobs drives background work: a FIFO backlog with health
// metrics, a cooperative scheduler for interval and one-time jobs, and
// a failure handler with capped exponential-backoff retry and a
// dead-letter queue.
package jobs

import (
	"context"
	"fmt"
	"time"
)

// HandlerFunc is one unit of background work. The core treats it as
// opaque and may invoke it zero or more times. Synchronous work simply
// blocks its own goroutine.
type HandlerFunc func(ctx context.Context) error

// Status is a scheduled job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ScheduleType distinguishes recurring from one-shot jobs.
type ScheduleType string

const (
	ScheduleTypeInterval ScheduleType = "interval"
	ScheduleTypeOneTime  ScheduleType = "one_time"
)

// FailureReason classifies why a job execution failed.
type FailureReason string

const (
	ReasonError             FailureReason = "error"
	ReasonTimeout           FailureReason = "timeout"
	ReasonResourceExhausted FailureReason = "resource_exhausted"
	ReasonDependency        FailureReason = "dependency"
)

// ScheduledJob is one registered job. Copies returned by the scheduler
// are snapshots; mutating them has no effect.
type ScheduledJob struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Type     ScheduleType  `json:"type"`
	Interval time.Duration `json:"interval,omitempty"`
	Status   Status        `json:"status"`
	NextRun  time.Time     `json:"next_run,omitempty"`
	LastRun  time.Time     `json:"last_run,omitempty"`
	RunCount int           `json:"run_count"`
	LastErr  string        `json:"last_error,omitempty"`

	fn HandlerFunc
}

// Failure is one job's active retry record, or a dead-letter entry once
// its retry budget is exhausted.
type Failure struct {
	ID           string            `json:"id"`
	JobID        string            `json:"job_id"`
	JobName      string            `json:"job_name"`
	Reason       FailureReason     `json:"reason"`
	ErrorMessage string            `json:"error_message"`
	RetryCount   int               `json:"retry_count"`
	FirstSeen    time.Time         `json:"first_seen"`
	LastSeen     time.Time         `json:"last_seen"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// runHandler invokes fn, converting a panic into an error so one job
// can never crash the loop that dispatched it.
func runHandler(ctx context.Context, fn HandlerFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ctx)
}
