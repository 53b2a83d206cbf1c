// Package deadlock tracks which task owns or waits on which resource
// and detects circular waits. Detection is advisory: a report names the
// cycle, it never kills or unblocks a task.
package deadlock

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Dependency records one task's relationship to a resource: the task
// holds ResourceID, and when WaitingFor is non-empty it is additionally
// blocked waiting on that resource. A task with an empty WaitingFor is
// treated as only owning ResourceID.
type Dependency struct {
	TaskID     string    `json:"task_id"`
	ResourceID string    `json:"resource_id"`
	WaitingFor string    `json:"waiting_for,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Report is the outcome of one detection pass.
type Report struct {
	Deadlocked bool     `json:"deadlocked"`
	Cycle      []string `json:"cycle,omitempty"`
}

// Detector maintains the wait-for state. One record per task id; a
// re-register overwrites, so a task is never represented as waiting on
// more than one resource.
type Detector struct {
	mu       sync.Mutex
	deps     map[string]Dependency
	interval time.Duration
	logger   zerolog.Logger
}

// NewDetector creates a Detector whose Run loop checks every interval.
// If interval <= 0, defaults to 30s.
func NewDetector(interval time.Duration, logger zerolog.Logger) *Detector {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Detector{
		deps:     make(map[string]Dependency),
		interval: interval,
		logger:   logger.With().Str("component", "deadlock").Logger(),
	}
}

// RegisterDependency upserts the record for taskID. Pass an empty
// waitingFor to record ownership of resourceID; pass a resource id to
// record that the task is blocked on it. Last write per task wins.
func (d *Detector) RegisterDependency(taskID, resourceID, waitingFor string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.deps[taskID] = Dependency{
		TaskID:     taskID,
		ResourceID: resourceID,
		WaitingFor: waitingFor,
		Timestamp:  time.Now(),
	}
}

// ReleaseDependency removes taskID's record. Unknown tasks are a no-op.
func (d *Detector) ReleaseDependency(taskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.deps, taskID)
}

// Dependencies returns a snapshot copy of every registered record.
func (d *Detector) Dependencies() []Dependency {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Dependency, 0, len(d.deps))
	for _, dep := range d.deps {
		out = append(out, dep)
	}
	return out
}

// Detect builds the wait-for graph and runs DFS cycle detection over
// it. Every record marks its task as the owner of its held resource;
// the graph then has an edge from each waiting task to the owner of the
// resource it waits on. Edges to resources nobody owns are dropped. The
// first cycle discovered is returned as an ordered list of task ids.
func (d *Detector) Detect() Report {
	d.mu.Lock()
	owners := make(map[string]string)
	for _, dep := range d.deps {
		owners[dep.ResourceID] = dep.TaskID
	}
	waits := make(map[string][]string)
	for _, dep := range d.deps {
		if dep.WaitingFor == "" {
			continue
		}
		if owner, ok := owners[dep.WaitingFor]; ok {
			waits[dep.TaskID] = append(waits[dep.TaskID], owner)
		}
	}
	d.mu.Unlock()

	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var path []string
	var cycle []string

	var visit func(task string) bool
	visit = func(task string) bool {
		visited[task] = true
		onStack[task] = true
		path = append(path, task)

		for _, next := range waits[task] {
			if onStack[next] {
				// Close the loop at the first back-edge.
				for i, id := range path {
					if id == next {
						cycle = append(cycle, path[i:]...)
						break
					}
				}
				return true
			}
			if !visited[next] && visit(next) {
				return true
			}
		}

		onStack[task] = false
		path = path[:len(path)-1]
		return false
	}

	for task := range waits {
		if !visited[task] && visit(task) {
			return Report{Deadlocked: true, Cycle: cycle}
		}
	}
	return Report{}
}

// Run polls Detect at the configured interval, logging any cycle found,
// until ctx is cancelled. Cancellation is checked once per iteration.
func (d *Detector) Run(ctx context.Context) error {
	d.logger.Info().Dur("interval", d.interval).Msg("Deadlock monitoring started")

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("Deadlock monitoring stopped")
			return nil
		case <-ticker.C:
			if report := d.Detect(); report.Deadlocked {
				d.logger.Warn().
					Strs("cycle", report.Cycle).
					Msg("Deadlock detected")
			}
		}
	}
}
