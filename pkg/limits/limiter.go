// Package limits enforces CPU, memory and connection quotas against
// live process measurements. Checks are advisory reads; connection
// acquisition is an atomic check-then-register so no burst of
// concurrent acquires can overshoot the quota.
package limits

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentinel-run/sentinel/pkg/proc"
)

// Quota is the configured ceiling per resource class.
type Quota struct {
	MaxCPUPercent  float64
	MaxMemoryMB    float64
	MaxConnections int
}

// ConnectionInfo tracks one live acquired connection.
type ConnectionInfo struct {
	ID        string
	Type      ConnectionType
	CreatedAt time.Time
	Metadata  map[string]string
}

// Usage is a read-only view of one resource against its quota.
type Usage struct {
	Current float64 `json:"current"`
	Limit   float64 `json:"limit"`
	Ratio   float64 `json:"ratio"`
}

// ResourceLimiter enforces a Quota. All state is guarded by one mutex;
// nothing escapes by reference.
type ResourceLimiter struct {
	mu      sync.Mutex
	quota   Quota
	conns   map[string]ConnectionInfo
	sampler proc.Sampler
	logger  zerolog.Logger
}

// New creates a ResourceLimiter enforcing quota against readings from
// sampler.
func New(quota Quota, sampler proc.Sampler, logger zerolog.Logger) *ResourceLimiter {
	return &ResourceLimiter{
		quota:   quota,
		conns:   make(map[string]ConnectionInfo),
		sampler: sampler,
		logger:  logger.With().Str("component", "limits").Logger(),
	}
}

// CheckCPU samples live CPU usage and returns a *LimitError when it
// exceeds the quota.
func (l *ResourceLimiter) CheckCPU() error {
	cpu, err := l.sampler.CPUPercent()
	if err != nil {
		return fmt.Errorf("sample cpu: %w", err)
	}
	limit := l.Quota().MaxCPUPercent
	if cpu > limit {
		l.logger.Warn().Float64("current", cpu).Float64("limit", limit).Msg("CPU quota exceeded")
		return &LimitError{Kind: KindCPU, Current: cpu, Limit: limit}
	}
	return nil
}

// CheckMemory samples live memory usage and returns a *LimitError when
// it exceeds the quota.
func (l *ResourceLimiter) CheckMemory() error {
	mem, err := l.sampler.MemoryMB()
	if err != nil {
		return fmt.Errorf("sample memory: %w", err)
	}
	limit := l.Quota().MaxMemoryMB
	if mem > limit {
		l.logger.Warn().Float64("current", mem).Float64("limit", limit).Msg("Memory quota exceeded")
		return &LimitError{Kind: KindMemory, Current: mem, Limit: limit}
	}
	return nil
}

// CheckConnections returns a *LimitError when the number of held
// connections has reached the quota.
func (l *ResourceLimiter) CheckConnections() error {
	l.mu.Lock()
	current := len(l.conns)
	limit := l.quota.MaxConnections
	l.mu.Unlock()

	if current >= limit {
		return &LimitError{Kind: KindConnections, Current: float64(current), Limit: float64(limit)}
	}
	return nil
}

// CheckAll runs every check and returns the first breach found.
func (l *ResourceLimiter) CheckAll() error {
	if err := l.CheckCPU(); err != nil {
		return err
	}
	if err := l.CheckMemory(); err != nil {
		return err
	}
	return l.CheckConnections()
}

// AcquireConnection registers a new connection under id. The capacity
// check and the registration happen under one lock, never as an
// increment followed by a rollback. Acquiring an id that is already
// held returns ErrConnectionExists.
func (l *ResourceLimiter) AcquireConnection(id string, meta map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.conns[id]; ok {
		return fmt.Errorf("%w: %s", ErrConnectionExists, id)
	}
	if len(l.conns) >= l.quota.MaxConnections {
		return &LimitError{
			Kind:    KindConnections,
			Current: float64(len(l.conns)),
			Limit:   float64(l.quota.MaxConnections),
		}
	}

	l.conns[id] = ConnectionInfo{
		ID:        id,
		CreatedAt: time.Now(),
		Metadata:  meta,
	}
	l.logger.Debug().Str("conn_id", id).Int("active", len(l.conns)).Msg("Connection acquired")
	return nil
}

// ReleaseConnection removes the connection registered under id. Unknown
// or already-released ids are a no-op; the counter never goes negative.
func (l *ResourceLimiter) ReleaseConnection(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.conns[id]; !ok {
		return
	}
	delete(l.conns, id)
	l.logger.Debug().Str("conn_id", id).Int("active", len(l.conns)).Msg("Connection released")
}

// ActiveConnections returns the number of currently held connections.
func (l *ResourceLimiter) ActiveConnections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// Usage is a pure read returning current/limit/ratio per resource.
// Sampling errors leave the affected entry at zero current.
func (l *ResourceLimiter) Usage() map[Kind]Usage {
	cpu, _ := l.sampler.CPUPercent()
	mem, _ := l.sampler.MemoryMB()

	l.mu.Lock()
	quota := l.quota
	active := len(l.conns)
	l.mu.Unlock()

	return map[Kind]Usage{
		KindCPU:         usageOf(cpu, quota.MaxCPUPercent),
		KindMemory:      usageOf(mem, quota.MaxMemoryMB),
		KindConnections: usageOf(float64(active), float64(quota.MaxConnections)),
	}
}

// UpdateQuota atomically swaps the active quota. Connections already
// held above a newly-lowered ceiling are not evicted; they drain as the
// caller releases them.
func (l *ResourceLimiter) UpdateQuota(q Quota) {
	l.mu.Lock()
	old := l.quota
	l.quota = q
	l.mu.Unlock()

	l.logger.Info().
		Float64("max_cpu_percent", q.MaxCPUPercent).
		Float64("max_memory_mb", q.MaxMemoryMB).
		Int("max_connections", q.MaxConnections).
		Msg("Quota updated")
	if q.MaxConnections < old.MaxConnections {
		l.logger.Debug().Msg("Lowered connection quota applies to new acquisitions only")
	}
}

// Quota returns a copy of the active quota.
func (l *ResourceLimiter) Quota() Quota {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.quota
}

func usageOf(current, limit float64) Usage {
	u := Usage{Current: current, Limit: limit}
	if limit > 0 {
		u.Ratio = current / limit
	}
	return u
}
