//go:build unix

package proc

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// RusageSampler samples this process through getrusage(2) and the Go
// runtime. CPUPercent is computed from the CPU-time delta between
// consecutive calls over the wall clock that elapsed between them, so
// the first call always reports 0.
type RusageSampler struct {
	mu       sync.Mutex
	lastWall time.Time
	lastCPU  time.Duration
}

// NewSampler returns the platform Sampler for this process.
func NewSampler() *RusageSampler {
	return &RusageSampler{}
}

func (s *RusageSampler) CPUPercent() (float64, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, fmt.Errorf("getrusage: %w", err)
	}
	cpu := timevalDuration(ru.Utime) + timevalDuration(ru.Stime)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastWall.IsZero() {
		s.lastWall = now
		s.lastCPU = cpu
		return 0, nil
	}

	wall := now.Sub(s.lastWall)
	used := cpu - s.lastCPU
	s.lastWall = now
	s.lastCPU = cpu

	if wall <= 0 || used < 0 {
		return 0, nil
	}
	return 100 * float64(used) / float64(wall), nil
}

func (s *RusageSampler) MemoryMB() (float64, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapSys+ms.StackSys) / (1 << 20), nil
}

func timevalDuration(tv unix.Timeval) time.Duration {
	return time.Duration(tv.Sec)*time.Second + time.Duration(tv.Usec)*time.Microsecond
}
