//go:build !unix

package proc

import "runtime"

// RusageSampler on non-unix platforms reports memory from the Go
// runtime and no CPU usage (getrusage is unavailable).
type RusageSampler struct{}

// NewSampler returns the platform Sampler for this process.
func NewSampler() *RusageSampler {
	return &RusageSampler{}
}

func (s *RusageSampler) CPUPercent() (float64, error) {
	return 0, nil
}

func (s *RusageSampler) MemoryMB() (float64, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapSys+ms.StackSys) / (1 << 20), nil
}
