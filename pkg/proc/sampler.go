// Package proc reads the current process's resource usage. The rest of
// the toolkit treats it as an opaque sampling source: anything that can
// answer "what is my CPU%?" and "how many MB am I holding?" can stand in
// for it, including the static fake used in tests.
package proc

// Sampler reads live usage for this process. Implementations must be
// safe for concurrent use.
type Sampler interface {
	// CPUPercent returns the process CPU utilization as a percentage
	// of one core (0-100 per core, may exceed 100 on multi-core use).
	CPUPercent() (float64, error)

	// MemoryMB returns the process's current memory footprint in MB.
	MemoryMB() (float64, error)
}

// Static is a Sampler returning fixed values. Used in tests and by
// callers that feed measurements from an external source.
type Static struct {
	CPU    float64
	Memory float64
}

func (s Static) CPUPercent() (float64, error) { return s.CPU, nil }

func (s Static) MemoryMB() (float64, error) { return s.Memory, nil }
