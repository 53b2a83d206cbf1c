// Package memleak estimates unbounded memory growth from periodic
// samples of the process footprint.
//
// The estimate is a least-squares trend over a bounded sample window.
// It is a heuristic: short windows over sawtooth (GC-driven) memory can
// report a leak that is not there. Callers should size the window long
// enough to average several GC cycles out.
package memleak

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentinel-run/sentinel/pkg/proc"
)

// Sample is one memory reading.
type Sample struct {
	At       time.Time `json:"at"`
	MemoryMB float64   `json:"memory_mb"`
}

// Report is the outcome of one leak evaluation.
type Report struct {
	Leaking         bool          `json:"leaking"`
	GrowthMBPerHour float64       `json:"growth_mb_per_hour"`
	Samples         int           `json:"samples"`
	Window          time.Duration `json:"window"`
	CurrentMB       float64       `json:"current_mb"`
}

// Detector holds samples in a fixed-capacity ring, evicting the oldest
// first.
type Detector struct {
	mu    sync.Mutex
	buf   []Sample
	start int
	size  int

	threshold float64
	interval  time.Duration
	sampler   proc.Sampler
	logger    zerolog.Logger
}

// NewDetector creates a Detector keeping at most capacity samples and
// reporting a leak when the fitted growth rate exceeds thresholdMBPerHour.
// If capacity <= 0, defaults to 60; if interval <= 0, defaults to 1m.
func NewDetector(capacity int, thresholdMBPerHour float64, interval time.Duration, sampler proc.Sampler, logger zerolog.Logger) *Detector {
	if capacity <= 0 {
		capacity = 60
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Detector{
		buf:       make([]Sample, capacity),
		threshold: thresholdMBPerHour,
		interval:  interval,
		sampler:   sampler,
		logger:    logger.With().Str("component", "memleak").Logger(),
	}
}

// Record pulls one reading from the sampler and appends it.
func (d *Detector) Record() error {
	mem, err := d.sampler.MemoryMB()
	if err != nil {
		return err
	}
	d.Add(Sample{At: time.Now(), MemoryMB: mem})
	return nil
}

// Add appends a sample, evicting the oldest when the ring is full. Used
// directly by callers that feed externally collected readings.
func (d *Detector) Add(s Sample) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.size < len(d.buf) {
		d.buf[(d.start+d.size)%len(d.buf)] = s
		d.size++
		return
	}
	d.buf[d.start] = s
	d.start = (d.start + 1) % len(d.buf)
}

// Samples returns the buffered samples, oldest first.
func (d *Detector) Samples() []Sample {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

// Reset clears the sample buffer.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.start = 0
	d.size = 0
}

// Detect fits an ordinary-least-squares line to memory over time and
// compares the slope against the threshold. Fewer than two samples
// report no leak.
func (d *Detector) Detect() Report {
	d.mu.Lock()
	samples := d.snapshotLocked()
	d.mu.Unlock()

	n := len(samples)
	if n < 2 {
		return Report{Samples: n}
	}

	first := samples[0].At
	last := samples[n-1]

	// x in hours since the first sample, y in MB.
	var sumX, sumY, sumXY, sumXX float64
	for _, s := range samples {
		x := s.At.Sub(first).Hours()
		y := s.MemoryMB
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	var slope float64
	if denom := float64(n)*sumXX - sumX*sumX; denom != 0 {
		slope = (float64(n)*sumXY - sumX*sumY) / denom
	}

	return Report{
		Leaking:         slope > d.threshold,
		GrowthMBPerHour: slope,
		Samples:         n,
		Window:          last.At.Sub(first),
		CurrentMB:       last.MemoryMB,
	}
}

// Run samples and evaluates at the configured interval until ctx is
// cancelled, logging a warning while the trend exceeds the threshold.
func (d *Detector) Run(ctx context.Context) error {
	d.logger.Info().
		Dur("interval", d.interval).
		Float64("threshold_mb_per_hour", d.threshold).
		Msg("Memory leak monitoring started")

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("Memory leak monitoring stopped")
			return nil
		case <-ticker.C:
			if err := d.Record(); err != nil {
				d.logger.Error().Err(err).Msg("Memory sample failed")
				continue
			}
			if report := d.Detect(); report.Leaking {
				d.logger.Warn().
					Float64("growth_mb_per_hour", report.GrowthMBPerHour).
					Float64("current_mb", report.CurrentMB).
					Int("samples", report.Samples).
					Msg("Memory growth trend exceeds threshold")
			}
		}
	}
}

func (d *Detector) snapshotLocked() []Sample {
	out := make([]Sample, d.size)
	for i := 0; i < d.size; i++ {
		out[i] = d.buf[(d.start+i)%len(d.buf)]
	}
	return out
}
