package memleak

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-run/sentinel/pkg/proc"
)

func newTestDetector(capacity int, threshold float64) *Detector {
	return NewDetector(capacity, threshold, time.Second, proc.Static{}, zerolog.Nop())
}

func TestDetect_TooFewSamples(t *testing.T) {
	d := newTestDetector(10, 50)

	report := d.Detect()
	require.False(t, report.Leaking)
	require.Equal(t, 0, report.Samples)

	d.Add(Sample{At: time.Now(), MemoryMB: 100})
	report = d.Detect()
	require.False(t, report.Leaking)
	require.Equal(t, 1, report.Samples)
}

func TestDetect_LinearGrowthMatchesAnalyticSlope(t *testing.T) {
	d := newTestDetector(100, 50)

	// +10 MB every 30s is 1200 MB/hour.
	base := time.Now()
	for i := 0; i < 10; i++ {
		d.Add(Sample{
			At:       base.Add(time.Duration(i) * 30 * time.Second),
			MemoryMB: 100 + 10*float64(i),
		})
	}

	report := d.Detect()
	require.True(t, report.Leaking)
	require.InDelta(t, 1200, report.GrowthMBPerHour, 1)
	require.Equal(t, 10, report.Samples)
	require.Equal(t, 190.0, report.CurrentMB)
	require.Equal(t, 270*time.Second, report.Window)
}

func TestDetect_ConstantMemoryIsNotLeaking(t *testing.T) {
	d := newTestDetector(100, 50)

	base := time.Now()
	for i := 0; i < 10; i++ {
		d.Add(Sample{At: base.Add(time.Duration(i) * time.Minute), MemoryMB: 256})
	}

	report := d.Detect()
	require.False(t, report.Leaking)
	require.InDelta(t, 0, report.GrowthMBPerHour, 1e-9)
}

func TestDetect_ShrinkingMemoryIsNotLeaking(t *testing.T) {
	d := newTestDetector(100, 50)

	base := time.Now()
	for i := 0; i < 5; i++ {
		d.Add(Sample{At: base.Add(time.Duration(i) * time.Minute), MemoryMB: 500 - 20*float64(i)})
	}

	report := d.Detect()
	require.False(t, report.Leaking)
	require.Negative(t, report.GrowthMBPerHour)
}

func TestDetect_GrowthBelowThreshold(t *testing.T) {
	d := newTestDetector(100, 50)

	// +10 MB per hour, well under the 50 MB/h threshold.
	base := time.Now()
	for i := 0; i < 6; i++ {
		d.Add(Sample{At: base.Add(time.Duration(i) * time.Hour), MemoryMB: 100 + 10*float64(i)})
	}

	report := d.Detect()
	require.False(t, report.Leaking)
	require.InDelta(t, 10, report.GrowthMBPerHour, 0.1)
}

func TestDetect_IdenticalTimestamps(t *testing.T) {
	d := newTestDetector(10, 50)

	at := time.Now()
	d.Add(Sample{At: at, MemoryMB: 100})
	d.Add(Sample{At: at, MemoryMB: 900})

	// Zero variance in x must not divide by zero.
	report := d.Detect()
	require.False(t, report.Leaking)
	require.Zero(t, report.GrowthMBPerHour)
}

func TestRing_EvictsOldestFirst(t *testing.T) {
	d := newTestDetector(3, 50)

	base := time.Now()
	for i := 0; i < 5; i++ {
		d.Add(Sample{At: base.Add(time.Duration(i) * time.Second), MemoryMB: float64(i)})
	}

	samples := d.Samples()
	require.Len(t, samples, 3)
	require.Equal(t, 2.0, samples[0].MemoryMB)
	require.Equal(t, 4.0, samples[2].MemoryMB)
}

func TestReset(t *testing.T) {
	d := newTestDetector(10, 50)
	d.Add(Sample{At: time.Now(), MemoryMB: 100})
	d.Add(Sample{At: time.Now(), MemoryMB: 200})

	d.Reset()
	require.Empty(t, d.Samples())
	require.False(t, d.Detect().Leaking)
}

func TestRecord_UsesSampler(t *testing.T) {
	d := NewDetector(10, 50, time.Second, proc.Static{Memory: 321}, zerolog.Nop())

	require.NoError(t, d.Record())
	samples := d.Samples()
	require.Len(t, samples, 1)
	require.Equal(t, 321.0, samples[0].MemoryMB)
}

func TestRun_SamplesUntilCancelled(t *testing.T) {
	d := NewDetector(10, 50, 10*time.Millisecond, proc.Static{Memory: 100}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(60 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after cancel")
	}
	require.GreaterOrEqual(t, len(d.Samples()), 2)
}
