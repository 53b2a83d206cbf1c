package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-run/sentinel/pkg/config"
	"github.com/sentinel-run/sentinel/pkg/jobs"
	"github.com/sentinel-run/sentinel/pkg/limits"
	"github.com/sentinel-run/sentinel/pkg/proc"
)

func newTestApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(Options{
		Config:  cfg,
		Logger:  zerolog.Nop(),
		Sampler: proc.Static{CPU: 10, Memory: 100},
	})
	require.NoError(t, err)
	return a
}

func TestNew_WiresEveryComponent(t *testing.T) {
	a := newTestApp(t, nil)

	require.NotNil(t, a.ResourceLimiter())
	require.NotNil(t, a.ConnectionLimiter())
	require.NotNil(t, a.DeadlockDetector())
	require.NotNil(t, a.MemLeakDetector())
	require.NotNil(t, a.JobQueue())
	require.NotNil(t, a.Scheduler())
	require.NotNil(t, a.FailureHandler())
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Limits.MaxConnections = -1

	_, err := New(Options{Config: cfg, Logger: zerolog.Nop()})
	require.Error(t, err)
}

func TestApp_ConnectionQuotaEndToEnd(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Limits.MaxConnections = 2
	})
	limiter := a.ResourceLimiter()

	require.NoError(t, limiter.AcquireConnection("c1", nil))
	require.NoError(t, limiter.AcquireConnection("c2", nil))

	err := limiter.AcquireConnection("c3", nil)
	var le *limits.LimitError
	require.ErrorAs(t, err, &le)
	require.Equal(t, float64(2), le.Current)
	require.Equal(t, float64(2), le.Limit)

	limiter.ReleaseConnection("c1")
	require.NoError(t, limiter.AcquireConnection("c3", nil))
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Deadlock.CheckInterval = 10 * time.Millisecond
		cfg.MemLeak.SampleInterval = 10 * time.Millisecond
		cfg.Scheduler.TickInterval = 10 * time.Millisecond
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop after cancel")
	}

	// Monitoring ran: the leak detector collected samples.
	require.NotEmpty(t, a.MemLeakDetector().Samples())
}

func TestApp_RunTwiceFails(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Scheduler.TickInterval = 10 * time.Millisecond
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)

	require.Error(t, a.Run(ctx))

	cancel()
	<-done
}

func TestApp_ApplyConfigSwapsQuotas(t *testing.T) {
	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Limits.MaxConnections = 10
	})

	cfg := a.Config()
	cfg.Limits.MaxConnections = 1
	a.ApplyConfig(cfg)

	require.NoError(t, a.ResourceLimiter().AcquireConnection("c1", nil))
	require.ErrorIs(t, a.ResourceLimiter().AcquireConnection("c2", nil), limits.ErrLimitExceeded)
}

func TestApp_SchedulerAdmissionUsesLimiter(t *testing.T) {
	// CPU sample far above quota: every due job is deferred.
	cfg := config.DefaultConfig()
	cfg.Scheduler.TickInterval = 5 * time.Millisecond
	a, err := New(Options{
		Config:  cfg,
		Logger:  zerolog.Nop(),
		Sampler: proc.Static{CPU: 99, Memory: 100},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	ran := make(chan struct{}, 1)
	_, err = a.Scheduler().ScheduleOnce("starved", time.Now(), func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	})
	require.NoError(t, err)

	select {
	case <-ran:
		t.Fatal("job ran despite CPU quota breach")
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	require.NoError(t, <-done)
}

func TestApp_QueueAndDetectorsShareOneInstance(t *testing.T) {
	a := newTestApp(t, nil)

	for i := 0; i < 3; i++ {
		a.JobQueue().Enqueue(jobs.QueuedJob{ID: fmt.Sprintf("j%d", i)})
	}
	require.Equal(t, 3, a.JobQueue().Len())
	require.Equal(t, 3, a.JobQueue().Metrics().Depth)

	a.DeadlockDetector().RegisterDependency("t1", "R1", "R1")
	require.True(t, a.DeadlockDetector().Detect().Deadlocked)
}
