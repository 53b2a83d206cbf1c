// Package app wires the toolkit together: one explicitly constructed
// context holding a single instance of every component, shared by
// reference instead of hidden behind package globals.
package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sentinel-run/sentinel/pkg/config"
	"github.com/sentinel-run/sentinel/pkg/deadlock"
	"github.com/sentinel-run/sentinel/pkg/jobs"
	"github.com/sentinel-run/sentinel/pkg/limits"
	"github.com/sentinel-run/sentinel/pkg/memleak"
	"github.com/sentinel-run/sentinel/pkg/proc"
)

// Options configures App construction. Config is required; a zero
// Logger disables logging output and a nil Sampler selects the
// platform sampler. ConfigPath enables hot reload of quotas and
// thresholds when set.
type Options struct {
	Config     config.Config
	ConfigPath string
	Logger     zerolog.Logger
	Sampler    proc.Sampler
}

// App owns one instance of every runtime-safety component. Construct
// once, share everywhere.
type App struct {
	cfg     config.Config
	manager *config.Manager
	logger  zerolog.Logger

	limiter   *limits.ResourceLimiter
	conns     *limits.ConnectionLimiter
	deadlock  *deadlock.Detector
	memleak   *memleak.Detector
	queue     *jobs.Queue
	failures  *jobs.FailureHandler
	scheduler *jobs.Scheduler
	watcher   *config.Watcher

	running atomic.Bool
}

// New validates the configuration and constructs every component,
// wiring the scheduler to the failure handler and to the resource
// limiter for admission control.
func New(opts Options) (*App, error) {
	if err := config.Validate(opts.Config); err != nil {
		return nil, err
	}
	cfg := opts.Config

	sampler := opts.Sampler
	if sampler == nil {
		sampler = proc.NewSampler()
	}
	logger := opts.Logger

	a := &App{
		cfg:    cfg,
		logger: logger.With().Str("component", "app").Logger(),
	}

	a.limiter = limits.New(limits.Quota{
		MaxCPUPercent:  cfg.Limits.MaxCPUPercent,
		MaxMemoryMB:    cfg.Limits.MaxMemoryMB,
		MaxConnections: cfg.Limits.MaxConnections,
	}, sampler, logger)

	a.conns = limits.NewConnectionLimiter(connectionLimits(cfg.Connections), logger)

	a.deadlock = deadlock.NewDetector(cfg.Deadlock.CheckInterval, logger)

	a.memleak = memleak.NewDetector(
		cfg.MemLeak.WindowSize,
		cfg.MemLeak.GrowthThresholdMB,
		cfg.MemLeak.SampleInterval,
		sampler,
		logger,
	)

	a.queue = jobs.NewQueue(jobs.QueueConfig{
		WarningDepth:  cfg.Queue.WarningDepth,
		CriticalDepth: cfg.Queue.CriticalDepth,
		MetricsWindow: cfg.Queue.MetricsWindow,
	}, logger)

	a.failures = jobs.NewFailureHandler(jobs.RetryPolicy{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay,
		Multiplier:   cfg.Retry.BackoffMultiplier,
		MaxDelay:     cfg.Retry.MaxDelay,
	}, logger)

	a.scheduler = jobs.NewScheduler(jobs.SchedulerConfig{
		TickInterval:  cfg.Scheduler.TickInterval,
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
	}, a.failures, a.limiter, logger)

	if opts.ConfigPath != "" {
		a.manager = config.NewManager()
		if err := a.manager.Load(opts.ConfigPath); err != nil {
			return nil, err
		}
		watcher, err := config.NewWatcher(a.manager, opts.ConfigPath, a.ApplyConfig, logger)
		if err != nil {
			return nil, fmt.Errorf("config watcher: %w", err)
		}
		a.watcher = watcher
	}

	return a, nil
}

// Run starts the scheduler, the deadlock and leak monitors, and the
// config watcher when one is configured, then blocks until ctx is
// cancelled and every loop has exited. An App runs at most once.
func (a *App) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return fmt.Errorf("app already running")
	}

	a.logger.Info().Msg("Starting runtime-safety components")

	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.deadlock.Run(gctx) })
	g.Go(func() error { return a.memleak.Run(gctx) })
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	err := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if stopErr := a.scheduler.Stop(stopCtx); err == nil {
		err = stopErr
	}

	a.logger.Info().Msg("Runtime-safety components stopped")
	return err
}

// ApplyConfig applies a configuration change to the running components.
// Only quotas and thresholds that support live swaps are touched; loop
// intervals keep their construction-time values.
func (a *App) ApplyConfig(cfg config.Config) {
	a.limiter.UpdateQuota(limits.Quota{
		MaxCPUPercent:  cfg.Limits.MaxCPUPercent,
		MaxMemoryMB:    cfg.Limits.MaxMemoryMB,
		MaxConnections: cfg.Limits.MaxConnections,
	})
	a.conns.UpdateLimits(connectionLimits(cfg.Connections))
	a.logger.Info().Msg("Runtime configuration applied")
}

// Config returns the configuration the App was constructed with.
func (a *App) Config() config.Config { return a.cfg }

// ResourceLimiter returns the process-wide resource limiter.
func (a *App) ResourceLimiter() *limits.ResourceLimiter { return a.limiter }

// ConnectionLimiter returns the per-class connection limiter.
func (a *App) ConnectionLimiter() *limits.ConnectionLimiter { return a.conns }

// DeadlockDetector returns the wait-for graph detector.
func (a *App) DeadlockDetector() *deadlock.Detector { return a.deadlock }

// MemLeakDetector returns the memory trend detector.
func (a *App) MemLeakDetector() *memleak.Detector { return a.memleak }

// JobQueue returns the FIFO backlog.
func (a *App) JobQueue() *jobs.Queue { return a.queue }

// Scheduler returns the job scheduler.
func (a *App) Scheduler() *jobs.Scheduler { return a.scheduler }

// FailureHandler returns the retry and dead-letter handler.
func (a *App) FailureHandler() *jobs.FailureHandler { return a.failures }

func connectionLimits(cfg config.ConnectionsConfig) map[limits.ConnectionType]int {
	return map[limits.ConnectionType]int{
		limits.TypeDatabase:  cfg.Database,
		limits.TypeAPI:       cfg.API,
		limits.TypeWebsocket: cfg.Websocket,
		limits.TypeExternal:  cfg.External,
	}
}
