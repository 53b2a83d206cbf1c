// Package config loads and validates toolkit configuration from
// hardcoded defaults and an optional YAML file, and rebuilds it on file
// changes.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var validate = validator.New()

// Manager handles loading and accessing configuration. Safe for
// concurrent use; Get returns a copy.
type Manager struct {
	k       *koanf.Koanf
	current Config
	mu      sync.RWMutex
}

// NewManager creates a Manager holding the default configuration.
func NewManager() *Manager {
	return &Manager{
		k:       koanf.New("."),
		current: DefaultConfig(),
	}
}

// DefaultConfig returns the baseline configuration used when no other
// source overrides it.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Limits: LimitsConfig{
			MaxCPUPercent:  80,
			MaxMemoryMB:    1024,
			MaxConnections: 100,
		},
		Connections: ConnectionsConfig{
			Database:  25,
			API:       50,
			Websocket: 200,
			External:  20,
		},
		Deadlock: DeadlockConfig{
			CheckInterval: 30 * time.Second,
		},
		MemLeak: MemLeakConfig{
			SampleInterval:    time.Minute,
			WindowSize:        60,
			GrowthThresholdMB: 50,
		},
		Queue: QueueConfig{
			WarningDepth:  10,
			CriticalDepth: 50,
			MetricsWindow: 5 * time.Minute,
		},
		Retry: RetryConfig{
			MaxRetries:        3,
			InitialDelay:      time.Second,
			BackoffMultiplier: 2,
			MaxDelay:          30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			TickInterval:  time.Second,
			MaxConcurrent: 16,
		},
	}
}

// Load merges defaults with the YAML file at path (skipped when path is
// empty), unmarshals and validates the result, and swaps it in.
func (m *Manager) Load(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaultConfigAsMap(), "."), nil); err != nil {
		return fmt.Errorf("load default config: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	m.k = k
	m.current = cfg
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Validate checks a standalone Config against the same rules Load
// applies.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// defaultConfigAsMap flattens DefaultConfig for koanf's confmap
// provider so every key is known before the file is merged in.
func defaultConfigAsMap() map[string]interface{} {
	def := DefaultConfig()
	return map[string]interface{}{
		"log.level":  def.Log.Level,
		"log.format": def.Log.Format,

		"limits.max_cpu_percent": def.Limits.MaxCPUPercent,
		"limits.max_memory_mb":   def.Limits.MaxMemoryMB,
		"limits.max_connections": def.Limits.MaxConnections,

		"connections.database":  def.Connections.Database,
		"connections.api":       def.Connections.API,
		"connections.websocket": def.Connections.Websocket,
		"connections.external":  def.Connections.External,

		"deadlock.check_interval": def.Deadlock.CheckInterval,

		"memleak.sample_interval":              def.MemLeak.SampleInterval,
		"memleak.window_size":                  def.MemLeak.WindowSize,
		"memleak.growth_threshold_mb_per_hour": def.MemLeak.GrowthThresholdMB,

		"queue.warning_depth":  def.Queue.WarningDepth,
		"queue.critical_depth": def.Queue.CriticalDepth,
		"queue.metrics_window": def.Queue.MetricsWindow,

		"retry.max_retries":        def.Retry.MaxRetries,
		"retry.initial_delay":      def.Retry.InitialDelay,
		"retry.backoff_multiplier": def.Retry.BackoffMultiplier,
		"retry.max_delay":          def.Retry.MaxDelay,

		"scheduler.tick_interval":  def.Scheduler.TickInterval,
		"scheduler.max_concurrent": def.Scheduler.MaxConcurrent,
	}
}
