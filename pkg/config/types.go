package config

import "time"

// Config is the root configuration for the toolkit. It aggregates the
// per-component configuration structs.
type Config struct {
	Log         LogConfig         `koanf:"log"`
	Limits      LimitsConfig      `koanf:"limits"`
	Connections ConnectionsConfig `koanf:"connections"`
	Deadlock    DeadlockConfig    `koanf:"deadlock"`
	MemLeak     MemLeakConfig     `koanf:"memleak"`
	Queue       QueueConfig       `koanf:"queue"`
	Retry       RetryConfig       `koanf:"retry"`
	Scheduler   SchedulerConfig   `koanf:"scheduler"`
}

// LogConfig holds logging related configuration.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"` // Log level
	Format string `koanf:"format" validate:"oneof=json console"`              // json | console
}

// LimitsConfig holds the process-wide resource quota.
type LimitsConfig struct {
	MaxCPUPercent  float64 `koanf:"max_cpu_percent" validate:"gt=0"`
	MaxMemoryMB    float64 `koanf:"max_memory_mb" validate:"gt=0"`
	MaxConnections int     `koanf:"max_connections" validate:"gt=0"`
}

// ConnectionsConfig holds per-class connection ceilings.
type ConnectionsConfig struct {
	Database  int `koanf:"database" validate:"gte=0"`
	API       int `koanf:"api" validate:"gte=0"`
	Websocket int `koanf:"websocket" validate:"gte=0"`
	External  int `koanf:"external" validate:"gte=0"`
}

// DeadlockConfig holds deadlock monitoring settings.
type DeadlockConfig struct {
	CheckInterval time.Duration `koanf:"check_interval" validate:"gt=0"`
}

// MemLeakConfig holds leak detection settings. WindowSize is the sample
// ring capacity; size it to cover several GC cycles at SampleInterval
// or sawtooth memory will false-positive.
type MemLeakConfig struct {
	SampleInterval    time.Duration `koanf:"sample_interval" validate:"gt=0"`
	WindowSize        int           `koanf:"window_size" validate:"gt=1"`
	GrowthThresholdMB float64       `koanf:"growth_threshold_mb_per_hour" validate:"gt=0"`
}

// QueueConfig holds backlog health thresholds.
type QueueConfig struct {
	WarningDepth  int           `koanf:"warning_depth" validate:"gt=0"`
	CriticalDepth int           `koanf:"critical_depth" validate:"gtfield=WarningDepth"`
	MetricsWindow time.Duration `koanf:"metrics_window" validate:"gt=0"`
}

// RetryConfig bounds retry-on-failure behavior.
type RetryConfig struct {
	MaxRetries        int           `koanf:"max_retries" validate:"gt=0"`
	InitialDelay      time.Duration `koanf:"initial_delay" validate:"gt=0"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier" validate:"gt=1"`
	MaxDelay          time.Duration `koanf:"max_delay" validate:"gtefield=InitialDelay"`
}

// SchedulerConfig holds driver loop settings.
type SchedulerConfig struct {
	TickInterval  time.Duration `koanf:"tick_interval" validate:"gt=0"`
	MaxConcurrent int           `koanf:"max_concurrent" validate:"gt=0"`
}
