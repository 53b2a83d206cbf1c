package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestManager_LoadDefaults(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Load(""))

	cfg := m.Get()
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, float64(80), cfg.Limits.MaxCPUPercent)
	require.Equal(t, 100, cfg.Limits.MaxConnections)
	require.Equal(t, 30*time.Second, cfg.Deadlock.CheckInterval)
	require.Equal(t, 3, cfg.Retry.MaxRetries)
}

func TestManager_LoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
limits:
  max_connections: 7
queue:
  warning_depth: 3
  critical_depth: 9
`), 0o644))

	m := NewManager()
	require.NoError(t, m.Load(path))

	cfg := m.Get()
	require.Equal(t, 7, cfg.Limits.MaxConnections)
	require.Equal(t, 3, cfg.Queue.WarningDepth)
	require.Equal(t, 9, cfg.Queue.CriticalDepth)
	// Untouched keys keep their defaults.
	require.Equal(t, float64(80), cfg.Limits.MaxCPUPercent)
}

func TestManager_LoadMissingFile(t *testing.T) {
	m := NewManager()
	require.Error(t, m.Load(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestManager_RejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
queue:
  warning_depth: 50
  critical_depth: 10
`), 0o644))

	m := NewManager()
	err := m.Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid config")

	// The previous configuration survives a failed load.
	require.Equal(t, DefaultConfig().Queue, m.Get().Queue)
}

func TestManager_RejectsNegativeLimits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
limits:
  max_cpu_percent: -5
`), 0o644))

	m := NewManager()
	require.Error(t, m.Load(path))
}

func TestNewLogger_Levels(t *testing.T) {
	logger := NewLogger(LogConfig{Level: "debug", Format: "json"})
	require.Equal(t, zerolog.DebugLevel, logger.GetLevel())

	logger = NewLogger(LogConfig{Level: "nonsense", Format: "json"})
	require.Equal(t, zerolog.InfoLevel, logger.GetLevel())

	logger = NewLogger(LogConfig{Level: "warn", Format: "console"})
	require.Equal(t, zerolog.WarnLevel, logger.GetLevel())
}
