package config_test

import (
	"testing"

	"github.com/tigerroll/marlin/pkg/bulk/core/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
marlin:
  engine:
    batch_size:
      min: 10
      default: 200
      max: 2000
    worker_count: 8
  undo:
    window_minutes: 90
  redis:
    addr: ${TEST_REDIS_ADDR}
  system:
    logging:
      level: DEBUG
`

func TestLoad_EmbeddedYAMLOverridesDefaults(t *testing.T) {
	t.Setenv("TEST_REDIS_ADDR", "redis.internal:6380")

	cfg, err := config.Load(config.EmbeddedConfig(testYAML), config.NewOsEnvironmentExpander())
	require.NoError(t, err)

	// Values from the YAML.
	assert.Equal(t, 200, cfg.Marlin.Engine.BatchSize.Default)
	assert.Equal(t, 8, cfg.Marlin.Engine.WorkerCount)
	assert.Equal(t, 90, cfg.Marlin.Undo.WindowMinutes)
	assert.Equal(t, "DEBUG", cfg.Marlin.System.Logging.Level)

	// Environment expansion inside the YAML.
	assert.Equal(t, "redis.internal:6380", cfg.Marlin.Redis.Addr)

	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Marlin.Engine.Retry.MaxAttempts)
	assert.Equal(t, 1.0, cfg.Marlin.Engine.FailureThreshold)
}

func TestLoad_EnvOverridesWinOverYAML(t *testing.T) {
	t.Setenv("TEST_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("MARLIN_WORKER_COUNT", "16")
	t.Setenv("MARLIN_LOG_LEVEL", "WARN")
	t.Setenv("MARLIN_UNDO_WINDOW_MINUTES", "not-a-number")

	cfg, err := config.Load(config.EmbeddedConfig(testYAML), config.NewOsEnvironmentExpander())
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Marlin.Engine.WorkerCount)
	assert.Equal(t, "WARN", cfg.Marlin.System.Logging.Level)
	// Invalid override values are ignored, the YAML value stands.
	assert.Equal(t, 90, cfg.Marlin.Undo.WindowMinutes)
}

func TestLoad_RejectsInvalidConfiguration(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"default batch size above max", `
marlin:
  engine:
    batch_size:
      min: 10
      default: 5000
      max: 1000
`},
		{"zero workers", `
marlin:
  engine:
    worker_count: 0
`},
		{"failure threshold above one", `
marlin:
  engine:
    failure_threshold: 1.5
`},
		{"unknown tolerance mode", `
marlin:
  engine:
    failure_tolerance:
      forward: explode
`},
		{"non-positive undo window", `
marlin:
  undo:
    window_minutes: -5
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Load(config.EmbeddedConfig(tc.yaml), config.NewOsEnvironmentExpander())
			assert.Error(t, err)
		})
	}
}

func TestLoad_EmptyEmbeddedUsesDefaults(t *testing.T) {
	cfg, err := config.Load(config.EmbeddedConfig(""), config.NewOsEnvironmentExpander())
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Marlin.Engine.BatchSize.Default)
	assert.Equal(t, 60, cfg.Marlin.Undo.WindowMinutes)
}
