package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/marlin/pkg/bulk/support/util/exception"
	logger "github.com/tigerroll/marlin/pkg/bulk/support/util/logger"
)

const moduleName = "config"

// LoaderParams defines the dependencies for NewConfigFromParams.
type LoaderParams struct {
	fx.In
	Embedded EmbeddedConfig
	Expander EnvironmentExpander
}

// NewConfigFromParams loads the configuration for fx dependency injection.
func NewConfigFromParams(p LoaderParams) (*Config, error) {
	return Load(p.Embedded, p.Expander)
}

// Load builds the effective configuration: defaults, then the embedded YAML
// with environment expansion, then well-known environment variable overrides.
func Load(embedded EmbeddedConfig, expander EnvironmentExpander) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debugf("No .env file found, relying on existing environment variables: %v", err)
	}

	cfg := NewConfig()

	if len(embedded) > 0 {
		expanded := expander.Expand(string(embedded))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, exception.NewBulkError(moduleName, "failed to unmarshal embedded configuration", err, false, false)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	logger.SetLogLevel(cfg.Marlin.System.Logging.Level)
	GlobalConfig = cfg
	logger.Debugf("Configuration loaded (log level: %s)", cfg.Marlin.System.Logging.Level)
	return cfg, nil
}

// applyEnvOverrides lets a handful of operational knobs be set without editing YAML.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MARLIN_LOG_LEVEL"); v != "" {
		cfg.Marlin.System.Logging.Level = v
	}
	if v := os.Getenv("MARLIN_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Marlin.Engine.WorkerCount = n
		} else {
			logger.Warnf("Ignoring invalid MARLIN_WORKER_COUNT value %q", v)
		}
	}
	if v := os.Getenv("MARLIN_REDIS_ADDR"); v != "" {
		cfg.Marlin.Redis.Addr = v
	}
	if v := os.Getenv("MARLIN_REDIS_PASSWORD"); v != "" {
		cfg.Marlin.Redis.Password = v
	}
	if v := os.Getenv("MARLIN_UNDO_WINDOW_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Marlin.Undo.WindowMinutes = n
		} else {
			logger.Warnf("Ignoring invalid MARLIN_UNDO_WINDOW_MINUTES value %q", v)
		}
	}
}

// validate rejects configurations that would make the engine misbehave at runtime.
func validate(cfg *Config) error {
	m := &cfg.Marlin
	if m.Engine.BatchSize.Min <= 0 || m.Engine.BatchSize.Max < m.Engine.BatchSize.Min {
		return exception.NewBulkErrorf(moduleName, "invalid batch size bounds: min=%d max=%d", m.Engine.BatchSize.Min, m.Engine.BatchSize.Max)
	}
	if m.Engine.BatchSize.Default < m.Engine.BatchSize.Min || m.Engine.BatchSize.Default > m.Engine.BatchSize.Max {
		return exception.NewBulkErrorf(moduleName, "default batch size %d outside bounds [%d, %d]", m.Engine.BatchSize.Default, m.Engine.BatchSize.Min, m.Engine.BatchSize.Max)
	}
	if m.Engine.WorkerCount <= 0 {
		return exception.NewBulkErrorf(moduleName, "worker_count must be positive, got %d", m.Engine.WorkerCount)
	}
	if m.Engine.FailureThreshold < 0 || m.Engine.FailureThreshold > 1 {
		return exception.NewBulkErrorf(moduleName, "failure_threshold must be within [0, 1], got %f", m.Engine.FailureThreshold)
	}
	if m.Engine.Retry.MaxAttempts <= 0 {
		return exception.NewBulkErrorf(moduleName, "retry max_attempts must be positive, got %d", m.Engine.Retry.MaxAttempts)
	}
	for _, mode := range []string{m.Engine.FailureTolerance.Forward, m.Engine.FailureTolerance.Undo} {
		switch strings.ToLower(mode) {
		case "continue", "abort":
		default:
			return exception.NewBulkError(moduleName, fmt.Sprintf("failure_tolerance mode must be 'continue' or 'abort', got %q", mode), nil, false, false)
		}
	}
	if m.Undo.WindowMinutes <= 0 {
		return exception.NewBulkErrorf(moduleName, "undo window_minutes must be positive, got %d", m.Undo.WindowMinutes)
	}
	return nil
}
