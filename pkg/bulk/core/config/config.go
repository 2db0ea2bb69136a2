package config

// Package config provides structures and utilities for managing engine configuration.

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
type EmbeddedConfig []byte

// BatchSizeConfig bounds the dispatcher's chunk sizing.
type BatchSizeConfig struct {
	// Min is the floor batch size; adaptive shrinking never goes below it.
	Min int `yaml:"min"`
	// Default is the batch size used when a submission does not specify one.
	Default int `yaml:"default"`
	// Max is the ceiling batch size; submissions asking for more are clamped.
	Max int `yaml:"max"`
}

// RetryConfig holds configuration for batch-level retry with backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of deliveries of one batch message.
	MaxAttempts int `yaml:"max_attempts"`
	// InitialInterval is the initial backoff interval in milliseconds.
	InitialInterval int `yaml:"initial_interval"`
	// MaxInterval is the backoff ceiling in milliseconds.
	MaxInterval int `yaml:"max_interval"`
	// Factor is the multiplier applied to the interval per attempt.
	Factor float64 `yaml:"factor"`
}

// MemoryConfig controls adaptive batch sizing under heap pressure.
type MemoryConfig struct {
	// PressureFraction is the fraction of the heap limit above which the
	// dispatcher shrinks batch sizes. Zero disables the check.
	PressureFraction float64 `yaml:"pressure_fraction"`
	// ShrinkFactor is the multiplier applied to the batch size under pressure.
	ShrinkFactor float64 `yaml:"shrink_factor"`
}

// FailureToleranceConfig selects continue-on-error behavior. Forward processing
// and undo are configured independently; both default to "continue".
type FailureToleranceConfig struct {
	Forward string `yaml:"forward"`
	Undo    string `yaml:"undo"`
}

// EngineConfig holds configuration for the dispatcher and worker pool.
type EngineConfig struct {
	BatchSize BatchSizeConfig `yaml:"batch_size"`
	// WorkerCount is the number of queue consumers per process.
	WorkerCount int `yaml:"worker_count"`
	// BatchTimeoutSeconds is the max duration of one batch; exceeding it is a
	// transient, retryable failure.
	BatchTimeoutSeconds int `yaml:"batch_timeout_seconds"`
	// FailureThreshold is the failed/total fraction at or above which a finished
	// execution is marked FAILED instead of COMPLETED.
	FailureThreshold float64          `yaml:"failure_threshold"`
	FailureTolerance FailureToleranceConfig `yaml:"failure_tolerance"`
	Retry            RetryConfig      `yaml:"retry"`
	Memory           MemoryConfig     `yaml:"memory"`
}

// UndoArchiveConfig controls archival of purged snapshots.
type UndoArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Backend string `yaml:"backend"` // "local" or "gcs"
	Bucket  string `yaml:"bucket"`
	Path    string `yaml:"path"`
	// CredentialsFile is an optional service account key file for the GCS
	// backend. Application default credentials are used when empty.
	CredentialsFile string `yaml:"credentials_file"`
}

// UndoConfig holds configuration for snapshot capture and the undo window.
type UndoConfig struct {
	// WindowMinutes is the length of the undo window after completion.
	WindowMinutes int `yaml:"window_minutes"`
	// CompressThresholdBytes gzip-compresses captured field maps above this size.
	CompressThresholdBytes int `yaml:"compress_threshold_bytes"`
	// PurgeIntervalMinutes is how often expired snapshots are purged.
	PurgeIntervalMinutes int               `yaml:"purge_interval_minutes"`
	Archive              UndoArchiveConfig `yaml:"archive"`
}

// GateConfig holds submission-time admission control settings.
type GateConfig struct {
	// MaxActivePerActor is the ceiling of concurrent non-terminal executions per actor.
	MaxActivePerActor int `yaml:"max_active_per_actor"`
	// CooldownSeconds is the cooldown armed after a large operation.
	CooldownSeconds int `yaml:"cooldown_seconds"`
	// LargeOperationThreshold is the record count at or above which a submission arms the cooldown.
	LargeOperationThreshold int64 `yaml:"large_operation_threshold"`
}

// SchedulerConfig holds deferred-activation settings.
type SchedulerConfig struct {
	// PollIntervalSeconds is the interval between due-execution scans.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
}

// ProgressConfig holds progress tracking settings.
type ProgressConfig struct {
	// CheckpointWindow is the ring-buffer capacity of (count, timestamp) samples.
	CheckpointWindow int `yaml:"checkpoint_window"`
	// NotifyIntervalSeconds throttles external progress notifications per execution.
	NotifyIntervalSeconds int `yaml:"notify_interval_seconds"`
	// CheckpointTTLMinutes is the cache TTL of the checkpoint ring.
	CheckpointTTLMinutes int `yaml:"checkpoint_ttl_minutes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// RedisConfig holds the connection settings of the queue/cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// InfrastructureConfig holds logical dependency settings for infrastructure components.
type InfrastructureConfig struct {
	// LedgerDBRef is the name of the database connection used by the ledger repositories.
	LedgerDBRef string `yaml:"ledger_db_ref"`
	// TargetDBRef is the name of the database connection holding target entities.
	TargetDBRef string `yaml:"target_db_ref"`
}

// MarlinConfig holds all configuration under the "marlin" top-level key.
type MarlinConfig struct {
	Engine         EngineConfig         `yaml:"engine"`
	Undo           UndoConfig           `yaml:"undo"`
	Gate           GateConfig           `yaml:"gate"`
	Scheduler      SchedulerConfig      `yaml:"scheduler"`
	Progress       ProgressConfig       `yaml:"progress"`
	System         SystemConfig         `yaml:"system"`
	Redis          RedisConfig          `yaml:"redis"`
	Infrastructure InfrastructureConfig `yaml:"infrastructure"`
	// AdapterConfigs holds named database connection configurations.
	AdapterConfigs map[string]interface{} `yaml:"database"`
}

// Config is the root structure for the entire engine configuration.
type Config struct {
	Marlin MarlinConfig `yaml:"marlin"`
}

// NewConfig returns a Config populated with engine defaults. Values loaded from
// YAML and the environment override these.
func NewConfig() *Config {
	return &Config{
		Marlin: MarlinConfig{
			Engine: EngineConfig{
				BatchSize:           BatchSizeConfig{Min: 10, Default: 100, Max: 1000},
				WorkerCount:         4,
				BatchTimeoutSeconds: 300,
				FailureThreshold:    1.0,
				FailureTolerance:    FailureToleranceConfig{Forward: "continue", Undo: "continue"},
				Retry:               RetryConfig{MaxAttempts: 3, InitialInterval: 500, MaxInterval: 30000, Factor: 2.0},
				Memory:              MemoryConfig{PressureFraction: 0.85, ShrinkFactor: 0.5},
			},
			Undo: UndoConfig{
				WindowMinutes:          60,
				CompressThresholdBytes: 1024,
				PurgeIntervalMinutes:   30,
			},
			Gate: GateConfig{
				MaxActivePerActor:       3,
				CooldownSeconds:         60,
				LargeOperationThreshold: 10000,
			},
			Scheduler: SchedulerConfig{PollIntervalSeconds: 15},
			Progress: ProgressConfig{
				CheckpointWindow:      20,
				NotifyIntervalSeconds: 5,
				CheckpointTTLMinutes:  120,
			},
			System: SystemConfig{Logging: LoggingConfig{Level: "INFO"}},
			Infrastructure: InfrastructureConfig{
				LedgerDBRef: "ledger",
				TargetDBRef: "target",
			},
		},
	}
}

// GlobalConfig is a pointer to the configuration instance shared across the application.
// It is expected to be set via fx.Supply or fx.Provide.
var GlobalConfig *Config
