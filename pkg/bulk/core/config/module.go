// Package config provides configuration structures and utilities for the bulk engine.
// This module defines Fx providers for configuration-related components.
package config

import "go.uber.org/fx"

// NewEngineConfigProvider extracts and provides *EngineConfig from *Config so
// that components can depend on the engine subsection only.
func NewEngineConfigProvider(cfg *Config) *EngineConfig {
	return &cfg.Marlin.Engine
}

// NewUndoConfigProvider extracts and provides *UndoConfig from *Config.
func NewUndoConfigProvider(cfg *Config) *UndoConfig {
	return &cfg.Marlin.Undo
}

// NewGateConfigProvider extracts and provides *GateConfig from *Config.
func NewGateConfigProvider(cfg *Config) *GateConfig {
	return &cfg.Marlin.Gate
}

// NewSchedulerConfigProvider extracts and provides *SchedulerConfig from *Config.
func NewSchedulerConfigProvider(cfg *Config) *SchedulerConfig {
	return &cfg.Marlin.Scheduler
}

// NewProgressConfigProvider extracts and provides *ProgressConfig from *Config.
func NewProgressConfigProvider(cfg *Config) *ProgressConfig {
	return &cfg.Marlin.Progress
}

// NewRedisConfigProvider extracts and provides *RedisConfig from *Config.
func NewRedisConfigProvider(cfg *Config) *RedisConfig {
	return &cfg.Marlin.Redis
}

// Module provides configuration-related components to Fx.
var Module = fx.Options(
	fx.Provide(NewConfigFromParams),
	fx.Provide(func() EnvironmentExpander {
		return NewOsEnvironmentExpander()
	}),
	fx.Provide(NewEngineConfigProvider),
	fx.Provide(NewUndoConfigProvider),
	fx.Provide(NewGateConfigProvider),
	fx.Provide(NewSchedulerConfigProvider),
	fx.Provide(NewProgressConfigProvider),
	fx.Provide(NewRedisConfigProvider),
)
