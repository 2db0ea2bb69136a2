// Package gate performs submission-time admission control: a per-actor ceiling
// on concurrent executions and a cooldown after large operations.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/tigerroll/marlin/pkg/bulk/core/config"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/repository"
	"github.com/tigerroll/marlin/pkg/bulk/core/ports"
	"github.com/tigerroll/marlin/pkg/bulk/support/util/exception"
	logger "github.com/tigerroll/marlin/pkg/bulk/support/util/logger"
)

const moduleName = "gate"

const cooldownKeyPrefix = "marlin:gate:cooldown:"

// Gate decides whether an actor may submit another execution right now.
// The concurrency ceiling is authoritative through the ledger; the cooldown is
// best-effort through the cache and fails open when the cache is unreachable.
type Gate struct {
	execRepo repository.ExecutionRepository
	cache    ports.Cache
	cfg      *config.GateConfig
}

// NewGate creates a new Gate.
func NewGate(execRepo repository.ExecutionRepository, cache ports.Cache, cfg *config.GateConfig) *Gate {
	return &Gate{execRepo: execRepo, cache: cache, cfg: cfg}
}

// Attempt admits or rejects a submission by the actor. Rejections are
// RateLimitedError values carrying a retry-after hint where one is known.
func (g *Gate) Attempt(ctx context.Context, actor string) error {
	if g.cfg.MaxActivePerActor > 0 {
		active, err := g.execRepo.CountActiveByActor(ctx, actor)
		if err != nil {
			return exception.NewBulkError(moduleName, fmt.Sprintf("failed to count active executions of actor '%s'", actor), err, false, true)
		}
		if active >= int64(g.cfg.MaxActivePerActor) {
			return exception.NewRateLimited(0, fmt.Sprintf("actor '%s' already has %d active executions (limit %d)", actor, active, g.cfg.MaxActivePerActor))
		}
	}

	if g.cfg.CooldownSeconds > 0 {
		key := cooldownKeyPrefix + actor
		_, found, err := g.cache.Get(ctx, key)
		if err != nil {
			logger.Warnf("Cooldown lookup for actor '%s' failed, admitting: %v", actor, err)
			return nil
		}
		if found {
			ttl, err := g.cache.TTL(ctx, key)
			retryAfter := g.cfg.CooldownSeconds
			if err == nil && ttl > 0 {
				retryAfter = int(ttl.Round(time.Second).Seconds())
			}
			return exception.NewRateLimited(retryAfter, fmt.Sprintf("actor '%s' is cooling down after a large operation", actor))
		}
	}
	return nil
}

// RecordAdmission arms the actor's cooldown when the admitted operation is
// large enough to warrant one.
func (g *Gate) RecordAdmission(ctx context.Context, actor string, totalRecords int64) {
	if g.cfg.CooldownSeconds <= 0 || g.cfg.LargeOperationThreshold <= 0 {
		return
	}
	if totalRecords < g.cfg.LargeOperationThreshold {
		return
	}
	ttl := time.Duration(g.cfg.CooldownSeconds) * time.Second
	if err := g.cache.Put(ctx, cooldownKeyPrefix+actor, "1", ttl); err != nil {
		logger.Warnf("Failed to arm cooldown for actor '%s': %v", actor, err)
		return
	}
	logger.Debugf("Armed %s cooldown for actor '%s' after operation on %d records", ttl, actor, totalRecords)
}

// ClearCooldown drops the actor's cooldown, for operator intervention.
func (g *Gate) ClearCooldown(ctx context.Context, actor string) {
	if err := g.cache.Forget(ctx, cooldownKeyPrefix+actor); err != nil {
		logger.Warnf("Failed to clear cooldown of actor '%s': %v", actor, err)
	}
}
