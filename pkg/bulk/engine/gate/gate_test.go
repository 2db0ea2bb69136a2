package gate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	action "github.com/tigerroll/marlin/pkg/bulk/core/action"
	"github.com/tigerroll/marlin/pkg/bulk/core/config"
	"github.com/tigerroll/marlin/pkg/bulk/engine/gate"
	"github.com/tigerroll/marlin/pkg/bulk/infrastructure/cache"
	"github.com/tigerroll/marlin/pkg/bulk/infrastructure/repository/inmemory"
	"github.com/tigerroll/marlin/pkg/bulk/support/util/exception"
	bulktest "github.com/tigerroll/marlin/pkg/bulk/test"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenCache fails every operation to exercise the fail-open paths.
type brokenCache struct{}

var errCacheDown = errors.New("cache unreachable")

func (c *brokenCache) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, errCacheDown
}
func (c *brokenCache) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	return errCacheDown
}
func (c *brokenCache) Forget(ctx context.Context, key string) error { return errCacheDown }
func (c *brokenCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	return 0, errCacheDown
}

func newGateFixture(t *testing.T) (*gate.Gate, *inmemory.InMemoryLedgerRepository, *config.GateConfig) {
	t.Helper()
	cfg := config.NewConfig()
	repo := inmemory.NewInMemoryLedgerRepository()
	return gate.NewGate(repo, cache.NewInMemoryCache(), &cfg.Marlin.Gate), repo, &cfg.Marlin.Gate
}

func saveActive(t *testing.T, repo *inmemory.InMemoryLedgerRepository, actor string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		e := bulktest.NewTestExecution("orders", action.ActionDelete)
		e.Actor = actor
		require.NoError(t, repo.SaveExecution(ctx, e))
	}
}

func TestGate_Attempt_ConcurrencyCeiling(t *testing.T) {
	ctx := context.Background()
	g, repo, cfg := newGateFixture(t)
	cfg.MaxActivePerActor = 3

	saveActive(t, repo, "alice", 2)
	require.NoError(t, g.Attempt(ctx, "alice"))

	saveActive(t, repo, "alice", 1)
	err := g.Attempt(ctx, "alice")
	require.Error(t, err)
	var rl *exception.RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Contains(t, rl.Detail, "3 active executions")

	// Other actors are unaffected.
	assert.NoError(t, g.Attempt(ctx, "bob"))
}

func TestGate_Attempt_TerminalExecutionsDoNotCount(t *testing.T) {
	ctx := context.Background()
	g, repo, cfg := newGateFixture(t)
	cfg.MaxActivePerActor = 1

	done := bulktest.NewCompletedExecution("orders", "delete", time.Hour)
	done.Actor = "alice"
	require.NoError(t, repo.SaveExecution(ctx, done))

	assert.NoError(t, g.Attempt(ctx, "alice"))
}

func TestGate_Cooldown(t *testing.T) {
	ctx := context.Background()
	g, _, cfg := newGateFixture(t)
	cfg.CooldownSeconds = 60
	cfg.LargeOperationThreshold = 10000

	// Small operations never arm the cooldown.
	g.RecordAdmission(ctx, "alice", 500)
	require.NoError(t, g.Attempt(ctx, "alice"))

	// A large one does, with a retry-after hint from the remaining TTL.
	g.RecordAdmission(ctx, "alice", 10000)
	err := g.Attempt(ctx, "alice")
	require.Error(t, err)
	var rl *exception.RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Contains(t, rl.Detail, "cooling down")
	assert.InDelta(t, 60, rl.RetryAfterSeconds, 2)

	// Operator intervention clears it.
	g.ClearCooldown(ctx, "alice")
	assert.NoError(t, g.Attempt(ctx, "alice"))
}

func TestGate_Attempt_FailsOpenOnCacheErrors(t *testing.T) {
	ctx := context.Background()
	cfg := config.NewConfig()
	cfg.Marlin.Gate.CooldownSeconds = 60
	g := gate.NewGate(inmemory.NewInMemoryLedgerRepository(), &brokenCache{}, &cfg.Marlin.Gate)

	g.RecordAdmission(ctx, "alice", 1_000_000)
	assert.NoError(t, g.Attempt(ctx, "alice"))
}

func TestGate_Attempt_DisabledLimits(t *testing.T) {
	ctx := context.Background()
	g, repo, cfg := newGateFixture(t)
	cfg.MaxActivePerActor = 0
	cfg.CooldownSeconds = 0

	saveActive(t, repo, "alice", 20)
	assert.NoError(t, g.Attempt(ctx, "alice"))
}
