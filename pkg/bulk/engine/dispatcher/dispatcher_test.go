package dispatcher_test

import (
	"context"
	"fmt"
	"testing"

	adapter "github.com/tigerroll/marlin/pkg/bulk/core/adapter"
	"github.com/tigerroll/marlin/pkg/bulk/core/config"
	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/core/metrics"
	"github.com/tigerroll/marlin/pkg/bulk/engine/dispatcher"
	"github.com/tigerroll/marlin/pkg/bulk/engine/finalize"
	"github.com/tigerroll/marlin/pkg/bulk/engine/progress"
	"github.com/tigerroll/marlin/pkg/bulk/engine/resolver"
	"github.com/tigerroll/marlin/pkg/bulk/infrastructure/cache"
	"github.com/tigerroll/marlin/pkg/bulk/infrastructure/queue"
	"github.com/tigerroll/marlin/pkg/bulk/infrastructure/repository/inmemory"
	"github.com/tigerroll/marlin/pkg/bulk/infrastructure/target/memstore"
	bulktest "github.com/tigerroll/marlin/pkg/bulk/test"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatchFixture struct {
	repo       *inmemory.InMemoryLedgerRepository
	queue      *queue.InMemoryWorkQueue
	notifier   *bulktest.RecordingNotifier
	resolver   *resolver.Resolver
	dispatcher *dispatcher.Dispatcher
	store      *memstore.MemTargetStore
}

func newDispatchFixture(t *testing.T, records int) *dispatchFixture {
	t.Helper()
	store := memstore.NewMemTargetStore()
	for i := 0; i < records; i++ {
		store.Seed("orders", fmt.Sprintf("o-%05d", i), adapter.Record{"status": "stale"})
	}
	cfg := config.NewConfig()
	cfg.Marlin.Engine.Memory.PressureFraction = 0 // keep chunk sizing deterministic

	f := &dispatchFixture{
		repo:     inmemory.NewInMemoryLedgerRepository(),
		queue:    queue.NewInMemoryWorkQueue(64),
		notifier: bulktest.NewRecordingNotifier(),
		resolver: resolver.NewResolver(store),
		store:    store,
	}
	recorder := metrics.NewNoOpMetricRecorder()
	tracker := progress.NewTracker(cache.NewInMemoryCache(), f.notifier, &cfg.Marlin.Progress)
	finalizer := finalize.NewFinalizer(f.repo, f.repo, tracker, f.notifier, recorder, &cfg.Marlin.Engine, &cfg.Marlin.Undo)
	f.dispatcher = dispatcher.NewDispatcher(f.repo, f.repo, f.queue, f.notifier, recorder, finalizer, &cfg.Marlin.Engine)
	return f
}

func TestDispatcher_Dispatch_SegmentsIntoBatches(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t, 1000)

	execution := bulktest.NewTestExecution("orders", "delete")
	execution.BatchSize = 100
	require.NoError(t, f.repo.SaveExecution(ctx, execution))

	res, err := f.resolver.Resolve(ctx, "orders", model.NewAllFilter())
	require.NoError(t, err)

	require.NoError(t, f.dispatcher.Dispatch(ctx, execution, res))

	// --- Execution state ---
	stored, err := f.repo.FindExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusProcessing, stored.Status)
	assert.Equal(t, int64(1000), stored.TotalRecords)
	assert.Equal(t, 10, stored.TotalBatches)
	require.NotNil(t, stored.StartTime)
	assert.Nil(t, stored.EndTime)

	// --- Persisted batches ---
	batches, err := f.repo.FindBatchesByExecutionID(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, batches, 10)
	seen := make(map[int]bool)
	total := 0
	for _, b := range batches {
		assert.Equal(t, execution.ID, b.ExecutionID)
		assert.Equal(t, model.BatchStatusPending, b.Status)
		assert.False(t, seen[b.Sequence], "duplicate sequence %d", b.Sequence)
		seen[b.Sequence] = true
		total += len(b.RecordIDs)
	}
	assert.Equal(t, 1000, total)

	// --- Queued messages, one per batch, first delivery counts as attempt 1 ---
	for i := 0; i < 10; i++ {
		msg, err := f.queue.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, execution.ID, msg.ExecutionID)
		assert.Equal(t, 1, msg.Attempt)
	}
}

func TestDispatcher_Dispatch_ZeroMatchesCompletesImmediately(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t, 0)

	execution := bulktest.NewTestExecution("orders", "delete")
	require.NoError(t, f.repo.SaveExecution(ctx, execution))

	res, err := f.resolver.Resolve(ctx, "orders", model.NewAllFilter())
	require.NoError(t, err)
	require.Zero(t, res.Total)

	require.NoError(t, f.dispatcher.Dispatch(ctx, execution, res))

	stored, err := f.repo.FindExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusCompleted, stored.Status)
	assert.Zero(t, stored.TotalRecords)
	assert.Zero(t, stored.TotalBatches)
	require.NotNil(t, stored.EndTime)

	batches, err := f.repo.FindBatchesByExecutionID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Empty(t, batches)
	assert.Equal(t, []model.ExecutionStatus{model.ExecutionStatusCompleted}, f.notifier.TerminalStatuses())
}

func TestDispatcher_Dispatch_SkipsWhenNoLongerPending(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t, 50)

	execution := bulktest.NewTestExecution("orders", "delete")
	require.NoError(t, f.repo.SaveExecution(ctx, execution))

	// Cancelled between submission and dispatch.
	require.NoError(t, f.repo.TransitionStatus(ctx, execution.ID, model.ExecutionStatusPending, model.ExecutionStatusCancelled, nil))

	res, err := f.resolver.Resolve(ctx, "orders", model.NewAllFilter())
	require.NoError(t, err)

	require.NoError(t, f.dispatcher.Dispatch(ctx, execution, res))

	stored, err := f.repo.FindExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusCancelled, stored.Status)

	batches, err := f.repo.FindBatchesByExecutionID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestDispatcher_Dispatch_CorrectsTotalRecordsFromStream(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t, 10)

	execution := bulktest.NewTestExecution("orders", "delete")
	execution.BatchSize = 100
	require.NoError(t, f.repo.SaveExecution(ctx, execution))

	res, err := f.resolver.Resolve(ctx, "orders", model.NewAllFilter())
	require.NoError(t, err)
	require.Equal(t, int64(10), res.Total)

	// Three targets vanish between the count and the stream.
	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.Destroy(ctx, "orders", fmt.Sprintf("o-%05d", i)))
	}

	require.NoError(t, f.dispatcher.Dispatch(ctx, execution, res))

	stored, err := f.repo.FindExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), stored.TotalRecords)
	assert.Equal(t, 1, stored.TotalBatches)

	// Batch sizes sum to the recorded total.
	batches, err := f.repo.FindBatchesByExecutionID(ctx, execution.ID)
	require.NoError(t, err)
	total := 0
	for _, b := range batches {
		total += len(b.RecordIDs)
	}
	assert.Equal(t, 7, total)
}

func TestDispatcher_Dispatch_CompletesWhenStreamDrains(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t, 5)

	execution := bulktest.NewTestExecution("orders", "delete")
	require.NoError(t, f.repo.SaveExecution(ctx, execution))

	res, err := f.resolver.Resolve(ctx, "orders", model.NewAllFilter())
	require.NoError(t, err)
	require.Equal(t, int64(5), res.Total)

	for i := 0; i < 5; i++ {
		require.NoError(t, f.store.Destroy(ctx, "orders", fmt.Sprintf("o-%05d", i)))
	}

	require.NoError(t, f.dispatcher.Dispatch(ctx, execution, res))

	stored, err := f.repo.FindExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusCompleted, stored.Status)
	assert.Zero(t, stored.TotalRecords)
	assert.Zero(t, stored.TotalBatches)
	require.NotNil(t, stored.EndTime)
	assert.Equal(t, []model.ExecutionStatus{model.ExecutionStatusCompleted}, f.notifier.TerminalStatuses())
}

func TestDispatcher_ClampBatchSize(t *testing.T) {
	f := newDispatchFixture(t, 0)

	testCases := []struct {
		name      string
		requested int
		expected  int
	}{
		{"zero falls back to default", 0, 100},
		{"negative falls back to default", -5, 100},
		{"below minimum is raised", 3, 10},
		{"above maximum is clamped", 50000, 1000},
		{"in range passes through", 250, 250},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, f.dispatcher.ClampBatchSize(tc.requested))
		})
	}
}
