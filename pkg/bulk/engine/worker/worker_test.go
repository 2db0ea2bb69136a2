package worker_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	action "github.com/tigerroll/marlin/pkg/bulk/core/action"
	adapter "github.com/tigerroll/marlin/pkg/bulk/core/adapter"
	"github.com/tigerroll/marlin/pkg/bulk/core/config"
	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/core/metrics"
	"github.com/tigerroll/marlin/pkg/bulk/core/ports"
	"github.com/tigerroll/marlin/pkg/bulk/engine/cancel"
	"github.com/tigerroll/marlin/pkg/bulk/engine/dispatcher"
	"github.com/tigerroll/marlin/pkg/bulk/engine/finalize"
	"github.com/tigerroll/marlin/pkg/bulk/engine/progress"
	"github.com/tigerroll/marlin/pkg/bulk/engine/resolver"
	"github.com/tigerroll/marlin/pkg/bulk/engine/undo"
	"github.com/tigerroll/marlin/pkg/bulk/engine/worker"
	"github.com/tigerroll/marlin/pkg/bulk/engine/worker/retry"
	"github.com/tigerroll/marlin/pkg/bulk/infrastructure/cache"
	"github.com/tigerroll/marlin/pkg/bulk/infrastructure/queue"
	"github.com/tigerroll/marlin/pkg/bulk/infrastructure/repository/inmemory"
	"github.com/tigerroll/marlin/pkg/bulk/infrastructure/target/memstore"
	"github.com/tigerroll/marlin/pkg/bulk/support/util/exception"
	bulktest "github.com/tigerroll/marlin/pkg/bulk/test"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyHandler fails every record with a retryable error to exercise the
// batch retry path.
type flakyHandler struct{}

func (h *flakyHandler) Name() string { return "flaky" }
func (h *flakyHandler) Execute(ctx context.Context, store adapter.RecordStore, entityType, recordID string, _ model.ActionParams) error {
	return exception.NewBulkError("worker", "backend unavailable", errors.New("connection refused"), false, true)
}
func (h *flakyHandler) DeclareUndoFields(_ model.ActionParams) []string { return []string{} }
func (h *flakyHandler) UndoOperationType() model.UndoOperation          { return model.UndoOpRevertFields }

// hiccupDeleteHandler soft-deletes records but fails each batch once with a
// transient error partway through, at the configured record.
type hiccupDeleteHandler struct {
	failOn   string
	failures int
}

func (h *hiccupDeleteHandler) Name() string { return "hiccup-delete" }
func (h *hiccupDeleteHandler) Execute(ctx context.Context, store adapter.RecordStore, entityType, recordID string, _ model.ActionParams) error {
	if recordID == h.failOn && h.failures == 0 {
		h.failures++
		return exception.NewBulkError("worker", "backend unavailable", errors.New("connection refused"), false, true)
	}
	return store.SoftDelete(ctx, entityType, recordID)
}
func (h *hiccupDeleteHandler) DeclareUndoFields(_ model.ActionParams) []string {
	return []string{"status", "deleted_at"}
}
func (h *hiccupDeleteHandler) UndoOperationType() model.UndoOperation { return model.UndoOpReinstate }

type workerFixture struct {
	repo     *inmemory.InMemoryLedgerRepository
	queue    *queue.InMemoryWorkQueue
	store    *memstore.MemTargetStore
	notifier *bulktest.RecordingNotifier
	cancels  *cancel.Broadcaster
	registry *action.Registry
	cfg      *config.Config
	pool     *worker.Pool
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Marlin.Engine.Retry.InitialInterval = 0 // immediate redelivery in tests
	memCache := cache.NewInMemoryCache()

	f := &workerFixture{
		repo:     inmemory.NewInMemoryLedgerRepository(),
		queue:    queue.NewInMemoryWorkQueue(64),
		store:    memstore.NewMemTargetStore(),
		notifier: bulktest.NewRecordingNotifier(),
		cancels:  cancel.NewBroadcaster(memCache),
		cfg:      cfg,
	}
	registry := action.NewRegistry()
	registry.Register(&flakyHandler{})
	f.registry = registry
	f.pool = worker.NewPool(
		f.queue,
		f.repo,
		f.repo,
		registry,
		f.store,
		undo.NewCapturer(f.repo, f.store),
		progress.NewTracker(memCache, f.notifier, &cfg.Marlin.Progress),
		retry.NewPolicyFromConfig(&cfg.Marlin.Engine),
		f.cancels,
		f.notifier,
		metrics.NewNoOpMetricRecorder(),
		metrics.NewNoOpTracer(),
		&cfg.Marlin.Engine,
		&cfg.Marlin.Undo,
	)
	return f
}

// startExecution persists a PROCESSING execution and its batches, returning one
// message per batch the way the dispatcher would have enqueued them.
func (f *workerFixture) startExecution(t *testing.T, execution *model.Execution, chunks ...[]string) []ports.BatchMessage {
	t.Helper()
	ctx := context.Background()
	total := int64(0)
	for _, c := range chunks {
		total += int64(len(c))
	}
	require.NoError(t, f.repo.SaveExecution(ctx, execution))
	require.NoError(t, f.repo.TransitionStatus(ctx, execution.ID, model.ExecutionStatusPending, model.ExecutionStatusProcessing, func(e *model.Execution) {
		e.TotalRecords = total
		e.TotalBatches = len(chunks)
		now := time.Now()
		e.StartTime = &now
	}))

	msgs := make([]ports.BatchMessage, 0, len(chunks))
	for i, c := range chunks {
		batch := bulktest.NewTestBatch(execution.ID, i, c...)
		require.NoError(t, f.repo.SaveBatch(ctx, batch))
		msgs = append(msgs, ports.BatchMessage{
			MessageID:   model.NewID(),
			ExecutionID: execution.ID,
			BatchID:     batch.ID,
			Sequence:    i,
			Attempt:     1,
		})
	}
	return msgs
}

func (f *workerFixture) seedOrders(ids ...string) {
	for _, id := range ids {
		f.store.Seed("orders", id, adapter.Record{"status": "stale"})
	}
}

func TestPool_Process_CompletesExecution(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)
	f.seedOrders("o-1", "o-2", "o-3", "o-4")

	execution := bulktest.NewTestExecution("orders", action.ActionDelete)
	msgs := f.startExecution(t, execution, []string{"o-1", "o-2"}, []string{"o-3", "o-4"})

	require.NoError(t, f.pool.Process(ctx, msgs[0]))
	require.NoError(t, f.pool.Process(ctx, msgs[1]))

	// --- Execution settled ---
	stored, err := f.repo.FindExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusCompleted, stored.Status)
	assert.Equal(t, int64(4), stored.ProcessedRecords)
	assert.Zero(t, stored.FailedRecords)
	require.NotNil(t, stored.EndTime)
	assert.Equal(t, []model.ExecutionStatus{model.ExecutionStatusCompleted}, f.notifier.TerminalStatuses())

	// --- Records mutated ---
	record, err := f.store.Fetch(ctx, "orders", "o-1", nil)
	require.NoError(t, err)
	assert.NotNil(t, record["deleted_at"])

	// --- Batches settled ---
	batches, err := f.repo.FindBatchesByExecutionID(ctx, execution.ID)
	require.NoError(t, err)
	for _, b := range batches {
		assert.Equal(t, model.BatchStatusCompleted, b.Status)
		assert.Equal(t, 2, b.ProcessedCount)
	}
	assert.Empty(t, f.queue.DeadLetters())
}

func TestPool_Process_RecordFailureDoesNotFailBatch(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)
	f.seedOrders("o-1", "o-3")
	// "o-2" does not exist; its failure must not sink the batch.

	execution := bulktest.NewTestExecution("orders", action.ActionDelete)
	msgs := f.startExecution(t, execution, []string{"o-1", "o-2", "o-3"})

	require.NoError(t, f.pool.Process(ctx, msgs[0]))

	stored, err := f.repo.FindExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusCompleted, stored.Status)
	assert.Equal(t, int64(2), stored.ProcessedRecords)
	assert.Equal(t, int64(1), stored.FailedRecords)

	batches, err := f.repo.FindBatchesByExecutionID(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, model.BatchStatusCompleted, batches[0].Status)
	assert.Equal(t, 1, batches[0].FailedCount)
	assert.Contains(t, batches[0].ErrorDetail, "o-2")
}

func TestPool_Process_DiscardsBatchOfTerminalExecution(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)
	f.seedOrders("o-1")

	execution := bulktest.NewTestExecution("orders", action.ActionDelete)
	msgs := f.startExecution(t, execution, []string{"o-1"})
	require.NoError(t, f.repo.TransitionStatus(ctx, execution.ID, model.ExecutionStatusProcessing, model.ExecutionStatusCancelled, nil))

	require.NoError(t, f.pool.Process(ctx, msgs[0]))

	// Batch dropped, record untouched.
	batches, err := f.repo.FindBatchesByExecutionID(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, model.BatchStatusCancelled, batches[0].Status)

	record, err := f.store.Fetch(ctx, "orders", "o-1", nil)
	require.NoError(t, err)
	_, deleted := record["deleted_at"]
	assert.False(t, deleted)
}

func TestPool_Process_TransientFailureRequeues(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)
	f.seedOrders("o-1")

	execution := bulktest.NewTestExecution("orders", "flaky")
	msgs := f.startExecution(t, execution, []string{"o-1"})

	require.NoError(t, f.pool.Process(ctx, msgs[0]))

	// Batch reset for the next delivery, no counters bumped.
	batches, err := f.repo.FindBatchesByExecutionID(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, model.BatchStatusPending, batches[0].Status)
	assert.Equal(t, 1, batches[0].Attempt)
	assert.NotEmpty(t, batches[0].ErrorDetail)

	stored, err := f.repo.FindExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusProcessing, stored.Status)
	assert.Zero(t, stored.FailedRecords)

	// The redelivery carries the incremented attempt.
	redelivered, err := f.queue.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, msgs[0].BatchID, redelivered.BatchID)
	assert.Equal(t, 2, redelivered.Attempt)
}

func TestPool_Process_ExhaustedAttemptsDeadLetter(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)
	f.seedOrders("o-1", "o-2")

	execution := bulktest.NewTestExecution("orders", "flaky")
	msgs := f.startExecution(t, execution, []string{"o-1", "o-2"})

	// Final delivery.
	msg := msgs[0]
	msg.Attempt = f.cfg.Marlin.Engine.Retry.MaxAttempts
	require.NoError(t, f.pool.Process(ctx, msg))

	batches, err := f.repo.FindBatchesByExecutionID(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, model.BatchStatusFailed, batches[0].Status)
	assert.Equal(t, 2, batches[0].FailedCount)

	dead := f.queue.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, msg.BatchID, dead[0].BatchID)

	// Every record failed, so the failure threshold tips the execution over.
	stored, err := f.repo.FindExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusFailed, stored.Status)
	assert.Equal(t, int64(2), stored.FailedRecords)
	assert.Contains(t, stored.FailureReason, "failure threshold")
}

func TestPool_Process_CancellationSignalStopsBatch(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)
	f.seedOrders("o-1", "o-2")

	execution := bulktest.NewTestExecution("orders", action.ActionDelete)
	msgs := f.startExecution(t, execution, []string{"o-1", "o-2"})
	f.cancels.Signal(ctx, execution.ID)

	require.NoError(t, f.pool.Process(ctx, msgs[0]))

	batches, err := f.repo.FindBatchesByExecutionID(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, model.BatchStatusCancelled, batches[0].Status)

	// No record was touched: the flag was up before the first one.
	record, err := f.store.Fetch(ctx, "orders", "o-1", nil)
	require.NoError(t, err)
	_, deleted := record["deleted_at"]
	assert.False(t, deleted)
}

func TestPool_Process_StampsUndoWindowOnCompletion(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)
	f.seedOrders("o-1", "o-2")

	execution := bulktest.NewTestExecution("orders", action.ActionDelete)
	execution.UndoEnabled = true
	msgs := f.startExecution(t, execution, []string{"o-1", "o-2"})

	require.NoError(t, f.pool.Process(ctx, msgs[0]))

	stored, err := f.repo.FindExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	require.Equal(t, model.ExecutionStatusCompleted, stored.Status)
	require.NotNil(t, stored.UndoExpiresAt)
	window := time.Duration(f.cfg.Marlin.Undo.WindowMinutes) * time.Minute
	assert.InDelta(t, window.Seconds(), time.Until(*stored.UndoExpiresAt).Seconds(), 5)

	// One snapshot per record, captured before the mutation.
	snapshots, err := f.repo.FindActiveSnapshots(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	for _, s := range snapshots {
		assert.Equal(t, model.UndoOpReinstate, s.UndoOperation)
	}
}

func TestPool_Process_RetryKeepsOriginalSnapshots(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)
	f.seedOrders("o-1", "o-2")
	f.registry.Register(&hiccupDeleteHandler{failOn: "o-2"})

	execution := bulktest.NewTestExecution("orders", "hiccup-delete")
	execution.UndoEnabled = true
	msgs := f.startExecution(t, execution, []string{"o-1", "o-2"})

	// First delivery mutates o-1, then hits a transient error on o-2.
	require.NoError(t, f.pool.Process(ctx, msgs[0]))
	batches, err := f.repo.FindBatchesByExecutionID(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, model.BatchStatusPending, batches[0].Status)

	// The redelivery revisits o-1, whose snapshot already exists.
	redelivered, err := f.queue.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, f.pool.Process(ctx, redelivered))

	stored, err := f.repo.FindExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusCompleted, stored.Status)
	assert.Equal(t, int64(2), stored.ProcessedRecords)
	assert.Zero(t, stored.FailedRecords)
	assert.Empty(t, f.queue.DeadLetters())

	// One snapshot per record, still holding the pre-mutation state.
	snapshots, err := f.repo.FindActiveSnapshots(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	for _, s := range snapshots {
		assert.Equal(t, "stale", s.Fields["status"])
		assert.NotContains(t, s.Fields, "deleted_at")
	}
}

// processOnEnqueue hands each enqueued message straight to the pool, so every
// batch settles before the dispatcher records the batch count.
type processOnEnqueue struct {
	*queue.InMemoryWorkQueue
	pool *worker.Pool
}

func (q *processOnEnqueue) Enqueue(ctx context.Context, msg ports.BatchMessage) error {
	if err := q.InMemoryWorkQueue.Enqueue(ctx, msg); err != nil {
		return err
	}
	delivered, err := q.InMemoryWorkQueue.Receive(ctx)
	if err != nil {
		return err
	}
	return q.pool.Process(ctx, delivered)
}

func TestDispatcher_FinalizesWhenLastBatchSettlesDuringDispatch(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)
	f.seedOrders("o-1", "o-2")

	inline := &processOnEnqueue{InMemoryWorkQueue: f.queue, pool: f.pool}
	recorder := metrics.NewNoOpMetricRecorder()
	tracker := progress.NewTracker(cache.NewInMemoryCache(), f.notifier, &f.cfg.Marlin.Progress)
	finalizer := finalize.NewFinalizer(f.repo, f.repo, tracker, f.notifier, recorder, &f.cfg.Marlin.Engine, &f.cfg.Marlin.Undo)
	disp := dispatcher.NewDispatcher(f.repo, f.repo, inline, f.notifier, recorder, finalizer, &f.cfg.Marlin.Engine)

	execution := bulktest.NewTestExecution("orders", action.ActionDelete)
	require.NoError(t, f.repo.SaveExecution(ctx, execution))
	res, err := resolver.NewResolver(f.store).Resolve(ctx, "orders", model.NewAllFilter())
	require.NoError(t, err)

	require.NoError(t, disp.Dispatch(ctx, execution, res))

	// The only batch finished before the batch count was recorded; the
	// dispatcher's own finalization pass must settle the execution.
	stored, err := f.repo.FindExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusCompleted, stored.Status)
	assert.Equal(t, int64(2), stored.ProcessedRecords)
	assert.Equal(t, 1, stored.TotalBatches)
	require.NotNil(t, stored.EndTime)
	assert.Equal(t, []model.ExecutionStatus{model.ExecutionStatusCompleted}, f.notifier.TerminalStatuses())
}

func TestPool_Process_UnknownBatchIsDropped(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t)

	msg := ports.BatchMessage{
		MessageID:   model.NewID(),
		ExecutionID: model.NewID(),
		BatchID:     fmt.Sprintf("gone-%s", model.NewID()),
		Attempt:     1,
	}
	require.NoError(t, f.pool.Process(ctx, msg))
	assert.Empty(t, f.queue.DeadLetters())
}
