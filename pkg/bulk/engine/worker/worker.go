// Package worker consumes batch messages from the work queue and applies the
// execution's action to each record in the batch.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tigerroll/marlin/pkg/bulk/core/action"
	"github.com/tigerroll/marlin/pkg/bulk/core/adapter"
	"github.com/tigerroll/marlin/pkg/bulk/core/config"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/repository"
	"github.com/tigerroll/marlin/pkg/bulk/core/metrics"
	"github.com/tigerroll/marlin/pkg/bulk/core/ports"
	"github.com/tigerroll/marlin/pkg/bulk/engine/cancel"
	"github.com/tigerroll/marlin/pkg/bulk/engine/finalize"
	"github.com/tigerroll/marlin/pkg/bulk/engine/progress"
	"github.com/tigerroll/marlin/pkg/bulk/engine/undo"
	"github.com/tigerroll/marlin/pkg/bulk/engine/worker/retry"
	"github.com/tigerroll/marlin/pkg/bulk/support/util/exception"
	logger "github.com/tigerroll/marlin/pkg/bulk/support/util/logger"
)

const moduleName = "worker"

// Pool runs the configured number of queue consumers. Each consumer settles
// every received message with exactly one of Ack, Nack or DeadLetter.
type Pool struct {
	queue     ports.WorkQueue
	execRepo  repository.ExecutionRepository
	batchRepo repository.BatchRepository
	registry  *action.Registry
	store     adapter.RecordStore
	capturer  *undo.Capturer
	tracker   *progress.Tracker
	policy    retry.RetryPolicy
	cancels   *cancel.Broadcaster
	notifier  ports.Notifier
	recorder  metrics.MetricRecorder
	tracer    metrics.Tracer
	cfg       *config.EngineConfig
	undoCfg   *config.UndoConfig
	finalizer *finalize.Finalizer

	wg   sync.WaitGroup
	stop context.CancelFunc
}

// NewPool creates a new worker Pool.
func NewPool(
	queue ports.WorkQueue,
	execRepo repository.ExecutionRepository,
	batchRepo repository.BatchRepository,
	registry *action.Registry,
	store adapter.RecordStore,
	capturer *undo.Capturer,
	tracker *progress.Tracker,
	policy retry.RetryPolicy,
	cancels *cancel.Broadcaster,
	notifier ports.Notifier,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
	cfg *config.EngineConfig,
	undoCfg *config.UndoConfig,
) *Pool {
	return &Pool{
		queue:     queue,
		execRepo:  execRepo,
		batchRepo: batchRepo,
		registry:  registry,
		store:     store,
		capturer:  capturer,
		tracker:   tracker,
		policy:    policy,
		cancels:   cancels,
		notifier:  notifier,
		recorder:  recorder,
		tracer:    tracer,
		cfg:       cfg,
		undoCfg:   undoCfg,
		finalizer: finalize.NewFinalizer(execRepo, batchRepo, tracker, notifier, recorder, cfg, undoCfg),
	}
}

// Start launches the consumer goroutines.
func (p *Pool) Start(ctx context.Context) {
	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	p.stop = stop
	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.run(runCtx, i)
	}
	logger.Infof("Worker pool started with %d consumers", p.cfg.WorkerCount)
}

// Stop signals the consumers and waits for in-flight batches to settle.
func (p *Pool) Stop() {
	if p.stop != nil {
		p.stop()
	}
	p.wg.Wait()
	logger.Infof("Worker pool stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		msg, err := p.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Worker %d failed to receive from queue: %v", id, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if err := p.Process(ctx, msg); err != nil {
			logger.Errorf("Worker %d failed processing batch '%s': %v", id, msg.BatchID, err)
		}
	}
}

// Process handles one delivery of a batch message end to end, including its
// settlement on the queue.
func (p *Pool) Process(ctx context.Context, msg ports.BatchMessage) error {
	batch, err := p.batchRepo.FindBatchByID(ctx, msg.BatchID)
	if err != nil {
		if errors.Is(err, repository.ErrBatchNotFound) {
			logger.Warnf("Dropping message for unknown batch '%s'", msg.BatchID)
			return p.queue.Ack(ctx, msg)
		}
		// The ledger is unreachable; let the message come back later.
		_ = p.queue.Nack(ctx, msg, p.policy.GetBackoffInterval(msg.Attempt))
		return err
	}
	if batch.Status.IsTerminal() {
		// Redelivery of an already settled batch.
		return p.queue.Ack(ctx, msg)
	}

	execution, err := p.execRepo.FindExecutionByID(ctx, batch.ExecutionID)
	if err != nil {
		_ = p.queue.Nack(ctx, msg, p.policy.GetBackoffInterval(msg.Attempt))
		return err
	}
	if execution.Status.IsTerminal() {
		// The execution was cancelled or failed while this batch was queued.
		batch.MarkAsCancelled()
		if err := p.batchRepo.UpdateBatch(ctx, batch); err != nil {
			logger.Warnf("Failed to mark batch '%s' cancelled: %v", batch.ID, err)
		}
		return p.queue.Ack(ctx, msg)
	}

	handler, err := p.registry.Resolve(execution.Action)
	if err != nil {
		// Unknown actions are validated at submission; hitting this means the
		// registry changed underneath a running execution. Not retryable.
		return p.failBatchPermanently(ctx, msg, batch, execution, err)
	}

	batch.MarkAsProcessing()
	if err := p.batchRepo.UpdateBatch(ctx, batch); err != nil {
		_ = p.queue.Nack(ctx, msg, p.policy.GetBackoffInterval(msg.Attempt))
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to start batch '%s'", batch.ID), err, false, true)
	}

	spanCtx, end := p.tracer.StartBatchSpan(ctx, execution, batch)
	outcome := p.processRecords(spanCtx, execution, batch, handler)
	end()

	switch {
	case outcome.cancelled:
		return p.settleCancelled(ctx, msg, batch)
	case outcome.transientErr != nil:
		return p.settleTransient(ctx, msg, batch, execution, outcome)
	default:
		return p.settleFinished(ctx, msg, batch, execution, outcome)
	}
}

type batchOutcome struct {
	processed    int
	failed       int
	firstErr     error
	cancelled    bool
	transientErr error
}

// processRecords applies the action record by record under the batch timeout.
// Record-level failures are data errors: they never trigger a batch retry.
// Infrastructure errors and timeout abort the pass as a transient failure.
func (p *Pool) processRecords(ctx context.Context, execution *model.Execution, batch *model.Batch, handler action.Handler) batchOutcome {
	timeout := time.Duration(p.cfg.BatchTimeoutSeconds) * time.Second
	batchCtx := ctx
	if timeout > 0 {
		var cancelF context.CancelFunc
		batchCtx, cancelF = context.WithTimeout(ctx, timeout)
		defer cancelF()
	}

	abortOnError := strings.EqualFold(p.cfg.FailureTolerance.Forward, "abort")
	out := batchOutcome{}
	for _, recordID := range batch.RecordIDs {
		if batchCtx.Err() != nil {
			out.transientErr = exception.NewBulkError(moduleName, fmt.Sprintf("batch '%s' timed out after %s", batch.ID, timeout), batchCtx.Err(), false, true)
			return out
		}
		if p.cancels.IsCancelled(batchCtx, execution.ID) {
			out.cancelled = true
			return out
		}

		if err := p.processRecord(batchCtx, execution, batch, handler, recordID); err != nil {
			var be *exception.BulkError
			if errors.As(err, &be) && be.IsRetryable() {
				out.transientErr = err
				return out
			}
			out.failed++
			if out.firstErr == nil {
				out.firstErr = err
			}
			p.recorder.RecordRecordsFailed(batchCtx, execution.EntityType, execution.Action, 1)
			p.tracer.RecordError(batchCtx, moduleName, err)
			logger.Warnf("Record '%s' of execution '%s' failed: %v", recordID, execution.ID, err)
			if abortOnError {
				out.failed += batch.Size - out.processed - out.failed
				return out
			}
			continue
		}
		out.processed++
		p.recorder.RecordRecordsProcessed(batchCtx, execution.EntityType, execution.Action, 1)
	}
	return out
}

// processRecord captures the undo snapshot, then mutates. Capture failure fails
// the record because an unsnapshotted mutation could not be reversed.
func (p *Pool) processRecord(ctx context.Context, execution *model.Execution, batch *model.Batch, handler action.Handler, recordID string) error {
	if err := p.capturer.Capture(ctx, execution, handler, recordID); err != nil {
		return err
	}
	return handler.Execute(ctx, p.store, execution.EntityType, recordID, execution.Params)
}

// settleFinished persists the terminal batch state, bumps the execution
// counters once, and promotes the execution when this was the last batch.
func (p *Pool) settleFinished(ctx context.Context, msg ports.BatchMessage, batch *model.Batch, execution *model.Execution, out batchOutcome) error {
	batch.ProcessedCount = out.processed
	batch.FailedCount = out.failed
	if out.firstErr != nil {
		batch.ErrorDetail = exception.ExtractErrorMessage(out.firstErr)
	}
	batch.MarkAsCompleted()
	if err := p.batchRepo.UpdateBatch(ctx, batch); err != nil {
		_ = p.queue.Nack(ctx, msg, p.policy.GetBackoffInterval(msg.Attempt))
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to settle batch '%s'", batch.ID), err, false, true)
	}

	if err := p.execRepo.IncrementCounters(ctx, execution.ID, int64(out.processed), int64(out.failed)); err != nil {
		logger.Errorf("Failed to increment counters of execution '%s': %v", execution.ID, err)
	} else {
		execution.ProcessedRecords += int64(out.processed)
		execution.FailedRecords += int64(out.failed)
	}

	p.recorder.RecordBatchEnd(ctx, execution, batch)
	if err := p.tracker.Update(ctx, execution); err != nil {
		logger.Warnf("Failed to update progress of execution '%s': %v", execution.ID, err)
	}

	if err := p.queue.Ack(ctx, msg); err != nil {
		logger.Warnf("Failed to ack batch '%s': %v", batch.ID, err)
	}
	return p.finalizeIfLast(ctx, execution.ID)
}

// settleTransient re-enqueues the batch with backoff, or dead-letters it once
// the attempts are exhausted.
func (p *Pool) settleTransient(ctx context.Context, msg ports.BatchMessage, batch *model.Batch, execution *model.Execution, out batchOutcome) error {
	if msg.Attempt < p.policy.GetMaxAttempts() && p.policy.ShouldRetry(out.transientErr) {
		delay := p.policy.GetBackoffInterval(msg.Attempt)
		logger.Warnf("Batch '%s' attempt %d failed transiently, retrying in %s: %v", batch.ID, msg.Attempt, delay, out.transientErr)
		p.recorder.RecordBatchRetry(ctx, execution.ID, msg.Attempt)

		// Back to PENDING so the next delivery starts clean. Counters were not
		// bumped for this attempt, so the retry cannot double-count.
		if err := batch.TransitionTo(model.BatchStatusPending); err != nil {
			logger.Warnf("Batch '%s': %v", batch.ID, err)
		}
		batch.ErrorDetail = exception.ExtractErrorMessage(out.transientErr)
		if err := p.batchRepo.UpdateBatch(ctx, batch); err != nil {
			logger.Errorf("Failed to reset batch '%s' for retry: %v", batch.ID, err)
		}
		return p.queue.Nack(ctx, msg, delay)
	}
	return p.failBatchPermanently(ctx, msg, batch, execution, out.transientErr)
}

// failBatchPermanently dead-letters the message and counts every record of the
// batch that did not complete as failed, so the execution can still finish.
func (p *Pool) failBatchPermanently(ctx context.Context, msg ports.BatchMessage, batch *model.Batch, execution *model.Execution, cause error) error {
	logger.Errorf("Batch '%s' of execution '%s' permanently failed: %v", batch.ID, execution.ID, cause)
	batch.ProcessedCount = 0
	batch.FailedCount = batch.Size
	batch.MarkAsFailed(cause)
	if err := p.batchRepo.UpdateBatch(ctx, batch); err != nil {
		logger.Errorf("Failed to persist failure of batch '%s': %v", batch.ID, err)
	}

	if err := p.execRepo.IncrementCounters(ctx, execution.ID, 0, int64(batch.Size)); err != nil {
		logger.Errorf("Failed to increment counters of execution '%s': %v", execution.ID, err)
	} else {
		execution.FailedRecords += int64(batch.Size)
	}
	p.recorder.RecordRecordsFailed(ctx, execution.EntityType, execution.Action, batch.Size)
	p.recorder.RecordBatchEnd(ctx, execution, batch)
	if err := p.tracker.Update(ctx, execution); err != nil {
		logger.Warnf("Failed to update progress of execution '%s': %v", execution.ID, err)
	}

	if err := p.queue.DeadLetter(ctx, msg); err != nil {
		logger.Errorf("Failed to dead-letter batch '%s': %v", batch.ID, err)
	}
	return p.finalizeIfLast(ctx, execution.ID)
}

// settleCancelled drops a batch whose execution was cancelled mid-flight.
// Records mutated before the flag was observed stay mutated; the cancelling
// caller owns the terminal bookkeeping.
func (p *Pool) settleCancelled(ctx context.Context, msg ports.BatchMessage, batch *model.Batch) error {
	batch.MarkAsCancelled()
	if err := p.batchRepo.UpdateBatch(ctx, batch); err != nil {
		logger.Warnf("Failed to mark batch '%s' cancelled: %v", batch.ID, err)
	}
	return p.queue.Ack(ctx, msg)
}

// finalizeIfLast promotes the execution to its terminal status once no
// unfinished batches remain.
func (p *Pool) finalizeIfLast(ctx context.Context, executionID string) error {
	return p.finalizer.FinalizeIfSettled(ctx, executionID)
}
