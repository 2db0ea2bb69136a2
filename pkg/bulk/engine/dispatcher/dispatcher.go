// Package dispatcher segments a resolved target set into persisted batches and
// feeds them to the work queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/tigerroll/marlin/pkg/bulk/core/config"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/repository"
	"github.com/tigerroll/marlin/pkg/bulk/core/metrics"
	"github.com/tigerroll/marlin/pkg/bulk/core/ports"
	"github.com/tigerroll/marlin/pkg/bulk/engine/finalize"
	"github.com/tigerroll/marlin/pkg/bulk/engine/resolver"
	"github.com/tigerroll/marlin/pkg/bulk/support/util/exception"
	logger "github.com/tigerroll/marlin/pkg/bulk/support/util/logger"
)

const moduleName = "dispatcher"

// Dispatcher streams resolved record IDs, persists batch rows and enqueues one
// message per batch. Memory stays bounded: only one chunk of IDs is held at a time.
type Dispatcher struct {
	execRepo  repository.ExecutionRepository
	batchRepo repository.BatchRepository
	queue     ports.WorkQueue
	notifier  ports.Notifier
	recorder  metrics.MetricRecorder
	finalizer *finalize.Finalizer
	cfg       *config.EngineConfig
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(
	execRepo repository.ExecutionRepository,
	batchRepo repository.BatchRepository,
	queue ports.WorkQueue,
	notifier ports.Notifier,
	recorder metrics.MetricRecorder,
	finalizer *finalize.Finalizer,
	cfg *config.EngineConfig,
) *Dispatcher {
	return &Dispatcher{
		execRepo:  execRepo,
		batchRepo: batchRepo,
		queue:     queue,
		notifier:  notifier,
		recorder:  recorder,
		finalizer: finalizer,
		cfg:       cfg,
	}
}

// ClampBatchSize bounds a requested batch size to the configured limits,
// substituting the default when the request is zero, and shrinking the result
// when the process is under heap pressure.
func (d *Dispatcher) ClampBatchSize(requested int) int {
	size := requested
	if size <= 0 {
		size = d.cfg.BatchSize.Default
	}
	if size < d.cfg.BatchSize.Min {
		size = d.cfg.BatchSize.Min
	}
	if size > d.cfg.BatchSize.Max {
		size = d.cfg.BatchSize.Max
	}
	if d.underMemoryPressure() {
		shrunk := int(float64(size) * d.cfg.Memory.ShrinkFactor)
		if shrunk < d.cfg.BatchSize.Min {
			shrunk = d.cfg.BatchSize.Min
		}
		if shrunk < size {
			logger.Warnf("Heap pressure detected, shrinking batch size from %d to %d", size, shrunk)
			size = shrunk
		}
	}
	return size
}

func (d *Dispatcher) underMemoryPressure() bool {
	if d.cfg.Memory.PressureFraction <= 0 {
		return false
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.NextGC == 0 {
		return false
	}
	return float64(ms.HeapAlloc) >= d.cfg.Memory.PressureFraction*float64(ms.NextGC)
}

// Dispatch moves a pending execution into processing: it streams the resolved
// target set, persists one batch row per chunk, enqueues the work and marks the
// execution PROCESSING. A zero-record resolution completes the execution
// immediately without enqueueing anything.
func (d *Dispatcher) Dispatch(ctx context.Context, execution *model.Execution, res *resolver.Resolution) error {
	if res.Total == 0 {
		return d.completeEmpty(ctx, execution)
	}

	chunkSize := d.ClampBatchSize(execution.BatchSize)
	execution.BatchSize = chunkSize

	now := time.Now()
	err := d.execRepo.TransitionStatus(ctx, execution.ID, model.ExecutionStatusPending, model.ExecutionStatusProcessing, func(e *model.Execution) {
		e.TotalRecords = res.Total
		e.StartTime = &now
	})
	if err != nil {
		if errors.Is(err, repository.ErrStatusPrecondition) {
			logger.Warnf("Execution '%s' left PENDING before dispatch, skipping", execution.ID)
			return nil
		}
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to start execution '%s'", execution.ID), err, false, true)
	}
	execution.TotalRecords = res.Total
	execution.StartTime = &now
	execution.Status = model.ExecutionStatusProcessing
	d.recorder.RecordExecutionStart(ctx, execution)

	iter, err := res.Stream(ctx, chunkSize)
	if err != nil {
		return d.failDispatch(ctx, execution, exception.NewBulkError(moduleName, "failed to open target stream", err, false, true))
	}
	defer iter.Close()

	sequence := 0
	streamed := int64(0)
	for {
		ids, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return d.failDispatch(ctx, execution, exception.NewBulkError(moduleName, fmt.Sprintf("target stream failed at batch %d", sequence), err, false, true))
		}
		if len(ids) == 0 {
			continue
		}
		if err := d.dispatchChunk(ctx, execution, sequence, ids); err != nil {
			return d.failDispatch(ctx, execution, err)
		}
		sequence++
		streamed += int64(len(ids))
	}

	if sequence == 0 {
		// The target set drained between count and stream. Nothing was
		// enqueued, so no worker will ever finalize this execution.
		return d.completeDrained(ctx, execution)
	}

	// The stream is the authoritative target set: records created or removed
	// since the count was taken shift the total, and the batch sizes must sum
	// to it.
	err = d.execRepo.TransitionStatus(ctx, execution.ID, model.ExecutionStatusProcessing, model.ExecutionStatusProcessing, func(e *model.Execution) {
		e.TotalBatches = sequence
		e.TotalRecords = streamed
	})
	if err != nil && !errors.Is(err, repository.ErrStatusPrecondition) {
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to record batch count for execution '%s'", execution.ID), err, false, true)
	}
	execution.TotalBatches = sequence
	execution.TotalRecords = streamed
	logger.Infof("Dispatched execution '%s': %d records in %d batches of up to %d", execution.ID, streamed, sequence, chunkSize)

	// Workers skip finalization until the batch count is recorded; if the last
	// batch settled before that write, this call settles the execution.
	if err := d.finalizer.FinalizeIfSettled(ctx, execution.ID); err != nil {
		logger.Errorf("Post-dispatch finalization check of execution '%s' failed: %v", execution.ID, err)
	}
	return nil
}

func (d *Dispatcher) dispatchChunk(ctx context.Context, execution *model.Execution, sequence int, ids []string) error {
	batch := model.NewBatch(execution.ID, sequence, ids)
	if err := d.batchRepo.SaveBatch(ctx, batch); err != nil {
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to persist batch %d of execution '%s'", sequence, execution.ID), err, false, true)
	}
	msg := ports.BatchMessage{
		MessageID:   model.NewID(),
		ExecutionID: execution.ID,
		BatchID:     batch.ID,
		Sequence:    sequence,
		Attempt:     0,
	}
	if err := d.queue.Enqueue(ctx, msg); err != nil {
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to enqueue batch %d of execution '%s'", sequence, execution.ID), err, false, true)
	}
	return nil
}

// completeDrained finishes a started execution whose stream yielded nothing.
func (d *Dispatcher) completeDrained(ctx context.Context, execution *model.Execution) error {
	now := time.Now()
	err := d.execRepo.TransitionStatus(ctx, execution.ID, model.ExecutionStatusProcessing, model.ExecutionStatusCompleted, func(e *model.Execution) {
		e.TotalRecords = 0
		e.TotalBatches = 0
		e.EndTime = &now
	})
	if err != nil {
		if errors.Is(err, repository.ErrStatusPrecondition) {
			return nil
		}
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to complete drained execution '%s'", execution.ID), err, false, true)
	}
	execution.Status = model.ExecutionStatusCompleted
	execution.TotalRecords = 0
	execution.EndTime = &now
	logger.Infof("Execution '%s' drained to no records before dispatch, completed immediately", execution.ID)
	d.recorder.RecordExecutionEnd(ctx, execution)
	d.notifier.NotifyTerminal(ctx, execution)
	return nil
}

// completeEmpty finishes an execution that matched no records.
func (d *Dispatcher) completeEmpty(ctx context.Context, execution *model.Execution) error {
	now := time.Now()
	err := d.execRepo.TransitionStatus(ctx, execution.ID, model.ExecutionStatusPending, model.ExecutionStatusCompleted, func(e *model.Execution) {
		e.TotalRecords = 0
		e.TotalBatches = 0
		e.StartTime = &now
		e.EndTime = &now
	})
	if err != nil {
		if errors.Is(err, repository.ErrStatusPrecondition) {
			return nil
		}
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to complete empty execution '%s'", execution.ID), err, false, true)
	}
	execution.Status = model.ExecutionStatusCompleted
	execution.StartTime = &now
	execution.EndTime = &now
	logger.Infof("Execution '%s' matched no records, completed immediately", execution.ID)
	d.recorder.RecordExecutionEnd(ctx, execution)
	d.notifier.NotifyTerminal(ctx, execution)
	return nil
}

// failDispatch marks the execution FAILED after an unrecoverable dispatch error.
// Batches already enqueued will be discarded by workers once they observe the
// terminal status.
func (d *Dispatcher) failDispatch(ctx context.Context, execution *model.Execution, cause error) error {
	now := time.Now()
	err := d.execRepo.TransitionStatus(ctx, execution.ID, model.ExecutionStatusProcessing, model.ExecutionStatusFailed, func(e *model.Execution) {
		e.FailureReason = exception.ExtractErrorMessage(cause)
		e.EndTime = &now
	})
	if err != nil && !errors.Is(err, repository.ErrStatusPrecondition) {
		logger.Errorf("Failed to mark execution '%s' as FAILED after dispatch error: %v", execution.ID, err)
	}
	execution.Status = model.ExecutionStatusFailed
	execution.FailureReason = exception.ExtractErrorMessage(cause)
	execution.EndTime = &now
	d.recorder.RecordExecutionEnd(ctx, execution)
	d.notifier.NotifyTerminal(ctx, execution)
	return cause
}
