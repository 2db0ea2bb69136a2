package model_test

import (
	"errors"
	"testing"
	"time"

	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"

	"github.com/stretchr/testify/assert"
)

// Helper function to create a basic Execution
func newTestExecution(status model.ExecutionStatus) *model.Execution {
	e := model.NewExecution("orders", model.NewIDFilter("r1", "r2"), "delete", model.NewActionParams(), "tester")
	e.Status = status
	return e
}

func TestExecution_TransitionTo(t *testing.T) {
	// Test valid transitions
	e := newTestExecution(model.ExecutionStatusScheduled)
	assert.NoError(t, e.TransitionTo(model.ExecutionStatusPending))
	assert.Equal(t, model.ExecutionStatusPending, e.Status)

	// SCHEDULED -> CANCELLED (cancel before dispatch)
	e = newTestExecution(model.ExecutionStatusScheduled)
	assert.NoError(t, e.TransitionTo(model.ExecutionStatusCancelled))
	assert.Equal(t, model.ExecutionStatusCancelled, e.Status)

	e = newTestExecution(model.ExecutionStatusPending)
	assert.NoError(t, e.TransitionTo(model.ExecutionStatusProcessing))
	assert.Equal(t, model.ExecutionStatusProcessing, e.Status)

	// PENDING -> COMPLETED (zero matching targets completes immediately)
	e = newTestExecution(model.ExecutionStatusPending)
	assert.NoError(t, e.TransitionTo(model.ExecutionStatusCompleted))

	// PENDING -> CANCELLED (cancel before any batch ran)
	e = newTestExecution(model.ExecutionStatusPending)
	assert.NoError(t, e.TransitionTo(model.ExecutionStatusCancelled))

	e = newTestExecution(model.ExecutionStatusProcessing)
	assert.NoError(t, e.TransitionTo(model.ExecutionStatusCompleted))

	e = newTestExecution(model.ExecutionStatusProcessing)
	assert.NoError(t, e.TransitionTo(model.ExecutionStatusFailed))

	e = newTestExecution(model.ExecutionStatusProcessing)
	assert.NoError(t, e.TransitionTo(model.ExecutionStatusCancelled))

	// --- Invalid Transitions ---

	// SCHEDULED -> PROCESSING (must activate through PENDING first)
	e = newTestExecution(model.ExecutionStatusScheduled)
	err := e.TransitionTo(model.ExecutionStatusProcessing)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid state transition")

	// Terminal states never transition
	for _, terminal := range []model.ExecutionStatus{
		model.ExecutionStatusCompleted,
		model.ExecutionStatusFailed,
		model.ExecutionStatusCancelled,
	} {
		e = newTestExecution(terminal)
		assert.Error(t, e.TransitionTo(model.ExecutionStatusProcessing))
		assert.Error(t, e.TransitionTo(model.ExecutionStatusPending))
		assert.True(t, e.Status.IsTerminal())
	}
}

func TestExecution_MarkAsFailed(t *testing.T) {
	e := newTestExecution(model.ExecutionStatusProcessing)
	e.MarkAsFailed(errors.New("threshold exceeded"))

	assert.Equal(t, model.ExecutionStatusFailed, e.Status)
	assert.NotNil(t, e.EndTime)
	assert.Contains(t, e.FailureReason, "threshold exceeded")
}

func TestExecution_CheckCounterInvariant(t *testing.T) {
	e := newTestExecution(model.ExecutionStatusProcessing)
	e.TotalRecords = 10
	e.ProcessedRecords = 7
	e.FailedRecords = 3
	assert.NoError(t, e.CheckCounterInvariant())

	e.FailedRecords = 4
	err := e.CheckCounterInvariant()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "counter invariant violated")
}

func TestExecution_CanUndo(t *testing.T) {
	now := time.Now()
	expires := now.Add(30 * time.Minute)

	e := newTestExecution(model.ExecutionStatusCompleted)
	e.UndoEnabled = true
	e.UndoExpiresAt = &expires
	assert.True(t, e.CanUndo(now))
	assert.InDelta(t, (30 * time.Minute).Seconds(), e.UndoTimeRemaining(now).Seconds(), 1.0)

	// Expired window
	past := now.Add(-time.Minute)
	e.UndoExpiresAt = &past
	assert.False(t, e.CanUndo(now))
	assert.Equal(t, time.Duration(0), e.UndoTimeRemaining(now))

	// Never enabled
	e.UndoExpiresAt = &expires
	e.UndoEnabled = false
	assert.False(t, e.CanUndo(now))

	// Already undone
	e.UndoEnabled = true
	undone := now.Add(-time.Minute)
	e.UndoneAt = &undone
	assert.False(t, e.CanUndo(now))

	// Non-terminal or failed executions cannot be undone
	e = newTestExecution(model.ExecutionStatusProcessing)
	e.UndoEnabled = true
	e.UndoExpiresAt = &expires
	assert.False(t, e.CanUndo(now))
}

func TestBatch_TransitionTo(t *testing.T) {
	b := model.NewBatch("exec-1", 0, []string{"r1", "r2", "r3"})
	assert.Equal(t, model.BatchStatusPending, b.Status)
	assert.Equal(t, 3, b.Size)

	assert.NoError(t, b.TransitionTo(model.BatchStatusProcessing))

	// PROCESSING -> PENDING (transient failure re-enqueue)
	assert.NoError(t, b.TransitionTo(model.BatchStatusPending))
	assert.NoError(t, b.TransitionTo(model.BatchStatusProcessing))
	assert.NoError(t, b.TransitionTo(model.BatchStatusCompleted))

	// Terminal
	assert.Error(t, b.TransitionTo(model.BatchStatusProcessing))
	assert.True(t, b.Status.IsTerminal())

	// PENDING -> FAILED (permanent failure without ever starting)
	b = model.NewBatch("exec-1", 1, []string{"r4"})
	assert.NoError(t, b.TransitionTo(model.BatchStatusFailed))

	// PENDING -> CANCELLED (execution cancelled before the batch ran)
	b = model.NewBatch("exec-1", 2, []string{"r5"})
	assert.NoError(t, b.TransitionTo(model.BatchStatusCancelled))
}

func TestBatch_MarkAsProcessing_IncrementsAttempt(t *testing.T) {
	b := model.NewBatch("exec-1", 0, []string{"r1"})
	assert.Equal(t, 0, b.Attempt)

	b.MarkAsProcessing()
	assert.Equal(t, 1, b.Attempt)
	assert.NotNil(t, b.StartTime)

	// A retried batch goes back to PENDING and is picked up again.
	assert.NoError(t, b.TransitionTo(model.BatchStatusPending))
	b.MarkAsProcessing()
	assert.Equal(t, 2, b.Attempt)
}

func TestNewExecution_Defaults(t *testing.T) {
	e := model.NewExecution("orders", model.NewAllFilter(), "archive", model.NewActionParams(), "ops")
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, model.ExecutionStatusPending, e.Status)
	assert.Equal(t, "ops", e.Actor)
	assert.Nil(t, e.StartTime)
	assert.Nil(t, e.UndoExpiresAt)
	assert.Zero(t, e.Version)
}
