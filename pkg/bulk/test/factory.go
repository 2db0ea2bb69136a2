// Package test provides factories shared by package-level tests.
package test

import (
	"time"

	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
)

// NewTestActionParams creates ActionParams for testing.
func NewTestActionParams(params map[string]interface{}) model.ActionParams {
	ap := model.NewActionParams()
	for k, v := range params {
		ap.Put(k, v)
	}
	return ap
}

// NewTestExecution creates a PENDING Execution for testing.
func NewTestExecution(entityType, action string, ids ...string) *model.Execution {
	e := model.NewExecution(entityType, model.NewIDFilter(ids...), action, model.NewActionParams(), "tester")
	e.BatchSize = 100
	return e
}

// NewCompletedExecution creates a COMPLETED Execution with an open undo window.
func NewCompletedExecution(entityType, action string, window time.Duration) *model.Execution {
	e := NewTestExecution(entityType, action, "r1")
	e.UndoEnabled = true
	e.MarkAsProcessing()
	e.MarkAsCompleted()
	expires := time.Now().Add(window)
	e.UndoExpiresAt = &expires
	return e
}

// NewTestBatch creates a PENDING Batch for testing.
func NewTestBatch(executionID string, sequence int, recordIDs ...string) *model.Batch {
	return model.NewBatch(executionID, sequence, recordIDs)
}

// NewTestSnapshot creates a SnapshotRecord for testing.
func NewTestSnapshot(executionID, recordID string, op model.UndoOperation, fields model.FieldMap) *model.SnapshotRecord {
	return model.NewSnapshotRecord(executionID, "orders", recordID, op, fields)
}
