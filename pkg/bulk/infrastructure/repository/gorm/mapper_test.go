package gorm

import (
	"strings"
	"testing"
	"time"

	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFields_CompressionThreshold(t *testing.T) {
	small := model.FieldMap{"status": "open"}

	// Below the threshold the payload stays readable JSON.
	payload, err := encodeFields(small, 1024)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(payload, "{"))

	decoded, err := decodeFields(payload)
	require.NoError(t, err)
	assert.Equal(t, "open", decoded["status"])

	// Above the threshold the payload is compressed and marked.
	big := model.FieldMap{"body": strings.Repeat("lorem ipsum ", 500)}
	payload, err = encodeFields(big, 1024)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(payload, gzipPrefix))
	assert.Less(t, len(payload), 6000, "compressed payload is smaller than the raw JSON")

	decoded, err = decodeFields(payload)
	require.NoError(t, err)
	assert.Equal(t, big["body"], decoded["body"])

	// A threshold of zero disables compression entirely.
	payload, err = encodeFields(big, 0)
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(payload, gzipPrefix))
}

func TestDecodeFields_EmptyAndCorrupt(t *testing.T) {
	decoded, err := decodeFields("")
	require.NoError(t, err)
	assert.Empty(t, decoded)

	_, err = decodeFields(gzipPrefix + "not base64!!")
	assert.Error(t, err)

	_, err = decodeFields("{broken json")
	assert.Error(t, err)
}

func TestSnapshotMapping_RoundTrip(t *testing.T) {
	now := time.Now()
	snapshot := model.NewSnapshotRecord("exec-1", "orders", "o-1", model.UndoOpRevertFields, model.FieldMap{
		"status":   "open",
		"priority": float64(5),
	})
	snapshot.UndoneAt = &now
	snapshot.UndoneBy = "operator"
	snapshot.Undone = true

	entity, err := fromDomainSnapshot(snapshot, 64)
	require.NoError(t, err)
	assert.Equal(t, snapshot.ID, entity.ID)
	assert.Equal(t, model.UndoOpRevertFields, entity.UndoOperation)

	back, err := toDomainSnapshot(entity)
	require.NoError(t, err)
	assert.Equal(t, snapshot.RecordID, back.RecordID)
	assert.Equal(t, snapshot.Fields, back.Fields)
	assert.True(t, back.Undone)
	assert.Equal(t, "operator", back.UndoneBy)
}

func TestExecutionMapping_RoundTrip(t *testing.T) {
	execution := model.NewExecution("orders", model.NewIDFilter("o-1", "o-2"), "update", model.NewActionParams(), "alice")
	execution.MarkAsProcessing()
	execution.TotalRecords = 2
	now := time.Now()
	execution.StartTime = &now

	back := toDomainExecution(fromDomainExecution(execution))
	assert.Equal(t, execution.ID, back.ID)
	assert.Equal(t, execution.Status, back.Status)
	assert.Equal(t, execution.Filter, back.Filter)
	assert.Equal(t, execution.TotalRecords, back.TotalRecords)
	require.NotNil(t, back.StartTime)
}

func TestBatchMapping_RoundTrip(t *testing.T) {
	batch := model.NewBatch("exec-1", 3, []string{"a", "b", "c"})
	batch.MarkAsProcessing()
	batch.ProcessedCount = 2
	batch.FailedCount = 1
	batch.ErrorDetail = "record 'b' rejected"

	back := toDomainBatch(fromDomainBatch(batch))
	assert.Equal(t, batch.ID, back.ID)
	assert.Equal(t, batch.RecordIDs, back.RecordIDs)
	assert.Equal(t, batch.Attempt, back.Attempt)
	assert.Equal(t, batch.ErrorDetail, back.ErrorDetail)
}
