package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// UndoOperation names the inverse operation required to reverse one mutation.
type UndoOperation string

const (
	// UndoOpReinstate reverses a soft delete by reinstating the record.
	UndoOpReinstate UndoOperation = "reinstate-deleted"
	// UndoOpDeleteAgain reverses a restore by deleting the record again.
	UndoOpDeleteAgain UndoOperation = "delete-again"
	// UndoOpRevertFields reverses a field update by restoring captured values.
	UndoOpRevertFields UndoOperation = "revert-fields"
	// UndoOpRecreate reverses a permanent destroy by recreating the record from
	// its full captured field map.
	UndoOpRecreate UndoOperation = "recreate-from-scratch"
)

// FieldMap holds captured pre-mutation field values, persisted as a JSON column.
// The mapper layer compresses large payloads transparently.
type FieldMap map[string]interface{}

// Value implements the `driver.Valuer` interface, converting the FieldMap to a JSON string.
func (fm FieldMap) Value() (driver.Value, error) {
	if fm == nil {
		return "{}", nil
	}
	data, err := json.Marshal(fm)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to a FieldMap.
func (fm *FieldMap) Scan(value interface{}) error {
	if value == nil {
		*fm = make(FieldMap)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for FieldMap: %T", value)
	}
	if len(b) == 0 {
		*fm = make(FieldMap)
		return nil
	}
	if err := json.Unmarshal(b, fm); err != nil {
		return fmt.Errorf("failed to unmarshal FieldMap JSON: %w", err)
	}
	return nil
}

// Copy creates a shallow copy of the FieldMap.
func (fm FieldMap) Copy() FieldMap {
	out := make(FieldMap, len(fm))
	for k, v := range fm {
		out[k] = v
	}
	return out
}

// SnapshotRecord is one pre-mutation capture for one (execution, record) pair.
// At most one non-undone snapshot exists per pair; it is created by the worker
// before mutating and mutated only by the undo manager.
type SnapshotRecord struct {
	ID            string
	ExecutionID   string
	EntityType    string
	RecordID      string
	Fields        FieldMap
	UndoOperation UndoOperation
	Undone        bool
	UndoneAt      *time.Time
	UndoneBy      string
	CreateTime    time.Time
}

// NewSnapshotRecord creates a new SnapshotRecord capturing the given fields.
func NewSnapshotRecord(executionID, entityType, recordID string, op UndoOperation, fields FieldMap) *SnapshotRecord {
	return &SnapshotRecord{
		ID:            NewID(),
		ExecutionID:   executionID,
		EntityType:    entityType,
		RecordID:      recordID,
		Fields:        fields,
		UndoOperation: op,
		CreateTime:    time.Now(),
	}
}

// MarkUndone flags the snapshot as consumed by an undo pass.
func (s *SnapshotRecord) MarkUndone(actor string) {
	now := time.Now()
	s.Undone = true
	s.UndoneAt = &now
	s.UndoneBy = actor
}
