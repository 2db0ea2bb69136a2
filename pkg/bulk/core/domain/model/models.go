package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tigerroll/marlin/pkg/bulk/support/util/exception"
	logger "github.com/tigerroll/marlin/pkg/bulk/support/util/logger"

	"github.com/google/uuid"
)

// ExecutionStatus represents the state of a bulk execution.
type ExecutionStatus string

const (
	ExecutionStatusScheduled  ExecutionStatus = "SCHEDULED"
	ExecutionStatusPending    ExecutionStatus = "PENDING"
	ExecutionStatusProcessing ExecutionStatus = "PROCESSING"
	ExecutionStatusCompleted  ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed     ExecutionStatus = "FAILED"
	ExecutionStatusCancelled  ExecutionStatus = "CANCELLED"
)

// String returns the string representation of the ExecutionStatus.
func (s ExecutionStatus) String() string {
	return string(s)
}

// IsTerminal checks if the ExecutionStatus represents a terminal state.
// No transition ever leaves a terminal state.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// BatchStatus represents the state of a single batch of one execution.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "PENDING"
	BatchStatusProcessing BatchStatus = "PROCESSING"
	BatchStatusCompleted  BatchStatus = "COMPLETED"
	BatchStatusFailed     BatchStatus = "FAILED"
	BatchStatusCancelled  BatchStatus = "CANCELLED"
)

// String returns the string representation of the BatchStatus.
func (s BatchStatus) String() string {
	return string(s)
}

// IsTerminal checks if the BatchStatus represents a terminal state.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusCancelled:
		return true
	default:
		return false
	}
}

// ActionParams is a structure holding the parameters of the configured action.
type ActionParams struct {
	Params map[string]interface{}
}

// NewActionParams creates a new empty ActionParams.
func NewActionParams() ActionParams {
	return ActionParams{Params: make(map[string]interface{})}
}

// Put sets a value in ActionParams with the specified key and value.
func (ap ActionParams) Put(key string, value interface{}) {
	ap.Params[key] = value
}

// GetString retrieves the value for the specified key as a string.
func (ap ActionParams) GetString(key string) (string, bool) {
	val, ok := ap.Params[key]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

// GetMap retrieves the value for the specified key as a map.
func (ap ActionParams) GetMap(key string) (map[string]interface{}, bool) {
	val, ok := ap.Params[key]
	if !ok {
		return nil, false
	}
	m, ok := val.(map[string]interface{})
	return m, ok
}

// Value implements the `driver.Valuer` interface, converting ActionParams to a JSON string.
func (ap ActionParams) Value() (driver.Value, error) {
	if ap.Params == nil {
		return "{}", nil
	}
	data, err := json.Marshal(ap.Params)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to ActionParams.
func (ap *ActionParams) Scan(value interface{}) error {
	if value == nil {
		ap.Params = make(map[string]interface{})
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for ActionParams: %T", value)
	}
	if len(b) == 0 {
		ap.Params = make(map[string]interface{})
		return nil
	}
	if err := json.Unmarshal(b, &ap.Params); err != nil {
		return fmt.Errorf("failed to unmarshal ActionParams JSON: %w", err)
	}
	return nil
}

// StringList holds an ordered list of strings persisted as a JSON column.
type StringList []string

// Value implements the `driver.Valuer` interface, converting StringList to a JSON string.
func (sl StringList) Value() (driver.Value, error) {
	if sl == nil {
		return "[]", nil
	}
	data, err := json.Marshal(sl)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to StringList.
func (sl *StringList) Scan(value interface{}) error {
	if value == nil {
		*sl = make(StringList, 0)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for StringList: %T", value)
	}
	if len(b) == 0 {
		*sl = make(StringList, 0)
		return nil
	}
	if err := json.Unmarshal(b, sl); err != nil {
		return fmt.Errorf("failed to unmarshal StringList JSON: %w", err)
	}
	return nil
}

// Execution is the persisted record of one logical bulk operation.
// It is the single source of truth for aggregate state: the dispatcher creates
// its batches, workers update its counters, the scheduler promotes its status
// and the undo manager clears its undo flag.
type Execution struct {
	ID               string
	EntityType       string
	Filter           TargetFilter
	Action           string
	Params           ActionParams
	BatchSize        int
	TotalRecords     int64
	ProcessedRecords int64
	FailedRecords    int64
	TotalBatches     int
	Status           ExecutionStatus
	FailureReason    string
	UndoEnabled      bool
	UndoExpiresAt    *time.Time
	UndoneAt         *time.Time
	ScheduledAt      *time.Time
	Actor            string
	CreateTime       time.Time
	StartTime        *time.Time
	EndTime          *time.Time
	LastUpdated      time.Time
	Version          int
}

// NewExecution creates a new Execution in its initial state. Executions with a
// future ScheduledAt start as SCHEDULED, everything else starts as PENDING.
func NewExecution(entityType string, filter TargetFilter, action string, params ActionParams, actor string) *Execution {
	now := time.Now()
	return &Execution{
		ID:          NewID(),
		EntityType:  entityType,
		Filter:      filter,
		Action:      action,
		Params:      params,
		Status:      ExecutionStatusPending,
		Actor:       actor,
		CreateTime:  now,
		LastUpdated: now,
		Version:     0,
	}
}

// isValidExecutionTransition checks if the state transition for Execution is valid.
// The machine is scheduled -> pending -> processing -> {completed|failed|cancelled},
// with pending -> cancelled and scheduled -> cancelled also legal.
func isValidExecutionTransition(current, next ExecutionStatus) bool {
	switch current {
	case ExecutionStatusScheduled:
		return next == ExecutionStatusPending || next == ExecutionStatusCancelled
	case ExecutionStatusPending:
		return next == ExecutionStatusProcessing || next == ExecutionStatusCancelled ||
			next == ExecutionStatusCompleted || next == ExecutionStatusFailed
	case ExecutionStatusProcessing:
		return next == ExecutionStatusCompleted || next == ExecutionStatusFailed || next == ExecutionStatusCancelled
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return false
	default:
		return false
	}
}

// TransitionTo safely transitions the state of the Execution.
// Fields other than Status and LastUpdated must be set separately by the caller.
func (e *Execution) TransitionTo(newStatus ExecutionStatus) error {
	if !isValidExecutionTransition(e.Status, newStatus) {
		return fmt.Errorf("Execution (ID: %s): invalid state transition: %s -> %s", e.ID, e.Status, newStatus)
	}
	e.Status = newStatus
	e.LastUpdated = time.Now()
	return nil
}

// MarkAsProcessing updates the Execution status to PROCESSING and stamps StartTime.
func (e *Execution) MarkAsProcessing() {
	if err := e.TransitionTo(ExecutionStatusProcessing); err != nil {
		logger.Warnf("Could not update Execution (ID: %s) status to PROCESSING: %v", e.ID, err)
		e.Status = ExecutionStatusProcessing
	}
	now := time.Now()
	e.StartTime = &now
	e.LastUpdated = now
}

// MarkAsCompleted updates the Execution status to COMPLETED.
func (e *Execution) MarkAsCompleted() {
	if err := e.TransitionTo(ExecutionStatusCompleted); err != nil {
		logger.Warnf("Could not update Execution (ID: %s) status to COMPLETED: %v", e.ID, err)
		e.Status = ExecutionStatusCompleted
	}
	now := time.Now()
	e.EndTime = &now
	e.LastUpdated = now
}

// MarkAsFailed updates the Execution status to FAILED and records a human-readable reason.
func (e *Execution) MarkAsFailed(err error) {
	if terr := e.TransitionTo(ExecutionStatusFailed); terr != nil {
		logger.Warnf("Could not update Execution (ID: %s) status to FAILED: %v", e.ID, terr)
		e.Status = ExecutionStatusFailed
	}
	now := time.Now()
	e.EndTime = &now
	e.LastUpdated = now
	if err != nil {
		e.FailureReason = exception.ExtractErrorMessage(err)
	}
}

// MarkAsCancelled updates the Execution status to CANCELLED.
func (e *Execution) MarkAsCancelled() {
	if err := e.TransitionTo(ExecutionStatusCancelled); err != nil {
		logger.Warnf("Could not update Execution (ID: %s) status to CANCELLED: %v", e.ID, err)
		e.Status = ExecutionStatusCancelled
	}
	now := time.Now()
	e.EndTime = &now
	e.LastUpdated = now
}

// CheckCounterInvariant verifies processed + failed <= total.
// A violation indicates a lost or duplicated counter update.
func (e *Execution) CheckCounterInvariant() error {
	if e.ProcessedRecords+e.FailedRecords > e.TotalRecords {
		return fmt.Errorf("Execution (ID: %s): counter invariant violated: processed(%d) + failed(%d) > total(%d)",
			e.ID, e.ProcessedRecords, e.FailedRecords, e.TotalRecords)
	}
	return nil
}

// CanUndo reports whether the undo window is currently open for this execution.
// It is a pure read predicate; the undo manager performs the authoritative checks.
func (e *Execution) CanUndo(now time.Time) bool {
	return e.UndoEnabled &&
		e.Status == ExecutionStatusCompleted &&
		e.UndoneAt == nil &&
		e.UndoExpiresAt != nil && e.UndoExpiresAt.After(now)
}

// UndoTimeRemaining returns the remaining undo window, or zero when closed.
func (e *Execution) UndoTimeRemaining(now time.Time) time.Duration {
	if !e.CanUndo(now) {
		return 0
	}
	return e.UndoExpiresAt.Sub(now)
}

// Batch is one bounded chunk of an Execution's target records, processed as a unit.
type Batch struct {
	ID             string
	ExecutionID    string
	Sequence       int
	RecordIDs      StringList
	Size           int
	Status         BatchStatus
	ProcessedCount int
	FailedCount    int
	ErrorDetail    string
	Attempt        int
	CreateTime     time.Time
	StartTime      *time.Time
	EndTime        *time.Time
	LastUpdated    time.Time
}

// NewBatch creates a new Batch for the given execution and chunk of record IDs.
func NewBatch(executionID string, sequence int, recordIDs []string) *Batch {
	now := time.Now()
	return &Batch{
		ID:          NewID(),
		ExecutionID: executionID,
		Sequence:    sequence,
		RecordIDs:   StringList(recordIDs),
		Size:        len(recordIDs),
		Status:      BatchStatusPending,
		CreateTime:  now,
		LastUpdated: now,
	}
}

// isValidBatchTransition checks if the state transition for Batch is valid.
func isValidBatchTransition(current, next BatchStatus) bool {
	switch current {
	case BatchStatusPending:
		return next == BatchStatusProcessing || next == BatchStatusCancelled || next == BatchStatusFailed
	case BatchStatusProcessing:
		// PROCESSING -> PENDING happens when a transient failure re-enqueues the batch.
		return next == BatchStatusCompleted || next == BatchStatusFailed ||
			next == BatchStatusCancelled || next == BatchStatusPending
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusCancelled:
		return false
	default:
		return false
	}
}

// TransitionTo safely transitions the state of the Batch.
func (b *Batch) TransitionTo(newStatus BatchStatus) error {
	if !isValidBatchTransition(b.Status, newStatus) {
		return fmt.Errorf("Batch (ID: %s): invalid state transition: %s -> %s", b.ID, b.Status, newStatus)
	}
	b.Status = newStatus
	b.LastUpdated = time.Now()
	return nil
}

// MarkAsProcessing updates the Batch status to PROCESSING and stamps StartTime.
func (b *Batch) MarkAsProcessing() {
	if err := b.TransitionTo(BatchStatusProcessing); err != nil {
		logger.Warnf("Could not update Batch (ID: %s) status to PROCESSING: %v", b.ID, err)
		b.Status = BatchStatusProcessing
	}
	now := time.Now()
	b.StartTime = &now
	b.LastUpdated = now
	b.Attempt++
}

// MarkAsCompleted updates the Batch status to COMPLETED.
func (b *Batch) MarkAsCompleted() {
	if err := b.TransitionTo(BatchStatusCompleted); err != nil {
		logger.Warnf("Could not update Batch (ID: %s) status to COMPLETED: %v", b.ID, err)
		b.Status = BatchStatusCompleted
	}
	now := time.Now()
	b.EndTime = &now
	b.LastUpdated = now
}

// MarkAsFailed updates the Batch status to FAILED and records the error detail.
func (b *Batch) MarkAsFailed(err error) {
	if terr := b.TransitionTo(BatchStatusFailed); terr != nil {
		logger.Warnf("Could not update Batch (ID: %s) status to FAILED: %v", b.ID, terr)
		b.Status = BatchStatusFailed
	}
	now := time.Now()
	b.EndTime = &now
	b.LastUpdated = now
	if err != nil {
		b.ErrorDetail = exception.ExtractErrorMessage(err)
	}
}

// MarkAsCancelled updates the Batch status to CANCELLED.
func (b *Batch) MarkAsCancelled() {
	if err := b.TransitionTo(BatchStatusCancelled); err != nil {
		logger.Warnf("Could not update Batch (ID: %s) status to CANCELLED: %v", b.ID, err)
		b.Status = BatchStatusCancelled
	}
	now := time.Now()
	b.EndTime = &now
	b.LastUpdated = now
}

// ProgressCheckpoint is a (count, timestamp) sample used to estimate completion rate.
// Checkpoints live in the cache only and are rebuildable from the durable counters;
// they are never authoritative.
type ProgressCheckpoint struct {
	Count     int64     `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}
