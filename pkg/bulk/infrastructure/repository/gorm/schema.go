package gorm

import (
	"time"

	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
)

// ExecutionEntity is a schema model used for persistence.
type ExecutionEntity struct {
	ID               string `gorm:"primaryKey"`
	EntityType       string
	Filter           model.TargetFilter
	Action           string
	Params           model.ActionParams
	BatchSize        int
	TotalRecords     int64
	ProcessedRecords int64
	FailedRecords    int64
	TotalBatches     int
	Status           model.ExecutionStatus
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

func (ExecutionEntity) TableName() string {
	return "bulk_execution"
}

// BatchEntity is a schema model used for persistence.
type BatchEntity struct {
	ID             string `gorm:"primaryKey"`
	ExecutionID    string
	Sequence       int
	RecordIDs      model.StringList
	Size           int
	Status         model.BatchStatus
	ProcessedCount int
	FailedCount    int
	ErrorDetail    string
	Attempt        int
	CreateTime     time.Time
	StartTime      *time.Time
	EndTime        *time.Time
	LastUpdated    time.Time
}

func (BatchEntity) TableName() string {
	return "bulk_batch"
}

// SnapshotEntity is a schema model used for persistence.
// Fields is stored as an opaque payload; the mapper compresses large captures.
type SnapshotEntity struct {
	ID            string `gorm:"primaryKey"`
	ExecutionID   string
	EntityType    string
	RecordID      string
	Fields        string
	UndoOperation model.UndoOperation
	Undone        bool
	UndoneAt      *time.Time
	UndoneBy      string
	CreateTime    time.Time
}

func (SnapshotEntity) TableName() string {
	return "bulk_snapshot"
}
