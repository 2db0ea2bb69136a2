// Package adapter declares the persistence-facing interfaces through which the
// engine reads and mutates target records. The engine itself never issues SQL
// against target tables; it goes through a TargetSource for resolution and a
// RecordStore for mutation primitives.
package adapter

import (
	"context"

	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
)

// Record is the field map of one target record.
type Record map[string]interface{}

// TargetIterator streams record identifiers in stable order, one bounded chunk
// at a time, so resolution runs in memory proportional to the chunk size
// regardless of total match count. Next returns io.EOF after the last chunk.
type TargetIterator interface {
	Next(ctx context.Context) ([]string, error)
	Close() error
}

// TargetSource resolves a filter spec against one entity type.
type TargetSource interface {
	// Count returns the number of records matching the filter.
	Count(ctx context.Context, entityType string, filter model.TargetFilter) (int64, error)
	// Stream returns a lazy, stable-ordered identifier sequence in chunks of chunkSize.
	Stream(ctx context.Context, entityType string, filter model.TargetFilter, chunkSize int) (TargetIterator, error)
	// Sample returns up to limit matching identifiers for preview.
	Sample(ctx context.Context, entityType string, filter model.TargetFilter, limit int) ([]string, error)
}

// RecordStore provides the mutation primitives action handlers are built from.
// All operations are single-record; batch transactionality is owned by the worker.
type RecordStore interface {
	// Fetch loads a record's fields. Fields whose names are listed are loaded;
	// a nil list loads all columns.
	Fetch(ctx context.Context, entityType, id string, fields []string) (Record, error)
	// UpdateFields patches the given fields of one record.
	UpdateFields(ctx context.Context, entityType, id string, fields map[string]interface{}) error
	// SoftDelete marks one record deleted without removing the row.
	SoftDelete(ctx context.Context, entityType, id string) error
	// Restore reinstates a soft-deleted record.
	Restore(ctx context.Context, entityType, id string) error
	// Archive marks one record archived.
	Archive(ctx context.Context, entityType, id string) error
	// Unarchive clears the archived marker of one record.
	Unarchive(ctx context.Context, entityType, id string) error
	// Destroy permanently removes the row.
	Destroy(ctx context.Context, entityType, id string) error
	// Recreate reinserts a destroyed record from its full captured field map.
	Recreate(ctx context.Context, entityType, id string, fields map[string]interface{}) error
}
