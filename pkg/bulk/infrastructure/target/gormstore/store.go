package gormstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tigerroll/marlin/pkg/bulk/core/adapter"
)

// GormRecordStore applies the mutation primitives against the target database.
type GormRecordStore struct {
	db *gorm.DB
}

// NewGormRecordStore creates a new GormRecordStore.
func NewGormRecordStore(db *gorm.DB) *GormRecordStore {
	return &GormRecordStore{db: db}
}

// Fetch loads a record's fields; a nil field list loads all columns.
func (s *GormRecordStore) Fetch(ctx context.Context, entityType, id string, fields []string) (adapter.Record, error) {
	mapping, err := MappingFor(entityType)
	if err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).Table(mapping.Table).Where(mapping.IDColumn+" = ?", id)
	if fields != nil {
		for _, f := range fields {
			if err := safeIdentifier(f); err != nil {
				return nil, err
			}
		}
		columns := append([]string{mapping.IDColumn}, fields...)
		query = query.Select(columns)
	}

	record := map[string]interface{}{}
	result := query.Take(&record)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("record '%s' of entity type '%s' not found", id, entityType)
		}
		return nil, fmt.Errorf("failed to fetch record '%s': %w", id, result.Error)
	}
	return adapter.Record(record), nil
}

// UpdateFields patches the given fields of one record.
func (s *GormRecordStore) UpdateFields(ctx context.Context, entityType, id string, fields map[string]interface{}) error {
	mapping, err := MappingFor(entityType)
	if err != nil {
		return err
	}
	for name := range fields {
		if err := safeIdentifier(name); err != nil {
			return err
		}
	}
	return s.applyUpdate(ctx, mapping, id, fields)
}

// SoftDelete marks one record deleted without removing the row.
func (s *GormRecordStore) SoftDelete(ctx context.Context, entityType, id string) error {
	mapping, err := MappingFor(entityType)
	if err != nil {
		return err
	}
	return s.applyUpdate(ctx, mapping, id, map[string]interface{}{mapping.SoftDeleteColumn: time.Now()})
}

// Restore reinstates a soft-deleted record.
func (s *GormRecordStore) Restore(ctx context.Context, entityType, id string) error {
	mapping, err := MappingFor(entityType)
	if err != nil {
		return err
	}
	return s.applyUpdate(ctx, mapping, id, map[string]interface{}{mapping.SoftDeleteColumn: nil})
}

// Archive marks one record archived.
func (s *GormRecordStore) Archive(ctx context.Context, entityType, id string) error {
	mapping, err := MappingFor(entityType)
	if err != nil {
		return err
	}
	return s.applyUpdate(ctx, mapping, id, map[string]interface{}{mapping.ArchiveColumn: time.Now()})
}

// Unarchive clears the archived marker of one record.
func (s *GormRecordStore) Unarchive(ctx context.Context, entityType, id string) error {
	mapping, err := MappingFor(entityType)
	if err != nil {
		return err
	}
	return s.applyUpdate(ctx, mapping, id, map[string]interface{}{mapping.ArchiveColumn: nil})
}

// Destroy permanently removes the row.
func (s *GormRecordStore) Destroy(ctx context.Context, entityType, id string) error {
	mapping, err := MappingFor(entityType)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Table(mapping.Table).Where(mapping.IDColumn+" = ?", id).Delete(nil)
	if result.Error != nil {
		return fmt.Errorf("failed to destroy record '%s': %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("record '%s' of entity type '%s' not found", id, entityType)
	}
	return nil
}

// Recreate reinserts a destroyed record from its full captured field map.
func (s *GormRecordStore) Recreate(ctx context.Context, entityType, id string, fields map[string]interface{}) error {
	mapping, err := MappingFor(entityType)
	if err != nil {
		return err
	}
	for name := range fields {
		if err := safeIdentifier(name); err != nil {
			return err
		}
	}
	row := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		row[k] = v
	}
	row[mapping.IDColumn] = id
	if err := s.db.WithContext(ctx).Table(mapping.Table).Create(row).Error; err != nil {
		return fmt.Errorf("failed to recreate record '%s': %w", id, err)
	}
	return nil
}

func (s *GormRecordStore) applyUpdate(ctx context.Context, mapping EntityMapping, id string, fields map[string]interface{}) error {
	result := s.db.WithContext(ctx).Table(mapping.Table).Where(mapping.IDColumn+" = ?", id).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update record '%s': %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("record '%s' in table '%s' not found", id, mapping.Table)
	}
	return nil
}

// Verify interfaces
var _ adapter.RecordStore = (*GormRecordStore)(nil)
