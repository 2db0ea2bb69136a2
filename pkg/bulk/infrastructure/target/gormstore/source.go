package gormstore

import (
	"context"
	"fmt"
	"io"

	"gorm.io/gorm"

	"github.com/tigerroll/marlin/pkg/bulk/core/adapter"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
)

// GormTargetSource resolves target filters against the target database.
type GormTargetSource struct {
	db *gorm.DB
}

// NewGormTargetSource creates a new GormTargetSource.
func NewGormTargetSource(db *gorm.DB) *GormTargetSource {
	return &GormTargetSource{db: db}
}

// Count returns the number of records matching the filter.
func (s *GormTargetSource) Count(ctx context.Context, entityType string, filter model.TargetFilter) (int64, error) {
	query, err := s.baseQuery(ctx, entityType, filter)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count '%s' targets: %w", entityType, err)
	}
	return count, nil
}

// Stream returns a keyset-paginated iterator over the matching record IDs in
// ascending ID order. Each Next call issues one bounded query, so memory use
// is proportional to chunkSize, not to the match count.
func (s *GormTargetSource) Stream(ctx context.Context, entityType string, filter model.TargetFilter, chunkSize int) (adapter.TargetIterator, error) {
	mapping, err := MappingFor(entityType)
	if err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	return &keysetIterator{
		source:     s,
		entityType: entityType,
		filter:     filter,
		idColumn:   mapping.IDColumn,
		chunkSize:  chunkSize,
	}, nil
}

// Sample returns up to limit matching identifiers.
func (s *GormTargetSource) Sample(ctx context.Context, entityType string, filter model.TargetFilter, limit int) ([]string, error) {
	mapping, err := MappingFor(entityType)
	if err != nil {
		return nil, err
	}
	query, err := s.baseQuery(ctx, entityType, filter)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := query.Order(mapping.IDColumn + " ASC").Limit(limit).Pluck(mapping.IDColumn, &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to sample '%s' targets: %w", entityType, err)
	}
	return ids, nil
}

// baseQuery builds the filtered table query shared by Count, Stream and Sample.
func (s *GormTargetSource) baseQuery(ctx context.Context, entityType string, filter model.TargetFilter) (*gorm.DB, error) {
	mapping, err := MappingFor(entityType)
	if err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).Table(mapping.Table)

	switch filter.Mode {
	case model.FilterModeIDs:
		query = query.Where(mapping.IDColumn+" IN ?", []string(filter.IDs))
	case model.FilterModeQuery:
		for _, p := range filter.Predicates {
			query, err = applyPredicate(query, p)
			if err != nil {
				return nil, err
			}
		}
	case model.FilterModeAll:
		// No constraint.
	default:
		return nil, fmt.Errorf("unknown filter mode: %q", filter.Mode)
	}
	return query, nil
}

func applyPredicate(query *gorm.DB, p model.Predicate) (*gorm.DB, error) {
	if err := safeIdentifier(p.Field); err != nil {
		return nil, err
	}
	switch p.Operator {
	case model.OpEq:
		return query.Where(p.Field+" = ?", p.Values[0]), nil
	case model.OpLt:
		return query.Where(p.Field+" < ?", p.Values[0]), nil
	case model.OpGt:
		return query.Where(p.Field+" > ?", p.Values[0]), nil
	case model.OpIn:
		return query.Where(p.Field+" IN ?", p.Values), nil
	case model.OpNotIn:
		return query.Where(p.Field+" NOT IN ?", p.Values), nil
	case model.OpBetween:
		return query.Where(p.Field+" BETWEEN ? AND ?", p.Values[0], p.Values[1]), nil
	case model.OpIsNull:
		return query.Where(p.Field + " IS NULL"), nil
	case model.OpIsNotNull:
		return query.Where(p.Field + " IS NOT NULL"), nil
	default:
		return nil, fmt.Errorf("unknown predicate operator: %q", p.Operator)
	}
}

// keysetIterator pages through matching IDs with an id > last cursor.
type keysetIterator struct {
	source     *GormTargetSource
	entityType string
	filter     model.TargetFilter
	idColumn   string
	chunkSize  int
	lastID     string
	started    bool
	done       bool
}

// Next returns the next chunk of record IDs, or io.EOF after the last chunk.
func (it *keysetIterator) Next(ctx context.Context) ([]string, error) {
	if it.done {
		return nil, io.EOF
	}
	query, err := it.source.baseQuery(ctx, it.entityType, it.filter)
	if err != nil {
		return nil, err
	}
	if it.started {
		query = query.Where(it.idColumn+" > ?", it.lastID)
	}
	var ids []string
	if err := query.Order(it.idColumn + " ASC").Limit(it.chunkSize).Pluck(it.idColumn, &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to stream '%s' targets: %w", it.entityType, err)
	}
	if len(ids) == 0 {
		it.done = true
		return nil, io.EOF
	}
	it.started = true
	it.lastID = ids[len(ids)-1]
	if len(ids) < it.chunkSize {
		it.done = true
	}
	return ids, nil
}

// Close implements adapter.TargetIterator.
func (it *keysetIterator) Close() error {
	it.done = true
	return nil
}

// Verify interfaces
var (
	_ adapter.TargetSource   = (*GormTargetSource)(nil)
	_ adapter.TargetIterator = (*keysetIterator)(nil)
)
