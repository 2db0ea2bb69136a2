// Package memstore implements the target-side adapter interfaces on in-memory
// maps, used by tests and local experiments.
package memstore

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tigerroll/marlin/pkg/bulk/core/adapter"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
)

const (
	softDeleteField = "deleted_at"
	archiveField    = "archived_at"
)

// MemTargetStore is both a TargetSource and a RecordStore over per-entity-type
// record maps.
type MemTargetStore struct {
	mu      sync.RWMutex
	records map[string]map[string]adapter.Record
}

// NewMemTargetStore creates an empty store.
func NewMemTargetStore() *MemTargetStore {
	return &MemTargetStore{records: make(map[string]map[string]adapter.Record)}
}

// Seed inserts a record, replacing any existing one with the same ID.
func (s *MemTargetStore) Seed(entityType, id string, fields adapter.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records[entityType] == nil {
		s.records[entityType] = make(map[string]adapter.Record)
	}
	cloned := make(adapter.Record, len(fields)+1)
	for k, v := range fields {
		cloned[k] = v
	}
	cloned["id"] = id
	s.records[entityType][id] = cloned
}

// --- TargetSource implementation ---

// Count returns the number of records matching the filter.
func (s *MemTargetStore) Count(ctx context.Context, entityType string, filter model.TargetFilter) (int64, error) {
	ids, err := s.matchingIDs(entityType, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

// Stream returns the matching IDs in stable order, one chunk at a time.
func (s *MemTargetStore) Stream(ctx context.Context, entityType string, filter model.TargetFilter, chunkSize int) (adapter.TargetIterator, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	ids, err := s.matchingIDs(entityType, filter)
	if err != nil {
		return nil, err
	}
	return &sliceIterator{ids: ids, chunkSize: chunkSize}, nil
}

// Sample returns up to limit matching identifiers.
func (s *MemTargetStore) Sample(ctx context.Context, entityType string, filter model.TargetFilter, limit int) ([]string, error) {
	ids, err := s.matchingIDs(entityType, filter)
	if err != nil {
		return nil, err
	}
	if limit >= 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *MemTargetStore) matchingIDs(entityType string, filter model.TargetFilter) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table := s.records[entityType]
	var ids []string
	switch filter.Mode {
	case model.FilterModeIDs:
		for _, id := range filter.IDs {
			if _, ok := table[id]; ok {
				ids = append(ids, id)
			}
		}
	case model.FilterModeQuery:
		for id, record := range table {
			ok, err := matches(record, filter.Predicates)
			if err != nil {
				return nil, err
			}
			if ok {
				ids = append(ids, id)
			}
		}
	case model.FilterModeAll:
		for id := range table {
			ids = append(ids, id)
		}
	default:
		return nil, fmt.Errorf("unknown filter mode: %q", filter.Mode)
	}
	sort.Strings(ids)
	return ids, nil
}

func matches(record adapter.Record, predicates []model.Predicate) (bool, error) {
	for _, p := range predicates {
		value, present := record[p.Field]
		switch p.Operator {
		case model.OpEq:
			if !present || fmt.Sprint(value) != fmt.Sprint(p.Values[0]) {
				return false, nil
			}
		case model.OpLt:
			if !present || compare(value, p.Values[0]) >= 0 {
				return false, nil
			}
		case model.OpGt:
			if !present || compare(value, p.Values[0]) <= 0 {
				return false, nil
			}
		case model.OpIn:
			if !present || !contains(p.Values, value) {
				return false, nil
			}
		case model.OpNotIn:
			if present && contains(p.Values, value) {
				return false, nil
			}
		case model.OpBetween:
			if !present || compare(value, p.Values[0]) < 0 || compare(value, p.Values[1]) > 0 {
				return false, nil
			}
		case model.OpIsNull:
			if present && value != nil {
				return false, nil
			}
		case model.OpIsNotNull:
			if !present || value == nil {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unknown predicate operator: %q", p.Operator)
		}
	}
	return true, nil
}

// compare orders two field values numerically when both parse as numbers,
// falling back to string comparison otherwise.
func compare(a, b interface{}) int {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func contains(values []interface{}, value interface{}) bool {
	for _, v := range values {
		if fmt.Sprint(v) == fmt.Sprint(value) {
			return true
		}
	}
	return false
}

type sliceIterator struct {
	ids       []string
	chunkSize int
	offset    int
}

func (it *sliceIterator) Next(ctx context.Context) ([]string, error) {
	if it.offset >= len(it.ids) {
		return nil, io.EOF
	}
	end := it.offset + it.chunkSize
	if end > len(it.ids) {
		end = len(it.ids)
	}
	chunk := it.ids[it.offset:end]
	it.offset = end
	return chunk, nil
}

func (it *sliceIterator) Close() error {
	it.offset = len(it.ids)
	return nil
}

// --- RecordStore implementation ---

// Fetch loads a record's fields; a nil field list loads all of them.
func (s *MemTargetStore) Fetch(ctx context.Context, entityType, id string, fields []string) (adapter.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, err := s.lookup(entityType, id)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		cloned := make(adapter.Record, len(record))
		for k, v := range record {
			cloned[k] = v
		}
		return cloned, nil
	}
	selected := make(adapter.Record, len(fields))
	for _, f := range fields {
		if v, ok := record[f]; ok {
			selected[f] = v
		}
	}
	return selected, nil
}

// UpdateFields patches the given fields of one record.
func (s *MemTargetStore) UpdateFields(ctx context.Context, entityType, id string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.lookup(entityType, id)
	if err != nil {
		return err
	}
	for k, v := range fields {
		record[k] = v
	}
	return nil
}

// SoftDelete marks one record deleted.
func (s *MemTargetStore) SoftDelete(ctx context.Context, entityType, id string) error {
	return s.UpdateFields(ctx, entityType, id, map[string]interface{}{softDeleteField: time.Now()})
}

// Restore reinstates a soft-deleted record.
func (s *MemTargetStore) Restore(ctx context.Context, entityType, id string) error {
	return s.UpdateFields(ctx, entityType, id, map[string]interface{}{softDeleteField: nil})
}

// Archive marks one record archived.
func (s *MemTargetStore) Archive(ctx context.Context, entityType, id string) error {
	return s.UpdateFields(ctx, entityType, id, map[string]interface{}{archiveField: time.Now()})
}

// Unarchive clears the archived marker.
func (s *MemTargetStore) Unarchive(ctx context.Context, entityType, id string) error {
	return s.UpdateFields(ctx, entityType, id, map[string]interface{}{archiveField: nil})
}

// Destroy permanently removes the record.
func (s *MemTargetStore) Destroy(ctx context.Context, entityType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookup(entityType, id); err != nil {
		return err
	}
	delete(s.records[entityType], id)
	return nil
}

// Recreate reinserts a destroyed record from its captured field map.
func (s *MemTargetStore) Recreate(ctx context.Context, entityType, id string, fields map[string]interface{}) error {
	s.Seed(entityType, id, adapter.Record(fields))
	return nil
}

func (s *MemTargetStore) lookup(entityType, id string) (adapter.Record, error) {
	record, ok := s.records[entityType][id]
	if !ok {
		return nil, fmt.Errorf("record '%s' of entity type '%s' not found", id, entityType)
	}
	return record, nil
}

// Verify interfaces
var (
	_ adapter.TargetSource = (*MemTargetStore)(nil)
	_ adapter.RecordStore  = (*MemTargetStore)(nil)
)
