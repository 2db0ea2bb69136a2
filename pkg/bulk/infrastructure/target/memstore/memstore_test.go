package memstore_test

import (
	"context"
	"io"
	"testing"

	adapter "github.com/tigerroll/marlin/pkg/bulk/core/adapter"
	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/infrastructure/target/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedOrders(s *memstore.MemTargetStore, n int) {
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		s.Seed("orders", id, adapter.Record{"status": "stale", "region": "eu"})
	}
}

func TestMemTargetStore_CountAndSample(t *testing.T) {
	ctx := context.Background()
	s := memstore.NewMemTargetStore()
	s.Seed("orders", "o1", adapter.Record{"status": "stale"})
	s.Seed("orders", "o2", adapter.Record{"status": "fresh"})
	s.Seed("orders", "o3", adapter.Record{"status": "stale"})

	total, err := s.Count(ctx, "orders", model.NewAllFilter())
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	total, err = s.Count(ctx, "orders", model.NewQueryFilter(
		model.Predicate{Field: "status", Operator: model.OpEq, Values: []interface{}{"stale"}},
	))
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	// IDs mode counts only records that exist.
	total, err = s.Count(ctx, "orders", model.NewIDFilter("o1", "missing"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	sample, err := s.Sample(ctx, "orders", model.NewAllFilter(), 2)
	require.NoError(t, err)
	assert.Len(t, sample, 2)
}

func TestMemTargetStore_QueryOperators(t *testing.T) {
	ctx := context.Background()
	s := memstore.NewMemTargetStore()
	s.Seed("users", "u1", adapter.Record{"tier": "bronze", "deleted_at": nil})
	s.Seed("users", "u2", adapter.Record{"tier": "gold"})
	s.Seed("users", "u3", adapter.Record{"tier": "silver"})

	count := func(p model.Predicate) int64 {
		n, err := s.Count(ctx, "users", model.NewQueryFilter(p))
		require.NoError(t, err)
		return n
	}

	assert.Equal(t, int64(2), count(model.Predicate{Field: "tier", Operator: model.OpIn, Values: []interface{}{"gold", "silver"}}))
	assert.Equal(t, int64(1), count(model.Predicate{Field: "tier", Operator: model.OpNotIn, Values: []interface{}{"gold", "silver"}}))
	// u1 carries an explicit null, u2/u3 have no such field at all.
	assert.Equal(t, int64(3), count(model.Predicate{Field: "deleted_at", Operator: model.OpIsNull}))
	assert.Equal(t, int64(0), count(model.Predicate{Field: "deleted_at", Operator: model.OpIsNotNull}))
	assert.Equal(t, int64(2), count(model.Predicate{Field: "tier", Operator: model.OpBetween, Values: []interface{}{"a", "gold"}}))
}

func TestMemTargetStore_NumericOrderingOperators(t *testing.T) {
	ctx := context.Background()
	s := memstore.NewMemTargetStore()
	s.Seed("users", "u1", adapter.Record{"age": 9})
	s.Seed("users", "u2", adapter.Record{"age": 10})
	s.Seed("users", "u3", adapter.Record{"age": 11})

	count := func(p model.Predicate) int64 {
		n, err := s.Count(ctx, "users", model.NewQueryFilter(p))
		require.NoError(t, err)
		return n
	}

	// "10" sorts before "9" lexicographically; numeric values must not.
	assert.Equal(t, int64(2), count(model.Predicate{Field: "age", Operator: model.OpGt, Values: []interface{}{9}}))
	assert.Equal(t, int64(1), count(model.Predicate{Field: "age", Operator: model.OpLt, Values: []interface{}{10}}))
	assert.Equal(t, int64(2), count(model.Predicate{Field: "age", Operator: model.OpBetween, Values: []interface{}{9, 10}}))

	// Numeric strings compare by value as well.
	assert.Equal(t, int64(2), count(model.Predicate{Field: "age", Operator: model.OpGt, Values: []interface{}{"9"}}))
}

func TestMemTargetStore_StreamChunks(t *testing.T) {
	ctx := context.Background()
	s := memstore.NewMemTargetStore()
	seedOrders(s, 7)

	it, err := s.Stream(ctx, "orders", model.NewAllFilter(), 3)
	require.NoError(t, err)
	defer it.Close()

	var chunks [][]string
	for {
		chunk, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}

	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 3)
	assert.Len(t, chunks[1], 3)
	// The last chunk carries the remainder.
	assert.Len(t, chunks[2], 1)

	_, err = s.Stream(ctx, "orders", model.NewAllFilter(), 0)
	assert.Error(t, err)
}

func TestMemTargetStore_RecordLifecycle(t *testing.T) {
	ctx := context.Background()
	s := memstore.NewMemTargetStore()
	s.Seed("orders", "o1", adapter.Record{"status": "stale", "amount": 12})

	// Partial fetch selects only the requested fields.
	rec, err := s.Fetch(ctx, "orders", "o1", []string{"status"})
	require.NoError(t, err)
	assert.Equal(t, adapter.Record{"status": "stale"}, rec)

	require.NoError(t, s.SoftDelete(ctx, "orders", "o1"))
	rec, err = s.Fetch(ctx, "orders", "o1", nil)
	require.NoError(t, err)
	assert.NotNil(t, rec["deleted_at"])

	require.NoError(t, s.Restore(ctx, "orders", "o1"))
	rec, _ = s.Fetch(ctx, "orders", "o1", nil)
	assert.Nil(t, rec["deleted_at"])

	require.NoError(t, s.UpdateFields(ctx, "orders", "o1", map[string]interface{}{"status": "done"}))
	rec, _ = s.Fetch(ctx, "orders", "o1", nil)
	assert.Equal(t, "done", rec["status"])

	// Destroy then recreate from the captured map.
	captured, err := s.Fetch(ctx, "orders", "o1", nil)
	require.NoError(t, err)
	require.NoError(t, s.Destroy(ctx, "orders", "o1"))
	_, err = s.Fetch(ctx, "orders", "o1", nil)
	assert.Error(t, err)

	require.NoError(t, s.Recreate(ctx, "orders", "o1", captured))
	rec, err = s.Fetch(ctx, "orders", "o1", nil)
	require.NoError(t, err)
	assert.Equal(t, "done", rec["status"])
}
