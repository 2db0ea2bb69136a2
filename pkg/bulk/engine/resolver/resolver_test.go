package resolver_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	adapter "github.com/tigerroll/marlin/pkg/bulk/core/adapter"
	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/engine/resolver"
	"github.com/tigerroll/marlin/pkg/bulk/infrastructure/target/memstore"
	"github.com/tigerroll/marlin/pkg/bulk/support/util/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSeededResolver(t *testing.T, n int) *resolver.Resolver {
	t.Helper()
	store := memstore.NewMemTargetStore()
	for i := 0; i < n; i++ {
		store.Seed("orders", fmt.Sprintf("o-%04d", i), adapter.Record{"status": "stale"})
	}
	return resolver.NewResolver(store)
}

func TestResolver_Resolve(t *testing.T) {
	ctx := context.Background()
	r := newSeededResolver(t, 25)

	res, err := r.Resolve(ctx, "orders", model.NewAllFilter())
	require.NoError(t, err)
	assert.Equal(t, int64(25), res.Total)
	assert.Equal(t, "orders", res.EntityType)
}

func TestResolver_Resolve_ZeroMatchesIsValid(t *testing.T) {
	ctx := context.Background()
	r := newSeededResolver(t, 0)

	res, err := r.Resolve(ctx, "orders", model.NewAllFilter())
	require.NoError(t, err)
	assert.Zero(t, res.Total)
}

func TestResolver_Resolve_Rejections(t *testing.T) {
	ctx := context.Background()
	r := newSeededResolver(t, 1)

	// Empty entity type
	_, err := r.Resolve(ctx, "", model.NewAllFilter())
	assert.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrSpecInvalid))

	// Structurally invalid filter
	_, err = r.Resolve(ctx, "orders", model.TargetFilter{Mode: model.FilterModeIDs})
	assert.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrSpecInvalid))
}

func TestResolution_Stream(t *testing.T) {
	ctx := context.Background()
	r := newSeededResolver(t, 10)

	res, err := r.Resolve(ctx, "orders", model.NewAllFilter())
	require.NoError(t, err)

	it, err := res.Stream(ctx, 4)
	require.NoError(t, err)
	defer it.Close()

	var total int
	for {
		chunk, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		total += len(chunk)
		assert.LessOrEqual(t, len(chunk), 4)
	}
	assert.Equal(t, 10, total)
}

func TestResolver_Preview(t *testing.T) {
	ctx := context.Background()
	r := newSeededResolver(t, 12)

	ids, total, err := r.Preview(ctx, "orders", model.NewAllFilter(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(12), total)
	assert.Len(t, ids, 5)
}
