// Package resolver turns a target filter into a concrete, countable set of record IDs.
package resolver

import (
	"context"
	"fmt"

	"github.com/tigerroll/marlin/pkg/bulk/core/adapter"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/support/util/exception"
	logger "github.com/tigerroll/marlin/pkg/bulk/support/util/logger"
)

const moduleName = "resolver"

// Resolution is the outcome of resolving a filter against the target source.
type Resolution struct {
	EntityType string
	Filter     model.TargetFilter
	// Total is the matched record count at resolution time.
	Total  int64
	source adapter.TargetSource
}

// Stream returns an iterator over the matched record IDs in chunks of chunkSize.
func (r *Resolution) Stream(ctx context.Context, chunkSize int) (adapter.TargetIterator, error) {
	return r.source.Stream(ctx, r.EntityType, r.Filter, chunkSize)
}

// Resolver validates filters and resolves them to record ID sets.
type Resolver struct {
	source adapter.TargetSource
}

// NewResolver creates a new Resolver backed by the given target source.
func NewResolver(source adapter.TargetSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve validates the filter and counts the matched records. It does not
// materialize the ID set; callers stream it through the returned Resolution.
// A zero Total is a valid resolution, not an error.
func (r *Resolver) Resolve(ctx context.Context, entityType string, filter model.TargetFilter) (*Resolution, error) {
	if entityType == "" {
		return nil, exception.NewBulkError(moduleName, "entity type must not be empty", exception.ErrSpecInvalid, false, false)
	}
	if err := filter.Validate(); err != nil {
		return nil, exception.NewBulkError(moduleName, fmt.Sprintf("invalid filter for entity type '%s'", entityType), err, false, false)
	}

	total, err := r.source.Count(ctx, entityType, filter)
	if err != nil {
		return nil, exception.NewBulkError(moduleName, fmt.Sprintf("failed to count targets for entity type '%s'", entityType), err, false, true)
	}
	logger.Debugf("Resolved filter for entity type '%s': %d matching records", entityType, total)

	return &Resolution{EntityType: entityType, Filter: filter, Total: total, source: r.source}, nil
}

// Preview returns up to limit matched record IDs together with the full count,
// without creating any execution state.
func (r *Resolver) Preview(ctx context.Context, entityType string, filter model.TargetFilter, limit int) ([]string, int64, error) {
	res, err := r.Resolve(ctx, entityType, filter)
	if err != nil {
		return nil, 0, err
	}
	ids, err := r.source.Sample(ctx, entityType, filter, limit)
	if err != nil {
		return nil, 0, exception.NewBulkError(moduleName, fmt.Sprintf("failed to sample targets for entity type '%s'", entityType), err, false, true)
	}
	return ids, res.Total, nil
}
