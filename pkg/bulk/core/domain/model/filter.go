package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/tigerroll/marlin/pkg/bulk/support/util/exception"
)

// FilterMode selects how the target set of an execution is described.
type FilterMode string

const (
	// FilterModeIDs targets an explicit set of record identifiers.
	FilterModeIDs FilterMode = "ids"
	// FilterModeQuery targets records matching a predicate list.
	FilterModeQuery FilterMode = "query"
	// FilterModeAll targets every record of the entity type.
	FilterModeAll FilterMode = "all"
)

// PredicateOperator is the comparison operator of one predicate.
type PredicateOperator string

const (
	OpEq        PredicateOperator = "eq"
	OpLt        PredicateOperator = "lt"
	OpGt        PredicateOperator = "gt"
	OpIn        PredicateOperator = "in"
	OpNotIn     PredicateOperator = "notIn"
	OpBetween   PredicateOperator = "between"
	OpIsNull    PredicateOperator = "isNull"
	OpIsNotNull PredicateOperator = "isNotNull"
)

// Predicate is a single field condition of a query-mode filter.
// Values carries zero, one or two operands depending on the operator:
// isNull/isNotNull take none, between takes exactly two, in/notIn take one or
// more, and the scalar comparisons take exactly one.
type Predicate struct {
	Field    string            `json:"field" yaml:"field"`
	Operator PredicateOperator `json:"operator" yaml:"operator"`
	Values   []interface{}     `json:"values,omitempty" yaml:"values,omitempty"`
}

// TargetFilter is the already-expressible description of an execution's target
// set. It is consumed as-is by the target resolver; the engine offers no general
// query language beyond it.
type TargetFilter struct {
	Mode       FilterMode  `json:"mode" yaml:"mode"`
	IDs        []string    `json:"ids,omitempty" yaml:"ids,omitempty"`
	Predicates []Predicate `json:"predicates,omitempty" yaml:"predicates,omitempty"`
}

// NewIDFilter creates a filter targeting the given explicit identifiers.
func NewIDFilter(ids ...string) TargetFilter {
	return TargetFilter{Mode: FilterModeIDs, IDs: ids}
}

// NewQueryFilter creates a filter targeting records matching all given predicates.
func NewQueryFilter(predicates ...Predicate) TargetFilter {
	return TargetFilter{Mode: FilterModeQuery, Predicates: predicates}
}

// NewAllFilter creates a filter targeting every record of the entity type.
func NewAllFilter() TargetFilter {
	return TargetFilter{Mode: FilterModeAll}
}

// Validate checks the structural validity of the filter. An invalid filter is
// rejected synchronously at submission before any execution row is created.
func (f TargetFilter) Validate() error {
	switch f.Mode {
	case FilterModeIDs:
		if len(f.IDs) == 0 {
			return exception.NewBulkError("filter", "ids filter requires at least one identifier", exception.ErrSpecInvalid, false, false)
		}
		for _, id := range f.IDs {
			if id == "" {
				return exception.NewBulkError("filter", "ids filter contains an empty identifier", exception.ErrSpecInvalid, false, false)
			}
		}
	case FilterModeQuery:
		if len(f.Predicates) == 0 {
			return exception.NewBulkError("filter", "query filter requires at least one predicate", exception.ErrSpecInvalid, false, false)
		}
		for i, p := range f.Predicates {
			if err := p.validate(); err != nil {
				return exception.NewBulkError("filter", fmt.Sprintf("predicate %d invalid", i), err, false, false)
			}
		}
	case FilterModeAll:
		// Nothing to check.
	default:
		return exception.NewBulkError("filter", fmt.Sprintf("unknown filter mode: %q", f.Mode), exception.ErrSpecInvalid, false, false)
	}
	return nil
}

// validate checks a single predicate's operator/operand arity.
func (p Predicate) validate() error {
	if p.Field == "" {
		return fmt.Errorf("predicate field must not be empty: %w", exception.ErrSpecInvalid)
	}
	switch p.Operator {
	case OpEq, OpLt, OpGt:
		if len(p.Values) != 1 {
			return fmt.Errorf("operator %s requires exactly one operand, got %d: %w", p.Operator, len(p.Values), exception.ErrSpecInvalid)
		}
	case OpIn, OpNotIn:
		if len(p.Values) == 0 {
			return fmt.Errorf("operator %s requires at least one operand: %w", p.Operator, exception.ErrSpecInvalid)
		}
	case OpBetween:
		if len(p.Values) != 2 {
			return fmt.Errorf("operator %s requires exactly two operands, got %d: %w", p.Operator, len(p.Values), exception.ErrSpecInvalid)
		}
	case OpIsNull, OpIsNotNull:
		if len(p.Values) != 0 {
			return fmt.Errorf("operator %s takes no operands, got %d: %w", p.Operator, len(p.Values), exception.ErrSpecInvalid)
		}
	default:
		return fmt.Errorf("unknown predicate operator: %q: %w", p.Operator, exception.ErrSpecInvalid)
	}
	return nil
}

// Value implements the `driver.Valuer` interface, converting the TargetFilter to a JSON string.
func (f TargetFilter) Value() (driver.Value, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to a TargetFilter.
func (f *TargetFilter) Scan(value interface{}) error {
	if value == nil {
		*f = TargetFilter{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for TargetFilter: %T", value)
	}
	if len(b) == 0 {
		*f = TargetFilter{}
		return nil
	}
	if err := json.Unmarshal(b, f); err != nil {
		return fmt.Errorf("failed to unmarshal TargetFilter JSON: %w", err)
	}
	return nil
}
