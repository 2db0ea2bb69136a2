// Package action provides the name-keyed registry of mutation strategies
// applied by bulk executions. A handler encapsulates one mutation (delete,
// update, restore, archive, purge or a custom operation), declares which fields
// must be captured before mutating, and names the inverse operation used by undo.
package action

import (
	"context"
	"fmt"
	"sync"

	adapter "github.com/tigerroll/marlin/pkg/bulk/core/adapter"
	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/support/util/exception"
)

// Handler is one named mutation strategy.
type Handler interface {
	// Name returns the registry key of this handler.
	Name() string
	// Execute applies the mutation to a single record.
	Execute(ctx context.Context, store adapter.RecordStore, entityType, recordID string, params model.ActionParams) error
	// DeclareUndoFields returns the field names to capture before mutating.
	// A nil return captures the full record.
	DeclareUndoFields(params model.ActionParams) []string
	// UndoOperationType names the inverse operation used to reverse this mutation.
	UndoOperationType() model.UndoOperation
}

// ParamValidator is implemented by handlers whose parameters require
// submission-time validation. Validation failures reject the spec synchronously.
type ParamValidator interface {
	ValidateParams(params model.ActionParams) error
}

// Registry is an injected, name-keyed collection of handlers. It is safe for
// concurrent use; registration normally happens at wiring time.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates a Registry pre-populated with the built-in handlers.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	for _, h := range builtinHandlers() {
		r.handlers[h.Name()] = h
	}
	return r
}

// Register adds a handler to the registry. Registering a duplicate name replaces
// the previous handler, which allows applications to override built-ins.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name()] = h
}

// Resolve looks up a handler by name. An unknown name is a spec error.
func (r *Registry) Resolve(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, exception.NewBulkError("action", fmt.Sprintf("unknown action %q", name), exception.ErrSpecInvalid, false, false)
	}
	return h, nil
}

// Validate resolves the handler and runs its parameter validation when present.
func (r *Registry) Validate(name string, params model.ActionParams) error {
	h, err := r.Resolve(name)
	if err != nil {
		return err
	}
	if v, ok := h.(ParamValidator); ok {
		return v.ValidateParams(params)
	}
	return nil
}

// Names returns the registered handler names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
