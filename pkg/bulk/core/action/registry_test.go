package action_test

import (
	"context"
	"errors"
	"sort"
	"testing"

	adapter "github.com/tigerroll/marlin/pkg/bulk/core/adapter"
	action "github.com/tigerroll/marlin/pkg/bulk/core/action"
	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/support/util/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// anonymizeHandler is a custom handler used to test registration and override.
type anonymizeHandler struct{}

func (h *anonymizeHandler) Name() string { return "anonymize" }
func (h *anonymizeHandler) Execute(ctx context.Context, store adapter.RecordStore, entityType, recordID string, _ model.ActionParams) error {
	return store.UpdateFields(ctx, entityType, recordID, map[string]interface{}{"email": ""})
}
func (h *anonymizeHandler) DeclareUndoFields(_ model.ActionParams) []string { return []string{"email"} }
func (h *anonymizeHandler) UndoOperationType() model.UndoOperation          { return model.UndoOpRevertFields }

func TestNewRegistry_Builtins(t *testing.T) {
	r := action.NewRegistry()

	names := r.Names()
	sort.Strings(names)
	assert.Equal(t, []string{"archive", "delete", "purge", "restore", "update"}, names)

	h, err := r.Resolve(action.ActionDelete)
	require.NoError(t, err)
	assert.Equal(t, model.UndoOpReinstate, h.UndoOperationType())

	h, err = r.Resolve(action.ActionPurge)
	require.NoError(t, err)
	assert.Equal(t, model.UndoOpRecreate, h.UndoOperationType())
	// Purge captures the full record for recreation.
	assert.Nil(t, h.DeclareUndoFields(model.NewActionParams()))
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := action.NewRegistry()
	_, err := r.Resolve("explode")
	assert.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrSpecInvalid))
}

func TestRegistry_RegisterCustom(t *testing.T) {
	r := action.NewRegistry()
	r.Register(&anonymizeHandler{})

	h, err := r.Resolve("anonymize")
	require.NoError(t, err)
	assert.Equal(t, []string{"email"}, h.DeclareUndoFields(model.NewActionParams()))
}

func TestRegistry_ValidateUpdateParams(t *testing.T) {
	r := action.NewRegistry()

	// Missing fields map is rejected.
	err := r.Validate(action.ActionUpdate, model.NewActionParams())
	assert.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrSpecInvalid))

	// A non-empty fields map passes.
	params := model.NewActionParams()
	params.Put("fields", map[string]interface{}{"status": "archived"})
	assert.NoError(t, r.Validate(action.ActionUpdate, params))

	// Handlers without a validator accept anything.
	assert.NoError(t, r.Validate(action.ActionDelete, model.NewActionParams()))
}

func TestUpdateHandler_DeclaresPatchedFields(t *testing.T) {
	r := action.NewRegistry()
	h, err := r.Resolve(action.ActionUpdate)
	require.NoError(t, err)

	params := model.NewActionParams()
	params.Put("fields", map[string]interface{}{"status": "x", "tier": "gold"})

	fields := h.DeclareUndoFields(params)
	sort.Strings(fields)
	assert.Equal(t, []string{"status", "tier"}, fields)
	assert.Equal(t, model.UndoOpRevertFields, h.UndoOperationType())
}
