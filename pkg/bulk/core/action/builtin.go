package action

import (
	"context"

	"github.com/mitchellh/mapstructure"

	adapter "github.com/tigerroll/marlin/pkg/bulk/core/adapter"
	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/support/util/exception"
)

// Built-in action names.
const (
	ActionDelete  = "delete"
	ActionUpdate  = "update"
	ActionRestore = "restore"
	ActionArchive = "archive"
	ActionPurge   = "purge"
)

func builtinHandlers() []Handler {
	return []Handler{
		&deleteHandler{},
		&updateHandler{},
		&restoreHandler{},
		&archiveHandler{},
		&purgeHandler{},
	}
}

// deleteHandler soft-deletes records. Undo reinstates them.
type deleteHandler struct{}

func (h *deleteHandler) Name() string { return ActionDelete }

func (h *deleteHandler) Execute(ctx context.Context, store adapter.RecordStore, entityType, recordID string, _ model.ActionParams) error {
	return store.SoftDelete(ctx, entityType, recordID)
}

// DeclareUndoFields returns nil: reinstating needs no captured values, the
// snapshot exists only to record that the deletion happened.
func (h *deleteHandler) DeclareUndoFields(_ model.ActionParams) []string { return []string{} }

func (h *deleteHandler) UndoOperationType() model.UndoOperation { return model.UndoOpReinstate }

// updateParams is the decoded shape of the update action's parameters.
type updateParams struct {
	Fields map[string]interface{} `mapstructure:"fields"`
}

// updateHandler patches the given fields. Undo reverts them to captured values.
type updateHandler struct{}

func (h *updateHandler) Name() string { return ActionUpdate }

func (h *updateHandler) decode(params model.ActionParams) (updateParams, error) {
	var p updateParams
	if err := mapstructure.Decode(params.Params, &p); err != nil {
		return p, exception.NewBulkError("action", "failed to decode update parameters", err, false, false)
	}
	return p, nil
}

func (h *updateHandler) ValidateParams(params model.ActionParams) error {
	p, err := h.decode(params)
	if err != nil {
		return err
	}
	if len(p.Fields) == 0 {
		return exception.NewBulkError("action", "update action requires a non-empty 'fields' map", exception.ErrSpecInvalid, false, false)
	}
	return nil
}

func (h *updateHandler) Execute(ctx context.Context, store adapter.RecordStore, entityType, recordID string, params model.ActionParams) error {
	p, err := h.decode(params)
	if err != nil {
		return err
	}
	return store.UpdateFields(ctx, entityType, recordID, p.Fields)
}

// DeclareUndoFields captures only the fields being overwritten, keeping
// snapshot growth proportional to the patch, not the record.
func (h *updateHandler) DeclareUndoFields(params model.ActionParams) []string {
	p, err := h.decode(params)
	if err != nil {
		return nil
	}
	fields := make([]string, 0, len(p.Fields))
	for name := range p.Fields {
		fields = append(fields, name)
	}
	return fields
}

func (h *updateHandler) UndoOperationType() model.UndoOperation { return model.UndoOpRevertFields }

// restoreHandler reinstates soft-deleted records. Undo deletes them again.
type restoreHandler struct{}

func (h *restoreHandler) Name() string { return ActionRestore }

func (h *restoreHandler) Execute(ctx context.Context, store adapter.RecordStore, entityType, recordID string, _ model.ActionParams) error {
	return store.Restore(ctx, entityType, recordID)
}

func (h *restoreHandler) DeclareUndoFields(_ model.ActionParams) []string { return []string{} }

func (h *restoreHandler) UndoOperationType() model.UndoOperation { return model.UndoOpDeleteAgain }

// archiveParams is the decoded shape of the archive action's parameters.
type archiveParams struct {
	// Unarchive inverts the direction: clear the archived marker instead of setting it.
	Unarchive bool `mapstructure:"unarchive"`
}

// archiveHandler sets (or clears) the archived marker. Undo reverts the marker field.
type archiveHandler struct{}

func (h *archiveHandler) Name() string { return ActionArchive }

func (h *archiveHandler) Execute(ctx context.Context, store adapter.RecordStore, entityType, recordID string, params model.ActionParams) error {
	var p archiveParams
	if err := mapstructure.Decode(params.Params, &p); err != nil {
		return exception.NewBulkError("action", "failed to decode archive parameters", err, false, false)
	}
	if p.Unarchive {
		return store.Unarchive(ctx, entityType, recordID)
	}
	return store.Archive(ctx, entityType, recordID)
}

func (h *archiveHandler) DeclareUndoFields(_ model.ActionParams) []string {
	return []string{"archived_at"}
}

func (h *archiveHandler) UndoOperationType() model.UndoOperation { return model.UndoOpRevertFields }

// purgeHandler permanently destroys records. Undo recreates them from the full
// captured field map.
type purgeHandler struct{}

func (h *purgeHandler) Name() string { return ActionPurge }

func (h *purgeHandler) Execute(ctx context.Context, store adapter.RecordStore, entityType, recordID string, _ model.ActionParams) error {
	return store.Destroy(ctx, entityType, recordID)
}

// DeclareUndoFields returns nil to capture the complete record; recreation
// needs every column.
func (h *purgeHandler) DeclareUndoFields(_ model.ActionParams) []string { return nil }

func (h *purgeHandler) UndoOperationType() model.UndoOperation { return model.UndoOpRecreate }

// Verify interfaces
var (
	_ Handler        = (*deleteHandler)(nil)
	_ Handler        = (*updateHandler)(nil)
	_ ParamValidator = (*updateHandler)(nil)
	_ Handler        = (*restoreHandler)(nil)
	_ Handler        = (*archiveHandler)(nil)
	_ Handler        = (*purgeHandler)(nil)
)
