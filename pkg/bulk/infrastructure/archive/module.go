package archive

import (
	"context"

	"go.uber.org/fx"

	config "github.com/tigerroll/marlin/pkg/bulk/core/config"
	undo "github.com/tigerroll/marlin/pkg/bulk/engine/undo"
)

// Module is an Fx module that provides the configured SnapshotArchiver.
var Module = fx.Options(
	fx.Provide(func(cfg *config.UndoConfig) (undo.SnapshotArchiver, error) {
		return NewArchiverFromConfig(context.Background(), cfg)
	}),
)
