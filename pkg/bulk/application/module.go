package application

import (
	"go.uber.org/fx"
)

// Module provides the application service facade.
var Module = fx.Options(
	fx.Provide(NewService),
)
