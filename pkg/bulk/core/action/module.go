package action

import (
	"go.uber.org/fx"
)

// Module provides the action handler registry pre-populated with built-ins.
// Applications register custom handlers through fx.Invoke against *Registry.
var Module = fx.Options(
	fx.Provide(NewRegistry),
)
