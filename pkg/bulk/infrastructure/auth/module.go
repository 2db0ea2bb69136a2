package auth

import (
	"go.uber.org/fx"

	"github.com/tigerroll/marlin/pkg/bulk/core/ports"
)

// Module provides the default Authorizer.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewAllowAllAuthorizer,
		fx.As(new(ports.Authorizer)),
	)),
)
