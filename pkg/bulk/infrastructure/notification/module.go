package notification

import (
	"go.uber.org/fx"

	"github.com/tigerroll/marlin/pkg/bulk/core/ports"
)

// Module provides notification-related components.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewLogNotifier,
		fx.As(new(ports.Notifier)),
	)),
)
