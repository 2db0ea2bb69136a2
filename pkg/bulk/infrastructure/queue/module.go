package queue

import (
	"go.uber.org/fx"

	"github.com/tigerroll/marlin/pkg/bulk/core/ports"
)

// Module provides the Redis-backed work queue. It also provides the shared
// Redis client consumed by the cache package.
var Module = fx.Options(
	fx.Provide(
		NewRedisClient,
		fx.Annotate(
			NewRedisWorkQueue,
			fx.As(new(ports.WorkQueue)),
		),
	),
)
