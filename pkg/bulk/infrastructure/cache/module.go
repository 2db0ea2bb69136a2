package cache

import (
	"go.uber.org/fx"

	"github.com/tigerroll/marlin/pkg/bulk/core/ports"
)

// Module provides the Redis-backed cache. The *redis.Client is provided by the
// queue module so both share one connection pool.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewRedisCache,
		fx.As(new(ports.Cache)),
	)),
)
