package main

import (
	_ "embed"

	"go.uber.org/fx"

	application "github.com/tigerroll/marlin/pkg/bulk/application"
	action "github.com/tigerroll/marlin/pkg/bulk/core/action"
	config "github.com/tigerroll/marlin/pkg/bulk/core/config"
	engine "github.com/tigerroll/marlin/pkg/bulk/engine"
	archive "github.com/tigerroll/marlin/pkg/bulk/infrastructure/archive"
	auth "github.com/tigerroll/marlin/pkg/bulk/infrastructure/auth"
	cache "github.com/tigerroll/marlin/pkg/bulk/infrastructure/cache"
	infraMetrics "github.com/tigerroll/marlin/pkg/bulk/infrastructure/metrics"
	notification "github.com/tigerroll/marlin/pkg/bulk/infrastructure/notification"
	queue "github.com/tigerroll/marlin/pkg/bulk/infrastructure/queue"
	gormrepo "github.com/tigerroll/marlin/pkg/bulk/infrastructure/repository/gorm"
	gormstore "github.com/tigerroll/marlin/pkg/bulk/infrastructure/target/gormstore"
	logger "github.com/tigerroll/marlin/pkg/bulk/support/util/logger"

	// Registered database dialects.
	_ "github.com/tigerroll/marlin/pkg/bulk/infrastructure/repository/gorm/mysql"
	_ "github.com/tigerroll/marlin/pkg/bulk/infrastructure/repository/gorm/postgres"
	_ "github.com/tigerroll/marlin/pkg/bulk/infrastructure/repository/gorm/sqlite"
)

// embeddedConfig embeds the content of the application's YAML configuration file.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// logStartup reports the assembled engine once the container is built. Taking
// *application.Service here also forces its construction so the full dependency
// graph is validated at startup rather than on first use.
func logStartup(svc *application.Service, registry *action.Registry, cfg *config.Config) {
	logger.Infof("Marlin bulk engine assembled. Actions: %v, workers: %d",
		registry.Names(), cfg.Marlin.Engine.WorkerCount)
	_ = svc
}

// main assembles and runs the bulk engine daemon. It serves the worker pool and
// the scheduler until SIGINT or SIGTERM.
func main() {
	app := fx.New(
		fx.Supply(config.EmbeddedConfig(embeddedConfig)),

		logger.Module,
		config.Module,
		action.Module,

		gormrepo.Module,
		gormstore.Module,
		queue.Module,
		cache.Module,
		infraMetrics.Module,
		archive.Module,
		notification.Module,
		auth.Module,

		engine.Module,
		application.Module,

		fx.Invoke(logStartup),
	)

	app.Run()

	if err := app.Err(); err != nil {
		logger.Fatalf("Application run failed: %v", err)
	}
}
