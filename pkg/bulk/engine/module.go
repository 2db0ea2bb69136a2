// Package engine aggregates the processing components of the bulk execution
// pipeline: target resolution, batch dispatch, the worker pool, progress
// tracking, undo, admission gating and deferred scheduling.
package engine

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/marlin/pkg/bulk/engine/cancel"
	"github.com/tigerroll/marlin/pkg/bulk/engine/dispatcher"
	"github.com/tigerroll/marlin/pkg/bulk/engine/finalize"
	"github.com/tigerroll/marlin/pkg/bulk/engine/gate"
	"github.com/tigerroll/marlin/pkg/bulk/engine/progress"
	"github.com/tigerroll/marlin/pkg/bulk/engine/resolver"
	"github.com/tigerroll/marlin/pkg/bulk/engine/scheduler"
	"github.com/tigerroll/marlin/pkg/bulk/engine/undo"
	"github.com/tigerroll/marlin/pkg/bulk/engine/worker"
	"github.com/tigerroll/marlin/pkg/bulk/engine/worker/retry"
)

// RegisterLifecycle ties the worker pool and the scheduler to the Fx lifecycle.
func RegisterLifecycle(lc fx.Lifecycle, pool *worker.Pool, sched *scheduler.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pool.Start(ctx)
			sched.Start(ctx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sched.Stop()
			pool.Stop()
			return nil
		},
	})
}

// Module provides every engine component and starts the background loops.
var Module = fx.Options(
	fx.Provide(
		resolver.NewResolver,
		finalize.NewFinalizer,
		dispatcher.NewDispatcher,
		retry.NewPolicyFromConfig,
		progress.NewTracker,
		cancel.NewBroadcaster,
		gate.NewGate,
		undo.NewCapturer,
		undo.NewManager,
		undo.NewPurger,
		worker.NewPool,
		scheduler.NewScheduler,
	),
	fx.Invoke(RegisterLifecycle),
)
