package consistency

import (
	"context"

	"go.uber.org/fx"

	"github.com/emergent-company/tether/domain/relationships"
	"github.com/emergent-company/tether/internal/config"
)

// Module provides the repair queue, the auditor, the report archive and the
// admin routes
var Module = fx.Module("consistency",
	fx.Provide(
		NewRepairQueue,
		func(q *RepairQueue) relationships.RepairReporter { return q },
		NewAuditor,
		NewArchive,
		NewHandler,
	),
	fx.Invoke(
		RegisterRoutes,
		RegisterWorkerLifecycle,
	),
)

// RegisterWorkerLifecycle runs the repair worker alongside the scheduler.
func RegisterWorkerLifecycle(lc fx.Lifecycle, a *Auditor, cfg *config.Config) {
	if !cfg.Scheduler.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return a.Worker().Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return a.Worker().Stop(ctx)
		},
	})
}
