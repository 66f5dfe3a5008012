package syshealth

import (
	"context"

	"go.uber.org/fx"

	"github.com/emergent-company/tether/internal/config"
)

// Module provides the system health Monitor and samples while the app runs
// and SYSHEALTH_ENABLED is set.
var Module = fx.Module("syshealth",
	fx.Provide(NewMonitor),
	fx.Invoke(RegisterLifecycle),
)

// RegisterLifecycle starts and stops the monitor with the app.
func RegisterLifecycle(lc fx.Lifecycle, m Monitor, cfg *config.Config) {
	if !cfg.SysHealth.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return m.Start(ctx) },
		OnStop:  func(ctx context.Context) error { return m.Stop(ctx) },
	})
}
