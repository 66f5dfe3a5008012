package scheduler

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/emergent-company/tether/domain/consistency"
	"github.com/emergent-company/tether/domain/notifications"
	"github.com/emergent-company/tether/domain/relationships"
	"github.com/emergent-company/tether/internal/config"
	"github.com/emergent-company/tether/pkg/logger"
)

// Task names
const (
	TaskRelationshipAudit   = "relationship_audit"
	TaskRepairRecovery      = "repair_recovery"
	TaskNotificationCleanup = "notification_cleanup"
	TaskLimiterSweep        = "request_limiter_sweep"
)

// Module provides scheduled task functionality
var Module = fx.Module("scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(
		RegisterTasks,
		RegisterSchedulerLifecycle,
	),
)

// TaskParams contains dependencies for creating scheduled tasks
type TaskParams struct {
	fx.In
	Scheduler     *Scheduler
	Auditor       *consistency.Auditor
	Repairs       *consistency.RepairQueue
	Archive       *consistency.Archive       `optional:"true"`
	Notifications *notifications.Service     `optional:"true"`
	Limiter       *relationships.RateLimiter `optional:"true"`
	Cfg           *config.Config
	Log           *slog.Logger
}

// RegisterTasks registers all scheduled tasks
func RegisterTasks(p TaskParams) error {
	if !p.Cfg.Scheduler.Enabled {
		p.Log.Info("scheduler disabled, skipping task registration")
		return nil
	}

	// The cron expression wins over the interval when both are set.
	audit := NewAuditTask(p.Auditor, p.Archive, consistency.Options{
		DryRun:    p.Cfg.Audit.DryRun,
		BatchSize: p.Cfg.Audit.BatchSize,
	}, p.Log)
	var err error
	if p.Cfg.Scheduler.AuditSchedule != "" {
		err = p.Scheduler.AddCronTask(TaskRelationshipAudit, p.Cfg.Scheduler.AuditSchedule, 30*time.Minute, audit.Run)
	} else {
		err = p.Scheduler.AddIntervalTask(TaskRelationshipAudit, p.Cfg.Scheduler.AuditInterval, 30*time.Minute, audit.Run)
	}
	if err != nil {
		return err
	}

	recovery := NewRepairRecoveryTask(p.Repairs.Jobs(), p.Cfg.Scheduler.RepairStaleAfter, p.Log)
	if err := p.Scheduler.AddIntervalTask(TaskRepairRecovery,
		p.Cfg.Scheduler.RepairRecoveryInterval, time.Minute, recovery.Run); err != nil {
		p.Log.Error("failed to register repair recovery task", logger.Error(err))
	}

	if p.Notifications != nil && p.Cfg.Notifications.Retention > 0 {
		cleanup := NewNotificationCleanupTask(p.Notifications, p.Cfg.Notifications.Retention, p.Log)
		if err := p.Scheduler.AddIntervalTask(TaskNotificationCleanup,
			p.Cfg.Notifications.CleanupInterval, 5*time.Minute, cleanup.Run); err != nil {
			p.Log.Error("failed to register notification cleanup task", logger.Error(err))
		}
	}

	if p.Limiter != nil && p.Cfg.Scheduler.LimiterSweepInterval > 0 {
		sweep := NewLimiterSweepTask(p.Limiter, p.Log)
		if err := p.Scheduler.AddIntervalTask(TaskLimiterSweep,
			p.Cfg.Scheduler.LimiterSweepInterval, time.Minute, sweep.Run); err != nil {
			p.Log.Error("failed to register rate limiter sweep task", logger.Error(err))
		}
	}

	p.Log.Info("registered scheduled tasks",
		slog.Any("tasks", p.Scheduler.ListTasks()))
	return nil
}

// RegisterSchedulerLifecycle registers the scheduler with fx lifecycle
func RegisterSchedulerLifecycle(lc fx.Lifecycle, scheduler *Scheduler, cfg *config.Config) {
	if !cfg.Scheduler.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return scheduler.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return scheduler.Stop(ctx)
		},
	})
}
