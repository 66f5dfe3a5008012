package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/emergent-company/tether/domain/consistency"
	"github.com/emergent-company/tether/domain/notifications"
	"github.com/emergent-company/tether/domain/relationships"
	"github.com/emergent-company/tether/internal/jobs"
	"github.com/emergent-company/tether/pkg/logger"
)

// AuditTask runs the relationship consistency audit and archives reports
// that have findings.
type AuditTask struct {
	auditor *consistency.Auditor
	archive *consistency.Archive
	opts    consistency.Options
	log     *slog.Logger
}

// NewAuditTask creates a new audit task. archive may be nil.
func NewAuditTask(auditor *consistency.Auditor, archive *consistency.Archive, opts consistency.Options, log *slog.Logger) *AuditTask {
	return &AuditTask{
		auditor: auditor,
		archive: archive,
		opts:    opts,
		log:     log.With(logger.Scope("scheduler.relationship_audit")),
	}
}

// Run executes one audit
func (t *AuditTask) Run(ctx context.Context) error {
	rep, err := t.auditor.Run(ctx, t.opts)
	if err != nil {
		return err
	}
	if len(rep.Findings) > 0 {
		t.log.Warn("audit found inconsistencies",
			slog.Int("findings", len(rep.Findings)),
			slog.Int("applied", rep.Applied()),
			slog.Int("skipped", rep.Skipped()))
		// The audit itself succeeded; a failed upload is only logged.
		if _, err := t.archive.Save(ctx, rep); err != nil {
			t.log.Error("failed to archive audit report", logger.Error(err))
		}
	}
	return nil
}

// RepairRecoveryTask requeues repairs abandoned in processing, e.g. after
// a crash mid-batch.
type RepairRecoveryTask struct {
	queue      *jobs.Queue
	staleAfter time.Duration
	log        *slog.Logger
}

// NewRepairRecoveryTask creates a new repair recovery task
func NewRepairRecoveryTask(queue *jobs.Queue, staleAfter time.Duration, log *slog.Logger) *RepairRecoveryTask {
	return &RepairRecoveryTask{
		queue:      queue,
		staleAfter: staleAfter,
		log:        log.With(logger.Scope("scheduler.repair_recovery")),
	}
}

// Run executes the recovery
func (t *RepairRecoveryTask) Run(ctx context.Context) error {
	start := time.Now()
	n, err := t.queue.RecoverStaleJobs(ctx, t.staleAfter)
	if err != nil {
		return err
	}
	t.log.Debug("repair recovery completed",
		slog.Int("recovered", n),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// NotificationCleanupTask purges read notifications past retention.
type NotificationCleanupTask struct {
	svc       *notifications.Service
	retention time.Duration
	log       *slog.Logger
}

// NewNotificationCleanupTask creates a new notification cleanup task
func NewNotificationCleanupTask(svc *notifications.Service, retention time.Duration, log *slog.Logger) *NotificationCleanupTask {
	return &NotificationCleanupTask{
		svc:       svc,
		retention: retention,
		log:       log.With(logger.Scope("scheduler.notification_cleanup")),
	}
}

// Run executes the cleanup
func (t *NotificationCleanupTask) Run(ctx context.Context) error {
	n, err := t.svc.Purge(ctx, t.retention)
	if err != nil {
		return err
	}
	if n > 0 {
		t.log.Info("purged read notifications", slog.Int64("count", n))
	}
	return nil
}

// LimiterSweepTask drops friend-request rate limit buckets of idle senders.
type LimiterSweepTask struct {
	limiter *relationships.RateLimiter
	log     *slog.Logger
}

// NewLimiterSweepTask creates a new rate limiter sweep task
func NewLimiterSweepTask(limiter *relationships.RateLimiter, log *slog.Logger) *LimiterSweepTask {
	return &LimiterSweepTask{
		limiter: limiter,
		log:     log.With(logger.Scope("scheduler.request_limiter_sweep")),
	}
}

// Run executes the sweep
func (t *LimiterSweepTask) Run(context.Context) error {
	if n := t.limiter.Sweep(); n > 0 {
		t.log.Debug("dropped idle rate limit buckets",
			slog.Int("dropped", n),
			slog.Int("remaining", t.limiter.Len()))
	}
	return nil
}
