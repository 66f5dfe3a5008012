package consistency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/emergent-company/tether/domain/relationships"
	"github.com/emergent-company/tether/internal/config"
	"github.com/emergent-company/tether/internal/jobs"
	"github.com/emergent-company/tether/pkg/logger"
)

// RepairTable holds pairs whose dual write could not be verified.
const RepairTable = "relationship_repairs"

// Repair is one queued pair. OwnerID/TargetID name the edge that needs the
// write; Intent is the status it should end up in.
type Repair struct {
	bun.BaseModel `bun:"table:relationship_repairs,alias:rr"`

	ID           string               `bun:"id,pk" json:"id"`
	OwnerID      string               `bun:"owner_id,notnull" json:"ownerId"`
	TargetID     string               `bun:"target_id,notnull" json:"targetId"`
	Intent       relationships.Status `bun:"intent,notnull" json:"intent"`
	Reason       string               `bun:"reason,notnull" json:"reason"`
	Status       jobs.JobStatus       `bun:"status,notnull" json:"status"`
	AttemptCount int                  `bun:"attempt_count,notnull" json:"attemptCount"`
	LastError    *string              `bun:"last_error" json:"lastError,omitempty"`
	ScheduledAt  *time.Time           `bun:"scheduled_at" json:"scheduledAt,omitempty"`
	StartedAt    *time.Time           `bun:"started_at" json:"startedAt,omitempty"`
	CreatedAt    time.Time            `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt    time.Time            `bun:"updated_at,notnull" json:"updatedAt"`
	CompletedAt  *time.Time           `bun:"completed_at" json:"completedAt,omitempty"`
}

// RepairQueue persists repairs and exposes them to a jobs.Worker.
type RepairQueue struct {
	db   bun.IDB
	jobs *jobs.Queue
	log  *slog.Logger
	now  func() time.Time
}

// NewRepairQueue creates the repair queue over relationship_repairs.
func NewRepairQueue(db bun.IDB, cfg *config.Config, log *slog.Logger) *RepairQueue {
	log = log.With(logger.Scope("consistency.queue"))
	return &RepairQueue{
		db: db,
		jobs: jobs.NewQueue(db, jobs.QueueConfig{
			TableName:   RepairTable,
			MaxAttempts: cfg.Audit.MaxRepairTries,
		}, log),
		log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
}

var _ relationships.RepairReporter = (*RepairQueue)(nil)

// ReportRepair queues a pair. A pair that already has a pending or
// processing row with the same intent is not queued twice.
func (q *RepairQueue) ReportRepair(ctx context.Context, ownerID, targetID string, intent relationships.Status, reason string) error {
	now := q.now()
	r := &Repair{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		TargetID:  targetID,
		Intent:    intent,
		Reason:    reason,
		Status:    jobs.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	res, err := q.db.NewInsert().
		Model(r).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("enqueue repair: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		q.log.Debug("repair already queued",
			slog.String("owner_id", ownerID),
			slog.String("target_id", targetID),
			slog.String("intent", string(intent)))
		return nil
	}
	repairsQueuedTotal.WithLabelValues(string(intent)).Inc()
	q.log.Info("repair queued",
		slog.String("repair_id", r.ID),
		slog.String("owner_id", ownerID),
		slog.String("target_id", targetID),
		slog.String("intent", string(intent)))
	return nil
}

// Get returns the repair or nil when it does not exist.
func (q *RepairQueue) Get(ctx context.Context, id string) (*Repair, error) {
	r := new(Repair)
	err := q.db.NewSelect().Model(r).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get repair: %w", err)
	}
	return r, nil
}

// List returns repairs in the given status, oldest first.
func (q *RepairQueue) List(ctx context.Context, status jobs.JobStatus, limit int) ([]*Repair, error) {
	var out []*Repair
	sq := q.db.NewSelect().Model(&out).OrderExpr("created_at ASC")
	if status != "" {
		sq = sq.Where("status = ?", status)
	}
	if limit > 0 {
		sq = sq.Limit(limit)
	}
	if err := sq.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("list repairs: %w", err)
	}
	return out, nil
}

// Attempts reports how many attempts a repair already used.
func (q *RepairQueue) Attempts(ctx context.Context, id string) (int, error) {
	r, err := q.Get(ctx, id)
	if err != nil || r == nil {
		return 0, err
	}
	return r.AttemptCount, nil
}

// Stats returns counts per queue status.
func (q *RepairQueue) Stats(ctx context.Context) (*jobs.Stats, error) {
	return q.jobs.GetStats(ctx)
}

// Jobs exposes the underlying queue for workers.
func (q *RepairQueue) Jobs() *jobs.Queue {
	return q.jobs
}
