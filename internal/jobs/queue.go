// Package jobs provides a table-backed job queue and a polling worker.
//
// A queue table needs the columns id, status, attempt_count, last_error,
// scheduled_at, started_at, created_at, updated_at and completed_at. The
// queue provides:
//   - Claiming with FOR UPDATE SKIP LOCKED on PostgreSQL, and a
//     transactional claim on single-writer databases (sqlite)
//   - Exponential backoff for retries
//   - Permanent failure after MaxAttempts
//   - Stale job recovery
//   - Queue statistics
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// JobStatus represents the state of a job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// QueueConfig contains configuration for a job queue
type QueueConfig struct {
	// TableName is the queue table (e.g., "relationship_repairs")
	TableName string
	// MaxAttempts is the maximum number of attempts (0 = unlimited)
	MaxAttempts int
	// BaseRetryDelay is multiplied by attempt^2 between retries (default: 30s)
	BaseRetryDelay time.Duration
	// MaxRetryDelay caps the retry delay (default: 1h)
	MaxRetryDelay time.Duration
	// BatchSize is the default number of jobs to dequeue at once (default: 10)
	BatchSize int
}

// DefaultQueueConfig returns a QueueConfig with sensible defaults
func DefaultQueueConfig(tableName string) QueueConfig {
	return QueueConfig{
		TableName:      tableName,
		MaxAttempts:    0, // unlimited
		BaseRetryDelay: 30 * time.Second,
		MaxRetryDelay:  time.Hour,
		BatchSize:      10,
	}
}

// Queue provides job state transitions over one table.
type Queue struct {
	db     bun.IDB
	config QueueConfig
	log    *slog.Logger
	now    func() time.Time
}

// NewQueue creates a new job queue with the given configuration
func NewQueue(db bun.IDB, config QueueConfig, log *slog.Logger) *Queue {
	defaults := DefaultQueueConfig(config.TableName)
	if config.BaseRetryDelay <= 0 {
		config.BaseRetryDelay = defaults.BaseRetryDelay
	}
	if config.MaxRetryDelay <= 0 {
		config.MaxRetryDelay = defaults.MaxRetryDelay
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}

	return &Queue{
		db:     db,
		config: config,
		log:    log.With(slog.String("queue", config.TableName)),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Config returns the effective configuration.
func (q *Queue) Config() QueueConfig {
	return q.config
}

// Dequeue atomically claims due pending jobs and returns their ids, oldest
// first.
//
// On PostgreSQL concurrent workers are kept apart with:
//
//	WITH cte AS (
//	  SELECT id FROM table
//	  WHERE status='pending' AND (scheduled_at IS NULL OR scheduled_at <= $now)
//	  ORDER BY created_at
//	  FOR UPDATE SKIP LOCKED
//	  LIMIT $1
//	)
//	UPDATE table SET status='processing', started_at=$now
//	FROM cte WHERE table.id = cte.id
//	RETURNING id
func (q *Queue) Dequeue(ctx context.Context, batchSize int) ([]string, error) {
	if batchSize <= 0 {
		batchSize = q.config.BatchSize
	}
	now := q.now()

	if q.db.Dialect().Name() == dialect.PG {
		var ids []string
		_, err := q.db.NewRaw(`
			WITH cte AS (
				SELECT id FROM ?
				WHERE status = ? AND (scheduled_at IS NULL OR scheduled_at <= ?)
				ORDER BY created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT ?
			)
			UPDATE ? j
			SET status = ?, started_at = ?, updated_at = ?
			FROM cte WHERE j.id = cte.id
			RETURNING j.id`,
			bun.Ident(q.config.TableName), StatusPending, now, batchSize,
			bun.Ident(q.config.TableName), StatusProcessing, now, now,
		).Exec(ctx, &ids)
		if err != nil {
			return nil, fmt.Errorf("dequeue failed: %w", err)
		}
		return ids, nil
	}

	var ids []string
	err := q.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Table(q.config.TableName).
			Column("id").
			Where("status = ?", StatusPending).
			WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
				return sq.Where("scheduled_at IS NULL").WhereOr("scheduled_at <= ?", now)
			}).
			OrderExpr("created_at ASC").
			Limit(batchSize).
			Scan(ctx, &ids)
		if err != nil || len(ids) == 0 {
			return err
		}
		_, err = tx.NewUpdate().
			Table(q.config.TableName).
			Set("status = ?", StatusProcessing).
			Set("started_at = ?", now).
			Set("updated_at = ?", now).
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("dequeue failed: %w", err)
	}
	return ids, nil
}

// MarkCompleted marks a job as completed
func (q *Queue) MarkCompleted(ctx context.Context, id string) error {
	now := q.now()
	_, err := q.db.NewUpdate().
		Table(q.config.TableName).
		Set("status = ?", StatusCompleted).
		Set("completed_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark completed failed: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt. The job is rescheduled with
// exponential backoff, or marked failed for good once MaxAttempts is reached.
// It reports whether the failure was permanent.
func (q *Queue) MarkFailed(ctx context.Context, id string, attemptCount int, errMsg string) (bool, error) {
	attempt := attemptCount + 1
	now := q.now()

	upd := q.db.NewUpdate().
		Table(q.config.TableName).
		Set("attempt_count = ?", attempt).
		Set("last_error = ?", truncateError(errMsg)).
		Set("updated_at = ?", now).
		Where("id = ?", id)

	if q.config.MaxAttempts > 0 && attempt >= q.config.MaxAttempts {
		if _, err := upd.Set("status = ?", StatusFailed).Exec(ctx); err != nil {
			return false, fmt.Errorf("mark failed (permanent) failed: %w", err)
		}
		q.log.Warn("job permanently failed after max attempts",
			slog.String("job_id", id),
			slog.Int("attempts", attempt),
			slog.String("error", errMsg))
		return true, nil
	}

	delay := q.retryDelay(attempt)
	_, err := upd.
		Set("status = ?", StatusPending).
		Set("started_at = NULL").
		Set("scheduled_at = ?", now.Add(delay)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("mark failed (retry) failed: %w", err)
	}

	q.log.Debug("job scheduled for retry",
		slog.String("job_id", id),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay))
	return false, nil
}

// retryDelay is BaseRetryDelay * attempt^2, capped at MaxRetryDelay.
func (q *Queue) retryDelay(attempt int) time.Duration {
	delay := q.config.BaseRetryDelay * time.Duration(attempt*attempt)
	if delay > q.config.MaxRetryDelay || delay <= 0 {
		return q.config.MaxRetryDelay
	}
	return delay
}

// RecoverStaleJobs returns jobs stuck in 'processing' for longer than
// threshold to 'pending'. This happens when the process stops mid-batch.
func (q *Queue) RecoverStaleJobs(ctx context.Context, threshold time.Duration) (int, error) {
	if threshold <= 0 {
		threshold = 10 * time.Minute
	}
	now := q.now()

	res, err := q.db.NewUpdate().
		Table(q.config.TableName).
		Set("status = ?", StatusPending).
		Set("started_at = NULL").
		Set("scheduled_at = ?", now).
		Set("updated_at = ?", now).
		Where("status = ?", StatusProcessing).
		Where("started_at < ?", now.Add(-threshold)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs failed: %w", err)
	}

	count, _ := res.RowsAffected()
	if count > 0 {
		q.log.Warn("recovered stale jobs",
			slog.Int64("count", count),
			slog.Duration("threshold", threshold))
	}
	return int(count), nil
}

// Stats represents queue statistics
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// GetStats returns queue statistics
func (q *Queue) GetStats(ctx context.Context) (*Stats, error) {
	var rows []struct {
		Status JobStatus `bun:"status"`
		N      int64     `bun:"n"`
	}
	err := q.db.NewSelect().
		Table(q.config.TableName).
		Column("status").
		ColumnExpr("COUNT(*) AS n").
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("get stats failed: %w", err)
	}

	stats := &Stats{}
	for _, r := range rows {
		switch r.Status {
		case StatusPending:
			stats.Pending = r.N
		case StatusProcessing:
			stats.Processing = r.N
		case StatusCompleted:
			stats.Completed = r.N
		case StatusFailed:
			stats.Failed = r.N
		}
	}
	return stats, nil
}

// truncateError truncates an error message to 500 characters
func truncateError(msg string) string {
	if len(msg) > 500 {
		return msg[:500]
	}
	return msg
}
