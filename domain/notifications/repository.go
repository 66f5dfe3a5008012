package notifications

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/emergent-company/tether/pkg/apperror"
	"github.com/emergent-company/tether/pkg/logger"
)

// Repository handles database operations for notifications
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new notifications repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("notifications.repo")),
	}
}

// Create inserts a notification
func (r *Repository) Create(ctx context.Context, n *Notification) error {
	if _, err := r.db.NewInsert().Model(n).Exec(ctx); err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// GetStats counts a user's notifications in one grouped query.
func (r *Repository) GetStats(ctx context.Context, userID string) (*NotificationStats, error) {
	var rows []struct {
		Event string `bun:"event"`
		Read  bool   `bun:"read"`
		Count int64  `bun:"cnt"`
	}
	err := r.db.NewSelect().
		Model((*Notification)(nil)).
		Column("event", "read").
		ColumnExpr("COUNT(*) AS cnt").
		Where("user_id = ?", userID).
		Group("event", "read").
		Scan(ctx, &rows)
	if err != nil {
		r.log.Error("failed to count notifications", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	stats := &NotificationStats{UnreadByEvent: map[string]int64{}}
	for _, row := range rows {
		stats.Total += row.Count
		if !row.Read {
			stats.Unread += row.Count
			stats.UnreadByEvent[row.Event] += row.Count
		}
	}
	return stats, nil
}

// List returns a user's notifications, newest first
func (r *Repository) List(ctx context.Context, userID string, params ListParams) ([]Notification, error) {
	var out []Notification
	q := r.db.NewSelect().
		Model(&out).
		Where("user_id = ?", userID)

	if params.Event != "" {
		q = q.Where("event = ?", params.Event)
	}
	if params.UnreadOnly {
		q = q.Where("read = ?", false)
	}
	limit := params.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q = q.OrderExpr("created_at DESC").Limit(limit)

	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		r.log.Error("failed to list notifications", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	if out == nil {
		out = []Notification{}
	}
	return out, nil
}

// MarkRead marks a notification as read
func (r *Repository) MarkRead(ctx context.Context, userID, notificationID string) error {
	res, err := r.db.NewUpdate().
		Model((*Notification)(nil)).
		Set("read = ?", true).
		Where("id = ?", notificationID).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to mark notification read", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return apperror.ErrNotFound.WithMessage("Notification not found")
	}
	return nil
}

// MarkAllRead marks all notifications as read for a user
func (r *Repository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.NewUpdate().
		Model((*Notification)(nil)).
		Set("read = ?", true).
		Where("user_id = ?", userID).
		Where("read = ?", false).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to mark all notifications read", logger.Error(err))
		return 0, apperror.ErrDatabase.WithInternal(err)
	}

	rows, _ := res.RowsAffected()
	return rows, nil
}

// DeleteReadBefore removes read notifications created before cutoff
func (r *Repository) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*Notification)(nil)).
		Where("read = ?", true).
		Where("created_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, apperror.ErrDatabase.WithInternal(err)
	}
	rows, _ := res.RowsAffected()
	return rows, nil
}
