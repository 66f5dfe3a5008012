package relationships

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/emergent-company/tether/internal/database"
	"github.com/emergent-company/tether/pkg/apperror"
	"github.com/emergent-company/tether/pkg/logger"
)

// Store persists directed edges. It holds no business rules: callers keep
// the pair invariants.
type Store interface {
	// Get returns the edge for (ownerID, targetID) regardless of soft
	// deletion, or nil when none exists.
	Get(ctx context.Context, ownerID, targetID string) (*Edge, error)
	// GetByID returns nil when the edge does not exist.
	GetByID(ctx context.Context, id string) (*Edge, error)
	List(ctx context.Context, f Filter) ([]*Edge, error)
	// Upsert inserts e or overwrites the existing row for its pair, reviving
	// removed rows in place. e.ID is replaced with the stored id.
	Upsert(ctx context.Context, e *Edge) error
	// InsertIfAbsent inserts e unless its pair already exists.
	InsertIfAbsent(ctx context.Context, e *Edge) (bool, error)
	// UpdateIf writes e only while the stored status equals expected.
	UpdateIf(ctx context.Context, e *Edge, expected Status) (bool, error)
	UpdateSnapshot(ctx context.Context, e *Edge) error
	// ClearDeviceFlags drops the device flag on the given edges and reports
	// how many rows changed.
	ClearDeviceFlags(ctx context.Context, ids []string, now time.Time) (int, error)
	CountByStatus(ctx context.Context, ownerID string, status Status) (int, error)
	// RunInTx runs fn against a transactional store. Stores without
	// transactions report ErrNoTransactions.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// ErrNoTransactions is returned by stores that cannot run multi-row writes
// atomically.
var ErrNoTransactions = errors.New("relationships: store does not support transactions")

// Filter narrows List. Zero values match everything except soft-deleted rows.
type Filter struct {
	OwnerIDs       []string
	TargetIDs      []string
	Statuses       []Status
	Origins        []Origin
	ExcludeOrigins []Origin
	DeviceContact  *bool
	IncludeDeleted bool
	// AfterID and Limit page through results ordered by id.
	AfterID string
	Limit   int
}

// Repository is the bun implementation of Store.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new edge repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("relationships.repo")),
	}
}

var _ Store = (*Repository)(nil)

// upsertColumns are overwritten when an insert hits an existing pair.
var upsertColumns = []string{
	"status", "origin", "is_device_contact", "cached_snapshot", "request_metadata",
	"is_deleted", "added_at", "accepted_at", "blocked_at", "removed_at",
	"last_device_sync", "updated_at",
}

func (r *Repository) Get(ctx context.Context, ownerID, targetID string) (*Edge, error) {
	var e Edge
	err := r.db.NewSelect().
		Model(&e).
		Where("owner_id = ?", ownerID).
		Where("target_id = ?", targetID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, r.wrap("get edge", err)
	}
	return &e, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Edge, error) {
	var e Edge
	err := r.db.NewSelect().
		Model(&e).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, r.wrap("get edge by id", err)
	}
	return &e, nil
}

func (r *Repository) List(ctx context.Context, f Filter) ([]*Edge, error) {
	var edges []*Edge
	q := r.db.NewSelect().Model(&edges)

	if len(f.OwnerIDs) > 0 {
		q = q.Where("owner_id IN (?)", bun.In(f.OwnerIDs))
	}
	if len(f.TargetIDs) > 0 {
		q = q.Where("target_id IN (?)", bun.In(f.TargetIDs))
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN (?)", bun.In(f.Statuses))
	}
	if len(f.Origins) > 0 {
		q = q.Where("origin IN (?)", bun.In(f.Origins))
	}
	if len(f.ExcludeOrigins) > 0 {
		q = q.Where("origin NOT IN (?)", bun.In(f.ExcludeOrigins))
	}
	if f.DeviceContact != nil {
		q = q.Where("is_device_contact = ?", *f.DeviceContact)
	}
	if !f.IncludeDeleted {
		q = q.Where("is_deleted = ?", false)
	}
	if f.AfterID != "" {
		q = q.Where("id > ?", f.AfterID)
	}
	q = q.OrderExpr("id ASC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, r.wrap("list edges", err)
	}
	return edges, nil
}

func (r *Repository) Upsert(ctx context.Context, e *Edge) error {
	q := r.db.NewInsert().
		Model(e).
		On("CONFLICT (owner_id, target_id) DO UPDATE")
	for _, col := range upsertColumns {
		q = q.Set(col + " = EXCLUDED." + col)
	}
	if _, err := q.Returning("id").Exec(ctx); err != nil {
		return r.wrap("upsert edge", err)
	}
	return nil
}

func (r *Repository) InsertIfAbsent(ctx context.Context, e *Edge) (bool, error) {
	res, err := r.db.NewInsert().
		Model(e).
		On("CONFLICT (owner_id, target_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, r.wrap("insert edge", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, r.wrap("insert edge", err)
	}
	return n > 0, nil
}

func (r *Repository) UpdateIf(ctx context.Context, e *Edge, expected Status) (bool, error) {
	res, err := r.db.NewUpdate().
		Model(e).
		Column(upsertColumns...).
		WherePK().
		Where("status = ?", expected).
		Exec(ctx)
	if err != nil {
		return false, r.wrap("conditional update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, r.wrap("conditional update", err)
	}
	return n > 0, nil
}

func (r *Repository) UpdateSnapshot(ctx context.Context, e *Edge) error {
	_, err := r.db.NewUpdate().
		Model(e).
		Column("cached_snapshot").
		WherePK().
		Exec(ctx)
	if err != nil {
		return r.wrap("update snapshot", err)
	}
	return nil
}

func (r *Repository) ClearDeviceFlags(ctx context.Context, ids []string, now time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.db.NewUpdate().
		Model((*Edge)(nil)).
		Set("is_device_contact = ?", false).
		Set("updated_at = ?", now).
		Where("id IN (?)", bun.In(ids)).
		Where("is_device_contact = ?", true).
		Exec(ctx)
	if err != nil {
		return 0, r.wrap("clear device flags", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, r.wrap("clear device flags", err)
	}
	return int(n), nil
}

func (r *Repository) CountByStatus(ctx context.Context, ownerID string, status Status) (int, error) {
	n, err := r.db.NewSelect().
		Model((*Edge)(nil)).
		Where("owner_id = ?", ownerID).
		Where("status = ?", status).
		Where("is_deleted = ?", false).
		Count(ctx)
	if err != nil {
		return 0, r.wrap("count edges", err)
	}
	return n, nil
}

func (r *Repository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return r.wrap("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &Repository{db: tx, log: r.log}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return r.wrap("commit transaction", err)
	}
	return nil
}

func (r *Repository) wrap(op string, err error) error {
	if database.IsUniqueViolation(err) {
		return apperror.ErrConflict.WithMessage("relationship already exists").WithInternal(err)
	}
	r.log.Error("failed to "+op, logger.Error(err))
	return apperror.ErrDatabase.WithInternal(err)
}
