package users

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"

	"github.com/uptrace/bun"

	"github.com/emergent-company/tether/internal/database"
	"github.com/emergent-company/tether/pkg/apperror"
	"github.com/emergent-company/tether/pkg/logger"
)

// Repository handles database operations for users
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new users repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("users.repo")),
	}
}

// GetByID returns nil when the user does not exist or was deleted.
func (r *Repository) GetByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := r.db.NewSelect().
		Model(&u).
		Where("id = ?", id).
		Where("deleted_at IS NULL").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found, not an error
		}
		r.log.Error("failed to get user", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return &u, nil
}

// FindBy returns live users whose column matches one of the keys.
// Emails compare case-insensitively.
func (r *Repository) FindBy(ctx context.Context, kind Kind, keys []string) ([]*User, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	var users []*User
	q := r.db.NewSelect().Model(&users).Where("deleted_at IS NULL")
	switch kind {
	case KindPhone:
		q = q.Where("phone_e164 IN (?)", bun.In(keys))
	case KindEmail:
		lowered := make([]string, len(keys))
		for i, k := range keys {
			lowered[i] = strings.ToLower(k)
		}
		q = q.Where("lower(email) IN (?)", bun.In(lowered))
	case KindHandle:
		q = q.Where("handle IN (?)", bun.In(keys))
	default:
		q = q.Where("id IN (?)", bun.In(keys))
	}

	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		r.log.Error("failed to find users", slog.String("kind", string(kind)), logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return users, nil
}

// Upsert creates the user or overwrites its profile fields.
func (r *Repository) Upsert(ctx context.Context, u *User) error {
	_, err := r.db.NewInsert().
		Model(u).
		On("CONFLICT (id) DO UPDATE").
		Set("display_name = EXCLUDED.display_name").
		Set("image_url = EXCLUDED.image_url").
		Set("handle = EXCLUDED.handle").
		Set("phone_e164 = EXCLUDED.phone_e164").
		Set("email = EXCLUDED.email").
		Set("presence = EXCLUDED.presence").
		Set("updated_at = EXCLUDED.updated_at").
		Set("deleted_at = NULL").
		Exec(ctx)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperror.ErrConflict.WithMessage("handle is already taken").WithInternal(err)
		}
		r.log.Error("failed to upsert user", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}
