package users

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/emergent-company/tether/pkg/apperror"
	"github.com/emergent-company/tether/pkg/logger"
)

// Service is the user directory: it resolves identifiers to users and
// serves profile data for relationship snapshots.
type Service struct {
	repo *Repository
	log  *slog.Logger
}

// NewService creates a new users service
func NewService(repo *Repository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With(logger.Scope("users.svc")),
	}
}

// GetByID returns ErrUserNotFound for unknown or deleted users.
func (s *Service) GetByID(ctx context.Context, id string) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperror.ErrUserNotFound
	}
	return u, nil
}

// Resolve maps one normalized identifier (id, +E164 phone, email or
// @handle) to a user.
func (s *Service) Resolve(ctx context.Context, identifier string) (*User, error) {
	found, err := s.ResolveMany(ctx, []string{identifier})
	if err != nil {
		return nil, err
	}
	u, ok := found[identifier]
	if !ok {
		return nil, apperror.ErrUserNotFound
	}
	return u, nil
}

// ResolveMany resolves normalized identifiers in one query per identifier
// kind. Unmatched identifiers are absent from the result.
func (s *Service) ResolveMany(ctx context.Context, identifiers []string) (map[string]*User, error) {
	byKind := make(map[Kind]map[string][]string)
	for _, id := range identifiers {
		kind, key := Classify(id)
		if kind == KindEmail {
			key = strings.ToLower(key)
		}
		if byKind[kind] == nil {
			byKind[kind] = make(map[string][]string)
		}
		byKind[kind][key] = append(byKind[kind][key], id)
	}

	out := make(map[string]*User, len(identifiers))
	for kind, keys := range byKind {
		list := make([]string, 0, len(keys))
		for k := range keys {
			list = append(list, k)
		}
		users, err := s.repo.FindBy(ctx, kind, list)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			for _, key := range matchKeys(kind, u) {
				for _, original := range keys[key] {
					out[original] = u
				}
			}
		}
	}
	return out, nil
}

func matchKeys(kind Kind, u *User) []string {
	switch kind {
	case KindPhone:
		if u.PhoneE164 != nil {
			return []string{*u.PhoneE164}
		}
	case KindEmail:
		if u.Email != nil {
			return []string{strings.ToLower(*u.Email)}
		}
	case KindHandle:
		if u.Handle != nil {
			return []string{*u.Handle}
		}
	default:
		return []string{u.ID}
	}
	return nil
}

// UpsertProfile registers or updates the profile of userID.
func (s *Service) UpsertProfile(ctx context.Context, userID string, req UpsertProfileRequest) (*User, error) {
	now := time.Now().UTC()
	u := &User{
		ID:          userID,
		DisplayName: strings.TrimSpace(req.DisplayName),
		ImageURL:    req.Image,
		Handle:      optional(strings.ToLower(req.Handle)),
		PhoneE164:   optional(req.Phone),
		Email:       optional(strings.ToLower(req.Email)),
		Presence:    req.Presence,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if u.Presence == "" {
		u.Presence = "offline"
	}
	if err := s.repo.Upsert(ctx, u); err != nil {
		return nil, err
	}
	s.log.Debug("profile saved", slog.String("user_id", userID))
	return u, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
