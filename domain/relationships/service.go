package relationships

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/emergent-company/tether/domain/users"
	"github.com/emergent-company/tether/internal/config"
	"github.com/emergent-company/tether/pkg/apperror"
	"github.com/emergent-company/tether/pkg/logger"
	"github.com/emergent-company/tether/pkg/tracing"
)

// Notification events emitted by the service.
const (
	EventRequestReceived = "friend_request.received"
	EventRequestAccepted = "friend_request.accepted"
)

// Directory looks up user profiles for snapshots.
type Directory interface {
	GetByID(ctx context.Context, id string) (*users.User, error)
}

// Notifier delivers fire-and-forget notifications. Implementations must not
// block the caller on delivery.
type Notifier interface {
	Notify(ctx context.Context, userID, event string, payload map[string]any)
}

// RepairReporter queues a pair whose dual write could not be verified.
type RepairReporter interface {
	ReportRepair(ctx context.Context, ownerID, targetID string, intent Status, reason string) error
}

// Options tune the service.
type Options struct {
	TransactionalWrites bool
	SnapshotTTL         time.Duration
	MaxMessageLength    int
}

// SendRequestInput carries the caller supplied request metadata.
type SendRequestInput struct {
	Message string
	Origin  Origin
}

// Result is returned by every mutating operation. Warnings carry
// ErrRepairRequired when a reciprocal write was handed to the auditor.
type Result struct {
	Edge         *Edge
	Reciprocal   *Edge
	AutoAccepted bool
	Warnings     []*apperror.Error
}

// FriendRequests lists pending requests involving a user.
type FriendRequests struct {
	Incoming []*Edge
	Outgoing []*Edge
}

// FriendCounts summarises a user's edges.
type FriendCounts struct {
	Visible         int
	Accepted        int
	PendingOutgoing int
	Blocked         int
}

// Service implements the relationship state machine over a Store.
type Service struct {
	store     Store
	resolver  *Resolver
	directory Directory
	notifier  Notifier
	repairs   RepairReporter
	limiter   RequestLimiter
	opts      Options
	now       func() time.Time
	log       *slog.Logger
}

// ServiceParams are the dependencies of NewService.
type ServiceParams struct {
	fx.In

	Store     Store
	Resolver  *Resolver
	Directory Directory
	Notifier  Notifier       `optional:"true"`
	Repairs   RepairReporter `optional:"true"`
	Limiter   RequestLimiter `optional:"true"`
	Config    *config.Config
	Log       *slog.Logger
}

// NewService creates a new relationship service
func NewService(p ServiceParams) *Service {
	s := &Service{
		store:     p.Store,
		resolver:  p.Resolver,
		directory: p.Directory,
		notifier:  p.Notifier,
		repairs:   p.Repairs,
		limiter:   p.Limiter,
		opts: Options{
			TransactionalWrites: p.Config.Relationships.TransactionalWrites,
			SnapshotTTL:         p.Config.Relationships.SnapshotTTL,
			MaxMessageLength:    p.Config.Relationships.MaxMessageLength,
		},
		now: func() time.Time { return time.Now().UTC() },
		log: p.Log.With(logger.Scope("relationships.svc")),
	}
	if s.resolver == nil {
		s.resolver = NewResolver(p.Store)
	}
	if s.limiter == nil {
		s.limiter = unlimited{}
	}
	return s
}

// SendRequest asks targetID to become ownerID's friend. A pending request in
// the opposite direction is accepted instead; a removed edge is revived.
func (s *Service) SendRequest(ctx context.Context, ownerID, targetID string, in SendRequestInput) (res *Result, err error) {
	ctx, span := tracing.Start(ctx, "relationships.send_request", tracing.Pair(ownerID, targetID)...)
	defer func() { s.finish(span, "send_request", err) }()

	if err := validatePair(ownerID, targetID); err != nil {
		return nil, err
	}
	origin := in.Origin
	if origin == "" {
		origin = OriginAppSearch
	}
	if !origin.Valid() || origin == OriginDeviceContact {
		return nil, apperror.NewValidation(fmt.Sprintf("origin %q cannot be used for friend requests", origin))
	}
	if s.opts.MaxMessageLength > 0 && utf8.RuneCountInString(in.Message) > s.opts.MaxMessageLength {
		return nil, apperror.NewValidation(fmt.Sprintf("message exceeds %d characters", s.opts.MaxMessageLength))
	}

	fwd, rev, err := s.pair(ctx, s.store, ownerID, targetID)
	if err != nil {
		return nil, err
	}
	if isBlocked(fwd) || isBlocked(rev) {
		return nil, apperror.NewConflict("relationship is blocked")
	}
	if Visible(fwd, rev) || Visible(rev, fwd) {
		return nil, apperror.NewConflict("users are already friends")
	}
	// A phone-book edge stays a phone-book edge until contact sync drops it.
	if fwd != nil && fwd.Status == StatusAccepted {
		return nil, apperror.NewConflict("relationship already accepted in this direction")
	}

	if rev != nil && rev.Status == StatusPending {
		s.log.Debug("reverse request pending, accepting",
			slog.String("owner_id", ownerID), slog.String("target_id", targetID))
		res, err := s.AcceptRequest(ctx, rev.ID, ownerID)
		if err != nil {
			return nil, err
		}
		res.AutoAccepted = true
		return res, nil
	}
	if fwd != nil && fwd.Status == StatusPending {
		return &Result{Edge: fwd}, nil
	}

	if !s.limiter.Allow(ownerID) {
		return nil, apperror.ErrRateLimited.WithMessage("too many friend requests, try again later")
	}

	target, err := s.directory.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	mutual, err := s.resolver.MutualFriends(ctx, ownerID, targetID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	meta := &RequestMetadata{Message: strings.TrimSpace(in.Message), MutualFriends: mutual, SentAt: now}

	if fwd != nil {
		// Removed edges are reused in place so the pair keeps a single row.
		prev := fwd.Status
		fwd.Status = StatusPending
		fwd.Origin = origin
		fwd.IsDeviceContact = false
		fwd.AddedAt = now
		fwd.AcceptedAt = nil
		fwd.CachedSnapshot = SnapshotOf(target, now)
		fwd.RequestMetadata = meta
		fwd.Normalize(now)

		applied, err := s.store.UpdateIf(ctx, fwd, prev)
		if err != nil {
			return nil, err
		}
		if !applied {
			return nil, apperror.NewConflict("relationship changed concurrently, retry")
		}
		s.notify(ctx, targetID, EventRequestReceived, requestPayload(fwd))
		return &Result{Edge: fwd}, nil
	}

	e := &Edge{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		TargetID:        targetID,
		Status:          StatusPending,
		Origin:          origin,
		CachedSnapshot:  SnapshotOf(target, now),
		RequestMetadata: meta,
		AddedAt:         now,
	}
	e.Normalize(now)

	inserted, err := s.store.InsertIfAbsent(ctx, e)
	if err != nil {
		return nil, err
	}
	if !inserted {
		current, err := s.store.Get(ctx, ownerID, targetID)
		if err != nil {
			return nil, err
		}
		if current != nil && current.Status == StatusPending {
			return &Result{Edge: current}, nil
		}
		return nil, apperror.NewConflict("relationship changed concurrently, retry")
	}

	s.notify(ctx, targetID, EventRequestReceived, requestPayload(e))
	return &Result{Edge: e}, nil
}

// AcceptRequest accepts a pending request on behalf of its target and
// writes the reciprocal edge. Accepting an accepted edge returns the current
// state and re-converges a missing reciprocal.
func (s *Service) AcceptRequest(ctx context.Context, edgeID, acceptorID string) (res *Result, err error) {
	ctx, span := tracing.Start(ctx, "relationships.accept_request",
		attribute.String("tether.edge.id", edgeID),
		attribute.String("tether.actor.id", acceptorID),
	)
	defer func() { s.finish(span, "accept_request", err) }()

	edge, err := s.store.GetByID(ctx, edgeID)
	if err != nil {
		return nil, err
	}
	if edge == nil {
		return nil, apperror.ErrNotFound.WithMessage("friend request not found")
	}
	if edge.TargetID != acceptorID {
		return nil, apperror.ErrNotParticipant.WithMessage("only the recipient can accept a friend request")
	}

	switch edge.Status {
	case StatusAccepted:
		return s.convergeAccepted(ctx, edge)
	case StatusPending:
	default:
		return nil, apperror.NewConflict("friend request is no longer pending")
	}

	now := s.now()
	snap := s.lookupSnapshot(ctx, edge.OwnerID, now)

	if s.opts.TransactionalWrites {
		var won bool
		res, won, err = s.acceptInTx(ctx, edge, snap, now)
		if !errors.Is(err, ErrNoTransactions) {
			if err == nil && won {
				s.notify(ctx, edge.OwnerID, EventRequestAccepted, acceptPayload(res.Edge))
			}
			return res, err
		}
	}

	accepted := *edge
	accepted.Accept(now)
	applied, err := s.store.UpdateIf(ctx, &accepted, StatusPending)
	if err != nil {
		return nil, err
	}
	if !applied {
		return s.afterLostRace(ctx, edgeID)
	}

	res = &Result{Edge: &accepted}
	res.Reciprocal, res.Warnings = s.ensureReciprocal(ctx, &accepted, snap, now, "accept_request")
	s.notify(ctx, edge.OwnerID, EventRequestAccepted, acceptPayload(&accepted))
	return res, nil
}

// acceptInTx writes both edges atomically. won reports whether this call
// performed the transition.
func (s *Service) acceptInTx(ctx context.Context, edge *Edge, snap *Snapshot, now time.Time) (*Result, bool, error) {
	var res *Result
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		accepted := *edge
		accepted.Accept(now)
		applied, err := tx.UpdateIf(ctx, &accepted, StatusPending)
		if err != nil || !applied {
			return err
		}
		rec, err := s.writeReciprocal(ctx, tx, &accepted, snap, now)
		if err != nil {
			return err
		}
		res = &Result{Edge: &accepted, Reciprocal: rec}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if res == nil {
		res, err = s.afterLostRace(ctx, edge.ID)
		return res, false, err
	}
	return res, true, nil
}

// afterLostRace resolves an accept whose precondition no longer held.
func (s *Service) afterLostRace(ctx context.Context, edgeID string) (*Result, error) {
	current, err := s.store.GetByID(ctx, edgeID)
	if err != nil {
		return nil, err
	}
	if current == nil || current.Status != StatusAccepted {
		return nil, apperror.NewConflict("friend request is no longer pending")
	}
	return s.convergeAccepted(ctx, current)
}

// convergeAccepted returns the current state of an accepted edge and writes
// the reciprocal if an earlier accept lost it.
func (s *Service) convergeAccepted(ctx context.Context, edge *Edge) (*Result, error) {
	rec, err := s.store.Get(ctx, edge.TargetID, edge.OwnerID)
	if err != nil {
		return nil, err
	}
	res := &Result{Edge: edge, Reciprocal: rec}
	if rec.Active() || isBlocked(rec) || edge.Origin == OriginDeviceContact {
		return res, nil
	}

	s.log.Warn("accepted edge without reciprocal, converging",
		slog.String("edge_id", edge.ID),
		slog.String("owner_id", edge.OwnerID),
		slog.String("target_id", edge.TargetID),
	)
	now := s.now()
	res.Reciprocal, res.Warnings = s.ensureReciprocal(ctx, edge, s.lookupSnapshot(ctx, edge.OwnerID, now), now, "accept_request")
	return res, nil
}

// ensureReciprocal writes and verifies the reverse of an accepted edge,
// retrying once. When it still cannot be verified the pair is queued for
// repair and a warning is returned instead of an error.
func (s *Service) ensureReciprocal(ctx context.Context, edge *Edge, snap *Snapshot, now time.Time, op string) (*Edge, []*apperror.Error) {
	var (
		rec     *Edge
		lastErr error
	)
	for attempt := 1; attempt <= 2; attempt++ {
		rec, lastErr = s.writeReciprocal(ctx, s.store, edge, snap, now)
		if lastErr == nil {
			got, err := s.store.Get(ctx, edge.TargetID, edge.OwnerID)
			if err == nil && got.Active() {
				return got, nil
			}
			lastErr = err
		}
		s.log.Warn("reciprocal write not verified",
			slog.Int("attempt", attempt),
			slog.String("owner_id", edge.TargetID),
			slog.String("target_id", edge.OwnerID),
			logger.Error(lastErr),
		)
	}

	return rec, []*apperror.Error{s.flagRepair(ctx, edge.TargetID, edge.OwnerID, StatusAccepted, op, lastErr)}
}

// writeReciprocal creates or restores target->owner as accepted. The origin
// follows the accepted edge and the device flag is always cleared.
func (s *Service) writeReciprocal(ctx context.Context, st Store, edge *Edge, snap *Snapshot, now time.Time) (*Edge, error) {
	rec, err := st.Get(ctx, edge.TargetID, edge.OwnerID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &Edge{
			ID:       uuid.NewString(),
			OwnerID:  edge.TargetID,
			TargetID: edge.OwnerID,
		}
	}
	if !rec.Active() {
		rec.AddedAt = now
	}
	rec.Origin = edge.Origin
	rec.IsDeviceContact = false
	if snap != nil {
		rec.CachedSnapshot = *snap
	}
	rec.Accept(now)

	if err := st.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// RejectRequest lets the target decline a pending request.
func (s *Service) RejectRequest(ctx context.Context, edgeID, actorID string) (res *Result, err error) {
	ctx, span := tracing.Start(ctx, "relationships.reject_request", attribute.String("tether.edge.id", edgeID))
	defer func() { s.finish(span, "reject_request", err) }()

	return s.closeRequest(ctx, edgeID, actorID, func(e *Edge) string { return e.TargetID })
}

// CancelRequest lets the owner withdraw a pending request.
func (s *Service) CancelRequest(ctx context.Context, edgeID, actorID string) (res *Result, err error) {
	ctx, span := tracing.Start(ctx, "relationships.cancel_request", attribute.String("tether.edge.id", edgeID))
	defer func() { s.finish(span, "cancel_request", err) }()

	return s.closeRequest(ctx, edgeID, actorID, func(e *Edge) string { return e.OwnerID })
}

func (s *Service) closeRequest(ctx context.Context, edgeID, actorID string, allowed func(*Edge) string) (*Result, error) {
	edge, err := s.store.GetByID(ctx, edgeID)
	if err != nil {
		return nil, err
	}
	if edge == nil {
		return nil, apperror.ErrNotFound.WithMessage("friend request not found")
	}
	if allowed(edge) != actorID {
		return nil, apperror.ErrNotParticipant
	}

	switch edge.Status {
	case StatusRemoved:
		return &Result{Edge: edge}, nil
	case StatusPending:
	default:
		return nil, apperror.NewConflict("friend request is no longer pending")
	}

	edge.Remove(s.now())
	applied, err := s.store.UpdateIf(ctx, edge, StatusPending)
	if err != nil {
		return nil, err
	}
	if !applied {
		current, err := s.store.GetByID(ctx, edgeID)
		if err != nil {
			return nil, err
		}
		if current != nil && current.Status == StatusRemoved {
			return &Result{Edge: current}, nil
		}
		return nil, apperror.NewConflict("friend request is no longer pending")
	}
	return &Result{Edge: edge}, nil
}

// RemoveFriend removes every edge between actorID and otherID in both
// directions. Blocks are left in place.
func (s *Service) RemoveFriend(ctx context.Context, actorID, otherID string) (res *Result, err error) {
	ctx, span := tracing.Start(ctx, "relationships.remove_friend", tracing.Pair(actorID, otherID)...)
	defer func() { s.finish(span, "remove_friend", err) }()

	if err := validatePair(actorID, otherID); err != nil {
		return nil, err
	}
	now := s.now()

	if s.opts.TransactionalWrites {
		err = s.store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
			var txErr error
			res, txErr = s.removePair(ctx, tx, actorID, otherID, now)
			return txErr
		})
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrNoTransactions) {
			return nil, err
		}
	}

	res, err = s.removePair(ctx, s.store, actorID, otherID, now)
	if err != nil {
		return nil, err
	}
	s.verifyRemoved(ctx, res, now)
	return res, nil
}

func (s *Service) removePair(ctx context.Context, st Store, a, b string, now time.Time) (*Result, error) {
	ab, ba, err := s.pair(ctx, st, a, b)
	if err != nil {
		return nil, err
	}
	if ab == nil && ba == nil {
		return nil, apperror.ErrNotFound.WithMessage("no relationship between these users")
	}

	for _, e := range []*Edge{ab, ba} {
		if err := removeEdge(ctx, st, e, now); err != nil {
			return nil, err
		}
	}
	return &Result{Edge: ab, Reciprocal: ba}, nil
}

// removeEdge transitions e to removed unless it is absent, removed or a
// block. The write only lands while the stored status is unchanged.
func removeEdge(ctx context.Context, st Store, e *Edge, now time.Time) error {
	if e == nil || e.Status == StatusRemoved || e.Status == StatusBlocked {
		return nil
	}
	prev := e.Status
	e.Remove(now)
	_, err := st.UpdateIf(ctx, e, prev)
	return err
}

// verifyRemoved re-reads both directions after a non-transactional remove,
// retries a side that is still accepted once, then queues it for repair.
func (s *Service) verifyRemoved(ctx context.Context, res *Result, now time.Time) {
	for _, e := range []*Edge{res.Edge, res.Reciprocal} {
		if e == nil {
			continue
		}
		var lastErr error
		removed := false
		for attempt := 1; attempt <= 2 && !removed; attempt++ {
			got, err := s.store.Get(ctx, e.OwnerID, e.TargetID)
			if err != nil {
				lastErr = err
				continue
			}
			if got == nil || got.Status != StatusAccepted {
				removed = true
				break
			}
			if attempt == 2 {
				break
			}
			lastErr = removeEdge(ctx, s.store, got, now)
		}
		if !removed {
			res.Warnings = append(res.Warnings, s.flagRepair(ctx, e.OwnerID, e.TargetID, StatusRemoved, "remove_friend", lastErr))
		}
	}
}

// BlockUser blocks targetID for ownerID only. The target's edge is never
// touched and nobody is notified.
func (s *Service) BlockUser(ctx context.Context, ownerID, targetID string) (res *Result, err error) {
	ctx, span := tracing.Start(ctx, "relationships.block_user", tracing.Pair(ownerID, targetID)...)
	defer func() { s.finish(span, "block_user", err) }()

	if err := validatePair(ownerID, targetID); err != nil {
		return nil, err
	}

	fwd, err := s.store.Get(ctx, ownerID, targetID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	if fwd == nil {
		target, err := s.directory.GetByID(ctx, targetID)
		if err != nil {
			return nil, err
		}
		e := &Edge{
			ID:             uuid.NewString(),
			OwnerID:        ownerID,
			TargetID:       targetID,
			Origin:         OriginAppSearch,
			CachedSnapshot: SnapshotOf(target, now),
			AddedAt:        now,
		}
		e.Block(now)
		inserted, err := s.store.InsertIfAbsent(ctx, e)
		if err != nil {
			return nil, err
		}
		if inserted {
			return &Result{Edge: e}, nil
		}
		if fwd, err = s.store.Get(ctx, ownerID, targetID); err != nil {
			return nil, err
		}
	}

	if fwd.Status == StatusBlocked {
		return &Result{Edge: fwd}, nil
	}
	prev := fwd.Status
	fwd.Block(now)
	applied, err := s.store.UpdateIf(ctx, fwd, prev)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, apperror.NewConflict("relationship changed concurrently, retry")
	}
	return &Result{Edge: fwd}, nil
}

// UnblockUser soft-deletes ownerID's block so a fresh request can follow.
func (s *Service) UnblockUser(ctx context.Context, ownerID, targetID string) (res *Result, err error) {
	ctx, span := tracing.Start(ctx, "relationships.unblock_user", tracing.Pair(ownerID, targetID)...)
	defer func() { s.finish(span, "unblock_user", err) }()

	if err := validatePair(ownerID, targetID); err != nil {
		return nil, err
	}

	fwd, err := s.store.Get(ctx, ownerID, targetID)
	if err != nil {
		return nil, err
	}
	if fwd == nil {
		return nil, apperror.ErrNotFound.WithMessage("user is not blocked")
	}
	switch fwd.Status {
	case StatusRemoved:
		return &Result{Edge: fwd}, nil
	case StatusBlocked:
	default:
		return nil, apperror.NewConflict("user is not blocked")
	}

	fwd.Remove(s.now())
	applied, err := s.store.UpdateIf(ctx, fwd, StatusBlocked)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, apperror.NewConflict("relationship changed concurrently, retry")
	}
	return &Result{Edge: fwd}, nil
}

// GetEdge returns an edge the actor participates in.
func (s *Service) GetEdge(ctx context.Context, edgeID, actorID string) (*Edge, error) {
	edge, err := s.store.GetByID(ctx, edgeID)
	if err != nil {
		return nil, err
	}
	if edge == nil {
		return nil, apperror.ErrNotFound.WithMessage("relationship not found")
	}
	if edge.OwnerID != actorID && edge.TargetID != actorID {
		return nil, apperror.ErrNotParticipant
	}
	return edge, nil
}

// GetFriends returns the visible friends of ownerID, refreshing stale
// snapshots on the way out. Refresh failures are logged and ignored.
func (s *Service) GetFriends(ctx context.Context, ownerID string) (edges []*Edge, err error) {
	ctx, span := tracing.Start(ctx, "relationships.get_friends", attribute.String("tether.owner.id", ownerID))
	defer func() { s.finish(span, "get_friends", err) }()

	edges, err = s.resolver.VisibleFriends(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for _, e := range edges {
		if !e.CachedSnapshot.Stale(now, s.opts.SnapshotTTL) {
			continue
		}
		snap := s.lookupSnapshot(ctx, e.TargetID, now)
		if snap == nil {
			snapshotRefreshTotal.WithLabelValues("lookup_failed").Inc()
			continue
		}
		e.CachedSnapshot = *snap
		if err := s.store.UpdateSnapshot(ctx, e); err != nil {
			snapshotRefreshTotal.WithLabelValues("write_failed").Inc()
			s.log.Warn("snapshot refresh failed", slog.String("edge_id", e.ID), logger.Error(err))
			continue
		}
		snapshotRefreshTotal.WithLabelValues("refreshed").Inc()
	}
	return edges, nil
}

// GetFriendRequests lists pending requests sent to and by ownerID. Requests
// from users ownerID has blocked are hidden.
func (s *Service) GetFriendRequests(ctx context.Context, ownerID string) (*FriendRequests, error) {
	incoming, err := s.store.List(ctx, Filter{TargetIDs: []string{ownerID}, Statuses: []Status{StatusPending}})
	if err != nil {
		return nil, err
	}
	outgoing, err := s.store.List(ctx, Filter{OwnerIDs: []string{ownerID}, Statuses: []Status{StatusPending}})
	if err != nil {
		return nil, err
	}
	blocks, err := s.store.List(ctx, Filter{OwnerIDs: []string{ownerID}, Statuses: []Status{StatusBlocked}})
	if err != nil {
		return nil, err
	}

	blocked := make(map[string]struct{}, len(blocks))
	for _, b := range blocks {
		blocked[b.TargetID] = struct{}{}
	}
	visible := incoming[:0]
	for _, e := range incoming {
		if _, ok := blocked[e.OwnerID]; !ok {
			visible = append(visible, e)
		}
	}

	return &FriendRequests{Incoming: visible, Outgoing: outgoing}, nil
}

// GetMutualFriends returns the ids visible as friends to both users.
func (s *Service) GetMutualFriends(ctx context.Context, a, b string) ([]string, error) {
	if err := validatePair(a, b); err != nil {
		return nil, err
	}
	return s.resolver.MutualFriends(ctx, a, b)
}

// CountFriends summarises ownerID's edges.
func (s *Service) CountFriends(ctx context.Context, ownerID string) (*FriendCounts, error) {
	visible, err := s.resolver.VisibleFriends(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	counts := &FriendCounts{Visible: len(visible)}
	for status, dst := range map[Status]*int{
		StatusAccepted: &counts.Accepted,
		StatusPending:  &counts.PendingOutgoing,
		StatusBlocked:  &counts.Blocked,
	} {
		if *dst, err = s.store.CountByStatus(ctx, ownerID, status); err != nil {
			return nil, err
		}
	}
	return counts, nil
}

func (s *Service) pair(ctx context.Context, st Store, a, b string) (*Edge, *Edge, error) {
	ab, err := st.Get(ctx, a, b)
	if err != nil {
		return nil, nil, err
	}
	ba, err := st.Get(ctx, b, a)
	if err != nil {
		return nil, nil, err
	}
	return ab, ba, nil
}

// lookupSnapshot returns nil when the directory cannot answer.
func (s *Service) lookupSnapshot(ctx context.Context, userID string, now time.Time) *Snapshot {
	u, err := s.directory.GetByID(ctx, userID)
	if err != nil {
		s.log.Debug("snapshot lookup failed", slog.String("user_id", userID), logger.Error(err))
		return nil
	}
	snap := SnapshotOf(u, now)
	return &snap
}

func (s *Service) flagRepair(ctx context.Context, ownerID, targetID string, intent Status, op string, cause error) *apperror.Error {
	repairRequiredTotal.WithLabelValues(op).Inc()
	reason := op + ": reciprocal write not verified"
	if cause != nil {
		reason += ": " + cause.Error()
	}

	s.log.Error("dual write degraded, queueing repair",
		slog.String("owner_id", ownerID),
		slog.String("target_id", targetID),
		slog.String("intent", string(intent)),
		logger.Error(cause),
	)
	if s.repairs != nil {
		if err := s.repairs.ReportRepair(ctx, ownerID, targetID, intent, reason); err != nil {
			s.log.Error("failed to queue repair", logger.Error(err))
		}
	}

	return apperror.ErrRepairRequired.WithDetails(map[string]any{
		"ownerId":  ownerID,
		"targetId": targetID,
		"intent":   string(intent),
	})
}

func (s *Service) notify(ctx context.Context, userID, event string, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, userID, event, payload)
}

func (s *Service) finish(span trace.Span, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		var appErr *apperror.Error
		if errors.As(err, &appErr) {
			outcome = appErr.Code
		}
	}
	operationsTotal.WithLabelValues(op, outcome).Inc()
	tracing.RecordError(span, err)
	span.End()
}

func validatePair(ownerID, targetID string) error {
	if ownerID == "" || targetID == "" {
		return apperror.NewValidation("both user ids are required")
	}
	if ownerID == targetID {
		return apperror.NewValidation("cannot create a relationship with yourself")
	}
	return nil
}

func isBlocked(e *Edge) bool {
	return e != nil && e.Status == StatusBlocked
}

func requestPayload(e *Edge) map[string]any {
	payload := map[string]any{
		"edgeId":     e.ID,
		"fromUserId": e.OwnerID,
		"origin":     string(e.Origin),
	}
	if e.RequestMetadata != nil && e.RequestMetadata.Message != "" {
		payload["message"] = e.RequestMetadata.Message
	}
	return payload
}

func acceptPayload(e *Edge) map[string]any {
	return map[string]any{
		"edgeId":   e.ID,
		"byUserId": e.TargetID,
	}
}

// SnapshotOf converts a directory entry into the cached edge snapshot.
func SnapshotOf(u *users.User, now time.Time) Snapshot {
	return Snapshot{
		DisplayName:   u.DisplayName,
		Image:         u.ImageURL,
		Handle:        u.HandleValue(),
		Presence:      u.Presence,
		LastRefreshed: now,
	}
}
