package contactsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/emergent-company/tether/domain/relationships"
	"github.com/emergent-company/tether/domain/users"
	"github.com/emergent-company/tether/internal/config"
	"github.com/emergent-company/tether/pkg/apperror"
	"github.com/emergent-company/tether/pkg/logger"
	"github.com/emergent-company/tether/pkg/tracing"
)

// resolveBatchSize bounds the identifiers sent to the directory per query.
const resolveBatchSize = 200

// Directory resolves normalized identifiers to users.
type Directory interface {
	ResolveMany(ctx context.Context, identifiers []string) (map[string]*users.User, error)
}

// InvalidIdentifier is a raw identifier that could not be normalized.
type InvalidIdentifier struct {
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
}

// Result summarises one sync.
type Result struct {
	Created   []*relationships.Edge
	Refreshed int
	Cleared   int
	Unmatched int
	Invalid   []InvalidIdentifier
}

// Reconciler merges a user's phone book into their device-contact edges
// without touching app-level relationships.
type Reconciler struct {
	store       relationships.Store
	directory   Directory
	normalizer  *Normalizer
	maxIDs      int
	concurrency int
	limiter     ConcurrencyLimiter
	now         func() time.Time
	log         *slog.Logger
}

// ConcurrencyLimiter caps fan-out below the configured concurrency, e.g.
// under host load.
type ConcurrencyLimiter interface {
	Limit() int
}

// NewReconciler creates a new contact sync reconciler
func NewReconciler(store relationships.Store, directory Directory, cfg *config.Config, log *slog.Logger) *Reconciler {
	concurrency := cfg.ContactSync.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Reconciler{
		store:       store,
		directory:   directory,
		normalizer:  NewNormalizer(cfg.ContactSync.DefaultCallingCode),
		maxIDs:      cfg.ContactSync.MaxIdentifiers,
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
		log:         log.With(logger.Scope("contactsync.svc")),
	}
}

// WithLimiter makes each sync take the lower of the configured concurrency
// and l.Limit().
func (r *Reconciler) WithLimiter(l ConcurrencyLimiter) *Reconciler {
	r.limiter = l
	return r
}

func (r *Reconciler) workers() int {
	if r.limiter == nil {
		return r.concurrency
	}
	return max(1, min(r.concurrency, r.limiter.Limit()))
}

// SyncContacts reconciles ownerID's device-contact edges with the given
// identifiers. Matches without an edge get a unilateral accepted
// device-contact edge; existing app-level, pending, removed or blocked edges
// only get a fresh snapshot. Device-contact edges whose target is no longer
// in the list lose their device flag but are otherwise kept.
func (r *Reconciler) SyncContacts(ctx context.Context, ownerID string, identifiers []string) (res *Result, err error) {
	ctx, span := tracing.Start(ctx, "contactsync.sync_contacts",
		attribute.String("tether.owner.id", ownerID),
		attribute.Int("tether.contacts.count", len(identifiers)),
	)
	defer func() {
		tracing.RecordError(span, err)
		span.End()
	}()

	if ownerID == "" {
		return nil, apperror.NewValidation("owner id is required")
	}
	if r.maxIDs > 0 && len(identifiers) > r.maxIDs {
		return nil, apperror.NewValidation(fmt.Sprintf("at most %d identifiers per sync", r.maxIDs))
	}

	res = &Result{Created: []*relationships.Edge{}, Invalid: []InvalidIdentifier{}}
	normalized := r.normalize(identifiers, res)

	found, err := r.resolve(ctx, normalized)
	if err != nil {
		return nil, err
	}
	res.Unmatched = len(normalized) - len(found)

	matches := make(map[string]*users.User, len(found))
	for _, u := range found {
		if u.ID != ownerID {
			matches[u.ID] = u
		}
	}

	now := r.now()
	if err := r.reconcile(ctx, ownerID, matches, now, res); err != nil {
		return nil, err
	}
	if res.Cleared, err = r.clearAbsent(ctx, ownerID, matches, now); err != nil {
		return nil, err
	}

	syncTotal.WithLabelValues("created").Add(float64(len(res.Created)))
	syncTotal.WithLabelValues("refreshed").Add(float64(res.Refreshed))
	syncTotal.WithLabelValues("cleared").Add(float64(res.Cleared))
	syncTotal.WithLabelValues("unmatched").Add(float64(res.Unmatched))
	syncTotal.WithLabelValues("invalid").Add(float64(len(res.Invalid)))

	r.log.Info("contacts synced",
		slog.String("owner_id", ownerID),
		slog.Int("identifiers", len(identifiers)),
		slog.Int("created", len(res.Created)),
		slog.Int("refreshed", res.Refreshed),
		slog.Int("cleared", res.Cleared),
		slog.Int("unmatched", res.Unmatched),
		slog.Int("invalid", len(res.Invalid)),
	)
	return res, nil
}

// normalize returns the distinct canonical identifiers and records the
// rejected ones on res.
func (r *Reconciler) normalize(identifiers []string, res *Result) []string {
	seen := make(map[string]struct{}, len(identifiers))
	out := make([]string, 0, len(identifiers))
	for _, raw := range identifiers {
		id, err := r.normalizer.Normalize(raw)
		if err != nil {
			res.Invalid = append(res.Invalid, InvalidIdentifier{Identifier: raw, Reason: err.Error()})
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// resolve looks identifiers up in parallel batches. Unmatched identifiers
// are absent from the result.
func (r *Reconciler) resolve(ctx context.Context, identifiers []string) (map[string]*users.User, error) {
	var (
		mu      sync.Mutex
		matches = make(map[string]*users.User)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers())

	for start := 0; start < len(identifiers); start += resolveBatchSize {
		batch := identifiers[start:min(start+resolveBatchSize, len(identifiers))]
		g.Go(func() error {
			found, err := r.directory.ResolveMany(gctx, batch)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for id, u := range found {
				matches[id] = u
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return matches, nil
}

// reconcile applies the per-match rules concurrently.
func (r *Reconciler) reconcile(ctx context.Context, ownerID string, matches map[string]*users.User, now time.Time, res *Result) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers())

	for _, target := range matches {
		g.Go(func() error {
			created, refreshed, err := r.reconcileOne(gctx, ownerID, target, now)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if created != nil {
				res.Created = append(res.Created, created)
			}
			if refreshed {
				res.Refreshed++
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Reconciler) reconcileOne(ctx context.Context, ownerID string, target *users.User, now time.Time) (*relationships.Edge, bool, error) {
	snap := relationships.SnapshotOf(target, now)

	edge, err := r.store.Get(ctx, ownerID, target.ID)
	if err != nil {
		return nil, false, err
	}
	if edge == nil {
		e := &relationships.Edge{
			ID:              uuid.NewString(),
			OwnerID:         ownerID,
			TargetID:        target.ID,
			Origin:          relationships.OriginDeviceContact,
			IsDeviceContact: true,
			CachedSnapshot:  snap,
			AddedAt:         now,
			LastDeviceSync:  &now,
		}
		e.Accept(now)
		inserted, err := r.store.InsertIfAbsent(ctx, e)
		if err != nil {
			return nil, false, err
		}
		if inserted {
			return e, false, nil
		}
		// A concurrent write created the edge first; treat it as existing.
		if edge, err = r.store.Get(ctx, ownerID, target.ID); err != nil || edge == nil {
			return nil, false, err
		}
	}

	if edge.Origin != relationships.OriginDeviceContact || edge.Status != relationships.StatusAccepted {
		edge.CachedSnapshot = snap
		if err := r.store.UpdateSnapshot(ctx, edge); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}

	expected := edge.Status
	edge.IsDeviceContact = true
	edge.LastDeviceSync = &now
	edge.CachedSnapshot = snap
	edge.Normalize(now)
	applied, err := r.store.UpdateIf(ctx, edge, expected)
	if err != nil {
		return nil, false, err
	}
	if !applied {
		r.log.Debug("edge changed during sync, skipped",
			slog.String("owner_id", ownerID), slog.String("target_id", target.ID))
	}
	return nil, applied, nil
}

// clearAbsent drops the device flag on ownerID's device-contact edges whose
// target was not matched by this sync.
func (r *Reconciler) clearAbsent(ctx context.Context, ownerID string, matches map[string]*users.User, now time.Time) (int, error) {
	flagged := true
	edges, err := r.store.List(ctx, relationships.Filter{
		OwnerIDs:       []string{ownerID},
		Origins:        []relationships.Origin{relationships.OriginDeviceContact},
		DeviceContact:  &flagged,
		IncludeDeleted: true,
	})
	if err != nil {
		return 0, err
	}

	var stale []string
	for _, e := range edges {
		if _, ok := matches[e.TargetID]; !ok {
			stale = append(stale, e.ID)
		}
	}
	return r.store.ClearDeviceFlags(ctx, stale, now)
}
