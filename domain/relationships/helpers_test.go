package relationships

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/emergent-company/tether/domain/users"
	"github.com/emergent-company/tether/internal/config"
	"github.com/emergent-company/tether/internal/testutil"
)

type notification struct {
	UserID  string
	Event   string
	Payload map[string]any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Notify(_ context.Context, userID, event string, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{UserID: userID, Event: event, Payload: payload})
}

func (n *recordingNotifier) events(userID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, s := range n.sent {
		if s.UserID == userID {
			out = append(out, s.Event)
		}
	}
	return out
}

type repairCall struct {
	OwnerID  string
	TargetID string
	Intent   Status
}

type recordingRepairs struct {
	mu    sync.Mutex
	calls []repairCall
}

func (r *recordingRepairs) ReportRepair(_ context.Context, ownerID, targetID string, intent Status, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, repairCall{OwnerID: ownerID, TargetID: targetID, Intent: intent})
	return nil
}

// droppingStore acknowledges writes matching drop without persisting them,
// and refuses transactions so the service takes the non-atomic path.
type droppingStore struct {
	Store
	drop func(e *Edge) bool
}

func (d *droppingStore) Upsert(ctx context.Context, e *Edge) error {
	if d.drop(e) {
		return nil
	}
	return d.Store.Upsert(ctx, e)
}

func (d *droppingStore) UpdateIf(ctx context.Context, e *Edge, expected Status) (bool, error) {
	if d.drop(e) {
		return true, nil
	}
	return d.Store.UpdateIf(ctx, e, expected)
}

func (d *droppingStore) RunInTx(context.Context, func(context.Context, Store) error) error {
	return ErrNoTransactions
}

type fixture struct {
	db       *bun.DB
	repo     *Repository
	users    *users.Service
	svc      *Service
	notifier *recordingNotifier
	repairs  *recordingRepairs
}

type fixtureOption func(*ServiceParams)

func withTransactions(enabled bool) fixtureOption {
	return func(p *ServiceParams) { p.Config.Relationships.TransactionalWrites = enabled }
}

func withStore(wrap func(Store) Store) fixtureOption {
	return func(p *ServiceParams) {
		p.Store = wrap(p.Store)
		p.Resolver = NewResolver(p.Store)
	}
}

func withLimiter(l RequestLimiter) fixtureOption {
	return func(p *ServiceParams) { p.Limiter = l }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	log := testutil.Logger()
	userSvc := users.NewService(users.NewRepository(db, log), log)
	for i := 1; i <= 6; i++ {
		id := fmt.Sprintf("u%d", i)
		_, err := userSvc.UpsertProfile(context.Background(), id, users.UpsertProfileRequest{
			DisplayName: "User " + id,
			Handle:      id,
			Phone:       fmt.Sprintf("+1555000000%d", i),
		})
		require.NoError(t, err)
	}

	cfg := &config.Config{}
	cfg.Relationships.TransactionalWrites = true
	cfg.Relationships.SnapshotTTL = 24 * time.Hour
	cfg.Relationships.MaxMessageLength = 280

	repo := NewRepository(db, log)
	f := &fixture{
		db:       db,
		repo:     repo,
		users:    userSvc,
		notifier: &recordingNotifier{},
		repairs:  &recordingRepairs{},
	}
	params := ServiceParams{
		Store:     repo,
		Resolver:  NewResolver(repo),
		Directory: userSvc,
		Notifier:  f.notifier,
		Repairs:   f.repairs,
		Config:    cfg,
		Log:       log,
	}
	for _, opt := range opts {
		opt(&params)
	}
	f.svc = NewService(params)
	return f
}

// edge reads the stored edge for a pair, failing when it is absent.
func (f *fixture) edge(t *testing.T, owner, target string) *Edge {
	t.Helper()
	e, err := f.repo.Get(context.Background(), owner, target)
	require.NoError(t, err)
	require.NotNil(t, e, "edge %s->%s", owner, target)
	return e
}

// rowCount counts stored rows for a directed pair, including removed ones.
func (f *fixture) rowCount(t *testing.T, owner, target string) int {
	t.Helper()
	edges, err := f.repo.List(context.Background(), Filter{
		OwnerIDs:       []string{owner},
		TargetIDs:      []string{target},
		IncludeDeleted: true,
	})
	require.NoError(t, err)
	return len(edges)
}

// requireInvariants checks that app-level accepted edges are bilateral and
// that only device-contact edges carry the device flag.
func (f *fixture) requireInvariants(t *testing.T) {
	t.Helper()
	all, err := f.repo.List(context.Background(), Filter{IncludeDeleted: true})
	require.NoError(t, err)

	byPair := make(map[[2]string]*Edge, len(all))
	for _, e := range all {
		byPair[[2]string{e.OwnerID, e.TargetID}] = e
	}
	for _, e := range all {
		if e.Origin != OriginDeviceContact {
			require.False(t, e.IsDeviceContact, "device flag on %s edge %s->%s", e.Origin, e.OwnerID, e.TargetID)
		}
		require.Equal(t, e.Status == StatusRemoved, e.IsDeleted, "deleted flag on %s->%s", e.OwnerID, e.TargetID)
		if e.Status == StatusAccepted && e.Origin != OriginDeviceContact {
			rec := byPair[[2]string{e.TargetID, e.OwnerID}]
			require.NotNil(t, rec, "missing reciprocal for %s->%s", e.OwnerID, e.TargetID)
			require.Equal(t, StatusAccepted, rec.Status, "reciprocal of %s->%s", e.OwnerID, e.TargetID)
		}
	}
}

// seed inserts an edge directly, bypassing the service.
func (f *fixture) seed(t *testing.T, e *Edge) *Edge {
	t.Helper()
	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = fmt.Sprintf("seed-%s-%s", e.OwnerID, e.TargetID)
	}
	if e.AddedAt.IsZero() {
		e.AddedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = now
	}
	if e.CachedSnapshot.LastRefreshed.IsZero() {
		e.CachedSnapshot = Snapshot{DisplayName: "User " + e.TargetID, LastRefreshed: now}
	}
	require.NoError(t, f.repo.Upsert(context.Background(), e))
	return e
}
