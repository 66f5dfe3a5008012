package relationships

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/tether/internal/testutil"
)

func newEdge(id, owner, target string, status Status, origin Origin) *Edge {
	now := time.Now().UTC()
	e := &Edge{
		ID:              id,
		OwnerID:         owner,
		TargetID:        target,
		Status:          status,
		Origin:          origin,
		IsDeviceContact: origin == OriginDeviceContact,
		CachedSnapshot:  Snapshot{DisplayName: target, LastRefreshed: now},
		AddedAt:         now,
	}
	e.Normalize(now)
	return e
}

func TestRepository_GetAbsent(t *testing.T) {
	repo := NewRepository(testutil.NewDB(t), testutil.Logger())

	e, err := repo.Get(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Nil(t, e)

	e, err = repo.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestRepository_UpsertRevivesRemovedRow(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(testutil.NewDB(t), testutil.Logger())

	removed := newEdge("e1", "a", "b", StatusRemoved, OriginAppSearch)
	require.NoError(t, repo.Upsert(ctx, removed))

	got, err := repo.Get(ctx, "a", "b")
	require.NoError(t, err)
	require.NotNil(t, got, "Get must find soft-deleted rows")
	assert.True(t, got.IsDeleted)

	revived := newEdge("e2", "a", "b", StatusPending, OriginQRCode)
	revived.RequestMetadata = &RequestMetadata{Message: "hi", MutualFriends: []string{"c"}, SentAt: time.Now().UTC()}
	require.NoError(t, repo.Upsert(ctx, revived))
	assert.Equal(t, "e1", revived.ID, "upsert keeps the stored id")

	got, err = repo.Get(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, OriginQRCode, got.Origin)
	assert.False(t, got.IsDeleted)
	require.NotNil(t, got.RequestMetadata)
	assert.Equal(t, "hi", got.RequestMetadata.Message)
	assert.Equal(t, []string{"c"}, got.RequestMetadata.MutualFriends)

	all, err := repo.List(ctx, Filter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRepository_InsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(testutil.NewDB(t), testutil.Logger())

	inserted, err := repo.InsertIfAbsent(ctx, newEdge("e1", "a", "b", StatusPending, OriginAppSearch))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.InsertIfAbsent(ctx, newEdge("e2", "a", "b", StatusAccepted, OriginDeviceContact))
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := repo.Get(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, "e1", got.ID)
	assert.Equal(t, StatusPending, got.Status)
}

func TestRepository_UpdateIf(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(testutil.NewDB(t), testutil.Logger())

	e := newEdge("e1", "a", "b", StatusPending, OriginAppSearch)
	require.NoError(t, repo.Upsert(ctx, e))

	stale := *e
	stale.Accept(time.Now().UTC())
	applied, err := repo.UpdateIf(ctx, &stale, StatusBlocked)
	require.NoError(t, err)
	assert.False(t, applied, "precondition mismatch must not write")

	applied, err = repo.UpdateIf(ctx, &stale, StatusPending)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.UpdateIf(ctx, &stale, StatusPending)
	require.NoError(t, err)
	assert.False(t, applied, "second transition from pending is a no-op")

	got, err := repo.GetByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got.Status)
	assert.NotNil(t, got.AcceptedAt)
}

func TestRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(testutil.NewDB(t), testutil.Logger())

	for _, e := range []*Edge{
		newEdge("e1", "a", "b", StatusAccepted, OriginAppSearch),
		newEdge("e2", "a", "c", StatusAccepted, OriginDeviceContact),
		newEdge("e3", "a", "d", StatusRemoved, OriginAppSearch),
		newEdge("e4", "b", "a", StatusAccepted, OriginAppSearch),
		newEdge("e5", "a", "e", StatusPending, OriginInviteLink),
	} {
		require.NoError(t, repo.Upsert(ctx, e))
	}

	ids := func(edges []*Edge) []string {
		out := make([]string, len(edges))
		for i, e := range edges {
			out[i] = e.ID
		}
		return out
	}
	device := true

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"owner excludes deleted", Filter{OwnerIDs: []string{"a"}}, []string{"e1", "e2", "e5"}},
		{"include deleted", Filter{OwnerIDs: []string{"a"}, IncludeDeleted: true}, []string{"e1", "e2", "e3", "e5"}},
		{"status", Filter{Statuses: []Status{StatusAccepted}}, []string{"e1", "e2", "e4"}},
		{"origin", Filter{Origins: []Origin{OriginDeviceContact}}, []string{"e2"}},
		{"exclude origin", Filter{OwnerIDs: []string{"a"}, ExcludeOrigins: []Origin{OriginDeviceContact}}, []string{"e1", "e5"}},
		{"device flag", Filter{DeviceContact: &device}, []string{"e2"}},
		{"target", Filter{TargetIDs: []string{"a"}}, []string{"e4"}},
		{"keyset page", Filter{AfterID: "e2", Limit: 2}, []string{"e4", "e5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestRepository_ClearDeviceFlagsAndCount(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(testutil.NewDB(t), testutil.Logger())

	require.NoError(t, repo.Upsert(ctx, newEdge("e1", "a", "b", StatusAccepted, OriginDeviceContact)))
	require.NoError(t, repo.Upsert(ctx, newEdge("e2", "a", "c", StatusAccepted, OriginDeviceContact)))
	require.NoError(t, repo.Upsert(ctx, newEdge("e3", "a", "d", StatusPending, OriginAppSearch)))

	n, err := repo.ClearDeviceFlags(ctx, []string{"e1", "e3"}, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.GetByID(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, got.IsDeviceContact)
	assert.Equal(t, StatusAccepted, got.Status, "clearing the flag never demotes the edge")

	accepted, err := repo.CountByStatus(ctx, "a", StatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, 2, accepted)
}

func TestRepository_RunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(testutil.NewDB(t), testutil.Logger())
	boom := errors.New("boom")

	err := repo.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		require.NoError(t, tx.Upsert(ctx, newEdge("e1", "a", "b", StatusAccepted, OriginAppSearch)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.Get(ctx, "a", "b")
	require.NoError(t, err)
	assert.Nil(t, got)
}
