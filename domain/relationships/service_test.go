package relationships

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/tether/domain/users"
	"github.com/emergent-company/tether/pkg/apperror"
)

// bothModes runs fn once with transactional dual writes and once without.
func bothModes(t *testing.T, fn func(t *testing.T, f *fixture)) {
	for _, tx := range []bool{true, false} {
		name := "saga"
		if tx {
			name = "transactional"
		}
		t.Run(name, func(t *testing.T) {
			fn(t, newFixture(t, withTransactions(tx)))
		})
	}
}

func befriend(t *testing.T, f *fixture, a, b string) {
	t.Helper()
	ctx := context.Background()
	sent, err := f.svc.SendRequest(ctx, a, b, SendRequestInput{})
	require.NoError(t, err)
	_, err = f.svc.AcceptRequest(ctx, sent.Edge.ID, b)
	require.NoError(t, err)
}

func TestSendRequest_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name    string
		owner   string
		target  string
		in      SendRequestInput
		wantErr *apperror.Error
	}{
		{"self", "u1", "u1", SendRequestInput{}, apperror.ErrValidation},
		{"empty target", "u1", "", SendRequestInput{}, apperror.ErrValidation},
		{"device contact origin", "u1", "u2", SendRequestInput{Origin: OriginDeviceContact}, apperror.ErrValidation},
		{"unknown origin", "u1", "u2", SendRequestInput{Origin: "carrier_pigeon"}, apperror.ErrValidation},
		{"message too long", "u1", "u2", SendRequestInput{Message: strings.Repeat("x", 281)}, apperror.ErrValidation},
		{"unknown target", "u1", "ghost", SendRequestInput{}, apperror.ErrUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SendRequest(ctx, tt.owner, tt.target, tt.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestSendRequest_CreatesPendingEdge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.SendRequest(ctx, "u1", "u2", SendRequestInput{Message: " hello "})
	require.NoError(t, err)

	e := f.edge(t, "u1", "u2")
	assert.Equal(t, res.Edge.ID, e.ID)
	assert.Equal(t, StatusPending, e.Status)
	assert.Equal(t, OriginAppSearch, e.Origin)
	assert.False(t, e.IsDeviceContact)
	assert.Equal(t, "User u2", e.CachedSnapshot.DisplayName)
	require.NotNil(t, e.RequestMetadata)
	assert.Equal(t, "hello", e.RequestMetadata.Message)

	assert.Equal(t, 0, f.rowCount(t, "u2", "u1"), "a pending request has no reciprocal")
	assert.Equal(t, []string{EventRequestReceived}, f.notifier.events("u2"))
}

func TestSendRequest_ResendPendingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, withLimiter(newRateLimiter(1, 1)))

	first, err := f.svc.SendRequest(ctx, "u1", "u2", SendRequestInput{})
	require.NoError(t, err)
	again, err := f.svc.SendRequest(ctx, "u1", "u2", SendRequestInput{})
	require.NoError(t, err, "re-sending is not charged against the limiter")

	assert.Equal(t, first.Edge.ID, again.Edge.ID)
	assert.Equal(t, 1, f.rowCount(t, "u1", "u2"))

	_, err = f.svc.SendRequest(ctx, "u1", "u3", SendRequestInput{})
	assert.True(t, errors.Is(err, apperror.ErrRateLimited))
}

func TestSendRequest_Conflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	befriend(t, f, "u1", "u2")
	_, err := f.svc.SendRequest(ctx, "u1", "u2", SendRequestInput{})
	assert.True(t, errors.Is(err, apperror.ErrConflict), "already friends")
	_, err = f.svc.SendRequest(ctx, "u2", "u1", SendRequestInput{})
	assert.True(t, errors.Is(err, apperror.ErrConflict), "already friends from the other side")

	_, err = f.svc.BlockUser(ctx, "u4", "u3")
	require.NoError(t, err)
	_, err = f.svc.SendRequest(ctx, "u3", "u4", SendRequestInput{})
	assert.True(t, errors.Is(err, apperror.ErrConflict), "target blocked the sender")
	_, err = f.svc.SendRequest(ctx, "u4", "u3", SendRequestInput{})
	assert.True(t, errors.Is(err, apperror.ErrConflict), "sender blocked the target")
}

func TestSendRequest_KeepsOneWayDeviceContact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// u1 has u2 in their phone book; u2 never synced u1.
	f.seed(t, &Edge{OwnerID: "u1", TargetID: "u2", Status: StatusAccepted, Origin: OriginDeviceContact, IsDeviceContact: true})

	_, err := f.svc.SendRequest(ctx, "u1", "u2", SendRequestInput{})
	assert.True(t, errors.Is(err, apperror.ErrConflict))

	e := f.edge(t, "u1", "u2")
	assert.Equal(t, StatusAccepted, e.Status)
	assert.Equal(t, OriginDeviceContact, e.Origin)
	assert.True(t, e.IsDeviceContact)
	assert.False(t, e.IsDeleted)
	assert.Zero(t, f.rowCount(t, "u2", "u1"))
	assert.Empty(t, f.notifier.events("u2"))
}

func TestAcceptRequest_WritesReciprocal(t *testing.T) {
	bothModes(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		sent, err := f.svc.SendRequest(ctx, "u1", "u2", SendRequestInput{Origin: OriginQRCode})
		require.NoError(t, err)

		res, err := f.svc.AcceptRequest(ctx, sent.Edge.ID, "u2")
		require.NoError(t, err)
		assert.Empty(t, res.Warnings)

		fwd := f.edge(t, "u1", "u2")
		rev := f.edge(t, "u2", "u1")
		assert.Equal(t, StatusAccepted, fwd.Status)
		assert.NotNil(t, fwd.AcceptedAt)
		assert.Nil(t, fwd.RequestMetadata, "request metadata is dropped once accepted")
		assert.Equal(t, StatusAccepted, rev.Status)
		assert.Equal(t, OriginQRCode, rev.Origin)
		assert.Equal(t, "User u1", rev.CachedSnapshot.DisplayName)

		assert.Equal(t, []string{EventRequestAccepted}, f.notifier.events("u1"))
		f.requireInvariants(t)
	})
}

func TestAcceptRequest_TwiceIsIdempotent(t *testing.T) {
	bothModes(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		sent, err := f.svc.SendRequest(ctx, "u1", "u2", SendRequestInput{})
		require.NoError(t, err)
		first, err := f.svc.AcceptRequest(ctx, sent.Edge.ID, "u2")
		require.NoError(t, err)
		second, err := f.svc.AcceptRequest(ctx, sent.Edge.ID, "u2")
		require.NoError(t, err)

		assert.Equal(t, first.Edge.ID, second.Edge.ID)
		assert.Equal(t, first.Reciprocal.ID, second.Reciprocal.ID)
		assert.Equal(t, StatusAccepted, second.Edge.Status)
		assert.Equal(t, 1, f.rowCount(t, "u1", "u2"))
		assert.Equal(t, 1, f.rowCount(t, "u2", "u1"))
		assert.Len(t, f.notifier.events("u1"), 1, "only the first accept notifies")
		f.requireInvariants(t)
	})
}

func TestAcceptRequest_Authorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sent, err := f.svc.SendRequest(ctx, "u1", "u2", SendRequestInput{})
	require.NoError(t, err)

	_, err = f.svc.AcceptRequest(ctx, sent.Edge.ID, "u3")
	assert.True(t, errors.Is(err, apperror.ErrNotParticipant))
	_, err = f.svc.AcceptRequest(ctx, sent.Edge.ID, "u1")
	assert.True(t, errors.Is(err, apperror.ErrNotParticipant), "the sender cannot accept")
	_, err = f.svc.AcceptRequest(ctx, "missing", "u2")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	_, err = f.svc.RejectRequest(ctx, sent.Edge.ID, "u2")
	require.NoError(t, err)
	_, err = f.svc.AcceptRequest(ctx, sent.Edge.ID, "u2")
	assert.True(t, errors.Is(err, apperror.ErrConflict), "a rejected request cannot be accepted")
}

func TestAcceptRequest_ClearsStaleDeviceContactReciprocal(t *testing.T) {
	bothModes(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		// u2 has u1 in their phone book; u1 never synced u2.
		f.seed(t, &Edge{OwnerID: "u2", TargetID: "u1", Status: StatusAccepted, Origin: OriginDeviceContact, IsDeviceContact: true})

		sent, err := f.svc.SendRequest(ctx, "u1", "u2", SendRequestInput{Origin: OriginInviteLink})
		require.NoError(t, err)
		_, err = f.svc.AcceptRequest(ctx, sent.Edge.ID, "u2")
		require.NoError(t, err)

		rev := f.edge(t, "u2", "u1")
		assert.Equal(t, StatusAccepted, rev.Status)
		assert.Equal(t, OriginInviteLink, rev.Origin)
		assert.False(t, rev.IsDeviceContact)
		assert.Equal(t, 1, f.rowCount(t, "u2", "u1"))
		f.requireInvariants(t)

		friends, err := f.svc.GetFriends(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, friends, 1)
		assert.Equal(t, "u2", friends[0].TargetID)
	})
}

func TestReactivation(t *testing.T) {
	bothModes(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		sent, err := f.svc.SendRequest(ctx, "u1", "u2", SendRequestInput{})
		require.NoError(t, err)
		assert.Equal(t, StatusPending, f.edge(t, "u1", "u2").Status)

		_, err = f.svc.AcceptRequest(ctx, sent.Edge.ID, "u2")
		require.NoError(t, err)
		assert.Equal(t, StatusAccepted, f.edge(t, "u1", "u2").Status)

		_, err = f.svc.RemoveFriend(ctx, "u1", "u2")
		require.NoError(t, err)
		assert.Equal(t, StatusRemoved, f.edge(t, "u1", "u2").Status)
		assert.True(t, f.edge(t, "u2", "u1").IsDeleted)

		again, err := f.svc.SendRequest(ctx, "u1", "u2", SendRequestInput{Message: "again?"})
		require.NoError(t, err)
		assert.Equal(t, sent.Edge.ID, again.Edge.ID, "the removed row is revived in place")

		e := f.edge(t, "u1", "u2")
		assert.Equal(t, StatusPending, e.Status)
		assert.False(t, e.IsDeleted)
		require.NotNil(t, e.RequestMetadata)
		assert.Equal(t, "again?", e.RequestMetadata.Message)
		assert.Equal(t, 1, f.rowCount(t, "u1", "u2"))
		assert.Equal(t, 1, f.rowCount(t, "u2", "u1"))
		f.requireInvariants(t)
	})
}

func TestSimultaneousRequestsConverge(t *testing.T) {
	bothModes(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		_, err := f.svc.SendRequest(ctx, "u1", "u2", SendRequestInput{})
		require.NoError(t, err)
		res, err := f.svc.SendRequest(ctx, "u2", "u1", SendRequestInput{})
		require.NoError(t, err)
		assert.True(t, res.AutoAccepted)

		assert.Equal(t, StatusAccepted, f.edge(t, "u1", "u2").Status)
		assert.Equal(t, StatusAccepted, f.edge(t, "u2", "u1").Status)
		assert.Equal(t, 1, f.rowCount(t, "u1", "u2"))
		assert.Equal(t, 1, f.rowCount(t, "u2", "u1"))

		pending, err := f.repo.List(ctx, Filter{Statuses: []Status{StatusPending}})
		require.NoError(t, err)
		assert.Empty(t, pending)
		f.requireInvariants(t)
	})
}

func TestRejectAndCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	toU2, err := f.svc.SendRequest(ctx, "u1", "u2", SendRequestInput{})
	require.NoError(t, err)
	toU3, err := f.svc.SendRequest(ctx, "u1", "u3", SendRequestInput{})
	require.NoError(t, err)

	_, err = f.svc.CancelRequest(ctx, toU2.Edge.ID, "u2")
	assert.True(t, errors.Is(err, apperror.ErrNotParticipant), "only the sender cancels")
	_, err = f.svc.RejectRequest(ctx, toU3.Edge.ID, "u1")
	assert.True(t, errors.Is(err, apperror.ErrNotParticipant), "only the recipient rejects")

	res, err := f.svc.RejectRequest(ctx, toU2.Edge.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, StatusRemoved, res.Edge.Status)
	assert.True(t, f.edge(t, "u1", "u2").IsDeleted)

	res, err = f.svc.RejectRequest(ctx, toU2.Edge.ID, "u2")
	require.NoError(t, err, "rejecting twice returns the current state")
	assert.Equal(t, StatusRemoved, res.Edge.Status)

	_, err = f.svc.CancelRequest(ctx, toU3.Edge.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusRemoved, f.edge(t, "u1", "u3").Status)
	assert.Equal(t, 0, f.rowCount(t, "u3", "u1"))
}

func TestRemoveFriend(t *testing.T) {
	bothModes(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		befriend(t, f, "u1", "u2")

		res, err := f.svc.RemoveFriend(ctx, "u2", "u1")
		require.NoError(t, err)
		assert.Empty(t, res.Warnings)
		assert.Equal(t, StatusRemoved, f.edge(t, "u1", "u2").Status)
		assert.Equal(t, StatusRemoved, f.edge(t, "u2", "u1").Status)

		_, err = f.svc.RemoveFriend(ctx, "u2", "u1")
		require.NoError(t, err, "removing twice returns the current state")

		_, err = f.svc.RemoveFriend(ctx, "u3", "u4")
		assert.True(t, errors.Is(err, apperror.ErrNotFound))
		f.requireInvariants(t)

		for _, id := range []string{"u1", "u2"} {
			friends, err := f.svc.GetFriends(ctx, id)
			require.NoError(t, err)
			assert.Empty(t, friends)
		}
	})
}

func TestRemoveFriend_LeavesBlocksInPlace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	befriend(t, f, "u1", "u2")

	_, err := f.svc.BlockUser(ctx, "u1", "u2")
	require.NoError(t, err)
	_, err = f.svc.RemoveFriend(ctx, "u2", "u1")
	require.NoError(t, err)

	assert.Equal(t, StatusBlocked, f.edge(t, "u1", "u2").Status)
	assert.Equal(t, StatusRemoved, f.edge(t, "u2", "u1").Status)
}

func TestBlockIsUnilateral(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	befriend(t, f, "u1", "u2")
	before := len(f.notifier.sent)

	res, err := f.svc.BlockUser(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, res.Edge.Status)

	assert.Equal(t, StatusBlocked, f.edge(t, "u1", "u2").Status)
	assert.Equal(t, StatusAccepted, f.edge(t, "u2", "u1").Status, "the target's edge is untouched")
	assert.Len(t, f.notifier.sent, before, "blocking notifies nobody")

	friendsOfU2, err := f.svc.GetFriends(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, friendsOfU2, 1)
	assert.Equal(t, "u1", friendsOfU2[0].TargetID)

	friendsOfU1, err := f.svc.GetFriends(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, friendsOfU1)

	again, err := f.svc.BlockUser(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, res.Edge.ID, again.Edge.ID)
}

func TestBlockWithoutEdge_ThenUnblock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.BlockUser(ctx, "u3", "u4")
	require.NoError(t, err)
	assert.Equal(t, OriginAppSearch, res.Edge.Origin)
	assert.False(t, res.Edge.IsDeviceContact)
	assert.Equal(t, 0, f.rowCount(t, "u4", "u3"))

	_, err = f.svc.UnblockUser(ctx, "u3", "u4")
	require.NoError(t, err)
	e := f.edge(t, "u3", "u4")
	assert.Equal(t, StatusRemoved, e.Status)
	assert.True(t, e.IsDeleted)

	_, err = f.svc.UnblockUser(ctx, "u3", "u4")
	require.NoError(t, err, "unblocking twice returns the current state")

	_, err = f.svc.SendRequest(ctx, "u3", "u4", SendRequestInput{})
	require.NoError(t, err, "a fresh request can follow an unblock")
	assert.Equal(t, StatusPending, f.edge(t, "u3", "u4").Status)

	_, err = f.svc.UnblockUser(ctx, "u3", "u4")
	assert.True(t, errors.Is(err, apperror.ErrConflict))
	_, err = f.svc.UnblockUser(ctx, "u5", "u6")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestAcceptRequest_DegradedReciprocalIsQueued(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, withTransactions(false), withStore(func(s Store) Store {
		return &droppingStore{Store: s, drop: func(e *Edge) bool {
			return e.OwnerID == "u2" && e.TargetID == "u1"
		}}
	}))

	sent, err := f.svc.SendRequest(ctx, "u1", "u2", SendRequestInput{})
	require.NoError(t, err)

	res, err := f.svc.AcceptRequest(ctx, sent.Edge.ID, "u2")
	require.NoError(t, err, "a lost reciprocal never fails the accept")
	assert.Equal(t, StatusAccepted, f.edge(t, "u1", "u2").Status)

	require.Len(t, res.Warnings, 1)
	assert.True(t, errors.Is(res.Warnings[0], apperror.ErrRepairRequired))
	require.Len(t, f.repairs.calls, 1)
	assert.Equal(t, repairCall{OwnerID: "u2", TargetID: "u1", Intent: StatusAccepted}, f.repairs.calls[0])

	// A retry against a healthy store converges the pair.
	healthy := newServiceOn(f, f.repo)
	_, err = healthy.AcceptRequest(ctx, sent.Edge.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, f.edge(t, "u2", "u1").Status)
	f.requireInvariants(t)
}

func TestRemoveFriend_DegradedReciprocalIsQueued(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, withTransactions(false), withStore(func(s Store) Store {
		return &droppingStore{Store: s, drop: func(e *Edge) bool {
			return e.OwnerID == "u2" && e.Status == StatusRemoved
		}}
	}))
	f.seed(t, &Edge{OwnerID: "u1", TargetID: "u2", Status: StatusAccepted, Origin: OriginAppSearch})
	f.seed(t, &Edge{OwnerID: "u2", TargetID: "u1", Status: StatusAccepted, Origin: OriginAppSearch})

	res, err := f.svc.RemoveFriend(ctx, "u1", "u2")
	require.NoError(t, err)

	assert.Equal(t, StatusRemoved, f.edge(t, "u1", "u2").Status)
	assert.Equal(t, StatusAccepted, f.edge(t, "u2", "u1").Status)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "repair_required", res.Warnings[0].Code)
	require.Len(t, f.repairs.calls, 1)
	assert.Equal(t, repairCall{OwnerID: "u2", TargetID: "u1", Intent: StatusRemoved}, f.repairs.calls[0])
}

func TestGetFriendRequests_HidesBlockedSenders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.SendRequest(ctx, "u1", "u2", SendRequestInput{})
	require.NoError(t, err)
	_, err = f.svc.SendRequest(ctx, "u3", "u2", SendRequestInput{})
	require.NoError(t, err)
	_, err = f.svc.SendRequest(ctx, "u2", "u4", SendRequestInput{})
	require.NoError(t, err)
	_, err = f.svc.BlockUser(ctx, "u2", "u3")
	require.NoError(t, err)

	reqs, err := f.svc.GetFriendRequests(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, reqs.Incoming, 1)
	assert.Equal(t, "u1", reqs.Incoming[0].OwnerID)
	require.Len(t, reqs.Outgoing, 1)
	assert.Equal(t, "u4", reqs.Outgoing[0].TargetID)

	assert.Equal(t, StatusPending, f.edge(t, "u3", "u2").Status, "the blocked user's edge is untouched")
}

func TestGetFriends_RefreshesStaleSnapshots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	befriend(t, f, "u1", "u2")

	e := f.edge(t, "u1", "u2")
	e.CachedSnapshot = Snapshot{DisplayName: "Old", LastRefreshed: time.Now().UTC().Add(-48 * time.Hour)}
	require.NoError(t, f.repo.UpdateSnapshot(ctx, e))
	_, err := f.users.UpsertProfile(ctx, "u2", users.UpsertProfileRequest{DisplayName: "Renamed", Presence: "online"})
	require.NoError(t, err)

	friends, err := f.svc.GetFriends(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, "Renamed", friends[0].CachedSnapshot.DisplayName)
	assert.Equal(t, "online", friends[0].CachedSnapshot.Presence)
	assert.Equal(t, "Renamed", f.edge(t, "u1", "u2").CachedSnapshot.DisplayName)
}

func TestMutualFriendsAndCounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	befriend(t, f, "u1", "u3")
	befriend(t, f, "u2", "u3")
	befriend(t, f, "u1", "u4")
	f.seed(t, &Edge{OwnerID: "u1", TargetID: "u5", Status: StatusAccepted, Origin: OriginDeviceContact, IsDeviceContact: true})

	mutual, err := f.svc.GetMutualFriends(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"u3"}, mutual)

	sent, err := f.svc.SendRequest(ctx, "u1", "u2", SendRequestInput{})
	require.NoError(t, err)
	require.NotNil(t, sent.Edge.RequestMetadata)
	assert.Equal(t, []string{"u3"}, sent.Edge.RequestMetadata.MutualFriends)

	counts, err := f.svc.CountFriends(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, &FriendCounts{Visible: 2, Accepted: 3, PendingOutgoing: 1, Blocked: 0}, counts)
}

func TestGetEdge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sent, err := f.svc.SendRequest(ctx, "u1", "u2", SendRequestInput{})
	require.NoError(t, err)

	for _, actor := range []string{"u1", "u2"} {
		e, err := f.svc.GetEdge(ctx, sent.Edge.ID, actor)
		require.NoError(t, err)
		assert.Equal(t, sent.Edge.ID, e.ID)
	}
	_, err = f.svc.GetEdge(ctx, sent.Edge.ID, "u3")
	assert.True(t, errors.Is(err, apperror.ErrNotParticipant))
}

// newServiceOn builds a second service sharing the fixture's collaborators
// over a different store.
func newServiceOn(f *fixture, store Store) *Service {
	s := *f.svc
	s.store = store
	s.resolver = NewResolver(store)
	return &s
}
