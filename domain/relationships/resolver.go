package relationships

import (
	"context"
	"sort"
)

// Resolver computes visible friend lists from raw edges.
type Resolver struct {
	store Store
}

// NewResolver creates a new mutuality resolver
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// VisibleFriends returns the owner's edges that surface as friends, ordered
// by target id. Reciprocals of device-contact edges are fetched in one query.
func (r *Resolver) VisibleFriends(ctx context.Context, ownerID string) ([]*Edge, error) {
	edges, err := r.store.List(ctx, Filter{
		OwnerIDs: []string{ownerID},
		Statuses: []Status{StatusAccepted},
	})
	if err != nil {
		return nil, err
	}

	var deviceTargets []string
	for _, e := range edges {
		if e.Origin == OriginDeviceContact {
			deviceTargets = append(deviceTargets, e.TargetID)
		}
	}

	reciprocals := make(map[string]*Edge, len(deviceTargets))
	if len(deviceTargets) > 0 {
		back, err := r.store.List(ctx, Filter{
			OwnerIDs:  deviceTargets,
			TargetIDs: []string{ownerID},
			Statuses:  []Status{StatusAccepted},
			Origins:   []Origin{OriginDeviceContact},
		})
		if err != nil {
			return nil, err
		}
		for _, e := range back {
			reciprocals[e.OwnerID] = e
		}
	}

	visible := make([]*Edge, 0, len(edges))
	for _, e := range edges {
		if Visible(e, reciprocals[e.TargetID]) {
			visible = append(visible, e)
		}
	}
	sort.Slice(visible, func(i, j int) bool { return visible[i].TargetID < visible[j].TargetID })
	return visible, nil
}

// VisibleFriendIDs returns the target ids of VisibleFriends.
func (r *Resolver) VisibleFriendIDs(ctx context.Context, ownerID string) ([]string, error) {
	edges, err := r.VisibleFriends(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(edges))
	for i, e := range edges {
		ids[i] = e.TargetID
	}
	return ids, nil
}

// MutualFriends intersects the visible friends of a and b. The two users
// themselves are never part of the result.
func (r *Resolver) MutualFriends(ctx context.Context, a, b string) ([]string, error) {
	left, err := r.VisibleFriendIDs(ctx, a)
	if err != nil {
		return nil, err
	}
	if len(left) == 0 {
		return []string{}, nil
	}
	right, err := r.VisibleFriendIDs(ctx, b)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(right))
	for _, id := range right {
		seen[id] = struct{}{}
	}
	mutual := []string{}
	for _, id := range left {
		if id == a || id == b {
			continue
		}
		if _, ok := seen[id]; ok {
			mutual = append(mutual, id)
		}
	}
	return mutual, nil
}
