package relationships

import "context"

// BlockList answers whether either user has blocked the other.
type BlockList interface {
	IsBlocked(ctx context.Context, a, b string) (bool, error)
}

// EdgeBlockList reads blocks from the edge store.
type EdgeBlockList struct {
	store Store
}

// NewEdgeBlockList creates a block list backed by edges
func NewEdgeBlockList(store Store) *EdgeBlockList {
	return &EdgeBlockList{store: store}
}

func (l *EdgeBlockList) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	edges, err := l.store.List(ctx, Filter{
		OwnerIDs:  []string{a, b},
		TargetIDs: []string{a, b},
		Statuses:  []Status{StatusBlocked},
	})
	if err != nil {
		return false, err
	}
	for _, e := range edges {
		if e.OwnerID != e.TargetID {
			return true, nil
		}
	}
	return false, nil
}
