package relationships

import (
	"time"

	"github.com/uptrace/bun"
)

// Status is the lifecycle state of a directed edge.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusBlocked  Status = "blocked"
	StatusRemoved  Status = "removed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusBlocked, StatusRemoved:
		return true
	}
	return false
}

// Origin records how an edge came to exist.
type Origin string

const (
	OriginDeviceContact Origin = "device_contact"
	OriginAppSearch     Origin = "app_search"
	OriginQRCode        Origin = "qr_code"
	OriginInviteLink    Origin = "invite_link"
	OriginMutualFriend  Origin = "mutual_friend"
	OriginSuggested     Origin = "suggested"
)

// Valid reports whether o is a known origin.
func (o Origin) Valid() bool {
	switch o {
	case OriginDeviceContact, OriginAppSearch, OriginQRCode,
		OriginInviteLink, OriginMutualFriend, OriginSuggested:
		return true
	}
	return false
}

// Snapshot is the denormalized view of the target user kept on the edge.
// It is a cache and never authoritative.
type Snapshot struct {
	DisplayName   string    `json:"displayName"`
	Image         string    `json:"image,omitempty"`
	Handle        string    `json:"handle,omitempty"`
	Presence      string    `json:"presence,omitempty"`
	LastRefreshed time.Time `json:"lastRefreshed"`
}

// Stale reports whether the snapshot is older than ttl at now.
func (s Snapshot) Stale(now time.Time, ttl time.Duration) bool {
	if s.LastRefreshed.IsZero() {
		return true
	}
	return ttl > 0 && now.Sub(s.LastRefreshed) > ttl
}

// RequestMetadata is captured when a friend request is sent.
type RequestMetadata struct {
	Message       string    `json:"message,omitempty"`
	MutualFriends []string  `json:"mutualFriends,omitempty"`
	SentAt        time.Time `json:"sentAt"`
}

// Edge is one directed relationship row: OwnerID's view of TargetID.
// At most one edge exists per (OwnerID, TargetID).
type Edge struct {
	bun.BaseModel `bun:"table:relationship_edges,alias:re"`

	ID              string           `bun:"id,pk" json:"id"`
	OwnerID         string           `bun:"owner_id,notnull" json:"ownerId"`
	TargetID        string           `bun:"target_id,notnull" json:"targetId"`
	Status          Status           `bun:"status,notnull" json:"status"`
	Origin          Origin           `bun:"origin,notnull" json:"origin"`
	IsDeviceContact bool             `bun:"is_device_contact,notnull" json:"isDeviceContact"`
	CachedSnapshot  Snapshot         `bun:"cached_snapshot,type:jsonb,notnull" json:"cachedSnapshot"`
	RequestMetadata *RequestMetadata `bun:"request_metadata,type:jsonb" json:"requestMetadata,omitempty"`
	IsDeleted       bool             `bun:"is_deleted,notnull" json:"isDeleted"`
	AddedAt         time.Time        `bun:"added_at,notnull" json:"addedAt"`
	AcceptedAt      *time.Time       `bun:"accepted_at" json:"acceptedAt,omitempty"`
	BlockedAt       *time.Time       `bun:"blocked_at" json:"blockedAt,omitempty"`
	RemovedAt       *time.Time       `bun:"removed_at" json:"removedAt,omitempty"`
	LastDeviceSync  *time.Time       `bun:"last_device_sync" json:"lastDeviceSync,omitempty"`
	UpdatedAt       time.Time        `bun:"updated_at,notnull" json:"updatedAt"`
}

// Normalize derives the fields that follow from Status and Origin and
// stamps UpdatedAt. Every write path calls it before persisting.
func (e *Edge) Normalize(now time.Time) {
	e.IsDeleted = e.Status == StatusRemoved
	if e.Origin != OriginDeviceContact || e.Status == StatusBlocked {
		e.IsDeviceContact = false
	}
	if e.Status != StatusPending {
		e.RequestMetadata = nil
	}
	e.UpdatedAt = now
}

// Accept marks the edge accepted.
func (e *Edge) Accept(now time.Time) {
	e.Status = StatusAccepted
	e.AcceptedAt = &now
	e.BlockedAt = nil
	e.Normalize(now)
}

// Remove soft-deletes the edge.
func (e *Edge) Remove(now time.Time) {
	e.Status = StatusRemoved
	e.RemovedAt = &now
	e.Normalize(now)
}

func (e *Edge) Block(now time.Time) {
	e.Status = StatusBlocked
	e.BlockedAt = &now
	e.Normalize(now)
}

// Active reports whether the edge is accepted and not soft-deleted.
func (e *Edge) Active() bool {
	return e != nil && e.Status == StatusAccepted && !e.IsDeleted
}

// Reverse reports whether other is the reciprocal direction of e.
func (e *Edge) Reverse(other *Edge) bool {
	return other != nil && other.OwnerID == e.TargetID && other.TargetID == e.OwnerID
}
