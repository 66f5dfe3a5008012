package relationships

import (
	"time"

	"github.com/emergent-company/tether/pkg/apperror"
)

// SendRequestBody is the request body for POST /api/relationships/requests
type SendRequestBody struct {
	TargetID string `json:"targetId" validate:"required,max=128"`
	Message  string `json:"message,omitempty" validate:"max=1000"`
	Origin   Origin `json:"origin,omitempty" validate:"omitempty,oneof=app_search qr_code invite_link mutual_friend suggested"`
}

// WarningDTO is a non-fatal problem attached to a successful response.
type WarningDTO struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ResultDTO is the response for mutating endpoints.
type ResultDTO struct {
	Edge         *Edge        `json:"edge"`
	Reciprocal   *Edge        `json:"reciprocal,omitempty"`
	AutoAccepted bool         `json:"autoAccepted,omitempty"`
	Warnings     []WarningDTO `json:"warnings,omitempty"`
}

// ToResultDTO converts a service Result.
func ToResultDTO(r *Result) ResultDTO {
	dto := ResultDTO{Edge: r.Edge, Reciprocal: r.Reciprocal, AutoAccepted: r.AutoAccepted}
	for _, w := range r.Warnings {
		dto.Warnings = append(dto.Warnings, toWarning(w))
	}
	return dto
}

func toWarning(e *apperror.Error) WarningDTO {
	return WarningDTO{Code: e.Code, Message: e.Message, Details: e.Details}
}

// FriendDTO is one entry of the friend list.
type FriendDTO struct {
	UserID      string     `json:"userId"`
	DisplayName string     `json:"displayName"`
	Image       string     `json:"image,omitempty"`
	Handle      string     `json:"handle,omitempty"`
	Presence    string     `json:"presence,omitempty"`
	Origin      Origin     `json:"origin"`
	AcceptedAt  *time.Time `json:"acceptedAt,omitempty"`
}

// FriendListResponse is the response for GET /api/relationships/friends
type FriendListResponse struct {
	Friends []FriendDTO `json:"friends"`
	Total   int         `json:"total"`
}

// ToFriendList converts visible edges to the friend list response.
func ToFriendList(edges []*Edge) FriendListResponse {
	friends := make([]FriendDTO, 0, len(edges))
	for _, e := range edges {
		friends = append(friends, FriendDTO{
			UserID:      e.TargetID,
			DisplayName: e.CachedSnapshot.DisplayName,
			Image:       e.CachedSnapshot.Image,
			Handle:      e.CachedSnapshot.Handle,
			Presence:    e.CachedSnapshot.Presence,
			Origin:      e.Origin,
			AcceptedAt:  e.AcceptedAt,
		})
	}
	return FriendListResponse{Friends: friends, Total: len(friends)}
}

// FriendRequestsResponse is the response for GET /api/relationships/requests
type FriendRequestsResponse struct {
	Incoming []*Edge `json:"incoming"`
	Outgoing []*Edge `json:"outgoing"`
}

// MutualFriendsResponse is the response for GET /api/relationships/friends/:userId/mutual
type MutualFriendsResponse struct {
	UserIDs []string `json:"userIds"`
	Total   int      `json:"total"`
}

// CountsResponse is the response for GET /api/relationships/counts
type CountsResponse struct {
	Friends         int `json:"friends"`
	Accepted        int `json:"accepted"`
	PendingOutgoing int `json:"pendingOutgoing"`
	Blocked         int `json:"blocked"`
}
