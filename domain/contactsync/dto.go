package contactsync

import "github.com/emergent-company/tether/domain/relationships"

// SyncRequest is the request body for POST /api/contacts/sync
type SyncRequest struct {
	Identifiers []string `json:"identifiers" validate:"required,dive,max=320"`
}

// SyncResponse is the response for POST /api/contacts/sync
type SyncResponse struct {
	Created   []*relationships.Edge `json:"created"`
	Refreshed int                   `json:"refreshed"`
	Cleared   int                   `json:"cleared"`
	Unmatched int                   `json:"unmatched"`
	Invalid   []InvalidIdentifier   `json:"invalid"`
}

// ToSyncResponse converts a sync Result.
func ToSyncResponse(r *Result) SyncResponse {
	return SyncResponse{
		Created:   r.Created,
		Refreshed: r.Refreshed,
		Cleared:   r.Cleared,
		Unmatched: r.Unmatched,
		Invalid:   r.Invalid,
	}
}
