package notifications

import (
	"time"

	"github.com/uptrace/bun"
)

// Notification is one event delivered to a user.
type Notification struct {
	bun.BaseModel `bun:"table:notifications,alias:n"`

	ID        string         `bun:"id,pk" json:"id"`
	UserID    string         `bun:"user_id,notnull" json:"userId"`
	Event     string         `bun:"event,notnull" json:"event"`
	Payload   map[string]any `bun:"payload,type:jsonb,notnull" json:"payload"`
	Read      bool           `bun:"read,notnull" json:"read"`
	CreatedAt time.Time      `bun:"created_at,notnull" json:"createdAt"`
}

// NotificationStats counts a user's notifications.
type NotificationStats struct {
	Unread        int64            `json:"unread"`
	Total         int64            `json:"total"`
	UnreadByEvent map[string]int64 `json:"unreadByEvent"`
}

// ListParams contains parameters for listing notifications
type ListParams struct {
	Event      string
	UnreadOnly bool
	Limit      int
}
