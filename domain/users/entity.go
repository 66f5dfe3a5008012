package users

import (
	"time"

	"github.com/uptrace/bun"
)

// User is a directory entry in app_users.
type User struct {
	bun.BaseModel `bun:"table:app_users,alias:au"`

	ID          string     `bun:"id,pk" json:"id"`
	DisplayName string     `bun:"display_name,notnull" json:"displayName"`
	ImageURL    string     `bun:"image_url,notnull" json:"image,omitempty"`
	Handle      *string    `bun:"handle" json:"handle,omitempty"`
	PhoneE164   *string    `bun:"phone_e164" json:"-"`
	Email       *string    `bun:"email" json:"-"`
	Presence    string     `bun:"presence,notnull" json:"presence"`
	CreatedAt   time.Time  `bun:"created_at,notnull" json:"-"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull" json:"-"`
	DeletedAt   *time.Time `bun:"deleted_at" json:"-"`
}

// HandleValue returns the handle or the empty string.
func (u *User) HandleValue() string {
	if u.Handle == nil {
		return ""
	}
	return *u.Handle
}

// Kind classifies an identifier passed to Resolve.
type Kind string

const (
	KindID     Kind = "id"
	KindPhone  Kind = "phone"
	KindEmail  Kind = "email"
	KindHandle Kind = "handle"
)

// Classify reports the kind of an already normalized identifier and the key
// used to look it up: "@name" is a handle, "+digits" a phone number, anything
// else containing "@" an email, and the rest a user id.
func Classify(identifier string) (Kind, string) {
	switch {
	case len(identifier) > 1 && identifier[0] == '@':
		return KindHandle, identifier[1:]
	case len(identifier) > 1 && identifier[0] == '+':
		return KindPhone, identifier
	case containsAt(identifier):
		return KindEmail, identifier
	default:
		return KindID, identifier
	}
}

func containsAt(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '@' {
			return true
		}
	}
	return false
}

// UpsertProfileRequest is the request body for PUT /api/users/me
type UpsertProfileRequest struct {
	DisplayName string `json:"displayName" validate:"required,max=120"`
	Image       string `json:"image,omitempty" validate:"omitempty,url"`
	Handle      string `json:"handle,omitempty" validate:"omitempty,alphanum,min=2,max=32"`
	Phone       string `json:"phone,omitempty" validate:"omitempty,e164"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	Presence    string `json:"presence,omitempty" validate:"omitempty,oneof=online offline away"`
}
