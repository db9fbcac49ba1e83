package domain

import "time"

// Role is the caller's authorisation level. Authentication happens upstream;
// the core only consumes the established identity.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is upserted on first observation. The core does not own password or
// session data.
type User struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Identity is the caller identity established by the upstream authentication
// collaborator, conveyed per request.
type Identity struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the caller has elevated privileges.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
