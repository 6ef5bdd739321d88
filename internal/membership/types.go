package membership

import "time"

// Membership states.
const (
	StateActive  = "active"
	StatePending = "pending"
	StateBlocked = "blocked"
)

// Membership records that a user belongs to a group with a set of roles.
// Unique on (UserID, GroupType, GroupID).
type Membership struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	GroupType string    `json:"group_type"`
	GroupID   string    `json:"group_id"`
	Roles     []string  `json:"roles,omitempty"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasRole reports whether the membership carries the role id.
func (m *Membership) HasRole(roleID string) bool {
	for _, id := range m.Roles {
		if id == roleID {
			return true
		}
	}
	return false
}

// Role groups permissions within one group entity type.
type Role struct {
	ID          string    `json:"id"`
	GroupType   string    `json:"group_type"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Grants reports whether the role carries the permission key.
func (r *Role) Grants(permission string) bool {
	for _, p := range r.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}
