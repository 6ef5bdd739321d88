package membership

import "context"

// Store describes persistence operations required by the manager.
type Store interface {
	Memberships(ctx context.Context) MembershipStore
	Roles(ctx context.Context) RoleStore
}

// MembershipStore manages membership rows.
type MembershipStore interface {
	Create(ctx context.Context, m *Membership) error
	Find(ctx context.Context, id string) (*Membership, error)
	FindByGroupUser(ctx context.Context, groupType, groupID, userID string) (*Membership, error)
	ListByUser(ctx context.Context, userID string) ([]*Membership, error)
	ListByGroup(ctx context.Context, groupType, groupID string) ([]*Membership, error)
	Delete(ctx context.Context, id string) error
}

// RoleStore manages group roles.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	ListByGroupType(ctx context.Context, groupType string) ([]*Role, error)
	Delete(ctx context.Context, id string) error
}
