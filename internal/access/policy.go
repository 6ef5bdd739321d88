package access

import (
	"context"

	"groupcore.org/internal/audience"
	"groupcore.org/internal/entity"
	"groupcore.org/internal/grouptype"
	"groupcore.org/internal/membership"
)

// Policy is the group-type-specific delegate consulted for non-admin
// accounts. Delegates answer Allowed or Neutral; strictness is applied by
// the resolver, not the delegate.
type Policy interface {
	Resolve(ctx context.Context, operation string, e entity.Entity, account Account) Decision
}

// SelectionHandler answers whether a field has any group the account could
// pick at entity creation time.
type SelectionHandler interface {
	HasSelectableGroups(ctx context.Context, field audience.Field, account Account) bool
}

// MembershipPolicy is the default delegate: an operation is allowed when
// the account holds an active membership, in the entity's group (or one of
// the content's groups), with a role granting the operation's permission.
type MembershipPolicy struct {
	Manager  *membership.Manager
	Registry *grouptype.Registry
}

func (p MembershipPolicy) Resolve(ctx context.Context, operation string, e entity.Entity, account Account) Decision {
	groups := p.Manager.GroupIDs(e)
	// A group entity is checked against itself in addition to any groups
	// it belongs to as content.
	if p.Registry != nil && p.Registry.IsGroup(e.Type, e.Bundle) {
		if groups[e.Type] == nil {
			groups[e.Type] = make(map[string]struct{})
		}
		groups[e.Type][e.ID] = struct{}{}
	}

	perm := OperationPermission(e.Type, operation)
	for groupType, ids := range groups {
		for groupID := range ids {
			if p.grants(ctx, groupType, groupID, account.ID(), perm) {
				return Allowed
			}
		}
	}
	return Neutral
}

func (p MembershipPolicy) grants(ctx context.Context, groupType, groupID, userID, perm string) bool {
	rec, err := p.Manager.Membership(ctx, groupType, groupID, userID)
	if err != nil || rec.State != membership.StateActive {
		return false
	}
	for _, roleID := range rec.Roles {
		role, err := p.Manager.Role(ctx, roleID)
		if err != nil {
			continue
		}
		if role.Grants(perm) {
			return true
		}
	}
	return false
}

// MembershipSelection is the default selection handler: the account can
// select any group of the field's target type it actively belongs to.
type MembershipSelection struct {
	Manager *membership.Manager
}

func (s MembershipSelection) HasSelectableGroups(ctx context.Context, field audience.Field, account Account) bool {
	records, err := s.Manager.ListByUser(ctx, account.ID())
	if err != nil {
		return false
	}
	for _, rec := range records {
		if rec.GroupType == field.TargetType && rec.State == membership.StateActive {
			return true
		}
	}
	return false
}
