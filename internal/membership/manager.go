// Package membership owns membership and role records and resolves the
// group references of any observed entity.
//
// Known gap: roles are not cleaned up when their group is deleted, and
// memberships are not cleaned up when their user is deleted. Callers own
// that reconciliation.
package membership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"groupcore.org/internal/audience"
	"groupcore.org/internal/entity"
	"groupcore.org/internal/grouptype"
	"groupcore.org/internal/ids"
)

// DefaultRoleID is the role granted to a group's owner on creation when no
// other default is configured.
const DefaultRoleID = "member"

// GroupRefs maps group entity type to the set of referenced group ids.
type GroupRefs map[string]map[string]struct{}

// Contains reports whether the set includes the given group.
func (g GroupRefs) Contains(groupType, groupID string) bool {
	ids, ok := g[groupType]
	if !ok {
		return false
	}
	_, ok = ids[groupID]
	return ok
}

// Empty reports whether no group is referenced.
func (g GroupRefs) Empty() bool {
	for _, ids := range g {
		if len(ids) > 0 {
			return false
		}
	}
	return true
}

// Refs flattens the set into entity references.
func (g GroupRefs) Refs() []entity.Ref {
	var out []entity.Ref
	for groupType, ids := range g {
		for id := range ids {
			out = append(out, entity.Ref{Type: groupType, ID: id})
		}
	}
	return out
}

// Without returns a copy of the set with one group removed.
func (g GroupRefs) Without(groupType, groupID string) GroupRefs {
	out := make(GroupRefs, len(g))
	for t, set := range g {
		for id := range set {
			if t == groupType && id == groupID {
				continue
			}
			if out[t] == nil {
				out[t] = make(map[string]struct{})
			}
			out[t][id] = struct{}{}
		}
	}
	return out
}

// Manager provides membership operations on top of a Store and resolves
// group references through the audience catalog. Audience lookups are
// memoized per bundle; InvalidateCache drops the memoization only, never
// persisted rows.
type Manager struct {
	store       Store
	registry    *grouptype.Registry
	catalog     *audience.Catalog
	source      entity.Source
	defaultRole string
	now         func() time.Time

	memoMu sync.RWMutex
	memo   map[string][]audience.Field
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDefaultRole overrides the role granted on automatic membership.
func WithDefaultRole(roleID string) ManagerOption {
	return func(m *Manager) {
		if roleID != "" {
			m.defaultRole = roleID
		}
	}
}

// WithClock overrides the time source. Only intended for test use.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a Manager.
func NewManager(store Store, registry *grouptype.Registry, catalog *audience.Catalog, source entity.Source, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, errors.New("membership: store is required")
	}
	if registry == nil || catalog == nil {
		return nil, errors.New("membership: registry and catalog are required")
	}
	m := &Manager{
		store:       store,
		registry:    registry,
		catalog:     catalog,
		source:      source,
		defaultRole: DefaultRoleID,
		now:         func() time.Time { return time.Now().UTC() },
		memo:        make(map[string][]audience.Field),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CreateMembership creates an active membership with the default role.
// Returns ErrAlreadyExists when the (user, group) pair already has one.
func (m *Manager) CreateMembership(ctx context.Context, group entity.Entity, userID string) (*Membership, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if !m.registry.IsGroup(group.Type, group.Bundle) {
		return nil, fmt.Errorf("%w: %s/%s is not a group bundle", ErrInvalidInput, group.Type, group.Bundle)
	}

	ms := m.store.Memberships(ctx)
	if existing, err := ms.FindByGroupUser(ctx, group.Type, group.ID, userID); err == nil && existing != nil {
		return nil, ErrAlreadyExists
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := m.now()
	rec := &Membership{
		ID:        ids.New(),
		UserID:    userID,
		GroupType: group.Type,
		GroupID:   group.ID,
		Roles:     []string{m.defaultRole},
		State:     StateActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ms.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteMembership removes the membership for (user, group). Deleting a
// membership that does not exist is a no-op.
func (m *Manager) DeleteMembership(ctx context.Context, groupType, groupID, userID string) error {
	ms := m.store.Memberships(ctx)
	rec, err := ms.FindByGroupUser(ctx, groupType, groupID, userID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := ms.Delete(ctx, rec.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Membership returns the record for (user, group), or ErrNotFound.
func (m *Manager) Membership(ctx context.Context, groupType, groupID, userID string) (*Membership, error) {
	return m.store.Memberships(ctx).FindByGroupUser(ctx, groupType, groupID, userID)
}

// ListByUser returns all memberships of a user.
func (m *Manager) ListByUser(ctx context.Context, userID string) ([]*Membership, error) {
	return m.store.Memberships(ctx).ListByUser(ctx, userID)
}

// ListByGroup returns all memberships of a group.
func (m *Manager) ListByGroup(ctx context.Context, groupType, groupID string) ([]*Membership, error) {
	return m.store.Memberships(ctx).ListByGroup(ctx, groupType, groupID)
}

// CreateRole persists a group role scoped to a group entity type.
func (m *Manager) CreateRole(ctx context.Context, role *Role) (*Role, error) {
	if role == nil || role.Name == "" || role.GroupType == "" {
		return nil, fmt.Errorf("%w: role name and group type are required", ErrInvalidInput)
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	now := m.now()
	role.CreatedAt = now
	role.UpdatedAt = now
	if err := m.store.Roles(ctx).Create(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// Role loads a role by id.
func (m *Manager) Role(ctx context.Context, id string) (*Role, error) {
	return m.store.Roles(ctx).Find(ctx, id)
}

// ListRoles returns the roles scoped to a group entity type.
func (m *Manager) ListRoles(ctx context.Context, groupType string) ([]*Role, error) {
	return m.store.Roles(ctx).ListByGroupType(ctx, groupType)
}

// GroupIDs resolves the groups an entity currently references through its
// audience fields, deduplicated and grouped by group entity type. The
// resolution is one level deep: a group that is itself content of another
// group contributes only its direct references.
func (m *Manager) GroupIDs(e entity.Entity) GroupRefs {
	out := make(GroupRefs)
	for _, field := range m.audienceFields(e.Type, e.Bundle) {
		for _, id := range e.FieldValues(field.Name) {
			if id == "" {
				continue
			}
			if out[field.TargetType] == nil {
				out[field.TargetType] = make(map[string]struct{})
			}
			out[field.TargetType][id] = struct{}{}
		}
	}
	return out
}

// ReferencingContent lists the content entities whose audience fields point
// at the group: the inverse of GroupIDs.
func (m *Manager) ReferencingContent(ctx context.Context, group entity.Ref) ([]entity.Ref, error) {
	if m.source == nil {
		return nil, errors.New("membership: entity source not configured")
	}
	return m.source.ReferencingContent(ctx, group)
}

// InvalidateCache drops the process-local audience memoization. Persisted
// membership and role rows are untouched.
func (m *Manager) InvalidateCache() {
	m.memoMu.Lock()
	m.memo = make(map[string][]audience.Field)
	m.memoMu.Unlock()
}

func (m *Manager) audienceFields(entityType, bundle string) []audience.Field {
	key := entityType + "/" + bundle
	m.memoMu.RLock()
	fields, ok := m.memo[key]
	m.memoMu.RUnlock()
	if ok {
		return fields
	}
	fields = m.catalog.ListAudienceFields(entityType, bundle)
	m.memoMu.Lock()
	m.memo[key] = fields
	m.memoMu.Unlock()
	return fields
}
