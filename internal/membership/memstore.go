package membership

import (
	"context"
	"sync"
)

// MemStore implements Store with in-process concurrency safety. The
// production deployment uses the postgres store; MemStore backs tests and
// single-process setups.
type MemStore struct {
	mu          sync.RWMutex
	memberships map[string]*Membership
	roles       map[string]*Role
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		memberships: make(map[string]*Membership),
		roles:       make(map[string]*Role),
	}
}

func (s *MemStore) Memberships(ctx context.Context) MembershipStore { return (*memMemberships)(s) }
func (s *MemStore) Roles(ctx context.Context) RoleStore             { return (*memRoles)(s) }

type memMemberships MemStore

func (s *memMemberships) Create(ctx context.Context, m *Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.memberships {
		if existing.UserID == m.UserID && existing.GroupType == m.GroupType && existing.GroupID == m.GroupID {
			return ErrAlreadyExists
		}
	}
	cp := *m
	s.memberships[m.ID] = &cp
	return nil
}

func (s *memMemberships) Find(ctx context.Context, id string) (*Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memMemberships) FindByGroupUser(ctx context.Context, groupType, groupID, userID string) (*Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.memberships {
		if m.UserID == userID && m.GroupType == groupType && m.GroupID == groupID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memMemberships) ListByUser(ctx context.Context, userID string) ([]*Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Membership
	for _, m := range s.memberships {
		if m.UserID == userID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memMemberships) ListByGroup(ctx context.Context, groupType, groupID string) ([]*Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Membership
	for _, m := range s.memberships {
		if m.GroupType == groupType && m.GroupID == groupID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memMemberships) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memberships[id]; !ok {
		return ErrNotFound
	}
	delete(s.memberships, id)
	return nil
}

type memRoles MemStore

func (s *memRoles) Create(ctx context.Context, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *role
	s.roles[role.ID] = &cp
	return nil
}

func (s *memRoles) Find(ctx context.Context, id string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *role
	return &cp, nil
}

func (s *memRoles) ListByGroupType(ctx context.Context, groupType string) ([]*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Role
	for _, role := range s.roles {
		if role.GroupType == groupType {
			cp := *role
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memRoles) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return ErrNotFound
	}
	delete(s.roles, id)
	return nil
}
