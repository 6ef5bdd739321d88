package entity

import (
	"context"
	"sync"
)

// ReferenceFieldsFunc names the fields of a bundle that can reference
// entities of the given target type. ReferencingContent scans only those
// fields; a nil func scans every field value.
type ReferenceFieldsFunc func(entityType, bundle, targetType string) []string

// MemSourceOption configures a MemSource.
type MemSourceOption func(*MemSource)

// WithReferenceFields installs the field filter used by
// ReferencingContent, typically backed by the audience field catalog.
func WithReferenceFields(fn ReferenceFieldsFunc) MemSourceOption {
	return func(s *MemSource) { s.refFields = fn }
}

// MemSource implements Source with in-process concurrency safety.
// The production deployment points the engine at the real host store;
// MemSource backs tests and single-process setups.
type MemSource struct {
	mu        sync.RWMutex
	entities  map[Ref]Entity
	refFields ReferenceFieldsFunc
}

// NewMemSource creates an empty in-memory source.
func NewMemSource(opts ...MemSourceOption) *MemSource {
	s := &MemSource{entities: make(map[Ref]Entity)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores or replaces an entity.
func (s *MemSource) Put(e Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.Ref()] = e
}

func (s *MemSource) Load(ctx context.Context, ref Ref) (Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[ref]
	if !ok {
		return Entity{}, ErrNotFound
	}
	// return copy
	out := e
	out.Fields = make(map[string][]string, len(e.Fields))
	for k, v := range e.Fields {
		vals := make([]string, len(v))
		copy(vals, v)
		out.Fields[k] = vals
	}
	return out, nil
}

func (s *MemSource) Delete(ctx context.Context, ref Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[ref]; !ok {
		return ErrNotFound
	}
	delete(s.entities, ref)
	return nil
}

// ReferencingContent lists entities holding a reference to the group.
// With a ReferenceFieldsFunc installed only the declared reference fields
// for the group's entity type are consulted; without one every field is
// scanned and callers must re-validate the candidates.
func (s *MemSource) ReferencingContent(ctx context.Context, group Ref) ([]Ref, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var refs []Ref
	for ref, e := range s.entities {
		if ref == group {
			continue
		}
		if s.refFields == nil {
			for _, values := range e.Fields {
				if containsRef(values, group.ID) {
					refs = append(refs, ref)
					break
				}
			}
			continue
		}
		for _, name := range s.refFields(e.Type, e.Bundle, group.Type) {
			if containsRef(e.Fields[name], group.ID) {
				refs = append(refs, ref)
				break
			}
		}
	}
	return refs, nil
}

// Len reports the number of stored entities.
func (s *MemSource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

func containsRef(values []string, id string) bool {
	for _, v := range values {
		if v == id {
			return true
		}
	}
	return false
}
