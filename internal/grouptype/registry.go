// Package grouptype classifies (entity type, bundle) pairs as groups or
// group content. The registry is filled at configuration time and read on
// every access decision, so lookups take a read lock only.
package grouptype

import (
	"sort"
	"sync"
)

// Kind states how a bundle participates in the group graph.
type Kind int

const (
	// Group marks a membership-bearing container bundle.
	Group Kind = iota + 1
	// GroupContent marks a bundle that belongs to groups via audience fields.
	GroupContent
)

func (k Kind) String() string {
	switch k {
	case Group:
		return "group"
	case GroupContent:
		return "group_content"
	default:
		return "none"
	}
}

// Descriptor is one registered classification.
type Descriptor struct {
	EntityType string `json:"entity_type"`
	Bundle     string `json:"bundle"`
	Kind       Kind   `json:"kind"`
}

type pair struct {
	entityType string
	bundle     string
}

// Registry is the lookup table over registered descriptors. A pair holds at
// most one Kind, which keeps IsGroup and IsGroupContent mutually exclusive.
type Registry struct {
	mu       sync.RWMutex
	entries  map[pair]Kind
	onChange func()
}

// Option configures a Registry.
type Option func(*Registry)

// WithChangeNotifier installs a callback invoked after every Register or
// Unregister. The host uses it to schedule a route rebuild.
func WithChangeNotifier(fn func()) Option {
	return func(r *Registry) {
		r.onChange = fn
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{entries: make(map[pair]Kind)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register classifies a pair. Re-registering replaces the previous kind, so
// a pair can never carry both classifications at once.
func (r *Registry) Register(entityType, bundle string, kind Kind) {
	r.mu.Lock()
	r.entries[pair{entityType, bundle}] = kind
	r.mu.Unlock()
	r.notify()
}

// Unregister removes a classification. Memberships referencing the pair are
// left in place for the caller to reconcile.
func (r *Registry) Unregister(entityType, bundle string) {
	r.mu.Lock()
	delete(r.entries, pair{entityType, bundle})
	r.mu.Unlock()
	r.notify()
}

// IsGroup reports whether the pair is classified as a group.
func (r *Registry) IsGroup(entityType, bundle string) bool {
	return r.kind(entityType, bundle) == Group
}

// IsGroupContent reports whether the pair is classified as group content.
func (r *Registry) IsGroupContent(entityType, bundle string) bool {
	return r.kind(entityType, bundle) == GroupContent
}

// KindOf returns the registered kind for a pair, if any.
func (r *Registry) KindOf(entityType, bundle string) (Kind, bool) {
	k := r.kind(entityType, bundle)
	return k, k != 0
}

// HasGroupType reports whether any bundle of the entity type is a group.
func (r *Registry) HasGroupType(entityType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for p, k := range r.entries {
		if p.entityType == entityType && k == Group {
			return true
		}
	}
	return false
}

// Descriptors lists all registrations ordered by type then bundle.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.entries))
	for p, k := range r.entries {
		out = append(out, Descriptor{EntityType: p.entityType, Bundle: p.bundle, Kind: k})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityType != out[j].EntityType {
			return out[i].EntityType < out[j].EntityType
		}
		return out[i].Bundle < out[j].Bundle
	})
	return out
}

func (r *Registry) kind(entityType, bundle string) Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[pair{entityType, bundle}]
}

func (r *Registry) notify() {
	if r.onChange != nil {
		r.onChange()
	}
}
