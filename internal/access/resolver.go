package access

import (
	"context"

	"groupcore.org/internal/audience"
	"groupcore.org/internal/entity"
	"groupcore.org/internal/grouptype"
	"groupcore.org/internal/membership"
)

// Resolver evaluates entity and create access per the multi-voter model:
// Allowed wins immediately, Forbidden is returned only when strict mode
// leaves no path to satisfaction, Neutral defers.
type Resolver struct {
	registry  *grouptype.Registry
	manager   *membership.Manager
	catalog   *audience.Catalog
	selection SelectionHandler
	policies  map[string]Policy
	fallback  Policy
	strict    map[string]bool
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithStrictTypes enables strict access mode for the given entity types.
func WithStrictTypes(entityTypes ...string) ResolverOption {
	return func(r *Resolver) {
		for _, t := range entityTypes {
			r.strict[t] = true
		}
	}
}

// WithPolicy installs a group-type-specific policy delegate.
func WithPolicy(entityType string, p Policy) ResolverOption {
	return func(r *Resolver) {
		r.policies[entityType] = p
	}
}

// WithSelectionHandler overrides the default selection handler.
func WithSelectionHandler(h SelectionHandler) ResolverOption {
	return func(r *Resolver) {
		if h != nil {
			r.selection = h
		}
	}
}

// NewResolver constructs a resolver with the membership-based defaults.
func NewResolver(registry *grouptype.Registry, manager *membership.Manager, catalog *audience.Catalog, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		registry:  registry,
		manager:   manager,
		catalog:   catalog,
		selection: MembershipSelection{Manager: manager},
		policies:  make(map[string]Policy),
		fallback:  MembershipPolicy{Manager: manager, Registry: registry},
		strict:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Strict reports whether an entity type runs in strict access mode.
func (r *Resolver) Strict(entityType string) bool {
	return r.strict[entityType]
}

// Resolve decides access to an existing entity.
func (r *Resolver) Resolve(ctx context.Context, operation string, e entity.Entity, account Account) Decision {
	if _, classified := r.registry.KindOf(e.Type, e.Bundle); !classified {
		return Neutral
	}
	// Viewing is gated elsewhere in the host system.
	if operation == OpView {
		return Neutral
	}
	if account.HasPermission(PermAdministerGroup) {
		return Allowed
	}
	if r.delegate(e.Type).Resolve(ctx, operation, e, account) == Allowed {
		return Allowed
	}
	if r.strict[e.Type] {
		return Forbidden
	}
	return Neutral
}

// ResolveCreate decides access to creating an entity of the target bundle.
// No entity instance exists yet, so the decision rests on whether the
// account could attach the new content to any group.
func (r *Resolver) ResolveCreate(ctx context.Context, account Account, entityType, bundle string) Decision {
	if !r.registry.IsGroupContent(entityType, bundle) {
		return Neutral
	}
	if account.HasPermission(PermAdministerGroup) {
		return Allowed
	}
	strict := r.strict[entityType]
	if !strict && account.HasPermission(CreatePermission(entityType, bundle)) {
		// Missing group context is not itself disqualifying; let other
		// voters decide.
		return Neutral
	}

	requiredSeen := false
	for _, field := range r.catalog.ListAudienceFields(entityType, bundle) {
		if field.Required {
			requiredSeen = true
		}
		if r.selection.HasSelectableGroups(ctx, field, account) {
			// The user can pick a group at creation time; defer final say.
			return Neutral
		}
	}
	if strict && requiredSeen {
		return Forbidden
	}
	return Neutral
}

func (r *Resolver) delegate(entityType string) Policy {
	if p, ok := r.policies[entityType]; ok {
		return p
	}
	return r.fallback
}
