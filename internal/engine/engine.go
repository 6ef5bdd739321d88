// Package engine wires the group components to the host lifecycle bus and
// exposes the access-check entry points.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"groupcore.org/internal/access"
	"groupcore.org/internal/audience"
	"groupcore.org/internal/audit"
	"groupcore.org/internal/cache"
	"groupcore.org/internal/entity"
	"groupcore.org/internal/event"
	"groupcore.org/internal/grouptype"
	"groupcore.org/internal/membership"
	"groupcore.org/internal/obs"
	"groupcore.org/internal/orphan"
)

// OpCreate labels create-access checks in metrics.
const OpCreate = "create"

// Config is the engine's configuration surface.
type Config struct {
	// DeleteOrphans enables orphan cleanup on group deletion.
	DeleteOrphans bool
	// OrphanStrategy selects a registered cleanup strategy by id.
	OrphanStrategy string
	// OrphanQueueCapacity bounds the cleanup work queue.
	OrphanQueueCapacity int
	// OrphanChunkSize sizes batch-strategy chunks.
	OrphanChunkSize int
}

// Deps carries the engine's collaborators.
type Deps struct {
	Registry *grouptype.Registry
	Catalog  *audience.Catalog
	Manager  *membership.Manager
	Resolver *access.Resolver
	Tracker  *cache.Tracker
	Source   entity.Source
}

// Engine observes entity lifecycle notifications and keeps memberships,
// caches and orphan bookkeeping consistent. It never initiates entity
// mutation beyond creating default memberships and deleting orphans.
type Engine struct {
	cfg         Config
	registry    *grouptype.Registry
	catalog     *audience.Catalog
	manager     *membership.Manager
	resolver    *access.Resolver
	tracker     *cache.Tracker
	strategy    orphan.Strategy
	routesStale atomic.Bool
}

// New constructs an Engine. Selecting an unknown orphan strategy is a
// configuration error reported here, before any deletion can silently skip
// cleanup.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Registry == nil || deps.Catalog == nil || deps.Manager == nil || deps.Resolver == nil || deps.Tracker == nil {
		return nil, errors.New("engine: missing dependencies")
	}
	e := &Engine{
		cfg:      cfg,
		registry: deps.Registry,
		catalog:  deps.Catalog,
		manager:  deps.Manager,
		resolver: deps.Resolver,
		tracker:  deps.Tracker,
	}
	if cfg.DeleteOrphans {
		id := cfg.OrphanStrategy
		if id == "" {
			id = orphan.StrategyQueue
		}
		strategy, err := orphan.New(id, orphan.Deps{
			Manager:       deps.Manager,
			Registry:      deps.Registry,
			Source:        deps.Source,
			QueueCapacity: cfg.OrphanQueueCapacity,
			ChunkSize:     cfg.OrphanChunkSize,
		})
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.strategy = strategy
	}
	return e, nil
}

// Bind subscribes the engine's handlers to the lifecycle bus. Subscription
// order matters: cache invalidation runs after mutations have landed and
// orphan registration runs before the deletion proceeds.
func (e *Engine) Bind(bus *event.Bus) {
	bus.OnInserted(e.handleInserted)
	bus.OnUpdated(e.handleUpdated)
	bus.OnPreDelete(e.handlePreDelete)
	bus.OnDeleted(e.handleDeleted)
}

// Strategy exposes the configured orphan strategy, nil when cleanup is
// disabled.
func (e *Engine) Strategy() orphan.Strategy {
	return e.strategy
}

// AccessCheck resolves access to an existing entity.
func (e *Engine) AccessCheck(ctx context.Context, operation string, ent entity.Entity, account access.Account) access.Decision {
	d := e.resolver.Resolve(ctx, operation, ent, account)
	obs.CountAccessDecision(operation, d.String())
	return d
}

// CreateAccessCheck resolves access to creating an entity of the bundle.
func (e *Engine) CreateAccessCheck(ctx context.Context, account access.Account, entityType, bundle string) access.Decision {
	d := e.resolver.ResolveCreate(ctx, account, entityType, bundle)
	obs.CountAccessDecision(OpCreate, d.String())
	return d
}

// FieldInfo describes one computed field the engine contributes to a
// bundle's field map.
type FieldInfo struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Computed bool   `json:"computed"`
	ReadOnly bool   `json:"read_only"`
}

// AudienceFields lists the group audience fields defined on a bundle.
func (e *Engine) AudienceFields(entityType, bundle string) []audience.Field {
	return e.catalog.ListAudienceFields(entityType, bundle)
}

// BundleFields returns the engine's computed fields for a bundle: group
// bundles carry a read-only "is group" flag.
func (e *Engine) BundleFields(entityType, bundle string) []FieldInfo {
	if !e.registry.IsGroup(entityType, bundle) {
		return nil
	}
	return []FieldInfo{{
		Name:     "group",
		Label:    "Group",
		Computed: true,
		ReadOnly: true,
	}}
}

// AdminRoutes returns the admin link template registered on every entity
// type at startup. Actual access to the routes is gated elsewhere.
func (e *Engine) AdminRoutes(entityTypes []string) map[string]string {
	routes := make(map[string]string, len(entityTypes))
	for _, t := range entityTypes {
		routes[t] = fmt.Sprintf("/group/%s/{id}/admin", t)
	}
	return routes
}

// MarkRoutesStale records that the registry changed and the host must
// rebuild routes. Intended as the registry's change notifier.
func (e *Engine) MarkRoutesStale() {
	e.routesStale.Store(true)
}

// RoutesRebuildNeeded reports and clears the stale-routes flag.
func (e *Engine) RoutesRebuildNeeded() bool {
	return e.routesStale.Swap(false)
}

func (e *Engine) handleInserted(ctx context.Context, ent entity.Entity) error {
	e.tracker.EntityChanged(ctx, ent)
	if !e.registry.IsGroup(ent.Type, ent.Bundle) || ent.Owner == "" {
		return nil
	}
	rec, err := e.manager.CreateMembership(ctx, ent, ent.Owner)
	if errors.Is(err, membership.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("engine: default membership for %s: %w", ent.Ref(), err)
	}
	_ = audit.LogEvent(ctx, "group.membership.autocreate", map[string]any{
		"membership_id": rec.ID,
		"group":         ent.Ref().String(),
		"user_id":       ent.Owner,
	})
	return nil
}

func (e *Engine) handleUpdated(ctx context.Context, ent entity.Entity) error {
	e.tracker.EntityChanged(ctx, ent)
	return nil
}

func (e *Engine) handlePreDelete(ctx context.Context, ent entity.Entity) error {
	if e.strategy == nil || !e.registry.IsGroup(ent.Type, ent.Bundle) {
		return nil
	}
	if err := e.strategy.Register(ctx, ent); err != nil {
		return fmt.Errorf("engine: register orphans for %s: %w", ent.Ref(), err)
	}
	return nil
}

func (e *Engine) handleDeleted(ctx context.Context, ent entity.Entity) error {
	e.tracker.EntityDeleted(ctx, ent)
	return nil
}
