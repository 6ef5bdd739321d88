package engine

import (
	"context"
	"errors"
	"testing"

	"groupcore.org/internal/access"
	"groupcore.org/internal/audience"
	"groupcore.org/internal/cache"
	"groupcore.org/internal/entity"
	"groupcore.org/internal/event"
	"groupcore.org/internal/grouptype"
	"groupcore.org/internal/membership"
)

type fixture struct {
	engine   *Engine
	bus      *event.Bus
	registry *grouptype.Registry
	manager  *membership.Manager
	source   *entity.MemSource
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	registry := grouptype.New()
	registry.Register("node", "team", grouptype.Group)
	registry.Register("node", "post", grouptype.GroupContent)

	catalog := audience.NewCatalog(registry)
	if err := catalog.Define(audience.FieldDefinition{
		EntityType: "node",
		Bundle:     "post",
		Name:       "og_audience",
		FieldType:  "entity_reference",
		Handler:    audience.ReferenceHandler,
		TargetType: "node",
		Required:   true,
	}); err != nil {
		t.Fatalf("define audience field: %v", err)
	}

	source := entity.NewMemSource()
	manager, err := membership.NewManager(membership.NewMemStore(), registry, catalog, source)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	resolver := access.NewResolver(registry, manager, catalog)
	tracker := cache.NewTracker(registry, manager, cache.NewTagSet())

	eng, err := New(cfg, Deps{
		Registry: registry,
		Catalog:  catalog,
		Manager:  manager,
		Resolver: resolver,
		Tracker:  tracker,
		Source:   source,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	bus := event.NewBus()
	eng.Bind(bus)

	return &fixture{engine: eng, bus: bus, registry: registry, manager: manager, source: source}
}

func TestInsertedGroupCreatesOwnerMembership(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	group := entity.Entity{Type: "node", ID: "g1", Bundle: "team", Owner: "owner-1"}
	f.source.Put(group)
	if err := f.bus.PublishInserted(ctx, group); err != nil {
		t.Fatalf("publish inserted: %v", err)
	}

	rec, err := f.manager.Membership(ctx, "node", "g1", "owner-1")
	if err != nil {
		t.Fatalf("expected owner membership: %v", err)
	}
	if rec.State != membership.StateActive || !rec.HasRole(membership.DefaultRoleID) {
		t.Fatalf("unexpected membership: %+v", rec)
	}
}

func TestInsertedGroupWithoutOwnerCreatesNothing(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	group := entity.Entity{Type: "node", ID: "g1", Bundle: "team"}
	f.source.Put(group)
	if err := f.bus.PublishInserted(ctx, group); err != nil {
		t.Fatalf("publish inserted: %v", err)
	}

	list, err := f.manager.ListByGroup(ctx, "node", "g1")
	if err != nil {
		t.Fatalf("list memberships: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no memberships, got %+v", list)
	}
}

func TestInsertedGroupTwiceToleratesExistingMembership(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	group := entity.Entity{Type: "node", ID: "g1", Bundle: "team", Owner: "owner-1"}
	f.source.Put(group)
	if err := f.bus.PublishInserted(ctx, group); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := f.bus.PublishInserted(ctx, group); err != nil {
		t.Fatalf("second publish should tolerate existing membership: %v", err)
	}
}

func TestPreDeleteRegistersOrphanWork(t *testing.T) {
	f := newFixture(t, Config{DeleteOrphans: true})
	ctx := context.Background()

	group := entity.Entity{Type: "node", ID: "g1", Bundle: "team"}
	content := entity.Entity{
		Type: "node", ID: "p1", Bundle: "post",
		Fields: map[string][]string{"og_audience": {"g1"}},
	}
	f.source.Put(group)
	f.source.Put(content)

	if err := f.bus.PublishPreDelete(ctx, group); err != nil {
		t.Fatalf("publish pre-delete: %v", err)
	}
	strategy := f.engine.Strategy()
	if strategy == nil || strategy.Pending() != 1 {
		t.Fatalf("expected one pending orphan item")
	}

	if err := f.source.Delete(ctx, group.Ref()); err != nil {
		t.Fatalf("delete group: %v", err)
	}
	if err := f.bus.PublishDeleted(ctx, group); err != nil {
		t.Fatalf("publish deleted: %v", err)
	}
	if err := strategy.Process(ctx); err != nil {
		t.Fatalf("process orphans: %v", err)
	}
	if _, err := f.source.Load(ctx, content.Ref()); !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("expected orphaned content deleted, got %v", err)
	}
}

func TestUnknownOrphanStrategyFailsConstruction(t *testing.T) {
	registry := grouptype.New()
	catalog := audience.NewCatalog(registry)
	source := entity.NewMemSource()
	manager, err := membership.NewManager(membership.NewMemStore(), registry, catalog, source)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	resolver := access.NewResolver(registry, manager, catalog)
	tracker := cache.NewTracker(registry, manager, cache.NewTagSet())

	_, err = New(Config{DeleteOrphans: true, OrphanStrategy: "bogus"}, Deps{
		Registry: registry,
		Catalog:  catalog,
		Manager:  manager,
		Resolver: resolver,
		Tracker:  tracker,
		Source:   source,
	})
	if err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestBundleFields(t *testing.T) {
	f := newFixture(t, Config{})

	fields := f.engine.BundleFields("node", "team")
	if len(fields) != 1 || fields[0].Name != "group" || !fields[0].ReadOnly || !fields[0].Computed {
		t.Fatalf("unexpected group bundle fields: %+v", fields)
	}
	if fields := f.engine.BundleFields("node", "post"); fields != nil {
		t.Fatalf("expected no computed fields for content bundle, got %+v", fields)
	}
}

func TestAudienceFields(t *testing.T) {
	f := newFixture(t, Config{})

	fields := f.engine.AudienceFields("node", "post")
	if len(fields) != 1 || fields[0].Name != "og_audience" {
		t.Fatalf("unexpected audience fields: %+v", fields)
	}
	if fields := f.engine.AudienceFields("node", "team"); len(fields) != 0 {
		t.Fatalf("expected no audience fields on a group bundle, got %+v", fields)
	}
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t, Config{})

	routes := f.engine.AdminRoutes([]string{"node", "media"})
	if routes["node"] != "/group/node/{id}/admin" || routes["media"] != "/group/media/{id}/admin" {
		t.Fatalf("unexpected admin routes: %v", routes)
	}
}

func TestRoutesStaleFlag(t *testing.T) {
	var eng *Engine
	registry := grouptype.New(grouptype.WithChangeNotifier(func() {
		if eng != nil {
			eng.MarkRoutesStale()
		}
	}))
	catalog := audience.NewCatalog(registry)
	source := entity.NewMemSource()
	manager, err := membership.NewManager(membership.NewMemStore(), registry, catalog, source)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	resolver := access.NewResolver(registry, manager, catalog)
	tracker := cache.NewTracker(registry, manager, cache.NewTagSet())

	eng, err = New(Config{}, Deps{
		Registry: registry,
		Catalog:  catalog,
		Manager:  manager,
		Resolver: resolver,
		Tracker:  tracker,
		Source:   source,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	if eng.RoutesRebuildNeeded() {
		t.Fatal("flag should start clear")
	}
	registry.Register("media", "album", grouptype.Group)
	if !eng.RoutesRebuildNeeded() {
		t.Fatal("expected stale flag after registration")
	}
	if eng.RoutesRebuildNeeded() {
		t.Fatal("flag should clear after read")
	}
}
