package access

import (
	"context"
	"testing"

	"groupcore.org/internal/audience"
	"groupcore.org/internal/entity"
	"groupcore.org/internal/grouptype"
	"groupcore.org/internal/membership"
)

type testAccount struct {
	id    string
	perms map[string]struct{}
}

func (a testAccount) ID() string { return a.id }
func (a testAccount) HasPermission(p string) bool {
	_, ok := a.perms[p]
	return ok
}

func account(id string, perms ...string) testAccount {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return testAccount{id: id, perms: set}
}

type fixture struct {
	registry *grouptype.Registry
	catalog  *audience.Catalog
	manager  *membership.Manager
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	registry := grouptype.New()
	registry.Register("node", "team", grouptype.Group)
	registry.Register("node", "post", grouptype.GroupContent)

	catalog := audience.NewCatalog(registry)
	if err := catalog.Define(audience.FieldDefinition{
		EntityType: "node", Bundle: "post", Name: "og_audience",
		FieldType: "entity_reference", Handler: audience.ReferenceHandler,
		TargetType: "node", Required: true,
	}); err != nil {
		t.Fatalf("Define: %v", err)
	}

	manager, err := membership.NewManager(membership.NewMemStore(), registry, catalog, entity.NewMemSource())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return fixture{registry: registry, catalog: catalog, manager: manager}
}

func (f fixture) resolver(opts ...ResolverOption) *Resolver {
	return NewResolver(f.registry, f.manager, f.catalog, opts...)
}

func TestResolveUnclassifiedIsNeutral(t *testing.T) {
	f := newFixture(t)
	r := f.resolver()
	e := entity.Entity{Type: "node", ID: "1", Bundle: "article"}
	if d := r.Resolve(context.Background(), OpUpdate, e, account("u1")); d != Neutral {
		t.Fatalf("expected Neutral for unclassified bundle, got %s", d)
	}
}

func TestResolveViewAlwaysNeutral(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(WithStrictTypes("node"))
	e := entity.Entity{Type: "node", ID: "5", Bundle: "team"}
	admin := account("u1", PermAdministerGroup)
	if d := r.Resolve(context.Background(), OpView, e, admin); d != Neutral {
		t.Fatalf("expected Neutral for view even with admin, got %s", d)
	}
}

func TestAdministerGroupAlwaysAllowed(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(WithStrictTypes("node"))
	admin := account("u1", PermAdministerGroup)
	ctx := context.Background()

	group := entity.Entity{Type: "node", ID: "5", Bundle: "team"}
	content := entity.Entity{Type: "node", ID: "100", Bundle: "post"}
	for _, op := range []string{OpUpdate, OpDelete} {
		if d := r.Resolve(ctx, op, group, admin); d != Allowed {
			t.Fatalf("group %s: expected Allowed, got %s", op, d)
		}
		if d := r.Resolve(ctx, op, content, admin); d != Allowed {
			t.Fatalf("content %s: expected Allowed, got %s", op, d)
		}
	}
}

func TestResolveMembershipGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	editor, err := f.manager.CreateRole(ctx, &membership.Role{
		GroupType:   "node",
		Name:        "editor",
		Permissions: []string{OperationPermission("node", OpUpdate)},
	})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	manager, err := membership.NewManager(membership.NewMemStore(), f.registry, f.catalog, entity.NewMemSource(), membership.WithDefaultRole(editor.ID))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	// Role lives in the original store; re-create it in the new manager's.
	if _, err := manager.CreateRole(ctx, editor); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}

	group := entity.Entity{Type: "node", ID: "5", Bundle: "team"}
	if _, err := manager.CreateMembership(ctx, group, "u1"); err != nil {
		t.Fatalf("CreateMembership: %v", err)
	}

	r := NewResolver(f.registry, manager, f.catalog, WithStrictTypes("node"))
	member := account("u1")
	outsider := account("u2")

	if d := r.Resolve(ctx, OpUpdate, group, member); d != Allowed {
		t.Fatalf("member update: expected Allowed, got %s", d)
	}
	if d := r.Resolve(ctx, OpDelete, group, member); d != Forbidden {
		t.Fatalf("member delete without grant in strict mode: expected Forbidden, got %s", d)
	}
	if d := r.Resolve(ctx, OpUpdate, group, outsider); d != Forbidden {
		t.Fatalf("outsider update in strict mode: expected Forbidden, got %s", d)
	}

	content := entity.Entity{
		Type: "node", ID: "100", Bundle: "post",
		Fields: map[string][]string{"og_audience": {"5"}},
	}
	if d := r.Resolve(ctx, OpUpdate, content, member); d != Allowed {
		t.Fatalf("member update on group content: expected Allowed, got %s", d)
	}
}

func TestResolveNonStrictDefersInsteadOfForbidding(t *testing.T) {
	f := newFixture(t)
	r := f.resolver()
	e := entity.Entity{Type: "node", ID: "5", Bundle: "team"}
	if d := r.Resolve(context.Background(), OpUpdate, e, account("u1")); d != Neutral {
		t.Fatalf("expected Neutral in non-strict mode, got %s", d)
	}
}

func TestResolveCreateNonContentNeutral(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(WithStrictTypes("node"))
	if d := r.ResolveCreate(context.Background(), account("u1"), "node", "team"); d != Neutral {
		t.Fatalf("expected Neutral for non-content bundle, got %s", d)
	}
}

func TestResolveCreateAdminAllowed(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(WithStrictTypes("node"))
	if d := r.ResolveCreate(context.Background(), account("u1", PermAdministerGroup), "node", "post"); d != Allowed {
		t.Fatalf("expected Allowed for admin, got %s", d)
	}
}

func TestResolveCreateBundlePermissionDefersWhenNotStrict(t *testing.T) {
	f := newFixture(t)
	r := f.resolver()
	creator := account("u1", CreatePermission("node", "post"))
	if d := r.ResolveCreate(context.Background(), creator, "node", "post"); d != Neutral {
		t.Fatalf("expected Neutral via bundle creation capability, got %s", d)
	}
}

func TestResolveCreateSelectableGroupDefers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group := entity.Entity{Type: "node", ID: "5", Bundle: "team"}
	if _, err := f.manager.CreateMembership(ctx, group, "u1"); err != nil {
		t.Fatalf("CreateMembership: %v", err)
	}
	r := f.resolver(WithStrictTypes("node"))
	if d := r.ResolveCreate(ctx, account("u1"), "node", "post"); d != Neutral {
		t.Fatalf("expected Neutral with a selectable group, got %s", d)
	}
}

func TestResolveCreateStrictRequiredForbidden(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(WithStrictTypes("node"))
	// No memberships: nothing selectable, the audience field is required.
	if d := r.ResolveCreate(context.Background(), account("u1"), "node", "post"); d != Forbidden {
		t.Fatalf("expected Forbidden in strict mode with required field, got %s", d)
	}
}

func TestResolveCreateNonStrictNoTargetsNeutral(t *testing.T) {
	registry := grouptype.New()
	registry.Register("node", "team", grouptype.Group)
	registry.Register("node", "post", grouptype.GroupContent)
	catalog := audience.NewCatalog(registry)
	// One non-required audience field with no selectable targets.
	if err := catalog.Define(audience.FieldDefinition{
		EntityType: "node", Bundle: "post", Name: "og_audience",
		FieldType: "entity_reference", Handler: audience.ReferenceHandler,
		TargetType: "node",
	}); err != nil {
		t.Fatalf("Define: %v", err)
	}
	manager, err := membership.NewManager(membership.NewMemStore(), registry, catalog, entity.NewMemSource())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	r := NewResolver(registry, manager, catalog)
	if d := r.ResolveCreate(context.Background(), account("u1"), "node", "post"); d != Neutral {
		t.Fatalf("expected Neutral, got %s", d)
	}
}
