package cache

import (
	"context"
	"testing"

	"groupcore.org/internal/audience"
	"groupcore.org/internal/entity"
	"groupcore.org/internal/grouptype"
	"groupcore.org/internal/membership"
)

func newTracker(t *testing.T) (*Tracker, *TagSet) {
	t.Helper()
	registry := grouptype.New()
	registry.Register("node", "team", grouptype.Group)
	registry.Register("node", "post", grouptype.GroupContent)

	catalog := audience.NewCatalog(registry)
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
	tags := NewTagSet()
	return NewTracker(registry, manager, tags), tags
}

func TestEntityChangedInvalidatesReferencedGroupsOnly(t *testing.T) {
	tracker, tags := newTracker(t)
	post := entity.Entity{
		Type: "node", ID: "100", Bundle: "post",
		Fields: map[string][]string{"og_audience": {"5", "7"}},
	}

	tracker.EntityChanged(context.Background(), post)

	if tags.Generation(ContentTag("node", "5")) != 1 {
		t.Fatalf("tag for group 5 not invalidated")
	}
	if tags.Generation(ContentTag("node", "7")) != 1 {
		t.Fatalf("tag for group 7 not invalidated")
	}
	if tags.Generation(ContentTag("node", "9")) != 0 {
		t.Fatalf("unrelated group tag invalidated")
	}
}

func TestEntityChangedIgnoresUnclassified(t *testing.T) {
	tracker, tags := newTracker(t)
	article := entity.Entity{
		Type: "node", ID: "1", Bundle: "article",
		Fields: map[string][]string{"og_audience": {"5"}},
	}
	tracker.EntityChanged(context.Background(), article)
	if tags.Generation(ContentTag("node", "5")) != 0 {
		t.Fatalf("unclassified entity invalidated tags")
	}
}

func TestInvalidateIdempotent(t *testing.T) {
	tags := NewTagSet()
	tag := ContentTag("node", "5")
	tags.Invalidate(tag)
	tags.Invalidate(tag)
	if got := tags.Generation(tag); got != 2 {
		t.Fatalf("expected generation 2 after two invalidations, got %d", got)
	}
}

func TestEntityDeletedInvalidatesTags(t *testing.T) {
	tracker, tags := newTracker(t)
	post := entity.Entity{
		Type: "node", ID: "100", Bundle: "post",
		Fields: map[string][]string{"og_audience": {"5"}},
	}
	tracker.EntityDeleted(context.Background(), post)
	if tags.Generation(ContentTag("node", "5")) != 1 {
		t.Fatalf("delete did not invalidate tag")
	}
}
