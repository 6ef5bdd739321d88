// Package cache keeps derived listing caches consistent with the
// membership graph by invalidating group-content tags on entity lifecycle
// events. Invalidation is synchronous: it completes before the triggering
// hook returns, so reads in the same request observe fresh listings.
package cache

import (
	"context"
	"fmt"
	"sync"

	"groupcore.org/internal/entity"
	"groupcore.org/internal/grouptype"
	"groupcore.org/internal/membership"
	"groupcore.org/internal/obs"
)

// Tag identifies one group's content listing cache.
type Tag string

// ContentTag builds the listing tag for a group.
func ContentTag(groupType, groupID string) Tag {
	return Tag(fmt.Sprintf("og-group-content:%s:%s", groupType, groupID))
}

// Invalidator invalidates cache tags in the host cache backend.
// Invalidating an already-invalid tag must be a no-op.
type Invalidator interface {
	Invalidate(tags ...Tag)
}

// TagSet is an in-memory Invalidator tracking a generation per tag.
// Readers compare generations to detect stale listings.
type TagSet struct {
	mu  sync.Mutex
	gen map[Tag]uint64
}

// NewTagSet creates an empty tag set.
func NewTagSet() *TagSet {
	return &TagSet{gen: make(map[Tag]uint64)}
}

// Invalidate bumps the generation of each tag.
func (s *TagSet) Invalidate(tags ...Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tag := range tags {
		s.gen[tag]++
	}
}

// Generation returns the current generation of a tag. A tag never
// invalidated reports zero.
func (s *TagSet) Generation(tag Tag) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen[tag]
}

// Tracker derives tags from the membership graph and invalidates them on
// entity lifecycle events.
type Tracker struct {
	registry    *grouptype.Registry
	manager     *membership.Manager
	invalidator Invalidator
}

// NewTracker constructs a Tracker.
func NewTracker(registry *grouptype.Registry, manager *membership.Manager, inv Invalidator) *Tracker {
	return &Tracker{registry: registry, manager: manager, invalidator: inv}
}

// EntityChanged invalidates the listing tag of every group the entity
// references. Entities outside the group graph are ignored.
func (t *Tracker) EntityChanged(ctx context.Context, e entity.Entity) {
	if _, classified := t.registry.KindOf(e.Type, e.Bundle); !classified {
		return
	}
	tags := t.tagsFor(e)
	if len(tags) > 0 {
		t.invalidator.Invalidate(tags...)
		obs.CountCacheInvalidations(len(tags))
	}
}

// EntityDeleted invalidates derived tags and drops the manager's
// process-local memoization.
func (t *Tracker) EntityDeleted(ctx context.Context, e entity.Entity) {
	t.EntityChanged(ctx, e)
	if _, classified := t.registry.KindOf(e.Type, e.Bundle); classified {
		t.manager.InvalidateCache()
	}
}

func (t *Tracker) tagsFor(e entity.Entity) []Tag {
	refs := t.manager.GroupIDs(e)
	var tags []Tag
	for groupType, ids := range refs {
		for id := range ids {
			tags = append(tags, ContentTag(groupType, id))
		}
	}
	return tags
}
