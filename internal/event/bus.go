// Package event is the typed lifecycle bus between the host entity system
// and the engine. Dispatch is synchronous and ordered: handlers run in
// subscription order within the publishing request, which preserves the
// invalidate-after-mutation and register-before-deletion sequencing the
// engine depends on.
package event

import (
	"context"
	"sync"

	"groupcore.org/internal/entity"
)

// Handler observes one entity lifecycle notification.
type Handler func(ctx context.Context, e entity.Entity) error

// Bus fan-outs lifecycle notifications to subscribed handlers.
type Bus struct {
	mu        sync.RWMutex
	inserted  []Handler
	updated   []Handler
	preDelete []Handler
	deleted   []Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// OnInserted subscribes to EntityInserted.
func (b *Bus) OnInserted(h Handler) {
	b.mu.Lock()
	b.inserted = append(b.inserted, h)
	b.mu.Unlock()
}

// OnUpdated subscribes to EntityUpdated.
func (b *Bus) OnUpdated(h Handler) {
	b.mu.Lock()
	b.updated = append(b.updated, h)
	b.mu.Unlock()
}

// OnPreDelete subscribes to EntityPreDelete, published while the entity is
// still readable.
func (b *Bus) OnPreDelete(h Handler) {
	b.mu.Lock()
	b.preDelete = append(b.preDelete, h)
	b.mu.Unlock()
}

// OnDeleted subscribes to EntityDeleted.
func (b *Bus) OnDeleted(h Handler) {
	b.mu.Lock()
	b.deleted = append(b.deleted, h)
	b.mu.Unlock()
}

// PublishInserted dispatches EntityInserted to all handlers in order,
// stopping at the first error.
func (b *Bus) PublishInserted(ctx context.Context, e entity.Entity) error {
	return b.dispatch(ctx, e, b.snapshot(&b.inserted))
}

// PublishUpdated dispatches EntityUpdated.
func (b *Bus) PublishUpdated(ctx context.Context, e entity.Entity) error {
	return b.dispatch(ctx, e, b.snapshot(&b.updated))
}

// PublishPreDelete dispatches EntityPreDelete. A handler error aborts the
// sequence so the host can fail the deletion loudly.
func (b *Bus) PublishPreDelete(ctx context.Context, e entity.Entity) error {
	return b.dispatch(ctx, e, b.snapshot(&b.preDelete))
}

// PublishDeleted dispatches EntityDeleted.
func (b *Bus) PublishDeleted(ctx context.Context, e entity.Entity) error {
	return b.dispatch(ctx, e, b.snapshot(&b.deleted))
}

func (b *Bus) snapshot(list *[]Handler) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, len(*list))
	copy(out, *list)
	return out
}

func (b *Bus) dispatch(ctx context.Context, e entity.Entity, handlers []Handler) error {
	for _, h := range handlers {
		if err := h(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
