package orphan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"groupcore.org/internal/entity"
	"groupcore.org/internal/grouptype"
	"groupcore.org/internal/membership"
	"groupcore.org/internal/obs"
)

// Strategy ids selectable through configuration.
const (
	StrategyImmediate = "immediate"
	StrategyBatch     = "batch"
	StrategyQueue     = "queue"
)

// Processing outcomes reported to metrics.
const (
	OutcomeDeleted          = "deleted"
	OutcomeSkippedGone      = "skipped_gone"
	OutcomeSkippedCovered   = "skipped_covered"
	OutcomeSkippedUnrelated = "skipped_unrelated"
	OutcomeRetried          = "retried"
)

// Strategy registers orphan candidates when a group is removed and later
// processes them. Immediate deletes synchronously and keeps no backlog.
type Strategy interface {
	ID() string
	Register(ctx context.Context, group entity.Entity) error
	Process(ctx context.Context) error
	Pending() int
	Drain() []Item
}

// Deps carries the collaborators a strategy needs.
type Deps struct {
	Manager       *membership.Manager
	Registry      *grouptype.Registry
	Source        entity.Source
	QueueCapacity int
	ChunkSize     int
	Now           func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// New builds the strategy selected by id. The set of strategies is closed;
// an unknown id is a configuration error surfaced loudly.
func New(id string, deps Deps) (Strategy, error) {
	if deps.Manager == nil || deps.Registry == nil || deps.Source == nil {
		return nil, errors.New("orphan: manager, registry and source are required")
	}
	switch id {
	case StrategyImmediate:
		return &immediate{deps: deps}, nil
	case StrategyQueue:
		return &queued{id: StrategyQueue, deps: deps, queue: NewQueue(deps.QueueCapacity), chunk: 1}, nil
	case StrategyBatch:
		chunk := deps.ChunkSize
		if chunk <= 0 {
			chunk = 10
		}
		return &queued{id: StrategyBatch, deps: deps, queue: NewQueue(deps.QueueCapacity), chunk: chunk, onePerCall: true}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, id)
	}
}

// immediate deletes orphans synchronously within the deleting request.
type immediate struct {
	deps Deps
}

func (s *immediate) ID() string      { return StrategyImmediate }
func (s *immediate) Pending() int    { return 0 }
func (s *immediate) Drain() []Item   { return nil }
func (s *immediate) Process(ctx context.Context) error { return nil }

func (s *immediate) Register(ctx context.Context, group entity.Entity) error {
	candidates, err := s.deps.Manager.ReferencingContent(ctx, group.Ref())
	if err != nil {
		return fmt.Errorf("orphan: resolve candidates for %s: %w", group.Ref(), err)
	}
	for _, ref := range candidates {
		outcome, err := deleteIfOrphaned(ctx, s.deps, ref, group.Type, group.ID)
		if err != nil {
			return err
		}
		obs.CountOrphanOutcome(outcome)
	}
	return nil
}

// queued backs both the cron-consumed queue strategy and the batch
// strategy; batch packs candidates into chunks and handles one chunk per
// Process call.
type queued struct {
	id         string
	deps       Deps
	queue      *Queue
	chunk      int
	onePerCall bool
}

func (s *queued) ID() string    { return s.id }
func (s *queued) Pending() int  { return s.queue.Len() }
func (s *queued) Drain() []Item { return s.queue.Drain() }

func (s *queued) Register(ctx context.Context, group entity.Entity) error {
	candidates, err := s.deps.Manager.ReferencingContent(ctx, group.Ref())
	if err != nil {
		return fmt.Errorf("orphan: resolve candidates for %s: %w", group.Ref(), err)
	}
	for start := 0; start < len(candidates); start += s.chunk {
		end := start + s.chunk
		if end > len(candidates) {
			end = len(candidates)
		}
		refs := make([]entity.Ref, end-start)
		copy(refs, candidates[start:end])
		item := Item{
			GroupType:  group.Type,
			GroupID:    group.ID,
			Refs:       refs,
			EnqueuedAt: s.deps.now(),
		}
		if err := s.queue.Enqueue(item); err != nil {
			return fmt.Errorf("orphan: enqueue %s: %w", group.Ref(), err)
		}
	}
	return nil
}

// Process consumes pending items. Storage failures requeue the item with
// its unprocessed remainder; everything else is settled in this pass.
func (s *queued) Process(ctx context.Context) error {
	pending := s.queue.Len()
	if s.onePerCall && pending > 1 {
		pending = 1
	}
	var firstErr error
	for i := 0; i < pending; i++ {
		item, ok := s.queue.Dequeue()
		if !ok {
			break
		}
		if err := s.processItem(ctx, item); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	obs.SetOrphanQueueDepth(s.queue.Len())
	return firstErr
}

func (s *queued) processItem(ctx context.Context, item Item) error {
	for i, ref := range item.Refs {
		outcome, err := deleteIfOrphaned(ctx, s.deps, ref, item.GroupType, item.GroupID)
		if err != nil {
			// Transient storage failure: keep this ref and the rest of
			// the chunk for a later attempt.
			retry := item
			retry.Refs = item.Refs[i:]
			retry.Attempts++
			s.queue.Requeue(retry)
			obs.CountOrphanOutcome(OutcomeRetried)
			return err
		}
		obs.CountOrphanOutcome(outcome)
	}
	return nil
}

// deleteIfOrphaned re-resolves the content entity's current group
// references, excluding the group being (or already) removed, and deletes
// the entity only when nothing else covers it.
func deleteIfOrphaned(ctx context.Context, deps Deps, ref entity.Ref, groupType, groupID string) (string, error) {
	e, err := deps.Source.Load(ctx, ref)
	if errors.Is(err, entity.ErrNotFound) {
		// Stale job: the entity is already gone through another path.
		return OutcomeSkippedGone, nil
	}
	if err != nil {
		return "", fmt.Errorf("orphan: load %s: %w", ref, err)
	}
	if !deps.Registry.IsGroupContent(e.Type, e.Bundle) {
		// Candidate lists may over-approximate; never delete entities
		// outside the group-content bundles.
		return OutcomeSkippedUnrelated, nil
	}
	refs := deps.Manager.GroupIDs(e)
	if !refs.Contains(groupType, groupID) {
		// The entity never pointed at the removed group through an
		// audience field.
		return OutcomeSkippedUnrelated, nil
	}
	remaining := refs.Without(groupType, groupID)
	if !remaining.Empty() {
		// Another group covers the content; it is no longer an orphan.
		return OutcomeSkippedCovered, nil
	}
	if err := deps.Source.Delete(ctx, ref); err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return OutcomeSkippedGone, nil
		}
		return "", fmt.Errorf("orphan: delete %s: %w", ref, err)
	}
	return OutcomeDeleted, nil
}
