// Package orphan registers group content left behind by a deleted group
// and deletes it once no surviving group references it. Registration
// happens on group pre-delete; consumption re-validates current state
// immediately before acting, which is what keeps the at-least-once queue
// safe against content that has since been attached to another group.
package orphan

import (
	"errors"
	"sync"
	"time"

	"groupcore.org/internal/entity"
)

var (
	// ErrUnknownStrategy indicates a configuration error: the selected
	// strategy id is not registered. Callers treat this as fatal.
	ErrUnknownStrategy = errors.New("orphan: unknown strategy")
	// ErrQueueFull indicates the bounded work queue rejected a new item.
	ErrQueueFull = errors.New("orphan: queue full")
)

const defaultQueueCapacity = 1024

// Item is one unit of deferred cleanup work: content candidates orphaned by
// the removal of one group. Enough identity is carried to re-check
// membership at consumption time.
type Item struct {
	GroupType  string       `json:"group_type"`
	GroupID    string       `json:"group_id"`
	Refs       []entity.Ref `json:"refs"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
	Attempts   int          `json:"attempts"`
}

// Queue is a bounded in-memory work queue with at-least-once delivery:
// items survive failed processing by being requeued.
type Queue struct {
	mu       sync.Mutex
	items    []Item
	capacity int
}

// NewQueue creates a queue bounded at the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &Queue{capacity: capacity}
}

// Enqueue appends an item, rejecting it when the queue is full.
func (q *Queue) Enqueue(item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}
	q.items = append(q.items, item)
	return nil
}

// Dequeue removes and returns the oldest item.
func (q *Queue) Dequeue() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Requeue puts a failed item back for a later attempt. Retries are never
// dropped, even when the queue is at capacity.
func (q *Queue) Requeue(item Item) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// Len reports the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns all pending items. Used on teardown.
func (q *Queue) Drain() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
