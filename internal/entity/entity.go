// Package entity describes the host-system entities the engine observes.
// The engine never owns entity storage; it reads entities through the
// narrow Source interface and lets the host keep everything else.
package entity

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound indicates the host system no longer has the entity.
var ErrNotFound = errors.New("entity: not found")

// Ref identifies a persisted entity by host entity type and id.
type Ref struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%s", r.Type, r.ID)
}

// IsZero reports whether the reference is empty.
func (r Ref) IsZero() bool {
	return r.Type == "" && r.ID == ""
}

// Entity is the view of a host entity the engine operates on: identity,
// bundle classification, ownership and reference-field values.
type Entity struct {
	Type   string              `json:"type"`
	ID     string              `json:"id"`
	Bundle string              `json:"bundle"`
	Owner  string              `json:"owner,omitempty"`
	Fields map[string][]string `json:"fields,omitempty"`
}

// Ref returns the entity's reference.
func (e Entity) Ref() Ref {
	return Ref{Type: e.Type, ID: e.ID}
}

// FieldValues returns the target ids stored in a reference field.
// A missing field yields nil, which callers treat as "no references".
func (e Entity) FieldValues(field string) []string {
	if e.Fields == nil {
		return nil
	}
	return e.Fields[field]
}

// Source is the engine's read/delete boundary to the host entity store.
// ReferencingContent is the reverse of audience resolution: it lists the
// content entities whose audience fields point at the given group.
type Source interface {
	Load(ctx context.Context, ref Ref) (Entity, error)
	Delete(ctx context.Context, ref Ref) error
	ReferencingContent(ctx context.Context, group Ref) ([]Ref, error)
}
