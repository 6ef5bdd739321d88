// Package audience resolves the reference fields that attach content
// bundles to groups.
package audience

import (
	"errors"
	"fmt"
	"sync"

	"groupcore.org/internal/grouptype"
)

// ReferenceHandler is the field-settings value marking a reference field as
// a group audience field.
const ReferenceHandler = "group"

// ErrInvalidTarget indicates an audience field pointing at an entity type
// with no group bundles.
var ErrInvalidTarget = errors.New("audience: field target is not a group type")

// FieldDefinition mirrors the host system's field metadata for one bundle
// field. Only reference fields with the group handler are audience fields.
type FieldDefinition struct {
	EntityType string
	Bundle     string
	Name       string
	FieldType  string
	Handler    string
	TargetType string
	Required   bool
}

// Field is a resolved audience field on a content bundle.
type Field struct {
	EntityType string `json:"entity_type"`
	Bundle     string `json:"bundle"`
	Name       string `json:"name"`
	TargetType string `json:"target_type"`
	Required   bool   `json:"required"`
}

// IsGroupAudienceField reports whether a field definition designates group
// membership: an entity reference whose selection handler is the group one.
func IsGroupAudienceField(def FieldDefinition) bool {
	return def.FieldType == "entity_reference" && def.Handler == ReferenceHandler
}

type bundleKey struct {
	entityType string
	bundle     string
}

// Catalog holds field definitions per bundle and answers audience lookups.
// Definitions keep their registration order, so ListAudienceFields returns
// a stable sequence.
type Catalog struct {
	mu       sync.RWMutex
	registry *grouptype.Registry
	fields   map[bundleKey][]FieldDefinition
}

// NewCatalog creates an empty catalog validating against the registry.
func NewCatalog(registry *grouptype.Registry) *Catalog {
	return &Catalog{
		registry: registry,
		fields:   make(map[bundleKey][]FieldDefinition),
	}
}

// Define records a field definition. Audience fields must target an entity
// type that carries at least one group bundle.
func (c *Catalog) Define(def FieldDefinition) error {
	if def.EntityType == "" || def.Bundle == "" || def.Name == "" {
		return fmt.Errorf("audience: incomplete field definition %q", def.Name)
	}
	if IsGroupAudienceField(def) && !c.registry.HasGroupType(def.TargetType) {
		return fmt.Errorf("%w: %s targets %s", ErrInvalidTarget, def.Name, def.TargetType)
	}
	key := bundleKey{def.EntityType, def.Bundle}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.fields[key] {
		if existing.Name == def.Name {
			c.fields[key][i] = def
			return nil
		}
	}
	c.fields[key] = append(c.fields[key], def)
	return nil
}

// ListAudienceFields returns the bundle's audience fields in definition
// order. Bundles without audience fields yield an empty slice.
func (c *Catalog) ListAudienceFields(entityType, bundle string) []Field {
	c.mu.RLock()
	defer c.mu.RUnlock()
	defs := c.fields[bundleKey{entityType, bundle}]
	out := make([]Field, 0, len(defs))
	for _, def := range defs {
		if !IsGroupAudienceField(def) {
			continue
		}
		out = append(out, Field{
			EntityType: def.EntityType,
			Bundle:     def.Bundle,
			Name:       def.Name,
			TargetType: def.TargetType,
			Required:   def.Required,
		})
	}
	return out
}
