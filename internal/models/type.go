// Package models defines the core data structures used throughout restsync
// including entity type schemas, entity records, hybrid modes, and conflicts.
package models

import "time"

// FieldType represents the declared coercion rule for an entity field.
type FieldType int

const (
	TypeString FieldType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeTime
	TypeNested
)

// String returns the field type name used in diagnostics.
func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTime:
		return "time"
	case TypeNested:
		return "nested"
	default:
		return "unknown"
	}
}

// EntityType describes a named record schema: its wire resource name, its
// identity field, and the coercion rules for each declared field.
type EntityType struct {
	// Name is the wire-level resource name, e.g. "products".
	Name string
	// IDField is the identity attribute. Defaults to "id".
	IDField string
	// Fields maps declared attribute names to their coercion rules.
	Fields map[string]FieldType
	// Fillable restricts mass assignment via Fill. Empty means every
	// declared field is fillable.
	Fillable []string
	// UpdatedField is the last-modified attribute used for sync
	// reconciliation. Defaults to "updated_at".
	UpdatedField string
}

// Identity returns the configured identity field name.
func (t *EntityType) Identity() string {
	if t.IDField == "" {
		return "id"
	}
	return t.IDField
}

// ModifiedField returns the last-modified attribute name.
func (t *EntityType) ModifiedField() string {
	if t.UpdatedField == "" {
		return "updated_at"
	}
	return t.UpdatedField
}

// IsFillable reports whether a field may be mass-assigned.
func (t *EntityType) IsFillable(field string) bool {
	if len(t.Fillable) == 0 {
		_, declared := t.Fields[field]
		return declared || field == t.Identity()
	}
	for _, f := range t.Fillable {
		if f == field {
			return true
		}
	}
	return false
}

// Definition is implemented by entity type definitions registered with the
// engine. Optional capabilities (Cacheable, Hybridizable, Relatable) are
// discovered on the same value.
type Definition interface {
	EntityType() *EntityType
}

// Cacheable lets an entity type declare its own cache time-to-live.
type Cacheable interface {
	CacheTTL() time.Duration
}

// Hybridizable lets an entity type declare its own hybrid mode.
type Hybridizable interface {
	HybridMode() Mode
}

// Relatable lets an entity type declare extra cache tags that its cached
// entries share with related types, so a write to one invalidates the other.
type Relatable interface {
	RelatedTags() []string
}
