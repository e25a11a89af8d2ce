package models

import (
	"fmt"
	"time"
)

// Entity is a typed record hydrated from a remote response or a local store
// row. It tracks which fields changed since the last hydration or save, and
// whether it is backed by a store identity.
type Entity struct {
	typ    *EntityType
	attrs  map[string]any
	dirty  map[string]struct{}
	exists bool
}

// New constructs an empty, unsaved entity of the given type.
func New(typ *EntityType) *Entity {
	return &Entity{
		typ:   typ,
		attrs: make(map[string]any),
		dirty: make(map[string]struct{}),
	}
}

// Hydrated constructs an entity from already-coerced attributes. The entity
// is marked as existing and its dirty set is empty.
func Hydrated(typ *EntityType, attrs map[string]any) *Entity {
	copied := make(map[string]any, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	return &Entity{
		typ:    typ,
		attrs:  copied,
		dirty:  make(map[string]struct{}),
		exists: true,
	}
}

// Type returns the entity's schema.
func (e *Entity) Type() *EntityType { return e.typ }

// Exists reports whether the entity is backed by a store identity.
func (e *Entity) Exists() bool { return e.exists }

// ID returns the identity value as a string, if set.
func (e *Entity) ID() (string, bool) {
	v, ok := e.attrs[e.typ.Identity()]
	if !ok || v == nil {
		return "", false
	}
	switch id := v.(type) {
	case string:
		return id, id != ""
	case int64:
		return fmt.Sprintf("%d", id), true
	case float64:
		return fmt.Sprintf("%v", id), true
	default:
		return fmt.Sprintf("%v", id), true
	}
}

// Get returns a raw attribute value. The second result distinguishes an
// unset field from one set to nil.
func (e *Entity) Get(field string) (any, bool) {
	v, ok := e.attrs[field]
	return v, ok
}

// GetString returns a string attribute, or "" when unset or mistyped.
func (e *Entity) GetString(field string) string {
	v, _ := e.attrs[field].(string)
	return v
}

// GetInt returns an integer attribute, or 0 when unset or mistyped.
func (e *Entity) GetInt(field string) int64 {
	switch v := e.attrs[field].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// GetFloat returns a float attribute, or 0 when unset or mistyped.
func (e *Entity) GetFloat(field string) float64 {
	switch v := e.attrs[field].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

// GetBool returns a boolean attribute, or false when unset or mistyped.
func (e *Entity) GetBool(field string) bool {
	v, _ := e.attrs[field].(bool)
	return v
}

// GetTime returns a time attribute, or the zero time when unset or mistyped.
func (e *Entity) GetTime(field string) time.Time {
	v, _ := e.attrs[field].(time.Time)
	return v
}

// LastModified returns the entity's last-modified timestamp, if present.
func (e *Entity) LastModified() (time.Time, bool) {
	t, ok := e.attrs[e.typ.ModifiedField()].(time.Time)
	return t, ok
}

// Set assigns a field value and marks it dirty. The identity field of a
// hydrated entity is immutable.
func (e *Entity) Set(field string, value any) error {
	if e.exists && field == e.typ.Identity() {
		return fmt.Errorf("%s: identity field %q is immutable after hydration", e.typ.Name, field)
	}
	e.attrs[field] = value
	e.dirty[field] = struct{}{}
	return nil
}

// Fill mass-assigns attributes, honoring the type's fillable set.
// Non-fillable fields are skipped silently.
func (e *Entity) Fill(attrs map[string]any) error {
	for field, value := range attrs {
		if !e.typ.IsFillable(field) {
			continue
		}
		if err := e.Set(field, value); err != nil {
			return err
		}
	}
	return nil
}

// Dirty returns the names of fields changed since the last hydration or save.
func (e *Entity) Dirty() []string {
	fields := make([]string, 0, len(e.dirty))
	for f := range e.dirty {
		fields = append(fields, f)
	}
	return fields
}

// IsDirty reports whether a specific field has unsaved changes.
func (e *Entity) IsDirty(field string) bool {
	_, ok := e.dirty[field]
	return ok
}

// DirtyAttributes returns only the changed attributes, for partial updates.
func (e *Entity) DirtyAttributes() map[string]any {
	out := make(map[string]any, len(e.dirty))
	for f := range e.dirty {
		out[f] = e.attrs[f]
	}
	return out
}

// Attributes returns a copy of all attributes.
func (e *Entity) Attributes() map[string]any {
	out := make(map[string]any, len(e.attrs))
	for k, v := range e.attrs {
		out[k] = v
	}
	return out
}

// MarkSaved flags the entity as store-backed and clears the dirty set.
// Called by the engine after a successful create or update.
func (e *Entity) MarkSaved() {
	e.exists = true
	e.dirty = make(map[string]struct{})
}

// Detach severs the entity from its store-backed identity after a delete.
// Attributes are kept so the caller can still inspect the deleted record.
func (e *Entity) Detach() {
	e.exists = false
	for f := range e.attrs {
		e.dirty[f] = struct{}{}
	}
}

// Merge overlays freshly hydrated attributes onto the entity without marking
// them dirty. Used to absorb server-assigned fields from a save response.
func (e *Entity) Merge(attrs map[string]any) {
	for k, v := range attrs {
		e.attrs[k] = v
		delete(e.dirty, k)
	}
}
