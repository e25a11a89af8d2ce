package hydrate

import (
	"fmt"
	"time"

	"github.com/kilupskalvis/restsync/internal/models"
)

// Error reports a raw map that could not be coerced into an entity's
// declared field types.
type Error struct {
	EntityType string
	Field      string
	Value      any
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("hydrate %s.%s from %v: %v", e.EntityType, e.Field, e.Value, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Hydrate builds an entity from a raw map, applying the type's coercion
// rules. Declared fields absent from the map are left unset so that
// "unknown" stays distinguishable from "empty". An empty map yields an
// absent result (nil, nil) rather than an all-default entity: an empty map
// signals "not found", not "found but blank".
func Hydrate(typ *models.EntityType, raw map[string]any) (*models.Entity, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	attrs := make(map[string]any, len(raw))
	for field, value := range raw {
		ft, declared := typ.Fields[field]
		if !declared {
			// Undeclared fields ride along uncoerced.
			attrs[field] = value
			continue
		}
		coerced, err := coerce(ft, value)
		if err != nil {
			return nil, &Error{EntityType: typ.Name, Field: field, Value: value, Err: err}
		}
		attrs[field] = coerced
	}

	return models.Hydrated(typ, attrs), nil
}

// ModifiedTime extracts an entity type's last-modified timestamp from a raw
// map, coercing it like a declared time field.
func ModifiedTime(typ *models.EntityType, raw map[string]any) (time.Time, bool) {
	v, ok := raw[typ.ModifiedField()]
	if !ok || v == nil {
		return time.Time{}, false
	}
	t, err := coerceTime(v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// HydrateList hydrates every raw map in order. A map that fails coercion is
// dropped and hydration continues with the rest; callers that care about
// drops receive them through the returned error slice.
func HydrateList(typ *models.EntityType, raws []map[string]any) ([]*models.Entity, []error) {
	entities := make([]*models.Entity, 0, len(raws))
	var dropped []error

	for _, raw := range raws {
		e, err := Hydrate(typ, raw)
		if err != nil {
			dropped = append(dropped, err)
			continue
		}
		if e == nil {
			continue
		}
		entities = append(entities, e)
	}

	return entities, dropped
}
