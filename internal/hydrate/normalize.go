// Package hydrate turns decoded response bodies into typed entities. It
// normalizes the accepted envelope shapes into an ordered list of raw maps,
// then coerces each map against the entity type's declared fields.
package hydrate

// DefaultContainerKeys are the envelope field names recognized as wrapping
// the actual list of records.
var DefaultContainerKeys = []string{"data"}

// Normalize reduces a decoded response body to an ordered list of raw maps.
// Three shapes are accepted: an object with a recognized list-container key,
// a bare list, and a single object. Anything else (scalars, nil) normalizes
// to an empty list and is treated as "not found", never as an error. The
// function only inspects shape; it never special-cases an entity type.
func Normalize(envelope any, containerKeys []string) []map[string]any {
	if len(containerKeys) == 0 {
		containerKeys = DefaultContainerKeys
	}

	switch v := envelope.(type) {
	case nil:
		return []map[string]any{}
	case []map[string]any:
		return v
	case []any:
		return mapsOf(v)
	case map[string]any:
		if len(v) == 0 {
			return []map[string]any{}
		}
		for _, key := range containerKeys {
			inner, ok := v[key]
			if !ok {
				continue
			}
			// The extracted value is taken as-is; container-key
			// detection is not re-applied, so a record whose own
			// fields collide with a container key stays intact.
			switch lv := inner.(type) {
			case []map[string]any:
				return lv
			case []any:
				return mapsOf(lv)
			case map[string]any:
				if len(lv) == 0 {
					return []map[string]any{}
				}
				return []map[string]any{lv}
			default:
				return []map[string]any{}
			}
		}
		return []map[string]any{v}
	default:
		return []map[string]any{}
	}
}

// mapsOf extracts the map elements of a decoded list, preserving order.
// Non-map elements are skipped.
func mapsOf(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
