package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kilupskalvis/restsync/internal/query"
)

// Matches evaluates a descriptor's filters against raw attributes. Top-level
// filters are AND-ed; each group's filters are OR-ed with each other and
// AND-ed against the rest.
func Matches(attrs map[string]any, d *query.Descriptor) bool {
	for _, f := range d.Filters {
		if !matchFilter(attrs, f) {
			return false
		}
	}
	for _, g := range d.Groups {
		any := false
		for _, f := range g.Filters {
			if matchFilter(attrs, f) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	return true
}

func matchFilter(attrs map[string]any, f query.Filter) bool {
	value, present := attrs[f.Field]

	switch f.Op {
	case query.OpNull:
		return !present || value == nil
	case query.OpNotNull:
		return present && value != nil
	}

	if !present || value == nil {
		return false
	}

	switch f.Op {
	case query.OpEq:
		return looseEqual(value, f.Value)
	case query.OpNeq:
		return !looseEqual(value, f.Value)
	case query.OpGt, query.OpGte, query.OpLt, query.OpLte:
		c, ok := compare(value, f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case query.OpGt:
			return c > 0
		case query.OpGte:
			return c >= 0
		case query.OpLt:
			return c < 0
		default:
			return c <= 0
		}
	case query.OpIn:
		return containsValue(f.Value, value)
	case query.OpNotIn:
		return !containsValue(f.Value, value)
	case query.OpContains:
		needle, ok := f.Value.(string)
		if !ok {
			return false
		}
		hay, ok := value.(string)
		if !ok {
			return false
		}
		return strings.Contains(hay, needle)
	default:
		return false
	}
}

func containsValue(list any, value any) bool {
	items, ok := list.([]any)
	if !ok {
		if ss, sok := list.([]string); sok {
			for _, s := range ss {
				if looseEqual(value, s) {
					return true
				}
			}
		}
		return false
	}
	for _, item := range items {
		if looseEqual(value, item) {
			return true
		}
	}
	return false
}

// looseEqual compares across the numeric/string representations JSON
// round-trips produce.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := ToFloat(a); aok {
		if bf, bok := ToFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// compare orders two values numerically when possible, lexically otherwise.
func compare(a, b any) (int, bool) {
	if af, aok := ToFloat(a); aok {
		if bf, bok := ToFloat(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	as, bs := fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)
	return strings.Compare(as, bs), true
}

// ToFloat widens JSON-decoded numeric representations to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// SortRecords orders records by the descriptor's sort keys, first key
// primary. The sort is stable so equal records keep store order.
func SortRecords(records []*Record, sorts []query.Sort) {
	if len(sorts) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, s := range sorts {
			c, _ := compare(records[i].Attributes[s.Field], records[j].Attributes[s.Field])
			if c == 0 {
				continue
			}
			if s.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Paginate applies the descriptor's pagination spec to an already-sorted
// record list.
func Paginate(records []*Record, d *query.Descriptor) []*Record {
	offset := 0
	limit := -1

	switch {
	case d.Page != nil || d.PerPage != nil:
		per := 0
		if d.PerPage != nil {
			per = *d.PerPage
		}
		page := 1
		if d.Page != nil {
			page = *d.Page
		}
		if per > 0 {
			offset = (page - 1) * per
			limit = per
		}
	default:
		if d.Offset != nil {
			offset = *d.Offset
		}
		if d.Limit != nil {
			limit = *d.Limit
		}
	}

	if offset >= len(records) {
		return nil
	}
	out := records[offset:]
	if limit >= 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}
