// Package query implements the chainable query builder and its wire-level
// request descriptor. Building methods perform no I/O; terminal methods
// execute through a Runner (the hybrid router).
package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kilupskalvis/restsync/internal/models"
)

// Op is a filter operator.
type Op string

const (
	OpEq       Op = "eq"
	OpNeq      Op = "neq"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpIn       Op = "in"
	OpNotIn    Op = "nin"
	OpNull     Op = "null"
	OpNotNull  Op = "notnull"
	OpContains Op = "contains"
)

var validOps = map[Op]bool{
	OpEq: true, OpNeq: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpIn: true, OpNotIn: true, OpNull: true, OpNotNull: true, OpContains: true,
}

// AggFunc is an aggregate function requested by a terminal operation.
type AggFunc string

const (
	AggCount AggFunc = "count"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
	AggSum   AggFunc = "sum"
	AggAvg   AggFunc = "avg"
)

// Filter is one (field, operator, value) constraint.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Group is an OR-combined set of filters, AND-ed against the rest of the
// query.
type Group struct {
	Filters []Filter
}

// Sort is one sort key. Registration order is significant: the first
// registered key is the primary sort.
type Sort struct {
	Field string
	Desc  bool
}

// Aggregate names an aggregate function and its target field.
type Aggregate struct {
	Func  AggFunc
	Field string
}

// Descriptor is the accumulated intent of a query, immutable once handed to
// a Runner. Filters form an unordered set; sort keys keep registration
// order.
type Descriptor struct {
	TypeName string
	Filters  []Filter
	Groups   []Group
	Sorts    []Sort
	Limit    *int
	Offset   *int
	Page     *int
	PerPage  *int
	Fields   []string
	Agg      *Aggregate
	Params   map[string]string
}

// Clone returns a deep copy, so a terminal operation can execute against a
// frozen descriptor while the builder keeps accepting calls.
func (d *Descriptor) Clone() *Descriptor {
	out := &Descriptor{
		TypeName: d.TypeName,
		Filters:  append([]Filter(nil), d.Filters...),
		Sorts:    append([]Sort(nil), d.Sorts...),
		Fields:   append([]string(nil), d.Fields...),
	}
	for _, g := range d.Groups {
		out.Groups = append(out.Groups, Group{Filters: append([]Filter(nil), g.Filters...)})
	}
	out.Limit = copyInt(d.Limit)
	out.Offset = copyInt(d.Offset)
	out.Page = copyInt(d.Page)
	out.PerPage = copyInt(d.PerPage)
	if d.Agg != nil {
		agg := *d.Agg
		out.Agg = &agg
	}
	if d.Params != nil {
		out.Params = make(map[string]string, len(d.Params))
		for k, v := range d.Params {
			out.Params[k] = v
		}
	}
	return out
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Signature returns a deterministic key for this descriptor, used by the
// cache layer. Filters are sorted canonically so that registration order
// does not change the signature; sort keys keep their order.
func (d *Descriptor) Signature() string {
	var b strings.Builder
	b.WriteString(d.TypeName)

	filters := append([]Filter(nil), d.Filters...)
	sort.Slice(filters, func(i, j int) bool {
		if filters[i].Field != filters[j].Field {
			return filters[i].Field < filters[j].Field
		}
		if filters[i].Op != filters[j].Op {
			return filters[i].Op < filters[j].Op
		}
		return valueToken(filters[i].Value) < valueToken(filters[j].Value)
	})
	for _, f := range filters {
		fmt.Fprintf(&b, "|f:%s:%s:%s", f.Field, f.Op, valueToken(f.Value))
	}

	for gi, g := range d.Groups {
		gf := append([]Filter(nil), g.Filters...)
		sort.Slice(gf, func(i, j int) bool {
			if gf[i].Field != gf[j].Field {
				return gf[i].Field < gf[j].Field
			}
			return gf[i].Op < gf[j].Op
		})
		for _, f := range gf {
			fmt.Fprintf(&b, "|g%d:%s:%s:%s", gi, f.Field, f.Op, valueToken(f.Value))
		}
	}

	for _, s := range d.Sorts {
		dir := "asc"
		if s.Desc {
			dir = "desc"
		}
		fmt.Fprintf(&b, "|s:%s:%s", s.Field, dir)
	}

	if d.Limit != nil {
		fmt.Fprintf(&b, "|limit:%d", *d.Limit)
	}
	if d.Offset != nil {
		fmt.Fprintf(&b, "|offset:%d", *d.Offset)
	}
	if d.Page != nil {
		fmt.Fprintf(&b, "|page:%d", *d.Page)
	}
	if d.PerPage != nil {
		fmt.Fprintf(&b, "|per_page:%d", *d.PerPage)
	}
	if len(d.Fields) > 0 {
		fields := append([]string(nil), d.Fields...)
		sort.Strings(fields)
		fmt.Fprintf(&b, "|select:%s", strings.Join(fields, ","))
	}
	if d.Agg != nil {
		fmt.Fprintf(&b, "|agg:%s:%s", d.Agg.Func, d.Agg.Field)
	}

	if len(d.Params) > 0 {
		keys := make([]string, 0, len(d.Params))
		for k := range d.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "|p:%s=%s", k, d.Params[k])
		}
	}

	return b.String()
}

// valueToken renders a filter value into a stable string for signatures.
func valueToken(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []string:
		return strings.Join(t, ",")
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = fmt.Sprintf("%v", item)
		}
		return strings.Join(parts, ",")
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Page is the result of a paginated terminal operation.
type Page struct {
	Items   []*models.Entity
	Page    int
	PerPage int
	// Total is the total match count reported by the source, or -1 when
	// the source did not report one.
	Total int64
}

// Options carries per-call overrides threaded through terminal methods.
type Options struct {
	// Mode overrides the entity type's configured hybrid mode.
	Mode models.Mode
	// TTL overrides the cache time-to-live for this call. Zero keeps the
	// configured value.
	TTL time.Duration
	// Timeout bounds the remote call for this operation.
	Timeout time.Duration
	// SkipCache bypasses the cache for this read.
	SkipCache bool
}
