package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ArrayStyle selects how list values serialize into a single parameter.
type ArrayStyle int

const (
	ArrayComma ArrayStyle = iota
	ArraySpace
	ArrayPipe
)

func (s ArrayStyle) separator() string {
	switch s {
	case ArraySpace:
		return " "
	case ArrayPipe:
		return "|"
	default:
		return ","
	}
}

// ParseArrayStyle parses a configuration token into an ArrayStyle.
func ParseArrayStyle(s string) (ArrayStyle, error) {
	switch s {
	case "", "comma":
		return ArrayComma, nil
	case "space":
		return ArraySpace, nil
	case "pipe":
		return ArrayPipe, nil
	default:
		return ArrayComma, fmt.Errorf("unknown array style %q", s)
	}
}

// PaginationStyle selects the wire spelling of pagination.
type PaginationStyle int

const (
	// PaginateLimitOffset serializes as limit/offset.
	PaginateLimitOffset PaginationStyle = iota
	// PaginatePage serializes as page/per_page.
	PaginatePage
)

// ParsePaginationStyle parses a configuration token into a PaginationStyle.
func ParsePaginationStyle(s string) (PaginationStyle, error) {
	switch s {
	case "", "limit_offset":
		return PaginateLimitOffset, nil
	case "page":
		return PaginatePage, nil
	default:
		return PaginateLimitOffset, fmt.Errorf("unknown pagination style %q", s)
	}
}

// Serialization holds the wire-format choices applied when a descriptor is
// turned into query parameters.
type Serialization struct {
	Pagination PaginationStyle
	// DefaultArray applies to list values with no per-field override.
	DefaultArray ArrayStyle
	// FieldArrays overrides the array style per field, keyed by FieldKey
	// so the same field name on different entity types stays independent.
	FieldArrays map[string]ArrayStyle
}

// FieldKey scopes a per-field serialization override to one entity type.
func FieldKey(typeName, field string) string {
	return typeName + "." + field
}

func (s Serialization) styleFor(typeName, field string) ArrayStyle {
	if st, ok := s.FieldArrays[FieldKey(typeName, field)]; ok {
		return st
	}
	return s.DefaultArray
}

// QueryParams serializes the descriptor into wire parameters.
//
// Equality filters serialize as field=value; other operators as
// field[op]=value; membership values join under the field's array style.
// A single sort key serializes as sort + order; multiple keys as a
// structured sort list. An aggregate request serializes as
// aggregate=fn(field) and suppresses pagination.
func (d *Descriptor) QueryParams(ser Serialization) (url.Values, error) {
	params := url.Values{}

	for _, f := range d.Filters {
		key, value, err := serializeFilter(d.TypeName, f, ser)
		if err != nil {
			return nil, err
		}
		params.Add(key, value)
	}

	for gi, g := range d.Groups {
		for _, f := range g.Filters {
			key, value, err := serializeFilter(d.TypeName, f, ser)
			if err != nil {
				return nil, err
			}
			params.Add(fmt.Sprintf("or[%d][%s]", gi, key), value)
		}
	}

	switch {
	case len(d.Sorts) == 1:
		params.Set("sort", d.Sorts[0].Field)
		params.Set("order", direction(d.Sorts[0].Desc))
	case len(d.Sorts) > 1:
		for i, s := range d.Sorts {
			params.Set(fmt.Sprintf("sort[%d]", i), s.Field)
			params.Set(fmt.Sprintf("order[%d]", i), direction(s.Desc))
		}
	}

	if d.Agg != nil {
		if d.Agg.Field == "" {
			params.Set("aggregate", string(d.Agg.Func))
		} else {
			params.Set("aggregate", fmt.Sprintf("%s(%s)", d.Agg.Func, d.Agg.Field))
		}
	} else {
		serializePagination(d, ser, params)
	}

	if len(d.Fields) > 0 {
		params.Set("fields", strings.Join(d.Fields, ","))
	}

	for k, v := range d.Params {
		params.Set(k, v)
	}

	return params, nil
}

func serializePagination(d *Descriptor, ser Serialization, params url.Values) {
	if d.Page != nil || d.PerPage != nil {
		if d.Page != nil {
			params.Set("page", strconv.Itoa(*d.Page))
		}
		if d.PerPage != nil {
			params.Set("per_page", strconv.Itoa(*d.PerPage))
		}
		return
	}

	switch ser.Pagination {
	case PaginatePage:
		// Translate limit/offset intent into page/per_page when the
		// remote only speaks page-style pagination.
		if d.Limit != nil {
			params.Set("per_page", strconv.Itoa(*d.Limit))
			page := 1
			if d.Offset != nil && *d.Limit > 0 {
				page = *d.Offset / *d.Limit + 1
			}
			params.Set("page", strconv.Itoa(page))
		}
	default:
		if d.Limit != nil {
			params.Set("limit", strconv.Itoa(*d.Limit))
		}
		if d.Offset != nil {
			params.Set("offset", strconv.Itoa(*d.Offset))
		}
	}
}

func serializeFilter(typeName string, f Filter, ser Serialization) (key, value string, err error) {
	switch f.Op {
	case OpEq:
		v, err := scalarToken(f.Value)
		if err != nil {
			return "", "", fmt.Errorf("filter %s: %w", f.Field, err)
		}
		return f.Field, v, nil
	case OpIn:
		v, err := listToken(f.Value, ser.styleFor(typeName, f.Field))
		if err != nil {
			return "", "", fmt.Errorf("filter %s: %w", f.Field, err)
		}
		return f.Field, v, nil
	case OpNotIn:
		v, err := listToken(f.Value, ser.styleFor(typeName, f.Field))
		if err != nil {
			return "", "", fmt.Errorf("filter %s: %w", f.Field, err)
		}
		return fmt.Sprintf("%s[%s]", f.Field, f.Op), v, nil
	case OpNull, OpNotNull:
		return fmt.Sprintf("%s[%s]", f.Field, f.Op), "true", nil
	default:
		v, err := scalarToken(f.Value)
		if err != nil {
			return "", "", fmt.Errorf("filter %s: %w", f.Field, err)
		}
		return fmt.Sprintf("%s[%s]", f.Field, f.Op), v, nil
	}
}

func direction(desc bool) string {
	if desc {
		return "desc"
	}
	return "asc"
}

func scalarToken(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case time.Time:
		return t.UTC().Format(time.RFC3339), nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		return "", fmt.Errorf("unsupported filter value type %T", v)
	}
}

func listToken(v any, style ArrayStyle) (string, error) {
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case []string:
		items = make([]any, len(t))
		for i, s := range t {
			items[i] = s
		}
	default:
		return "", fmt.Errorf("membership filter value must be a list, got %T", v)
	}

	parts := make([]string, len(items))
	for i, item := range items {
		s, err := scalarToken(item)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return strings.Join(parts, style.separator()), nil
}
