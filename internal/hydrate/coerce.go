package hydrate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kilupskalvis/restsync/internal/models"
)

// truthy and falsy are the fixed token vocabularies accepted when coercing
// strings into booleans.
var (
	truthy = map[string]bool{"1": true, "true": true, "yes": true, "on": true}
	falsy  = map[string]bool{"0": true, "false": true, "no": true, "off": true, "": true}
)

// timeLayouts are tried in order when coercing strings into timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// coerce applies a field's declared coercion rule to a raw value.
func coerce(ft models.FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch ft {
	case models.TypeString:
		return coerceString(v)
	case models.TypeInt:
		return coerceInt(v)
	case models.TypeFloat:
		return coerceFloat(v)
	case models.TypeBool:
		return coerceBool(v)
	case models.TypeTime:
		return coerceTime(v)
	case models.TypeNested:
		return coerceNested(v)
	default:
		return nil, fmt.Errorf("unsupported field type %v", ft)
	}
}

func coerceString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(s, 10), nil
	case bool:
		return strconv.FormatBool(s), nil
	default:
		return "", fmt.Errorf("cannot coerce %T to string", v)
	}
}

func coerceInt(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot coerce %q to int", n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to int", v)
	}
}

func coerceFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot coerce %q to float", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to float", v)
	}
}

func coerceBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case float64:
		return b != 0, nil
	case int64:
		return b != 0, nil
	case string:
		token := strings.ToLower(strings.TrimSpace(b))
		if truthy[token] {
			return true, nil
		}
		if falsy[token] {
			return false, nil
		}
		return false, fmt.Errorf("cannot coerce %q to bool", b)
	default:
		return false, fmt.Errorf("cannot coerce %T to bool", v)
	}
}

func coerceTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as time", t)
	case float64:
		// Unix seconds, with millisecond values detected by magnitude.
		if t > 1e12 {
			return time.UnixMilli(int64(t)).UTC(), nil
		}
		return time.Unix(int64(t), 0).UTC(), nil
	case int64:
		if t > 1e12 {
			return time.UnixMilli(t).UTC(), nil
		}
		return time.Unix(t, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot coerce %T to time", v)
	}
}

func coerceNested(v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any, []map[string]any:
		return v, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to nested structure", v)
	}
}
