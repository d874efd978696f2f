package engine

import (
	"fmt"
	"reflect"
)

// normalizeAttrs brings an attribute map to a canonical shape so values
// compare equal regardless of whether they came from the YAML loader or a
// JSON state round-trip: map keys become strings, all numbers float64.
func normalizeAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return normalizeAttrs(val)
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalizeValue(e)
		}
		return out
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return val
	}
}

func attrsEqual(a, b map[string]any) bool {
	return reflect.DeepEqual(a, b)
}

func attrValueEqual(a, b any) bool {
	return reflect.DeepEqual(normalizeValue(a), normalizeValue(b))
}
