package ir

import "fmt"

// StateRecord is the persisted snapshot of one managed resource.
type StateRecord struct {
	Kind         string         `json:"kind"`
	Name         string         `json:"name"`
	Provider     string         `json:"provider"`
	ID           string         `json:"id"` // provider-assigned identity
	Attrs        map[string]any `json:"attrs"`
	Outputs      map[string]any `json:"outputs"`
	Dependencies []string       `json:"dependencies"`

	// Version increases by one on every successful write. A write whose
	// base version does not match the stored version is rejected.
	Version int64 `json:"version"`
}

// Address returns the logical address of the record (kind.name).
func (r *StateRecord) Address() string {
	return fmt.Sprintf("%s.%s", r.Kind, r.Name)
}

// Clone returns a deep copy of the record.
func (r *StateRecord) Clone() *StateRecord {
	c := *r
	c.Attrs = CopyAttrs(r.Attrs)
	c.Outputs = CopyAttrs(r.Outputs)
	c.Dependencies = append([]string(nil), r.Dependencies...)
	return &c
}

// CopyAttrs deep-copies an attribute map.
func CopyAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CopyAttrs(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = copyValue(e)
		}
		return out
	default:
		return val
	}
}
