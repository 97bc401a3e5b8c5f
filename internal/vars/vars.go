// Package vars defines the variable bindings collected during a
// conversation. Values are scalars (string, number, boolean) or nil,
// which means "unknown".
package vars

import (
	"fmt"
	"sort"
	"strings"
)

// Map holds named variable bindings for one session.
type Map map[string]any

// Bound reports whether v carries a usable value. Nil and strings that
// are empty after trimming are unbound; every other scalar is bound.
func Bound(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(x) != ""
	default:
		return true
	}
}

// IsBound reports whether name holds a usable value in m.
func (m Map) IsBound(name string) bool {
	v, ok := m[name]
	return ok && Bound(v)
}

// Clone returns a shallow copy. Values are scalars, so a shallow copy
// is fully independent of the original.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Keys returns the map keys in lexical order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BoundKeys returns the keys holding bound values, in lexical order.
func (m Map) BoundKeys() []string {
	keys := make([]string, 0, len(m))
	for _, k := range m.Keys() {
		if Bound(m[k]) {
			keys = append(keys, k)
		}
	}
	return keys
}

// String renders a value for prompts and logs.
func String(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprint(x)
	}
}
