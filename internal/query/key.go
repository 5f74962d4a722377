// Package query is the client-side query cache: keyed, de-duplicated,
// generation-ordered fetches of server state, dependent-query gating, and
// page-by-page (infinite) loading of list endpoints.
package query

import (
	"encoding/json"
	"fmt"
	"maps"

	"golang.org/x/text/unicode/norm"
)

// Key identifies a cached query: a resource name plus a parameter object.
// Two keys with deeply-equal parameters share one cache entry and one
// in-flight fetch.
type Key struct {
	Resource string
	Params   map[string]any
}

// NewKey returns a key for resource. params is copied.
func NewKey(resource string, params map[string]any) Key {
	return Key{Resource: resource, Params: maps.Clone(params)}
}

// With returns a copy of k with name set to value.
func (k Key) With(name string, value any) Key {
	params := maps.Clone(k.Params)
	if params == nil {
		params = make(map[string]any, 1)
	}

	params[name] = value

	return Key{Resource: k.Resource, Params: params}
}

// String renders the canonical form of k. Map keys are sorted and strings
// are NFC-normalized, so "café" typed two different ways is one key.
func (k Key) String() string {
	if len(k.Params) == 0 {
		return k.Resource
	}

	data, err := json.Marshal(canonical(k.Params))
	if err != nil {
		// Unencodable parameters still need a stable identity.
		return fmt.Sprintf("%s%v", k.Resource, k.Params)
	}

	return k.Resource + string(data)
}

// Equal reports whether k and other have the same canonical form.
func (k Key) Equal(other Key) bool {
	return k.String() == other.String()
}

func canonical(v any) any {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for name, val := range t {
			out[norm.NFC.String(name)] = canonical(val)
		}

		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for name, val := range t {
			out[norm.NFC.String(name)] = norm.NFC.String(val)
		}

		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = canonical(val)
		}

		return out
	case []string:
		out := make([]string, len(t))
		for i, val := range t {
			out[i] = norm.NFC.String(val)
		}

		return out
	default:
		return v
	}
}
