// Package argmap implements the string key/value payload exchanged at every
// hand-off point between pipeline stages and the coordinator.
package argmap

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Map is a caller-constructed mapping from key to value.
// A nil Map means no map was supplied; an empty non-nil Map is a valid value.
type Map map[string]string

// Pair is the wire form of one Map entry.
type Pair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// FromPairs decodes wire pairs into a Map. The result is never nil.
// When a key repeats, the last value wins.
func FromPairs(pairs []Pair) Map {
	m := make(Map, len(pairs))
	for _, p := range pairs {
		m[p.Key] = p.Value
	}
	return m
}

// Pairs encodes m as wire pairs sorted by key.
func (m Map) Pairs() []Pair {
	if len(m) == 0 {
		return nil
	}
	keys := slices.Sorted(maps.Keys(m))
	out := make([]Pair, 0, len(keys))
	for _, k := range keys {
		out = append(out, Pair{Key: k, Value: m[k]})
	}
	return out
}

// Clone returns an independent copy of m. A nil Map stays nil.
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

// Merge copies all entries of src into m (last-write-wins).
func (m Map) Merge(src Map) {
	for k, v := range src {
		m[k] = v
	}
}

// Equal reports whether a and b hold the same entries. Nil and empty are equal.
func Equal(a, b Map) bool {
	return maps.Equal(a, b)
}

// Parse builds a Map from "key=value" strings, as given on the command line.
func Parse(kvs []string) (Map, error) {
	m := make(Map, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("argument %q: missing '=' separator", kv)
		}
		k = strings.TrimSpace(k)
		if k == "" {
			return nil, fmt.Errorf("argument %q: empty key", kv)
		}
		m[k] = v
	}
	return m, nil
}
