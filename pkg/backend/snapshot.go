package backend

import (
	"sort"

	"github.com/surrealdb/canvassync/internal/codec"
)

// Snapshot is the full value at Path at one point in time.
type Snapshot struct {
	Path  string
	Value any
}

func (s Snapshot) Exists() bool {
	return s.Value != nil
}

// Decode converts the value into dst, typically a struct or a map of structs.
// Decoding a missing value leaves dst untouched.
func (s Snapshot) Decode(dst any) error {
	if s.Value == nil {
		return nil
	}
	return codec.Convert(s.Value, dst)
}

// Child returns the snapshot one level below, missing if the value is not a map.
func (s Snapshot) Child(key string) Snapshot {
	child := Snapshot{Path: Join(s.Path, key)}
	if m, ok := s.Value.(map[string]any); ok {
		child.Value = m[key]
	}
	return child
}

// Keys lists the child keys in sorted order.
func (s Snapshot) Keys() []string {
	m, ok := s.Value.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
