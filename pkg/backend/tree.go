package backend

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/surrealdb/canvassync/internal/codec"
)

// Tree is a hierarchical value stored as a flat set of leaves keyed by
// their full path. Maps are flattened on write and rebuilt on read, so a
// write at any depth only touches the leaves below it.
type Tree struct {
	mu     sync.RWMutex
	leaves map[string]any
	now    func() time.Time
}

func NewTree(now func() time.Time) *Tree {
	if now == nil {
		now = time.Now
	}
	return &Tree{leaves: map[string]any{}, now: now}
}

// Normalize turns any encodable value into the generic form stored in the
// tree: map[string]any, []any, string, int64, float64, bool or nil.
func Normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	var out any
	if err := codec.Convert(value, &out); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return out, nil
}

// Set replaces the value at path. nil and empty maps delete it.
func (t *Tree) Set(path string, value any) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	v, err := Normalize(value)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.set(path, v, t.now().UnixMilli())
	return nil
}

// Apply sets several paths under one lock, shortest path first, so a
// descendant listed next to its ancestor lands on top of it.
func (t *Tree) Apply(updates map[string]any) error {
	normalized := make(map[string]any, len(updates))
	for p, v := range updates {
		if err := ValidatePath(p); err != nil {
			return err
		}
		nv, err := Normalize(v)
		if err != nil {
			return err
		}
		normalized[p] = nv
	}
	paths := sortedPaths(normalized)

	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now().UnixMilli()
	for _, p := range paths {
		t.set(p, normalized[p], now)
	}
	return nil
}

func (t *Tree) set(path string, value any, now int64) {
	t.remove(path)
	t.flatten(path, value, now)
}

func (t *Tree) remove(path string) {
	delete(t.leaves, path)
	for p := range t.leaves {
		if IsAncestor(path, p) || IsAncestor(p, path) {
			delete(t.leaves, p)
		}
	}
}

func (t *Tree) flatten(path string, value any, now int64) {
	if isServerTimestamp(value) {
		t.leaves[path] = now
		return
	}
	switch v := value.(type) {
	case nil:
	case map[string]any:
		for k, child := range v {
			t.flatten(Join(path, k), child, now)
		}
	default:
		if path == "" {
			return
		}
		t.leaves[path] = v
	}
}

// Get assembles the value at path, nil when nothing is stored there.
func (t *Tree) Get(path string) any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.get(path)
}

func (t *Tree) get(path string) any {
	if v, ok := t.leaves[path]; ok {
		return v
	}
	var root map[string]any
	for p, v := range t.leaves {
		if !IsAncestor(path, p) {
			continue
		}
		rel := p
		if path != "" {
			rel = p[len(path)+1:]
		}
		if root == nil {
			root = map[string]any{}
		}
		insert(root, strings.Split(rel, "/"), v)
	}
	if root == nil {
		return nil
	}
	return root
}

func insert(m map[string]any, segs []string, v any) {
	for _, s := range segs[:len(segs)-1] {
		next, ok := m[s].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[s] = next
		}
		m = next
	}
	m[segs[len(segs)-1]] = v
}

// Len is the number of stored leaves.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.leaves)
}

// Leaves returns a copy of every leaf at or below path.
func (t *Tree) Leaves(path string) map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := map[string]any{}
	for p, v := range t.leaves {
		if p == path || IsAncestor(path, p) {
			out[p] = v
		}
	}
	return out
}

func sortedPaths(m map[string]any) []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		if len(paths[i]) != len(paths[j]) {
			return len(paths[i]) < len(paths[j])
		}
		return paths[i] < paths[j]
	})
	return paths
}
