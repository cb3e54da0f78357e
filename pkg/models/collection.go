package models

import (
	"sort"

	"golang.org/x/exp/maps"
)

// Collection maps entity id to entity. Collections are treated as
// immutable values: every change produces a new map.
type Collection map[string]Entity

// With returns a copy of c containing e.
func (c Collection) With(e Entity) Collection {
	out := make(Collection, len(c)+1)
	maps.Copy(out, c)
	out[e.ID] = e
	return out
}

// Without returns a copy of c lacking id.
func (c Collection) Without(id string) Collection {
	if _, ok := c[id]; !ok {
		return c
	}
	out := maps.Clone(c)
	delete(out, id)
	return out
}

func (c Collection) Equal(other Collection) bool {
	return maps.Equal(c, other)
}

// Sorted returns the entities in draw order, lowest zIndex first.
func (c Collection) Sorted() []Entity {
	out := maps.Values(c)
	sort.Slice(out, func(i, j int) bool {
		if out[i].ZIndex != out[j].ZIndex {
			return out[i].ZIndex < out[j].ZIndex
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CollectionFromSlice builds a collection, the last entity winning on a repeated id.
func CollectionFromSlice(entities []Entity) Collection {
	out := make(Collection, len(entities))
	for _, e := range entities {
		out[e.ID] = e
	}
	return out
}

// CollectionSnapshot is the unit of undo and redo. Equality is structural.
type CollectionSnapshot struct {
	Notes  Collection
	Images Collection
	Files  Collection
}

// EmptySnapshot has three empty, non-nil collections.
func EmptySnapshot() CollectionSnapshot {
	return CollectionSnapshot{Notes: Collection{}, Images: Collection{}, Files: Collection{}}
}

func (s CollectionSnapshot) Get(k Kind) Collection {
	switch k {
	case KindNote:
		return s.Notes
	case KindImage:
		return s.Images
	case KindFile:
		return s.Files
	}
	return nil
}

// With returns s with the collection for k replaced.
func (s CollectionSnapshot) With(k Kind, c Collection) CollectionSnapshot {
	if c == nil {
		c = Collection{}
	}
	switch k {
	case KindNote:
		s.Notes = c
	case KindImage:
		s.Images = c
	case KindFile:
		s.Files = c
	}
	return s
}

func (s CollectionSnapshot) Equal(other CollectionSnapshot) bool {
	return s.Notes.Equal(other.Notes) && s.Images.Equal(other.Images) && s.Files.Equal(other.Files)
}

// Len is the number of entities across all three collections.
func (s CollectionSnapshot) Len() int {
	return len(s.Notes) + len(s.Images) + len(s.Files)
}

// Lookup finds an entity by id in any collection.
func (s CollectionSnapshot) Lookup(id string) (Entity, bool) {
	for _, k := range Kinds {
		if e, ok := s.Get(k)[id]; ok {
			return e, true
		}
	}
	return Entity{}, false
}

// MaxZIndex is the highest zIndex across all collections, 0 when empty.
func (s CollectionSnapshot) MaxZIndex() int64 {
	var top int64
	for _, k := range Kinds {
		for _, e := range s.Get(k) {
			if e.ZIndex > top {
				top = e.ZIndex
			}
		}
	}
	return top
}

// NextZIndex is the zIndex the next created or focused entity receives.
func (s CollectionSnapshot) NextZIndex() int64 {
	return s.MaxZIndex() + 1
}

// Change is one entity level difference between two snapshots.
// Entity is nil when the entity was removed.
type Change struct {
	Kind   Kind
	ID     string
	Entity *Entity
}

// Diff lists the changes that turn s into target, ordered by kind then id.
func (s CollectionSnapshot) Diff(target CollectionSnapshot) []Change {
	var changes []Change
	for _, k := range Kinds {
		from, to := s.Get(k), target.Get(k)
		ids := make(map[string]struct{}, len(from)+len(to))
		for id := range from {
			ids[id] = struct{}{}
		}
		for id := range to {
			ids[id] = struct{}{}
		}
		keys := maps.Keys(ids)
		sort.Strings(keys)
		for _, id := range keys {
			before, had := from[id]
			after, has := to[id]
			switch {
			case had && !has:
				changes = append(changes, Change{Kind: k, ID: id})
			case has && (!had || before != after):
				e := after
				changes = append(changes, Change{Kind: k, ID: id, Entity: &e})
			}
		}
	}
	return changes
}
