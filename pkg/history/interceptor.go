package history

import (
	"github.com/surrealdb/canvassync/pkg/models"
)

// Op names a store mutation.
type Op string

const (
	OpAdd      Op = "addEntity"
	OpUpdate   Op = "updateEntity"
	OpDelete   Op = "deleteEntity"
	OpSelect   Op = "selectEntity"
	OpViewport Op = "setViewport"
	OpClear    Op = "clear"

	// Undo and redo replace the collections directly and are never wrapped.
	OpUndo Op = "undo"
	OpRedo Op = "redo"
)

// DefaultDenyList holds the mutations that never produce a history entry.
var DefaultDenyList = []Op{OpSelect, OpViewport}

// Interceptor wraps a store's setter. Each wrapped mutation is bracketed by
// snapshots of the tracked collections and recorded when they differ.
type Interceptor struct {
	history *Store
	deny    map[Op]struct{}
}

func NewInterceptor(h *Store, deny ...Op) *Interceptor {
	if deny == nil {
		deny = DefaultDenyList
	}
	set := make(map[Op]struct{}, len(deny))
	for _, op := range deny {
		set[op] = struct{}{}
	}
	return &Interceptor{history: h, deny: set}
}

// Tracks reports whether op can produce history entries.
func (i *Interceptor) Tracks(op Op) bool {
	_, denied := i.deny[op]
	return !denied
}

// Wrap runs mutate between two reads of the tracked collections and
// records the pair when op is tracked and the collections changed.
// It reports whether an entry was recorded.
func (i *Interceptor) Wrap(op Op, snapshot func() models.CollectionSnapshot, mutate func()) bool {
	if !i.Tracks(op) {
		mutate()
		return false
	}
	before := snapshot()
	mutate()
	return i.history.Record(before, snapshot())
}

func (i *Interceptor) History() *Store {
	return i.history
}
