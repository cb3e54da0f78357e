// Package history keeps a bounded, linear undo/redo history of collection
// snapshots and the interceptor that feeds it from store mutations.
package history

import (
	"sync"

	"github.com/surrealdb/canvassync/pkg/constants"
	"github.com/surrealdb/canvassync/pkg/models"
)

// Store holds the undo and redo stacks. Undo entries are the states that
// preceded each recorded mutation; pushing past the limit evicts the oldest.
type Store struct {
	mu      sync.Mutex
	limit   int
	undo    []models.CollectionSnapshot
	redo    []models.CollectionSnapshot
	current models.CollectionSnapshot
}

// New returns a store keeping at most limit undo entries.
// A limit below one falls back to constants.HistoryDepth.
func New(limit int) *Store {
	if limit < 1 {
		limit = constants.HistoryDepth
	}
	return &Store{limit: limit, current: models.EmptySnapshot()}
}

// Record registers a mutation from before to after. Equal snapshots are
// ignored. Recording clears the redo stack.
func (s *Store) Record(before, after models.CollectionSnapshot) bool {
	if before.Equal(after) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.push(before)
	s.redo = nil
	s.current = after
	return true
}

func (s *Store) push(snap models.CollectionSnapshot) {
	if len(s.undo) == s.limit {
		copy(s.undo, s.undo[1:])
		s.undo = s.undo[:s.limit-1]
	}
	s.undo = append(s.undo, snap)
}

// Undo pops the latest undo entry and moves current onto the redo stack.
// It reports false, and changes nothing, when there is nothing to undo.
func (s *Store) Undo(current models.CollectionSnapshot) (models.CollectionSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.undo) == 0 {
		return current, false
	}
	prev := s.undo[len(s.undo)-1]
	s.undo = s.undo[:len(s.undo)-1]
	s.redo = append(s.redo, current)
	s.current = prev
	return prev, true
}

// Redo mirrors Undo.
func (s *Store) Redo(current models.CollectionSnapshot) (models.CollectionSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.redo) == 0 {
		return current, false
	}
	next := s.redo[len(s.redo)-1]
	s.redo = s.redo[:len(s.redo)-1]
	s.push(current)
	s.current = next
	return next, true
}

func (s *Store) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undo) > 0
}

func (s *Store) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.redo) > 0
}

// Depth returns the sizes of the undo and redo stacks.
func (s *Store) Depth() (undo, redo int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undo), len(s.redo)
}

// Current is the state after the last recorded, undone or redone mutation.
func (s *Store) Current() models.CollectionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Reset drops both stacks and starts over from current, e.g. for a fresh session.
func (s *Store) Reset(current models.CollectionSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.undo = nil
	s.redo = nil
	s.current = current
}
