// Package localcache persists canvas state on the local device. Local
// sessions use it as their only storage; remote sessions use it to render
// the last known state before the first snapshot arrives.
package localcache

import (
	"context"
	"time"

	"github.com/surrealdb/canvassync/pkg/models"
)

// RecordVersion is bumped whenever the record layout changes. Records of
// any other version are discarded on load.
const RecordVersion = 1

type Record struct {
	Version          int             `json:"version"`
	UpdatedAt        int64           `json:"updatedAt"`
	Notes            []models.Entity `json:"notes"`
	Images           []models.Entity `json:"images"`
	Files            []models.Entity `json:"files"`
	ViewportSettings models.Viewport `json:"viewportSettings"`
}

// NewRecord captures a snapshot and viewport at now.
func NewRecord(snap models.CollectionSnapshot, vp models.Viewport, now time.Time) Record {
	return Record{
		Version:          RecordVersion,
		UpdatedAt:        models.Millis(now),
		Notes:            snap.Notes.Sorted(),
		Images:           snap.Images.Sorted(),
		Files:            snap.Files.Sorted(),
		ViewportSettings: vp,
	}
}

func (r Record) Snapshot() models.CollectionSnapshot {
	return models.CollectionSnapshot{
		Notes:  models.CollectionFromSlice(r.Notes),
		Images: models.CollectionFromSlice(r.Images),
		Files:  models.CollectionFromSlice(r.Files),
	}
}

// Cache stores one record per key, a user or session identifier.
type Cache interface {
	// Load returns false when no usable record exists.
	Load(ctx context.Context, key string) (Record, bool, error)
	Save(ctx context.Context, key string, r Record) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Nop is a cache that stores nothing.
type Nop struct{}

func (Nop) Load(context.Context, string) (Record, bool, error) { return Record{}, false, nil }
func (Nop) Save(context.Context, string, Record) error         { return nil }
func (Nop) Delete(context.Context, string) error               { return nil }
func (Nop) Close() error                                       { return nil }
