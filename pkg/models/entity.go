// Package models holds the canvas data model: entities and their
// collections, the viewport, and the collaboration records stored next
// to a shared canvas.
package models

import (
	"fmt"
	"math"
	"time"

	"github.com/surrealdb/canvassync/pkg/constants"
)

// Kind selects one of the three entity collections.
type Kind string

const (
	KindNote  Kind = "note"
	KindImage Kind = "image"
	KindFile  Kind = "file"
)

// Kinds lists every entity kind in collection order.
var Kinds = []Kind{KindNote, KindImage, KindFile}

func (k Kind) Valid() bool {
	switch k {
	case KindNote, KindImage, KindFile:
		return true
	}
	return false
}

// Collection returns the backend collection name for the kind.
func (k Kind) Collection() string {
	switch k {
	case KindNote:
		return "notes"
	case KindImage:
		return "images"
	case KindFile:
		return "files"
	}
	return ""
}

// KindOfCollection is the inverse of Kind.Collection.
func KindOfCollection(name string) (Kind, bool) {
	for _, k := range Kinds {
		if k.Collection() == name {
			return k, true
		}
	}
	return "", false
}

// Entity is a positioned note, image or file. Payload fields that do not
// apply to the kind stay zero and are omitted on the wire.
type Entity struct {
	ID     string  `json:"id"`
	Kind   Kind    `json:"kind"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	ZIndex int64   `json:"zIndex"`

	// note
	Content string `json:"content,omitempty"`
	Color   string `json:"color,omitempty"`

	// image and file
	URL            string  `json:"url,omitempty"`
	OriginalWidth  float64 `json:"originalWidth,omitempty"`
	OriginalHeight float64 `json:"originalHeight,omitempty"`
	FileName       string  `json:"fileName,omitempty"`
	FileSize       int64   `json:"fileSize,omitempty"`
	MimeType       string  `json:"mimeType,omitempty"`

	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// Validate rejects entities that cannot be written at all. Sizes outside
// the kind's bounds are not an error here; Normalize clamps them.
func (e Entity) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: %q", constants.ErrInvalidKind, e.Kind)
	}
	for name, v := range map[string]float64{"x": e.X, "y": e.Y, "width": e.Width, "height": e.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not finite", constants.ErrInvalidEntity, name)
		}
	}
	if e.Width < 0 || e.Height < 0 {
		return fmt.Errorf("%w: negative size", constants.ErrInvalidEntity)
	}
	if e.FileSize < 0 {
		return fmt.Errorf("%w: negative file size", constants.ErrInvalidEntity)
	}
	return nil
}

// Normalize applies default and bounded sizes for the entity's kind.
func (e Entity) Normalize() Entity {
	b := BoundsFor(e.Kind)
	if e.Width == 0 {
		e.Width = b.DefaultWidth
	}
	if e.Height == 0 {
		e.Height = b.DefaultHeight
	}
	e.Width, e.Height = b.Clamp(e.Width, e.Height)
	if e.Kind == KindNote && e.Color == "" {
		e.Color = DefaultNoteColor
	}
	return e
}

// Millis converts t to the unix millisecond timestamps used on the wire.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T {
	return &v
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	X      *float64
	Y      *float64
	Width  *float64
	Height *float64
	ZIndex *int64

	Content *string
	Color   *string

	URL            *string
	OriginalWidth  *float64
	OriginalHeight *float64
	FileName       *string
	FileSize       *int64
	MimeType       *string
}

// Apply returns e with the patch applied and sizes clamped.
func (p Patch) Apply(e Entity) Entity {
	setF := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setS := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setF(&e.X, p.X)
	setF(&e.Y, p.Y)
	setF(&e.Width, p.Width)
	setF(&e.Height, p.Height)
	if p.ZIndex != nil {
		e.ZIndex = *p.ZIndex
	}
	setS(&e.Content, p.Content)
	setS(&e.Color, p.Color)
	setS(&e.URL, p.URL)
	setF(&e.OriginalWidth, p.OriginalWidth)
	setF(&e.OriginalHeight, p.OriginalHeight)
	setS(&e.FileName, p.FileName)
	if p.FileSize != nil {
		e.FileSize = *p.FileSize
	}
	setS(&e.MimeType, p.MimeType)

	b := BoundsFor(e.Kind)
	e.Width, e.Height = b.Clamp(e.Width, e.Height)
	return e
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p == Patch{}
}
