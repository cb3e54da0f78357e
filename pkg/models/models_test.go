package models

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/canvassync/pkg/constants"
)

func note(id string, z int64) Entity {
	return Entity{ID: id, Kind: KindNote, X: 10, Y: 20, Width: 200, Height: 150, ZIndex: z}
}

func TestResizeKeepsNoteWithinBounds(t *testing.T) {
	e := note("n1", 1)
	handles := []Handle{HandleN, HandleS, HandleE, HandleW, HandleNE, HandleNW, HandleSE, HandleSW}
	sizes := [][2]float64{{0, 0}, {10, 10000}, {10000, 10}, {-50, -50}, {400, 300}}

	for _, h := range handles {
		for _, s := range sizes {
			r := Resize(e, h, s[0], s[1])
			assert.GreaterOrEqual(t, r.Width, 180.0, "handle %s", h)
			assert.LessOrEqual(t, r.Width, 600.0, "handle %s", h)
			assert.GreaterOrEqual(t, r.Height, 120.0, "handle %s", h)
			assert.LessOrEqual(t, r.Height, 500.0, "handle %s", h)
		}
	}
}

func TestResizeAnchorsOppositeEdge(t *testing.T) {
	e := note("n1", 1)
	right := e.X + e.Width
	bottom := e.Y + e.Height

	t.Run("west keeps right edge", func(t *testing.T) {
		r := Resize(e, HandleW, 100, 999)
		assert.Equal(t, 180.0, r.Width)
		assert.Equal(t, e.Height, r.Height)
		assert.Equal(t, right, r.X+r.Width)
		assert.Equal(t, e.Y, r.Y)
	})

	t.Run("north keeps bottom edge", func(t *testing.T) {
		r := Resize(e, HandleN, 999, 700)
		assert.Equal(t, 500.0, r.Height)
		assert.Equal(t, e.Width, r.Width)
		assert.Equal(t, bottom, r.Y+r.Height)
		assert.Equal(t, e.X, r.X)
	})

	t.Run("north west keeps bottom right corner", func(t *testing.T) {
		r := Resize(e, HandleNW, 300, 200)
		assert.Equal(t, right, r.X+r.Width)
		assert.Equal(t, bottom, r.Y+r.Height)
	})

	t.Run("south east keeps top left corner", func(t *testing.T) {
		r := Resize(e, HandleSE, 300, 200)
		assert.Equal(t, e.X, r.X)
		assert.Equal(t, e.Y, r.Y)
		assert.Equal(t, 300.0, r.Width)
		assert.Equal(t, 200.0, r.Height)
	})
}

func TestPatchApply(t *testing.T) {
	e := note("n1", 1)
	out := Patch{Content: Ptr("hello"), Width: Ptr(9999.0)}.Apply(e)
	assert.Equal(t, "hello", out.Content)
	assert.Equal(t, 600.0, out.Width)
	assert.Equal(t, e.X, out.X)
	assert.True(t, Patch{}.Empty())
	assert.False(t, Patch{X: Ptr(1.0)}.Empty())
}

func TestValidate(t *testing.T) {
	require.NoError(t, note("a", 1).Validate())

	bad := note("a", 1)
	bad.Kind = "sticker"
	assert.True(t, errors.Is(bad.Validate(), constants.ErrInvalidKind))

	bad = note("a", 1)
	bad.X = math.NaN()
	assert.ErrorIs(t, bad.Validate(), constants.ErrInvalidEntity)

	bad = note("a", 1)
	bad.Height = -1
	assert.ErrorIs(t, bad.Validate(), constants.ErrInvalidEntity)
}

func TestNormalizeDefaults(t *testing.T) {
	e := Entity{ID: "f", Kind: KindFile}.Normalize()
	assert.Equal(t, BoundsFor(KindFile).DefaultWidth, e.Width)
	assert.Equal(t, BoundsFor(KindFile).DefaultHeight, e.Height)

	n := Entity{ID: "n", Kind: KindNote, Width: 50, Height: 50}.Normalize()
	assert.Equal(t, 180.0, n.Width)
	assert.Equal(t, 120.0, n.Height)
	assert.Equal(t, DefaultNoteColor, n.Color)
}

func TestNextZIndex(t *testing.T) {
	s := EmptySnapshot()
	assert.Equal(t, int64(1), s.NextZIndex())

	s = s.With(KindNote, s.Notes.With(note("a", 4)))
	s = s.With(KindImage, Collection{"i": {ID: "i", Kind: KindImage, ZIndex: 9}})
	assert.Equal(t, int64(10), s.NextZIndex())
}

func TestCollectionIsCopyOnWrite(t *testing.T) {
	a := Collection{}.With(note("a", 1))
	b := a.With(note("b", 2))
	c := b.Without("a")

	assert.Len(t, a, 1)
	assert.Len(t, b, 2)
	assert.Len(t, c, 1)
	assert.True(t, a.Equal(Collection{"a": note("a", 1)}))
	assert.Equal(t, []string{"a", "b"}, []string{b.Sorted()[0].ID, b.Sorted()[1].ID})
}

func TestSnapshotEqualityIsStructural(t *testing.T) {
	a := EmptySnapshot().With(KindNote, Collection{"a": note("a", 1)})
	b := EmptySnapshot().With(KindNote, Collection{"a": note("a", 1)})
	assert.True(t, a.Equal(b))

	b = b.With(KindNote, b.Notes.With(Patch{Content: Ptr("x")}.Apply(note("a", 1))))
	assert.False(t, a.Equal(b))
}

func TestDiff(t *testing.T) {
	from := EmptySnapshot().With(KindNote, Collection{"a": note("a", 1), "b": note("b", 2)})
	to := EmptySnapshot().With(KindNote, Collection{"b": note("b", 3), "c": note("c", 4)})

	changes := from.Diff(to)
	require.Len(t, changes, 3)
	assert.Equal(t, "a", changes[0].ID)
	assert.Nil(t, changes[0].Entity)
	assert.Equal(t, int64(3), changes[1].Entity.ZIndex)
	assert.Equal(t, "c", changes[2].ID)
	assert.Empty(t, to.Diff(to))
}

func TestViewportClamp(t *testing.T) {
	assert.Equal(t, 0.1, Viewport{Scale: 0.01}.Clamp().Scale)
	assert.Equal(t, 5.0, Viewport{Scale: 50}.Clamp().Scale)
	assert.Equal(t, 1.0, Viewport{}.Clamp().Scale)
	assert.Equal(t, Viewport{X: -1e6, Y: 1e6, Scale: 2}, Viewport{X: -1e6, Y: 1e6, Scale: 2}.Clamp())
}

func TestRolesAndPalette(t *testing.T) {
	meta := CanvasMeta{OwnerID: "owner"}
	assert.True(t, Participant{UserID: "owner", Role: RoleViewer}.CanEdit(meta))
	assert.True(t, Participant{UserID: "x", Role: RoleEditor}.CanEdit(meta))
	assert.False(t, Participant{UserID: "y", Role: RoleViewer}.CanEdit(meta))
	assert.False(t, Role("admin").Valid())

	assert.Equal(t, Palette[0], PaletteColor(0))
	assert.Equal(t, Palette[1], PaletteColor(len(Palette)+1))
}

func TestKindCollections(t *testing.T) {
	for _, k := range Kinds {
		got, ok := KindOfCollection(k.Collection())
		require.True(t, ok)
		assert.Equal(t, k, got)
	}
	_, ok := KindOfCollection("stickers")
	assert.False(t, ok)
}
