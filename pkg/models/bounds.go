package models

// Bounds are the size limits for one entity kind.
type Bounds struct {
	MinWidth, MaxWidth   float64
	MinHeight, MaxHeight float64

	DefaultWidth, DefaultHeight float64
}

var kindBounds = map[Kind]Bounds{
	KindNote:  {MinWidth: 180, MaxWidth: 600, MinHeight: 120, MaxHeight: 500, DefaultWidth: 240, DefaultHeight: 180},
	KindImage: {MinWidth: 50, MaxWidth: 2000, MinHeight: 50, MaxHeight: 2000, DefaultWidth: 320, DefaultHeight: 240},
	KindFile:  {MinWidth: 160, MaxWidth: 480, MinHeight: 60, MaxHeight: 320, DefaultWidth: 240, DefaultHeight: 80},
}

func BoundsFor(k Kind) Bounds {
	return kindBounds[k]
}

func (b Bounds) Clamp(width, height float64) (float64, float64) {
	return clamp(width, b.MinWidth, b.MaxWidth), clamp(height, b.MinHeight, b.MaxHeight)
}

func clamp(v, lo, hi float64) float64 {
	if hi == 0 {
		return v
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Handle is the resize handle being dragged.
type Handle string

const (
	HandleN  Handle = "n"
	HandleS  Handle = "s"
	HandleE  Handle = "e"
	HandleW  Handle = "w"
	HandleNE Handle = "ne"
	HandleNW Handle = "nw"
	HandleSE Handle = "se"
	HandleSW Handle = "sw"
)

func (h Handle) horizontal() bool {
	return h != HandleN && h != HandleS
}

func (h Handle) vertical() bool {
	return h != HandleE && h != HandleW
}

func (h Handle) west() bool {
	return h == HandleW || h == HandleNW || h == HandleSW
}

func (h Handle) north() bool {
	return h == HandleN || h == HandleNE || h == HandleNW
}

// Resize proposes a new size from a handle drag. The size is clamped to the
// kind's bounds and the edge opposite the handle keeps its absolute position.
// Dimensions the handle does not control are left as they are.
func Resize(e Entity, h Handle, width, height float64) Entity {
	right := e.X + e.Width
	bottom := e.Y + e.Height

	if !h.horizontal() {
		width = e.Width
	}
	if !h.vertical() {
		height = e.Height
	}
	width, height = BoundsFor(e.Kind).Clamp(width, height)

	if h.west() {
		e.X = right - width
	}
	if h.north() {
		e.Y = bottom - height
	}
	e.Width, e.Height = width, height
	return e
}
