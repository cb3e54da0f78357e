package models

const (
	MinScale = 0.1
	MaxScale = 5
)

// Viewport is the pan and zoom of a canvas. Pan is unconstrained.
type Viewport struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale float64 `json:"scale"`
}

func DefaultViewport() Viewport {
	return Viewport{Scale: 1}
}

// Clamp bounds the scale to [MinScale, MaxScale]. A zero scale becomes 1.
func (v Viewport) Clamp() Viewport {
	switch {
	case v.Scale == 0:
		v.Scale = 1
	case v.Scale < MinScale:
		v.Scale = MinScale
	case v.Scale > MaxScale:
		v.Scale = MaxScale
	}
	return v
}
