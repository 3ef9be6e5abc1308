package coord

import "math"

// Bounds is an XYZ bounding box. A zero Bounds is not empty; use NewBounds.
type Bounds struct {
	Min, Max Point
}

// NewBounds returns an empty box with every extreme at infinity so
// that the first Add sets both corners.
func NewBounds() Bounds {
	inf := math.Inf(1)
	return Bounds{
		Min: Point{X: inf, Y: inf, Z: inf},
		Max: Point{X: -inf, Y: -inf, Z: -inf},
	}
}

// Add tightens the box to include p.
func (b *Bounds) Add(p Point) {
	b.Min.X = math.Min(b.Min.X, p.X)
	b.Min.Y = math.Min(b.Min.Y, p.Y)
	b.Min.Z = math.Min(b.Min.Z, p.Z)
	b.Max.X = math.Max(b.Max.X, p.X)
	b.Max.Y = math.Max(b.Max.Y, p.Y)
	b.Max.Z = math.Max(b.Max.Z, p.Z)
}

func (b Bounds) Empty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// Size is the extent on each axis, or zero when empty.
func (b Bounds) Size() Point {
	if b.Empty() {
		return Point{}
	}
	return Point{
		X: b.Max.X - b.Min.X,
		Y: b.Max.Y - b.Min.Y,
		Z: b.Max.Z - b.Min.Z,
	}
}
