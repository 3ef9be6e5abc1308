package coord

import (
	"math"
)

// Point is a machine position. A is the rotary axis in degrees.
type Point struct{ X, Y, Z, A float64 }

func (p Point) Equal(b Point) bool {
	return p.X == b.X && p.Y == b.Y && p.Z == b.Z && p.A == b.A
}

// Cross is the XYZ cross product; A is zero in the result.
func (p Point) Cross(op Point) Point {
	return Point{
		X: p.Y*op.Z - p.Z*op.Y,
		Y: p.Z*op.X - p.X*op.Z,
		Z: p.X*op.Y - p.Y*op.X,
	}
}
func (p Point) Dot(op Point) float64 {
	return p.X*op.X + p.Y*op.Y + p.Z*op.Z
}
func (p Point) Mul(val float64) Point {
	p.X *= val
	p.Y *= val
	p.Z *= val
	p.A *= val
	return p
}

func (p Point) Div(val float64) Point {
	p.X /= val
	p.Y /= val
	p.Z /= val
	p.A /= val
	return p
}

// Add will add the target values to p.
func (p Point) Add(target Point) Point {
	p.X += target.X
	p.Y += target.Y
	p.Z += target.Z
	p.A += target.A
	return p
}

// Sub will subtract the target values from p.
func (p Point) Sub(target Point) Point {
	p.X -= target.X
	p.Y -= target.Y
	p.Z -= target.Z
	p.A -= target.A
	return p
}

// MaxDelta returns the largest absolute per-axis difference to target.
func (p Point) MaxDelta(target Point) float64 {
	d := target.Sub(p)
	return math.Max(
		math.Max(math.Abs(d.X), math.Abs(d.Y)),
		math.Max(math.Abs(d.Z), math.Abs(d.A)),
	)
}

// Split will return a set of n evenly spaced points
// from p to the target. The last point is always target.
func (p Point) Split(target Point, n int) []Point {
	if n < 1 {
		n = 1
	}
	d := target.Sub(p)

	res := make([]Point, n)
	for i := range res {
		t := float64(i+1) / float64(n)
		res[i] = Point{
			X: p.X + t*d.X,
			Y: p.Y + t*d.Y,
			Z: p.Z + t*d.Z,
			A: p.A + t*d.A,
		}
	}
	res[n-1] = target

	return res
}

// DistanceXY will return the 2D distance to p from (x,y).
func (p Point) DistanceXY(x, y float64) float64 {
	return math.Sqrt(math.Pow(x-p.X, 2) + math.Pow(y-p.Y, 2))
}
