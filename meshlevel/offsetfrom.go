package meshlevel

import (
	"github.com/mastercactapus/cnclink/coord"
)

// OffsetFrom returns points with z subtracted from every height, so a
// reference probe becomes zero.
func OffsetFrom(z float64, points []coord.Point) []coord.Point {
	p := make([]coord.Point, len(points))
	copy(p, points)

	for i := range p {
		p[i].Z -= z
	}
	return p
}
