package meshlevel

import (
	"math"

	"github.com/mastercactapus/cnclink/gcode"
)

// Level returns a copy of path with each point raised by the surface
// height under it. Points outside the surface keep their height.
func Level(path []gcode.PathPoint, z ZOffsetter) []gcode.PathPoint {
	if z == nil {
		z = Flat{}
	}
	res := make([]gcode.PathPoint, len(path))
	for i, p := range path {
		if ok, off := z.OffsetZ(p.X, p.Y); ok {
			p.Z += off
		}
		res[i] = p
	}
	return res
}

// Densify splits every segment longer than granularity in XY into equal
// pieces so leveling can follow the surface between sparse points. The
// inserted points take the tags of the segment end.
func Densify(path []gcode.PathPoint, granularity float64) []gcode.PathPoint {
	if len(path) == 0 || granularity <= 0 {
		return append([]gcode.PathPoint(nil), path...)
	}

	res := make([]gcode.PathPoint, 0, len(path))
	res = append(res, path[0])
	for i := 1; i < len(path); i++ {
		oldPos, newPos := path[i-1].Point, path[i].Point

		dist := oldPos.DistanceXY(newPos.X, newPos.Y)
		if dist <= granularity {
			res = append(res, path[i])
			continue
		}

		n := int(math.Ceil(dist / granularity))
		for _, pt := range oldPos.Split(newPos, n) {
			p := path[i]
			p.Point = pt
			res = append(res, p)
		}
	}
	return res
}
