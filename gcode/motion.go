package gcode

import (
	"errors"
	"math"

	"github.com/mastercactapus/cnclink/coord"
)

const (
	// linearResolution is the segment length of interpolated G0/G1 moves, in mm.
	linearResolution = 0.5

	maxArcStep  = math.Pi / 4
	maxSegments = 1000000
	maxRepeat   = 10000
)

var (
	ErrNonFinite       = errors.New("coordinate is not a finite number")
	ErrTooManySegments = errors.New("motion needs too many segments")
	ErrTooManyRepeats  = errors.New("canned cycle repeat count out of range")
)

func finite(p coord.Point) bool {
	for _, v := range [...]float64{p.X, p.Y, p.Z, p.A} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (ip *Interpreter) motionPath() ([]coord.Point, error) {
	switch ip.modal.Motion {
	case 0, 1:
		return ip.linearPath()
	case 2, 3:
		if !finite(ip.target) {
			return nil, ErrNonFinite
		}
		uc, vc := ip.arcCenter()
		return ip.arcPath(uc, vc), nil
	case 81, 82, 83, 85, 86, 89:
		return ip.cannedPath()
	}

	return nil, nil
}

func (ip *Interpreter) linearPath() ([]coord.Point, error) {
	if ip.delta == (coord.Point{}) {
		return nil, nil
	}
	end := ip.target
	if !finite(end) {
		return nil, ErrNonFinite
	}

	steps := int(ip.pos.MaxDelta(end) / linearResolution)
	if steps < 1 {
		steps = 1
	}
	if steps > maxSegments {
		return nil, ErrTooManySegments
	}

	return ip.pos.Split(end, steps), nil
}

// arcCenter returns the arc center in plane coordinates. With R set
// the center sits on the chord bisector on the side matching the
// direction; otherwise it comes from the I/J/K offsets and sets the radius.
func (ip *Interpreter) arcCenter() (float64, float64) {
	if ip.r > 0 {
		x, y, _ := ip.modal.Plane.project(ip.pos)
		xv, yv, _ := ip.modal.Plane.project(ip.target)

		abx := xv - x
		aby := yv - y
		cx := 0.5 * (x + xv)
		cy := 0.5 * (y + yv)
		ab := math.Sqrt(abx*abx + aby*aby)

		var oc float64
		if s := ip.r*ip.r - ab*ab/4; s >= 0 {
			oc = math.Sqrt(s)
		}
		if ip.modal.Motion == 2 {
			oc = -oc
		}
		if ab == 0 {
			return x, y
		}
		return cx - oc*aby/ab, cy + oc*abx/ab
	}

	c := ip.pos.Add(ip.ijk)
	ip.r = math.Sqrt(ip.ijk.X*ip.ijk.X + ip.ijk.Y*ip.ijk.Y + ip.ijk.Z*ip.ijk.Z)
	uc, vc, _ := ip.modal.Plane.project(c)
	return uc, vc
}

func (ip *Interpreter) arcPath(uc, vc float64) []coord.Point {
	plane := ip.modal.Plane
	dir := ip.modal.Motion
	if plane == PlaneXZ {
		// XZ is viewed from -Y
		dir = 5 - dir
	}

	u0, v0, w0 := plane.project(ip.pos)
	u1, v1, w1 := plane.project(ip.target)
	a0, a1 := ip.pos.A, ip.target.A

	phi0 := math.Atan2(v0-vc, u0-uc)
	phi1 := math.Atan2(v1-vc, u1-uc)

	df := maxArcStep
	if ip.r > 0 {
		if s := 1 - ip.accuracy/ip.r; s > 0 {
			df = math.Min(2*math.Acos(s), maxArcStep)
		}
	}
	df = math.Max(df, 2*math.Pi/maxSegments)

	var pts []coord.Point
	point := func(phi, ws, as float64) coord.Point {
		return plane.unproject(
			uc+ip.r*math.Cos(phi),
			vc+ip.r*math.Sin(phi),
			w0+(phi-phi0)*ws,
			a0+(phi-phi0)*as,
		)
	}

	if dir == 2 {
		if phi1 >= phi0-1e-10 {
			phi1 -= 2 * math.Pi
		}
		ws := (w1 - w0) / (phi1 - phi0)
		as := (a1 - a0) / (phi1 - phi0)
		for phi := phi0 - df; phi > phi1; phi -= df {
			pts = append(pts, point(phi, ws, as))
		}
	} else {
		if phi1 <= phi0+1e-10 {
			phi1 += 2 * math.Pi
		}
		ws := (w1 - w0) / (phi1 - phi0)
		as := (a1 - a0) / (phi1 - phi0)
		for phi := phi0 + df; phi < phi1; phi += df {
			pts = append(pts, point(phi, ws, as))
		}
	}

	return append(pts, ip.target)
}

// cannedPath expands a drilling cycle in the XY plane: clearance,
// then for each repeat a lateral move, plunge and retract.
func (ip *Interpreter) cannedPath() ([]coord.Point, error) {
	clearZ, drill := ip.cannedHeights()
	if ip.repeat < 0 || ip.repeat > maxRepeat {
		return nil, ErrTooManyRepeats
	}
	if !finite(ip.target) || math.IsNaN(clearZ) || math.IsInf(clearZ, 0) {
		return nil, ErrNonFinite
	}

	p := ip.pos
	pts := []coord.Point{p}

	if p.Z != clearZ {
		p.Z = clearZ
		pts = append(pts, p)
	}

	for l := 0; l < ip.repeat; l++ {
		p.X += ip.delta.X
		p.Y += ip.delta.Y
		pts = append(pts, p)

		if ip.pos.Z > clearZ {
			c := p
			c.Z = clearZ
			pts = append(pts, c)
		}

		d := p
		d.Z = drill
		pts = append(pts, d)

		p.Z = clearZ
		pts = append(pts, p)
	}

	return pts, nil
}
