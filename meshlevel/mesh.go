// Package meshlevel corrects toolpaths for an uneven surface using a
// triangulated mesh of probed points.
package meshlevel

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fogleman/delaunay"
	"github.com/mastercactapus/cnclink/coord"
)

var ErrTooFewPoints = errors.New("need at least 3 points to create a mesh")

// Mesh is a Delaunay triangulation of probe points.
type Mesh struct {
	bounds    coord.Bounds
	triangles []coord.Triangle
}

func NewMesh(points []coord.Point) (*Mesh, error) {
	if len(points) < 3 {
		return nil, ErrTooFewPoints
	}

	points2d := make([]delaunay.Point, len(points))
	m := make(map[delaunay.Point]coord.Point, len(points))

	mesh := &Mesh{bounds: coord.NewBounds()}
	for i, p := range points {
		mesh.bounds.Add(p)

		d := delaunay.Point{X: p.X, Y: p.Y}
		m[d] = p
		points2d[i] = d
	}
	mesh.bounds.Min.X -= coord.Epsilon
	mesh.bounds.Min.Y -= coord.Epsilon
	mesh.bounds.Max.X += coord.Epsilon
	mesh.bounds.Max.Y += coord.Epsilon

	tri, err := delaunay.Triangulate(points2d)
	if err != nil {
		return nil, fmt.Errorf("triangulate: %w", err)
	}

	mesh.triangles = make([]coord.Triangle, 0, len(tri.Triangles)/3)
	for i := 0; i+2 < len(tri.Triangles); i += 3 {
		mesh.triangles = append(mesh.triangles, coord.Triangle{
			A: m[tri.Points[tri.Triangles[i]]],
			B: m[tri.Points[tri.Triangles[i+1]]],
			C: m[tri.Points[tri.Triangles[i+2]]],
		})
	}

	return mesh, nil
}

// Bounds is the XY area covered by the mesh.
func (m *Mesh) Bounds() coord.Bounds { return m.bounds }

// OffsetZ returns the surface height at x,y, or false outside the mesh.
func (m *Mesh) OffsetZ(x, y float64) (bool, float64) {
	b := m.bounds
	if x < b.Min.X || b.Max.X < x || y < b.Min.Y || b.Max.Y < y {
		return false, 0
	}
	for _, t := range m.triangles {
		if !t.ContainsXY(x, y) {
			continue
		}
		return true, t.Z(x, y)
	}

	return false, 0
}

// ReadPoints decodes a JSON array of {"X":..,"Y":..,"Z":..} probe points.
func ReadPoints(r io.Reader) ([]coord.Point, error) {
	var pts []coord.Point
	if err := json.NewDecoder(r).Decode(&pts); err != nil {
		return nil, fmt.Errorf("decode probe points: %w", err)
	}
	return pts, nil
}
