package meshlevel

import (
	"strings"
	"testing"

	"github.com/mastercactapus/cnclink/coord"
	"github.com/mastercactapus/cnclink/gcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// probes indicate a rise of 30mm over 100mm, or .3mmZ for every 1mm X
var rampProbes = []coord.Point{
	{X: 0, Y: 50, Z: 0},
	{X: 0, Y: -50, Z: 0},

	{X: 100, Y: 50, Z: 30},
	{X: 100, Y: -50, Z: 30},
}

func TestMesh_OffsetZ(t *testing.T) {
	mesh, err := NewMesh(rampProbes)
	require.NoError(t, err)

	ok, z := mesh.OffsetZ(50, 0)
	assert.True(t, ok)
	assert.InDelta(t, 15, z, 1e-9)

	ok, z = mesh.OffsetZ(10, 25)
	assert.True(t, ok)
	assert.InDelta(t, 3, z, 1e-9)

	ok, _ = mesh.OffsetZ(101, 0)
	assert.False(t, ok)
}

func TestNewMesh_TooFew(t *testing.T) {
	_, err := NewMesh(rampProbes[:2])
	assert.ErrorIs(t, err, ErrTooFewPoints)
}

func TestLevel(t *testing.T) {
	mesh, err := NewMesh(rampProbes)
	require.NoError(t, err)

	path := []gcode.PathPoint{
		{Point: coord.Point{X: 0, Y: 0, Z: -1}, Line: 1},
		{Point: coord.Point{X: 1, Y: 0, Z: -1}, Line: 2, Cutting: true},
		{Point: coord.Point{X: 3, Y: 0, Z: -1}, Line: 2, Cutting: true},
		{Point: coord.Point{X: 200, Y: 0, Z: -1}, Line: 3},
	}

	res := Level(path, mesh)
	require.Len(t, res, 4)
	assert.InDelta(t, -1, res[0].Z, 1e-9)
	assert.InDelta(t, -0.7, res[1].Z, 1e-9)
	assert.InDelta(t, -0.1, res[2].Z, 1e-9)
	assert.Equal(t, -1.0, res[3].Z, "outside the mesh")
	assert.True(t, res[1].Cutting)
	assert.Equal(t, 2, res[2].Line)

	// input is untouched
	assert.Equal(t, -1.0, path[1].Z)
}

func TestLevel_Flat(t *testing.T) {
	path := []gcode.PathPoint{{Point: coord.Point{X: 1, Y: 2, Z: 3}}}
	assert.Equal(t, path, Level(path, nil))
}

func TestDensify(t *testing.T) {
	path := []gcode.PathPoint{
		{Point: coord.Point{X: 0, Y: 0}, Line: 1},
		{Point: coord.Point{X: 3, Y: 0, Z: 3}, Line: 2},
		{Point: coord.Point{X: 3.5, Y: 0, Z: 3}, Line: 3},
	}

	res := Densify(path, 1)
	require.Len(t, res, 5)
	assert.Equal(t, 0.0, res[0].X)
	assert.InDelta(t, 1, res[1].X, 1e-9)
	assert.InDelta(t, 1, res[1].Z, 1e-9)
	assert.Equal(t, 2, res[1].Line)
	assert.InDelta(t, 2, res[2].X, 1e-9)
	assert.Equal(t, coord.Point{X: 3, Y: 0, Z: 3}, res[3].Point)
	assert.Equal(t, 3, res[4].Line)
}

func TestLevel_Program(t *testing.T) {
	mesh, err := NewMesh(rampProbes)
	require.NoError(t, err)

	prog, err := gcode.NewInterpreter().Load(strings.NewReader("G90\nG1 X3 F100\n"))
	require.NoError(t, err)

	res := Level(prog.Path, mesh)
	require.NotEmpty(t, res)
	last := res[len(res)-1]
	assert.InDelta(t, 3, last.X, 1e-9)
	assert.InDelta(t, 0.9, last.Z, 1e-9)
}

func TestOffsetFrom(t *testing.T) {
	pts := OffsetFrom(2, []coord.Point{{Z: 2}, {Z: 5}})
	assert.Equal(t, []coord.Point{{Z: 0}, {Z: 3}}, pts)
}

func TestReadPoints(t *testing.T) {
	pts, err := ReadPoints(strings.NewReader(`[{"X":1,"Y":2,"Z":3},{"X":4,"Y":5,"Z":6}]`))
	require.NoError(t, err)
	assert.Equal(t, []coord.Point{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}}, pts)

	_, err = ReadPoints(strings.NewReader(`{`))
	assert.Error(t, err)
}
