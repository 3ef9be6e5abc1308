package gcode

import (
	"math"
	"strings"
	"testing"

	"github.com/mastercactapus/cnclink/coord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseAll(t *testing.T, ip *Interpreter, lines ...string) [][]coord.Point {
	t.Helper()
	var res [][]coord.Point
	for i, l := range lines {
		pts, err := ip.ParseLine(l, i+1)
		require.NoError(t, err, l)
		res = append(res, pts)
	}
	return res
}

func TestInterpreter_SkipLines(t *testing.T) {
	ip := NewInterpreter()
	for _, l := range []string{"", "%", "(comment)", "#1=5", "; note", "   ", "(a) ;b"} {
		pts, err := ip.ParseLine(l, 1)
		assert.NoError(t, err, l)
		assert.Nil(t, pts, l)
	}
	assert.Empty(t, ip.Path())
}

func TestInterpreter_Linear(t *testing.T) {
	ip := NewInterpreter()
	res := parseAll(t, ip, "G0 X10", "G1 Y2.2 Z-1", "X3.3")

	assert.Len(t, res[0], 20)
	assert.InDelta(t, 0.5, res[0][0].X, 1e-12)
	assert.Equal(t, coord.Point{X: 10}, res[0][19])

	// 2.2 / 0.5 rounds down to 4 segments
	assert.Len(t, res[1], 4)
	assert.Equal(t, coord.Point{X: 10, Y: 2.2, Z: -1}, res[1][3])

	// modal G1
	assert.Equal(t, coord.Point{X: 3.3, Y: 2.2, Z: -1}, res[2][len(res[2])-1])
	assert.Equal(t, coord.Point{X: 3.3, Y: 2.2, Z: -1}, ip.Position())
}

func TestInterpreter_ShortMove(t *testing.T) {
	ip := NewInterpreter()
	res := parseAll(t, ip, "G1 X0.2")
	assert.Equal(t, []coord.Point{{X: 0.2}}, res[0])
}

func TestInterpreter_Relative(t *testing.T) {
	ip := NewInterpreter()
	parseAll(t, ip, "G91", "G1 X5 Y1", "G1 X5", "Z-2")
	assert.Equal(t, coord.Point{X: 10, Y: 1, Z: -2}, ip.Position())

	parseAll(t, ip, "G90", "G1 X1")
	assert.Equal(t, coord.Point{X: 1, Y: 1, Z: -2}, ip.Position())
}

func TestInterpreter_Units(t *testing.T) {
	ip := NewInterpreter()
	parseAll(t, ip, "G20", "G1 X1 F10")
	assert.InDelta(t, 25.4, ip.Position().X, 1e-9)
	assert.InDelta(t, 254, ip.Modal().Feed, 1e-9)
	assert.True(t, ip.Modal().Inches)

	// scale stays in effect until changed
	parseAll(t, ip, "G1 Y1")
	assert.InDelta(t, 25.4, ip.Position().Y, 1e-9)

	parseAll(t, ip, "G21", "G1 Y1")
	assert.InDelta(t, 1, ip.Position().Y, 1e-9)

	ip = NewInterpreter(WithInchMachine(true))
	parseAll(t, ip, "G21 G1 X25.4")
	assert.InDelta(t, 1, ip.Position().X, 1e-9)
}

func TestInterpreter_RotaryAxis(t *testing.T) {
	ip := NewInterpreter()
	assert.False(t, ip.Has4Axis())

	res := parseAll(t, ip, "G1 A90")
	assert.True(t, ip.Has4Axis())
	// A+ rotates counter-clockwise
	assert.Equal(t, -90.0, ip.Position().A)
	assert.Len(t, res[0], 180)
}

func TestInterpreter_ArcIJ(t *testing.T) {
	ip := NewInterpreter()
	res := parseAll(t, ip, "G0 X10 Y0", "G3 X0 Y10 I-10 J0")

	arc := res[1]
	require.True(t, len(arc) > 2)
	assert.Equal(t, coord.Point{X: 0, Y: 10}, arc[len(arc)-1])
	for _, p := range arc {
		assert.InDelta(t, 10, math.Hypot(p.X, p.Y), 1e-6)
		assert.True(t, p.X >= -1e-9 && p.Y >= -1e-9, "stays in the first quadrant")
	}
	assert.Equal(t, coord.Point{X: 0, Y: 10}, ip.Position())
}

func TestInterpreter_ArcSagitta(t *testing.T) {
	ip := NewInterpreter()
	res := parseAll(t, ip, "G0 X10", "G3 X0 Y10 I-10")

	df := 2 * math.Acos(1-DefaultAccuracy/10)
	for i := 1; i < len(res[1])-1; i++ {
		a0 := math.Atan2(res[1][i-1].Y, res[1][i-1].X)
		a1 := math.Atan2(res[1][i].Y, res[1][i].X)
		assert.InDelta(t, df, a1-a0, 1e-9)
	}

	// small radius clamps to 45 degrees
	ip = NewInterpreter(WithAccuracy(5))
	res = parseAll(t, ip, "G0 X1", "G3 X0 Y1 I-1")
	assert.Len(t, res[1], 2)
}

func TestInterpreter_FullCircle(t *testing.T) {
	ip := NewInterpreter()
	res := parseAll(t, ip, "G0 X10", "G2 X10 Y0 I-10 J0")

	arc := res[1]
	assert.True(t, len(arc) > 60, "goes all the way around")
	assert.Equal(t, coord.Point{X: 10}, arc[len(arc)-1])

	// clockwise from +X heads into negative Y first
	assert.True(t, arc[0].Y < 0)
}

func TestInterpreter_ArcRadius(t *testing.T) {
	ip := NewInterpreter()
	res := parseAll(t, ip, "G2 X10 Y0 R5")

	arc := res[0]
	assert.Equal(t, coord.Point{X: 10}, arc[len(arc)-1])
	var maxY float64
	for _, p := range arc {
		assert.True(t, p.Y >= -1e-9)
		assert.InDelta(t, 5, math.Hypot(p.X-5, p.Y), 1e-6)
		maxY = math.Max(maxY, p.Y)
	}
	assert.InDelta(t, 5, maxY, 0.05)
}

func TestInterpreter_ArcRadiusTooShort(t *testing.T) {
	ip := NewInterpreter()
	res := parseAll(t, ip, "G2 X10 Y0 R1")
	assert.Equal(t, coord.Point{X: 10}, res[0][len(res[0])-1])
}

func TestInterpreter_ArcHelixAndRotary(t *testing.T) {
	ip := NewInterpreter()
	res := parseAll(t, ip, "G0 X10", "G3 X-10 Y0 Z-5 A-180 I-10")

	arc := res[1]
	assert.Equal(t, coord.Point{X: -10, Z: -5, A: 180}, arc[len(arc)-1])
	mid := arc[len(arc)/2]
	assert.InDelta(t, -2.5, mid.Z, 0.3)
	assert.InDelta(t, 90, mid.A, 10)
}

func TestInterpreter_ArcPlaneXZ(t *testing.T) {
	ip := NewInterpreter()
	res := parseAll(t, ip, "G18", "G0 X10", "G2 X0 Z10 I-10 K0")

	arc := res[2]
	assert.Equal(t, coord.Point{X: 0, Z: 10}, arc[len(arc)-1])
	for _, p := range arc {
		assert.Equal(t, 0.0, p.Y)
		assert.InDelta(t, 10, math.Hypot(p.X, p.Z), 1e-6)
		assert.True(t, p.Z >= -1e-9, "short way round")
	}
}

func TestInterpreter_CannedCycle(t *testing.T) {
	ip := NewInterpreter()
	res := parseAll(t, ip, "G0 Z5", "G81 X10 Y0 Z-2 R2")

	assert.Equal(t, []coord.Point{
		{Z: 5},
		{X: 10, Z: 5},
		{X: 10, Z: -2},
		{X: 10, Z: 5},
	}, res[1])
	assert.Equal(t, coord.Point{X: 10, Z: 5}, ip.Position())

	// first point was already emitted by the rapid
	path := ip.Path()
	assert.Equal(t, coord.Point{X: 10, Z: 5}, path[len(path)-3].Point)
	assert.Equal(t, 2, path[len(path)-1].Line)
}

func TestInterpreter_CannedCycleRetractR(t *testing.T) {
	ip := NewInterpreter()
	res := parseAll(t, ip, "G0 Z5", "G99 G81 X10 Z-2 R2")

	assert.Equal(t, []coord.Point{
		{Z: 5},
		{Z: 2},
		{X: 10, Z: 2},
		{X: 10, Z: 2},
		{X: 10, Z: -2},
		{X: 10, Z: 2},
	}, res[1])
	assert.Equal(t, coord.Point{X: 10, Z: 2}, ip.Position())
}

func TestInterpreter_CannedCycleRepeat(t *testing.T) {
	ip := NewInterpreter()
	res := parseAll(t, ip, "G91", "G81 X5 Z-3 R1 L3")

	assert.Equal(t, []coord.Point{
		{},
		{Z: 1},
		{X: 5, Z: 1},
		{X: 5, Z: -2},
		{X: 5, Z: 1},
		{X: 10, Z: 1},
		{X: 10, Z: -2},
		{X: 10, Z: 1},
		{X: 15, Z: 1},
		{X: 15, Z: -2},
		{X: 15, Z: 1},
	}, res[1])
	assert.Equal(t, coord.Point{X: 15, Z: 1}, ip.Position())

	pts, err := ip.ParseLine("G80", 3)
	assert.NoError(t, err)
	assert.Nil(t, pts)
	assert.Equal(t, MotionNone, ip.Modal().Motion)
}

func TestInterpreter_Dwell(t *testing.T) {
	ip := NewInterpreter()
	res := parseAll(t, ip, "G1 X1", "G4 P2")
	assert.Empty(t, res[1])
	assert.Equal(t, 1, ip.Modal().Motion)
}

func TestInterpreter_Home(t *testing.T) {
	ip := NewInterpreter()
	parseAll(t, ip, "G1 X5 Y5", "G28")
	assert.Equal(t, coord.Point{}, ip.Position())

	res := parseAll(t, ip, "G1 X1")
	assert.Equal(t, coord.Point{X: 1}, res[0][len(res[0])-1])
}

func TestInterpreter_NonMotionCodes(t *testing.T) {
	ip := NewInterpreter()
	parseAll(t, ip, "G1 X1", "G40 G49 G64", "G55", "X2")
	assert.Equal(t, coord.Point{X: 2}, ip.Position())
	assert.Equal(t, 55, ip.Modal().WCS)
}

func TestInterpreter_Tags(t *testing.T) {
	ip := NewInterpreter()
	parseAll(t, ip, "G0 X0.5", "S1000 G1 X1", "T3 G1 X1.5", "M321 X2", "S0 X2.5")

	path := ip.Path()
	require.Len(t, path, 5)
	assert.Equal(t, PathPoint{Point: coord.Point{X: 0.5}, Line: 1}, path[0])
	assert.Equal(t, PathPoint{Point: coord.Point{X: 1}, Cutting: true, Line: 2}, path[1])
	assert.Equal(t, PathPoint{Point: coord.Point{X: 1.5}, Cutting: true, Line: 3, Tool: 3}, path[2])
	assert.Equal(t, PathPoint{Point: coord.Point{X: 2}, Cutting: true, Line: 4, Tool: 7}, path[3])
	assert.False(t, path[4].Cutting)
}

func TestInterpreter_Bounds(t *testing.T) {
	ip := NewInterpreter()
	assert.True(t, ip.Bounds().Empty())

	parseAll(t, ip, "G90", "G0 X-10 Y-5", "G1 X20 Y15 Z10", "G1 X5 Y25 Z-5")

	b := ip.Bounds()
	assert.InDelta(t, -10, b.Min.X, 1e-9)
	assert.InDelta(t, -5, b.Min.Y, 1e-9)
	assert.InDelta(t, -5, b.Min.Z, 1e-9)
	assert.InDelta(t, 20, b.Max.X, 1e-9)
	assert.InDelta(t, 25, b.Max.Y, 1e-9)
	assert.InDelta(t, 10, b.Max.Z, 1e-9)

	ip.Reset()
	assert.True(t, ip.Bounds().Empty())
}

func TestInterpreter_Modal(t *testing.T) {
	ip := NewInterpreter()
	parseAll(t, ip, "G20 G91 G18 G99 G55 G93 G90.1 G2")

	assert.Equal(t, map[string]string{
		"motion":   "G2",
		"plane":    "G18",
		"units":    "G20",
		"distance": "G91",
		"arc":      "G90.1",
		"feedmode": "G93",
		"WCS":      "G55",
		"retract":  "G99",
	}, ip.Modal().Words())
}

func TestInterpreter_BadLine(t *testing.T) {
	ip := NewInterpreter()
	pts, err := ip.ParseLine("G1 Xnan", 7)
	assert.Nil(t, pts)
	var issue *ParseIssue
	require.ErrorAs(t, err, &issue)
	assert.Equal(t, 7, issue.Line)
	assert.ErrorIs(t, err, ErrNonFinite)

	// the next good line still parses
	pts, err = ip.ParseLine("G1 X1", 8)
	assert.NoError(t, err)
	assert.Equal(t, coord.Point{X: 1}, pts[len(pts)-1])
}

func TestInterpreter_BadLineKeepsCursor(t *testing.T) {
	ip := NewInterpreter()
	parseAll(t, ip, "G1 X1")

	_, err := ip.ParseLine("G1 Xnan", 2)
	require.ErrorIs(t, err, ErrNonFinite)

	// later lines that leave X alone are unaffected
	res := parseAll(t, ip, "G1 Y5", "G1 Y6")
	assert.Equal(t, coord.Point{X: 1, Y: 5}, res[0][len(res[0])-1])
	assert.Equal(t, coord.Point{X: 1, Y: 6}, res[1][len(res[1])-1])
	assert.Equal(t, coord.Point{X: 1, Y: 6}, ip.Position())
}

func TestInterpreter_OversizedMoveKeepsCursor(t *testing.T) {
	ip := NewInterpreter()

	_, err := ip.ParseLine("G0 X600000 Y10", 1)
	require.ErrorIs(t, err, ErrTooManySegments)

	res := parseAll(t, ip, "G1 X5")
	assert.Equal(t, coord.Point{X: 5}, res[0][len(res[0])-1])
	assert.Equal(t, coord.Point{X: 5}, ip.Position())
}

func TestInterpreter_Load(t *testing.T) {
	const prog = `%
(square)
G21 G90
G0 Z5
G0 X0 Y0
G1 Z-1 F100 S10000
G1 X10
G1 Y10
G1 Xnan
G1 X0
G1 Y0
G0 Z5
%
`
	ip := NewInterpreter()
	p1, err := ip.Load(strings.NewReader(prog))
	require.NoError(t, err)
	assert.Equal(t, 13, p1.Lines)
	require.Len(t, p1.Issues, 1)
	assert.Equal(t, 9, p1.Issues[0].Line)
	assert.Equal(t, coord.Point{Z: -1}, p1.Bounds.Min)
	assert.Equal(t, coord.Point{X: 10, Y: 10, Z: 5}, p1.Bounds.Max)

	// a fresh parse yields the same path
	p2, err := ip.Load(strings.NewReader(prog))
	require.NoError(t, err)
	assert.Equal(t, p1.Path, p2.Path)
	assert.Equal(t, p1.Bounds, p2.Bounds)
}

func TestInterpreter_Load_LongLine(t *testing.T) {
	src := "G0 X1\n(" + strings.Repeat("x", maxLineLength) + ")\n"
	_, err := NewInterpreter().Load(strings.NewReader(src))
	assert.Error(t, err)
}
