package coord

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoint_Add(t *testing.T) {
	a := Point{X: 1, Y: 2, Z: 3, A: 4}
	b := Point{X: 4, Y: 5, Z: 6, A: 7}

	assert.Equal(t, Point{X: 5, Y: 7, Z: 9, A: 11}, a.Add(b))
	assert.Equal(t, Point{X: -3, Y: -3, Z: -3, A: -3}, a.Sub(b))
}

func TestPoint_DistanceXY(t *testing.T) {
	dist := Point{X: 1, Y: 2, Z: 3}.DistanceXY(4, 5)
	assert.InEpsilon(t, 4.24264, dist, .01)
}

func TestPoint_MaxDelta(t *testing.T) {
	a := Point{X: 1, Y: 1, Z: 1}
	assert.Equal(t, 9.0, a.MaxDelta(Point{X: 2, Y: -8, Z: 1}))
	assert.Equal(t, 45.0, a.MaxDelta(Point{X: 1, Y: 1, Z: 1, A: -45}))
}

func TestPoint_Split(t *testing.T) {
	var a Point //zero
	b := Point{X: 10, Y: 10, Z: 10}

	res := a.Split(b, 2)

	assert.Equal(t, []Point{{X: 5, Y: 5, Z: 5}, {X: 10, Y: 10, Z: 10}}, res)

	a = Point{X: 10, Y: 10, Z: 10}
	b = Point{X: 20, Y: 20, Z: 20, A: 8}
	res = a.Split(b, 4)
	assert.Equal(t,
		[]Point{{X: 12.5, Y: 12.5, Z: 12.5, A: 2}, {X: 15, Y: 15, Z: 15, A: 4}, {X: 17.5, Y: 17.5, Z: 17.5, A: 6}, {X: 20, Y: 20, Z: 20, A: 8}},
		res,
	)

	res = a.Split(b, 0)
	assert.Equal(t, []Point{b}, res)
}

func TestBounds(t *testing.T) {
	b := NewBounds()
	assert.True(t, b.Empty())
	assert.True(t, math.IsInf(b.Min.X, 1))
	assert.True(t, math.IsInf(b.Max.Z, -1))
	assert.Equal(t, Point{}, b.Size())

	b.Add(Point{X: -10, Y: -5})
	b.Add(Point{X: 20, Y: 15, Z: 10})
	b.Add(Point{X: 5, Y: 25, Z: -5})

	assert.False(t, b.Empty())
	assert.Equal(t, Point{X: -10, Y: -5, Z: -5}, b.Min)
	assert.Equal(t, Point{X: 20, Y: 25, Z: 10}, b.Max)
	assert.Equal(t, Point{X: 30, Y: 30, Z: 15}, b.Size())
}
