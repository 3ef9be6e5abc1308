package machine

import (
	"errors"
	"math"

	"github.com/mastercactapus/cnclink/coord"
	"github.com/mastercactapus/cnclink/gcode"
)

// ProbeGridOptions configure a grid-pattern z-probe operation.
type ProbeGridOptions struct {
	ProbeOptions

	DistanceX, DistanceY float64
	Granularity          float64
}

// ZProbeGrid probes a grid starting at the current position. A quick
// pass over the corners and center finds the highest point so the full
// pass can travel just above it.
func (c *Controller) ZProbeGrid(opt ProbeGridOptions) ([]ProbeResult, error) {
	if opt.Granularity <= 0 {
		return nil, errors.New("granularity must be positive")
	}
	if err := c.checkIdle(); err != nil {
		return nil, err
	}
	mPos := c.state.MPos()

	c.ResetProbes()
	if err := c.runBlocks(opt.generateGridQuick(mPos), opt.timeout()); err != nil {
		return nil, err
	}

	startProbes := c.Probes()
	if len(startProbes) == 0 {
		return nil, ErrNoProbeData
	}

	maxZ := startProbes[0].Z
	for _, p := range startProbes[1:] {
		maxZ = math.Max(maxZ, p.Z)
	}
	maxZ += 0.2

	c.ResetProbes()
	if err := c.runBlocks(opt.generateGridSequence(mPos, maxZ), opt.timeout()); err != nil {
		return nil, err
	}

	return c.Probes(), nil
}

// generateGridQuick creates blocks for a preliminary scan of the
// corners and center from the current height.
func (opt ProbeGridOptions) generateGridQuick(mPos coord.Point) []gcode.Block {
	b := opt.probeCommand(opt.ZeroZAxis, mPos.Z)

	probe := func(x, y float64) {
		b = append(b, machineXY(mPos.X+x, mPos.Y+y))
		b = append(b, opt.probeCommand(false, mPos.Z)...)
	}
	probe(0, opt.DistanceY)
	probe(opt.DistanceX/2, opt.DistanceY/2)
	probe(opt.DistanceX, 0)
	probe(opt.DistanceX, opt.DistanceY)
	b = append(b, machineXY(mPos.X, mPos.Y))

	return b
}

// generateGridSequence creates a serpentine scan where no two points are
// farther than Granularity apart, travelling at zHeight and returning
// to mPos after.
func (opt ProbeGridOptions) generateGridSequence(mPos coord.Point, zHeight float64) []gcode.Block {
	// travel starts lower, so the probe needs less of it
	opt.MaxTravel += mPos.Z - zHeight

	xyDist := math.Sqrt(opt.Granularity * opt.Granularity / 2)

	xCount := max(int(math.Ceil(opt.DistanceX/xyDist)), 1)
	yCount := max(int(math.Ceil(opt.DistanceY/xyDist)), 1)

	b := []gcode.Block{machineZ(zHeight)}
	probe := func(x, y float64) {
		b = append(b, machineXY(mPos.X+x, mPos.Y+y))
		b = append(b, opt.probeCommand(false, zHeight)...)
	}

	for y := 0; y <= yCount; y++ {
		for x := 0; x <= xCount; x++ {
			xVal := opt.DistanceX / float64(xCount) * float64(x)
			if y%2 != 0 {
				xVal = opt.DistanceX - xVal
			}
			probe(
				xVal,
				opt.DistanceY/float64(yCount)*float64(y),
			)
		}
	}

	b = append(b, machineZ(mPos.Z), machineXY(mPos.X, mPos.Y))

	return b
}
