package machine

import (
	"fmt"
	"time"

	"github.com/mastercactapus/cnclink/coord"
	"github.com/mastercactapus/cnclink/gcode"
)

// DefaultProbeTimeout bounds the wait for each probing block.
const DefaultProbeTimeout = 2 * time.Minute

type ProbeResult struct {
	coord.Point
	Valid bool
}

func (c *Controller) addProbe(p ProbeResult) {
	c.probeMx.Lock()
	c.probes = append(c.probes, p)
	c.probeMx.Unlock()
}

// Probes returns the probe reports received since the last ResetProbes.
func (c *Controller) Probes() []ProbeResult {
	c.probeMx.Lock()
	defer c.probeMx.Unlock()
	return append([]ProbeResult(nil), c.probes...)
}

func (c *Controller) ResetProbes() {
	c.probeMx.Lock()
	c.probes = nil
	c.probeMx.Unlock()
}

// ProbeOptions configure a straight z-probe operation.
type ProbeOptions struct {
	ZeroZAxis bool

	// Offset is the offset to use when ZeroZAxis is set.
	Offset float64

	FeedRate  float64
	MaxTravel float64

	// Timeout bounds each block; zero means DefaultProbeTimeout.
	Timeout time.Duration
}

func (opt ProbeOptions) timeout() time.Duration {
	if opt.Timeout == 0 {
		return DefaultProbeTimeout
	}
	return opt.Timeout
}

func (c *Controller) checkIdle() error {
	switch st := c.state.Status(); st {
	case "Idle", "Hold:0", "Wait":
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrNotIdle, st)
	}
}

// runBlocks executes blocks one at a time, each waiting for "ok".
func (c *Controller) runBlocks(blocks []gcode.Block, timeout time.Duration) error {
	for _, b := range blocks {
		line := b.String()
		res, err := c.ExecuteGCode(line, true, timeout)
		if err != nil {
			return err
		}
		switch {
		case res.Status == OK, res.Status == Sent:
		case res.Status == Timeout:
			return &CommandError{Command: line, Err: ErrResponseTimeout}
		default:
			return &CommandError{Command: line, Err: fmt.Errorf("unexpected response %q", res.Response)}
		}
	}
	return nil
}

// ZProbe performs a straight z-probe from the current location.
func (c *Controller) ZProbe(opt ProbeOptions) (*ProbeResult, error) {
	if err := c.checkIdle(); err != nil {
		return nil, err
	}

	c.ResetProbes()
	if err := c.runBlocks(opt.generate(c.state.MPos()), opt.timeout()); err != nil {
		return nil, err
	}
	p := c.Probes()
	if len(p) == 0 {
		return nil, ErrNoProbeData
	}
	return &p[0], nil
}

// probeCommand returns the blocks of a single Z probe that lifts back
// to lift (machine coordinates) afterwards.
func (opt ProbeOptions) probeCommand(zero bool, lift float64) []gcode.Block {
	b := []gcode.Block{
		{
			{W: 'G', Arg: 91},
			{W: 'G', Arg: 38.2},
			{W: 'Z', Arg: opt.MaxTravel},
			{W: 'F', Arg: opt.FeedRate},
		},
		{
			{W: 'G', Arg: 90},
		},
	}
	if zero {
		b = append(b, gcode.Block{
			{W: 'G', Arg: 92},
			{W: 'Z', Arg: opt.Offset},
		})
	}
	return append(b, machineZ(lift))
}

// generate creates the blocks for a probe that returns to the starting height.
func (opt ProbeOptions) generate(mPos coord.Point) []gcode.Block {
	return opt.probeCommand(opt.ZeroZAxis, mPos.Z)
}

// generateGoTo moves to pos (machine coordinates) by way of travelZ.
var (
	rapidZ  = gcode.Block{{W: 'G', Arg: 53}, {W: 'G', Arg: 0}, {W: 'Z'}}
	rapidXY = gcode.Block{{W: 'G', Arg: 53}, {W: 'G', Arg: 0}, {W: 'X'}, {W: 'Y'}}
)

// machineZ is a rapid move to z in machine coordinates.
func machineZ(z float64) gcode.Block {
	b := rapidZ.Clone()
	b.SetArg('Z', z)
	return b
}

// machineXY is a rapid move to x, y in machine coordinates.
func machineXY(x, y float64) gcode.Block {
	b := rapidXY.Clone()
	b.SetArg('X', x)
	b.SetArg('Y', y)
	return b
}

func generateGoTo(travelZ float64, pos coord.Point) []gcode.Block {
	return []gcode.Block{
		machineZ(travelZ),
		machineXY(pos.X, pos.Y),
		machineZ(pos.Z),
	}
}

// MoveTo travels to pos in machine coordinates at travelZ height.
func (c *Controller) MoveTo(travelZ float64, pos coord.Point, timeout time.Duration) error {
	if err := c.checkIdle(); err != nil {
		return err
	}
	return c.runBlocks(generateGoTo(travelZ, pos), timeout)
}
