package machine

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mastercactapus/cnclink/gcode"
)

// fmtG formats like C's %g.
func fmtG(v float64) string { return strconv.FormatFloat(v, 'g', 6, 64) }

func buffered(cmd string, buffer bool) string {
	if buffer {
		return "buffer " + cmd
	}
	return cmd
}

func (c *Controller) Home() error          { return c.SendCommand("$H") }
func (c *Controller) QueryStatus() error   { return c.SendCommand("?") }
func (c *Controller) QueryPosition() error { return c.SendCommand("$#") }
func (c *Controller) QueryVersion() error  { return c.SendCommand("version") }
func (c *Controller) QueryModel() error    { return c.SendCommand("model") }
func (c *Controller) QueryFtype() error    { return c.SendCommand("ftype") }
func (c *Controller) QueryTime() error     { return c.SendCommand("time") }

// FeedHold pauses motion.
func (c *Controller) FeedHold() error { return c.SendCommand("!") }

// CycleStart resumes after FeedHold.
func (c *Controller) CycleStart() error { return c.SendCommand("~") }

// SoftReset sends Ctrl-X.
func (c *Controller) SoftReset() error { return c.SendCommand("\x18") }

func (c *Controller) UnlockAlarm() error { return c.SendCommand("$X") }

// Reset restarts the machine firmware.
func (c *Controller) Reset() error { return c.SendCommand("reset") }

func (c *Controller) PairWorkpiece() error     { return c.SendCommand("M471") }
func (c *Controller) ChangeTool() error        { return c.SendCommand("M490.2") }
func (c *Controller) ClearAutoLeveling() error { return c.SendCommand("M370") }

func (c *Controller) SelectTool(tool int) error {
	return c.SendCommand(fmt.Sprintf("M6 T%d", tool))
}

// SetFeedScale sets the feed override in percent.
func (c *Controller) SetFeedScale(pct int) error {
	return c.SendCommand(fmt.Sprintf("M220 S%d", pct))
}

// SetLaserScale sets the laser power override in percent.
func (c *Controller) SetLaserScale(pct int) error {
	return c.SendCommand(fmt.Sprintf("M325 S%d", pct))
}

// SetSpindleScale sets the spindle speed override in percent.
func (c *Controller) SetSpindleScale(pct int) error {
	return c.SendCommand(fmt.Sprintf("M223 S%d", pct))
}

func (c *Controller) SetSpindle(on bool, rpm int) error {
	if on {
		return c.SendCommand(fmt.Sprintf("M3 S%d", rpm))
	}
	return c.SendCommand("M5")
}

// SyncTime sets the machine clock to local time.
func (c *Controller) SyncTime() error {
	now := time.Now()
	_, off := now.Zone()
	return c.SendCommand(fmt.Sprintf("time %d", now.Unix()+int64(off)))
}

// Jog moves relative to the current position. Only X, Y, Z, A and the
// speed scale S are used, in the order given.
func (c *Controller) Jog(words gcode.Block) error {
	if !slices.ContainsFunc(words, gcode.Word.IsAxis) {
		return errors.New("jog: no axis given")
	}
	return c.SendCommand(jogCommand(words))
}

// jogCommand keeps the first of each jog word, in axis order.
func jogCommand(words gcode.Block) string {
	var sb strings.Builder
	for _, w := range []byte("XYZAS") {
		if ok, v := words.Arg(w); ok {
			sb.WriteByte(' ')
			sb.WriteByte(w)
			sb.WriteString(fmtG(v))
		}
	}
	if sb.Len() == 0 {
		return ""
	}
	return "$J" + sb.String()
}

// XYZProbe finds the workpiece corner with the touch probe.
func (c *Controller) XYZProbe(height, diameter float64, buffer bool) error {
	return c.SendCommand(buffered(fmt.Sprintf("M495.3 H%s D%s", fmtG(height), fmtG(diameter)), buffer))
}

// Position is a named location GotoPosition can travel to.
type Position int

const (
	Clearance Position = iota
	WorkOrigin
	Anchor1
	Anchor2
	PathOrigin
)

// GotoPosition travels to a named location. PathOrigin needs a loaded
// program inside the work area.
func (c *Controller) GotoPosition(pos Position, buffer bool) error {
	var cmd string
	switch pos {
	case Clearance:
		cmd = "M496.1"
	case WorkOrigin:
		cmd = "M496.2"
	case Anchor1:
		cmd = "M496.3"
	case Anchor2:
		cmd = "M496.4"
	case PathOrigin:
		if !c.state.inWorkArea() {
			return ErrOutsideWorkArea
		}
		cmd = fmt.Sprintf("M496.5 X%sY%s", fmtG(c.state.Float("xmin")), fmtG(c.state.Float("ymin")))
	default:
		return fmt.Errorf("unknown position %d", int(pos))
	}
	return c.SendCommand(buffered(cmd, buffer))
}

// AutoOptions selects the steps of an automatic job preparation run.
type AutoOptions struct {
	Margin     bool
	ZProbe     bool
	ZProbeAbs  bool
	Leveling   bool
	GotoOrigin bool

	ZProbeOffsetX, ZProbeOffsetY float64

	// I and J are the leveling grid size, H the probe height.
	I, J, H int

	Buffer bool

	// LevelOffsets shrink the leveling area: x start, x end, y start, y end.
	LevelOffsets [4]float64
}

func DefaultAutoOptions() AutoOptions {
	return AutoOptions{I: 3, J: 3, H: 5}
}

// autoCommands builds the margin and probe/level commands from the
// loaded program margins.
func autoCommands(st *State, opt AutoOptions) ([]string, error) {
	if !opt.Margin && !opt.ZProbe && !opt.Leveling && !opt.GotoOrigin {
		return nil, ErrNoAutoCommand
	}
	if !st.inWorkArea() {
		return nil, ErrOutsideWorkArea
	}
	xmin, ymin := st.Float("xmin"), st.Float("ymin")
	xmax, ymax := st.Float("xmax"), st.Float("ymax")
	off := opt.LevelOffsets

	var cmds []string
	if opt.Margin {
		cmd := fmt.Sprintf("M495 X%sY%sC%sD%s", fmtG(xmin), fmtG(ymin), fmtG(xmax), fmtG(ymax))
		cmds = append(cmds, buffered(cmd, opt.Buffer))
	}

	cmd := fmt.Sprintf("M495 X%sY%s", fmtG(xmin+off[0]), fmtG(ymin+off[2]))
	if opt.ZProbe {
		if opt.ZProbeAbs {
			cmd = fmt.Sprintf("M495 X%sY%sO0", fmtG(xmin), fmtG(ymin))
		} else {
			cmd += fmt.Sprintf("O%sF%s", fmtG(opt.ZProbeOffsetX), fmtG(opt.ZProbeOffsetY))
		}
	}
	if opt.Leveling {
		width := xmax - (xmin + off[1] + off[0])
		height := ymax - (ymin + off[3] + off[2])
		cmd += fmt.Sprintf("A%sB%sI%dJ%dH%d", fmtG(width), fmtG(height), opt.I, opt.J, opt.H)
	}
	if opt.GotoOrigin {
		cmd += "P1"
	}
	return append(cmds, buffered(cmd, opt.Buffer)), nil
}

// AutoCommand runs margin checking, probing, leveling and returning to
// the origin for the loaded program, as selected.
func (c *Controller) AutoCommand(opt AutoOptions) error {
	cmds, err := autoCommands(c.state, opt)
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		if err := c.SendCommand(cmd); err != nil {
			return err
		}
	}
	return nil
}
