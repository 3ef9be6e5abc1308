package machine

import (
	"math"
	"strings"
	"testing"

	"github.com/mastercactapus/cnclink/coord"
	"github.com/mastercactapus/cnclink/gcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFmtG(t *testing.T) {
	for v, want := range map[float64]string{
		0:         "0",
		1:         "1",
		-2.5:      "-2.5",
		0.1:       "0.1",
		123.456:   "123.456",
		1234567:   "1.23457e+06",
		1.0000001: "1",
	} {
		assert.Equal(t, want, fmtG(v), v)
	}
}

func TestController_Commands(t *testing.T) {
	c, f := connected(t, Config{})

	for _, tc := range []struct {
		name string
		fn   func() error
		want string
	}{
		{"Home", c.Home, "$H"},
		{"QueryStatus", c.QueryStatus, "?"},
		{"QueryPosition", c.QueryPosition, "$#"},
		{"QueryVersion", c.QueryVersion, "version"},
		{"QueryModel", c.QueryModel, "model"},
		{"QueryFtype", c.QueryFtype, "ftype"},
		{"QueryTime", c.QueryTime, "time"},
		{"FeedHold", c.FeedHold, "!"},
		{"CycleStart", c.CycleStart, "~"},
		{"SoftReset", c.SoftReset, "\x18"},
		{"UnlockAlarm", c.UnlockAlarm, "$X"},
		{"Reset", c.Reset, "reset"},
		{"PairWorkpiece", c.PairWorkpiece, "M471"},
		{"ChangeTool", c.ChangeTool, "M490.2"},
		{"ClearAutoLeveling", c.ClearAutoLeveling, "M370"},
		{"SelectTool", func() error { return c.SelectTool(3) }, "M6 T3"},
		{"SetFeedScale", func() error { return c.SetFeedScale(120) }, "M220 S120"},
		{"SetLaserScale", func() error { return c.SetLaserScale(50) }, "M325 S50"},
		{"SetSpindleScale", func() error { return c.SetSpindleScale(80) }, "M223 S80"},
		{"SpindleOn", func() error { return c.SetSpindle(true, 12000) }, "M3 S12000"},
		{"SpindleOff", func() error { return c.SetSpindle(false, 12000) }, "M5"},
		{"XYZProbe", func() error { return c.XYZProbe(9.5, 3.175, false) }, "M495.3 H9.5 D3.175"},
		{"XYZProbeBuffered", func() error { return c.XYZProbe(10, 2, true) }, "buffer M495.3 H10 D2"},
		{"Clearance", func() error { return c.GotoPosition(Clearance, false) }, "M496.1"},
		{"WorkOrigin", func() error { return c.GotoPosition(WorkOrigin, true) }, "buffer M496.2"},
		{"Anchor1", func() error { return c.GotoPosition(Anchor1, false) }, "M496.3"},
		{"Anchor2", func() error { return c.GotoPosition(Anchor2, false) }, "M496.4"},
		{"ListDir", func() error { return c.ListDir("/sd/gcodes") }, "ls -e -s /sd/gcodes"},
		{"Remove", func() error { return c.Remove("/sd/old part.nc") }, "rm -e /sd/old\x01part.nc"},
		{"Rename", func() error { return c.Rename("/sd/a b.nc", "/sd/c.nc") }, "mv -e /sd/a\x01b.nc /sd/c.nc"},
		{"Mkdir", func() error { return c.Mkdir("/sd/new dir") }, "mkdir -e /sd/new\x01dir"},
		{"MD5", func() error { return c.MD5("/sd/a.nc") }, "md5sum -e /sd/a.nc"},
		{"Play", func() error { return c.Play("/sd/gcodes/my part.nc") }, "play /sd/gcodes/my\x01part.nc"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, tc.fn())
			assert.Equal(t, tc.want+"\n", f.lastSent())
		})
	}
}

func TestController_SyncTime(t *testing.T) {
	c, f := connected(t, Config{})
	require.NoError(t, c.SyncTime())
	assert.Regexp(t, `^time \d+\n$`, f.lastSent())
}

func TestJogCommand(t *testing.T) {
	assert.Equal(t, "$J X1 Y-2.5 S0.5", jogCommand(gcode.Block{
		{W: 'X', Arg: 1},
		{W: 'Y', Arg: -2.5},
		{W: 'F', Arg: 100},
		{W: 'S', Arg: 0.5},
	}))
	assert.Equal(t, "$J A90", jogCommand(gcode.Tokenize("A90")))
	assert.Equal(t, "$J X1 Z2", jogCommand(gcode.Tokenize("Z2 X1 X5")))
	assert.Empty(t, jogCommand(nil))

	c, f := connected(t, Config{})
	assert.Error(t, c.Jog(gcode.Block{{W: 'F', Arg: 100}}))
	assert.Error(t, c.Jog(gcode.Block{{W: 'S', Arg: 0.5}}))
	assert.Empty(t, f.sentLines())
	require.NoError(t, c.Jog(gcode.Tokenize("Z-0.1")))
	assert.Equal(t, "$J Z-0.1\n", f.lastSent())
}

func withMargins(st *State, xmin, ymin, xmax, ymax float64) {
	st.SetMargins(coord.Bounds{
		Min: coord.Point{X: xmin, Y: ymin},
		Max: coord.Point{X: xmax, Y: ymax},
	})
}

func TestAutoCommands(t *testing.T) {
	st := NewState()

	_, err := autoCommands(st, AutoOptions{})
	assert.ErrorIs(t, err, ErrNoAutoCommand)

	opt := DefaultAutoOptions()
	opt.Margin = true
	_, err = autoCommands(st, opt)
	assert.ErrorIs(t, err, ErrOutsideWorkArea, "no program loaded")

	withMargins(st, 10, 20, 110, 70)

	cmds, err := autoCommands(st, opt)
	require.NoError(t, err)
	assert.Equal(t, []string{"M495 X10Y20C110D70", "M495 X10Y20"}, cmds)

	opt = DefaultAutoOptions()
	opt.ZProbe = true
	opt.ZProbeOffsetX, opt.ZProbeOffsetY = 5, 6
	opt.Leveling = true
	opt.GotoOrigin = true
	opt.Buffer = true
	opt.LevelOffsets = [4]float64{1, 2, 3, 4}
	cmds, err = autoCommands(st, opt)
	require.NoError(t, err)
	assert.Equal(t, []string{"buffer M495 X11Y23O5F6A97B43I3J3H5P1"}, cmds)

	opt = AutoOptions{ZProbe: true, ZProbeAbs: true}
	cmds, err = autoCommands(st, opt)
	require.NoError(t, err)
	assert.Equal(t, []string{"M495 X10Y20O0"}, cmds)

	withMargins(st, 1000, 20, 1100, 70)
	_, err = autoCommands(st, opt)
	assert.ErrorIs(t, err, ErrOutsideWorkArea)
}

func TestController_AutoCommand(t *testing.T) {
	c, f := connected(t, Config{})
	withMargins(c.State(), 0, 0, 50, 50)

	require.NoError(t, c.AutoCommand(AutoOptions{Margin: true, GotoOrigin: true}))
	assert.Equal(t, []string{"M495 X0Y0C50D50\n", "M495 X0Y0P1\n"}, f.sentLines())
}

func TestController_GotoPathOrigin(t *testing.T) {
	c, f := connected(t, Config{})

	c.State().ResetMargins()
	assert.ErrorIs(t, c.GotoPosition(PathOrigin, false), ErrOutsideWorkArea)
	assert.Empty(t, f.sentLines())

	withMargins(c.State(), 12.5, -3, 40, 40)
	require.NoError(t, c.GotoPosition(PathOrigin, false))
	assert.Equal(t, "M496.5 X12.5Y-3\n", f.lastSent())
}

func TestController_LoadProgram(t *testing.T) {
	c := New(Config{Logger: quietLogger()})

	prog, err := c.LoadProgram(strings.NewReader("G90 G21\nG0 X10 Y5\nG1 Z-1 F100\nG1 X20 Y15\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, prog.Lines)
	assert.Empty(t, prog.Issues)

	m := c.State().Margins()
	assert.Equal(t, 20.0, m.Max.X)
	assert.Equal(t, 15.0, m.Max.Y)
	assert.Equal(t, -1.0, m.Min.Z)
	assert.Equal(t, "G21", c.State().String("units"))
	assert.Equal(t, "G1", c.State().String("motion"))

	// an empty program clears the margins
	_, err = c.LoadProgram(strings.NewReader("(nothing)\n"))
	require.NoError(t, err)
	assert.True(t, math.IsInf(c.State().Float("xmin"), 1))
}

func TestController_LevelProgram(t *testing.T) {
	c := New(Config{Logger: quietLogger()})
	c.State().SetWCO(coord.Point{X: 100, Y: 100, Z: -50})

	prog, err := c.LoadProgram(strings.NewReader("G90\nG1 X5 Y5 F100\n"))
	require.NoError(t, err)

	probes := []ProbeResult{
		{Point: coord.Point{X: 100, Y: 100, Z: -49}, Valid: true},
		{Point: coord.Point{X: 110, Y: 100, Z: -49}, Valid: true},
		{Point: coord.Point{X: 100, Y: 110, Z: -49}, Valid: true},
		{Point: coord.Point{X: 110, Y: 110, Z: -49}, Valid: true},
		{Point: coord.Point{X: 105, Y: 105, Z: -10}, Valid: false},
	}
	path, err := c.LevelProgram(prog, probes)
	require.NoError(t, err)
	require.Len(t, path, len(prog.Path))
	assert.InDelta(t, 1, path[len(path)-1].Z, 1e-9)

	_, err = c.LevelProgram(prog, probes[4:])
	assert.Error(t, err)
}

func TestHistory(t *testing.T) {
	h := history{size: DefaultHistorySize}
	h.add("G0 X1")
	h.add("")
	h.add("G0 X1")
	assert.Equal(t, []string{"G0 X1"}, h.get())

	for i := 0; i < 150; i++ {
		h.add("G0 X" + strings.Repeat("1", i+2))
	}
	got := h.get()
	require.Len(t, got, DefaultHistorySize)
	assert.Equal(t, "G0 X"+strings.Repeat("1", 53), got[0])

	h.clear()
	assert.Empty(t, h.get())
}

func TestLogQueue(t *testing.T) {
	q := newLogQueue(3)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		q.push(Normal, s)
	}
	select {
	case <-q.notify:
	default:
		t.Fatal("no notification")
	}

	entries := q.drain()
	require.Len(t, entries, 3)
	assert.Equal(t, "c", entries[0].Text)
	assert.Equal(t, "e", entries[2].Text)
	assert.Empty(t, q.drain())
}
