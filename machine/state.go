package machine

import (
	"math"

	"github.com/mastercactapus/cnclink/coord"
	"github.com/puzpuzpuz/xsync/v3"
)

// State is the machine variable table. Every key is written with a
// single store, so readers never see a torn value.
type State struct {
	m *xsync.MapOf[string, any]
}

var stateDefaults = map[string]any{
	"prbx": 0.0, "prby": 0.0, "prbz": 0.0,
	"prbcmd":  "G38.2",
	"prbfeed": 10.0,
	"prbok":   false,
	"errline": "",

	"state": "N/A",

	"wx": 0.0, "wy": 0.0, "wz": 0.0, "wa": 0.0,
	"mx": 0.0, "my": 0.0, "mz": 0.0, "ma": 0.0,
	"wcox": 0.0, "wcoy": 0.0, "wcoz": 0.0,

	"curfeed":     0.0,
	"curspindle":  0.0,
	"spindletemp": 0.0,
	"tarfeed":     0.0,
	"tarspindle":  0.0,

	"lasermode":             0,
	"laserstate":            0,
	"lasertesting":          0,
	"laserpower":            0.0,
	"laserscale":            0.0,
	"laser_module_offset_x": -37.3,
	"laser_module_offset_y": 4.8,

	"motion":      "G0",
	"WCS":         "G54",
	"plane":       "G17",
	"feedmode":    "G94",
	"distance":    "G90",
	"arc":         "G91.1",
	"units":       "G20",
	"retract":     "G98",
	"cutter":      "",
	"tlo":         0.0,
	"target_tool": -1,
	"program":     "M0",
	"spindle":     "M5",
	"coolant":     "M9",

	"playedlines":   0,
	"playedpercent": 0,
	"playedseconds": 0,

	"atc_state":   0,
	"tool":        0,
	"feed":        0.0,
	"rpm":         0.0,
	"wpvoltage":   0.0,
	"halt_reason": 1,
	"version":     "",
	"running":     false,

	"worksize_x":  340.0,
	"worksize_y":  240.0,
	"clearance_x": -75.0,
	"clearance_y": -3.0,
	"clearance_z": -3.0,

	"sw_spindle": 0, "sw_spindlefan": 0, "sw_vacuum": 0, "sw_light": 0,
	"sw_tool_sensor_pwr": 0, "sw_air": 0, "sw_wp_charge_pwr": 0,
	"sl_spindle": 0, "sl_spindlefan": 0, "sl_vacuum": 0, "sl_laser": 0,
	"st_x_min": 0, "st_x_max": 0, "st_y_min": 0, "st_y_max": 0, "st_z_max": 0,
	"st_atc_home": 0, "st_probe": 0, "st_calibrate": 0, "st_cover": 0,
	"st_tool_sensor": 0, "st_e_stop": 0,
}

func NewState() *State {
	s := &State{m: xsync.NewMapOf[string, any]()}
	s.Reset()
	return s
}

// Reset restores every default and clears the path margins.
func (s *State) Reset() {
	for k, v := range stateDefaults {
		s.m.Store(k, v)
	}
	s.ResetMargins()
}

func (s *State) Get(key string) (any, bool) { return s.m.Load(key) }
func (s *State) Set(key string, v any)      { s.m.Store(key, v) }

func (s *State) Float(key string) float64 {
	v, _ := s.m.Load(key)
	switch v := v.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case bool:
		if v {
			return 1
		}
	}
	return 0
}

func (s *State) Int(key string) int {
	v, _ := s.m.Load(key)
	switch v := v.(type) {
	case int:
		return v
	case float64:
		return int(v)
	case bool:
		if v {
			return 1
		}
	}
	return 0
}

func (s *State) String(key string) string {
	v, _ := s.m.Load(key)
	str, _ := v.(string)
	return str
}

func (s *State) Bool(key string) bool {
	v, _ := s.m.Load(key)
	switch v := v.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case float64:
		return v != 0
	}
	return false
}

// Snapshot copies the table. Values are not deep-copied.
func (s *State) Snapshot() map[string]any {
	res := make(map[string]any, s.m.Size())
	s.m.Range(func(k string, v any) bool {
		res[k] = v
		return true
	})
	return res
}

func (s *State) point(prefix string) coord.Point {
	return coord.Point{
		X: s.Float(prefix + "x"),
		Y: s.Float(prefix + "y"),
		Z: s.Float(prefix + "z"),
		A: s.Float(prefix + "a"),
	}
}

func (s *State) setPoint(prefix string, p coord.Point) {
	s.Set(prefix+"x", p.X)
	s.Set(prefix+"y", p.Y)
	s.Set(prefix+"z", p.Z)
	s.Set(prefix+"a", p.A)
}

// MPos is the machine position.
func (s *State) MPos() coord.Point { return s.point("m") }

// WPos is the work position.
func (s *State) WPos() coord.Point { return s.point("w") }

// WCO is the work coordinate offset.
func (s *State) WCO() coord.Point { return s.point("wco") }

func (s *State) SetMPos(p coord.Point) { s.setPoint("m", p) }
func (s *State) SetWPos(p coord.Point) { s.setPoint("w", p) }

func (s *State) SetWCO(p coord.Point) {
	s.Set("wcox", p.X)
	s.Set("wcoy", p.Y)
	s.Set("wcoz", p.Z)
}

// Status is the run state from the last status report.
func (s *State) Status() string { return s.String("state") }

// SetMargins publishes the extents of a loaded program.
func (s *State) SetMargins(b coord.Bounds) {
	s.Set("xmin", b.Min.X)
	s.Set("ymin", b.Min.Y)
	s.Set("zmin", b.Min.Z)
	s.Set("xmax", b.Max.X)
	s.Set("ymax", b.Max.Y)
	s.Set("zmax", b.Max.Z)
}

func (s *State) Margins() coord.Bounds {
	return coord.Bounds{
		Min: coord.Point{X: s.Float("xmin"), Y: s.Float("ymin"), Z: s.Float("zmin")},
		Max: coord.Point{X: s.Float("xmax"), Y: s.Float("ymax"), Z: s.Float("zmax")},
	}
}

func (s *State) ResetMargins() { s.SetMargins(coord.NewBounds()) }

// inWorkArea reports whether the path origin can be reached.
func (s *State) inWorkArea() bool {
	xmin, ymin := s.Float("xmin"), s.Float("ymin")
	if math.IsInf(xmin, 0) || math.IsInf(ymin, 0) {
		return false
	}
	return math.Abs(xmin) <= s.Float("worksize_x") && math.Abs(ymin) <= s.Float("worksize_y")
}
