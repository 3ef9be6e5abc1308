// Package grbl parses Grbl-style status and push messages into the
// machine variable table.
package grbl

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/mastercactapus/cnclink/coord"
	"github.com/mastercactapus/cnclink/gcode"
	"github.com/mastercactapus/cnclink/machine"
)

var errCoordCount = errors.New("invalid number of elements")

// rxLegacyStatus matches the comma separated 0.9 status report.
var rxLegacyStatus = regexp.MustCompile(`^<(\w*?),MPos:([+\-]?\d*\.\d*),([+\-]?\d*\.\d*),([+\-]?\d*\.\d*),WPos:([+\-]?\d*\.\d*),([+\-]?\d*\.\d*),([+\-]?\d*\.\d*),?(.*)>$`)

// Updater implements machine.Updater.
type Updater struct {
	log *slog.Logger
}

var _ machine.Updater = &Updater{}

func NewUpdater(log *slog.Logger) *Updater {
	if log == nil {
		log = slog.Default()
	}
	return &Updater{log: log.With("component", "grbl")}
}

func (u *Updater) Update(line string, st *machine.State) machine.Update {
	var (
		res machine.Update
		err error
	)
	switch {
	case strings.HasPrefix(line, "<") && strings.HasSuffix(line, ">"):
		res, err = parseStatus(line, st)
	case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"):
		res, err = parsePush(line, st)
	case strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}"):
		res, err = parseDiagnose(line, st)
	case strings.HasPrefix(line, "ALARM"), strings.HasPrefix(line, "error"):
		st.Set("errline", line)
	}
	if err != nil {
		u.log.Debug("unparsed report", "line", line, "err", err)
	}
	return res
}

// parseCoords reads "x,y,z" with an optional fourth (A) value.
func parseCoords(data string) (p coord.Point, err error) {
	parts := strings.Split(data, ",")
	if len(parts) != 3 && len(parts) != 4 {
		return p, errCoordCount
	}
	vals := make([]float64, 4)
	for i, s := range parts {
		vals[i], err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return p, err
		}
	}
	return coord.Point{X: vals[0], Y: vals[1], Z: vals[2], A: vals[3]}, nil
}

func parseFloats(data string) ([]float64, error) {
	parts := strings.Split(data, ",")
	res := make([]float64, len(parts))
	for i, s := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, err
		}
		res[i] = v
	}
	return res, nil
}

func parseStatus(data string, st *machine.State) (machine.Update, error) {
	if m := rxLegacyStatus.FindStringSubmatch(data); m != nil {
		st.Set("state", m[1])
		mpos, err := parseCoords(strings.Join(m[2:5], ","))
		if err != nil {
			return 0, err
		}
		wpos, err := parseCoords(strings.Join(m[5:8], ","))
		if err != nil {
			return 0, err
		}
		st.SetMPos(mpos)
		st.SetWPos(wpos)
		return machine.UpdatePos, nil
	}

	data = strings.TrimPrefix(data, "<")
	data = strings.TrimSuffix(data, ">")
	parts := strings.Split(data, "|")
	st.Set("state", parts[0])

	var (
		mpos, wpos       coord.Point
		hasMPos, hasWPos bool
	)
	for _, s := range parts[1:] {
		key, val, _ := strings.Cut(s, ":")
		var err error
		switch key {
		case "MPos":
			mpos, err = parseCoords(val)
			hasMPos = err == nil
		case "WPos":
			wpos, err = parseCoords(val)
			hasWPos = err == nil
		case "WCO":
			var wco coord.Point
			wco, err = parseCoords(val)
			if err == nil {
				st.SetWCO(wco)
			}
		case "F", "FS":
			var v []float64
			v, err = parseFloats(val)
			if err == nil {
				st.Set("curfeed", v[0])
				if key == "FS" && len(v) > 1 {
					st.Set("curspindle", v[1])
				}
			}
		case "S":
			var v []float64
			v, err = parseFloats(val)
			if err == nil {
				st.Set("curspindle", v[0])
			}
		case "T":
			var v []float64
			v, err = parseFloats(val)
			if err == nil {
				st.Set("tool", int(v[0]))
			}
		}
		if err != nil {
			return machine.UpdatePos, fmt.Errorf("%s: %w", key, err)
		}
	}

	wco := st.WCO()
	switch {
	case hasMPos && hasWPos:
		st.SetMPos(mpos)
		st.SetWPos(wpos)
	case hasMPos:
		st.SetMPos(mpos)
		st.SetWPos(mpos.Sub(coord.Point{X: wco.X, Y: wco.Y, Z: wco.Z}))
	case hasWPos:
		st.SetWPos(wpos)
		st.SetMPos(wpos.Add(coord.Point{X: wco.X, Y: wco.Y, Z: wco.Z}))
	}
	return machine.UpdatePos, nil
}

func parsePush(data string, st *machine.State) (machine.Update, error) {
	data = strings.TrimSpace(data)
	data = strings.TrimPrefix(data, "[")
	data = strings.TrimSuffix(data, "]")
	key, val, _ := strings.Cut(data, ":")

	switch key {
	case "PRB":
		pos, ok, _ := strings.Cut(val, ":")
		p, err := parseCoords(pos)
		if err != nil {
			return 0, err
		}
		st.Set("prbx", p.X)
		st.Set("prby", p.Y)
		st.Set("prbz", p.Z)
		st.Set("prbok", ok == "1")
		return machine.UpdateProbe | machine.UpdateG, nil
	case "TLO":
		v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, err
		}
		st.Set("tlo", v)
		return machine.UpdateG, nil
	case "GC":
		parseModal(val, st)
		return machine.UpdateG, nil
	case "G54", "G55", "G56", "G57", "G58", "G59":
		if key != st.String("WCS") {
			return machine.UpdateG, nil
		}
		p, err := parseCoords(val)
		if err != nil {
			return 0, err
		}
		st.SetWCO(p)
		return machine.UpdateG, nil
	}

	// the 0.9 parser state report has no prefix: [G0 G54 G17 ...]
	if strings.HasPrefix(data, "G") && strings.Contains(data, " ") {
		parseModal(data, st)
		return machine.UpdateG, nil
	}
	return 0, fmt.Errorf("unknown push message: %s", data)
}

// parseModal reads a parser state report such as "G0 G54 G17 G21 G90 G94 M5 M9 T0 F0 S0".
func parseModal(data string, st *machine.State) {
	b := gcode.Tokenize(data)
	if ok, rpm := b.Arg('S'); ok {
		st.Set("rpm", rpm)
	}
	for _, w := range b.Modal() {
		switch w.ModalGroup() {
		case gcode.ModalGroupMotion:
			st.Set("motion", w.String())
		case gcode.ModalGroupCoordinateSystem:
			st.Set("WCS", w.String())
		case gcode.ModalGroupPlaneSelection:
			st.Set("plane", w.String())
		case gcode.ModalGroupUnits:
			st.Set("units", w.String())
		case gcode.ModalGroupDistanceMode:
			st.Set("distance", w.String())
		case gcode.ModalGroupArcDistanceMode:
			st.Set("arc", w.String())
		case gcode.ModalGroupFeedRateMode:
			st.Set("feedmode", w.String())
		case gcode.ModalGroupCannedCyclesReturn:
			st.Set("retract", w.String())
		case gcode.ModalGroupStopping:
			st.Set("program", w.String())
		case gcode.ModalGroupSpindle:
			st.Set("spindle", w.String())
		case gcode.ModalGroupCoolant:
			st.Set("coolant", w.String())
		case gcode.ModalGroupToolSelect:
			st.Set("tool", int(w.Arg))
		case gcode.ModalGroupFeedRate:
			st.Set("feed", w.Arg)
		}
	}
}

// parseDiagnose reads a diagnose reply such as "{S:0,5000|V:1,100}". Each
// field is stored under "diag" plus its key; single values as a float,
// lists as a slice.
func parseDiagnose(data string, st *machine.State) (machine.Update, error) {
	data = strings.TrimPrefix(data, "{")
	data = strings.TrimSuffix(data, "}")
	for _, s := range strings.Split(data, "|") {
		key, val, ok := strings.Cut(s, ":")
		if !ok || key == "" {
			continue
		}
		v, err := parseFloats(val)
		if err != nil {
			return machine.UpdateDiagnose, fmt.Errorf("%s: %w", key, err)
		}
		if len(v) == 1 {
			st.Set("diag"+key, v[0])
		} else {
			st.Set("diag"+key, v)
		}
	}
	return machine.UpdateDiagnose, nil
}
