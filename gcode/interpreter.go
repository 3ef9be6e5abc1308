package gcode

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/mastercactapus/cnclink/coord"
)

// Plane is the active arc plane.
type Plane int

const (
	PlaneXY Plane = iota
	PlaneXZ
	PlaneYZ
)

func (p Plane) String() string {
	switch p {
	case PlaneXZ:
		return "G18"
	case PlaneYZ:
		return "G19"
	}
	return "G17"
}

// project maps p onto the plane as (u, v) with w the remaining axis.
func (p Plane) project(pt coord.Point) (u, v, w float64) {
	switch p {
	case PlaneXZ:
		return pt.X, pt.Z, pt.Y
	case PlaneYZ:
		return pt.Y, pt.Z, pt.X
	}
	return pt.X, pt.Y, pt.Z
}

func (p Plane) unproject(u, v, w, a float64) coord.Point {
	switch p {
	case PlaneXZ:
		return coord.Point{X: u, Y: w, Z: v, A: a}
	case PlaneYZ:
		return coord.Point{X: w, Y: u, Z: v, A: a}
	}
	return coord.Point{X: u, Y: v, Z: w, A: a}
}

// MotionNone is the motion mode after G80 or before any motion word.
const MotionNone = -1

// ModalState is a snapshot of the interpreter's modal settings.
type ModalState struct {
	Motion      int
	Plane       Plane
	Inches      bool
	Absolute    bool
	ArcAbsolute bool
	RetractToZ  bool
	FeedMode    int
	WCS         int
	Tool        int
	Feed        float64
	Speed       float64
}

// Words renders the modal groups in the form the machine reports them.
func (m ModalState) Words() map[string]string {
	res := map[string]string{
		"plane":    m.Plane.String(),
		"units":    "G21",
		"distance": "G90",
		"arc":      "G91.1",
		"feedmode": fmt.Sprintf("G%d", m.FeedMode),
		"WCS":      fmt.Sprintf("G%d", m.WCS),
		"retract":  "G98",
		"motion":   "",
	}
	if m.Motion != MotionNone {
		res["motion"] = fmt.Sprintf("G%d", m.Motion)
	}
	if m.Inches {
		res["units"] = "G20"
	}
	if !m.Absolute {
		res["distance"] = "G91"
	}
	if m.ArcAbsolute {
		res["arc"] = "G90.1"
	}
	if !m.RetractToZ {
		res["retract"] = "G99"
	}
	return res
}

// Interpreter turns G-code lines into path points. It is not safe
// for concurrent use; each parse stream owns its own Interpreter.
type Interpreter struct {
	log         *slog.Logger
	accuracy    float64
	inchMachine bool

	pos    coord.Point
	target coord.Point
	delta  coord.Point
	ijk    coord.Point
	uvw    coord.Point
	r      float64
	p      float64
	q      float64
	m      int
	repeat int
	unit   float64

	modal ModalState

	last     coord.Point
	hasLast  bool
	path     []PathPoint
	bounds   coord.Bounds
	has4Axis bool
}

type Option func(*Interpreter)

func WithLogger(l *slog.Logger) Option {
	return func(ip *Interpreter) {
		if l != nil {
			ip.log = l
		}
	}
}

// WithAccuracy sets the maximum sagitta error for arc segments, in mm.
func WithAccuracy(mm float64) Option {
	return func(ip *Interpreter) {
		if mm > 0 {
			ip.accuracy = mm
		}
	}
}

// WithInchMachine marks the machine's native unit as inches, which
// changes the scale G20 and G21 apply.
func WithInchMachine(inch bool) Option {
	return func(ip *Interpreter) { ip.inchMachine = inch }
}

const DefaultAccuracy = 0.01

func NewInterpreter(opts ...Option) *Interpreter {
	ip := &Interpreter{
		log:      slog.Default(),
		accuracy: DefaultAccuracy,
	}
	for _, o := range opts {
		o(ip)
	}
	ip.log = ip.log.With("component", "gcode")
	ip.Reset()
	return ip
}

// Reset prepares the interpreter for a new program: the cursor returns
// to the origin, modal state takes its defaults and the path and
// bounds are cleared.
func (ip *Interpreter) Reset() {
	ip.has4Axis = false
	ip.ResetPath(coord.Point{})
	ip.bounds = coord.NewBounds()
}

// ResetPath moves the cursor to start and restores modal defaults
// without touching the bounds.
func (ip *Interpreter) ResetPath(start coord.Point) {
	ip.pos = start
	ip.target = start
	ip.delta = coord.Point{}
	ip.ijk = coord.Point{}
	ip.uvw = coord.Point{}
	ip.r, ip.p, ip.q = 0, 0, 0
	ip.m = 0
	ip.repeat = 1
	ip.unit = 1

	ip.modal = ModalState{
		Motion:     MotionNone,
		Plane:      PlaneXY,
		Absolute:   true,
		RetractToZ: true,
		FeedMode:   94,
		WCS:        54,
	}

	ip.path = nil
	ip.hasLast = false
}

func (ip *Interpreter) Position() coord.Point { return ip.pos }
func (ip *Interpreter) Modal() ModalState     { return ip.modal }
func (ip *Interpreter) Bounds() coord.Bounds  { return ip.bounds }
func (ip *Interpreter) Has4Axis() bool        { return ip.has4Axis }

// Path returns the deduplicated points collected since the last reset.
func (ip *Interpreter) Path() []PathPoint {
	res := make([]PathPoint, len(ip.path))
	copy(res, ip.path)
	return res
}

// ParseLine interprets one line and returns the points its motion
// produced, before deduplication. Blank and comment lines return
// nil without error. A line that cannot be interpreted returns a
// *ParseIssue and no points; the interpreter stays usable.
func (ip *Interpreter) ParseLine(line string, lineNo int) ([]coord.Point, error) {
	if skipLine(line) {
		return nil, nil
	}
	words := Tokenize(line)
	if len(words) == 0 {
		return nil, nil
	}
	return ip.parseBlock(words, line, lineNo)
}

func (ip *Interpreter) parseBlock(words Block, line string, lineNo int) (pts []coord.Point, err error) {
	saved := ip.saveCursor()
	defer func() {
		if r := recover(); r != nil {
			ip.restoreCursor(saved)
			pts = nil
			err = &ParseIssue{Line: lineNo, Text: line, Err: fmt.Errorf("%v", r)}
		}
	}()

	ip.motionStart(words)

	pts, err = ip.motionPath()
	if err != nil {
		ip.restoreCursor(saved)
		return nil, &ParseIssue{Line: lineNo, Text: line, Err: err}
	}

	if len(pts) > 0 {
		cutting := ip.modal.Motion != 0 && ip.modal.Speed >= 0.001
		for _, p := range pts {
			if ip.hasLast && p.Equal(ip.last) {
				continue
			}
			ip.last, ip.hasLast = p, true
			ip.path = append(ip.path, PathPoint{
				Point:   p,
				Cutting: cutting,
				Line:    lineNo,
				Tool:    ip.modal.Tool,
			})
		}
		for _, p := range pts {
			ip.bounds.Add(p)
		}
	}

	ip.motionEnd()

	ip.log.Debug("parsed line", "line", lineNo, "points", len(pts))
	return pts, nil
}

// cursor is the per-move state a rejected line must not leave behind.
type cursor struct {
	target, delta, ijk coord.Point
	r                  float64
	repeat             int
}

func (ip *Interpreter) saveCursor() cursor {
	return cursor{target: ip.target, delta: ip.delta, ijk: ip.ijk, r: ip.r, repeat: ip.repeat}
}

func (ip *Interpreter) restoreCursor(c cursor) {
	ip.target, ip.delta, ip.ijk = c.target, c.delta, c.ijk
	ip.r, ip.repeat = c.r, c.repeat
}

func (ip *Interpreter) motionStart(words Block) {
	ip.m = 0
	for _, w := range words {
		v := w.Arg
		switch w.W {
		case 'X':
			ip.target.X = v * ip.unit
			if !ip.modal.Absolute {
				ip.target.X += ip.pos.X
			}
			ip.delta.X = ip.target.X - ip.pos.X
		case 'Y':
			ip.target.Y = v * ip.unit
			if !ip.modal.Absolute {
				ip.target.Y += ip.pos.Y
			}
			ip.delta.Y = ip.target.Y - ip.pos.Y
		case 'Z':
			ip.target.Z = v * ip.unit
			if !ip.modal.Absolute {
				ip.target.Z += ip.pos.Z
			}
			ip.delta.Z = ip.target.Z - ip.pos.Z
		case 'A':
			ip.has4Axis = true
			// right hand rule: A+ is counter-clockwise looking at the jaws
			ip.target.A = -v * ip.unit
			if !ip.modal.Absolute {
				ip.target.A += ip.pos.A
			}
			ip.delta.A = ip.target.A - ip.pos.A
		case 'F':
			ip.modal.Feed = v * ip.unit
		case 'S':
			ip.modal.Speed = v
		case 'G':
			ip.applyG(w)
		case 'I':
			ip.ijk.X = v * ip.unit
			if ip.modal.ArcAbsolute {
				ip.ijk.X -= ip.pos.X
			}
		case 'J':
			ip.ijk.Y = v * ip.unit
			if ip.modal.ArcAbsolute {
				ip.ijk.Y -= ip.pos.Y
			}
		case 'K':
			ip.ijk.Z = v * ip.unit
			if ip.modal.ArcAbsolute {
				ip.ijk.Z -= ip.pos.Z
			}
		case 'L':
			ip.repeat = int(v)
		case 'M':
			ip.m = int(v)
			if ip.m == 321 {
				// laser module
				ip.modal.Tool = 7
			}
		case 'P':
			ip.p = v
		case 'Q':
			ip.q = v * ip.unit
		case 'R':
			ip.r = v * ip.unit
		case 'T':
			ip.modal.Tool = int(v)
		case 'U':
			ip.uvw.X = v * ip.unit
		case 'V':
			ip.uvw.Y = v * ip.unit
		case 'W':
			ip.uvw.Z = v * ip.unit
		}
	}
}

func (ip *Interpreter) applyG(w Word) {
	code, dec := w.Code()
	switch code {
	case 4, 10, 53:
	case 54, 55, 56, 57, 58, 59:
		ip.modal.WCS = code
	case 17:
		ip.modal.Plane = PlaneXY
	case 18:
		ip.modal.Plane = PlaneXZ
	case 19:
		ip.modal.Plane = PlaneYZ
	case 20:
		ip.modal.Inches = true
		ip.unit = 25.4
		if ip.inchMachine {
			ip.unit = 1
		}
	case 21:
		ip.modal.Inches = false
		ip.unit = 1
		if ip.inchMachine {
			ip.unit = 1 / 25.4
		}
	case 80:
		ip.modal.Motion = MotionNone
		ip.delta.Z = 0
		ip.target.Z = ip.pos.Z
	case 90:
		switch dec {
		case 0:
			ip.modal.Absolute = true
		case 1:
			ip.modal.ArcAbsolute = true
		}
	case 91:
		switch dec {
		case 0:
			ip.modal.Absolute = false
		case 1:
			ip.modal.ArcAbsolute = false
		}
	case 93, 94, 95:
		ip.modal.FeedMode = code
	case 98:
		ip.modal.RetractToZ = true
	case 99:
		ip.modal.RetractToZ = false
	case 28, 30, 92:
		ip.modal.Motion = code
	default:
		if w.IsMotion() {
			ip.modal.Motion = code
		}
	}
}

func (ip *Interpreter) motionEnd() {
	switch m := ip.modal.Motion; m {
	case 0, 1, 2, 3:
		ip.pos = ip.target
		ip.delta = coord.Point{}
		if m >= 2 {
			ip.r = 0
			ip.ijk = coord.Point{}
		}
	case 28, 30, 92:
		ip.pos = coord.Point{}
		ip.target = ip.pos
		ip.delta = coord.Point{}
	case 81, 82, 83:
		retract, drill := ip.cannedHeights()

		ip.pos.X += ip.delta.X * float64(ip.repeat)
		ip.pos.Y += ip.delta.Y * float64(ip.repeat)
		ip.pos.Z = retract

		ip.target.X = ip.pos.X
		ip.target.Y = ip.pos.Y
		ip.delta.X = 0
		ip.delta.Y = 0
		ip.delta.Z = drill - retract
	}
}

// cannedHeights returns the clearance and drill heights of the active
// canned cycle. Absolute cycles never repeat.
func (ip *Interpreter) cannedHeights() (clearZ, drill float64) {
	if ip.modal.Absolute {
		ip.repeat = 1
		clearZ = ip.r
		if ip.modal.RetractToZ {
			clearZ = math.Max(ip.r, ip.pos.Z)
		}
		return clearZ, ip.target.Z
	}

	clearZ = ip.pos.Z + ip.r
	return clearZ, clearZ + ip.delta.Z
}
