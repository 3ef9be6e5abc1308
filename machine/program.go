package machine

import (
	"fmt"
	"io"

	"github.com/mastercactapus/cnclink/coord"
	"github.com/mastercactapus/cnclink/gcode"
	"github.com/mastercactapus/cnclink/meshlevel"
)

// LoadProgram parses r with a fresh interpreter and publishes its margins
// and final modal state.
func (c *Controller) LoadProgram(r io.Reader) (*gcode.Program, error) {
	ip := gcode.NewInterpreter(
		gcode.WithLogger(c.cfg.Logger),
		gcode.WithInchMachine(c.cfg.InchMachine),
	)
	prog, err := ip.Load(r)
	if err != nil {
		return nil, err
	}

	c.state.ResetMargins()
	if !prog.Bounds.Empty() {
		c.state.SetMargins(prog.Bounds)
	}
	for k, v := range prog.Modal.Words() {
		c.state.Set(k, v)
	}
	c.log.Info("program loaded", "lines", prog.Lines, "points", len(prog.Path), "issues", len(prog.Issues))
	return prog, nil
}

// LevelProgram offsets the path of prog by the surface described by
// probes. Probes are machine coordinates and are moved into work
// coordinates with the current offset.
func (c *Controller) LevelProgram(prog *gcode.Program, probes []ProbeResult) ([]gcode.PathPoint, error) {
	wco := c.state.WCO()

	points := make([]coord.Point, 0, len(probes))
	for _, p := range probes {
		if !p.Valid {
			continue
		}
		points = append(points, p.Point.Sub(wco))
	}

	mesh, err := meshlevel.NewMesh(points)
	if err != nil {
		return nil, fmt.Errorf("build mesh: %w", err)
	}
	return meshlevel.Level(prog.Path, mesh), nil
}
