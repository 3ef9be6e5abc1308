package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mastercactapus/cnclink/coord"
	"github.com/mastercactapus/cnclink/gcode"
	"github.com/mastercactapus/cnclink/meshlevel"
)

func runPreview(_ context.Context, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("preview", flag.ContinueOnError)
	meshFile := fs.String("mesh", "", "Probe points (JSON) to level the path with.")
	zRef := fs.Float64("zref", 0, "Probe height that counts as zero.")
	granularity := fs.Float64("granularity", 1, "Longest unleveled segment when a mesh is used.")
	accuracy := fs.Float64("accuracy", gcode.DefaultAccuracy, "Arc chord accuracy.")
	inch := fs.Bool("inch", false, "Machine native unit is inches.")
	out := fs.String("o", "", "Write the path points as JSON to this file.")
	strictCheck := fs.Bool("strict", false, "Also report lines a strict parser rejects.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("preview: one G-code file required")
	}

	src, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}

	ip := gcode.NewInterpreter(
		gcode.WithLogger(log),
		gcode.WithAccuracy(*accuracy),
		gcode.WithInchMachine(*inch),
	)
	prog, err := ip.Load(bytes.NewReader(src))
	if err != nil {
		return err
	}
	if *strictCheck {
		if err := printStrict(bytes.NewReader(src)); err != nil {
			return err
		}
	}

	path := prog.Path
	if *meshFile != "" {
		path, err = levelPath(path, *meshFile, *zRef, *granularity)
		if err != nil {
			return err
		}
	}

	printProgram(prog, len(path))

	if *out == "" {
		return nil
	}
	data, err := json.Marshal(path)
	if err != nil {
		return err
	}
	return os.WriteFile(*out, data, 0o644)
}

func levelPath(path []gcode.PathPoint, meshFile string, zRef, granularity float64) ([]gcode.PathPoint, error) {
	mf, err := os.Open(meshFile)
	if err != nil {
		return nil, err
	}
	defer mf.Close()

	points, err := meshlevel.ReadPoints(mf)
	if err != nil {
		return nil, err
	}
	mesh, err := meshlevel.NewMesh(meshlevel.OffsetFrom(zRef, points))
	if err != nil {
		return nil, err
	}
	return meshlevel.Level(meshlevel.Densify(path, granularity), mesh), nil
}

func printProgram(prog *gcode.Program, points int) {
	fmt.Printf("lines:   %d\n", prog.Lines)
	fmt.Printf("points:  %d\n", points)
	if prog.Bounds.Empty() {
		fmt.Println("bounds:  (no motion)")
	} else {
		fmt.Printf("bounds:  %s .. %s\n", fmtPoint(prog.Bounds.Min), fmtPoint(prog.Bounds.Max))
		size := prog.Bounds.Size()
		fmt.Printf("size:    %s\n", fmtPoint(size))
	}
	fmt.Printf("4-axis:  %t\n", prog.Has4Axis)
	fmt.Printf("issues:  %d\n", len(prog.Issues))
	for _, is := range prog.Issues {
		fmt.Printf("  %s\n", is.Error())
	}
}

// printStrict lists the lines the interpreter accepted but a strict
// parser would not.
func printStrict(r io.Reader) error {
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		if err := gcode.Validate(sc.Text()); err != nil {
			fmt.Printf("strict:  line %d: %v\n", n, err)
		}
	}
	return sc.Err()
}

func fmtPoint(p coord.Point) string {
	return fmt.Sprintf("X%.3f Y%.3f Z%.3f", p.X, p.Y, p.Z)
}
