package gcode

import (
	"errors"
	"fmt"
	"io"

	"github.com/mastercactapus/cnclink/coord"
)

const maxLineLength = 1 << 20

// PathPoint is one deduplicated toolpath vertex.
type PathPoint struct {
	coord.Point

	// Cutting is false for rapids and when the spindle or laser is off.
	Cutting bool
	Line    int
	Tool    int
}

// ParseIssue describes a line the interpreter could not turn into motion.
type ParseIssue struct {
	Line int
	Text string
	Err  error
}

func (p *ParseIssue) Error() string {
	return fmt.Sprintf("line %d: %q: %v", p.Line, p.Text, p.Err)
}

func (p *ParseIssue) Unwrap() error { return p.Err }

// Program is the result of loading a whole file.
type Program struct {
	Path     []PathPoint
	Bounds   coord.Bounds
	Issues   []ParseIssue
	Lines    int
	Has4Axis bool
	Modal    ModalState
}

// Load resets the interpreter and parses every line of r. Lines that
// fail are recorded in Issues and parsing continues; only a read
// error from r fails the load.
func (ip *Interpreter) Load(r io.Reader) (*Program, error) {
	ip.Reset()

	p := NewParser(r)
	prog := &Program{}
	for {
		words, err := p.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read program: %w", err)
		}

		_, err = ip.parseBlock(words, p.Text(), p.Line())
		var issue *ParseIssue
		if errors.As(err, &issue) {
			ip.log.Warn("skipped line", "line", issue.Line, "err", issue.Err)
			prog.Issues = append(prog.Issues, *issue)
		}
	}
	prog.Lines = p.Line()

	prog.Path = ip.Path()
	prog.Bounds = ip.Bounds()
	prog.Has4Axis = ip.Has4Axis()
	prog.Modal = ip.Modal()
	return prog, nil
}
