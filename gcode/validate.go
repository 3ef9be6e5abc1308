package gcode

import (
	"errors"
	"fmt"
	"strings"

	strict "github.com/256dpi/gcode"
)

// Validate checks a line with a strict parser. The interpreter itself
// accepts anything; callers that must reject malformed lines before
// sending them to a machine use this first.
func Validate(line string) error {
	if skipLine(line) {
		return nil
	}
	l, err := strict.ParseLine(line)
	if err != nil {
		return fmt.Errorf("invalid line: %w", err)
	}

	var b Block
	for _, c := range l.Codes {
		if c.Letter == "" {
			continue
		}
		letter := strings.ToUpper(c.Letter)
		if len(letter) != 1 {
			return fmt.Errorf("invalid word %q", c.Letter)
		}
		b = append(b, Word{W: letter[0], Arg: c.Value})
	}
	if len(b) == 0 {
		return errors.New("no words")
	}

	return b.Validate()
}
