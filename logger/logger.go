// Package logger builds the process logger: a colored console handler
// for interactive use, JSON otherwise.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/phsym/console-slog"
)

type Options struct {
	// Level is the minimum level written.
	Level slog.Leveler
	// Console selects the human readable handler.
	Console   bool
	AddSource bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}

	var h slog.Handler
	if opts.Console {
		h = console.NewHandler(opts.Output, &console.HandlerOptions{
			AddSource: opts.AddSource,
			Level:     opts.Level,
			NoColor:   !IsTerminal(opts.Output),
		})
	} else {
		h = slog.NewJSONHandler(opts.Output, &slog.HandlerOptions{
			AddSource: opts.AddSource,
			Level:     opts.Level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if len(groups) == 0 && a.Key == slog.TimeKey {
					a.Key = "ts"
				}
				return a
			},
		})
	}
	return slog.New(h)
}

// ParseLevel accepts debug, info, warn and error, with optional offsets
// such as "debug-2".
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return l, nil
}

// IsTerminal reports whether w is a character device.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
