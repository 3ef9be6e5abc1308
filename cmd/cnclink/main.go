package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mastercactapus/cnclink/logger"
	"github.com/mastercactapus/cnclink/machine"
	"github.com/mastercactapus/cnclink/machine/grbl"
	"github.com/mastercactapus/cnclink/transport"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, log *slog.Logger, args []string) error
}

var commands = []command{
	{"ports", "list serial ports", runPorts},
	{"preview", "parse a G-code file and print its extents", runPreview},
	{"console", "interactive machine console", runConsole},
	{"upload", "copy a local file to the machine", runUpload},
	{"download", "copy a file from the machine", runDownload},
	{"serve", "run the HTTP API", runServe},
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] <command> [args]\n\ncommands:\n", os.Args[0])
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", c.name, c.usage)
	}
	fmt.Fprintln(os.Stderr, "\nflags:")
	flag.PrintDefaults()
}

func main() {
	level := flag.String("log-level", "info", "Minimum log level (debug, info, warn, error).")
	dev := flag.Bool("dev", false, "Human readable logs even when not attached to a terminal.")
	flag.Usage = usage
	flag.Parse()

	lvl, err := logger.ParseLevel(*level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logger.New(logger.Options{
		Level:   lvl,
		Console: *dev || logger.IsTerminal(os.Stderr),
	})
	slog.SetDefault(log)

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	name := flag.Arg(0)
	for _, c := range commands {
		if c.name != name {
			continue
		}
		err := c.run(ctx, log, flag.Args()[1:])
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		if err != nil {
			log.Error(name+" failed", "err", err)
			os.Exit(1)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "unknown command %q\n", name)
	usage()
	os.Exit(2)
}

// linkFlags are shared by every command that talks to a machine.
type linkFlags struct {
	addr *string
	kind *string
}

func addLinkFlags(fs *flag.FlagSet) linkFlags {
	return linkFlags{
		addr: fs.String("addr", "", "Machine address: serial port path or host[:port]."),
		kind: fs.String("kind", "wifi", "Link kind: usb or wifi."),
	}
}

func newController(log *slog.Logger) *machine.Controller {
	return machine.New(machine.Config{
		Updater: grbl.NewUpdater(log),
		Logger:  log,
	})
}

// connect returns a Controller connected as lf describes.
func (lf linkFlags) connect(log *slog.Logger) (*machine.Controller, error) {
	if *lf.addr == "" {
		return nil, errors.New("-addr is required")
	}
	kind, err := transport.ParseKind(*lf.kind)
	if err != nil {
		return nil, err
	}
	c := newController(log)
	if err := c.Connect(*lf.addr, kind); err != nil {
		return nil, err
	}
	return c, nil
}
