package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mastercactapus/cnclink/machine"
	"github.com/peterh/liner"
)

const historyFile = ".cnclink_history"

var consoleWords = []string{
	"?", "$H", "$X", "$J", "$#", "G0", "G1", "G28", "G53", "G90", "G91",
	"M3", "M5", "M6", "M495", "M496.1", "M496.2",
	"version", "model", "ls -e -s ", "md5sum -e ", "play ", "reset", "quit",
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return historyFile
	}
	return filepath.Join(home, historyFile)
}

func runConsole(ctx context.Context, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("console", flag.ContinueOnError)
	lf := addLinkFlags(fs)
	timeout := fs.Duration("timeout", 5*time.Second, "How long to wait for ok after G/M commands.")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := lf.connect(log)
	if err != nil {
		return err
	}
	defer c.Disconnect()

	shell := liner.NewLiner()
	defer shell.Close()
	shell.SetCtrlCAborts(true)
	shell.SetCompleter(func(line string) (res []string) {
		for _, w := range consoleWords {
			if strings.HasPrefix(strings.ToLower(w), strings.ToLower(line)) {
				res = append(res, w)
			}
		}
		return res
	})

	hist := historyPath()
	if f, err := os.Open(hist); err == nil {
		shell.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(hist); err == nil {
			shell.WriteHistory(f)
			f.Close()
		}
	}()

	// machine output is printed as it arrives
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.LogNotify():
				printLogs(c.Logs())
			}
		}
	}()

	fmt.Println("Connected. Ctrl-D to quit.")
	for {
		line, err := shell.Prompt("> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		shell.AppendHistory(line)
		if line == "quit" || line == "exit" {
			return nil
		}

		if err := consoleExec(c, line, *timeout); err != nil {
			fmt.Println("error:", err)
		}
	}
}

// consoleExec runs G-code through ExecuteGCode and passes anything else
// to the firmware shell unchanged.
func consoleExec(c *machine.Controller, line string, timeout time.Duration) error {
	res, err := c.ExecuteGCode(line, true, timeout)
	if err != nil {
		return err
	}
	switch res.Status {
	case machine.NotExecuted:
		_, err = c.ExecuteRaw(line)
		return err
	case machine.Timeout:
		fmt.Println("no reply")
	case machine.Unexpected:
		fmt.Println("reply:", res.Response)
	}
	return nil
}

func printLogs(entries []machine.LogEntry) {
	for _, e := range entries {
		switch e.Severity {
		case machine.Error:
			fmt.Println("! " + e.Text)
		case machine.Interior:
			fmt.Println("# " + e.Text)
		default:
			fmt.Println(e.Text)
		}
	}
}
