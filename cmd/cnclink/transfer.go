package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"

	"github.com/mastercactapus/cnclink/machine"
	"github.com/mastercactapus/cnclink/xmodem"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

func newBar(p *mpb.Progress, name string, total int64) *mpb.Bar {
	return p.New(total,
		mpb.BarStyle().Lbound("╢").Filler("▌").Tip("▌").Padding("░").Rbound("╟"),
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{C: decor.DindentRight | decor.DextraSpace}),
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncWidth),
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done"),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)
}

// barProgress moves bar as packets are acknowledged. The first packet
// carries the digest, not file data.
func barProgress(bar *mpb.Bar, total int64) xmodem.ProgressFunc {
	return func(p xmodem.Progress) {
		n := int64(p.Success-1) * int64(p.PacketSize)
		if n < 0 {
			n = 0
		}
		if total > 0 && n > total {
			n = total
		}
		if total <= 0 {
			bar.SetTotal(n+int64(p.PacketSize), false)
		}
		bar.SetCurrent(n)
	}
}

// cancelOnDone stops the running transfer when ctx ends.
func cancelOnDone(ctx context.Context, c *machine.Controller) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.CancelTransfer()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func runUpload(ctx context.Context, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	lf := addLinkFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("upload: LOCAL and REMOTE required")
	}
	local, remote := fs.Arg(0), fs.Arg(1)

	data, err := os.ReadFile(local)
	if err != nil {
		return err
	}

	c, err := lf.connect(log)
	if err != nil {
		return err
	}
	defer c.Disconnect()

	p := mpb.NewWithContext(ctx)
	bar := newBar(p, "upload", int64(len(data)))
	stop := cancelOnDone(ctx, c)
	err = c.Upload(bytes.NewReader(data), remote, barProgress(bar, int64(len(data))))
	stop()
	if err != nil {
		bar.Abort(false)
	} else {
		bar.SetTotal(-1, true)
	}
	p.Wait()
	if err != nil {
		return err
	}
	log.Info("upload complete", "remote", remote, "bytes", len(data))
	return nil
}

func runDownload(ctx context.Context, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	lf := addLinkFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("download: REMOTE and LOCAL required")
	}
	remote, local := fs.Arg(0), fs.Arg(1)

	c, err := lf.connect(log)
	if err != nil {
		return err
	}
	defer c.Disconnect()

	p := mpb.NewWithContext(ctx)
	bar := newBar(p, "download", 0)
	stop := cancelOnDone(ctx, c)
	var buf bytes.Buffer
	err = c.Download(&buf, remote, barProgress(bar, 0))
	stop()
	if err != nil {
		bar.Abort(false)
	} else {
		bar.SetTotal(int64(buf.Len()), true)
	}
	p.Wait()
	if err != nil {
		return err
	}

	if err := os.WriteFile(local, buf.Bytes(), 0o644); err != nil {
		return err
	}
	log.Info("download complete", "remote", remote, "bytes", buf.Len())
	return nil
}
