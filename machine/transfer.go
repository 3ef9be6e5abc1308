package machine

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/mastercactapus/cnclink/transport"
	"github.com/mastercactapus/cnclink/xmodem"
)

// TransferMode is the packet mode used over a link kind.
func TransferMode(kind transport.Kind) xmodem.Mode {
	if kind == transport.TCP {
		return xmodem.Batch
	}
	return xmodem.Classic
}

func digest(p []byte) string {
	sum := md5.Sum(p)
	return hex.EncodeToString(sum[:])
}

// beginTransfer takes the link away from the keep-alive loop and sends
// the command that starts the transfer.
func (c *Controller) beginTransfer(cmd string) (*session, *xmodem.Modem, func(), error) {
	s, err := c.session()
	if err != nil {
		return nil, nil, nil, &CommandError{Command: cmd, Err: err}
	}
	if !c.xferSem.TryAcquire(1) {
		return nil, nil, nil, &CommandError{Command: cmd, Err: ErrTransferActive}
	}

	c.transferring.Store(true)
	c.ioMx.Lock()
	m := xmodem.New(s.tr, TransferMode(s.tr.Kind()), xmodem.Options{
		Retry:   c.cfg.TransferRetry,
		Timeout: c.cfg.TransferTimeout,
		Logger:  c.cfg.Logger,
	})
	c.modem.Store(m)
	end := func() {
		c.modem.Store(nil)
		c.ioMx.Unlock()
		c.transferring.Store(false)
		c.xferSem.Release(1)
	}

	c.log.Info("executing command", "cmd", cmd)
	if _, err := s.tr.Send([]byte(cmd + "\n")); err != nil {
		end()
		return nil, nil, nil, &CommandError{Command: cmd, Err: err}
	}
	c.history.add(cmd)
	return s, m, end, nil
}

func transferError(res xmodem.Result, err error) error {
	switch {
	case res == xmodem.Canceled:
		return ErrTransferCanceled
	case err != nil:
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	case res != xmodem.Success:
		return ErrTransferFailed
	}
	return nil
}

// Upload stores src on the machine as remote. The MD5 of src travels
// with the file so the machine can verify it.
func (c *Controller) Upload(src io.Reader, remote string, progress xmodem.ProgressFunc) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("read upload source: %w", err)
	}
	sum := digest(data)

	_, m, end, err := c.beginTransfer("upload " + escapePath(remote))
	if err != nil {
		return err
	}
	defer end()

	c.log.Info("upload started", "remote", remote, "bytes", len(data), "md5", sum, "mode", m.Mode().String())
	res, err := m.Send(bytes.NewReader(data), sum, progress)
	if err := transferError(res, err); err != nil {
		c.log.Warn("upload stopped", "remote", remote, "result", res.String(), "err", err)
		c.logs.push(Interior, fmt.Sprintf("upload %s: %v", remote, err))
		return err
	}
	c.logs.push(Interior, fmt.Sprintf("uploaded %s (%d bytes)", remote, len(data)))
	return nil
}

// Download fetches remote from the machine into dst. Nothing is written
// to dst unless the transfer completes and the digest matches.
func (c *Controller) Download(dst io.Writer, remote string, progress xmodem.ProgressFunc) error {
	_, m, end, err := c.beginTransfer("download " + escapePath(remote))
	if err != nil {
		return err
	}
	defer end()

	var buf bytes.Buffer
	res, want, err := m.Receive(&buf, progress)
	if err := transferError(res, err); err != nil {
		c.log.Warn("download stopped", "remote", remote, "result", res.String(), "err", err)
		c.logs.push(Interior, fmt.Sprintf("download %s: %v", remote, err))
		return err
	}

	if want != "" {
		if got := digest(buf.Bytes()); got != want {
			c.logs.push(Error, fmt.Sprintf("download %s: digest mismatch", remote))
			return fmt.Errorf("%w: got %s, want %s", ErrDigestMismatch, got, want)
		}
	}
	if _, err := dst.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write download: %w", err)
	}
	c.logs.push(Interior, fmt.Sprintf("downloaded %s (%d bytes)", remote, buf.Len()))
	return nil
}

// CancelTransfer stops a running Upload or Download.
func (c *Controller) CancelTransfer() {
	if m := c.modem.Load(); m != nil {
		m.Cancel()
	}
}
