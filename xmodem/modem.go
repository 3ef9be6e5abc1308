package xmodem

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// Port is the timed byte link a transfer runs over. Getc returns nil
// when nothing arrived before the timeout.
type Port interface {
	Getc(size int, timeout time.Duration) ([]byte, error)
	Putc(p []byte, timeout time.Duration) (int, error)
}

// Result is the outcome of a transfer.
type Result int

const (
	Failed Result = iota
	Success
	Canceled
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Failed:
		return "failed"
	case Canceled:
		return "canceled"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Progress is reported after every acknowledged packet.
type Progress struct {
	PacketSize int
	Total      int
	Success    int
	Errors     int
}

type ProgressFunc func(Progress)

const (
	DefaultRetry   = 16
	DefaultTimeout = 5 * time.Second

	// cancelPoll bounds how long a byte wait runs before Cancel is seen.
	cancelPoll = 100 * time.Millisecond
)

// Options tunes a Modem. Zero values take the defaults.
type Options struct {
	Retry   int
	Timeout time.Duration
	Pad     byte
	Logger  *slog.Logger
}

// Modem runs transfers over a Port. A Modem runs one transfer at a time.
type Modem struct {
	port Port
	mode Mode
	opts Options
	log  *slog.Logger

	canceled atomic.Bool
}

func New(port Port, mode Mode, opts Options) *Modem {
	if opts.Retry == 0 {
		opts.Retry = DefaultRetry
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Pad == 0 {
		opts.Pad = DefaultPad
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Modem{
		port: port,
		mode: mode,
		opts: opts,
		log:  opts.Logger.With("component", "xmodem", "mode", mode.String()),
	}
}

func (m *Modem) Mode() Mode { return m.mode }

// Cancel asks the running transfer to stop. It is seen while waiting
// for the handshake, for an acknowledgement, or for the next block; the
// transfer then returns Canceled.
func (m *Modem) Cancel() { m.canceled.Store(true) }

// getc waits up to the configured timeout for one byte, giving up early
// once Cancel was called.
func (m *Modem) getc() (byte, bool, error) {
	deadline := time.Now().Add(m.opts.Timeout)
	for {
		wait := time.Until(deadline)
		if wait <= 0 {
			return 0, false, nil
		}
		if wait > cancelPoll {
			wait = cancelPoll
		}
		p, err := m.port.Getc(1, wait)
		if err != nil {
			return 0, false, err
		}
		if len(p) > 0 {
			return p[0], true, nil
		}
		if m.canceled.Load() {
			return 0, false, nil
		}
	}
}

func (m *Modem) putc(p ...byte) error {
	_, err := m.port.Putc(p, m.opts.Timeout)
	return err
}

func (m *Modem) abort() {
	for i := 0; i < 2; i++ {
		if err := m.putc(CAN); err != nil {
			m.log.Warn("abort", "err", err)
			return
		}
	}
}

// cancelTransfer sends three CANs and drains the peer until it goes quiet.
func (m *Modem) cancelTransfer() (Result, error) {
	for i := 0; i < 3; i++ {
		if err := m.putc(CAN); err != nil {
			m.canceled.Store(false)
			return Canceled, fmt.Errorf("send cancel: %w", err)
		}
	}
	for {
		_, ok, err := m.getc()
		if err != nil || !ok {
			break
		}
	}
	m.canceled.Store(false)
	m.log.Info("transfer canceled by user")
	return Canceled, nil
}

// Send transmits src. The first packet carries digest.
//
// A non-nil error means the port or src failed; the peer refusing or
// aborting the transfer is reported as Failed with a nil error.
func (m *Modem) Send(src io.Reader, digest string, progress ProgressFunc) (Result, error) {
	if !m.mode.valid() {
		return Failed, fmt.Errorf("invalid mode %d", int(m.mode))
	}
	size := m.mode.PacketSize()
	if len(digest) > size {
		return Failed, fmt.Errorf("digest: %w", ErrPayloadTooLarge)
	}

	var (
		errCount   int
		crc        bool
		cancel     bool
		seq        byte
		total      int
		successes  int
		digestSent bool
	)

	// handshake
	for {
		if m.canceled.Load() {
			return m.cancelTransfer()
		}
		c, ok, err := m.getc()
		if err != nil {
			return Failed, err
		}
		if ok {
			switch c {
			case CRC:
				crc = true
			case NAK:
				crc = false
			case CAN:
				if cancel {
					m.log.Info("transfer canceled by peer")
					return Failed, nil
				}
				cancel = true
			default:
				m.log.Debug("expected NAK/CRC", "got", c)
			}
			if c == CRC || c == NAK {
				break
			}
		}

		errCount++
		if errCount > m.opts.Retry {
			m.log.Info("no handshake, aborting", "retry", m.opts.Retry)
			m.abort()
			return Failed, nil
		}
	}

	buf := make([]byte, size)
	for {
		if m.canceled.Load() {
			return m.cancelTransfer()
		}

		var data []byte
		if !digestSent && seq == 0 {
			data = []byte(digest)
			digestSent = true
		} else {
			n, err := io.ReadFull(src, buf)
			if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				m.abort()
				return Failed, fmt.Errorf("read source: %w", err)
			}
			if n == 0 {
				break
			}
			data = buf[:n]
			total++
		}

		pkt, err := EncodePacket(m.mode, crc, seq, data, m.opts.Pad)
		if err != nil {
			return Failed, err
		}

	resend:
		for {
			if m.canceled.Load() {
				return m.cancelTransfer()
			}
			m.log.Debug("send block", "seq", seq)
			if _, err := m.port.Putc(pkt, m.opts.Timeout); err != nil {
				return Failed, fmt.Errorf("send block %d: %w", seq, err)
			}
			c, ok, err := m.getc()
			if err != nil {
				return Failed, err
			}

			switch {
			case ok && c == ACK:
				successes++
				if progress != nil {
					progress(Progress{PacketSize: size, Total: total, Success: successes, Errors: errCount})
				}
				errCount = 0
				break resend
			case ok && c == CAN:
				if cancel {
					m.log.Info("transfer canceled by peer")
					return Failed, nil
				}
				cancel = true
				continue
			case ok && c == NAK:
				m.log.Debug("NAK received", "seq", seq)
			default:
				m.log.Debug("expected ACK/NAK", "got", c, "timeout", !ok)
			}

			errCount++
			if errCount > m.opts.Retry {
				m.log.Info("too many errors, aborting", "retry", m.opts.Retry)
				m.abort()
				return Failed, nil
			}
		}

		seq++
	}

	errCount = 0
	for {
		if m.canceled.Load() {
			return m.cancelTransfer()
		}
		m.log.Debug("sending EOT")
		if err := m.putc(EOT); err != nil {
			return Failed, fmt.Errorf("send EOT: %w", err)
		}
		c, ok, err := m.getc()
		if err != nil {
			return Failed, err
		}
		if ok && c == ACK {
			break
		}
		m.log.Warn("expected ACK after EOT", "got", c)
		errCount++
		if errCount > m.opts.Retry {
			m.log.Warn("EOT was not acknowledged, aborting")
			m.abort()
			return Failed, nil
		}
	}

	m.log.Info("transfer complete", "packets", successes)
	return Success, nil
}

// Receive writes the incoming file to dst and returns the metadata
// string the sender put in the first packet.
//
// The receiver asks for CRC mode for the first half of the retry budget
// and falls back to checksum mode after that.
func (m *Modem) Receive(dst io.Writer, progress ProgressFunc) (Result, string, error) {
	var (
		errCount  int
		crc       = true
		started   bool
		cancel    bool
		expected  byte
		total     int
		successes int
		digest    string
		gotDigest bool
	)

	handshake := func() error {
		if errCount > m.opts.Retry/2 {
			crc = false
			return m.putc(NAK)
		}
		return m.putc(CRC)
	}
	if err := handshake(); err != nil {
		return Failed, "", err
	}

	for {
		if m.canceled.Load() {
			res, err := m.cancelTransfer()
			return res, digest, err
		}

		c, ok, err := m.getc()
		if err != nil {
			return Failed, digest, err
		}

		var nak bool
		switch {
		case ok && (c == SOH || c == STX):
			mode, _ := modeFor(c)
			rest, err := m.port.Getc(PacketLen(mode, crc)-1, m.opts.Timeout)
			if err != nil {
				return Failed, digest, err
			}
			started = true

			seq, payload, derr := DecodePacket(append([]byte{c}, rest...), crc)
			switch {
			case derr != nil:
				m.log.Warn("bad block", "err", derr)
				nak = true
			case gotDigest && seq == expected-1:
				// our ACK was lost
				m.log.Debug("duplicate block", "seq", seq)
				if err := m.putc(ACK); err != nil {
					return Failed, digest, err
				}
				continue
			case seq != expected:
				m.log.Warn("unexpected block", "seq", seq, "expected", expected)
				nak = true
			default:
				if !gotDigest {
					digest = string(payload)
					gotDigest = true
				} else {
					if _, err := dst.Write(payload); err != nil {
						m.abort()
						return Failed, digest, fmt.Errorf("write sink: %w", err)
					}
					total++
				}
				if err := m.putc(ACK); err != nil {
					return Failed, digest, err
				}
				successes++
				if progress != nil {
					progress(Progress{PacketSize: mode.PacketSize(), Total: total, Success: successes, Errors: errCount})
				}
				errCount = 0
				cancel = false
				expected++
				continue
			}

		case ok && c == EOT:
			if err := m.putc(ACK); err != nil {
				return Failed, digest, err
			}
			m.log.Info("transfer complete", "packets", successes)
			return Success, digest, nil

		case ok && c == CAN:
			if cancel {
				m.log.Info("transfer canceled by peer")
				return Failed, digest, nil
			}
			cancel = true
			continue

		case ok:
			m.log.Debug("expected start of block", "got", c)
			nak = started
		default:
			nak = started
		}

		errCount++
		if errCount > m.opts.Retry {
			m.log.Info("too many errors, aborting", "retry", m.opts.Retry)
			m.abort()
			return Failed, digest, nil
		}
		if !started {
			if err := handshake(); err != nil {
				return Failed, digest, err
			}
		} else if nak {
			m.drain()
			if err := m.putc(NAK); err != nil {
				return Failed, digest, err
			}
		}
	}
}

// drain discards line noise left from a damaged block.
func (m *Modem) drain() {
	for {
		p, err := m.port.Getc(1, m.opts.Timeout/10)
		if err != nil || len(p) == 0 {
			return
		}
	}
}
