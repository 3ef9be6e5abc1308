package transport

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tarm/serial"
)

const (
	DefaultBaud        = 115200
	DefaultReadTimeout = 300 * time.Millisecond
	DefaultSettle      = 500 * time.Millisecond
)

// SerialConfig configures a USB serial link. Zero values take the defaults.
type SerialConfig struct {
	Baud        int
	ReadTimeout time.Duration

	// Settle is how long to wait after opening for the controller
	// to finish its reset before the input is flushed.
	Settle time.Duration

	Logger *slog.Logger
}

// SerialTransport talks 8N1 over a serial device.
type SerialTransport struct {
	link
	cfg SerialConfig
}

var _ Transport = &SerialTransport{}

func NewSerial(cfg SerialConfig) *SerialTransport {
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Settle == 0 {
		cfg.Settle = DefaultSettle
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	t := &SerialTransport{cfg: cfg}
	t.link.log = cfg.Logger.With("component", "transport", "kind", Serial.String())
	return t
}

func (t *SerialTransport) Kind() Kind { return Serial }

func (t *SerialTransport) Open(address string) error {
	if t.isOpen() {
		return ErrOpen
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        address,
		Baud:        t.cfg.Baud,
		ReadTimeout: t.cfg.ReadTimeout,
	})
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", address, err)
	}

	time.Sleep(t.cfg.Settle)
	if err := p.Flush(); err != nil {
		p.Close()
		return fmt.Errorf("flush serial port %s: %w", address, err)
	}

	if err := t.attach(newStream(p, t.log, true)); err != nil {
		p.Close()
		return err
	}
	t.log.Info("opened serial port", "port", address, "baud", t.cfg.Baud)
	return nil
}
