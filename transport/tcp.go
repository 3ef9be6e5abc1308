package transport

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
)

const (
	DefaultTCPPort     = 2222
	DefaultDialTimeout = 2 * time.Second
)

// TCPConfig configures a WiFi link. Zero values take the defaults.
type TCPConfig struct {
	Port        int
	DialTimeout time.Duration
	SendTimeout time.Duration

	Logger *slog.Logger
}

// TCPTransport talks to the machine's TCP console.
type TCPTransport struct {
	link
	cfg TCPConfig
}

var _ Transport = &TCPTransport{}

func NewTCP(cfg TCPConfig) *TCPTransport {
	if cfg.Port == 0 {
		cfg.Port = DefaultTCPPort
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	t := &TCPTransport{cfg: cfg}
	t.link.log = cfg.Logger.With("component", "transport", "kind", TCP.String())
	t.link.sendTimeout = cfg.SendTimeout
	return t
}

func (t *TCPTransport) Kind() Kind { return TCP }

// hostPort adds the default port when address has none.
func (t *TCPTransport) hostPort(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(t.cfg.Port))
}

func (t *TCPTransport) Open(address string) error {
	if t.isOpen() {
		return ErrOpen
	}
	addr := t.hostPort(address)

	d := net.Dialer{Timeout: t.cfg.DialTimeout}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	if err := t.attach(newStream(conn, t.log, false)); err != nil {
		conn.Close()
		return err
	}
	t.log.Info("connected", "addr", addr)
	return nil
}
