// Package transport provides the byte links to a machine: a USB serial
// port or a TCP socket, behind one interface.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Kind selects the physical link.
type Kind int

const (
	Serial Kind = iota
	TCP
)

func (k Kind) String() string {
	switch k {
	case Serial:
		return "usb"
	case TCP:
		return "wifi"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind accepts "usb"/"serial" and "wifi"/"tcp".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "usb", "serial":
		return Serial, nil
	case "wifi", "tcp":
		return TCP, nil
	}
	return 0, fmt.Errorf("unknown transport kind %q", s)
}

var (
	ErrNotOpen = errors.New("transport not open")
	ErrClosed  = errors.New("transport closed")
	ErrOpen    = errors.New("transport already open")
)

// Transport is a bidirectional byte link. Received bytes are buffered
// in the background so that WaitingForRecv never blocks.
//
// Getc and Putc are the timed primitives used by file transfers. Getc
// returns nil without error when nothing arrived before the timeout,
// and fewer than size bytes when only part of them did.
type Transport interface {
	Open(address string) error
	Close() error

	Send(p []byte) (int, error)
	Recv() ([]byte, error)

	// WaitingForRecv reports buffered input.
	WaitingForRecv() bool
	// WaitingForSend reports whether a send would start right away.
	WaitingForSend() bool

	Getc(size int, timeout time.Duration) ([]byte, error)
	Putc(p []byte, timeout time.Duration) (int, error)

	Kind() Kind
}

// New returns an unopened transport of the given kind with default settings.
func New(kind Kind, log *slog.Logger) (Transport, error) {
	switch kind {
	case Serial:
		return NewSerial(SerialConfig{Logger: log}), nil
	case TCP:
		return NewTCP(TCPConfig{Logger: log}), nil
	}
	return nil, fmt.Errorf("unknown transport kind %d", int(kind))
}
