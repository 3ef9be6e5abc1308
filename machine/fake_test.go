package machine

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mastercactapus/cnclink/transport"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-memory machine link. Lines given to Send are
// recorded; bytes given to Putc are kept for a peer to read.
type fakeTransport struct {
	kind transport.Kind

	mx      sync.Mutex
	rx      []byte
	tx      []byte
	sent    []string
	open    bool
	closed  bool
	openErr error
	linkErr error

	// onSend runs after each Send, without the lock held.
	onSend func(string)
}

var _ transport.Transport = &fakeTransport{}

func (f *fakeTransport) Open(string) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.open = true
	return nil
}

func (f *fakeTransport) Close() error {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.closed = true
	f.open = false
	return nil
}

func (f *fakeTransport) Send(p []byte) (int, error) {
	f.mx.Lock()
	if !f.open {
		f.mx.Unlock()
		return 0, transport.ErrNotOpen
	}
	f.sent = append(f.sent, string(p))
	hook := f.onSend
	f.mx.Unlock()

	if hook != nil {
		hook(string(p))
	}
	return len(p), nil
}

func (f *fakeTransport) Recv() ([]byte, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	if f.linkErr != nil {
		return nil, f.linkErr
	}
	p := f.rx
	f.rx = nil
	return p, nil
}

func (f *fakeTransport) WaitingForRecv() bool {
	f.mx.Lock()
	defer f.mx.Unlock()
	return len(f.rx) > 0
}

func (f *fakeTransport) WaitingForSend() bool {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.open && f.linkErr == nil
}

func (f *fakeTransport) Getc(size int, timeout time.Duration) ([]byte, error) {
	return f.take(&f.rx, size, timeout), nil
}

func (f *fakeTransport) Putc(p []byte, _ time.Duration) (int, error) {
	f.mx.Lock()
	f.tx = append(f.tx, p...)
	f.mx.Unlock()
	return len(p), nil
}

func (f *fakeTransport) Kind() transport.Kind { return f.kind }

func (f *fakeTransport) take(buf *[]byte, size int, timeout time.Duration) []byte {
	deadline := time.Now().Add(timeout)
	for {
		f.mx.Lock()
		if len(*buf) >= size || time.Now().After(deadline) {
			n := min(size, len(*buf))
			var p []byte
			if n > 0 {
				p = append(p, (*buf)[:n]...)
				*buf = (*buf)[n:]
			}
			f.mx.Unlock()
			return p
		}
		f.mx.Unlock()
		time.Sleep(time.Millisecond)
	}
}

// reply queues machine output.
func (f *fakeTransport) reply(s string) {
	f.mx.Lock()
	f.rx = append(f.rx, s...)
	f.mx.Unlock()
}

func (f *fakeTransport) setOnSend(fn func(string)) {
	f.mx.Lock()
	f.onSend = fn
	f.mx.Unlock()
}

func (f *fakeTransport) sentLines() []string {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeTransport) lastSent() string {
	s := f.sentLines()
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

func (f *fakeTransport) count(line string) int {
	var n int
	for _, s := range f.sentLines() {
		if s == line {
			n++
		}
	}
	return n
}

func (f *fakeTransport) resetSent() {
	f.mx.Lock()
	f.sent = nil
	f.mx.Unlock()
}

// peer is the machine side of the byte channel used by file transfers.
type peer struct{ f *fakeTransport }

func (p peer) Getc(size int, timeout time.Duration) ([]byte, error) {
	return p.f.take(&p.f.tx, size, timeout), nil
}

func (p peer) Putc(data []byte, _ time.Duration) (int, error) {
	p.f.reply(string(data))
	return len(data), nil
}

var errLinkDown = errors.New("link down")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// connected returns a Controller connected to a fake transport. The
// status poll is disabled unless cfg sets it.
func connected(t *testing.T, cfg Config) (*Controller, *fakeTransport) {
	t.Helper()
	f := &fakeTransport{}
	if cfg.StatusInterval == 0 {
		cfg.StatusInterval = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	cfg.Dial = func(kind transport.Kind, _ *slog.Logger) (transport.Transport, error) {
		f.kind = kind
		return f, nil
	}

	c := New(cfg)
	require.NoError(t, c.Connect("fake", transport.Serial))
	t.Cleanup(func() { _ = c.Disconnect() })
	return c, f
}

// replyTo answers every sent line starting with prefix.
func replyTo(f *fakeTransport, prefix, answer string) {
	f.setOnSend(func(s string) {
		if strings.HasPrefix(s, prefix) {
			f.reply(answer)
		}
	})
}
