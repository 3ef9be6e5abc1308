package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	readBufferSize = 1024

	// DefaultSendTimeout bounds Send on links that support write deadlines.
	DefaultSendTimeout = 2 * time.Second

	closeWait = time.Second
)

type writeDeadliner interface {
	SetWriteDeadline(time.Time) error
}

// stream buffers everything rwc produces so readers can poll.
type stream struct {
	log *slog.Logger
	rwc io.ReadWriteCloser

	// serial reads report io.EOF when the read timeout passes
	eofIsIdle bool

	mx     sync.Mutex
	rx     []byte
	rxErr  error
	closed bool

	wake chan struct{}
	done chan struct{}

	wMx     sync.Mutex
	writing atomic.Bool
}

func newStream(rwc io.ReadWriteCloser, log *slog.Logger, eofIsIdle bool) *stream {
	s := &stream{
		log:       log,
		rwc:       rwc,
		eofIsIdle: eofIsIdle,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *stream) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *stream) readLoop() {
	defer close(s.done)
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.rwc.Read(buf)
		if n > 0 {
			s.mx.Lock()
			s.rx = append(s.rx, buf[:n]...)
			s.mx.Unlock()
			s.signal()
		}
		if err == nil || (s.eofIsIdle && errors.Is(err, io.EOF)) {
			continue
		}

		s.mx.Lock()
		closed := s.closed
		if s.rxErr == nil {
			s.rxErr = err
		}
		s.mx.Unlock()
		s.signal()

		if !closed {
			s.log.Warn("link read failed", "err", err)
		}
		return
	}
}

// take removes n buffered bytes; callers hold mx.
func (s *stream) take(n int) []byte {
	if n > len(s.rx) {
		n = len(s.rx)
	}
	if n == 0 {
		return nil
	}
	p := append([]byte(nil), s.rx[:n]...)
	s.rx = s.rx[n:]
	if len(s.rx) == 0 {
		s.rx = nil
	}
	return p
}

func (s *stream) recv() ([]byte, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if len(s.rx) > 0 {
		return s.take(len(s.rx)), nil
	}
	if s.rxErr != nil {
		return nil, fmt.Errorf("recv: %w", s.rxErr)
	}
	return nil, nil
}

func (s *stream) waitingForRecv() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return !s.closed && len(s.rx) > 0
}

func (s *stream) waitingForSend() bool {
	s.mx.Lock()
	closed := s.closed || s.rxErr != nil
	s.mx.Unlock()
	return !closed && !s.writing.Load()
}

func (s *stream) getc(size int, timeout time.Duration) ([]byte, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	for {
		s.mx.Lock()
		if s.closed {
			s.mx.Unlock()
			return nil, ErrClosed
		}
		if len(s.rx) >= size {
			p := s.take(size)
			s.mx.Unlock()
			return p, nil
		}
		if s.rxErr != nil {
			p := s.take(size)
			err := s.rxErr
			s.mx.Unlock()
			if p != nil {
				return p, nil
			}
			return nil, fmt.Errorf("getc: %w", err)
		}
		s.mx.Unlock()

		select {
		case <-s.wake:
		case <-t.C:
			s.mx.Lock()
			p := s.take(size)
			s.mx.Unlock()
			return p, nil
		}
	}
}

func (s *stream) send(p []byte, timeout time.Duration) (int, error) {
	s.wMx.Lock()
	defer s.wMx.Unlock()

	s.mx.Lock()
	closed := s.closed
	s.mx.Unlock()
	if closed {
		return 0, ErrClosed
	}

	s.writing.Store(true)
	defer s.writing.Store(false)

	if d, ok := s.rwc.(writeDeadliner); ok && timeout > 0 {
		_ = d.SetWriteDeadline(time.Now().Add(timeout))
		defer func() { _ = d.SetWriteDeadline(time.Time{}) }()
	}
	n, err := s.rwc.Write(p)
	if err != nil {
		return n, fmt.Errorf("send: %w", err)
	}
	return n, nil
}

func (s *stream) close() error {
	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		return nil
	}
	s.closed = true
	s.mx.Unlock()
	s.signal()

	err := s.rwc.Close()
	select {
	case <-s.done:
	case <-time.After(closeWait):
		s.log.Warn("link reader did not stop")
	}
	return err
}

// link holds the stream of an open transport and implements the
// parts of Transport that do not depend on the link kind.
type link struct {
	mx  sync.Mutex
	s   *stream
	log *slog.Logger

	sendTimeout time.Duration
}

func (l *link) cur() (*stream, error) {
	l.mx.Lock()
	s := l.s
	l.mx.Unlock()
	if s == nil {
		return nil, ErrNotOpen
	}
	return s, nil
}

func (l *link) attach(s *stream) error {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.s != nil {
		return ErrOpen
	}
	l.s = s
	return nil
}

func (l *link) isOpen() bool {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.s != nil
}

func (l *link) Close() error {
	l.mx.Lock()
	s := l.s
	l.s = nil
	l.mx.Unlock()
	if s == nil {
		return nil
	}
	err := s.close()
	l.log.Info("link closed")
	return err
}

func (l *link) Send(p []byte) (int, error) {
	s, err := l.cur()
	if err != nil {
		return 0, err
	}
	return s.send(p, l.sendTimeout)
}

func (l *link) Recv() ([]byte, error) {
	s, err := l.cur()
	if err != nil {
		return nil, err
	}
	return s.recv()
}

func (l *link) WaitingForRecv() bool {
	s, err := l.cur()
	if err != nil {
		return false
	}
	return s.waitingForRecv()
}

func (l *link) WaitingForSend() bool {
	s, err := l.cur()
	if err != nil {
		return false
	}
	return s.waitingForSend()
}

func (l *link) Getc(size int, timeout time.Duration) ([]byte, error) {
	s, err := l.cur()
	if err != nil {
		return nil, err
	}
	return s.getc(size, timeout)
}

func (l *link) Putc(p []byte, timeout time.Duration) (int, error) {
	s, err := l.cur()
	if err != nil {
		return 0, err
	}
	return s.send(p, timeout)
}
