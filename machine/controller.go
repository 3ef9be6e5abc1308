// Package machine drives a CNC controller over a transport: connection
// lifecycle, keep-alive polling, command/response correlation, the
// machine log queue, and file transfers.
package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mastercactapus/cnclink/transport"
	"github.com/mastercactapus/cnclink/xmodem"
	"golang.org/x/sync/semaphore"
)

// ConnState is the connection lifecycle state.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Idle
	Busy
	Paused
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case Paused:
		return "paused"
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

func (s ConnState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// session is one open connection and its background loop.
type session struct {
	tr     transport.Transport
	addr   string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// pending is a one-shot response slot. Status reports only fill it
// when the wait is for a status query; a probe move is answered by the
// ok that follows its report.
type pending struct {
	ch     chan string
	status bool
	probe  bool
}

// Controller owns the machine link. One Controller can be connected and
// disconnected any number of times.
type Controller struct {
	cfg   Config
	log   *slog.Logger
	state *State

	mx         sync.Mutex
	sess       *session
	connecting atomic.Bool

	// ioMx serializes access to the transport; a file transfer holds
	// it for its whole duration.
	ioMx         sync.Mutex
	transferring atomic.Bool
	xferSem      *semaphore.Weighted
	modem        atomic.Pointer[xmodem.Modem]

	pending atomic.Pointer[pending]

	logs    *logQueue
	history history

	posUpdate      atomic.Bool
	gUpdate        atomic.Bool
	diagnoseUpdate atomic.Bool
	probeUpdate    atomic.Bool
	loadEOF        atomic.Bool
	loadErr        atomic.Bool

	running     atomic.Bool
	pausing     atomic.Bool
	paused      atomic.Bool
	diagnosing  atomic.Bool
	linkFailure atomic.Bool

	probeMx sync.Mutex
	probes  []ProbeResult

	// rx is only touched by the background loop.
	rx []byte
}

func New(cfg Config) *Controller {
	cfg = cfg.withDefaults()
	return &Controller{
		cfg:     cfg,
		log:     cfg.Logger.With("component", "machine"),
		state:   NewState(),
		xferSem: semaphore.NewWeighted(1),
		logs:    newLogQueue(cfg.LogCapacity),
		history: history{size: cfg.HistorySize},
	}
}

// State returns the machine variable table.
func (c *Controller) State() *State { return c.state }

// Connect opens a transport of the given kind and starts the keep-alive loop.
func (c *Controller) Connect(address string, kind transport.Kind) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.sess != nil {
		return &ConnectionError{Addr: address, Err: ErrConnected}
	}

	c.connecting.Store(true)
	defer c.connecting.Store(false)

	c.log.Info("connecting", "addr", address, "kind", kind.String())
	tr, err := c.cfg.Dial(kind, c.cfg.Logger)
	if err != nil {
		c.log.Error("connect failed", "addr", address, "err", err)
		return &ConnectionError{Addr: address, Err: err}
	}
	if err := tr.Open(address); err != nil {
		c.log.Error("connect failed", "addr", address, "err", err)
		return &ConnectionError{Addr: address, Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		tr:     tr,
		addr:   address,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.sess = s
	c.rx = nil
	c.linkFailure.Store(false)
	c.state.Set("state", "Wait")

	go c.loop(s)
	c.log.Info("connected", "addr", address)
	return nil
}

// Disconnect stops the keep-alive loop and closes the transport. It is
// safe to call when not connected.
func (c *Controller) Disconnect() error {
	c.mx.Lock()
	s := c.sess
	c.sess = nil
	c.mx.Unlock()
	if s == nil {
		return nil
	}

	s.cancel()
	if m := c.modem.Load(); m != nil {
		m.Cancel()
	}
	select {
	case <-s.done:
	case <-time.After(c.cfg.ShutdownWait):
		c.log.Warn("keep-alive loop did not stop in time")
	}

	err := s.tr.Close()
	c.state.Set("state", "N/A")
	c.log.Info("disconnected", "addr", s.addr)
	if err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}

func (c *Controller) IsConnected() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.sess != nil
}

func (c *Controller) session() (*session, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.sess == nil {
		return nil, ErrNotConnected
	}
	return c.sess, nil
}

func (c *Controller) busy() bool {
	return c.running.Load() || c.pausing.Load() || c.transferring.Load()
}

func (c *Controller) ConnState() ConnState {
	if c.connecting.Load() {
		return Connecting
	}
	if !c.IsConnected() {
		return Disconnected
	}
	switch {
	case c.paused.Load():
		return Paused
	case c.busy():
		return Busy
	}
	return Idle
}

// SetRunning marks a job as streaming; status polling stops while set.
func (c *Controller) SetRunning(v bool) {
	c.running.Store(v)
	c.state.Set("running", v)
}

// SetPausing marks a pause request in flight; status polling stops while set.
func (c *Controller) SetPausing(v bool) { c.pausing.Store(v) }

// SetPaused suspends all background link activity.
func (c *Controller) SetPaused(v bool) { c.paused.Store(v) }

// SetDiagnosing enables the diagnose query.
func (c *Controller) SetDiagnosing(v bool) { c.diagnosing.Store(v) }

func (c *Controller) TakePosUpdate() bool      { return c.posUpdate.Swap(false) }
func (c *Controller) TakeGUpdate() bool        { return c.gUpdate.Swap(false) }
func (c *Controller) TakeDiagnoseUpdate() bool { return c.diagnoseUpdate.Swap(false) }
func (c *Controller) TakeProbeUpdate() bool    { return c.probeUpdate.Swap(false) }

// LoadEOF reports an EOT seen on the command stream.
func (c *Controller) LoadEOF() bool { return c.loadEOF.Load() }

// LoadErr reports a CAN seen on the command stream.
func (c *Controller) LoadErr() bool { return c.loadErr.Load() }

func (c *Controller) ClearLoadFlags() {
	c.loadEOF.Store(false)
	c.loadErr.Store(false)
}

// Logs drains the log queue in arrival order.
func (c *Controller) Logs() []LogEntry { return c.logs.drain() }

// LogNotify is signaled after entries are queued.
func (c *Controller) LogNotify() <-chan struct{} { return c.logs.notify }

func (c *Controller) History() []string     { return c.history.get() }
func (c *Controller) AddHistory(cmd string) { c.history.add(strings.TrimSpace(cmd)) }
func (c *Controller) ClearHistory()         { c.history.clear() }

func (c *Controller) send(text string) error {
	s, err := c.session()
	if err != nil {
		return &CommandError{Command: strings.TrimSpace(text), Err: err}
	}
	if c.transferring.Load() {
		return &CommandError{Command: strings.TrimSpace(text), Err: ErrTransferActive}
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	c.ioMx.Lock()
	_, err = s.tr.Send([]byte(text))
	c.ioMx.Unlock()

	cmd := strings.TrimSpace(text)
	if err != nil {
		c.log.Error("send failed", "cmd", cmd, "err", err)
		return &CommandError{Command: cmd, Err: err}
	}
	c.log.Info("executing command", "cmd", cmd)
	c.log.Debug("raw data sent", "data", text, "len", len(text))
	c.history.add(cmd)
	return nil
}

// SendCommand sends one line without waiting for a reply.
func (c *Controller) SendCommand(text string) error {
	if text == "" {
		return nil
	}
	return c.send(text)
}

// SendCommandWait sends one line and returns the first line the machine
// sends back. Status reports only answer "?", and a G38 move is answered
// by the ok after its probe report. Only one wait may be outstanding; a
// second concurrent call fails with ErrResponsePending.
// ErrResponseTimeout is returned when nothing arrives in time.
func (c *Controller) SendCommandWait(text string, timeout time.Duration) (string, error) {
	s, err := c.session()
	if err != nil {
		return "", &CommandError{Command: strings.TrimSpace(text), Err: err}
	}

	cmd := strings.ToUpper(strings.TrimSpace(text))
	p := &pending{
		ch:     make(chan string, 1),
		status: cmd == "?",
		probe:  strings.Contains(cmd, "G38"),
	}
	if !c.pending.CompareAndSwap(nil, p) {
		return "", ErrResponsePending
	}
	defer c.pending.CompareAndSwap(p, nil)

	if err := c.send(text); err != nil {
		return "", err
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case line := <-p.ch:
		return line, nil
	case <-t.C:
		c.log.Warn("timeout waiting for response", "cmd", strings.TrimSpace(text))
		return "", ErrResponseTimeout
	case <-s.ctx.Done():
		return "", &CommandError{Command: strings.TrimSpace(text), Err: ErrNotConnected}
	}
}

// resolve hands line to the outstanding wait, if any.
func (c *Controller) resolve(line string) {
	p := c.pending.Load()
	if p == nil {
		return
	}
	// keep-alive replies arrive during any wait
	if !p.status && isStatusReport(line) {
		return
	}
	if p.probe && strings.HasPrefix(line, "[PRB:") {
		return
	}
	if !c.pending.CompareAndSwap(p, nil) {
		return
	}
	p.ch <- line
	c.log.Debug("response matched waiting command", "line", line)
}

// ExecStatus is the outcome of ExecuteGCode.
type ExecStatus int

const (
	NotExecuted ExecStatus = iota
	Sent
	OK
	Unexpected
	Timeout
)

func (s ExecStatus) String() string {
	switch s {
	case NotExecuted:
		return "not executed"
	case Sent:
		return "sent"
	case OK:
		return "ok"
	case Unexpected:
		return "unexpected"
	case Timeout:
		return "timeout"
	}
	return fmt.Sprintf("ExecStatus(%d)", int(s))
}

func (s ExecStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type ExecResult struct {
	Status   ExecStatus `json:"status"`
	Response string     `json:"response,omitempty"`
}

var (
	rxCommand = regexp.MustCompile(`^[A-Za-z]\s*[-+]?\d+.*`)
	rxGCode   = regexp.MustCompile(`(?i)^\s*[GM]\d+`)
)

// Executable reports whether ExecuteGCode would send line.
func Executable(line string) bool {
	if line == "" {
		return false
	}
	return strings.ContainsRune("$!~?(@", rune(line[0])) || rxCommand.MatchString(line)
}

// ExecuteGCode sends line if it looks like a machine command. G and M
// commands wait for the reply when waitOK is set: exactly "ok" is
// success, anything else is returned as Unexpected.
func (c *Controller) ExecuteGCode(line string, waitOK bool, timeout time.Duration) (ExecResult, error) {
	if !Executable(line) {
		return ExecResult{Status: NotExecuted}, nil
	}

	if !waitOK || !rxGCode.MatchString(line) {
		if err := c.send(line); err != nil {
			return ExecResult{}, err
		}
		return ExecResult{Status: Sent}, nil
	}

	resp, err := c.SendCommandWait(line, timeout)
	switch {
	case errors.Is(err, ErrResponseTimeout):
		return ExecResult{Status: Timeout}, nil
	case err != nil:
		return ExecResult{}, err
	case strings.EqualFold(strings.TrimSpace(resp), "ok"):
		c.log.Debug("gcode command successful", "line", strings.TrimSpace(line))
		return ExecResult{Status: OK, Response: resp}, nil
	}
	c.log.Warn("unexpected response to gcode", "line", strings.TrimSpace(line), "response", resp)
	return ExecResult{Status: Unexpected, Response: resp}, nil
}

// ExecuteRaw sends text as-is, skipping the command check.
func (c *Controller) ExecuteRaw(text string) (ExecResult, error) {
	if err := c.send(text); err != nil {
		return ExecResult{}, err
	}
	return ExecResult{Status: Sent}, nil
}

func isStatusReport(line string) bool {
	return strings.HasPrefix(line, "<") && strings.HasSuffix(line, ">")
}
