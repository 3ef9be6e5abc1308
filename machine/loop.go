package machine

import (
	"strings"
	"time"

	"github.com/mastercactapus/cnclink/xmodem"
)

// loop polls the machine while idle and pumps received bytes into the
// line framer until the session is canceled. I/O errors are logged and
// never stop the loop.
func (c *Controller) loop(s *session) {
	defer close(s.done)
	c.log.Debug("keep-alive loop started")
	defer c.log.Debug("keep-alive loop stopped")

	t := time.NewTicker(c.cfg.Tick)
	defer t.Stop()

	lastStatus := time.Now()
	lastDiagnose := lastStatus
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
		}
		now := time.Now()

		if c.paused.Load() {
			continue
		}
		// a file transfer owns the link
		if !c.ioMx.TryLock() {
			lastStatus, lastDiagnose = now, now
			continue
		}

		if c.busy() {
			lastStatus, lastDiagnose = now, now
		} else {
			if now.Sub(lastStatus) >= c.cfg.StatusInterval {
				c.keepAlive(s, []byte("?"))
				lastStatus = now
			}
			if c.diagnosing.Load() && now.Sub(lastDiagnose) >= c.cfg.DiagnoseInterval {
				c.keepAlive(s, []byte("diagnose\n"))
				lastDiagnose = now
			}
		}

		var data []byte
		var err error
		if s.tr.WaitingForRecv() {
			data, err = s.tr.Recv()
		} else if !s.tr.WaitingForSend() {
			// nothing buffered and the link refuses writes; find out why
			_, err = s.tr.Recv()
		}
		c.ioMx.Unlock()

		if err != nil {
			c.linkLost(err)
		}
		if len(data) > 0 {
			c.feed(data)
		}
	}
}

func (c *Controller) keepAlive(s *session, query []byte) {
	if _, err := s.tr.Send(query); err != nil {
		c.log.Warn("keep-alive send failed", "query", strings.TrimSpace(string(query)), "err", err)
		return
	}
	c.log.Debug("keep-alive", "query", strings.TrimSpace(string(query)))
}

// linkLost reports a dead link once per connection.
func (c *Controller) linkLost(err error) {
	if c.linkFailure.Swap(true) {
		return
	}
	c.log.Error("connection lost", "err", err)
	c.logs.push(Error, "connection lost: "+err.Error())
	c.state.Set("state", "N/A")
}

// feed frames received bytes into lines. EOT and CAN end a line
// wherever they appear.
func (c *Controller) feed(data []byte) {
	for _, b := range data {
		switch b {
		case xmodem.EOT, xmodem.CAN:
			if len(c.rx) > 0 {
				c.logs.push(Normal, decode(c.rx))
			}
			c.rx = c.rx[:0]
			if b == xmodem.EOT {
				c.loadEOF.Store(true)
			} else {
				c.loadErr.Store(true)
			}
		case '\n':
			if len(c.rx) > 0 {
				c.classify(decode(c.rx))
			}
			c.rx = c.rx[:0]
		default:
			c.rx = append(c.rx, b)
		}
	}
}

func decode(p []byte) string { return strings.ToValidUTF8(string(p), "") }

// Update reports what a line changed.
type Update uint8

const (
	UpdatePos Update = 1 << iota
	UpdateG
	UpdateDiagnose
	UpdateProbe
)

// An Updater parses machine reports into State.
type Updater interface {
	Update(line string, st *State) Update
}

// classify routes one line: the outstanding wait first, then the log
// queue and the update flags.
func (c *Controller) classify(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	c.log.Debug("raw response received", "line", line)

	c.resolve(line)

	sev := Normal
	switch {
	case isStatusReport(line):
		c.posUpdate.Store(true)
	case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"):
		c.gUpdate.Store(true)
	default:
		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") || strings.Contains(lower, "alarm") {
			sev = Error
			c.log.Error("machine error", "line", line)
		} else {
			c.log.Info("machine response", "line", line)
		}
	}
	c.logs.push(sev, line)

	if c.cfg.Updater == nil {
		return
	}
	u := c.cfg.Updater.Update(line, c.state)
	if u&UpdatePos != 0 {
		c.posUpdate.Store(true)
	}
	if u&UpdateG != 0 {
		c.gUpdate.Store(true)
	}
	if u&UpdateDiagnose != 0 {
		c.diagnoseUpdate.Store(true)
	}
	if u&UpdateProbe != 0 {
		c.addProbe(ProbeResult{
			Point: c.state.point("prb"),
			Valid: c.state.Bool("prbok"),
		})
		c.probeUpdate.Store(true)
	}
}
