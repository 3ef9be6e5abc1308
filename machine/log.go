package machine

import (
	"fmt"
	"sync"
	"time"
)

// Severity tags a log queue entry.
type Severity int

const (
	Normal Severity = iota
	Error
	// Interior entries come from the controller itself, not the machine.
	Interior
)

func (s Severity) String() string {
	switch s {
	case Normal:
		return "normal"
	case Error:
		return "error"
	case Interior:
		return "interior"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// LogEntry is one line of machine output for the consumer.
type LogEntry struct {
	Severity Severity  `json:"severity"`
	Text     string    `json:"text"`
	Time     time.Time `json:"time"`
}

type logQueue struct {
	mx      sync.Mutex
	entries []LogEntry
	cap     int
	notify  chan struct{}
}

func newLogQueue(capacity int) *logQueue {
	return &logQueue{cap: capacity, notify: make(chan struct{}, 1)}
}

func (q *logQueue) push(sev Severity, text string) {
	q.mx.Lock()
	if len(q.entries) >= q.cap {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, LogEntry{Severity: sev, Text: text, Time: time.Now()})
	q.mx.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *logQueue) drain() []LogEntry {
	q.mx.Lock()
	defer q.mx.Unlock()
	res := q.entries
	q.entries = nil
	return res
}

type history struct {
	mx    sync.Mutex
	lines []string
	size  int
}

func (h *history) add(cmd string) {
	if cmd == "" {
		return
	}
	h.mx.Lock()
	defer h.mx.Unlock()
	for _, l := range h.lines {
		if l == cmd {
			return
		}
	}
	h.lines = append(h.lines, cmd)
	if len(h.lines) > h.size {
		h.lines = h.lines[1:]
	}
}

func (h *history) get() []string {
	h.mx.Lock()
	defer h.mx.Unlock()
	return append([]string(nil), h.lines...)
}

func (h *history) clear() {
	h.mx.Lock()
	h.lines = nil
	h.mx.Unlock()
}
