package main

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mastercactapus/cnclink/machine"
)

const wsWriteWait = 5 * time.Second

type wsClient struct {
	mx   sync.Mutex
	conn *websocket.Conn
}

func (cl *wsClient) writeJSON(v any) error {
	cl.mx.Lock()
	defer cl.mx.Unlock()
	_ = cl.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return cl.conn.WriteJSON(v)
}

// hub fans log entries out to websocket consoles.
type hub struct {
	log *slog.Logger

	mx      sync.Mutex
	clients map[*wsClient]struct{}
}

func newHub(log *slog.Logger) *hub {
	return &hub{
		log:     log.With("component", "ws"),
		clients: make(map[*wsClient]struct{}),
	}
}

func (h *hub) add(cl *wsClient) {
	h.mx.Lock()
	h.clients[cl] = struct{}{}
	h.mx.Unlock()
}

func (h *hub) remove(cl *wsClient) {
	h.mx.Lock()
	delete(h.clients, cl)
	h.mx.Unlock()
}

func (h *hub) broadcast(v any) {
	h.mx.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for cl := range h.clients {
		clients = append(clients, cl)
	}
	h.mx.Unlock()

	for _, cl := range clients {
		if err := cl.writeJSON(v); err != nil {
			h.log.Debug("drop client", "err", err)
			h.remove(cl)
			cl.conn.Close()
		}
	}
}

type wsReply struct {
	Line   string             `json:"line"`
	Result machine.ExecResult `json:"result"`
	Error  string             `json:"error,omitempty"`
}

// websocket runs a console: every text message is one line for the
// machine, machine output arrives as log entries.
func (a *api) websocket(w http.ResponseWriter, req *http.Request) {
	conn, err := a.upgrader.Upgrade(w, req, nil)
	if err != nil {
		a.log.Warn("websocket upgrade", "err", err)
		return
	}
	cl := &wsClient{conn: conn}
	a.ws.add(cl)
	defer func() {
		a.ws.remove(cl)
		conn.Close()
	}()

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.log.Debug("websocket read", "err", err)
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}

		line := strings.TrimSpace(string(data))
		if line == "" {
			continue
		}
		reply := wsReply{Line: line}
		res, err := a.c.ExecuteGCode(line, false, a.timeout)
		if err == nil && res.Status == machine.NotExecuted {
			res, err = a.c.ExecuteRaw(line)
		}
		reply.Result = res
		if err != nil {
			reply.Error = err.Error()
		}
		if err := cl.writeJSON(reply); err != nil {
			return
		}
	}
}
