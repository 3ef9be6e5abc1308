package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"log/slog"
	"math"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/mastercactapus/cnclink/machine"
	"github.com/mastercactapus/cnclink/transport"
)

type api struct {
	http.Handler
	c   *machine.Controller
	log *slog.Logger
	sse *sse.Server
	ws  *hub

	upgrader websocket.Upgrader
	timeout  time.Duration
}

func newAPI(c *machine.Controller, lg *slog.Logger) *api {
	r := mux.NewRouter()
	a := &api{
		Handler: r,
		c:       c,
		log:     lg.With("component", "api"),
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(io.Discard, "", 0),
		}),
		ws: newHub(lg),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		timeout: machine.DefaultCommandTimeout,
	}

	r.HandleFunc("/api/connect", a.connect).Methods("POST")
	r.HandleFunc("/api/disconnect", a.disconnect).Methods("POST")
	r.HandleFunc("/api/run", a.run).Methods("POST")
	r.HandleFunc("/api/program", a.program).Methods("POST")
	r.HandleFunc("/api/probe", a.probe).Methods("POST")
	r.HandleFunc("/api/state", a.state).Methods("GET")
	r.HandleFunc("/api/history", a.history).Methods("GET")
	r.HandleFunc("/api/ports", a.ports).Methods("GET")
	r.HandleFunc("/api/files/{path:.+}", a.putFile).Methods("PUT")
	r.HandleFunc("/api/files/{path:.+}", a.getFile).Methods("GET")
	r.HandleFunc("/api/files/{path:.+}", a.deleteFile).Methods("DELETE")
	r.PathPrefix("/events/").Handler(a.sse)
	r.HandleFunc("/ws", a.websocket)

	return a
}

func (a *api) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error("encode response", "err", err)
	}
}

// httpError maps controller errors to status codes.
func (a *api) httpError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, machine.ErrNotConnected),
		errors.Is(err, machine.ErrConnected),
		errors.Is(err, machine.ErrTransferActive),
		errors.Is(err, machine.ErrResponsePending),
		errors.Is(err, machine.ErrNotIdle):
		code = http.StatusConflict
	case errors.Is(err, machine.ErrResponseTimeout):
		code = http.StatusGatewayTimeout
	case errors.Is(err, machine.ErrDigestMismatch),
		errors.Is(err, machine.ErrTransferFailed),
		errors.Is(err, machine.ErrTransferCanceled):
		code = http.StatusBadGateway
	}
	if code == http.StatusInternalServerError {
		a.log.Error("request failed", "err", err)
	}
	http.Error(w, err.Error(), code)
}

func (a *api) connect(w http.ResponseWriter, req *http.Request) {
	kind, err := transport.ParseKind(req.FormValue("kind"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	addr := req.FormValue("addr")
	if addr == "" {
		http.Error(w, "addr is required", http.StatusBadRequest)
		return
	}
	if err := a.c.Connect(addr, kind); err != nil {
		a.httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) disconnect(w http.ResponseWriter, req *http.Request) {
	if err := a.c.Disconnect(); err != nil {
		a.httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// run executes the request body one line at a time. G and M lines wait
// for ok when wait=1.
func (a *api) run(w http.ResponseWriter, req *http.Request) {
	data, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	wait := req.FormValue("wait") == "1"

	var results []machine.ExecResult
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		res, err := a.c.ExecuteGCode(line, wait, a.timeout)
		if err != nil {
			a.httpError(w, err)
			return
		}
		results = append(results, res)
	}
	a.writeJSON(w, results)
}

type programSummary struct {
	Lines    int      `json:"lines"`
	Points   int      `json:"points"`
	Has4Axis bool     `json:"has4Axis"`
	Issues   []string `json:"issues"`
	Margins  any      `json:"margins"`
}

func (a *api) program(w http.ResponseWriter, req *http.Request) {
	prog, err := a.c.LoadProgram(req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sum := programSummary{
		Lines:    prog.Lines,
		Points:   len(prog.Path),
		Has4Axis: prog.Has4Axis,
		Issues:   make([]string, 0, len(prog.Issues)),
	}
	for _, is := range prog.Issues {
		sum.Issues = append(sum.Issues, is.Error())
	}
	if !prog.Bounds.Empty() {
		sum.Margins = prog.Bounds
	}
	a.writeJSON(w, sum)
}

func (a *api) probe(w http.ResponseWriter, req *http.Request) {
	var err error
	var opt machine.ProbeOptions
	opt.ZeroZAxis = req.FormValue("zeroZAxis") == "1"

	parse := func(param string) (val float64) {
		if err != nil {
			return 0
		}
		val, err = strconv.ParseFloat(req.FormValue(param), 64)
		return val
	}
	opt.FeedRate = parse("feedRate")
	opt.MaxTravel = parse("maxZTravel")
	if opt.ZeroZAxis && req.FormValue("offset") != "" {
		opt.Offset = parse("offset")
	}

	grid := req.FormValue("grid") == "1"
	var xDist, yDist, gran float64
	if grid {
		xDist = parse("xDist")
		yDist = parse("yDist")
		gran = parse("granularity")
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var res any
	if grid {
		res, err = a.c.ZProbeGrid(machine.ProbeGridOptions{
			ProbeOptions: opt,
			DistanceX:    xDist,
			DistanceY:    yDist,
			Granularity:  gran,
		})
	} else {
		res, err = a.c.ZProbe(opt)
	}
	if err != nil {
		a.httpError(w, err)
		return
	}
	a.writeJSON(w, res)
}

func (a *api) state(w http.ResponseWriter, req *http.Request) {
	a.writeJSON(w, a.stateMessage())
}

type stateMessage struct {
	Conn machine.ConnState `json:"conn"`
	Vars map[string]any    `json:"vars"`
}

func (a *api) stateMessage() stateMessage {
	return stateMessage{
		Conn: a.c.ConnState(),
		Vars: jsonSafe(a.c.State().Snapshot()),
	}
}

// jsonSafe replaces values encoding/json rejects, such as the infinite
// margins of an empty program, with null.
func jsonSafe(vars map[string]any) map[string]any {
	for k, v := range vars {
		if f, ok := v.(float64); ok && (math.IsInf(f, 0) || math.IsNaN(f)) {
			vars[k] = nil
		}
	}
	return vars
}

func (a *api) history(w http.ResponseWriter, req *http.Request) {
	a.writeJSON(w, a.c.History())
}

func (a *api) ports(w http.ResponseWriter, req *http.Request) {
	ports, err := transport.ListPorts()
	if err != nil {
		a.httpError(w, err)
		return
	}
	a.writeJSON(w, ports)
}

// remotePath turns the route variable into an absolute machine path.
func remotePath(req *http.Request) string {
	return path.Clean("/" + mux.Vars(req)["path"])
}

func (a *api) putFile(w http.ResponseWriter, req *http.Request) {
	name := remotePath(req)
	if err := a.c.Upload(req.Body, name, nil); err != nil {
		a.httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) getFile(w http.ResponseWriter, req *http.Request) {
	name := remotePath(req)
	var buf bytes.Buffer
	if err := a.c.Download(&buf, name, nil); err != nil {
		a.httpError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := w.Write(buf.Bytes()); err != nil {
		a.log.Warn("write download", "path", name, "err", err)
	}
}

func (a *api) deleteFile(w http.ResponseWriter, req *http.Request) {
	if err := a.c.Remove(remotePath(req)); err != nil {
		a.httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
