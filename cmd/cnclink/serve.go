package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/mastercactapus/cnclink/transport"
	"golang.org/x/sync/errgroup"
)

const statePushInterval = 200 * time.Millisecond

func runServe(ctx context.Context, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	listen := fs.String("listen", ":9091", "Address to bind the HTTP API to.")
	lf := addLinkFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	c := newController(log)
	defer c.Disconnect()
	if *lf.addr != "" {
		kind, err := transport.ParseKind(*lf.kind)
		if err != nil {
			return err
		}
		if err := c.Connect(*lf.addr, kind); err != nil {
			log.Warn("initial connect failed", "err", err)
		}
	}

	a := newAPI(c, log)
	srv := &http.Server{
		Addr: *listen,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "*")
			log.Debug("request", "method", req.Method, "path", req.URL.Path, "remote", req.RemoteAddr)
			a.ServeHTTP(w, req)
		}),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", *listen)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.pump(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		a.sse.Shutdown()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// pump forwards machine output and state changes to event and
// websocket subscribers until ctx ends.
func (a *api) pump(ctx context.Context) error {
	t := time.NewTicker(statePushInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.c.LogNotify():
			for _, e := range a.c.Logs() {
				a.publish("/events/log", e)
				a.ws.broadcast(e)
			}
		case <-t.C:
			pos, g := a.c.TakePosUpdate(), a.c.TakeGUpdate()
			diag, prb := a.c.TakeDiagnoseUpdate(), a.c.TakeProbeUpdate()
			if pos || g || diag || prb {
				a.publish("/events/state", a.stateMessage())
			}
		}
	}
}

func (a *api) publish(channel string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		a.log.Error("marshal event", "channel", channel, "err", err)
		return
	}
	a.sse.SendMessage(channel, sse.SimpleMessage(string(data)))
}
