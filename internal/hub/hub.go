// Package hub wires the gateway, storage façade, GC, and metrics
// together into the accept-and-serve loop spec.md §4.4 calls the hub
// dispatcher. Grounded on the teacher's internal/server.Run: it owns the
// accept loop and spawns one goroutine per connection, but here the
// per-connection goroutine is a session.Session instead of a backup
// stream handler.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/agoracyber/dimsp-go/internal/gateway"
	"github.com/agoracyber/dimsp-go/internal/metrics"
	"github.com/agoracyber/dimsp-go/internal/session"
	"github.com/agoracyber/dimsp-go/internal/storage"
)

// gcStopTimeout bounds how long Run waits for an in-flight GC sweep to
// finish during shutdown before giving up.
const gcStopTimeout = 10 * time.Second

// Hub ties one gateway.Gateway to one storage.Facade and runs sessions
// for every connection the gateway accepts.
type Hub struct {
	gw            gateway.Gateway
	facade        *storage.Facade
	gc            *storage.GC
	metrics       *metrics.Registry
	logger        *slog.Logger
	sessionLogDir string
}

// New builds a Hub. gc and metricsRegistry may be nil to disable the
// corresponding subsystem (handy in tests that only exercise the accept
// loop). sessionLogDir may be empty to disable per-connection log files.
func New(gw gateway.Gateway, facade *storage.Facade, gc *storage.GC, metricsRegistry *metrics.Registry, logger *slog.Logger, sessionLogDir string) *Hub {
	return &Hub{gw: gw, facade: facade, gc: gc, metrics: metricsRegistry, logger: logger, sessionLogDir: sessionLogDir}
}

// Run accepts connections and serves each on its own goroutine until ctx
// is canceled or the gateway is closed. It starts the GC scheduler
// before accepting and stops it on the way out, matching the teacher's
// pattern of starting background maintenance goroutines alongside the
// accept loop in Run.
func (h *Hub) Run(ctx context.Context) error {
	if h.gc != nil {
		h.gc.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), gcStopTimeout)
			defer cancel()
			h.gc.Stop(stopCtx)
		}()
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := h.gw.Accept(ctx)
		if err != nil {
			if errors.Is(err, gateway.ErrShutdown) || errors.Is(err, context.Canceled) {
				h.logger.Info("hub: shutting down")
				return nil
			}
			h.logger.Error("hub: accept failed", "error", err)
			continue
		}

		if h.metrics != nil {
			h.metrics.ConnectionsTotal.Inc()
			h.metrics.ConnectionsActive.Inc()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.metrics != nil {
				defer h.metrics.ConnectionsActive.Dec()
			}
			sess := session.New(conn, h.facade, h.logger, h.sessionLogDir)
			if h.metrics != nil {
				sess.SetMetrics(h.metrics)
			}
			if err := sess.Run(ctx); err != nil {
				h.logger.Warn("hub: session ended with error", "conn_id", conn.ID(), "error", err)
			}
		}()
	}
}
