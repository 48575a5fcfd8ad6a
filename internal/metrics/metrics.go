// Package metrics exposes the hub's Prometheus counters and gauges, the
// way the teacher's observability package exposes WebUI stats but over
// the standard /metrics text-exposition endpoint instead of a bespoke
// JSON API.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every counter and gauge the hub reports. Fields are
// exported metric handles, not a dashboard: callers call Inc/Add/Set
// directly rather than going through wrapper methods, matching how the
// agalue sink-receiver example wires promauto metrics straight into its
// call sites.
type Registry struct {
	ConnectionsTotal   prometheus.Counter
	ConnectionsActive  prometheus.Gauge
	RequestsTotal      *prometheus.CounterVec
	RejectedTotal      *prometheus.CounterVec
	BytesWrittenTotal  prometheus.Counter
	BytesReadTotal     prometheus.Counter
	BlobsGCedTotal     prometheus.Counter
	QuotaUsedBytes     *prometheus.GaugeVec
	GCSweepDuration    prometheus.Histogram
}

// NewRegistry registers every metric against reg and returns the handles.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dimsp", Subsystem: "hub", Name: "connections_total",
			Help: "Total gateway connections accepted and authenticated.",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "dimsp", Subsystem: "hub", Name: "connections_active",
			Help: "Currently open sessions.",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dimsp", Subsystem: "hub", Name: "requests_total",
			Help: "SyncMessage requests processed, by message type.",
		}, []string{"type"}),
		RejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dimsp", Subsystem: "hub", Name: "rejected_total",
			Help: "Acks carrying a non-success sync_error, by reason.",
		}, []string{"reason"}),
		BytesWrittenTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dimsp", Subsystem: "hub", Name: "bytes_written_total",
			Help: "Fragment bytes accepted via write_fragment.",
		}),
		BytesReadTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dimsp", Subsystem: "hub", Name: "bytes_read_total",
			Help: "Fragment bytes served via read_fragment.",
		}),
		BlobsGCedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dimsp", Subsystem: "hub", Name: "blobs_gced_total",
			Help: "Blobs removed by lease-expiry GC.",
		}),
		QuotaUsedBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dimsp", Subsystem: "hub", Name: "quota_used_bytes",
			Help: "Last-observed quota usage per account.",
		}, []string{"uns_id"}),
		GCSweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dimsp", Subsystem: "hub", Name: "gc_sweep_duration_seconds",
			Help:    "Wall-clock duration of each lease-expiry sweep.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Server is a minimal HTTP server exposing /metrics, started and stopped
// the same way the teacher's observability web UI is: a goroutine
// running ListenAndServe and a context-triggered graceful Shutdown.
type Server struct {
	httpSrv *http.Server
}

// NewServer builds (but does not start) the /metrics HTTP server.
func NewServer(addr string, reg *prometheus.Registry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &Server{httpSrv: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Run starts serving until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics: serving: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
