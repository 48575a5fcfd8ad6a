package storage

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/agoracyber/dimsp-go/internal/metrics"
	"github.com/agoracyber/dimsp-go/internal/types"
	"github.com/robfig/cron/v3"
)

// GC periodically retires content past its lease: delivered timeline
// entries the owner's lease has outlived, and write streams that were
// opened but never closed. Grounded on the teacher's
// internal/agent.Scheduler — same cron.Cron wrapper, same
// already-running guard around one sweep at a time.
type GC struct {
	facade  *Facade
	logger  *slog.Logger
	cron    *cron.Cron
	metrics *metrics.Registry

	mu      sync.Mutex
	running bool
}

// SetMetrics attaches the registry sweep reports blob/duration/quota
// gauges to. Left unset (nil), sweeps run without metrics.
func (g *GC) SetMetrics(m *metrics.Registry) {
	g.metrics = m
}

// NewGC builds a GC that sweeps facade on schedule (a standard cron
// expression, e.g. "@every 1m").
func NewGC(facade *Facade, schedule string, logger *slog.Logger) (*GC, error) {
	g := &GC{facade: facade, logger: logger}
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(schedule, func() { g.sweep(context.Background()) }); err != nil {
		return nil, err
	}
	g.cron = c
	return g, nil
}

// Start begins the cron-driven sweep loop.
func (g *GC) Start() {
	g.logger.Info("gc scheduler started")
	g.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight sweep to finish or
// ctx to be canceled, whichever comes first.
func (g *GC) Stop(ctx context.Context) {
	stopCtx := g.cron.Stop()
	select {
	case <-stopCtx.Done():
		g.logger.Info("gc scheduler stopped")
	case <-ctx.Done():
		g.logger.Warn("gc scheduler stop timed out")
	}
}

func (g *GC) sweep(ctx context.Context) {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		g.logger.Warn("gc sweep already running, skipping")
		return
	}
	g.running = true
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.running = false
		g.mu.Unlock()
	}()

	start := time.Now()
	g.sweepTimelines(ctx, start)
	g.sweepPending(ctx, start)
	if g.metrics != nil {
		g.metrics.GCSweepDuration.Observe(time.Since(start).Seconds())
	}
}

func (g *GC) sweepTimelines(ctx context.Context, now time.Time) {
	accounts, err := g.facade.timelines.AccountsWithTimelines()
	if err != nil {
		g.logger.Error("gc: listing accounts", "error", err)
		return
	}
	for _, unsID := range accounts {
		expired, err := g.facade.timelines.ExpiredEntries(unsID, now)
		if err != nil {
			g.logger.Error("gc: sweeping timeline", "account", unsID, "error", err)
			continue
		}
		for _, blobID := range expired {
			g.retire(ctx, unsID, blobID)
		}
		if g.metrics != nil {
			if used, err := g.facade.quota.Used(unsID); err == nil {
				g.metrics.QuotaUsedBytes.WithLabelValues(strconv.FormatUint(unsID, 10)).Set(float64(used))
			}
		}
	}
}

func (g *GC) retire(ctx context.Context, unsID uint64, blobID types.Hash32) {
	blob, ok, err := g.facade.blobs.Get(blobID)
	if err != nil {
		g.logger.Error("gc: fetching expired blob", "blob", blobID, "error", err)
		return
	}
	if !ok {
		return
	}

	if g.facade.archiver != nil {
		fragments := make([][]byte, len(blob.FragmentHashes))
		for off := range blob.FragmentHashes {
			content, err := g.facade.blobs.ReadFragment(blobID, uint64(off))
			if err != nil {
				g.logger.Warn("gc: reading fragment for archive, retaining blob locally", "blob", blobID, "offset", off, "error", err)
				return
			}
			fragments[off] = content
		}
		if err := g.facade.archiver.Archive(ctx, blobID, fragments); err != nil {
			g.logger.Warn("gc: archive upload failed, retaining blob locally", "blob", blobID, "error", err)
			return
		}
	}

	if err := g.facade.quota.Release(unsID, blob.Length); err != nil {
		g.logger.Error("gc: releasing quota", "account", unsID, "error", err)
	}
	if err := g.facade.blobs.Remove(blobID); err != nil {
		g.logger.Error("gc: removing expired blob", "blob", blobID, "error", err)
		return
	}
	if g.metrics != nil {
		g.metrics.BlobsGCedTotal.Inc()
	}
}

func (g *GC) sweepPending(_ context.Context, now time.Time) {
	type abandoned struct {
		id types.Hash32
		pu pendingUpload
	}
	var expired []abandoned
	err := g.facade.kv.ForEachPrefix(bucketPending, nil, func(key, value []byte) error {
		id, err := types.NewHash32FromBytes(key)
		if err != nil {
			return nil
		}
		pu, ok := decodePendingUpload(value)
		if !ok || now.Sub(pu.CreatedAt) < pu.Lease {
			return nil
		}
		expired = append(expired, abandoned{id: id, pu: pu})
		return nil
	})
	if err != nil {
		g.logger.Error("gc: listing pending uploads", "error", err)
		return
	}

	for _, a := range expired {
		if err := g.facade.quota.Release(a.pu.Owner, a.pu.Amount); err != nil {
			g.logger.Error("gc: releasing pending quota", "account", a.pu.Owner, "error", err)
		}
		if err := g.facade.blobs.Remove(a.id); err != nil {
			g.logger.Error("gc: removing abandoned blob", "blob", a.id, "error", err)
		} else if g.metrics != nil {
			g.metrics.BlobsGCedTotal.Inc()
		}
		if err := g.facade.dropPending(a.id); err != nil {
			g.logger.Error("gc: clearing pending record", "blob", a.id, "error", err)
		}
	}
}
