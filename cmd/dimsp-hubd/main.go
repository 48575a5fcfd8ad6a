package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/agoracyber/dimsp-go/internal/config"
	"github.com/agoracyber/dimsp-go/internal/gateway"
	"github.com/agoracyber/dimsp-go/internal/hub"
	"github.com/agoracyber/dimsp-go/internal/logging"
	"github.com/agoracyber/dimsp-go/internal/metrics"
	"github.com/agoracyber/dimsp-go/internal/mns"
	"github.com/agoracyber/dimsp-go/internal/storage"
)

func main() {
	configPath := flag.String("config", "/etc/dimsp-hubd/hub.yaml", "path to hub config file")
	flag.Parse()

	cfg, err := config.LoadHubConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, "")
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("hub error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.HubConfig, logger *slog.Logger) error {
	kv, err := storage.OpenBboltKV(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	var archiver storage.Archiver
	if cfg.Archive.Enabled {
		archiver, err = newArchiver(ctx, cfg)
		if err != nil {
			return fmt.Errorf("configuring archive: %w", err)
		}
	}

	facade, err := storage.NewFacade(kv, cfg.Storage.DiskHeadroomPath, archiver)
	if err != nil {
		return fmt.Errorf("building storage facade: %w", err)
	}
	defer facade.Close()

	gc, err := storage.NewGC(facade, cfg.GC.Schedule, logger)
	if err != nil {
		return fmt.Errorf("configuring GC: %w", err)
	}

	registry, err := mns.LoadRegistry(cfg.MNS.RegistryPath)
	if err != nil {
		return fmt.Errorf("loading MNS registry: %w", err)
	}

	gw, err := gateway.NewTCPGateway(cfg.Listen.Address, cfg.TLS.CACert, cfg.TLS.ServerCert, cfg.TLS.ServerKey, registry, logger)
	if err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}
	defer gw.Close()

	var metricsRegistry *metrics.Registry
	if cfg.Metrics.Enabled {
		promReg := prometheus.NewRegistry()
		metricsRegistry = metrics.NewRegistry(promReg)
		metricsSrv := metrics.NewServer(cfg.Metrics.Listen, promReg)
		go func() {
			if err := metricsSrv.Run(ctx); err != nil {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	if metricsRegistry != nil {
		facade.SetMetrics(metricsRegistry)
		gc.SetMetrics(metricsRegistry)
	}

	h := hub.New(gw, facade, gc, metricsRegistry, logger, cfg.Logging.SessionDir)
	logger.Info("hub listening", "address", cfg.Listen.Address)
	return h.Run(ctx)
}

func newArchiver(ctx context.Context, cfg *config.HubConfig) (storage.Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Archive.Region)}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Archive.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Archive.Endpoint)
			o.UsePathStyle = true
		}
	})
	return storage.NewS3Archiver(client, cfg.Archive.Bucket, cfg.Archive.Prefix), nil
}
