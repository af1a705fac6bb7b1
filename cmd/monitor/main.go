package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/sync-conflict-monitor/internal/alerts"
	"github.com/example/sync-conflict-monitor/internal/api"
	"github.com/example/sync-conflict-monitor/internal/archive"
	"github.com/example/sync-conflict-monitor/internal/config"
	"github.com/example/sync-conflict-monitor/internal/feed"
	"github.com/example/sync-conflict-monitor/internal/heartbeat"
	"github.com/example/sync-conflict-monitor/internal/history"
	"github.com/example/sync-conflict-monitor/internal/monitor"
	"github.com/example/sync-conflict-monitor/internal/observability"
	"github.com/example/sync-conflict-monitor/internal/report"
	"github.com/example/sync-conflict-monitor/internal/storage"
)

func main() {
	once := flag.Bool("once", false, "sample sync health once and exit")
	minScore := flag.Float64("min-score", 50, "minimum healthy score for -once mode")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339Nano

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := log.With().Str("app", cfg.AppName).Logger()
	observability.RegisterRuntimeCollectors()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := observability.Start(ctx, observability.Config{
		ServiceName:  cfg.AppName,
		MetricsAddr:  cfg.MetricsAddr,
		OTLPEndpoint: cfg.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer telemetryShutdown(context.Background())

	resources, err := config.NewResources(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize resources")
	}
	defer resources.Close()

	if err := storage.EnsureSchema(ctx, resources.Postgres); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure database schema")
	}
	if err := resources.EnsureBucket(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure archive bucket")
	}

	audit := storage.NewAuditLog(resources.Postgres)
	records := storage.NewRecordStore(resources.Postgres)

	store := history.NewStore(cfg.HistoryCap)
	opSink := storage.NewOperationSink(audit, logger, 0)
	store.Subscribe(opSink.Submit)
	opSink.Start(ctx)

	devices := monitor.NewDeviceRegistry()
	resolver := monitor.NewResolver(records, logger)

	svc := monitor.NewService(store, devices, resolver, audit, logger, monitor.ServiceConfig{
		DetectionWindow: cfg.DetectionWindow,
		HealthWindow:    cfg.HealthWindow,
		HistoryMaxAge:   cfg.HistoryMaxAge,
		ResultRetention: cfg.ResultRetention,
		HealthInterval:  cfg.HealthInterval,
		RescanInterval:  cfg.RescanInterval,
		CleanupInterval: cfg.CleanupInterval,
		PurgeInterval:   cfg.PurgeInterval,
	})
	svc.SetSkewDetector(monitor.NewSkewDetector(cfg.SkewWarning, cfg.SkewCritical))

	if *once {
		runOnce(ctx, svc, logger, *minScore)
		return
	}

	hub := feed.NewHub(logger)
	broadcaster := alerts.NewBroadcaster(resources.Redis, hub, logger)
	broadcaster.Start(ctx)
	svc.AddResultSink(broadcaster.Enqueue)

	heartbeats := heartbeat.NewService(resources.Redis, devices, logger)
	heartbeats.Start(ctx)

	exporter := report.NewExporter(audit, logger)
	archiveWorker := archive.NewWorker(audit, exporter, resources.Object, cfg.ObjectBucket, logger)
	archiveWorker.Start(ctx)

	svc.Run(ctx)

	handler := api.NewHandler(svc, exporter, heartbeats, hub, logger)
	httpServer := &http.Server{Addr: cfg.HTTPListenAddr, Handler: handler}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("http server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server failed")
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.HealthcheckProbe)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := resources.HealthCheck(context.Background()); err != nil {
					logger.Error().Err(err).Msg("dependency healthcheck failed")
				} else {
					logger.Debug().Msg("dependency healthcheck ok")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	logger.Info().Msg("monitor dependencies initialized")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		svc.Drain()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Error().Err(shutdownCtx.Err()).Msg("forced shutdown")
	}
}

// runOnce samples health a single time and exits non-zero when the score is
// below the threshold, for cron-style probes.
func runOnce(ctx context.Context, svc *monitor.Service, logger zerolog.Logger, minScore float64) {
	sampleCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	reportOut := svc.HealthStatus(sampleCtx)
	fmt.Printf("sync health score: %.1f\n", reportOut.Score.Value)
	for _, device := range reportOut.Devices {
		state := "offline"
		if device.IsOnline {
			state = "online"
		}
		fmt.Printf("  %s: %s, pending=%d\n", device.Replica, state, device.PendingCount)
	}

	if reportOut.Score.Value < minScore {
		logger.Error().Float64("score", reportOut.Score.Value).Float64("min", minScore).Msg("sync health below threshold")
		os.Exit(1)
	}
}
