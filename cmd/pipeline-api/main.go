package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "learner-analytics-pipeline/docs" // swagger definition
	"learner-analytics-pipeline/internal/api"
	"learner-analytics-pipeline/internal/api/handler"
	"learner-analytics-pipeline/internal/config"
	"learner-analytics-pipeline/internal/metrics"
	"learner-analytics-pipeline/internal/model"
	"learner-analytics-pipeline/internal/pipeline"
	"learner-analytics-pipeline/internal/store"
	"learner-analytics-pipeline/internal/zones"
	"learner-analytics-pipeline/pkg/logger"
	"learner-analytics-pipeline/pkg/router"
)

// @title Learner Analytics Pipeline API
// @version 1.0
// @description Control and read-side API for the learner analytics pipeline.
// @BasePath /api/v1
func main() {
	configPath := flag.String("config", "config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var zoneStore zones.Store
	if cfg.ZoneBackend == "minio" {
		zoneStore, err = zones.NewMinioStore(ctx, cfg.Minio)
	} else {
		zoneStore, err = zones.NewLocalStore(cfg.ZoneRoot)
	}
	if err != nil {
		log.Fatalw("open zones", "error", err)
	}

	runs, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalw("open run store", "error", err)
	}
	defer runs.Close()

	orch := pipeline.NewOrchestrator(zoneStore, runs, log, metrics.NewDefault())
	orch.NormalizeWorkers = cfg.Workers.Normalize
	orch.CleanWorkers = cfg.Workers.Clean
	orch.Retry = model.RetryPolicy{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		InitialDelay:  cfg.Retry.InitialDelay,
		MaxDelay:      cfg.Retry.MaxDelay,
		BackoffFactor: 2.0,
	}

	h := &handler.Handler{
		Orchestrator: orch,
		Runs:         runs,
		Zones:        zoneStore,
		Log:          log,
	}

	r := router.New(log)
	api.RegisterRoutes(r, h)

	if err := r.Start(ctx, cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
		log.Fatalw("server stopped", "error", err)
	}
	log.Infow("server shut down")
}
