package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"learner-analytics-pipeline/internal/config"
	"learner-analytics-pipeline/internal/metrics"
	"learner-analytics-pipeline/internal/model"
	"learner-analytics-pipeline/internal/pipeline"
	"learner-analytics-pipeline/internal/seed"
	"learner-analytics-pipeline/internal/store"
	"learner-analytics-pipeline/internal/zones"
	"learner-analytics-pipeline/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runCmd(os.Args[2:]))
	case "seed":
		os.Exit(seedCmd(os.Args[2:]))
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pipeline <run|seed> [flags]")
	fmt.Fprintln(os.Stderr, "  run  -date YYYY-MM-DD [-force] [-config path]   execute a full run")
	fmt.Fprintln(os.Stderr, "  seed -date YYYY-MM-DD [-seed n] [-config path]  deposit synthetic raw batches")
}

func runCmd(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	date := fs.String("date", time.Now().UTC().Format("2006-01-02"), "logical date to run for")
	force := fs.Bool("force", false, "regenerate even if the date already succeeded")
	configPath := fs.String("config", "config.yaml", "config file path")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zoneStore, err := openZones(ctx, cfg)
	if err != nil {
		log.Errorw("open zones", "error", err)
		return 1
	}
	runs, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Errorw("open run store", "error", err)
		return 1
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

	manifest, err := orch.Trigger(ctx, *date, *force)
	if err != nil {
		log.Errorw("run failed", "logical_date", *date, "error", err)
		return 1
	}
	log.Infow("run finished",
		"run_id", manifest.RunID,
		"state", manifest.State,
		"records_in", manifest.RecordsIn,
		"records_out", manifest.RecordsOut,
		"rejections", manifest.Rejections,
	)
	if manifest.State != model.RunSucceeded {
		return 1
	}
	return 0
}

func seedCmd(args []string) int {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	date := fs.String("date", time.Now().UTC().Format("2006-01-02"), "logical date to seed")
	seedVal := fs.Int64("seed", 42, "random seed")
	configPath := fs.String("config", "config.yaml", "config file path")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zoneStore, err := openZones(ctx, cfg)
	if err != nil {
		log.Errorw("open zones", "error", err)
		return 1
	}

	gen := seed.New(zoneStore, *seedVal)
	if err := gen.Generate(ctx, *date); err != nil {
		log.Errorw("seeding failed", "logical_date", *date, "error", err)
		return 1
	}
	log.Infow("raw batches seeded", "logical_date", *date, "seed", *seedVal)
	return 0
}

func openZones(ctx context.Context, cfg *config.Config) (zones.Store, error) {
	if cfg.ZoneBackend == "minio" {
		return zones.NewMinioStore(ctx, cfg.Minio)
	}
	return zones.NewLocalStore(cfg.ZoneRoot)
}
