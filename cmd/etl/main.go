// cmd/etl/main.go

// Command etl runs one ingestion pass: a CSV of raw trips in, cleaned and
// derived rows in the sink, rejects in the exclusion log, and a JSON run
// summary on stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/urbanmetrics/trip-ingress/pkg/config"
	"github.com/urbanmetrics/trip-ingress/pkg/connector"
	"github.com/urbanmetrics/trip-ingress/pkg/etl"
	"github.com/urbanmetrics/trip-ingress/pkg/exclusion"
	"github.com/urbanmetrics/trip-ingress/pkg/loader"
	"github.com/urbanmetrics/trip-ingress/pkg/logging"
	"github.com/urbanmetrics/trip-ingress/pkg/source"
	"github.com/urbanmetrics/trip-ingress/pkg/validate"
)

func main() {
	// A missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	flag.StringVar(&cfg.InputPath, "input", cfg.InputPath, "path to the input CSV")
	flag.StringVar(&cfg.Table, "table", cfg.Table, "target trips table")
	flag.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "rows per read chunk")
	flag.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "rows per insert batch")
	flag.StringVar(&cfg.DistanceUnit, "distance-unit", cfg.DistanceUnit, "unit of the source distance column (km or mi)")
	flag.BoolVar(&cfg.UseSourceDistance, "use-source-distance", cfg.UseSourceDistance, "trust the source distance column when present")
	flag.StringVar(&cfg.ExclusionLogPath, "exclusion-log", cfg.ExclusionLogPath, "path to the exclusion log CSV")
	flag.BoolVar(&cfg.OverwriteExclusionLog, "overwrite-log", cfg.OverwriteExclusionLog, "truncate the exclusion log instead of appending")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	logger, err := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := connector.Open(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to sink", zap.Error(err))
		return err
	}
	defer db.Close()

	if err := connector.EnsureSchema(ctx, db, cfg.Database.Driver, cfg.Table); err != nil {
		logger.Error("Failed to ensure sink schema", zap.Error(err))
		return err
	}

	src, err := source.OpenCSV(cfg.InputPath, cfg.ChunkSize)
	if err != nil {
		logger.Error("Failed to open source", zap.String("input", cfg.InputPath), zap.Error(err))
		return err
	}
	defer src.Close()

	var excl *exclusion.Logger
	excl, err = exclusion.Open(cfg.ExclusionLogPath, cfg.OverwriteExclusionLog)
	if err != nil {
		// The audit trail is best-effort; the run proceeds without it.
		logger.Warn("Exclusion log unavailable, rejects will only be counted",
			zap.String("path", cfg.ExclusionLogPath), zap.Error(err))
		excl = nil
	} else {
		defer excl.Close()
	}

	validator := validate.NewValidator(
		validate.WithDistanceUnit(cfg.DistanceUnit),
		validate.WithSourceDistance(cfg.UseSourceDistance),
	)
	batchLoader := loader.NewBatchLoader(
		loader.NewSQLSink(db, cfg.Table),
		cfg.BatchSize,
		loader.WithRetry(cfg.RetryAttempts, cfg.RetryDelay),
	)

	runner := etl.NewRunner(
		src, validator, batchLoader, excl,
		cfg.InputPath, cfg.Table, cfg.ExclusionLogPath,
		etl.WithVerifier(etl.NewVerifier(db, cfg.Table)),
	)

	summary, runErr := runner.Run(ctx)

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		logger.Error("Failed to encode run summary", zap.Error(err))
	} else {
		fmt.Println(string(out))
	}

	return runErr
}
