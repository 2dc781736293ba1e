// Command gribidx builds and queries the GRIB forecast index.
//
// Usage:
//
//	gribidx index -db grib_index.sqlite -roots data/cfs
//	gribidx query -db grib_index.sqlite -start 2025-10-04T00:00:00Z -end 2025-10-04T01:00:00Z \
//	  -var t2m -level surface -lat-min 80 -lat-max 81 -lon-min 80 -lon-max 81
//	gribidx serve
//
// index and query are thin flag wrappers over the library; serve reads its
// configuration from the environment and runs the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/couchcryptid/grib-index-service/internal/adapter/grib"
	httpadapter "github.com/couchcryptid/grib-index-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/grib-index-service/internal/adapter/kafka"
	"github.com/couchcryptid/grib-index-service/internal/config"
	"github.com/couchcryptid/grib-index-service/internal/domain"
	"github.com/couchcryptid/grib-index-service/internal/extract"
	"github.com/couchcryptid/grib-index-service/internal/index"
	"github.com/couchcryptid/grib-index-service/internal/observability"
	"github.com/couchcryptid/grib-index-service/internal/query"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: gribidx <index|query|serve> [flags]")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "index":
		err = runIndex(os.Args[2:])
	case "query":
		err = runQuery(os.Args[2:])
	case "serve":
		err = runServe()
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		slog.Error("gribidx failed", "error", err)
		os.Exit(1)
	}
}

func runIndex(args []string) error {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	dbPath := fs.String("db", "./grib_index.sqlite", "SQLite index file to create/update")
	roots := fs.String("roots", "data", "comma-separated directories to scan recursively for .grb2 files")
	files := fs.String("files", "", "comma-separated explicit .grb2 paths to index")
	spatial := fs.Bool("spatial", false, "maintain the per-file bounding-box side table")
	summary := fs.Bool("summary", false, "index one row per (file, variable) instead of per message")
	fs.Parse(args)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	metrics := observability.NewMetrics()

	store, err := index.Open(index.StoreOptions{
		Path:    *dbPath,
		Spatial: *spatial,
		Create:  true,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	extractor := index.NewExtractor(grib.NewCodec(), logger)
	indexer := index.NewIndexer(extractor, store, logger, metrics, index.IndexerOptions{SummaryOnly: *summary})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	indexed, rows, err := indexer.IndexTree(ctx, splitArg(*roots), splitArg(*files))
	if err != nil {
		return err
	}
	logger.Info("indexing done", "files", indexed, "new_rows", rows)
	return nil
}

func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	dbPath := fs.String("db", "./grib_index.sqlite", "SQLite index file")
	startS := fs.String("start", "", "window start, ISO-8601 UTC")
	endS := fs.String("end", "", "window end, ISO-8601 UTC")
	variable := fs.String("var", "", "variable short name, e.g. t2m")
	level := fs.String("level", "surface", "level type, e.g. surface")
	latMin := fs.Float64("lat-min", -90, "bounding box south edge")
	latMax := fs.Float64("lat-max", 90, "bounding box north edge")
	lonMin := fs.Float64("lon-min", 0, "bounding box west edge in [0,360)")
	lonMax := fs.Float64("lon-max", 360, "bounding box east edge in [0,360); below lon-min wraps the seam")
	workers := fs.Int("workers", 8, "extraction worker-pool degree")
	fs.Parse(args)

	start, err := time.Parse(time.RFC3339, *startS)
	if err != nil {
		return fmt.Errorf("-start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, *endS)
	if err != nil {
		return fmt.Errorf("-end: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	metrics := observability.NewMetrics()

	store, err := index.Open(index.StoreOptions{Path: *dbPath, Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()

	engine := extract.New(grib.NewCodec(), logger, metrics, *workers)
	svc := query.New(store, engine, nil, logger, metrics, 0)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bbox := domain.Region{LatMin: *latMin, LatMax: *latMax, LonMin: *lonMin, LonMax: *lonMax}
	points, failed, err := svc.QueryPoints(ctx, start, end, *variable, *level, bbox)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"count":        len(points),
		"failed_files": failed,
		"results":      points,
	})
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	store, err := index.Open(index.StoreOptions{
		Path:        cfg.DBPath,
		Spatial:     cfg.SpatialIndex,
		BusyTimeout: cfg.BusyTimeout,
		BusyRetries: cfg.BusyRetries,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	engine := extract.New(grib.NewCodec(), logger, metrics, cfg.ExtractWorkers)

	// Telemetry is feature-flagged via KAFKA_TELEMETRY_TOPIC / TELEMETRY_ENABLED.
	var telemetry query.TelemetryPublisher
	var telemetryWriter *kafkaadapter.TelemetryWriter
	if cfg.TelemetryEnabled {
		telemetryWriter = kafkaadapter.NewTelemetryWriter(cfg, logger)
		telemetry = telemetryWriter
		logger.Info("query telemetry enabled", "topic", cfg.KafkaTelemetryTopic)
	} else {
		logger.Info("query telemetry disabled")
	}

	maxDelta := time.Duration(cfg.MaxDeltaHours) * time.Hour
	svc := query.New(store, engine, telemetry, logger, metrics, maxDelta)

	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, cfg.QueryTimeout, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if telemetryWriter != nil {
		if err := telemetryWriter.Close(); err != nil {
			logger.Error("telemetry writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

func splitArg(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
