// Command mapcluster-import loads points of interest from parquet files into
// a layer. Progress is kept in a cursor file so an interrupted import resumes
// where it stopped. Running servers pick the items up on their next start.
//
// Usage:
//
//	mapcluster-import -layer pois -data-dir /data/places -batch-size 1000
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/mapcluster/internal/config"
	dbRedis "github.com/kailas-cloud/mapcluster/internal/db/redis"
	"github.com/kailas-cloud/mapcluster/internal/domain/geo"
	"github.com/kailas-cloud/mapcluster/internal/domain/item"
	logpkg "github.com/kailas-cloud/mapcluster/internal/logger"
	layerrepo "github.com/kailas-cloud/mapcluster/internal/repository/layer"
	layeruc "github.com/kailas-cloud/mapcluster/internal/usecase/layer"
	"github.com/kailas-cloud/mapcluster/internal/version"
)

type flags struct {
	layer       string
	dataDir     string
	idColumn    string
	nameColumn  string
	maxRows     int
	batchSize   int
	origin      string
	width       float64
	height      float64
	minZoom     int
	maxZoom     int
	metricsAddr string
	reset       bool
	version     bool
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.layer, "layer", "", "target layer, created if missing")
	flag.StringVar(&f.dataDir, "data-dir", "/data", "directory with parquet files")
	flag.StringVar(&f.idColumn, "id-column", "fsq_place_id", "column stored as payload id")
	flag.StringVar(&f.nameColumn, "name-column", "name", "column stored as payload name")
	flag.IntVar(&f.maxRows, "max-rows", 0, "max rows to read (0=all)")
	flag.IntVar(&f.batchSize, "batch-size", 1000, "items per write")
	flag.StringVar(&f.origin, "origin", "bottom_center", "position origin of imported pins")
	flag.Float64Var(&f.width, "width", 20, "pin width in pixels")
	flag.Float64Var(&f.height, "height", 20, "pin height in pixels")
	flag.IntVar(&f.minZoom, "min-zoom", 0, "min zoom of imported pins")
	flag.IntVar(&f.maxZoom, "max-zoom", item.MaxZoomLevel, "max zoom of imported pins")
	flag.StringVar(&f.metricsAddr, "metrics-addr", ":9090", "Prometheus metrics address (empty disables)")
	flag.BoolVar(&f.reset, "reset", false, "ignore the cursor and start from the first row")
	flag.BoolVar(&f.version, "version", false, "print version and exit")
	flag.Parse()
	return f
}

func main() {
	_ = godotenv.Load(".env")
	f := parseFlags()
	if f.version {
		fmt.Println("mapcluster-import", version.String())
		return
	}

	env := config.GetEnv()
	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx, f, cfg, logger); err != nil {
		logger.Error("Import failed", zap.Error(err))
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags, cfg config.Config, logger *zap.Logger) error {
	if f.layer == "" {
		return fmt.Errorf("-layer is required")
	}
	if f.batchSize > cfg.Viewport.MaxBatchSize {
		f.batchSize = cfg.Viewport.MaxBatchSize
	}
	if f.batchSize <= 0 {
		return fmt.Errorf("-batch-size must be positive")
	}
	origin, err := item.ParseOrigin(f.origin)
	if err != nil {
		return err
	}
	style := pinStyle{
		Origin:  origin,
		Size:    item.Size{Width: f.width, Height: f.height},
		MinZoom: f.minZoom,
		MaxZoom: f.maxZoom,
	}
	if err := style.spec(geo.Location{}).Validate(); err != nil {
		return fmt.Errorf("pin style: %w", err)
	}

	reg := prometheus.NewRegistry()
	metrics := newImportMetrics(reg)
	if f.metricsAddr != "" {
		srv := serveMetrics(f.metricsAddr, reg, logger)
		defer func() {
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutCancel()
			_ = srv.Shutdown(shutCtx)
		}()
	}

	cursor, err := newCursorTracker(f.dataDir, f.layer)
	if err != nil {
		return err
	}
	if f.reset {
		cursor.Reset()
	}
	if cur := cursor.Get(); cur.Done {
		logger.Info("Import already complete, use -reset to run again", zap.Int("imported", cur.Imported))
		return nil
	}

	reader, err := newParquetReader(f.dataDir, f.idColumn, f.nameColumn)
	if err != nil {
		return err
	}

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	defer store.Close()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}

	// Clustering is left to the servers: writes only mark the layer stale.
	layers := layeruc.New(layerrepo.New(store, cfg.Storage.KeyPrefix), layeruc.Config{
		MaxBatchSize: cfg.Viewport.MaxBatchSize,
	}, logger)
	if err := layers.LoadAll(ctx, []string{f.layer}); err != nil {
		return fmt.Errorf("load layer: %w", err)
	}

	im := &importer{
		items:     layers,
		layer:     f.layer,
		batchSize: f.batchSize,
		style:     style,
		cursor:    cursor,
		metrics:   metrics,
		logger:    logger,
	}
	cur := cursor.Get()
	logger.Info("Import started",
		zap.String("layer", f.layer),
		zap.Int("file", cur.FileIndex),
		zap.Int("row", cur.RowOffset),
		zap.Int("imported", cur.Imported),
	)

	res, err := im.Run(ctx, reader, f.maxRows)
	if err != nil {
		return err
	}
	logger.Info("Import finished",
		zap.String("layer", f.layer),
		zap.Int("imported", res.Imported),
		zap.Int("skipped", res.Skipped),
		zap.Duration("duration", res.Duration.Round(time.Second)),
	)
	return nil
}
