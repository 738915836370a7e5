package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type importMetrics struct {
	rowsImported  prometheus.Counter
	rowsSkipped   *prometheus.CounterVec
	batchesTotal  prometheus.Counter
	batchDuration prometheus.Histogram
	cursorFile    prometheus.Gauge
}

func newImportMetrics(reg prometheus.Registerer) *importMetrics {
	m := &importMetrics{
		rowsImported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mapcluster_import",
			Name:      "rows_imported_total",
			Help:      "Rows stored as layer items",
		}),
		rowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mapcluster_import",
			Name:      "rows_skipped_total",
			Help:      "Rows not imported",
		}, []string{"reason"}),
		batchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mapcluster_import",
			Name:      "batches_total",
			Help:      "Batches written",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mapcluster_import",
			Name:      "batch_duration_seconds",
			Help:      "Batch write duration",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		cursorFile: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mapcluster_import",
			Name:      "cursor_file_index",
			Help:      "Index of the parquet file being imported",
		}),
	}
	reg.MustRegister(m.rowsImported, m.rowsSkipped, m.batchesTotal, m.batchDuration, m.cursorFile)
	return m
}

// serveMetrics starts an HTTP server for Prometheus scrapes.
func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Metrics server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Metrics server error", zap.Error(err))
		}
	}()
	return srv
}
