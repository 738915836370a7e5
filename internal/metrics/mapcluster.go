package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kailas-cloud/mapcluster/internal/cluster"
)

// Clustering and visibility Prometheus metrics.
var (
	VisibilityUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mapcluster",
			Name:      "visibility_updates_total",
			Help:      "Total number of viewport updates",
		},
		[]string{"layer"},
	)

	VisibilityChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mapcluster",
			Name:      "visibility_changes_total",
			Help:      "Total number of item visibility flips reported to clients",
		},
		[]string{"layer", "visible"},
	)

	ClusterDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mapcluster",
			Name:      "cluster_duration_seconds",
			Help:      "Clustering run duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"layer"},
	)

	ClustersCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mapcluster",
			Name:      "clusters_created_total",
			Help:      "Total number of cluster markers created",
		},
		[]string{"layer"},
	)

	ClusterSplitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mapcluster",
			Name:      "cluster_splits_total",
			Help:      "Total number of oversized clumps split by k-means",
		},
		[]string{"layer"},
	)

	LayerItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mapcluster",
			Name:      "layer_items",
			Help:      "Number of items served per layer",
		},
		[]string{"layer", "state"}, // "raw" / "served"
	)

	ViewportSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mapcluster",
			Name:      "viewport_sessions",
			Help:      "Number of open viewport sessions",
		},
	)
)

var mapclusterMetricsRegistered bool

// RegisterMapclusterMetrics registers clustering, visibility and HTTP metrics on the default
// registry. Must be called once from main.
func RegisterMapclusterMetrics() {
	if mapclusterMetricsRegistered {
		return
	}
	prometheus.MustRegister(VisibilityUpdatesTotal)
	prometheus.MustRegister(VisibilityChangesTotal)
	prometheus.MustRegister(ClusterDuration)
	prometheus.MustRegister(ClustersCreatedTotal)
	prometheus.MustRegister(ClusterSplitsTotal)
	prometheus.MustRegister(LayerItems)
	prometheus.MustRegister(ViewportSessions)
	registerHTTPMetrics()
	mapclusterMetricsRegistered = true
}

// ObserveVisibility records one viewport update of a layer.
func ObserveVisibility(layer string, shown, hidden int) {
	VisibilityUpdatesTotal.WithLabelValues(layer).Inc()
	if shown > 0 {
		VisibilityChangesTotal.WithLabelValues(layer, "true").Add(float64(shown))
	}
	if hidden > 0 {
		VisibilityChangesTotal.WithLabelValues(layer, "false").Add(float64(hidden))
	}
}

// ClusterObserver reports clustering runs of one layer.
type ClusterObserver struct {
	Layer string
}

var _ cluster.Observer = ClusterObserver{}

// ObserveClustering implements cluster.Observer.
func (o ClusterObserver) ObserveClustering(s cluster.Stats) {
	ClusterDuration.WithLabelValues(o.Layer).Observe(s.Duration.Seconds())
	ClustersCreatedTotal.WithLabelValues(o.Layer).Add(float64(s.Clusters))
	ClusterSplitsTotal.WithLabelValues(o.Layer).Add(float64(s.Splits))
	LayerItems.WithLabelValues(o.Layer, "raw").Set(float64(s.Input))
	LayerItems.WithLabelValues(o.Layer, "served").Set(float64(s.Output))
}
