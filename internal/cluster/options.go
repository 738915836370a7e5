package cluster

import (
	"go.uber.org/zap"

	"github.com/kailas-cloud/mapcluster/internal/domain/item"
	"github.com/kailas-cloud/mapcluster/internal/kmeans"
)

// DefaultMarkerSize is the pixel size of synthetic cluster markers.
var DefaultMarkerSize = item.Size{Width: 20, Height: 20}

// Observer receives the statistics of every completed clustering run.
type Observer interface {
	ObserveClustering(Stats)
}

// Option configures a Clusterer.
type Option func(*Clusterer)

// WithSeed sets the k-means seed.
func WithSeed(seed uint64) Option {
	return func(c *Clusterer) { c.seed = seed }
}

// WithMarkerSize sets the pixel size of cluster markers.
func WithMarkerSize(size item.Size) Option {
	return func(c *Clusterer) {
		if size.Width > 0 && size.Height > 0 {
			c.markerSize = size
		}
	}
}

// WithMaxClusterSize sets the clump size above which k-means splits a clump.
func WithMaxClusterSize(n int) Option {
	return func(c *Clusterer) {
		if n >= 2 {
			c.maxClusterSize = n
		}
	}
}

// WithKMeansOptions forwards options to the k-means sub-clusterer.
func WithKMeansOptions(opts ...kmeans.Option) Option {
	return func(c *Clusterer) { c.kmeansOpts = append(c.kmeansOpts, opts...) }
}

// WithMeanRepresentative places each marker on the member nearest the
// cluster's center of mass instead of on the sweep seed.
func WithMeanRepresentative() Option {
	return func(c *Clusterer) { c.meanRepresentative = true }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Clusterer) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver registers a statistics observer.
func WithObserver(o Observer) Option {
	return func(c *Clusterer) { c.observer = o }
}
