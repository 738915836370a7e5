package mapcluster

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	driver   string // "valkey" or "redis"
	addrs    []string
	password string

	keyPrefix string
	layers    []string

	seed               uint64
	markerWidth        float64
	markerHeight       float64
	maxClusterSize     int
	maxRestarts        int
	meanRepresentative bool
	onWrite            bool
	maxBatchSize       int

	maxSessions int
	sessionTTL  time.Duration

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

func defaultConfig() *clientConfig {
	return &clientConfig{
		keyPrefix:      "mapcluster:",
		seed:           1,
		markerWidth:    40,
		markerHeight:   40,
		maxClusterSize: 50,
		maxRestarts:    8,
		onWrite:        true,
		maxBatchSize:   1000,
		maxSessions:    1000,
		sessionTTL:     15 * time.Minute,
	}
}

// WithValkey configures the client to connect to a Valkey instance.
func WithValkey(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "valkey"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithRedis configures the client to connect to a Redis instance.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithKeyPrefix sets the storage key prefix. Default: "mapcluster:".
func WithKeyPrefix(prefix string) Option {
	return optionFunc(func(c *clientConfig) {
		c.keyPrefix = prefix
	})
}

// WithLayers names layers to create at startup if storage does not have them.
func WithLayers(names ...string) Option {
	return optionFunc(func(c *clientConfig) {
		c.layers = append(c.layers, names...)
	})
}

// WithSeed fixes the k-means seed. The same items and seed always produce
// the same clusters.
func WithSeed(seed uint64) Option {
	return optionFunc(func(c *clientConfig) {
		c.seed = seed
	})
}

// WithMarkerSize sets the on-screen size of cluster markers in pixels.
// Default: 40x40.
func WithMarkerSize(width, height float64) Option {
	return optionFunc(func(c *clientConfig) {
		c.markerWidth = width
		c.markerHeight = height
	})
}

// WithMaxClusterSize bounds how many items k-means may put into one cluster.
// Default: 50.
func WithMaxClusterSize(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.maxClusterSize = n
	})
}

// WithMaxRestarts bounds k-means reseeding attempts. Default: 8.
func WithMaxRestarts(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.maxRestarts = n
	})
}

// WithMeanRepresentative places cluster markers at the mean of their members
// instead of the member nearest to it.
func WithMeanRepresentative() Option {
	return optionFunc(func(c *clientConfig) {
		c.meanRepresentative = true
	})
}

// WithManualClustering disables re-clustering after every write.
// Mutations then mark the layer stale until Layers().Cluster is called.
func WithManualClustering() Option {
	return optionFunc(func(c *clientConfig) {
		c.onWrite = false
	})
}

// WithMaxBatchSize sets the maximum number of items per AddItems call.
// Default: 1000.
func WithMaxBatchSize(size int) Option {
	return optionFunc(func(c *clientConfig) {
		c.maxBatchSize = size
	})
}

// WithSessions sets the viewport session limit and idle TTL.
// Defaults: 1000 sessions, 15 minutes.
func WithSessions(maxSessions int, ttl time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.maxSessions = maxSessions
		c.sessionTTL = ttl
	})
}

// WithLogger enables structured logging for SDK operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
