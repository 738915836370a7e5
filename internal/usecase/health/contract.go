package health

import "context"

// DBPinger checks database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// LayerLoader reports whether stored layers have been loaded and clustered.
type LayerLoader interface {
	Ready() bool
}
