package viewport

import (
	"github.com/kailas-cloud/mapcluster/internal/usecase/layer"
)

// SnapshotSource provides the snapshot a layer currently serves.
type SnapshotSource interface {
	Snapshot(name string) (*layer.Snapshot, error)
}
