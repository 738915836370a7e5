package layer

import (
	"context"

	"github.com/kailas-cloud/mapcluster/internal/domain/item"
	domlayer "github.com/kailas-cloud/mapcluster/internal/domain/layer"
)

// Repository defines the storage contract for layers and their raw items.
type Repository interface {
	Create(ctx context.Context, l domlayer.Layer) error
	Save(ctx context.Context, l domlayer.Layer) error
	Get(ctx context.Context, name string) (domlayer.Layer, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
	// ReserveIDs allocates n consecutive item ids and returns the first.
	ReserveIDs(ctx context.Context, name string, n int) (item.ID, error)
	PutItems(ctx context.Context, name string, entries []domlayer.Entry) error
	DeleteItem(ctx context.Context, name string, id item.ID) error
	DeleteItems(ctx context.Context, name string, ids []item.ID) error
	LoadItems(ctx context.Context, name string) ([]domlayer.Entry, error)
}
