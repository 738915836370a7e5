package layer

import (
	"github.com/kailas-cloud/mapcluster/internal/domain/geo"
	"github.com/kailas-cloud/mapcluster/internal/domain/item"
	"github.com/kailas-cloud/mapcluster/internal/index/quadtree"
)

// Snapshot is the item set a layer serves at one revision. It is never
// mutated after it is built, so readers share it without locking; viewport
// sessions work on a Fork.
type Snapshot struct {
	layer     string
	revision  int
	clustered bool
	arena     *item.Arena
	items     []*item.Item
	tree      *quadtree.Tree
}

func newSnapshot(layer string, revision int, clustered bool, arena *item.Arena, items []*item.Item) *Snapshot {
	tree := quadtree.New()
	for _, it := range items {
		tree.Insert(it)
	}
	return &Snapshot{
		layer:     layer,
		revision:  revision,
		clustered: clustered,
		arena:     arena,
		items:     items,
		tree:      tree,
	}
}

// Layer returns the layer name.
func (s *Snapshot) Layer() string { return s.layer }

// Revision returns the layer revision the snapshot was built from.
func (s *Snapshot) Revision() int { return s.revision }

// Clustered reports whether the items went through clustering.
func (s *Snapshot) Clustered() bool { return s.clustered }

// Len returns the number of served items.
func (s *Snapshot) Len() int { return len(s.items) }

// Items returns the served items. Callers must not mutate them.
func (s *Snapshot) Items() []*item.Item { return s.items }

// LeafCount returns the number of source items represented by id.
func (s *Snapshot) LeafCount(id item.ID) int { return s.arena.LeafCount(id) }

// Query returns the served items whose footprint intersects viewport at zoom.
func (s *Snapshot) Query(viewport geo.Rect, zoom int) ([]*item.Item, error) {
	return s.tree.QueryUnique(viewport, zoom)
}

// Fork returns private copies of the served items, with their own arena,
// for a caller that tracks visibility on them.
func (s *Snapshot) Fork() (*item.Arena, []*item.Item) {
	arena := s.arena.Clone()
	items := make([]*item.Item, 0, len(s.items))
	for _, it := range s.items {
		cp, _ := arena.Get(it.ID())
		items = append(items, cp)
	}
	return arena, items
}
