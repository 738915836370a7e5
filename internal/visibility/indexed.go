package visibility

import (
	"maps"
	"slices"

	"github.com/kailas-cloud/mapcluster/internal/domain/geo"
	"github.com/kailas-cloud/mapcluster/internal/domain/item"
	"github.com/kailas-cloud/mapcluster/internal/index/quadtree"
)

// Indexed answers visibility updates from a quadtree.
type Indexed struct {
	tree    *quadtree.Tree
	visible map[item.ID]*item.Item
	next    map[item.ID]*item.Item
}

var _ Set = (*Indexed)(nil)

// NewIndexed creates an empty indexed set.
func NewIndexed() *Indexed {
	return &Indexed{
		tree:    quadtree.New(),
		visible: make(map[item.ID]*item.Item),
		next:    make(map[item.ID]*item.Item),
	}
}

// Add inserts it into the index.
func (s *Indexed) Add(it *item.Item) bool {
	return s.tree.Insert(it)
}

// Remove hides it and removes it from the index.
func (s *Indexed) Remove(it *item.Item) (bool, []Change) {
	var changes []Change
	if it.SetInView(false) {
		changes = append(changes, Change{ID: it.ID(), Item: it, Visible: false})
	}
	delete(s.visible, it.ID())
	return s.tree.Remove(it), changes
}

// UpdateVisibility queries the index and diffs the result against the
// previous visible set.
func (s *Indexed) UpdateVisibility(viewport geo.Rect, zoom int) ([]Change, error) {
	if err := validate(viewport, zoom); err != nil {
		return nil, err
	}
	if emptyViewport(viewport) {
		return s.ClearVisibility(), nil
	}

	seq, err := s.tree.Query(viewport, zoom)
	if err != nil {
		return nil, err
	}
	clear(s.next)
	for it := range seq {
		s.next[it.ID()] = it
	}

	var changes []Change
	for id, it := range s.visible {
		if _, ok := s.next[id]; !ok && it.SetInView(false) {
			changes = append(changes, Change{ID: id, Item: it, Visible: false})
		}
	}
	for id, it := range s.next {
		if _, ok := s.visible[id]; !ok && it.SetInView(true) {
			changes = append(changes, Change{ID: id, Item: it, Visible: true})
		}
	}
	s.visible, s.next = s.next, s.visible
	return sortChanges(changes), nil
}

// ClearVisibility hides every visible item.
func (s *Indexed) ClearVisibility() []Change {
	changes := make([]Change, 0, len(s.visible))
	for id, it := range s.visible {
		if it.SetInView(false) {
			changes = append(changes, Change{ID: id, Item: it, Visible: false})
		}
	}
	clear(s.visible)
	return sortChanges(changes)
}

// Visible returns the visible items ordered by id.
func (s *Indexed) Visible() []*item.Item {
	return sortItems(slices.Collect(maps.Values(s.visible)))
}

// Len returns the number of indexed items.
func (s *Indexed) Len() int { return s.tree.Len() }

// Tree exposes the underlying index for read-only queries.
func (s *Indexed) Tree() *quadtree.Tree { return s.tree }
