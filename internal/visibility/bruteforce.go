package visibility

import (
	"github.com/kailas-cloud/mapcluster/internal/domain/geo"
	"github.com/kailas-cloud/mapcluster/internal/domain/item"
)

// BruteForce scans every item on each update. It is the reference the indexed
// set is checked against.
type BruteForce struct {
	items map[item.ID]*item.Item
	order []*item.Item
}

var _ Set = (*BruteForce)(nil)

// NewBruteForce creates an empty linear-scan set.
func NewBruteForce() *BruteForce {
	return &BruteForce{items: make(map[item.ID]*item.Item)}
}

// Add appends it to the scan list.
func (s *BruteForce) Add(it *item.Item) bool {
	if _, ok := s.items[it.ID()]; ok {
		return false
	}
	s.items[it.ID()] = it
	s.order = append(s.order, it)
	return true
}

// Remove hides it and drops it from the scan list.
func (s *BruteForce) Remove(it *item.Item) (bool, []Change) {
	var changes []Change
	if it.SetInView(false) {
		changes = append(changes, Change{ID: it.ID(), Item: it, Visible: false})
	}
	if _, ok := s.items[it.ID()]; !ok {
		return false, changes
	}
	delete(s.items, it.ID())
	for i, o := range s.order {
		if o == it {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, changes
}

// UpdateVisibility tests every item against viewport at zoom.
func (s *BruteForce) UpdateVisibility(viewport geo.Rect, zoom int) ([]Change, error) {
	if err := validate(viewport, zoom); err != nil {
		return nil, err
	}
	if emptyViewport(viewport) {
		return s.ClearVisibility(), nil
	}

	var changes []Change
	for _, it := range s.order {
		in := it.VisibleAt(zoom) && it.BoundingRect(zoom).Intersects(viewport)
		if it.SetInView(in) {
			changes = append(changes, Change{ID: it.ID(), Item: it, Visible: in})
		}
	}
	return sortChanges(changes), nil
}

// ClearVisibility hides every visible item.
func (s *BruteForce) ClearVisibility() []Change {
	var changes []Change
	for _, it := range s.order {
		if it.SetInView(false) {
			changes = append(changes, Change{ID: it.ID(), Item: it, Visible: false})
		}
	}
	return sortChanges(changes)
}

// Visible returns the visible items ordered by id.
func (s *BruteForce) Visible() []*item.Item {
	var out []*item.Item
	for _, it := range s.order {
		if it.InView() {
			out = append(out, it)
		}
	}
	return sortItems(out)
}

// Len returns the number of items in the set.
func (s *BruteForce) Len() int { return len(s.order) }
