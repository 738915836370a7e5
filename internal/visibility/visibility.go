// Package visibility tracks which map items are inside the current viewport and
// reports only the items whose in-view state flipped between updates.
package visibility

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/kailas-cloud/mapcluster/internal/domain"
	"github.com/kailas-cloud/mapcluster/internal/domain/geo"
	"github.com/kailas-cloud/mapcluster/internal/domain/item"
)

// Change is one in-view transition.
type Change struct {
	ID      item.ID    `json:"id"`
	Item    *item.Item `json:"-"`
	Visible bool       `json:"visible"`
}

// Set is a collection of items with viewport-driven visibility.
type Set interface {
	// Add inserts it without touching its visibility until the next update.
	Add(it *item.Item) bool
	// Remove hides it if needed and drops it from the set.
	Remove(it *item.Item) (bool, []Change)
	// UpdateVisibility recomputes the visible set for viewport at zoom.
	UpdateVisibility(viewport geo.Rect, zoom int) ([]Change, error)
	// ClearVisibility hides every visible item.
	ClearVisibility() []Change
	// Visible returns the visible items ordered by id.
	Visible() []*item.Item
	// Len returns the number of items in the set.
	Len() int
}

// emptyViewport reports a viewport with no area, which hides everything.
func emptyViewport(r geo.Rect) bool {
	return !(r.Width() > 0) || !(r.Height() > 0)
}

func validate(viewport geo.Rect, zoom int) error {
	if zoom < 0 {
		return fmt.Errorf("zoom %d: %w", zoom, domain.ErrInvalidZoomLevel)
	}
	if emptyViewport(viewport) {
		return nil
	}
	if !viewport.IntersectsBox(geo.UnitBox) {
		return fmt.Errorf("viewport %v: %w", viewport, domain.ErrOutOfRange)
	}
	return nil
}

func sortChanges(changes []Change) []Change {
	slices.SortFunc(changes, func(a, b Change) int { return cmp.Compare(a.ID, b.ID) })
	return changes
}

func sortItems(items []*item.Item) []*item.Item {
	slices.SortFunc(items, func(a, b *item.Item) int { return cmp.Compare(a.ID(), b.ID()) })
	return items
}

// DiscreteZoom maps a fractional map zoom to the integer level used for queries:
// values within 1e-4 of an integer round to it, anything else rounds up.
func DiscreteZoom(z float64) int {
	r := math.Round(z)
	if math.Abs(z-r) < 1e-4 {
		return int(r)
	}
	return int(math.Ceil(z))
}
