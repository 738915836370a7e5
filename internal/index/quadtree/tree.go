// Package quadtree implements a per-zoom-level spatial index over map items.
//
// A node at depth z covers one zoom-z tile. An item is registered at every node
// of every zoom level in its zoom range whose box overlaps the item's bounding
// rect at that level, so a query at level z never has to consider zoom ranges
// or recompute footprints of items resident elsewhere.
package quadtree

import (
	"fmt"
	"iter"

	"github.com/kailas-cloud/mapcluster/internal/domain"
	"github.com/kailas-cloud/mapcluster/internal/domain/geo"
	"github.com/kailas-cloud/mapcluster/internal/domain/item"
)

// Tree is a quadtree over zoom-ranged items. It is not safe for concurrent use,
// and must not be mutated while a query sequence is being iterated.
type Tree struct {
	root    *Node
	nodes   int
	members map[item.ID]*item.Item
}

// New creates an empty tree holding only the root node.
func New() *Tree {
	return &Tree{
		root:    newRoot(),
		nodes:   1,
		members: make(map[item.ID]*item.Item),
	}
}

// footprints caches an item's bounding rect per zoom level for one traversal.
type footprints struct {
	it    *item.Item
	rects [item.MaxZoomLevel + 1]geo.Rect
	valid [item.MaxZoomLevel + 1]bool
}

func (f *footprints) at(zoom int) geo.Rect {
	if !f.valid[zoom] {
		f.rects[zoom] = f.it.BoundingRect(zoom)
		f.valid[zoom] = true
	}
	return f.rects[zoom]
}

// Insert registers it at every node it covers within its zoom range.
// It returns false if the item was already present.
func (t *Tree) Insert(it *item.Item) bool {
	fp := footprints{it: it}
	minZoom, maxZoom := it.MinZoom(), it.MaxZoom()

	stack := []*Node{t.root}
	attempted := false
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if debug {
			assert(n.zoom <= maxZoom, "node zoom %d above item max %d", n.zoom, maxZoom)
			assert(fp.at(n.zoom).IntersectsBox(n.box), "item %d does not overlap tile %d/%d/%d", it.ID(), n.zoom, n.x, n.y)
		}

		if n.zoom >= minZoom {
			if !n.add(it) && !attempted {
				// Registration is deterministic, so presence here means presence everywhere.
				return false
			}
			attempted = true
		}
		if n.zoom >= maxZoom {
			continue
		}

		r := fp.at(n.zoom + 1)
		for i := range 4 {
			if !r.IntersectsBox(n.box.Quadrant(i)) {
				continue
			}
			c, created := n.ensureChild(i)
			if created {
				t.nodes++
			}
			stack = append(stack, c)
		}
	}

	t.members[it.ID()] = it
	return true
}

// Remove unregisters it from every node. It returns true if any node held it.
func (t *Tree) Remove(it *item.Item) bool {
	fp := footprints{it: it}
	minZoom, maxZoom := it.MinZoom(), it.MaxZoom()

	found := false
	stack := []*Node{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if n.zoom >= minZoom && n.remove(it) {
			found = true
		}
		if n.zoom >= maxZoom {
			continue
		}

		r := fp.at(n.zoom + 1)
		for i, c := range n.children {
			if c != nil && r.IntersectsBox(n.box.Quadrant(i)) {
				stack = append(stack, c)
			}
		}
	}

	delete(t.members, it.ID())
	return found
}

// Contains reports whether it is registered in the tree.
func (t *Tree) Contains(it *item.Item) bool {
	_, ok := t.members[it.ID()]
	return ok
}

// Len returns the number of distinct items in the tree.
func (t *Tree) Len() int { return len(t.members) }

// NodeCount returns the number of nodes created so far.
func (t *Tree) NodeCount() int { return t.nodes }

// Root returns the root node.
func (t *Tree) Root() *Node { return t.root }

func validateQuery(rect geo.Rect, zoom int) error {
	if zoom < 0 {
		return fmt.Errorf("zoom %d: %w", zoom, domain.ErrInvalidZoomLevel)
	}
	if !rect.IntersectsBox(geo.UnitBox) {
		return fmt.Errorf("query %v: %w", rect, domain.ErrOutOfRange)
	}
	return nil
}

// Query returns the items whose bounding rect at zoom overlaps rect. Items
// straddling tile boundaries are yielded once per tile, so the sequence may
// contain duplicates. Every iteration walks the tree with its own stack.
func (t *Tree) Query(rect geo.Rect, zoom int) (iter.Seq[*item.Item], error) {
	if err := validateQuery(rect, zoom); err != nil {
		return nil, err
	}
	return func(yield func(*item.Item) bool) {
		stack := []*Node{t.root}
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if debug {
				assert(rect.IntersectsBox(n.box), "query reached disjoint tile %d/%d/%d", n.zoom, n.x, n.y)
			}

			if n.zoom == zoom {
				for _, it := range n.items {
					if it.BoundingRect(zoom).Intersects(rect) && !yield(it) {
						return
					}
				}
				continue
			}
			for _, c := range n.children {
				if c != nil && rect.IntersectsBox(c.box) {
					stack = append(stack, c)
				}
			}
		}
	}, nil
}

// QueryUnique is Query with duplicates removed, in first-seen order.
func (t *Tree) QueryUnique(rect geo.Rect, zoom int) ([]*item.Item, error) {
	seq, err := t.Query(rect, zoom)
	if err != nil {
		return nil, err
	}
	seen := make(map[item.ID]struct{})
	var out []*item.Item
	for it := range seq {
		if _, ok := seen[it.ID()]; ok {
			continue
		}
		seen[it.ID()] = struct{}{}
		out = append(out, it)
	}
	return out, nil
}

// AllNodes yields every node in pre-order, quadrants in NW, NE, SW, SE order.
func (t *Tree) AllNodes() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		stack := []*Node{t.root}
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !yield(n) {
				return
			}
			for i := 3; i >= 0; i-- {
				if c := n.children[i]; c != nil {
					stack = append(stack, c)
				}
			}
		}
	}
}

// NodesAtZoom returns the nodes at the given zoom level in pre-order.
func (t *Tree) NodesAtZoom(zoom int) []*Node {
	var out []*Node
	for n := range t.AllNodes() {
		if n.zoom == zoom {
			out = append(out, n)
		}
	}
	return out
}

// Depth returns the deepest zoom level that has a node.
func (t *Tree) Depth() int {
	depth := 0
	for n := range t.AllNodes() {
		depth = max(depth, n.zoom)
	}
	return depth
}

// Items returns the distinct items found across all nodes, in first-seen
// pre-order.
func (t *Tree) Items() []*item.Item {
	seen := make(map[item.ID]struct{}, len(t.members))
	out := make([]*item.Item, 0, len(t.members))
	for n := range t.AllNodes() {
		for _, it := range n.items {
			if _, ok := seen[it.ID()]; ok {
				continue
			}
			seen[it.ID()] = struct{}{}
			out = append(out, it)
		}
	}
	return out
}
