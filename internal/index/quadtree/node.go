package quadtree

import (
	"strings"

	"github.com/kailas-cloud/mapcluster/internal/domain/geo"
	"github.com/kailas-cloud/mapcluster/internal/domain/item"
)

// Node is one tile of the tree. Its zoom level equals its depth and its box is
// one quadrant of its parent's box. Children are created on demand and never pruned.
type Node struct {
	box      geo.Box
	zoom     int
	x, y     uint32
	parent   *Node
	children [4]*Node

	items []*item.Item
	index map[item.ID]int
}

func newRoot() *Node {
	return &Node{box: geo.UnitBox}
}

// ensureChild returns child i, creating it if needed.
func (n *Node) ensureChild(i int) (*Node, bool) {
	if c := n.children[i]; c != nil {
		return c, false
	}
	c := &Node{
		box:    n.box.Quadrant(i),
		zoom:   n.zoom + 1,
		x:      n.x*2 + uint32(i%2),
		y:      n.y*2 + uint32(i/2),
		parent: n,
	}
	n.children[i] = c
	return c, true
}

// add registers it at this node. It reports false if it was already present.
func (n *Node) add(it *item.Item) bool {
	if n.index == nil {
		n.index = make(map[item.ID]int)
	}
	if _, ok := n.index[it.ID()]; ok {
		return false
	}
	n.index[it.ID()] = len(n.items)
	n.items = append(n.items, it)
	return true
}

// remove unregisters it from this node.
func (n *Node) remove(it *item.Item) bool {
	i, ok := n.index[it.ID()]
	if !ok {
		return false
	}
	last := len(n.items) - 1
	if i != last {
		n.items[i] = n.items[last]
		n.index[n.items[i].ID()] = i
	}
	n.items[last] = nil
	n.items = n.items[:last]
	delete(n.index, it.ID())
	return true
}

// Items returns the items resident at this node. The slice must not be modified
// and is invalidated by the next tree mutation.
func (n *Node) Items() []*item.Item { return n.items }

// Len returns the number of resident items.
func (n *Node) Len() int { return len(n.items) }

// Box returns the node's area in normalized mercator space.
func (n *Node) Box() geo.Box { return n.box }

// Zoom returns the node's zoom level (its depth).
func (n *Node) Zoom() int { return n.zoom }

// Tile returns the node's tile coordinates at its zoom level.
func (n *Node) Tile() (x, y uint32) { return n.x, n.y }

// Parent returns the enclosing node, nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Child returns quadrant i (0 NW, 1 NE, 2 SW, 3 SE), or nil if never created.
func (n *Node) Child(i int) *Node { return n.children[i] }

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return n.children == [4]*Node{}
}

// QuadKey returns the tile's quadkey: one base-4 digit per level, empty for the root.
func (n *Node) QuadKey() string {
	var b strings.Builder
	b.Grow(n.zoom)
	for i := n.zoom; i > 0; i-- {
		mask := uint32(1) << (i - 1)
		digit := byte('0')
		if n.x&mask != 0 {
			digit++
		}
		if n.y&mask != 0 {
			digit += 2
		}
		b.WriteByte(digit)
	}
	return b.String()
}
