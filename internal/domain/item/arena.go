package item

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/kailas-cloud/mapcluster/internal/domain"
)

// GeneratedIDBase is the first id of items produced by clustering (markers and
// derived copies). Ids below it belong to caller-supplied items. Both ranges
// stay below 2^53 so ids survive a round trip through JSON numbers.
const GeneratedIDBase ID = 1 << 52

// Generated reports whether id belongs to an item produced by clustering.
func (id ID) Generated() bool { return id >= GeneratedIDBase }

// Arena owns items and assigns their ids. Parent/child links are stored as ids
// and resolved through the arena, so re-parenting never creates reference cycles.
// An Arena is not safe for concurrent use.
type Arena struct {
	items         map[ID]*Item
	nextID        ID
	nextGenerated ID
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{items: make(map[ID]*Item), nextID: 1, nextGenerated: GeneratedIDBase}
}

// New validates spec and stores a new item under a fresh id. Synthetic items
// get ids from the generated range.
func (a *Arena) New(spec Spec) (*Item, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return a.store(spec, spec.Synthetic), nil
}

func (a *Arena) store(spec Spec, generated bool) *Item {
	var id ID
	if generated {
		id = a.nextGenerated
		a.nextGenerated++
	} else {
		id = a.nextID
		a.nextID++
	}
	it := newItem(id, spec)
	a.items[id] = it
	return it
}

// Advance moves the id counters past every id other has handed out, so
// neither a nor its later clones reuse them.
func (a *Arena) Advance(other *Arena) {
	a.nextID = max(a.nextID, other.nextID)
	a.nextGenerated = max(a.nextGenerated, other.nextGenerated)
}

// Restore stores an item under a caller-chosen id, used when reloading a
// catalog or storing items whose ids were allocated elsewhere.
func (a *Arena) Restore(id ID, spec Spec) (*Item, error) {
	if id == 0 || id.Generated() {
		return nil, fmt.Errorf("item id %d: %w", id, domain.ErrInvalidArgument)
	}
	if _, ok := a.items[id]; ok {
		return nil, fmt.Errorf("item %d: %w", id, domain.ErrAlreadyExists)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	it := newItem(id, spec)
	a.items[id] = it
	if id >= a.nextID {
		a.nextID = id + 1
	}
	return it, nil
}

// Get returns the item with the given id.
func (a *Arena) Get(id ID) (*Item, bool) {
	it, ok := a.items[id]
	return it, ok
}

// Delete drops an item and detaches it from its parent and children.
func (a *Arena) Delete(id ID) bool {
	it, ok := a.items[id]
	if !ok {
		return false
	}
	if p, ok := a.items[it.parent]; ok {
		p.children = removeID(p.children, id)
	}
	for _, c := range it.children {
		if child, ok := a.items[c]; ok && child.parent == id {
			child.parent = 0
		}
	}
	delete(a.items, id)
	return true
}

// Len returns the number of items in the arena.
func (a *Arena) Len() int { return len(a.items) }

// All returns every item ordered by id.
func (a *Arena) All() []*Item {
	out := make([]*Item, 0, len(a.items))
	for _, it := range a.items {
		out = append(out, it)
	}
	slices.SortFunc(out, func(x, y *Item) int { return cmp.Compare(x.id, y.id) })
	return out
}

// Derive stores a copy of src restricted to [minZoom, maxZoom] under a
// generated id. The copy keeps src's location, footprint and payload and
// remembers src's source id.
func (a *Arena) Derive(src *Item, minZoom, maxZoom int) (*Item, error) {
	spec := src.Spec()
	spec.MinZoom, spec.MaxZoom = minZoom, maxZoom
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("derive item %d: %w", src.id, err)
	}
	it := a.store(spec, true)
	it.source = src.source
	return it, nil
}

// Link records child as standing in under parent. A child already linked
// elsewhere is moved.
func (a *Arena) Link(parent, child ID) error {
	p, ok := a.items[parent]
	if !ok {
		return fmt.Errorf("parent %d: %w", parent, domain.ErrNotFound)
	}
	c, ok := a.items[child]
	if !ok {
		return fmt.Errorf("child %d: %w", child, domain.ErrNotFound)
	}
	if parent == child {
		return fmt.Errorf("link %d to itself: %w", parent, domain.ErrInvalidArgument)
	}
	if c.parent == parent {
		return nil
	}
	if old, ok := a.items[c.parent]; ok {
		old.children = removeID(old.children, child)
	}
	c.parent = parent
	p.children = append(p.children, child)
	return nil
}

// Reparent moves every child of from under to.
func (a *Arena) Reparent(from, to ID) error {
	f, ok := a.items[from]
	if !ok {
		return fmt.Errorf("item %d: %w", from, domain.ErrNotFound)
	}
	if _, ok := a.items[to]; !ok {
		return fmt.Errorf("item %d: %w", to, domain.ErrNotFound)
	}
	for _, c := range append([]ID(nil), f.children...) {
		if err := a.Link(to, c); err != nil {
			return err
		}
	}
	return nil
}

// Leaves returns the non-synthetic items reachable from id through children
// links, including id itself when it is not synthetic. Order is depth-first.
func (a *Arena) Leaves(id ID) []*Item {
	var out []*Item
	stack := []ID{id}
	seen := make(map[ID]struct{})
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}

		it, ok := a.items[cur]
		if !ok {
			continue
		}
		if !it.synthetic {
			out = append(out, it)
		}
		for i := len(it.children) - 1; i >= 0; i-- {
			stack = append(stack, it.children[i])
		}
	}
	return out
}

// LeafCount returns the number of distinct source items under id.
func (a *Arena) LeafCount(id ID) int {
	sources := make(map[ID]struct{})
	for _, it := range a.Leaves(id) {
		sources[it.source] = struct{}{}
	}
	return len(sources)
}

// Clone returns a deep copy with the same ids. In-view flags are reset.
func (a *Arena) Clone() *Arena {
	c := &Arena{items: make(map[ID]*Item, len(a.items)), nextID: a.nextID, nextGenerated: a.nextGenerated}
	for id, it := range a.items {
		cp := *it
		cp.inView = false
		cp.children = append([]ID(nil), it.children...)
		c.items[id] = &cp
	}
	return c
}

func removeID(ids []ID, id ID) []ID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
