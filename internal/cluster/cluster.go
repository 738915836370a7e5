// Package cluster rewrites a set of map items into a zoom-stratified cluster
// hierarchy. Levels are processed from finest to coarsest: at each level,
// colliding items are grouped, replaced by a synthetic marker visible up to
// that level, and re-inserted with a zoom range starting one level finer.
package cluster

import (
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/mapcluster/internal/domain"
	"github.com/kailas-cloud/mapcluster/internal/domain/geo"
	"github.com/kailas-cloud/mapcluster/internal/domain/item"
	"github.com/kailas-cloud/mapcluster/internal/index/quadtree"
	"github.com/kailas-cloud/mapcluster/internal/kmeans"
)

// Stats summarizes a clustering run.
type Stats struct {
	Input    int
	Output   int
	Levels   int
	Clumps   int
	Splits   int
	Clusters int
	Absorbed int
	Derived  int
	Duration time.Duration
}

// Clusterer builds cluster hierarchies. Markers and derived copies are
// allocated in its arena, so the input items must belong to it.
type Clusterer struct {
	arena              *item.Arena
	seed               uint64
	markerSize         item.Size
	maxClusterSize     int
	meanRepresentative bool
	kmeansOpts         []kmeans.Option
	logger             *zap.Logger
	observer           Observer
}

// New creates a Clusterer over arena.
func New(arena *item.Arena, opts ...Option) *Clusterer {
	c := &Clusterer{
		arena:          arena,
		markerSize:     DefaultMarkerSize,
		maxClusterSize: kmeans.MaxClusterSize,
		logger:         zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Cluster returns the distinct items of the rewritten set: unclustered
// originals, derived copies with narrowed zoom ranges, and synthetic markers.
// Absorbed items stay reachable through the markers' children.
func (c *Clusterer) Cluster(items []*item.Item) ([]*item.Item, error) {
	out, _, err := c.ClusterWithStats(items)
	return out, err
}

// ClusterWithStats is Cluster that also reports run statistics.
func (c *Clusterer) ClusterWithStats(items []*item.Item) ([]*item.Item, Stats, error) {
	start := time.Now()
	stats := Stats{Input: len(items)}

	for _, it := range items {
		if got, ok := c.arena.Get(it.ID()); !ok || got != it {
			return nil, stats, fmt.Errorf("item %d not in arena: %w", it.ID(), domain.ErrNotFound)
		}
	}

	run := &run{
		Clusterer: c,
		tree:      quadtree.New(),
		km:        kmeans.New(c.seed, c.kmeansOpts...),
		stats:     &stats,
	}
	for _, it := range items {
		run.tree.Insert(it)
	}

	for level := run.tree.Depth(); level >= 0; level-- {
		before := stats.Clusters
		if err := run.level(level); err != nil {
			return nil, stats, fmt.Errorf("cluster level %d: %w", level, err)
		}
		stats.Levels++
		if n := stats.Clusters - before; n > 0 {
			c.logger.Debug("level clustered", zap.Int("zoom", level), zap.Int("clusters", n))
		}
	}

	out := run.tree.Items()
	stats.Output = len(out)
	stats.Duration = time.Since(start)

	c.logger.Debug("clustering done",
		zap.Int("input", stats.Input),
		zap.Int("output", stats.Output),
		zap.Int("clusters", stats.Clusters),
		zap.Int("absorbed", stats.Absorbed),
		zap.Duration("duration", stats.Duration),
	)
	if c.observer != nil {
		c.observer.ObserveClustering(stats)
	}
	return out, stats, nil
}

// run holds the state of one Cluster call.
type run struct {
	*Clusterer
	tree  *quadtree.Tree
	km    *kmeans.Clusterer
	stats *Stats
}

// level clusters every node at the given zoom level. Each item joins at most
// one clump per level; markers created here are excluded from later clumps.
func (r *run) level(zoom int) error {
	visited := make(map[item.ID]struct{})
	for _, node := range r.tree.NodesAtZoom(zoom) {
		residents := slices.Clone(node.Items())
		for _, it := range residents {
			if _, ok := visited[it.ID()]; ok {
				continue
			}
			clump, err := r.growClump(it, zoom, visited)
			if err != nil {
				return err
			}
			if len(clump) < 2 {
				continue
			}
			r.stats.Clumps++

			groups, err := r.split(clump, zoom)
			if err != nil {
				return err
			}
			for _, g := range groups {
				for _, cl := range r.sweep(g, zoom) {
					marker, err := r.merge(cl, zoom)
					if err != nil {
						return err
					}
					visited[marker.ID()] = struct{}{}
				}
			}
		}
	}
	return nil
}

// growClump collects the connected component of start under "bounding rects
// intersect at zoom".
func (r *run) growClump(start *item.Item, zoom int, visited map[item.ID]struct{}) ([]*item.Item, error) {
	visited[start.ID()] = struct{}{}
	stack := []*item.Item{start}
	var clump []*item.Item
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		clump = append(clump, it)

		neighbours, err := r.tree.QueryUnique(it.BoundingRect(zoom), zoom)
		if err != nil {
			return nil, err
		}
		for _, nb := range neighbours {
			if _, ok := visited[nb.ID()]; ok {
				continue
			}
			visited[nb.ID()] = struct{}{}
			stack = append(stack, nb)
		}
	}
	return clump, nil
}

// split breaks an oversized clump into k-means groups.
func (r *run) split(clump []*item.Item, zoom int) ([][]*item.Item, error) {
	if len(clump) <= r.maxClusterSize {
		return [][]*item.Item{clump}, nil
	}
	r.stats.Splits++

	points := make([]geo.Point, len(clump))
	for i, it := range clump {
		points[i] = it.BoundingRect(zoom).Centroid()
	}
	idx, err := r.km.Cluster(points, kmeans.SplitCount(len(clump), r.maxClusterSize))
	if err != nil {
		return nil, err
	}
	groups := make([][]*item.Item, 0, len(idx))
	for _, g := range idx {
		members := make([]*item.Item, len(g))
		for i, j := range g {
			members[i] = clump[j]
		}
		groups = append(groups, members)
	}
	return groups, nil
}

// merge replaces the members of cl with a marker visible through zoom.
func (r *run) merge(cl candidateCluster, zoom int) (*item.Item, error) {
	marker, err := r.arena.New(item.Spec{
		Location:  cl.point.ToLocation(),
		Kind:      item.KindFixedScreenSize,
		Origin:    item.OriginCenter,
		Size:      r.markerSize,
		MinZoom:   0,
		MaxZoom:   zoom,
		Synthetic: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create marker: %w", err)
	}
	r.tree.Insert(marker)
	r.stats.Clusters++

	for _, m := range cl.members {
		r.tree.Remove(m)

		if m.MaxZoom() <= zoom {
			if err := r.arena.Link(marker.ID(), m.ID()); err != nil {
				return nil, err
			}
			r.stats.Absorbed++
			continue
		}

		cp, err := r.arena.Derive(m, zoom+1, m.MaxZoom())
		if err != nil {
			return nil, err
		}
		if err := r.arena.Reparent(m.ID(), cp.ID()); err != nil {
			return nil, err
		}
		if err := r.arena.Link(marker.ID(), cp.ID()); err != nil {
			return nil, err
		}
		r.tree.Insert(cp)
		r.stats.Derived++
	}
	return marker, nil
}
