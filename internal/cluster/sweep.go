package cluster

import (
	"cmp"
	"math"
	"slices"

	"github.com/kailas-cloud/mapcluster/internal/domain/geo"
	"github.com/kailas-cloud/mapcluster/internal/domain/item"
)

// gridSpacingFactor scales an item's width into the spacing of the grid used
// to order sweep seeds.
const gridSpacingFactor = 1.5

type candidateCluster struct {
	members []*item.Item
	point   geo.Point
}

type sweepEntry struct {
	it   *item.Item
	rect geo.Rect
	key  float64
}

// gridKey is the squared distance from p to the nearest node of a grid with
// the given spacing. It orders seeds so that sweeps start from items close to
// grid nodes, which keeps marker placement stable across runs.
func gridKey(p geo.Point, spacing float64) float64 {
	if !(spacing > 0) {
		return 0
	}
	axis := func(v float64) float64 {
		m := math.Mod(v, spacing)
		return min(m, spacing-m)
	}
	dx, dy := axis(p.X), axis(p.Y)
	return dx*dx + dy*dy
}

// sweep splits a group into final clusters: the remaining item with the
// smallest grid key seeds a cluster with every remaining item it intersects.
// Clusters of one item are dropped.
func (r *run) sweep(group []*item.Item, zoom int) []candidateCluster {
	remaining := make([]sweepEntry, len(group))
	for i, it := range group {
		rect := it.BoundingRect(zoom)
		remaining[i] = sweepEntry{
			it:   it,
			rect: rect,
			key:  gridKey(rect.Centroid(), gridSpacingFactor*rect.Width()),
		}
	}
	slices.SortFunc(remaining, func(a, b sweepEntry) int {
		if c := cmp.Compare(b.key, a.key); c != 0 {
			return c
		}
		return cmp.Compare(b.it.ID(), a.it.ID())
	})

	var out []candidateCluster
	for len(remaining) > 0 {
		seed := remaining[len(remaining)-1]
		remaining = remaining[:len(remaining)-1]

		members := []*item.Item{seed.it}
		kept := remaining[:0]
		for _, e := range remaining {
			if e.rect.Intersects(seed.rect) {
				members = append(members, e.it)
			} else {
				kept = append(kept, e)
			}
		}
		remaining = kept

		if len(members) < 2 {
			continue
		}
		point := seed.rect.Centroid()
		if r.meanRepresentative {
			point = representative(members, zoom)
		}
		out = append(out, candidateCluster{members: members, point: point})
	}
	return out
}

// representative returns the footprint center of the member nearest the
// members' mean projected location.
func representative(members []*item.Item, zoom int) geo.Point {
	var mean geo.Point
	for _, m := range members {
		p := m.Point()
		mean.X += p.X
		mean.Y += p.Y
	}
	mean.X /= float64(len(members))
	mean.Y /= float64(len(members))

	best := members[0].BoundingRect(zoom).Centroid()
	bestDist := mean.DistanceSquared(best)
	for _, m := range members[1:] {
		c := m.BoundingRect(zoom).Centroid()
		if d := mean.DistanceSquared(c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
