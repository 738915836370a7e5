// Package kmeans splits a set of 2D points into spatially coherent groups of
// at least two points using Lloyd's algorithm.
package kmeans

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/kailas-cloud/mapcluster/internal/domain"
	"github.com/kailas-cloud/mapcluster/internal/domain/geo"
)

// MaxClusterSize is the target upper bound of points per group.
const MaxClusterSize = 20

const (
	defaultMaxRestarts   = 64
	defaultMaxIterations = 1000
)

// SplitCount returns how many groups n points are split into so that each
// group holds about maxSize points.
func SplitCount(n, maxSize int) int {
	if maxSize <= 0 {
		maxSize = MaxClusterSize
	}
	return (n + maxSize - 1) / maxSize
}

// Clusterer runs seeded k-means. It is not safe for concurrent use.
type Clusterer struct {
	rng           *rand.Rand
	maxRestarts   int
	maxIterations int
}

// Option configures a Clusterer.
type Option func(*Clusterer)

// WithMaxRestarts sets the minimum number of restarts after dropping
// undersized groups. A run with k centers may always restart k times.
func WithMaxRestarts(n int) Option {
	return func(c *Clusterer) {
		if n > 0 {
			c.maxRestarts = n
		}
	}
}

// WithMaxIterations bounds the Lloyd iterations of a single run.
func WithMaxIterations(n int) Option {
	return func(c *Clusterer) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// New creates a Clusterer whose seeding is reproducible for a given seed.
func New(seed uint64, opts ...Option) *Clusterer {
	c := &Clusterer{
		rng:           rand.New(rand.NewPCG(seed, seed^0x5deece66d)),
		maxRestarts:   defaultMaxRestarts,
		maxIterations: defaultMaxIterations,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Cluster partitions points into at most k groups of point indices. Groups with
// fewer than two members are dropped and the run restarts from the surviving
// centers. If no group survives, all points form a single group.
func (c *Clusterer) Cluster(points []geo.Point, k int) ([][]int, error) {
	n := len(points)
	if n == 0 {
		return nil, fmt.Errorf("no points: %w", domain.ErrInvalidArgument)
	}
	if k <= 0 {
		return nil, fmt.Errorf("k=%d: %w", k, domain.ErrInvalidArgument)
	}
	k = min(k, n)

	centers := make([]geo.Point, k)
	for i, p := range c.rng.Perm(n)[:k] {
		centers[i] = points[p]
	}

	// Every restart drops at least one center, so k rounds always suffice.
	restarts := max(c.maxRestarts, k)
	for range restarts {
		assign, err := c.lloyd(points, centers)
		if err != nil {
			return nil, err
		}

		groups := make([][]int, len(centers))
		for i, ci := range assign {
			groups[ci] = append(groups[ci], i)
		}

		survivors := centers[:0:0]
		kept := groups[:0:0]
		for ci, g := range groups {
			if len(g) >= 2 {
				survivors = append(survivors, centers[ci])
				kept = append(kept, g)
			}
		}

		switch len(survivors) {
		case len(centers):
			return kept, nil
		case 0:
			return [][]int{allIndices(n)}, nil
		}
		centers = survivors
	}
	return nil, fmt.Errorf("k-means: %d restarts: %w", restarts, domain.ErrNoConvergence)
}

// lloyd iterates assignment and update steps until assignments are stable.
// centers is updated in place; the returned slice maps point index to center.
func (c *Clusterer) lloyd(points []geo.Point, centers []geo.Point) ([]int, error) {
	assign := make([]int, len(points))
	for i := range assign {
		assign[i] = -1
	}
	sums := make([]geo.Point, len(centers))
	counts := make([]int, len(centers))

	for range c.maxIterations {
		changed := false
		for i, p := range points {
			if ci := nearest(p, centers); ci != assign[i] {
				assign[i] = ci
				changed = true
			}
		}
		if !changed {
			return assign, nil
		}

		clear(sums)
		clear(counts)
		for i, p := range points {
			ci := assign[i]
			sums[ci].X += p.X
			sums[ci].Y += p.Y
			counts[ci]++
		}
		for ci := range centers {
			if counts[ci] > 0 {
				centers[ci] = geo.Point{X: sums[ci].X / float64(counts[ci]), Y: sums[ci].Y / float64(counts[ci])}
			}
		}
	}
	return nil, fmt.Errorf("k-means: %d iterations: %w", c.maxIterations, domain.ErrNoConvergence)
}

// nearest returns the index of the closest center. Ties go to the lowest index.
func nearest(p geo.Point, centers []geo.Point) int {
	best, bestDist := 0, math.Inf(1)
	for i, c := range centers {
		if d := p.DistanceSquared(c); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func allIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
