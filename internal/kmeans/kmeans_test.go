package kmeans

import (
	"errors"
	"math/rand/v2"
	"reflect"
	"slices"
	"testing"

	"github.com/kailas-cloud/mapcluster/internal/domain"
	"github.com/kailas-cloud/mapcluster/internal/domain/geo"
)

func blob(rng *rand.Rand, cx, cy, spread float64, n int) []geo.Point {
	out := make([]geo.Point, n)
	for i := range out {
		out[i] = geo.Point{X: cx + (rng.Float64()-0.5)*spread, Y: cy + (rng.Float64()-0.5)*spread}
	}
	return out
}

func checkPartition(t *testing.T, groups [][]int, n int) {
	t.Helper()
	seen := make([]bool, n)
	for _, g := range groups {
		for _, i := range g {
			if seen[i] {
				t.Fatalf("point %d assigned twice", i)
			}
			seen[i] = true
		}
	}
	for i, ok := range seen {
		if !ok {
			t.Fatalf("point %d not assigned", i)
		}
	}
}

func TestCluster_SizeFloor(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for trial := range 200 {
		n := 2 + rng.IntN(60)
		points := blob(rng, 0.5, 0.5, 0.3, n)
		k := 1 + rng.IntN(n)

		groups, err := New(uint64(trial)).Cluster(points, k)
		if err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
		checkPartition(t, groups, n)
		if len(groups) > k {
			t.Fatalf("trial %d: %d groups for k=%d", trial, len(groups), k)
		}
		for _, g := range groups {
			if len(g) < 2 {
				t.Fatalf("trial %d: group of size %d", trial, len(g))
			}
		}
	}
}

func TestCluster_SeparatesBlobs(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	points := append(blob(rng, 0.2, 0.2, 0.01, 15), blob(rng, 0.8, 0.8, 0.01, 15)...)

	groups, err := New(9).Cluster(points, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	for _, g := range groups {
		left := g[0] < 15
		for _, i := range g {
			if (i < 15) != left {
				t.Fatalf("group mixes blobs: %v", g)
			}
		}
	}
}

func TestCluster_DuplicatePoints(t *testing.T) {
	points := make([]geo.Point, 25)
	for i := range points {
		points[i] = geo.Point{X: 0.3, Y: 0.7}
	}
	groups, err := New(1).Cluster(points, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || len(groups[0]) != 25 {
		t.Fatalf("expected one group of 25, got %v", groups)
	}
}

func TestCluster_DegeneratesToSingleGroup(t *testing.T) {
	groups, err := New(1).Cluster([]geo.Point{{X: 0.1, Y: 0.1}}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(groups, [][]int{{0}}) {
		t.Fatalf("expected [[0]], got %v", groups)
	}

	two := []geo.Point{{X: 0.1, Y: 0.1}, {X: 0.9, Y: 0.9}}
	groups, err = New(1).Cluster(two, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(groups, [][]int{{0, 1}}) {
		t.Fatalf("expected [[0 1]], got %v", groups)
	}
}

func TestCluster_ClampsK(t *testing.T) {
	points := []geo.Point{{X: 0.1, Y: 0.1}, {X: 0.11, Y: 0.1}, {X: 0.12, Y: 0.1}}
	groups, err := New(5).Cluster(points, 50)
	if err != nil {
		t.Fatal(err)
	}
	checkPartition(t, groups, 3)
}

func TestCluster_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewPCG(8, 8))
	points := blob(rng, 0.5, 0.5, 0.5, 80)
	a, err := New(77).Cluster(points, 4)
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(77).Cluster(points, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatal("same seed must give the same groups")
	}
	for _, g := range a {
		if !slices.IsSorted(g) {
			t.Errorf("group indices must be ascending: %v", g)
		}
	}
}

func TestCluster_LargeClumpWithOutliers(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	points := blob(rng, 0.5, 0.5, 0.001, 2700)
	points = append(points, blob(rng, 0.5, 0.5, 0.05, 300)...)
	k := SplitCount(len(points), MaxClusterSize)

	for _, restarts := range []int{8, defaultMaxRestarts} {
		groups, err := New(7, WithMaxRestarts(restarts)).Cluster(points, k)
		if err != nil {
			t.Fatalf("restarts=%d: %v", restarts, err)
		}
		checkPartition(t, groups, len(points))
		for _, g := range groups {
			if len(g) < 2 {
				t.Fatalf("restarts=%d: group of size %d", restarts, len(g))
			}
		}
	}
}

func TestCluster_InvalidArguments(t *testing.T) {
	c := New(1)
	if _, err := c.Cluster(nil, 2); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("empty input: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := c.Cluster([]geo.Point{{}, {}}, 0); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("k=0: expected ErrInvalidArgument, got %v", err)
	}
}

func TestCluster_IterationBound(t *testing.T) {
	rng := rand.New(rand.NewPCG(2, 2))
	points := blob(rng, 0.5, 0.5, 0.5, 200)
	_, err := New(3, WithMaxIterations(1)).Cluster(points, 10)
	if !errors.Is(err, domain.ErrNoConvergence) {
		t.Fatalf("expected ErrNoConvergence, got %v", err)
	}
}

func TestSplitCount(t *testing.T) {
	tests := []struct{ n, max, want int }{
		{21, 20, 2},
		{20, 20, 1},
		{40, 20, 2},
		{41, 20, 3},
		{41, 0, 3},
	}
	for _, tt := range tests {
		if got := SplitCount(tt.n, tt.max); got != tt.want {
			t.Errorf("SplitCount(%d, %d) = %d, want %d", tt.n, tt.max, got, tt.want)
		}
	}
}
