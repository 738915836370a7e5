package visibility

import (
	"errors"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/kailas-cloud/mapcluster/internal/domain"
	"github.com/kailas-cloud/mapcluster/internal/domain/geo"
	"github.com/kailas-cloud/mapcluster/internal/domain/item"
)

// twin builds the same random items in two arenas so that each set owns its
// own in-view flags.
func twin(t *testing.T, n int, seed uint64) (indexed, brute []*item.Item) {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, 1))
	a, b := item.NewArena(), item.NewArena()
	for range n {
		s := item.ScreenSpec(
			geo.Location{Lat: rng.Float64()*150 - 75, Lon: rng.Float64()*360 - 180},
			item.Origin(rng.IntN(6)),
			item.Size{Width: 10 + rng.Float64()*30, Height: 10 + rng.Float64()*30},
		)
		s.MinZoom = rng.IntN(5)
		s.MaxZoom = s.MinZoom + rng.IntN(8)
		x, err := a.New(s)
		if err != nil {
			t.Fatal(err)
		}
		y, err := b.New(s)
		if err != nil {
			t.Fatal(err)
		}
		indexed = append(indexed, x)
		brute = append(brute, y)
	}
	return indexed, brute
}

func changeKeys(changes []Change) []Change {
	out := make([]Change, len(changes))
	for i, c := range changes {
		out[i] = Change{ID: c.ID, Visible: c.Visible}
	}
	return out
}

func visibleIDs(items []*item.Item) []item.ID {
	out := make([]item.ID, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID())
	}
	return out
}

func TestIndexed_MatchesBruteForce(t *testing.T) {
	xs, ys := twin(t, 500, 42)
	idx, bf := NewIndexed(), NewBruteForce()
	for i := range xs {
		idx.Add(xs[i])
		bf.Add(ys[i])
	}

	rng := rand.New(rand.NewPCG(7, 7))
	center := geo.Point{X: 0.5, Y: 0.5}
	for step := range 200 {
		zoom := rng.IntN(12)
		size := 1 / float64(uint(1)<<(zoom/2))
		center.X += (rng.Float64() - 0.5) * 0.1
		center.Y += (rng.Float64() - 0.5) * 0.1
		center.X -= float64(int(center.X))
		if center.X < 0 {
			center.X++
		}
		center.Y = min(max(center.Y, 0.05), 0.95)

		vp, err := geo.NewRect(center, size, size*0.6)
		if err != nil {
			t.Fatal(err)
		}
		got, err := idx.UpdateVisibility(vp, zoom)
		if err != nil {
			t.Fatalf("step %d indexed: %v", step, err)
		}
		want, err := bf.UpdateVisibility(vp, zoom)
		if err != nil {
			t.Fatalf("step %d brute force: %v", step, err)
		}
		if !slices.Equal(changeKeys(got), changeKeys(want)) {
			t.Fatalf("step %d (%v z%d): indexed %d changes, brute force %d", step, vp, zoom, len(got), len(want))
		}
		if !slices.Equal(visibleIDs(idx.Visible()), visibleIDs(bf.Visible())) {
			t.Fatalf("step %d: visible sets differ", step)
		}
	}
}

func TestUpdateVisibility_DiffIsMinimal(t *testing.T) {
	a := item.NewArena()
	var items []*item.Item
	for i := range 10 {
		it, _ := a.New(item.ScreenSpec(geo.Location{Lat: 0, Lon: float64(i * 10)}, item.OriginCenter, item.Size{Width: 4, Height: 4}))
		items = append(items, it)
	}

	for _, set := range []Set{NewIndexed(), NewBruteForce()} {
		for _, it := range items {
			it.SetInView(false)
			set.Add(it)
		}
		left := geo.NewRectFromBox(geo.Box{MinX: 0.5, MinY: 0.4, MaxX: 0.5 + 45.0/360, MaxY: 0.6})
		first, err := set.UpdateVisibility(left, 4)
		if err != nil {
			t.Fatal(err)
		}
		if len(first) != 5 {
			t.Fatalf("%T: expected 5 items to appear, got %d", set, len(first))
		}

		shifted := geo.NewRectFromBox(geo.Box{MinX: 0.5 + 25.0/360, MinY: 0.4, MaxX: 0.5 + 75.0/360, MaxY: 0.6})
		second, err := set.UpdateVisibility(shifted, 4)
		if err != nil {
			t.Fatal(err)
		}
		want := []Change{
			{ID: items[0].ID(), Visible: false},
			{ID: items[1].ID(), Visible: false},
			{ID: items[2].ID(), Visible: false},
			{ID: items[5].ID(), Visible: true},
			{ID: items[6].ID(), Visible: true},
			{ID: items[7].ID(), Visible: true},
		}
		if !slices.Equal(changeKeys(second), want) {
			t.Fatalf("%T: got %v want %v", set, changeKeys(second), want)
		}

		again, _ := set.UpdateVisibility(shifted, 4)
		if len(again) != 0 {
			t.Fatalf("%T: repeated update must not report changes, got %v", set, again)
		}
		set.ClearVisibility()
	}
}

func TestUpdateVisibility_EmptyViewportClearsAll(t *testing.T) {
	xs, ys := twin(t, 100, 5)
	for _, tc := range []struct {
		set   Set
		items []*item.Item
	}{
		{NewIndexed(), xs},
		{NewBruteForce(), ys},
	} {
		for _, it := range tc.items {
			tc.set.Add(it)
		}
		shown, err := tc.set.UpdateVisibility(geo.NewRectFromBox(geo.UnitBox), 3)
		if err != nil {
			t.Fatal(err)
		}
		if len(shown) == 0 {
			t.Fatalf("%T: expected some items visible", tc.set)
		}

		flat := geo.NewRectFromBox(geo.Box{MinX: 0.2, MinY: 0.3, MaxX: 0.4, MaxY: 0.3})
		hidden, err := tc.set.UpdateVisibility(flat, 3)
		if err != nil {
			t.Fatal(err)
		}
		if len(hidden) != len(shown) {
			t.Errorf("%T: expected %d hide changes, got %d", tc.set, len(shown), len(hidden))
		}
		for _, it := range tc.items {
			if it.InView() {
				t.Fatalf("%T: item %d still in view", tc.set, it.ID())
			}
		}
		if got, _ := tc.set.UpdateVisibility(geo.Rect{}, 3); len(got) != 0 {
			t.Errorf("%T: clearing twice must be silent", tc.set)
		}
	}
}

func TestUpdateVisibility_InvalidArguments(t *testing.T) {
	for _, set := range []Set{NewIndexed(), NewBruteForce()} {
		if _, err := set.UpdateVisibility(geo.NewRectFromBox(geo.UnitBox), -1); !errors.Is(err, domain.ErrInvalidZoomLevel) {
			t.Errorf("%T: expected ErrInvalidZoomLevel, got %v", set, err)
		}
		out := geo.NewRectFromBox(geo.Box{MinX: 2, MinY: 2, MaxX: 3, MaxY: 3})
		if _, err := set.UpdateVisibility(out, 2); !errors.Is(err, domain.ErrOutOfRange) {
			t.Errorf("%T: expected ErrOutOfRange, got %v", set, err)
		}
	}
}

func TestRemove_HidesVisibleItem(t *testing.T) {
	for _, set := range []Set{NewIndexed(), NewBruteForce()} {
		a := item.NewArena()
		it, _ := a.New(item.ScreenSpec(geo.Location{}, item.OriginCenter, item.Size{Width: 10, Height: 10}))
		set.Add(it)
		if _, err := set.UpdateVisibility(geo.NewRectFromBox(geo.UnitBox), 0); err != nil {
			t.Fatal(err)
		}
		if !it.InView() {
			t.Fatalf("%T: expected item in view", set)
		}

		found, changes := set.Remove(it)
		if !found {
			t.Fatalf("%T: expected remove to find the item", set)
		}
		if len(changes) != 1 || changes[0].Visible || changes[0].Item != it {
			t.Fatalf("%T: expected one hide change, got %v", set, changes)
		}
		if found, changes := set.Remove(it); found || len(changes) != 0 {
			t.Fatalf("%T: second remove must be a no-op", set)
		}
		if set.Len() != 0 || len(set.Visible()) != 0 {
			t.Errorf("%T: set not empty after remove", set)
		}
	}
}

func TestAdd_DoesNotChangeVisibility(t *testing.T) {
	for _, set := range []Set{NewIndexed(), NewBruteForce()} {
		a := item.NewArena()
		first, _ := a.New(item.ScreenSpec(geo.Location{}, item.OriginCenter, item.Size{Width: 10, Height: 10}))
		set.Add(first)
		if _, err := set.UpdateVisibility(geo.NewRectFromBox(geo.UnitBox), 2); err != nil {
			t.Fatal(err)
		}
		late, _ := a.New(item.ScreenSpec(geo.Location{Lat: 1}, item.OriginCenter, item.Size{Width: 10, Height: 10}))
		if !set.Add(late) {
			t.Fatalf("%T: expected add to succeed", set)
		}
		if late.InView() {
			t.Fatalf("%T: add must not make an item visible", set)
		}
		changes, _ := set.UpdateVisibility(geo.NewRectFromBox(geo.UnitBox), 2)
		if len(changes) != 1 || changes[0].ID != late.ID() || !changes[0].Visible {
			t.Fatalf("%T: expected the late item to appear, got %v", set, changes)
		}
		if set.Add(late) {
			t.Errorf("%T: duplicate add must report false", set)
		}
	}
}

func TestDiscreteZoom(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{3, 3},
		{3.00001, 3},
		{2.99995, 3},
		{3.2, 4},
		{3.9, 4},
		{0, 0},
	}
	for _, tt := range tests {
		if got := DiscreteZoom(tt.in); got != tt.want {
			t.Errorf("DiscreteZoom(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
