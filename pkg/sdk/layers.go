package mapcluster

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/mapcluster/internal/domain/item"
)

// LayerService manages layers and their items.
type LayerService struct {
	svc layerUseCase
	obs *observer
}

// Create creates an empty layer.
func (s *LayerService) Create(ctx context.Context, name string, clustered bool) (_ Layer, err error) {
	start := time.Now()
	defer func() { s.obs.observe("layer.create", start, err) }()

	l, err := s.svc.Create(ctx, name, clustered)
	if err != nil {
		return Layer{}, fmt.Errorf("create layer: %w", err)
	}
	return layerFromDomain(l, 0, false), nil
}

// Get returns a layer by name.
func (s *LayerService) Get(ctx context.Context, name string) (_ Layer, err error) {
	start := time.Now()
	defer func() { s.obs.observe("layer.get", start, err) }()

	l, err := s.svc.Get(ctx, name)
	if err != nil {
		return Layer{}, fmt.Errorf("get layer: %w", err)
	}
	return s.describe(l.Name(), func(served int, stale bool) Layer {
		return layerFromDomain(l, served, stale)
	}), nil
}

// List returns all layers ordered by name.
func (s *LayerService) List(ctx context.Context) []Layer {
	start := time.Now()
	defer s.obs.observe("layer.list", start, nil)

	ls := s.svc.List(ctx)
	out := make([]Layer, len(ls))
	for i, l := range ls {
		out[i] = s.describe(l.Name(), func(served int, stale bool) Layer {
			return layerFromDomain(l, served, stale)
		})
	}
	return out
}

// describe fills served-set fields. A layer deleted concurrently reports zeros.
func (s *LayerService) describe(name string, build func(served int, stale bool) Layer) Layer {
	served := 0
	if snap, err := s.svc.Snapshot(name); err == nil && snap != nil {
		served = snap.Len()
	}
	stale, _ := s.svc.Stale(name)
	return build(served, stale)
}

// Delete removes a layer and all of its items.
func (s *LayerService) Delete(ctx context.Context, name string) (err error) {
	start := time.Now()
	defer func() { s.obs.observe("layer.delete", start, err) }()

	if err = s.svc.Delete(ctx, name); err != nil {
		return fmt.Errorf("delete layer: %w", err)
	}
	return nil
}

// AddItems adds items to a layer and returns their ids in input order.
// Either all items are added or none.
func (s *LayerService) AddItems(ctx context.Context, layer string, specs []ItemSpec) (_ []uint64, err error) {
	start := time.Now()
	defer func() { s.obs.observe("layer.add_items", start, err) }()

	domSpecs := make([]item.Spec, len(specs))
	for i, sp := range specs {
		if domSpecs[i], err = sp.toDomain(); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}
	ids, err := s.svc.AddItems(ctx, layer, domSpecs)
	if err != nil {
		return nil, fmt.Errorf("add items: %w", err)
	}
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return out, nil
}

// RemoveItem removes an item from a layer.
func (s *LayerService) RemoveItem(ctx context.Context, layer string, id uint64) (err error) {
	start := time.Now()
	defer func() { s.obs.observe("layer.remove_item", start, err) }()

	if err = s.svc.RemoveItem(ctx, layer, item.ID(id)); err != nil {
		return fmt.Errorf("remove item: %w", err)
	}
	return nil
}

// Cluster re-clusters a layer and serves the result.
func (s *LayerService) Cluster(ctx context.Context, layer string) (_ ClusterStats, err error) {
	start := time.Now()
	defer func() { s.obs.observe("layer.cluster", start, err) }()

	stats, err := s.svc.Cluster(ctx, layer)
	if err != nil {
		return ClusterStats{}, fmt.Errorf("cluster: %w", err)
	}
	return statsFromDomain(stats), nil
}

// Query returns the items a layer serves inside a viewport, along with the
// revision they were taken from.
func (s *LayerService) Query(ctx context.Context, layer string, vp Viewport) (_ []Item, _ int, err error) {
	start := time.Now()
	defer func() { s.obs.observe("layer.query", start, err) }()

	rect, err := vp.toRect()
	if err != nil {
		return nil, 0, fmt.Errorf("query: %w", err)
	}
	items, snap, err := s.svc.Query(ctx, layer, rect, vp.Zoom)
	if err != nil {
		return nil, 0, fmt.Errorf("query: %w", err)
	}
	return itemsFromDomain(items, snap), snap.Revision(), nil
}
