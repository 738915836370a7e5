package layer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/mapcluster/internal/cluster"
	"github.com/kailas-cloud/mapcluster/internal/domain"
	"github.com/kailas-cloud/mapcluster/internal/domain/geo"
	"github.com/kailas-cloud/mapcluster/internal/domain/item"
	domlayer "github.com/kailas-cloud/mapcluster/internal/domain/layer"
	"github.com/kailas-cloud/mapcluster/internal/kmeans"
	"github.com/kailas-cloud/mapcluster/internal/metrics"
)

// loadConcurrency bounds the number of layers loaded and clustered in parallel.
const loadConcurrency = 4

// Config holds clustering and limit settings of the layer service.
type Config struct {
	Seed               uint64
	MarkerSize         item.Size
	MaxClusterSize     int
	MaxRestarts        int
	MeanRepresentative bool
	// OnWrite re-clusters a clustered layer after every mutation. Otherwise
	// the served set stays stale until Cluster is called.
	OnWrite      bool
	MaxBatchSize int
}

// Service owns the in-memory state of every layer: the raw item catalog
// mirrored from storage and the snapshot currently served.
type Service struct {
	repo   Repository
	cfg    Config
	logger *zap.Logger

	mu     sync.RWMutex
	layers map[string]*state
	ready  atomic.Bool
}

type state struct {
	mu     sync.Mutex
	meta   domlayer.Layer
	raw    *item.Arena
	served *Snapshot
	stale  bool
}

// New creates a layer service. logger can be nil.
func New(repo Repository, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		cfg:    cfg,
		logger: logger,
		layers: make(map[string]*state),
	}
}

// Ready reports whether LoadAll has completed.
func (s *Service) Ready() bool { return s.ready.Load() }

// LoadAll loads the named layers and every stored layer from the repository,
// clustering them in parallel. Named layers missing from storage are created.
func (s *Service) LoadAll(ctx context.Context, names []string) error {
	stored, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("list layers: %w", err)
	}
	all := slices.Clone(stored)
	for _, n := range names {
		if !slices.Contains(all, n) {
			all = append(all, n)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for _, name := range all {
		g.Go(func() error {
			return s.load(gctx, name, !slices.Contains(stored, name))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.ready.Store(true)
	s.logger.Info("Layers loaded", zap.Int("count", len(all)))
	return nil
}

func (s *Service) load(ctx context.Context, name string, create bool) error {
	var meta domlayer.Layer
	if create {
		l, err := domlayer.New(name, true)
		if err != nil {
			return fmt.Errorf("layer %q: %w", name, err)
		}
		if err := s.repo.Create(ctx, l); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			return fmt.Errorf("create layer %s: %w", name, err)
		}
		meta = l
	} else {
		l, err := s.repo.Get(ctx, name)
		if err != nil {
			return fmt.Errorf("load layer %s: %w", name, err)
		}
		meta = l
	}

	entries, err := s.repo.LoadItems(ctx, name)
	if err != nil {
		return fmt.Errorf("load items %s: %w", name, err)
	}
	raw := item.NewArena()
	for _, e := range entries {
		if _, err := raw.Restore(e.ID, e.Spec); err != nil {
			return fmt.Errorf("restore item %d of %s: %w", e.ID, name, err)
		}
	}

	snap, err := s.build(meta, raw)
	if err != nil {
		return err
	}
	st := &state{meta: meta, raw: raw, served: snap}

	s.mu.Lock()
	s.layers[name] = st
	s.mu.Unlock()

	s.logger.Info("Layer loaded",
		zap.String("layer", name),
		zap.Int("items", raw.Len()),
		zap.Int("served", st.served.Len()),
		zap.Int("revision", meta.Revision()),
	)
	return nil
}

// Create validates and stores a new, empty layer.
func (s *Service) Create(ctx context.Context, name string, clustered bool) (domlayer.Layer, error) {
	l, err := domlayer.New(name, clustered)
	if err != nil {
		return domlayer.Layer{}, fmt.Errorf("validate layer: %w", err)
	}
	if err := s.repo.Create(ctx, l); err != nil {
		return domlayer.Layer{}, fmt.Errorf("create layer: %w", err)
	}

	raw := item.NewArena()
	snap, err := s.build(l, raw)
	if err != nil {
		return domlayer.Layer{}, err
	}
	st := &state{meta: l, raw: raw, served: snap}

	s.mu.Lock()
	s.layers[name] = st
	s.mu.Unlock()
	return l, nil
}

// Get returns the metadata of a loaded layer.
func (s *Service) Get(_ context.Context, name string) (domlayer.Layer, error) {
	st, err := s.state(name)
	if err != nil {
		return domlayer.Layer{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.meta, nil
}

// List returns the metadata of every loaded layer, ordered by name.
func (s *Service) List(_ context.Context) []domlayer.Layer {
	s.mu.RLock()
	states := make([]*state, 0, len(s.layers))
	for _, st := range s.layers {
		states = append(states, st)
	}
	s.mu.RUnlock()

	out := make([]domlayer.Layer, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, st.meta)
		st.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b domlayer.Layer) int { return strings.Compare(a.Name(), b.Name()) })
	return out
}

// Delete removes a layer and its stored items.
func (s *Service) Delete(ctx context.Context, name string) error {
	if err := s.repo.Delete(ctx, name); err != nil {
		return fmt.Errorf("delete layer: %w", err)
	}
	s.mu.Lock()
	delete(s.layers, name)
	s.mu.Unlock()
	return nil
}

// ReserveIDs allocates n ids from the id sequence of a layer and returns the
// first one. A reserved id is never handed out again, whether or not an item
// is stored under it.
func (s *Service) ReserveIDs(ctx context.Context, name string, n int) (item.ID, error) {
	if n <= 0 {
		return 0, fmt.Errorf("reserve %d ids: %w", n, domain.ErrInvalidArgument)
	}
	if s.cfg.MaxBatchSize > 0 && n > s.cfg.MaxBatchSize {
		return 0, fmt.Errorf("reserve of %d ids exceeds %d: %w", n, s.cfg.MaxBatchSize, domain.ErrLimitExceeded)
	}
	if _, err := s.state(name); err != nil {
		return 0, err
	}
	first, err := s.repo.ReserveIDs(ctx, name, n)
	if err != nil {
		return 0, fmt.Errorf("reserve ids: %w", err)
	}
	return first, nil
}

// AddItems validates specs, assigns ids, stores the items and refreshes the
// served snapshot. Either every spec is added or none is.
func (s *Service) AddItems(ctx context.Context, name string, specs []item.Spec) ([]item.ID, error) {
	if err := s.checkBatch(specs); err != nil {
		return nil, err
	}
	st, err := s.state(name)
	if err != nil {
		return nil, err
	}
	first, err := s.repo.ReserveIDs(ctx, name, len(specs))
	if err != nil {
		return nil, fmt.Errorf("reserve ids: %w", err)
	}

	entries := make([]domlayer.Entry, len(specs))
	ids := make([]item.ID, len(specs))
	for i, sp := range specs {
		ids[i] = first + item.ID(i)
		entries[i] = domlayer.Entry{ID: ids[i], Spec: sp}
	}
	if err := s.put(ctx, st, entries); err != nil {
		return nil, err
	}
	return ids, nil
}

// PutItems stores items under ids obtained from ReserveIDs. An entry whose id
// is already present replaces that item, so writing the same batch twice
// leaves the layer as after the first write.
func (s *Service) PutItems(ctx context.Context, name string, entries []domlayer.Entry) error {
	specs := make([]item.Spec, len(entries))
	seen := make(map[item.ID]struct{}, len(entries))
	for i, e := range entries {
		if e.ID == 0 || e.ID.Generated() {
			return fmt.Errorf("item %d: id %d out of range: %w", i, e.ID, domain.ErrInvalidArgument)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("item %d: duplicate id %d: %w", i, e.ID, domain.ErrInvalidArgument)
		}
		seen[e.ID] = struct{}{}
		specs[i] = e.Spec
	}
	if err := s.checkBatch(specs); err != nil {
		return err
	}
	st, err := s.state(name)
	if err != nil {
		return err
	}
	return s.put(ctx, st, entries)
}

func (s *Service) checkBatch(specs []item.Spec) error {
	if len(specs) == 0 {
		return fmt.Errorf("no items: %w", domain.ErrInvalidArgument)
	}
	if s.cfg.MaxBatchSize > 0 && len(specs) > s.cfg.MaxBatchSize {
		return fmt.Errorf("batch of %d items exceeds %d: %w",
			len(specs), s.cfg.MaxBatchSize, domain.ErrLimitExceeded)
	}
	for i, sp := range specs {
		if sp.Synthetic {
			return fmt.Errorf("item %d: synthetic items cannot be added: %w", i, domain.ErrInvalidArgument)
		}
		if err := sp.Validate(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

func (s *Service) put(ctx context.Context, st *state, entries []domlayer.Entry) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	name := st.meta.Name()
	next := st.raw.Clone()
	var added []item.ID
	for _, e := range entries {
		if !next.Delete(e.ID) {
			added = append(added, e.ID)
		}
		if _, err := next.Restore(e.ID, e.Spec); err != nil {
			return fmt.Errorf("item %d: %w", e.ID, err)
		}
	}

	return s.apply(ctx, st, next, func() error {
		if err := s.repo.PutItems(ctx, name, entries); err != nil {
			s.discard(ctx, name, added)
			return fmt.Errorf("store items: %w", err)
		}
		return nil
	})
}

// discard removes whatever a failed pipelined write managed to store.
func (s *Service) discard(ctx context.Context, name string, ids []item.ID) {
	if len(ids) == 0 {
		return
	}
	if err := s.repo.DeleteItems(context.WithoutCancel(ctx), name, ids); err != nil {
		s.logger.Warn("Partial batch not removed",
			zap.String("layer", name),
			zap.Int("items", len(ids)),
			zap.Error(err),
		)
	}
}

// RemoveItem deletes a raw item of a layer.
func (s *Service) RemoveItem(ctx context.Context, name string, id item.ID) error {
	st, err := s.state(name)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.raw.Get(id); !ok {
		return fmt.Errorf("item %d in layer %s: %w", id, name, domain.ErrNotFound)
	}
	next := st.raw.Clone()
	next.Delete(id)
	return s.apply(ctx, st, next, func() error {
		if err := s.repo.DeleteItem(ctx, name, id); err != nil {
			return fmt.Errorf("delete item: %w", err)
		}
		return nil
	})
}

// apply makes next the raw catalog of a layer at the following revision.
// The served snapshot is built before persist runs, and nothing changes in
// memory unless both succeed. A failed metadata save only lags the stored
// revision, which the next write or restart corrects. Must be called with
// st.mu held.
func (s *Service) apply(ctx context.Context, st *state, next *item.Arena, persist func() error) error {
	meta := st.meta.Bump()
	deferred := meta.Clustered() && !s.cfg.OnWrite

	var snap *Snapshot
	if !deferred {
		built, err := s.build(meta, next)
		if err != nil {
			return err
		}
		snap = built
	}
	if err := persist(); err != nil {
		return err
	}

	st.raw, st.meta = next, meta
	if deferred {
		st.stale = true
	} else {
		st.served, st.stale = snap, false
	}

	if err := s.repo.Save(ctx, meta); err != nil {
		s.logger.Warn("Layer revision not saved",
			zap.String("layer", meta.Name()),
			zap.Int("revision", meta.Revision()),
			zap.Error(err),
		)
	}
	return nil
}

// Cluster re-clusters a layer from its raw items and serves the result.
// A layer that was served unclustered becomes clustered.
func (s *Service) Cluster(ctx context.Context, name string) (cluster.Stats, error) {
	st, err := s.state(name)
	if err != nil {
		return cluster.Stats{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	meta := st.meta
	flip := !meta.Clustered()
	if flip {
		meta = meta.WithClustered(true).Bump()
	}
	arena := st.raw.Clone()
	items, stats, err := s.clusterer(name, arena).ClusterWithStats(arena.All())
	if err != nil {
		return stats, fmt.Errorf("cluster layer %s: %w", name, err)
	}
	if flip {
		if err := s.repo.Save(ctx, meta); err != nil {
			return stats, fmt.Errorf("save layer: %w", err)
		}
	}

	st.raw.Advance(arena)
	st.meta = meta
	st.served = newSnapshot(name, meta.Revision(), true, arena, items)
	st.stale = false
	return stats, nil
}

// build clusters a copy of raw into a snapshot at the revision of meta.
// raw keeps counting past every id the copy handed out, so a marker id is
// never reused by a later snapshot.
func (s *Service) build(meta domlayer.Layer, raw *item.Arena) (*Snapshot, error) {
	name := meta.Name()
	arena := raw.Clone()
	items := arena.All()
	if meta.Clustered() {
		out, err := s.clusterer(name, arena).Cluster(items)
		if err != nil {
			return nil, fmt.Errorf("cluster layer %s: %w", name, err)
		}
		items = out
	}
	raw.Advance(arena)
	return newSnapshot(name, meta.Revision(), meta.Clustered(), arena, items), nil
}

func (s *Service) clusterer(name string, arena *item.Arena) *cluster.Clusterer {
	opts := []cluster.Option{
		cluster.WithSeed(s.cfg.Seed),
		cluster.WithMarkerSize(s.cfg.MarkerSize),
		cluster.WithMaxClusterSize(s.cfg.MaxClusterSize),
		cluster.WithLogger(s.logger.With(zap.String("layer", name))),
		cluster.WithObserver(metrics.ClusterObserver{Layer: name}),
	}
	if s.cfg.MaxRestarts > 0 {
		opts = append(opts, cluster.WithKMeansOptions(kmeans.WithMaxRestarts(s.cfg.MaxRestarts)))
	}
	if s.cfg.MeanRepresentative {
		opts = append(opts, cluster.WithMeanRepresentative())
	}
	return cluster.New(arena, opts...)
}

// Snapshot returns the snapshot a layer currently serves.
func (s *Service) Snapshot(name string) (*Snapshot, error) {
	st, err := s.state(name)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.served, nil
}

// Stale reports whether the layer has raw changes not yet clustered.
func (s *Service) Stale(name string) (bool, error) {
	st, err := s.state(name)
	if err != nil {
		return false, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.stale, nil
}

// Query returns the served items of a layer intersecting viewport at zoom.
func (s *Service) Query(_ context.Context, name string, viewport geo.Rect, zoom int) ([]*item.Item, *Snapshot, error) {
	snap, err := s.Snapshot(name)
	if err != nil {
		return nil, nil, err
	}
	items, err := snap.Query(viewport, zoom)
	if err != nil {
		return nil, nil, fmt.Errorf("query layer %s: %w", name, err)
	}
	return items, snap, nil
}

func (s *Service) state(name string) (*state, error) {
	s.mu.RLock()
	st, ok := s.layers[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("layer %s: %w", name, domain.ErrNotFound)
	}
	return st, nil
}
