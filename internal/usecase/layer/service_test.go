package layer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kailas-cloud/mapcluster/internal/domain"
	"github.com/kailas-cloud/mapcluster/internal/domain/geo"
	"github.com/kailas-cloud/mapcluster/internal/domain/item"
	domlayer "github.com/kailas-cloud/mapcluster/internal/domain/layer"
)

// --- Mocks ---

type mockRepo struct {
	mu            sync.Mutex
	createFn      func(ctx context.Context, l domlayer.Layer) error
	saveFn        func(ctx context.Context, l domlayer.Layer) error
	getFn         func(ctx context.Context, name string) (domlayer.Layer, error)
	listFn        func(ctx context.Context) ([]string, error)
	deleteFn      func(ctx context.Context, name string) error
	putItemsFn    func(ctx context.Context, name string, entries []domlayer.Entry) error
	deleteItemFn  func(ctx context.Context, name string, id item.ID) error
	deleteItemsFn func(ctx context.Context, name string, ids []item.ID) error
	loadItemsFn   func(ctx context.Context, name string) ([]domlayer.Entry, error)
	created       []string
	// seq is the last id handed out by ReserveIDs.
	seq item.ID
}

func (m *mockRepo) Create(ctx context.Context, l domlayer.Layer) error {
	m.mu.Lock()
	m.created = append(m.created, l.Name())
	m.mu.Unlock()
	if m.createFn != nil {
		return m.createFn(ctx, l)
	}
	return nil
}

func (m *mockRepo) Save(ctx context.Context, l domlayer.Layer) error {
	if m.saveFn != nil {
		return m.saveFn(ctx, l)
	}
	return nil
}

func (m *mockRepo) Get(ctx context.Context, name string) (domlayer.Layer, error) {
	if m.getFn != nil {
		return m.getFn(ctx, name)
	}
	return domlayer.Layer{}, domain.ErrNotFound
}

func (m *mockRepo) List(ctx context.Context) ([]string, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockRepo) Delete(ctx context.Context, name string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, name)
	}
	return nil
}

func (m *mockRepo) ReserveIDs(_ context.Context, _ string, n int) (item.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	first := m.seq + 1
	m.seq += item.ID(n)
	return first, nil
}

func (m *mockRepo) PutItems(ctx context.Context, name string, entries []domlayer.Entry) error {
	if m.putItemsFn != nil {
		return m.putItemsFn(ctx, name, entries)
	}
	return nil
}

func (m *mockRepo) DeleteItem(ctx context.Context, name string, id item.ID) error {
	if m.deleteItemFn != nil {
		return m.deleteItemFn(ctx, name, id)
	}
	return nil
}

func (m *mockRepo) DeleteItems(ctx context.Context, name string, ids []item.ID) error {
	if m.deleteItemsFn != nil {
		return m.deleteItemsFn(ctx, name, ids)
	}
	return nil
}

func (m *mockRepo) LoadItems(ctx context.Context, name string) ([]domlayer.Entry, error) {
	if m.loadItemsFn != nil {
		return m.loadItemsFn(ctx, name)
	}
	return nil, nil
}

// --- Helpers ---

func pinSpec(lat, lon float64) item.Spec {
	return item.ScreenSpec(geo.Location{Lat: lat, Lon: lon}, item.OriginCenter, item.Size{Width: 20, Height: 20})
}

func testConfig() Config {
	return Config{Seed: 1, MarkerSize: item.Size{Width: 20, Height: 20}, MaxClusterSize: 20, MaxBatchSize: 100}
}

func newTestService(t *testing.T, cfg Config) (*Service, *mockRepo) {
	t.Helper()
	repo := &mockRepo{}
	return New(repo, cfg, nil), repo
}

// --- Tests ---

func TestAddItems_Unclustered(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	ctx := context.Background()
	if _, err := svc.Create(ctx, "pois", false); err != nil {
		t.Fatal(err)
	}

	ids, err := svc.AddItems(ctx, "pois", []item.Spec{pinSpec(10, 10), pinSpec(10, 10)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("unexpected ids %v", ids)
	}

	snap, err := svc.Snapshot("pois")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Len() != 2 || snap.Clustered() {
		t.Errorf("expected 2 unclustered items, got %d (clustered=%v)", snap.Len(), snap.Clustered())
	}
	if snap.Revision() != 2 {
		t.Errorf("expected revision 2, got %d", snap.Revision())
	}
}

func TestAddItems_ClusterOnWrite(t *testing.T) {
	cfg := testConfig()
	cfg.OnWrite = true
	svc, _ := newTestService(t, cfg)
	ctx := context.Background()
	if _, err := svc.Create(ctx, "pois", true); err != nil {
		t.Fatal(err)
	}

	specs := []item.Spec{pinSpec(47.6, -122.3), pinSpec(47.6, -122.3), pinSpec(47.6, -122.3), pinSpec(47.6, -122.3)}
	if _, err := svc.AddItems(ctx, "pois", specs); err != nil {
		t.Fatal(err)
	}

	snap, _ := svc.Snapshot("pois")
	if snap.Len() != 1 {
		t.Fatalf("expected one marker, got %d items", snap.Len())
	}
	m := snap.Items()[0]
	if !m.Synthetic() || snap.LeafCount(m.ID()) != 4 {
		t.Errorf("expected a marker over 4 items, got %v with %d leaves", m, snap.LeafCount(m.ID()))
	}
	if stale, _ := svc.Stale("pois"); stale {
		t.Error("layer must not be stale")
	}
}

func TestAddItems_DeferredClustering(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	ctx := context.Background()
	if _, err := svc.Create(ctx, "pois", true); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.AddItems(ctx, "pois", []item.Spec{pinSpec(0, 0), pinSpec(0, 0)}); err != nil {
		t.Fatal(err)
	}
	if stale, _ := svc.Stale("pois"); !stale {
		t.Fatal("expected stale layer")
	}
	if snap, _ := svc.Snapshot("pois"); snap.Len() != 0 {
		t.Fatalf("expected the previous snapshot to be served, got %d items", snap.Len())
	}

	stats, err := svc.Cluster(ctx, "pois")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Input != 2 || stats.Clusters != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	snap, _ := svc.Snapshot("pois")
	if snap.Len() != 1 || snap.Revision() != 2 {
		t.Errorf("expected 1 item at revision 2, got %d at %d", snap.Len(), snap.Revision())
	}
	if stale, _ := svc.Stale("pois"); stale {
		t.Error("layer must not be stale after clustering")
	}
}

func TestCluster_MarksLayerClustered(t *testing.T) {
	svc, repo := newTestService(t, testConfig())
	ctx := context.Background()
	if _, err := svc.Create(ctx, "pois", false); err != nil {
		t.Fatal(err)
	}
	var saved domlayer.Layer
	repo.saveFn = func(_ context.Context, l domlayer.Layer) error {
		saved = l
		return nil
	}

	if _, err := svc.Cluster(ctx, "pois"); err != nil {
		t.Fatal(err)
	}
	if !saved.Clustered() {
		t.Error("expected clustered flag to be persisted")
	}
	l, _ := svc.Get(ctx, "pois")
	if !l.Clustered() {
		t.Error("expected clustered layer")
	}
}

func TestAddItems_Validation(t *testing.T) {
	svc, repo := newTestService(t, testConfig())
	ctx := context.Background()
	if _, err := svc.Create(ctx, "pois", false); err != nil {
		t.Fatal(err)
	}
	repo.putItemsFn = func(context.Context, string, []domlayer.Entry) error {
		t.Fatal("invalid batches must not reach storage")
		return nil
	}

	bad := pinSpec(0, 0)
	bad.MinZoom, bad.MaxZoom = 5, 2
	synthetic := pinSpec(0, 0)
	synthetic.Synthetic = true
	tooMany := make([]item.Spec, 101)
	for i := range tooMany {
		tooMany[i] = pinSpec(0, 0)
	}

	tests := []struct {
		name    string
		specs   []item.Spec
		wantErr error
	}{
		{"empty", nil, domain.ErrInvalidArgument},
		{"zoom range", []item.Spec{pinSpec(0, 0), bad}, domain.ErrInvalidZoomRange},
		{"synthetic", []item.Spec{synthetic}, domain.ErrInvalidArgument},
		{"batch limit", tooMany, domain.ErrLimitExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddItems(ctx, "pois", tt.specs)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAddItems_StorageFailureRollsBack(t *testing.T) {
	svc, repo := newTestService(t, testConfig())
	ctx := context.Background()
	if _, err := svc.Create(ctx, "pois", false); err != nil {
		t.Fatal(err)
	}

	var discarded []item.ID
	repo.deleteItemsFn = func(_ context.Context, _ string, ids []item.ID) error {
		discarded = ids
		return nil
	}
	repo.putItemsFn = func(context.Context, string, []domlayer.Entry) error { return errors.New("OOM") }
	if _, err := svc.AddItems(ctx, "pois", []item.Spec{pinSpec(0, 0)}); err == nil {
		t.Fatal("expected error")
	}
	if len(discarded) != 1 || discarded[0] != 1 {
		t.Errorf("expected the partial write of id 1 to be removed, got %v", discarded)
	}
	if l, _ := svc.Get(ctx, "pois"); l.Revision() != 1 {
		t.Errorf("failed write bumped the revision to %d", l.Revision())
	}

	repo.putItemsFn = nil
	ids, err := svc.AddItems(ctx, "pois", []item.Spec{pinSpec(1, 1)})
	if err != nil {
		t.Fatal(err)
	}
	if ids[0] != 2 {
		t.Errorf("reserved ids must not be reused, got %d", ids[0])
	}
	snap, _ := svc.Snapshot("pois")
	if snap.Len() != 1 {
		t.Fatalf("failed batch leaked into the layer: %d items", snap.Len())
	}
	if loc := snap.Items()[0].Location(); loc.Lat != 1 {
		t.Errorf("unexpected item served at %v", loc)
	}
}

func TestAddItems_MetadataSaveFailureKeepsItems(t *testing.T) {
	svc, repo := newTestService(t, testConfig())
	ctx := context.Background()
	if _, err := svc.Create(ctx, "pois", false); err != nil {
		t.Fatal(err)
	}
	repo.saveFn = func(context.Context, domlayer.Layer) error { return errors.New("READONLY") }

	ids, err := svc.AddItems(ctx, "pois", []item.Spec{pinSpec(10, 10)})
	if err != nil {
		t.Fatalf("stored items must be reported as added, got %v", err)
	}
	snap, _ := svc.Snapshot("pois")
	if snap.Len() != 1 || snap.Revision() != 2 {
		t.Fatalf("expected the item served at revision 2, got %d at %d", snap.Len(), snap.Revision())
	}
	if l, _ := svc.Get(ctx, "pois"); l.Revision() != 2 {
		t.Errorf("layer revision = %d, want 2", l.Revision())
	}

	repo.saveFn = nil
	if err := svc.RemoveItem(ctx, "pois", ids[0]); err != nil {
		t.Fatalf("item added under a failed save must be removable: %v", err)
	}
}

func TestRemoveItem_StorageFailureKeepsItem(t *testing.T) {
	svc, repo := newTestService(t, testConfig())
	ctx := context.Background()
	if _, err := svc.Create(ctx, "pois", false); err != nil {
		t.Fatal(err)
	}
	ids, err := svc.AddItems(ctx, "pois", []item.Spec{pinSpec(0, 0)})
	if err != nil {
		t.Fatal(err)
	}

	repo.deleteItemFn = func(context.Context, string, item.ID) error { return errors.New("timeout") }
	if err := svc.RemoveItem(ctx, "pois", ids[0]); err == nil {
		t.Fatal("expected error")
	}
	snap, _ := svc.Snapshot("pois")
	if snap.Len() != 1 || snap.Revision() != 2 {
		t.Errorf("failed delete changed the layer: %d items at revision %d", snap.Len(), snap.Revision())
	}
}

func TestPutItems_ReplayIsIdempotent(t *testing.T) {
	svc, repo := newTestService(t, testConfig())
	ctx := context.Background()
	if _, err := svc.Create(ctx, "pois", false); err != nil {
		t.Fatal(err)
	}

	first, err := svc.ReserveIDs(ctx, "pois", 2)
	if err != nil {
		t.Fatal(err)
	}
	batch := []domlayer.Entry{
		{ID: first, Spec: pinSpec(1, 1)},
		{ID: first + 1, Spec: pinSpec(2, 2)},
	}
	for range 2 {
		if err := svc.PutItems(ctx, "pois", batch); err != nil {
			t.Fatal(err)
		}
	}
	snap, _ := svc.Snapshot("pois")
	if snap.Len() != 2 {
		t.Fatalf("replayed batch must not duplicate items, got %d", snap.Len())
	}

	moved := []domlayer.Entry{{ID: first, Spec: pinSpec(3, 3)}}
	if err := svc.PutItems(ctx, "pois", moved); err != nil {
		t.Fatal(err)
	}
	snap, _ = svc.Snapshot("pois")
	if snap.Len() != 2 || snap.Items()[0].Location().Lat != 3 {
		t.Errorf("expected item %d replaced, got %v", first, snap.Items())
	}

	if next, _ := svc.ReserveIDs(ctx, "pois", 1); next != first+2 || repo.seq != first+2 {
		t.Errorf("next reserved id = %d, want %d", next, first+2)
	}
}

func TestPutItems_Validation(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	ctx := context.Background()
	if _, err := svc.Create(ctx, "pois", false); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		entries []domlayer.Entry
		wantErr error
	}{
		{"empty", nil, domain.ErrInvalidArgument},
		{"zero id", []domlayer.Entry{{ID: 0, Spec: pinSpec(0, 0)}}, domain.ErrInvalidArgument},
		{"generated id", []domlayer.Entry{{ID: item.GeneratedIDBase, Spec: pinSpec(0, 0)}}, domain.ErrInvalidArgument},
		{"duplicate id", []domlayer.Entry{{ID: 3, Spec: pinSpec(0, 0)}, {ID: 3, Spec: pinSpec(1, 1)}}, domain.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.PutItems(ctx, "pois", tt.entries); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
	if _, err := svc.ReserveIDs(ctx, "pois", 0); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("ReserveIDs(0): got %v", err)
	}
	if _, err := svc.ReserveIDs(ctx, "nope", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("ReserveIDs on unknown layer: got %v", err)
	}
}

func TestCluster_SaveFailureKeepsLayerUnclustered(t *testing.T) {
	svc, repo := newTestService(t, testConfig())
	ctx := context.Background()
	if _, err := svc.Create(ctx, "pois", false); err != nil {
		t.Fatal(err)
	}
	repo.saveFn = func(context.Context, domlayer.Layer) error { return errors.New("READONLY") }

	if _, err := svc.Cluster(ctx, "pois"); err == nil {
		t.Fatal("expected error")
	}
	if l, _ := svc.Get(ctx, "pois"); l.Clustered() || l.Revision() != 1 {
		t.Errorf("failed cluster changed the layer: %+v", l)
	}
}

func TestSnapshots_NeverReuseMarkerIDs(t *testing.T) {
	cfg := testConfig()
	cfg.OnWrite = true
	svc, _ := newTestService(t, cfg)
	ctx := context.Background()
	if _, err := svc.Create(ctx, "pois", true); err != nil {
		t.Fatal(err)
	}

	seen := make(map[item.ID]bool)
	for i := range 3 {
		if _, err := svc.AddItems(ctx, "pois", []item.Spec{pinSpec(10, 10), pinSpec(10, 10)}); err != nil {
			t.Fatal(err)
		}
		snap, _ := svc.Snapshot("pois")
		for _, it := range snap.Items() {
			if !it.ID().Generated() {
				continue
			}
			if seen[it.ID()] {
				t.Fatalf("round %d: marker id %d reused by a later snapshot", i, it.ID())
			}
		}
		for _, it := range snap.Items() {
			seen[it.ID()] = true
		}
	}
}

func TestRemoveItem(t *testing.T) {
	svc, repo := newTestService(t, testConfig())
	ctx := context.Background()
	if _, err := svc.Create(ctx, "pois", false); err != nil {
		t.Fatal(err)
	}
	ids, err := svc.AddItems(ctx, "pois", []item.Spec{pinSpec(0, 0), pinSpec(5, 5)})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.RemoveItem(ctx, "pois", 99); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	var deleted item.ID
	repo.deleteItemFn = func(_ context.Context, _ string, id item.ID) error {
		deleted = id
		return nil
	}
	if err := svc.RemoveItem(ctx, "pois", ids[0]); err != nil {
		t.Fatal(err)
	}
	if deleted != ids[0] {
		t.Errorf("expected storage delete of %d, got %d", ids[0], deleted)
	}
	snap, _ := svc.Snapshot("pois")
	if snap.Len() != 1 || snap.Items()[0].ID() != ids[1] {
		t.Errorf("unexpected served items %v", snap.Items())
	}
}

func TestLoadAll(t *testing.T) {
	svc, repo := newTestService(t, testConfig())
	repo.listFn = func(context.Context) ([]string, error) { return []string{"pois"}, nil }
	repo.getFn = func(_ context.Context, name string) (domlayer.Layer, error) {
		if name != "pois" {
			t.Errorf("unexpected get of %s", name)
		}
		return domlayer.Reconstruct("pois", true, 1, 5), nil
	}
	repo.loadItemsFn = func(_ context.Context, name string) ([]domlayer.Entry, error) {
		if name != "pois" {
			return nil, nil
		}
		return []domlayer.Entry{
			{ID: 4, Spec: pinSpec(20, 20)},
			{ID: 9, Spec: pinSpec(20, 20)},
		}, nil
	}

	if svc.Ready() {
		t.Fatal("service must not be ready before loading")
	}
	if err := svc.LoadAll(context.Background(), []string{"pois", "bikes"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !svc.Ready() {
		t.Error("expected ready service")
	}
	if len(repo.created) != 1 || repo.created[0] != "bikes" {
		t.Errorf("expected only bikes to be created, got %v", repo.created)
	}

	layers := svc.List(context.Background())
	if len(layers) != 2 || layers[0].Name() != "bikes" || layers[1].Name() != "pois" {
		t.Fatalf("unexpected layers %v", layers)
	}

	snap, _ := svc.Snapshot("pois")
	if snap.Len() != 1 || snap.Revision() != 5 {
		t.Fatalf("expected one marker at revision 5, got %d at %d", snap.Len(), snap.Revision())
	}

	repo.seq = 9
	ids, err := svc.AddItems(context.Background(), "pois", []item.Spec{pinSpec(0, 0)})
	if err != nil {
		t.Fatal(err)
	}
	if ids[0] != 10 {
		t.Errorf("ids come from the store sequence, got %d", ids[0])
	}
}

func TestLoadAll_Error(t *testing.T) {
	svc, repo := newTestService(t, testConfig())
	repo.listFn = func(context.Context) ([]string, error) { return []string{"pois"}, nil }
	repo.getFn = func(context.Context, string) (domlayer.Layer, error) {
		return domlayer.Reconstruct("pois", false, 1, 1), nil
	}
	repo.loadItemsFn = func(context.Context, string) ([]domlayer.Entry, error) {
		return nil, errors.New("connection refused")
	}

	if err := svc.LoadAll(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
	if svc.Ready() {
		t.Error("failed load must not report ready")
	}
}

func TestUnknownLayer(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	ctx := context.Background()

	if _, err := svc.AddItems(ctx, "nope", []item.Spec{pinSpec(0, 0)}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("AddItems: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Snapshot("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Snapshot: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Cluster(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Cluster: expected ErrNotFound, got %v", err)
	}
}

func TestCreate_InvalidName(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	if _, err := svc.Create(context.Background(), "a:b", false); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	ctx := context.Background()
	if _, err := svc.Create(ctx, "pois", false); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, "pois"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, "pois"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestQuery(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	ctx := context.Background()
	if _, err := svc.Create(ctx, "pois", false); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddItems(ctx, "pois", []item.Spec{pinSpec(10, 10), pinSpec(-40, -100)}); err != nil {
		t.Fatal(err)
	}

	viewport, err := geo.NewRectFromCorners(geo.Location{Lat: 20, Lon: 0}, geo.Location{Lat: 0, Lon: 20})
	if err != nil {
		t.Fatal(err)
	}
	items, _, err := svc.Query(ctx, "pois", viewport, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Location().Lat != 10 {
		t.Fatalf("unexpected query result %v", items)
	}

	if _, _, err := svc.Query(ctx, "pois", viewport, -1); !errors.Is(err, domain.ErrInvalidZoomLevel) {
		t.Errorf("expected ErrInvalidZoomLevel, got %v", err)
	}
}

func TestSnapshotFork(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	ctx := context.Background()
	if _, err := svc.Create(ctx, "pois", false); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddItems(ctx, "pois", []item.Spec{pinSpec(1, 1), pinSpec(2, 2)}); err != nil {
		t.Fatal(err)
	}
	snap, _ := svc.Snapshot("pois")

	_, forked := snap.Fork()
	if len(forked) != snap.Len() {
		t.Fatalf("fork has %d items, want %d", len(forked), snap.Len())
	}
	for i, it := range forked {
		orig := snap.Items()[i]
		if it == orig || it.ID() != orig.ID() {
			t.Errorf("fork item %d must be a copy with the same id", i)
		}
		it.SetInView(true)
		if orig.InView() {
			t.Error("fork leaked visibility into the snapshot")
		}
	}
}
