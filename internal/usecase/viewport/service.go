package viewport

import (
	"cmp"
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/mapcluster/internal/domain"
	"github.com/kailas-cloud/mapcluster/internal/domain/geo"
	"github.com/kailas-cloud/mapcluster/internal/domain/item"
	"github.com/kailas-cloud/mapcluster/internal/metrics"
	"github.com/kailas-cloud/mapcluster/internal/usecase/layer"
	"github.com/kailas-cloud/mapcluster/internal/visibility"
)

// Config holds session limits.
type Config struct {
	MaxSessions int
	TTL         time.Duration
}

// Session is one client's view of a layer: a private copy of the layer's
// served items and the visibility state the client was last told about.
type Session struct {
	mu       sync.Mutex
	id       string
	layer    string
	snap     *layer.Snapshot
	arena    *item.Arena
	set      *visibility.Indexed
	lastSeen time.Time
}

// Info describes an open session.
type Info struct {
	ID       string
	Layer    string
	Revision int
}

// Update is the result of moving a session's viewport.
type Update struct {
	Changes  []visibility.Change
	Revision int
	arena    *item.Arena
}

// LeafCount returns the number of source items represented by id.
func (u Update) LeafCount(id item.ID) int { return u.arena.LeafCount(id) }

// View is the set of items a session currently shows.
type View struct {
	Items    []*item.Item
	Revision int
	arena    *item.Arena
}

// LeafCount returns the number of source items represented by id.
func (v View) LeafCount(id item.ID) int { return v.arena.LeafCount(id) }

// Service tracks viewport sessions.
type Service struct {
	layers SnapshotSource
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates a viewport service. logger can be nil.
func New(layers SnapshotSource, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		layers:   layers,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Open starts a session on a layer. Nothing is visible until the first Update.
func (s *Service) Open(_ context.Context, layerName string) (Info, error) {
	snap, err := s.layers.Snapshot(layerName)
	if err != nil {
		return Info{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked()
	if s.cfg.MaxSessions > 0 && len(s.sessions) >= s.cfg.MaxSessions {
		return Info{}, fmt.Errorf("%d open sessions: %w", len(s.sessions), domain.ErrLimitExceeded)
	}

	sess := &Session{id: uuid.NewString(), layer: layerName, lastSeen: s.now()}
	sess.load(snap)
	s.sessions[sess.id] = sess
	metrics.ViewportSessions.Set(float64(len(s.sessions)))

	s.logger.Debug("Session opened",
		zap.String("session", sess.id),
		zap.String("layer", layerName),
		zap.Int("revision", snap.Revision()),
	)
	return Info{ID: sess.id, Layer: layerName, Revision: snap.Revision()}, nil
}

// Update moves a session's viewport and returns the items whose visibility
// flipped. When the layer changed since the last update, the session switches
// to the new snapshot and the diff is taken against what the client was shown.
func (s *Service) Update(_ context.Context, id string, viewport geo.Rect, zoom int) (Update, error) {
	sess, err := s.session(id)
	if err != nil {
		return Update{}, err
	}
	snap, err := s.layers.Snapshot(sess.layer)
	if err != nil {
		return Update{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	var changes []visibility.Change
	if snap != sess.snap {
		changes, err = sess.swap(snap, viewport, zoom)
	} else {
		changes, err = sess.set.UpdateVisibility(viewport, zoom)
	}
	if err != nil {
		return Update{}, fmt.Errorf("update session %s: %w", id, err)
	}

	shown := 0
	for _, c := range changes {
		if c.Visible {
			shown++
		}
	}
	metrics.ObserveVisibility(sess.layer, shown, len(changes)-shown)

	return Update{Changes: changes, Revision: sess.snap.Revision(), arena: sess.arena}, nil
}

// Visible returns the items currently visible in a session.
func (s *Service) Visible(_ context.Context, id string) (View, error) {
	sess, err := s.session(id)
	if err != nil {
		return View{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return View{Items: sess.set.Visible(), Revision: sess.snap.Revision(), arena: sess.arena}, nil
}

// Close ends a session.
func (s *Service) Close(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	delete(s.sessions, id)
	metrics.ViewportSessions.Set(float64(len(s.sessions)))
	return nil
}

// Len returns the number of open sessions.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Run evicts idle sessions every interval until ctx is canceled.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if n := s.evictLocked(); n > 0 {
				s.logger.Info("Idle sessions evicted", zap.Int("count", n))
			}
			s.mu.Unlock()
		}
	}
}

func (s *Service) evictLocked() int {
	if s.cfg.TTL <= 0 {
		return 0
	}
	deadline := s.now().Add(-s.cfg.TTL)
	n := 0
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := sess.lastSeen.Before(deadline)
		sess.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			n++
		}
	}
	if n > 0 {
		metrics.ViewportSessions.Set(float64(len(s.sessions)))
	}
	return n
}

func (s *Service) session(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	now := s.now()
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if s.cfg.TTL > 0 && now.Sub(sess.lastSeen) > s.cfg.TTL {
		delete(s.sessions, id)
		metrics.ViewportSessions.Set(float64(len(s.sessions)))
		return nil, fmt.Errorf("session %s expired: %w", id, domain.ErrNotFound)
	}
	sess.lastSeen = now
	return sess, nil
}

// load replaces the session's items with a private copy of snap.
func (sess *Session) load(snap *layer.Snapshot) {
	arena, items := snap.Fork()
	set := visibility.NewIndexed()
	for _, it := range items {
		set.Add(it)
	}
	sess.snap, sess.arena, sess.set = snap, arena, set
}

// swap moves the session to snap and reports the visibility changes relative
// to the previous snapshot. An item visible in both stays unreported unless it
// was replaced under the same id, in which case it is hidden and shown again.
func (sess *Session) swap(snap *layer.Snapshot, viewport geo.Rect, zoom int) ([]visibility.Change, error) {
	next := &Session{}
	next.load(snap)
	shown, err := next.set.UpdateVisibility(viewport, zoom)
	if err != nil {
		return nil, err
	}
	hidden := sess.set.ClearVisibility()

	stillVisible := make(map[item.ID]*item.Item, len(shown))
	for _, c := range shown {
		stillVisible[c.ID] = c.Item
	}
	changes := make([]visibility.Change, 0, len(shown)+len(hidden))
	kept := make(map[item.ID]struct{})
	for _, c := range hidden {
		if it, ok := stillVisible[c.ID]; ok && sameItem(c.Item, it) {
			kept[c.ID] = struct{}{}
			continue
		}
		changes = append(changes, c)
	}
	for _, c := range shown {
		if _, ok := kept[c.ID]; !ok {
			changes = append(changes, c)
		}
	}
	// Stable, so a replaced item is hidden before it is shown again.
	slices.SortStableFunc(changes, func(a, b visibility.Change) int { return cmp.Compare(a.ID, b.ID) })

	sess.snap, sess.arena, sess.set = next.snap, next.arena, next.set
	return changes, nil
}

// sameItem reports whether a and b describe the same thing to a client.
func sameItem(a, b *item.Item) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Location() == b.Location() &&
		a.Kind() == b.Kind() &&
		a.Origin() == b.Origin() &&
		a.Size() == b.Size() &&
		a.MinZoom() == b.MinZoom() &&
		a.MaxZoom() == b.MaxZoom() &&
		a.Synthetic() == b.Synthetic() &&
		reflect.DeepEqual(a.Payload(), b.Payload())
}
