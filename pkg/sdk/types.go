package mapcluster

import (
	"fmt"
	"time"

	"github.com/kailas-cloud/mapcluster/internal/cluster"
	"github.com/kailas-cloud/mapcluster/internal/domain"
	"github.com/kailas-cloud/mapcluster/internal/domain/geo"
	"github.com/kailas-cloud/mapcluster/internal/domain/item"
	domlayer "github.com/kailas-cloud/mapcluster/internal/domain/layer"
	"github.com/kailas-cloud/mapcluster/internal/visibility"
)

// MaxZoomLevel is the deepest supported zoom level.
const MaxZoomLevel = item.MaxZoomLevel

// Kind selects how an item's footprint scales with zoom.
type Kind string

// Item kinds.
const (
	KindScreen Kind = "screen" // fixed pixel size
	KindWorld  Kind = "world"  // fixed size in normalized mercator units
)

// Origin is the point of the footprint anchored at the item's location.
type Origin string

// Anchor origins.
const (
	OriginCenter       Origin = "center"
	OriginBottomCenter Origin = "bottom_center"
	OriginBottomLeft   Origin = "bottom_left"
	OriginBottomRight  Origin = "bottom_right"
	OriginCenterLeft   Origin = "center_left"
	OriginCenterRight  Origin = "center_right"
)

// ItemSpec describes an item to add to a layer.
type ItemSpec struct {
	Lat, Lon float64
	Kind     Kind   // empty means KindScreen
	Origin   Origin // empty means OriginCenter
	Width    float64
	Height   float64
	MinZoom  int
	MaxZoom  int // 0 means the deepest zoom the footprint allows
	Payload  any
}

// Item is an item served at some zoom level: an added item or a cluster marker.
type Item struct {
	ID       uint64
	Lat, Lon float64
	Kind     Kind
	Origin   Origin
	Width    float64
	Height   float64
	MinZoom  int
	MaxZoom  int
	Cluster  bool
	Count    int // source items represented, 1 for plain items
	Payload  any
}

// Layer describes a layer and the state of its served set.
type Layer struct {
	Name        string
	Clustered   bool
	Revision    int
	CreatedAt   time.Time
	ServedItems int
	Stale       bool
}

// ClusterStats summarizes a clustering run.
type ClusterStats struct {
	Input    int
	Output   int
	Clusters int
	Absorbed int
	Splits   int
	Levels   int
	Duration time.Duration
}

// Viewport is the visible map rectangle in degrees at a zoom level.
// West may be greater than East when the viewport crosses the antimeridian.
type Viewport struct {
	North, West, South, East float64
	Zoom                     int
}

// Session identifies an open viewport session.
type Session struct {
	ID       string
	Layer    string
	Revision int
}

// Change reports an item entering (Visible) or leaving the viewport.
// Item is set only for entering items.
type Change struct {
	ID      uint64
	Visible bool
	Item    *Item
}

// Update is the result of moving a session's viewport.
type Update struct {
	Revision int
	Changes  []Change
}

// --- Converters ---

func (s ItemSpec) toDomain() (item.Spec, error) {
	kind, err := item.ParseKind(string(s.Kind))
	if err != nil {
		return item.Spec{}, err
	}
	origin, err := item.ParseOrigin(string(s.Origin))
	if err != nil {
		return item.Spec{}, err
	}
	size := item.Size{Width: s.Width, Height: s.Height}
	maxZoom := s.MaxZoom
	if maxZoom == 0 {
		maxZoom = item.DeepestZoom(kind, size)
	}
	return item.Spec{
		Location: geo.Location{Lat: s.Lat, Lon: s.Lon},
		Kind:     kind,
		Origin:   origin,
		Size:     size,
		MinZoom:  s.MinZoom,
		MaxZoom:  maxZoom,
		Payload:  s.Payload,
	}, nil
}

func (v Viewport) toRect() (geo.Rect, error) {
	if v.North <= v.South {
		return geo.Rect{}, fmt.Errorf("north %v must be above south %v: %w", v.North, v.South, domain.ErrInvalidExtent)
	}
	return geo.NewRectFromCorners(geo.Location{Lat: v.North, Lon: v.West}, geo.Location{Lat: v.South, Lon: v.East})
}

type leafCounter interface {
	LeafCount(id item.ID) int
}

func itemFromDomain(it *item.Item, leaves leafCounter) Item {
	loc := it.Location()
	count := 1
	if it.Synthetic() {
		count = leaves.LeafCount(it.ID())
	}
	return Item{
		ID:      uint64(it.ID()),
		Lat:     loc.Lat,
		Lon:     loc.Lon,
		Kind:    Kind(it.Kind().String()),
		Origin:  Origin(it.Origin().String()),
		Width:   it.Size().Width,
		Height:  it.Size().Height,
		MinZoom: it.MinZoom(),
		MaxZoom: it.MaxZoom(),
		Cluster: it.Synthetic(),
		Count:   count,
		Payload: it.Payload(),
	}
}

func itemsFromDomain(items []*item.Item, leaves leafCounter) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = itemFromDomain(it, leaves)
	}
	return out
}

func changesFromDomain(changes []visibility.Change, leaves leafCounter) []Change {
	out := make([]Change, len(changes))
	for i, c := range changes {
		out[i] = Change{ID: uint64(c.ID), Visible: c.Visible}
		if c.Visible && c.Item != nil {
			it := itemFromDomain(c.Item, leaves)
			out[i].Item = &it
		}
	}
	return out
}

func layerFromDomain(l domlayer.Layer, served int, stale bool) Layer {
	return Layer{
		Name:        l.Name(),
		Clustered:   l.Clustered(),
		Revision:    l.Revision(),
		CreatedAt:   time.UnixMilli(l.CreatedAt()),
		ServedItems: served,
		Stale:       stale,
	}
}

func statsFromDomain(s cluster.Stats) ClusterStats {
	return ClusterStats{
		Input:    s.Input,
		Output:   s.Output,
		Clusters: s.Clusters,
		Absorbed: s.Absorbed,
		Splits:   s.Splits,
		Levels:   s.Levels,
		Duration: s.Duration,
	}
}
