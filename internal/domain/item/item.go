package item

import (
	"fmt"
	"math"

	"github.com/kailas-cloud/mapcluster/internal/domain"
	"github.com/kailas-cloud/mapcluster/internal/domain/geo"
)

// MaxZoomLevel is the deepest zoom level an item can be registered at.
const MaxZoomLevel = 22

// MaxFootprintTiles bounds how many tiles an item's footprint may span at its
// max zoom. An item is registered in every tile it covers on every level, so
// large world-size items are only accepted with a shallow max zoom.
const MaxFootprintTiles = 1024

// ID identifies an item inside its Arena. Zero means "no item".
type ID uint64

// Kind selects the bounding-rect policy of an item.
type Kind uint8

const (
	// KindFixedScreenSize items keep their pixel size at every zoom level (pushpins, markers).
	KindFixedScreenSize Kind = iota
	// KindFixedWorldSize items keep their size in normalized mercator units.
	KindFixedWorldSize
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindFixedScreenSize:
		return "screen"
	case KindFixedWorldSize:
		return "world"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ParseKind parses the string form of a Kind. Empty means screen.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "screen":
		return KindFixedScreenSize, nil
	case "world":
		return KindFixedWorldSize, nil
	}
	return 0, fmt.Errorf("unknown item kind %q: %w", s, domain.ErrInvalidArgument)
}

// Origin is the point of the item's footprint pinned to its location.
type Origin uint8

// Supported position origins.
const (
	OriginCenter Origin = iota
	OriginBottomCenter
	OriginBottomLeft
	OriginBottomRight
	OriginCenterLeft
	OriginCenterRight
)

var originNames = [...]string{
	OriginCenter:       "center",
	OriginBottomCenter: "bottom_center",
	OriginBottomLeft:   "bottom_left",
	OriginBottomRight:  "bottom_right",
	OriginCenterLeft:   "center_left",
	OriginCenterRight:  "center_right",
}

// String implements fmt.Stringer.
func (o Origin) String() string {
	if int(o) < len(originNames) {
		return originNames[o]
	}
	return fmt.Sprintf("Origin(%d)", uint8(o))
}

// ParseOrigin parses the string form of an Origin. Empty means center.
func ParseOrigin(s string) (Origin, error) {
	if s == "" {
		return OriginCenter, nil
	}
	for i, name := range originNames {
		if name == s {
			return Origin(i), nil
		}
	}
	return 0, fmt.Errorf("unknown position origin %q: %w", s, domain.ErrInvalidArgument)
}

// offset returns the shift from the anchor point to the footprint center.
func (o Origin) offset(w, h float64) (dx, dy float64) {
	switch o {
	case OriginBottomCenter:
		return 0, -h / 2
	case OriginBottomLeft:
		return w / 2, -h / 2
	case OriginBottomRight:
		return -w / 2, -h / 2
	case OriginCenterLeft:
		return w / 2, 0
	case OriginCenterRight:
		return -w / 2, 0
	default:
		return 0, 0
	}
}

// Size is a footprint: pixels for screen items, normalized units for world items.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Spec describes an item to be created.
type Spec struct {
	Location  geo.Location
	Kind      Kind
	Origin    Origin
	Size      Size
	MinZoom   int
	MaxZoom   int
	Synthetic bool
	Payload   any
}

// ScreenSpec returns a fixed-screen-size spec visible at every zoom level.
func ScreenSpec(loc geo.Location, origin Origin, px Size) Spec {
	return Spec{
		Location: loc,
		Kind:     KindFixedScreenSize,
		Origin:   origin,
		Size:     px,
		MaxZoom:  MaxZoomLevel,
	}
}

// Validate checks zoom range, size, footprint and coordinates.
func (s Spec) Validate() error {
	if s.MinZoom < 0 || s.MinZoom > s.MaxZoom || s.MaxZoom > MaxZoomLevel {
		return domain.NewZoomRangeError(s.MinZoom, s.MaxZoom)
	}
	if !(s.Size.Width > 0) || !(s.Size.Height > 0) {
		return fmt.Errorf("size %vx%v: %w", s.Size.Width, s.Size.Height, domain.ErrInvalidExtent)
	}
	if !geo.ValidateCoordinates(s.Location.Lat, s.Location.Lon) {
		return fmt.Errorf("coordinates (%v, %v): %w", s.Location.Lat, s.Location.Lon, domain.ErrInvalidArgument)
	}
	switch s.Kind {
	case KindFixedScreenSize, KindFixedWorldSize:
	default:
		return fmt.Errorf("kind %d: %w", s.Kind, domain.ErrInvalidArgument)
	}
	if int(s.Origin) >= len(originNames) {
		return fmt.Errorf("origin %d: %w", s.Origin, domain.ErrInvalidArgument)
	}
	if n := footprintTiles(s.Kind, s.Size, s.MaxZoom); n > MaxFootprintTiles {
		return fmt.Errorf("footprint spans %.0f tiles at zoom %d, limit %d (deepest allowed zoom %d): %w",
			n, s.MaxZoom, MaxFootprintTiles, DeepestZoom(s.Kind, s.Size), domain.ErrInvalidExtent)
	}
	return nil
}

// DeepestZoom returns the largest max zoom a footprint of kind and size may
// use without exceeding MaxFootprintTiles.
func DeepestZoom(k Kind, sz Size) int {
	for z := MaxZoomLevel; z > 0; z-- {
		if footprintTiles(k, sz, z) <= MaxFootprintTiles {
			return z
		}
	}
	return 0
}

// footprintTiles is an upper bound of the tiles a footprint overlaps at zoom.
// It never decreases with zoom.
func footprintTiles(k Kind, sz Size, zoom int) float64 {
	tiles := math.Exp2(float64(zoom))
	w, h := sz.Width, sz.Height
	if k == KindFixedScreenSize {
		mapWidth := geo.MapWidthPixels(zoom)
		w, h = w/mapWidth, h/mapWidth
	}
	span := func(extent float64) float64 {
		return math.Min(math.Ceil(extent*tiles)+1, tiles)
	}
	return span(w) * span(h)
}

// Item is a geo-located map item with a zoom-dependent footprint.
// Location, kind, size and zoom range are immutable after construction.
type Item struct {
	id        ID
	source    ID
	location  geo.Location
	point     geo.Point
	kind      Kind
	origin    Origin
	size      Size
	minZoom   int
	maxZoom   int
	synthetic bool
	payload   any

	inView   bool
	parent   ID
	children []ID
}

func newItem(id ID, s Spec) *Item {
	return &Item{
		id:        id,
		source:    id,
		location:  s.Location,
		point:     s.Location.ToPoint(),
		kind:      s.Kind,
		origin:    s.Origin,
		size:      s.Size,
		minZoom:   s.MinZoom,
		maxZoom:   s.MaxZoom,
		synthetic: s.Synthetic,
		payload:   s.Payload,
	}
}

// ID returns the arena identifier.
func (it *Item) ID() ID { return it.id }

// Source returns the id of the item this one was derived from, or its own id.
func (it *Item) Source() ID { return it.source }

// Location returns the geographic anchor.
func (it *Item) Location() geo.Location { return it.location }

// Point returns the anchor in normalized mercator space.
func (it *Item) Point() geo.Point { return it.point }

// Kind returns the bounding-rect policy.
func (it *Item) Kind() Kind { return it.kind }

// Origin returns the position origin.
func (it *Item) Origin() Origin { return it.origin }

// Size returns the footprint size.
func (it *Item) Size() Size { return it.size }

// MinZoom returns the lowest zoom level the item is shown at.
func (it *Item) MinZoom() int { return it.minZoom }

// MaxZoom returns the highest zoom level the item is shown at.
func (it *Item) MaxZoom() int { return it.maxZoom }

// VisibleAt reports whether zoom lies in the item's zoom range.
func (it *Item) VisibleAt(zoom int) bool { return zoom >= it.minZoom && zoom <= it.maxZoom }

// Synthetic reports whether the item is a cluster marker.
func (it *Item) Synthetic() bool { return it.synthetic }

// Payload returns the caller-owned value attached at construction.
func (it *Item) Payload() any { return it.payload }

// InView reports the last visibility computed for the item.
func (it *Item) InView() bool { return it.inView }

// SetInView updates the in-view flag and reports whether it flipped.
// Only visibility engines call this.
func (it *Item) SetInView(v bool) bool {
	if it.inView == v {
		return false
	}
	it.inView = v
	return true
}

// Parent returns the id of the cluster standing in for this item, or 0.
func (it *Item) Parent() ID { return it.parent }

// Children returns the ids of the items this cluster stands in for.
func (it *Item) Children() []ID { return it.children }

// Spec returns a spec that recreates the item.
func (it *Item) Spec() Spec {
	return Spec{
		Location:  it.location,
		Kind:      it.kind,
		Origin:    it.origin,
		Size:      it.size,
		MinZoom:   it.minZoom,
		MaxZoom:   it.maxZoom,
		Synthetic: it.synthetic,
		Payload:   it.payload,
	}
}

// BoundingRect returns the item's footprint at the given zoom level.
func (it *Item) BoundingRect(zoom int) geo.Rect {
	w, h := it.size.Width, it.size.Height
	if it.kind == KindFixedScreenSize {
		mapWidth := geo.MapWidthPixels(zoom)
		w, h = w/mapWidth, h/mapWidth
	}

	dx, dy := it.origin.offset(w, h)
	center := geo.Point{
		X: it.point.X + dx,
		Y: math.Min(math.Max(it.point.Y+dy, 0), 1),
	}
	if center.X < 0 || center.X > 1 {
		center.X -= math.Floor(center.X)
	}

	// Validate guarantees positive extent and the center is inside the unit square.
	r, _ := geo.NewRect(center, w, h)
	return r
}

// String implements fmt.Stringer.
func (it *Item) String() string {
	return fmt.Sprintf("Item{%d (%.5f,%.5f) z[%d,%d]}", it.id, it.location.Lat, it.location.Lon, it.minZoom, it.maxZoom)
}
