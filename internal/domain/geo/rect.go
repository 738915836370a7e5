package geo

import (
	"fmt"
	"math"

	"github.com/kailas-cloud/mapcluster/internal/domain"
)

// Box is an axis-aligned rectangle in normalized mercator space.
type Box struct {
	MinX, MinY, MaxX, MaxY float64
}

// UnitBox covers the whole normalized mercator square.
var UnitBox = Box{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}

// Width returns the horizontal extent.
func (b Box) Width() float64 { return b.MaxX - b.MinX }

// Height returns the vertical extent.
func (b Box) Height() float64 { return b.MaxY - b.MinY }

// Center returns the midpoint of the box.
func (b Box) Center() Point {
	return Point{X: (b.MinX + b.MaxX) / 2, Y: (b.MinY + b.MaxY) / 2}
}

// Intersects reports a nonzero-area overlap. Touching edges do not intersect.
func (b Box) Intersects(o Box) bool {
	return b.MinX < o.MaxX && o.MinX < b.MaxX && b.MinY < o.MaxY && o.MinY < b.MaxY
}

// Contains reports whether o lies inside b (edges inclusive).
func (b Box) Contains(o Box) bool {
	return o.MinX >= b.MinX && o.MaxX <= b.MaxX && o.MinY >= b.MinY && o.MaxY <= b.MaxY
}

// ContainsPoint reports whether p lies inside b (edges inclusive).
func (b Box) ContainsPoint(p Point) bool {
	return p.X >= b.MinX && p.X <= b.MaxX && p.Y >= b.MinY && p.Y <= b.MaxY
}

// Quadrant returns child i of b: 0 north-west, 1 north-east, 2 south-west, 3 south-east.
func (b Box) Quadrant(i int) Box {
	hw, hh := b.Width()/2, b.Height()/2
	minX, minY := b.MinX+float64(i%2)*hw, b.MinY+float64(i/2)*hh
	return Box{MinX: minX, MinY: minY, MaxX: minX + hw, MaxY: minY + hh}
}

func (b Box) distanceSquaredToPoint(p Point) float64 {
	dx := math.Max(0, math.Max(b.MinX-p.X, p.X-b.MaxX))
	dy := math.Max(0, math.Max(b.MinY-p.Y, p.Y-b.MaxY))
	return dx*dx + dy*dy
}

func (b Box) distanceSquaredToBox(o Box) float64 {
	dx := math.Max(0, math.Max(b.MinX-o.MaxX, o.MinX-b.MaxX))
	dy := math.Max(0, math.Max(b.MinY-o.MaxY, o.MinY-b.MaxY))
	return dx*dx + dy*dy
}

// Rect is a rectangle in normalized mercator space that may straddle the antimeridian.
// It holds one part, or two parts sharing top and bottom: part 0 spans [0, east] and
// part 1 spans [west, 1]. The zero value is the empty rect.
type Rect struct {
	parts [2]Box
	n     int
}

// NewRect builds a rect around center. Vertical extent is clamped to [0,1], horizontal
// extent wraps around the seam; width >= 1 spans the whole map.
func NewRect(center Point, width, height float64) (Rect, error) {
	if !center.InUnitSquare() {
		return Rect{}, fmt.Errorf("center (%v, %v) outside unit square: %w", center.X, center.Y, domain.ErrOutOfRange)
	}
	if !(width > 0) || !(height > 0) {
		return Rect{}, fmt.Errorf("width %v, height %v: %w", width, height, domain.ErrInvalidExtent)
	}

	top := clamp(center.Y-height/2, 0, 1)
	bottom := clamp(center.Y+height/2, 0, 1)

	if width >= 1 {
		return fromEdges(0, 1, top, bottom), nil
	}

	west := wrapUnit(center.X - width/2)
	east := center.X + width/2
	if east > 1 {
		east = wrapUnit(east)
		if east == 0 {
			east = 1
		}
	}
	return fromEdges(west, east, top, bottom), nil
}

// NewRectFromCorners builds a rect from geographic north-west and south-east corners.
// A north-west longitude east of the south-east one yields a rect crossing the antimeridian.
func NewRectFromCorners(nw, se Location) (Rect, error) {
	p, q := nw.ToPoint(), se.ToPoint()
	if !(p.Y < q.Y) || p.X == q.X {
		return Rect{}, fmt.Errorf("degenerate corners %v %v: %w", nw, se, domain.ErrInvalidExtent)
	}
	r := fromEdges(p.X, q.X, p.Y, q.Y)
	if r.IsEmpty() {
		return Rect{}, fmt.Errorf("degenerate corners %v %v: %w", nw, se, domain.ErrInvalidExtent)
	}
	return r, nil
}

// NewRectFromBox wraps a single box without validation. Boxes outside the unit square
// are allowed so that callers can build deliberately out-of-range query rects.
func NewRectFromBox(b Box) Rect {
	return Rect{parts: [2]Box{b}, n: 1}
}

func fromEdges(west, east, top, bottom float64) Rect {
	if west < east {
		return Rect{parts: [2]Box{{MinX: west, MinY: top, MaxX: east, MaxY: bottom}}, n: 1}
	}

	var r Rect
	if east > 0 {
		r.parts[r.n] = Box{MinX: 0, MinY: top, MaxX: east, MaxY: bottom}
		r.n++
	}
	if west < 1 {
		r.parts[r.n] = Box{MinX: west, MinY: top, MaxX: 1, MaxY: bottom}
		r.n++
	}
	return r
}

// Parts returns the one or two boxes making up the rect.
func (r Rect) Parts() []Box {
	return r.parts[:r.n]
}

// Wraps reports whether the rect crosses the antimeridian.
func (r Rect) Wraps() bool { return r.n == 2 }

// IsEmpty reports whether the rect has no area.
func (r Rect) IsEmpty() bool {
	return r.n == 0 || r.Width() <= 0 || r.Height() <= 0
}

// Top returns the minimum y.
func (r Rect) Top() float64 { return r.parts[0].MinY }

// Bottom returns the maximum y.
func (r Rect) Bottom() float64 { return r.parts[0].MaxY }

// Width returns the total horizontal extent across all parts.
func (r Rect) Width() float64 {
	var w float64
	for _, p := range r.Parts() {
		w += p.Width()
	}
	return w
}

// Height returns the vertical extent.
func (r Rect) Height() float64 {
	if r.n == 0 {
		return 0
	}
	return r.parts[0].Height()
}

// Centroid returns the center of the rect. For a wrapping rect the center is measured
// across the seam and wrapped back into [0,1).
func (r Rect) Centroid() Point {
	switch r.n {
	case 0:
		return Point{}
	case 1:
		return r.parts[0].Center()
	}
	east, west := r.parts[0], r.parts[1]
	x := wrapUnit((west.MinX + east.MaxX + 1) / 2)
	return Point{X: x, Y: (east.MinY + east.MaxY) / 2}
}

// Intersects reports whether any pair of parts overlaps with nonzero area.
func (r Rect) Intersects(o Rect) bool {
	for _, a := range r.Parts() {
		for _, b := range o.Parts() {
			if a.Intersects(b) {
				return true
			}
		}
	}
	return false
}

// IntersectsBox reports whether any part overlaps b with nonzero area.
func (r Rect) IntersectsBox(b Box) bool {
	for _, a := range r.Parts() {
		if a.Intersects(b) {
			return true
		}
	}
	return false
}

// Contains reports whether every part of o lies inside some part of r.
func (r Rect) Contains(o Rect) bool {
	if o.n == 0 {
		return false
	}
	for _, b := range o.Parts() {
		inside := false
		for _, a := range r.Parts() {
			if a.Contains(b) {
				inside = true
				break
			}
		}
		if !inside {
			return false
		}
	}
	return true
}

// ContainsPoint reports whether p lies inside some part of r.
func (r Rect) ContainsPoint(p Point) bool {
	for _, a := range r.Parts() {
		if a.ContainsPoint(p) {
			return true
		}
	}
	return false
}

// Union returns the smallest rect of the same shape family covering r and o.
// A single rect merged into a wrapping one is absorbed by the side with the smaller gap.
func (r Rect) Union(o Rect) Rect {
	switch {
	case r.n == 0:
		return o
	case o.n == 0:
		return r
	case r.n == 1 && o.n == 1:
		a, b := r.parts[0], o.parts[0]
		return Rect{parts: [2]Box{{
			MinX: math.Min(a.MinX, b.MinX), MinY: math.Min(a.MinY, b.MinY),
			MaxX: math.Max(a.MaxX, b.MaxX), MaxY: math.Max(a.MaxY, b.MaxY),
		}}, n: 1}
	case r.n == 1:
		return o.Union(r)
	}

	top := math.Min(r.Top(), o.Top())
	bottom := math.Max(r.Bottom(), o.Bottom())
	east, west := r.parts[0].MaxX, r.parts[1].MinX

	if o.n == 2 {
		east = math.Max(east, o.parts[0].MaxX)
		west = math.Min(west, o.parts[1].MinX)
	} else {
		s := o.parts[0]
		eastGap := math.Max(0, s.MinX-east)
		westGap := math.Max(0, west-s.MaxX)
		if eastGap <= westGap {
			east = math.Max(east, s.MaxX)
		} else {
			west = math.Min(west, s.MinX)
		}
	}

	if east >= west {
		return fromEdges(0, 1, top, bottom)
	}
	return fromEdges(west, east, top, bottom)
}

// DistanceSquaredToPoint returns the minimum squared distance from any part to p.
func (r Rect) DistanceSquaredToPoint(p Point) float64 {
	d := math.Inf(1)
	for _, a := range r.Parts() {
		d = math.Min(d, a.distanceSquaredToPoint(p))
	}
	return d
}

// DistanceSquaredToRect returns the minimum squared distance between any pair of parts.
func (r Rect) DistanceSquaredToRect(o Rect) float64 {
	d := math.Inf(1)
	for _, a := range r.Parts() {
		for _, b := range o.Parts() {
			d = math.Min(d, a.distanceSquaredToBox(b))
		}
	}
	return d
}

// String implements fmt.Stringer.
func (r Rect) String() string {
	switch r.n {
	case 0:
		return "Rect{}"
	case 1:
		p := r.parts[0]
		return fmt.Sprintf("Rect{x:[%g,%g] y:[%g,%g]}", p.MinX, p.MaxX, p.MinY, p.MaxY)
	}
	return fmt.Sprintf("Rect{x:[0,%g]+[%g,1] y:[%g,%g]}",
		r.parts[0].MaxX, r.parts[1].MinX, r.Top(), r.Bottom())
}
