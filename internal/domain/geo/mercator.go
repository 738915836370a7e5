package geo

import "math"

// MercatorLatitudeLimit is the latitude (degrees) at which web-mercator y reaches 0 or 1.
const MercatorLatitudeLimit = 85.051128

const (
	radiansPerDegree = math.Pi / 180
	degreesPerRadian = 180 / math.Pi
)

// Location is a geographic position in degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Point is a position in normalized mercator space, the unit square [0,1]².
// x grows eastward from the antimeridian, y grows southward from the north limit.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NormalizeLongitude wraps lon into [-180, 180].
func NormalizeLongitude(lon float64) float64 {
	if lon < -180 || lon > 180 {
		lon -= math.Floor((lon+180)/360) * 360
	}
	return lon
}

// ToPoint projects the location into normalized mercator space.
// Longitude is wrapped, latitude is clamped at MercatorLatitudeLimit.
func (l Location) ToPoint() Point {
	x := NormalizeLongitude(l.Lon)/360 + 0.5

	var y float64
	switch {
	case l.Lat >= MercatorLatitudeLimit:
		y = 0
	case l.Lat <= -MercatorLatitudeLimit:
		y = 1
	default:
		sinLat := math.Sin(l.Lat * radiansPerDegree)
		y = 0.5 - math.Log((1+sinLat)/(1-sinLat))/(4*math.Pi)
	}

	return Point{X: clamp(x, 0, 1), Y: clamp(y, 0, 1)}
}

// ToLocation converts a normalized mercator point back to a geographic location.
func (p Point) ToLocation() Location {
	lat := 90 - 2*math.Atan(math.Exp((p.Y*2-1)*math.Pi))*degreesPerRadian
	return Location{Lat: lat, Lon: (p.X - 0.5) * 360}
}

// DistanceSquared returns the squared euclidean distance between p and q.
func (p Point) DistanceSquared(q Point) float64 {
	dx, dy := p.X-q.X, p.Y-q.Y
	return dx*dx + dy*dy
}

// InUnitSquare reports whether p lies in the closed unit square.
func (p Point) InUnitSquare() bool {
	return p.X >= 0 && p.X <= 1 && p.Y >= 0 && p.Y <= 1
}

// ValidateCoordinates checks that latitude is in [-90,90] and both values are finite.
// Longitude is not range-checked since projection wraps it.
func ValidateCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90
}

// MapWidthPixels returns the width of the whole map in pixels at the given zoom level.
func MapWidthPixels(zoom int) float64 {
	return 256 * math.Exp2(float64(zoom))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// wrapUnit wraps v into [0,1).
func wrapUnit(v float64) float64 {
	return v - math.Floor(v)
}
