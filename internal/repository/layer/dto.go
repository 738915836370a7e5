package layer

import (
	"fmt"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/kailas-cloud/mapcluster/internal/domain"
	"github.com/kailas-cloud/mapcluster/internal/domain/geo"
	"github.com/kailas-cloud/mapcluster/internal/domain/item"
	domlayer "github.com/kailas-cloud/mapcluster/internal/domain/layer"
)

// Hash field names of a stored item.
const (
	fieldLat     = "lat"
	fieldLon     = "lon"
	fieldKind    = "kind"
	fieldOrigin  = "origin"
	fieldWidth   = "width"
	fieldHeight  = "height"
	fieldMinZoom = "min_zoom"
	fieldMaxZoom = "max_zoom"
	fieldPayload = "payload"
)

// layerMeta is the JSON record of a layer.
type layerMeta struct {
	Name      string `json:"name"`
	Clustered bool   `json:"clustered"`
	CreatedAt int64  `json:"created_at"`
	Revision  int    `json:"revision"`
}

func toMeta(l domlayer.Layer) layerMeta {
	return layerMeta{
		Name:      l.Name(),
		Clustered: l.Clustered(),
		CreatedAt: l.CreatedAt(),
		Revision:  l.Revision(),
	}
}

func (m layerMeta) toDomain() domlayer.Layer {
	return domlayer.Reconstruct(m.Name, m.Clustered, m.CreatedAt, m.Revision)
}

// buildItemFields converts an entry into a flat map[string]string for HSET.
// Payloads are stored as JSON.
func buildItemFields(e domlayer.Entry) (map[string]string, error) {
	s := e.Spec
	m := map[string]string{
		fieldLat:     strconv.FormatFloat(s.Location.Lat, 'f', -1, 64),
		fieldLon:     strconv.FormatFloat(s.Location.Lon, 'f', -1, 64),
		fieldKind:    s.Kind.String(),
		fieldOrigin:  s.Origin.String(),
		fieldWidth:   strconv.FormatFloat(s.Size.Width, 'f', -1, 64),
		fieldHeight:  strconv.FormatFloat(s.Size.Height, 'f', -1, 64),
		fieldMinZoom: strconv.Itoa(s.MinZoom),
		fieldMaxZoom: strconv.Itoa(s.MaxZoom),
	}
	switch p := s.Payload.(type) {
	case nil:
	case json.RawMessage:
		m[fieldPayload] = string(p)
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal payload of item %d: %w", e.ID, err)
		}
		m[fieldPayload] = string(data)
	}
	return m, nil
}

// parseItemFields converts a stored hash back into an entry.
func parseItemFields(id item.ID, m map[string]string) (domlayer.Entry, error) {
	var (
		s    item.Spec
		errs []error
	)
	float := func(field string) float64 {
		v, err := strconv.ParseFloat(m[field], 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
		return v
	}
	integer := func(field string) int {
		v, err := strconv.Atoi(m[field])
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
		return v
	}

	s.Location = geo.Location{Lat: float(fieldLat), Lon: float(fieldLon)}
	s.Size = item.Size{Width: float(fieldWidth), Height: float(fieldHeight)}
	s.MinZoom = integer(fieldMinZoom)
	s.MaxZoom = integer(fieldMaxZoom)
	if len(errs) > 0 {
		return domlayer.Entry{}, fmt.Errorf("item %d: %w: %w", id, domain.ErrInvalidArgument, errs[0])
	}

	kind, err := item.ParseKind(m[fieldKind])
	if err != nil {
		return domlayer.Entry{}, fmt.Errorf("item %d: %w", id, err)
	}
	origin, err := item.ParseOrigin(m[fieldOrigin])
	if err != nil {
		return domlayer.Entry{}, fmt.Errorf("item %d: %w", id, err)
	}
	s.Kind, s.Origin = kind, origin

	if p, ok := m[fieldPayload]; ok && p != "" {
		s.Payload = json.RawMessage(p)
	}
	return domlayer.Entry{ID: id, Spec: s}, nil
}
