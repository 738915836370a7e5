package chi

import (
	"fmt"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/kailas-cloud/mapcluster/internal/cluster"
	"github.com/kailas-cloud/mapcluster/internal/domain"
	"github.com/kailas-cloud/mapcluster/internal/domain/geo"
	"github.com/kailas-cloud/mapcluster/internal/domain/item"
	domlayer "github.com/kailas-cloud/mapcluster/internal/domain/layer"
	layeruc "github.com/kailas-cloud/mapcluster/internal/usecase/layer"
	"github.com/kailas-cloud/mapcluster/internal/visibility"
)

// ErrorCode is a machine-readable error class returned to clients.
type ErrorCode string

// Error codes.
const (
	ErrorCodeBadRequest       ErrorCode = "bad_request"
	ErrorCodeValidationFailed ErrorCode = "validation_failed"
	ErrorCodeUnauthorized     ErrorCode = "unauthorized"
	ErrorCodeNotFound         ErrorCode = "not_found"
	ErrorCodeAlreadyExists    ErrorCode = "already_exists"
	ErrorCodeLimitExceeded    ErrorCode = "limit_exceeded"
	ErrorCodeClusteringFailed ErrorCode = "clustering_failed"
	ErrorCodeInternalError    ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

type createLayerRequest struct {
	Name      string `json:"name" validate:"required,max=64"`
	Clustered bool   `json:"clustered"`
}

type layerResponse struct {
	Name        string `json:"name"`
	Clustered   bool   `json:"clustered"`
	Revision    int    `json:"revision"`
	CreatedAt   int64  `json:"created_at"`
	ServedItems int    `json:"served_items"`
	Stale       bool   `json:"stale"`
}

type layerListResponse struct {
	Items []layerResponse `json:"items"`
}

type itemRequest struct {
	Lat     *float64        `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon     *float64        `json:"lon" validate:"required"`
	Kind    string          `json:"kind" validate:"omitempty,oneof=screen world"`
	Origin  string          `json:"origin" validate:"omitempty,oneof=center bottom_center bottom_left bottom_right center_left center_right"`
	Width   float64         `json:"width" validate:"gt=0,lte=8192"`
	Height  float64         `json:"height" validate:"gt=0,lte=8192"`
	MinZoom int             `json:"min_zoom" validate:"gte=0,lte=22"`
	MaxZoom *int            `json:"max_zoom" validate:"omitempty,gte=0,lte=22"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type addItemsRequest struct {
	Items []itemRequest `json:"items" validate:"required,min=1,dive"`
}

type addItemsResponse struct {
	IDs []item.ID `json:"ids"`
}

type itemResponse struct {
	ID      item.ID `json:"id"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Kind    string  `json:"kind"`
	Origin  string  `json:"origin"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	MinZoom int     `json:"min_zoom"`
	MaxZoom int     `json:"max_zoom"`
	Cluster bool    `json:"cluster"`
	Count   int     `json:"count"`
	Payload any     `json:"payload,omitempty"`
}

type itemListResponse struct {
	Revision int            `json:"revision"`
	Items    []itemResponse `json:"items"`
}

type clusterResponse struct {
	Input    int   `json:"input"`
	Output   int   `json:"output"`
	Clusters int   `json:"clusters"`
	Absorbed int   `json:"absorbed"`
	Splits   int   `json:"splits"`
	Levels   int   `json:"levels"`
	Millis   int64 `json:"duration_ms"`
}

type sessionResponse struct {
	ID       string `json:"id"`
	Layer    string `json:"layer"`
	Revision int    `json:"revision"`
}

type viewportRequest struct {
	North *float64 `json:"north" validate:"required,gte=-90,lte=90"`
	West  *float64 `json:"west" validate:"required"`
	South *float64 `json:"south" validate:"required,gte=-90,lte=90"`
	East  *float64 `json:"east" validate:"required"`
	Zoom  int      `json:"zoom" validate:"gte=0,lte=22"`
}

type changeResponse struct {
	ID      item.ID       `json:"id"`
	Visible bool          `json:"visible"`
	Item    *itemResponse `json:"item,omitempty"`
}

type viewportResponse struct {
	Revision int              `json:"revision"`
	Changes  []changeResponse `json:"changes"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (r itemRequest) toSpec() (item.Spec, error) {
	kind, err := item.ParseKind(r.Kind)
	if err != nil {
		return item.Spec{}, err
	}
	origin, err := item.ParseOrigin(r.Origin)
	if err != nil {
		return item.Spec{}, err
	}
	size := item.Size{Width: r.Width, Height: r.Height}
	maxZoom := item.DeepestZoom(kind, size)
	if r.MaxZoom != nil {
		maxZoom = *r.MaxZoom
	}
	spec := item.Spec{
		Location: geo.Location{Lat: *r.Lat, Lon: *r.Lon},
		Kind:     kind,
		Origin:   origin,
		Size:     size,
		MinZoom:  r.MinZoom,
		MaxZoom:  maxZoom,
	}
	if len(r.Payload) > 0 {
		spec.Payload = r.Payload
	}
	return spec, nil
}

func (r viewportRequest) toRect() (geo.Rect, error) {
	return viewportRect(*r.North, *r.West, *r.South, *r.East)
}

func viewportRect(north, west, south, east float64) (geo.Rect, error) {
	if north <= south {
		return geo.Rect{}, fmt.Errorf("north %v must be above south %v: %w", north, south, domain.ErrInvalidExtent)
	}
	return geo.NewRectFromCorners(geo.Location{Lat: north, Lon: west}, geo.Location{Lat: south, Lon: east})
}

func layerToResponse(l domlayer.Layer, snap *layeruc.Snapshot, stale bool) layerResponse {
	resp := layerResponse{
		Name:      l.Name(),
		Clustered: l.Clustered(),
		Revision:  l.Revision(),
		CreatedAt: l.CreatedAt(),
		Stale:     stale,
	}
	if snap != nil {
		resp.ServedItems = snap.Len()
	}
	return resp
}

// leafCounter reports how many source items an item stands for.
type leafCounter interface {
	LeafCount(id item.ID) int
}

func itemToResponse(it *item.Item, leaves leafCounter) itemResponse {
	loc := it.Location()
	count := 1
	if it.Synthetic() {
		count = leaves.LeafCount(it.ID())
	}
	return itemResponse{
		ID:      it.ID(),
		Lat:     loc.Lat,
		Lon:     loc.Lon,
		Kind:    it.Kind().String(),
		Origin:  it.Origin().String(),
		Width:   it.Size().Width,
		Height:  it.Size().Height,
		MinZoom: it.MinZoom(),
		MaxZoom: it.MaxZoom(),
		Cluster: it.Synthetic(),
		Count:   count,
		Payload: it.Payload(),
	}
}

func itemsToResponse(items []*item.Item, leaves leafCounter) []itemResponse {
	out := make([]itemResponse, len(items))
	for i, it := range items {
		out[i] = itemToResponse(it, leaves)
	}
	return out
}

func changesToResponse(changes []visibility.Change, leaves leafCounter) []changeResponse {
	out := make([]changeResponse, len(changes))
	for i, c := range changes {
		out[i] = changeResponse{ID: c.ID, Visible: c.Visible}
		if c.Visible && c.Item != nil {
			resp := itemToResponse(c.Item, leaves)
			out[i].Item = &resp
		}
	}
	return out
}

func statsToResponse(s cluster.Stats) clusterResponse {
	return clusterResponse{
		Input:    s.Input,
		Output:   s.Output,
		Clusters: s.Clusters,
		Absorbed: s.Absorbed,
		Splits:   s.Splits,
		Levels:   s.Levels,
		Millis:   s.Duration.Milliseconds(),
	}
}

func parseItemID(s string) (item.ID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("item id %q: %w", s, domain.ErrInvalidArgument)
	}
	return item.ID(v), nil
}
