package chi

import (
	"net/http"
	"strconv"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/kailas-cloud/mapcluster/internal/domain/item"
)

const contentTypeGeoJSON = "application/geo+json"

// itemsToFeatures renders items as point features at their anchor locations.
func itemsToFeatures(items []*item.Item, leaves leafCounter) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(items))}
	for _, it := range items {
		resp := itemToResponse(it, leaves)
		props := map[string]any{
			"kind":     resp.Kind,
			"origin":   resp.Origin,
			"width":    resp.Width,
			"height":   resp.Height,
			"min_zoom": resp.MinZoom,
			"max_zoom": resp.MaxZoom,
			"cluster":  resp.Cluster,
			"count":    resp.Count,
		}
		if resp.Payload != nil {
			props["payload"] = resp.Payload
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         strconv.FormatUint(uint64(it.ID()), 10),
			Geometry:   geom.NewPointFlat(geom.XY, []float64{resp.Lon, resp.Lat}),
			Properties: props,
		})
	}
	return fc
}

func (s *Server) writeGeoJSON(w http.ResponseWriter, items []*item.Item, leaves leafCounter) {
	data, err := itemsToFeatures(items, leaves).MarshalJSON()
	if err != nil {
		s.logger.Error("encode geojson", zap.Error(err))
		writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal error")
		return
	}
	w.Header().Set("Content-Type", contentTypeGeoJSON)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
