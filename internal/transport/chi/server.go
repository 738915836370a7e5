package chi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/mapcluster/internal/domain"
	"github.com/kailas-cloud/mapcluster/internal/domain/item"
	logpkg "github.com/kailas-cloud/mapcluster/internal/logger"
	healthuc "github.com/kailas-cloud/mapcluster/internal/usecase/health"
	layeruc "github.com/kailas-cloud/mapcluster/internal/usecase/layer"
	viewportuc "github.com/kailas-cloud/mapcluster/internal/usecase/viewport"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 8 << 20

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server serves the layer, query and viewport session API.
type Server struct {
	layers        *layeruc.Service
	viewports     *viewportuc.Service
	health        *healthuc.Service
	logger        *zap.Logger
	validate      *validator.Validate
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	layers *layeruc.Service,
	viewports *viewportuc.Service,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		layers:    layers,
		viewports: viewports,
		health:    health,
		logger:    logger,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, ErrorCodeNotFound),
		sentinelHandler(domain.ErrAlreadyExists, http.StatusConflict, ErrorCodeAlreadyExists),
		sentinelHandler(domain.ErrLimitExceeded, http.StatusTooManyRequests, ErrorCodeLimitExceeded),
		sentinelHandler(domain.ErrInvalidArgument, http.StatusBadRequest, ErrorCodeValidationFailed),
		sentinelHandler(domain.ErrInvalidZoomRange, http.StatusBadRequest, ErrorCodeValidationFailed),
		sentinelHandler(domain.ErrInvalidExtent, http.StatusBadRequest, ErrorCodeValidationFailed),
		sentinelHandler(domain.ErrInvalidZoomLevel, http.StatusBadRequest, ErrorCodeValidationFailed),
		sentinelHandler(domain.ErrOutOfRange, http.StatusBadRequest, ErrorCodeValidationFailed),
		sentinelHandler(domain.ErrNoConvergence, http.StatusInternalServerError, ErrorCodeClusteringFailed),
	}
	return s
}

// Routes registers the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/layers", func(r chi.Router) {
		r.Post("/", s.CreateLayer)
		r.Get("/", s.ListLayers)
		r.Route("/{layer}", func(r chi.Router) {
			r.Get("/", s.GetLayer)
			r.Delete("/", s.DeleteLayer)
			r.Post("/cluster", s.ClusterLayer)
			r.Post("/items", s.AddItems)
			r.Get("/items", s.QueryItems)
			r.Delete("/items/{id}", s.RemoveItem)
			r.Post("/sessions", s.OpenSession)
		})
	})

	r.Route("/sessions/{session}", func(r chi.Router) {
		r.Put("/viewport", s.UpdateViewport)
		r.Get("/items", s.VisibleItems)
		r.Delete("/", s.CloseSession)
	})
}

// Handler returns a router serving the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.Routes(r)
	return r
}

// CreateLayer handles POST /layers.
func (s *Server) CreateLayer(w http.ResponseWriter, r *http.Request) {
	var req createLayerRequest
	if !s.decode(w, r, &req) {
		return
	}

	l, err := s.layers.Create(r.Context(), req.Name, req.Clustered)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	snap, _ := s.layers.Snapshot(l.Name())
	writeJSON(w, http.StatusCreated, layerToResponse(l, snap, false))
}

// ListLayers handles GET /layers.
func (s *Server) ListLayers(w http.ResponseWriter, r *http.Request) {
	layers := s.layers.List(r.Context())
	resp := layerListResponse{Items: make([]layerResponse, 0, len(layers))}
	for _, l := range layers {
		snap, _ := s.layers.Snapshot(l.Name())
		stale, _ := s.layers.Stale(l.Name())
		resp.Items = append(resp.Items, layerToResponse(l, snap, stale))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetLayer handles GET /layers/{layer}.
func (s *Server) GetLayer(w http.ResponseWriter, r *http.Request) {
	name, ok := pathParam(w, r, "layer")
	if !ok {
		return
	}
	l, err := s.layers.Get(r.Context(), name)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	snap, _ := s.layers.Snapshot(name)
	stale, _ := s.layers.Stale(name)

	w.Header().Set("ETag", strconv.Quote(strconv.Itoa(l.Revision())))
	writeJSON(w, http.StatusOK, layerToResponse(l, snap, stale))
}

// DeleteLayer handles DELETE /layers/{layer}.
func (s *Server) DeleteLayer(w http.ResponseWriter, r *http.Request) {
	name, ok := pathParam(w, r, "layer")
	if !ok {
		return
	}
	if err := s.layers.Delete(r.Context(), name); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClusterLayer handles POST /layers/{layer}/cluster.
func (s *Server) ClusterLayer(w http.ResponseWriter, r *http.Request) {
	name, ok := pathParam(w, r, "layer")
	if !ok {
		return
	}
	stats, err := s.layers.Cluster(r.Context(), name)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsToResponse(stats))
}

// AddItems handles POST /layers/{layer}/items.
func (s *Server) AddItems(w http.ResponseWriter, r *http.Request) {
	name, ok := pathParam(w, r, "layer")
	if !ok {
		return
	}
	var req addItemsRequest
	if !s.decode(w, r, &req) {
		return
	}

	specs := make([]item.Spec, len(req.Items))
	for i, it := range req.Items {
		spec, err := it.toSpec()
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrorCodeValidationFailed, err.Error())
			return
		}
		specs[i] = spec
	}

	ids, err := s.layers.AddItems(r.Context(), name, specs)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, addItemsResponse{IDs: ids})
}

// RemoveItem handles DELETE /layers/{layer}/items/{id}.
func (s *Server) RemoveItem(w http.ResponseWriter, r *http.Request) {
	name, ok := pathParam(w, r, "layer")
	if !ok {
		return
	}
	rawID, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	id, err := parseItemID(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, err.Error())
		return
	}
	if err := s.layers.RemoveItem(r.Context(), name, id); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// QueryItems handles GET /layers/{layer}/items. The viewport is given by the
// north, west, south, east and zoom query parameters; format=geojson selects
// a GeoJSON feature collection instead of the item list.
func (s *Server) QueryItems(w http.ResponseWriter, r *http.Request) {
	name, ok := pathParam(w, r, "layer")
	if !ok {
		return
	}

	q := r.URL.Query()
	var north, west, south, east float64
	var zoom int
	var format string
	bindings := []struct {
		name     string
		required bool
		dest     any
	}{
		{"north", true, &north},
		{"west", true, &west},
		{"south", true, &south},
		{"east", true, &east},
		{"zoom", true, &zoom},
		{"format", false, &format},
	}
	for _, b := range bindings {
		if err := runtime.BindQueryParameter("form", true, b.required, b.name, q, b.dest); err != nil {
			writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid query parameter: "+err.Error())
			return
		}
	}

	viewport, err := viewportRect(north, west, south, east)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	items, snap, err := s.layers.Query(r.Context(), name, viewport, zoom)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	w.Header().Set("ETag", strconv.Quote(strconv.Itoa(snap.Revision())))
	switch format {
	case "", "json":
		writeJSON(w, http.StatusOK, itemListResponse{
			Revision: snap.Revision(),
			Items:    itemsToResponse(items, snap),
		})
	case "geojson":
		s.writeGeoJSON(w, items, snap)
	default:
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "format must be json or geojson")
	}
}

// OpenSession handles POST /layers/{layer}/sessions.
func (s *Server) OpenSession(w http.ResponseWriter, r *http.Request) {
	name, ok := pathParam(w, r, "layer")
	if !ok {
		return
	}
	info, err := s.viewports.Open(r.Context(), name)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{ID: info.ID, Layer: info.Layer, Revision: info.Revision})
}

// UpdateViewport handles PUT /sessions/{session}/viewport.
func (s *Server) UpdateViewport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "session")
	if !ok {
		return
	}
	var req viewportRequest
	if !s.decode(w, r, &req) {
		return
	}
	viewport, err := req.toRect()
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	upd, err := s.viewports.Update(r.Context(), id, viewport, req.Zoom)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewportResponse{
		Revision: upd.Revision,
		Changes:  changesToResponse(upd.Changes, upd),
	})
}

// VisibleItems handles GET /sessions/{session}/items.
func (s *Server) VisibleItems(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "session")
	if !ok {
		return
	}
	view, err := s.viewports.Visible(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itemListResponse{
		Revision: view.Revision,
		Items:    itemsToResponse(view.Items, view),
	})
}

// CloseSession handles DELETE /sessions/{session}.
func (s *Server) CloseSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "session")
	if !ok {
		return
	}
	if err := s.viewports.Close(r.Context(), id); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// decode reads and validates a JSON body. On failure it writes the error
// response and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeValidationFailed, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return "field " + fe.Namespace() + " failed on " + fe.Tag()
	}
	return err.Error()
}

func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	var v string
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &v,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid path parameter "+name+": "+err.Error())
		return "", false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrNotFound,
		domain.ErrAlreadyExists,
		domain.ErrLimitExceeded,
		domain.ErrInvalidZoomRange,
		domain.ErrInvalidExtent,
		domain.ErrInvalidZoomLevel,
		domain.ErrOutOfRange,
		domain.ErrInvalidArgument,
		domain.ErrNoConvergence,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logpkg.FromContextOr(r.Context(), s.logger)
	logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal error")
}
