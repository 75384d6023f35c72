package http

import (
	"log/slog"
	"net/http"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/acl"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/httputil"
)

// CheckHandler answers permission checks for the calling user.
type CheckHandler struct {
	engine *acl.Engine
	logger *slog.Logger
}

// NewCheckHandler creates a new permission check HTTP handler.
func NewCheckHandler(engine *acl.Engine, logger *slog.Logger) *CheckHandler {
	return &CheckHandler{engine: engine, logger: logger}
}

// PageBatchRequest lists page paths to check at once.
type PageBatchRequest struct {
	Paths []string `json:"paths" validate:"required,max=500"`
}

// MetricBatchRequest lists metric keys to check at once.
type MetricBatchRequest struct {
	Keys []string `json:"keys" validate:"required,max=500"`
}

// PageCheckResponse is the result of a single page check.
type PageCheckResponse struct {
	Path          string `json:"path"`
	HasPermission bool   `json:"has_permission"`
	Source        string `json:"source"`
}

// BatchResponse maps each requested path or key to its decision.
type BatchResponse struct {
	Results map[string]bool `json:"results"`
}

func principal(r *http.Request) acl.Principal {
	c := caller(r)
	return acl.Principal{Email: c.Email, Roles: c.Roles}
}

// CheckAction handles GET /permissions/actions/check/*. An empty key is
// answered by the engine as a denial.
func (h *CheckHandler) CheckAction(w http.ResponseWriter, r *http.Request) {
	key := pathParam(r, "*")
	decision, err := h.engine.CheckAction(r.Context(), principal(r), key)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decision)
}

// CheckPage handles GET /permissions/pages/check/*
func (h *CheckHandler) CheckPage(w http.ResponseWriter, r *http.Request) {
	path := domain.NormalizePagePath(pathParam(r, "*"))
	decision, err := h.engine.CheckPage(r.Context(), principal(r), path)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, PageCheckResponse{
		Path:          path,
		HasPermission: decision.HasPermission,
		Source:        decision.Source,
	})
}

// CheckPages handles POST /permissions/pages/check-batch
func (h *CheckHandler) CheckPages(w http.ResponseWriter, r *http.Request) {
	var req PageBatchRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	results, err := h.engine.CheckPages(r.Context(), principal(r), req.Paths)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, BatchResponse{Results: results})
}

// CheckMetric handles GET /permissions/metrics/check/*
func (h *CheckHandler) CheckMetric(w http.ResponseWriter, r *http.Request) {
	key := pathParam(r, "*")
	if key == "" {
		httputil.WriteDetail(w, http.StatusBadRequest, "INVALID_INPUT", "metric key is required")
		return
	}
	decision, err := h.engine.CheckMetric(r.Context(), principal(r), key)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decision)
}

// CheckMetrics handles POST /permissions/metrics/check-batch
func (h *CheckHandler) CheckMetrics(w http.ResponseWriter, r *http.Request) {
	var req MetricBatchRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	results, err := h.engine.CheckMetrics(r.Context(), principal(r), req.Keys)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, BatchResponse{Results: results})
}
