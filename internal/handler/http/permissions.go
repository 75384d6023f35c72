package http

import (
	"log/slog"
	"net/http"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/service"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/httputil"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/pagination"
)

// PermissionHandler serves the admin permission-set, rule and action endpoints.
type PermissionHandler struct {
	service *service.PermissionService
	logger  *slog.Logger
}

// NewPermissionHandler creates a new permission admin HTTP handler.
func NewPermissionHandler(svc *service.PermissionService, logger *slog.Logger) *PermissionHandler {
	return &PermissionHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// PermissionSetRequest is the body of set create, replace and patch.
type PermissionSetRequest struct {
	Name         *string `json:"name" validate:"omitempty,max=255"`
	Description  *string `json:"description" validate:"omitempty,max=2000"`
	TemplateRole *string `json:"template_role"`
}

// AssignmentRequest assigns a set to a user, group or role.
type AssignmentRequest struct {
	PrincipalType string `json:"principal_type" validate:"required,oneof=user group role"`
	PrincipalID   string `json:"principal_id" validate:"required"`
}

// GrantRequest adds a page path, action key or metric key to a set.
type GrantRequest struct {
	Key string `json:"key" validate:"required,max=512"`
}

// RuleRequest upserts one allow/deny row.
type RuleRequest struct {
	Key     string `json:"key" validate:"required,max=512"`
	Enabled bool   `json:"enabled"`
}

// ActionRequest registers or updates a permission action.
type ActionRequest struct {
	Key            string `json:"key" validate:"required,actionkey"`
	PackName       string `json:"pack_name"`
	Label          string `json:"label" validate:"max=255"`
	Description    string `json:"description"`
	DefaultEnabled bool   `json:"default_enabled"`
}

// --- Permission sets ---

// ListSets handles GET /admin/permissions/sets
func (h *PermissionHandler) ListSets(w http.ResponseWriter, r *http.Request) {
	sets, err := h.service.ListSets(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sets)
}

// GetSet handles GET /admin/permissions/sets/{id}
func (h *PermissionHandler) GetSet(w http.ResponseWriter, r *http.Request) {
	set, err := h.service.GetSet(r.Context(), pathParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, set)
}

// CreateSet handles POST /admin/permissions/sets
func (h *PermissionHandler) CreateSet(w http.ResponseWriter, r *http.Request) {
	var req PermissionSetRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	set, err := h.service.CreateSet(r.Context(), caller(r).Email, service.PermissionSetPatch(req))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, set)
}

// UpdateSet handles PUT and PATCH /admin/permissions/sets/{id}
func (h *PermissionHandler) UpdateSet(w http.ResponseWriter, r *http.Request) {
	var req PermissionSetRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	set, err := h.service.UpdateSet(r.Context(), caller(r).Email, pathParam(r, "id"), service.PermissionSetPatch(req))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, set)
}

// DeleteSet handles DELETE /admin/permissions/sets/{id}
func (h *PermissionHandler) DeleteSet(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteSet(r.Context(), caller(r).Email, pathParam(r, "id")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAssignments handles GET /admin/permissions/sets/{id}/assignments
func (h *PermissionHandler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListAssignments(r.Context(), pathParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

// AddAssignment handles POST /admin/permissions/sets/{id}/assignments
func (h *PermissionHandler) AddAssignment(w http.ResponseWriter, r *http.Request) {
	var req AssignmentRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	a, err := h.service.AddAssignment(r.Context(), caller(r).Email, pathParam(r, "id"), domain.PrincipalType(req.PrincipalType), req.PrincipalID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, a)
}

// DeleteAssignment handles DELETE /admin/permissions/sets/{id}/assignments/{assignmentID}
func (h *PermissionHandler) DeleteAssignment(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteAssignment(r.Context(), caller(r).Email, pathParam(r, "id"), pathParam(r, "assignmentID")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListGrants handles GET /admin/permissions/sets/{id}/{kind}
func (h *PermissionHandler) ListGrants(w http.ResponseWriter, r *http.Request) {
	kind, ok := grantKind(w, r)
	if !ok {
		return
	}
	grants, err := h.service.ListGrants(r.Context(), pathParam(r, "id"), kind)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, grants)
}

// AddGrant handles POST /admin/permissions/sets/{id}/{kind}
func (h *PermissionHandler) AddGrant(w http.ResponseWriter, r *http.Request) {
	kind, ok := grantKind(w, r)
	if !ok {
		return
	}
	var req GrantRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	grant, err := h.service.AddGrant(r.Context(), caller(r).Email, pathParam(r, "id"), kind, req.Key)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, grant)
}

// DeleteGrant handles DELETE /admin/permissions/sets/{id}/{kind}/{grantID}
func (h *PermissionHandler) DeleteGrant(w http.ResponseWriter, r *http.Request) {
	kind, ok := grantKind(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteGrant(r.Context(), caller(r).Email, pathParam(r, "id"), kind, pathParam(r, "grantID")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Rule tables ---

// ListRules handles GET /admin/permissions/{scope}/{principal}/{resource}
func (h *PermissionHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	scope, res, ok := ruleTable(w, r)
	if !ok {
		return
	}
	rules, err := h.service.ListRules(r.Context(), scope, pathParam(r, "principal"), res)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rules)
}

// PutRule handles PUT /admin/permissions/{scope}/{principal}/{resource}
func (h *PermissionHandler) PutRule(w http.ResponseWriter, r *http.Request) {
	scope, res, ok := ruleTable(w, r)
	if !ok {
		return
	}
	var req RuleRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	rule, err := h.service.PutRule(r.Context(), caller(r).Email, domain.Rule{
		Scope:     scope,
		Principal: pathParam(r, "principal"),
		Resource:  res,
		Key:       req.Key,
		Enabled:   req.Enabled,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rule)
}

// DeleteRule handles DELETE /admin/permissions/{scope}/{principal}/{resource}?key=
func (h *PermissionHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	scope, res, ok := ruleTable(w, r)
	if !ok {
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		httputil.WriteDetail(w, http.StatusBadRequest, "INVALID_INPUT", "key is required")
		return
	}
	if err := h.service.DeleteRule(r.Context(), caller(r).Email, scope, pathParam(r, "principal"), res, key); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Action registry ---

// ListActions handles GET /admin/permissions/actions
func (h *PermissionHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)
	actions, total, err := h.service.ListActions(r.Context(), domain.ActionFilter{
		Query:  params.Query,
		Limit:  params.PerPage,
		Offset: params.Offset,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(actions, total, params))
}

// CreateAction handles POST /admin/permissions/actions
func (h *PermissionHandler) CreateAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	action, err := h.service.CreateAction(r.Context(), caller(r).Email, domain.PermissionAction{
		Key:            req.Key,
		PackName:       req.PackName,
		Label:          req.Label,
		Description:    req.Description,
		DefaultEnabled: req.DefaultEnabled,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, action)
}

// DeleteAction handles DELETE /admin/permissions/actions/{key}
func (h *PermissionHandler) DeleteAction(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteAction(r.Context(), caller(r).Email, pathParam(r, "key")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func grantKind(w http.ResponseWriter, r *http.Request) (domain.GrantKind, bool) {
	kind, ok := domain.ParseGrantKind(pathParam(r, "kind"))
	if !ok {
		httputil.WriteDetail(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	}
	return kind, ok
}

func ruleTable(w http.ResponseWriter, r *http.Request) (domain.RuleScope, domain.RuleResource, bool) {
	scope, ok := domain.ParseRuleScope(pathParam(r, "scope"))
	if !ok {
		httputil.WriteDetail(w, http.StatusNotFound, "NOT_FOUND", "Not found")
		return "", "", false
	}
	res, ok := domain.ParseRuleResource(pathParam(r, "resource"))
	if !ok {
		httputil.WriteDetail(w, http.StatusNotFound, "NOT_FOUND", "Not found")
		return "", "", false
	}
	return scope, res, true
}
