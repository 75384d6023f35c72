package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/service"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/httputil"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/pagination"
)

// DirectoryHandler serves the admin user and group endpoints.
type DirectoryHandler struct {
	directory *service.DirectoryService
	auth      *service.AuthService
	logger    *slog.Logger
}

// NewDirectoryHandler creates a new directory HTTP handler.
func NewDirectoryHandler(directory *service.DirectoryService, authSvc *service.AuthService, logger *slog.Logger) *DirectoryHandler {
	return &DirectoryHandler{directory: directory, auth: authSvc, logger: logger}
}

// --- Request DTOs ---

// CreateUserRequest is the JSON body of admin user creation.
type CreateUserRequest struct {
	Email         string         `json:"email" validate:"required,email"`
	Password      string         `json:"password" validate:"omitempty,min=8"`
	Role          string         `json:"role"`
	EmailVerified bool           `json:"email_verified"`
	Metadata      map[string]any `json:"metadata"`
	ProfileFields map[string]any `json:"profile_fields"`
}

// UpdateUserRequest is the JSON body of admin user updates. Absent fields
// are left unchanged.
type UpdateUserRequest struct {
	Password          *string        `json:"password" validate:"omitempty,min=8"`
	Role              *string        `json:"role"`
	EmailVerified     *bool          `json:"email_verified"`
	TwoFactorEnabled  *bool          `json:"two_factor_enabled"`
	Locked            *bool          `json:"locked"`
	ProfilePictureURL *string        `json:"profile_picture_url" validate:"omitempty,url"`
	Metadata          map[string]any `json:"metadata"`
	ProfileFields     map[string]any `json:"profile_fields"`
}

// GroupRequest is the JSON body of group create and update.
type GroupRequest struct {
	Name        string         `json:"name" validate:"required,max=255"`
	Description string         `json:"description" validate:"max=2000"`
	Metadata    map[string]any `json:"metadata"`
}

// AddMemberRequest adds a user to a group.
type AddMemberRequest struct {
	UserEmail string `json:"user_email" validate:"required,email"`
}

// --- Users ---

// ListUsers handles GET /users
func (h *DirectoryHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)
	users, total, err := h.directory.ListUsers(r.Context(), domain.UserFilter{
		Query:  params.Query,
		Limit:  params.PerPage,
		Offset: params.Offset,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(users, total, params))
}

// Directory handles GET /directory/users
func (h *DirectoryHandler) Directory(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)
	entries, total, err := h.directory.Directory(r.Context(), domain.UserFilter{
		Query:  params.Query,
		Limit:  params.PerPage,
		Offset: params.Offset,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(entries, total, params))
}

// GetUser handles GET /users/{email}
func (h *DirectoryHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.directory.GetUser(r.Context(), pathParam(r, "email"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

// CreateUser handles POST /users
func (h *DirectoryHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	user, err := h.directory.CreateUser(r.Context(), caller(r).Email, service.CreateUserInput(req))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, user)
}

// UpdateUser handles PUT /users/{email}
func (h *DirectoryHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	user, err := h.directory.UpdateUser(r.Context(), caller(r).Email, pathParam(r, "email"), service.UpdateUserInput(req))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

// DeleteUser handles DELETE /users/{email}
func (h *DirectoryHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.directory.DeleteUser(r.Context(), caller(r).Email, pathParam(r, "email")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResendVerification handles POST /admin/users/{email}/resend-verification
func (h *DirectoryHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.AdminResendVerification(r.Context(), caller(r).Email, pathParam(r, "email")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, successResponse{Success: true})
}

// Verify handles POST /admin/users/{email}/verify
func (h *DirectoryHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.AdminVerify(r.Context(), caller(r).Email, pathParam(r, "email")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, successResponse{Success: true})
}

// SendPasswordReset handles POST /admin/users/{email}/reset-password
func (h *DirectoryHandler) SendPasswordReset(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.AdminSendPasswordReset(r.Context(), caller(r).Email, pathParam(r, "email")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, successResponse{Success: true})
}

// UserGroups handles GET /admin/users/{email}/groups
func (h *DirectoryHandler) UserGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.directory.GroupsForUser(r.Context(), pathParam(r, "email"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, groups)
}

// UserSessions handles GET /admin/users/{email}/sessions
func (h *DirectoryHandler) UserSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.auth.ListSessions(r.Context(), pathParam(r, "email"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sessions)
}

// ImpersonationSessions handles GET /admin/impersonation/sessions?limit=
func (h *DirectoryHandler) ImpersonationSessions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	sessions, err := h.auth.ListImpersonationSessions(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sessions)
}

// --- Groups ---

// ListGroups handles GET /admin/groups
func (h *DirectoryHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.directory.ListGroups(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, groups)
}

// GetGroup handles GET /admin/groups/{id}
func (h *DirectoryHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.directory.GetGroup(r.Context(), pathParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, group)
}

// CreateGroup handles POST /admin/groups
func (h *DirectoryHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req GroupRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	group, err := h.directory.CreateGroup(r.Context(), caller(r).Email, service.GroupInput(req))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, group)
}

// UpdateGroup handles PUT /admin/groups/{id}
func (h *DirectoryHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req GroupRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	group, err := h.directory.UpdateGroup(r.Context(), caller(r).Email, pathParam(r, "id"), service.GroupInput(req))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, group)
}

// DeleteGroup handles DELETE /admin/groups/{id}
func (h *DirectoryHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.directory.DeleteGroup(r.Context(), caller(r).Email, pathParam(r, "id")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMembers handles GET /admin/groups/{id}/users
func (h *DirectoryHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.directory.ListGroupMembers(r.Context(), pathParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, members)
}

// AddMember handles POST /admin/groups/{id}/users
func (h *DirectoryHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req AddMemberRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	member, err := h.directory.AddGroupMember(r.Context(), caller(r).Email, pathParam(r, "id"), req.UserEmail)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, member)
}

// RemoveMember handles DELETE /admin/groups/{id}/users/{email}
func (h *DirectoryHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := h.directory.RemoveGroupMember(r.Context(), caller(r).Email, pathParam(r, "id"), pathParam(r, "email")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
