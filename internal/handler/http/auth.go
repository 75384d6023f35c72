package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/auth"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/config"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/service"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/httputil"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/middleware"
)

// AuthHandler handles HTTP requests for the credential and session endpoints.
type AuthHandler struct {
	service   *service.AuthService
	directory *service.DirectoryService
	features  config.Features
	cookie    CookieConfig
	logger    *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(
	svc *service.AuthService,
	directory *service.DirectoryService,
	features config.Features,
	cookie CookieConfig,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		service:   svc,
		directory: directory,
		features:  features,
		cookie:    cookie,
		logger:    logger,
	}
}

// --- Request DTOs ---

// CredentialsRequest is the JSON body of register and login.
type CredentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest is the JSON body of token refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest is the optional JSON body of logout.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// VerifyEmailRequest redeems a verification token or an email and code pair.
type VerifyEmailRequest struct {
	Token string `json:"token"`
	Email string `json:"email" validate:"omitempty,email"`
	Code  string `json:"code" validate:"omitempty,len=6,numeric"`
}

// EmailRequest is the JSON body of endpoints keyed by a single address.
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest is the JSON body for password reset.
type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// TokenRequest carries a single opaque token.
type TokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// StartImpersonationRequest names the user to act as.
type StartImpersonationRequest struct {
	UserEmail string `json:"user_email" validate:"required,email"`
}

// EndImpersonationRequest optionally names the session to end.
type EndImpersonationRequest struct {
	SessionID string `json:"session_id"`
}

// --- Response types ---

// ValidateResponse reports whether a credential is valid.
type ValidateResponse struct {
	Valid  bool         `json:"valid"`
	Claims *auth.Claims `json:"claims,omitempty"`
}

type configResponse struct {
	Features config.Features `json:"features"`
}

// --- Handlers ---

// Config handles GET /config
func (h *AuthHandler) Config(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, configResponse{Features: h.features})
}

// Features handles GET /features
func (h *AuthHandler) Features(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.features)
}

// Register handles POST /register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	pair, err := h.service.Register(r.Context(), service.CredentialsInput(req), clientInfo(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	setSessionCookie(w, h.cookie, pair.Token)
	httputil.WriteJSON(w, http.StatusCreated, pair)
}

// Login handles POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	pair, err := h.service.Login(r.Context(), service.CredentialsInput(req), clientInfo(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	setSessionCookie(w, h.cookie, pair.Token)
	httputil.WriteJSON(w, http.StatusOK, pair)
}

// Refresh handles POST /refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken, clientInfo(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	setSessionCookie(w, h.cookie, pair.Token)
	httputil.WriteJSON(w, http.StatusOK, pair)
}

// Logout handles POST /logout. The body is optional; the cookie is cleared
// even when no refresh token is presented.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	var email string
	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
		email = claims.Email
	}
	if err := h.service.Logout(r.Context(), email, req.RefreshToken, clientInfo(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	clearSessionCookie(w, h.cookie)
	httputil.WriteJSON(w, http.StatusOK, successResponse{Success: true})
}

// LogoutAll handles POST /logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.LogoutAll(r.Context(), caller(r).Email, clientInfo(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	clearSessionCookie(w, h.cookie)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "revoked": n})
}

// VerifyEmail handles POST /verify-email
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	email, err := h.service.VerifyEmail(r.Context(), service.VerifyEmailInput(req))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "email": email})
}

// VerificationStatus handles GET /verification-status?email=
func (h *AuthHandler) VerificationStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.VerificationStatus(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// ResendVerification handles POST /resend-verification
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := h.service.ResendVerification(r.Context(), req.Email); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, successResponse{Success: true, Message: "If the account exists, a verification email has been sent"})
}

// ForgotPassword handles POST /forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, successResponse{Success: true, Message: "If the account exists, a password reset email has been sent"})
}

// ResetPassword handles POST /reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := h.service.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, successResponse{Success: true})
}

// RequestMagicLink handles POST /magic-link/request
func (h *AuthHandler) RequestMagicLink(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := h.service.RequestMagicLink(r.Context(), req.Email); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, successResponse{Success: true, Message: "If the account exists, a sign-in link has been sent"})
}

// VerifyMagicLink handles POST /magic-link/verify
func (h *AuthHandler) VerifyMagicLink(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	pair, err := h.service.VerifyMagicLink(r.Context(), req.Token, clientInfo(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	setSessionCookie(w, h.cookie, pair.Token)
	httputil.WriteJSON(w, http.StatusOK, pair)
}

// Validate handles POST /validate. Invalid credentials are a 200 with valid=false.
func (h *AuthHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	claims, ok := h.service.Validate(req.Token)
	httputil.WriteJSON(w, http.StatusOK, ValidateResponse{Valid: ok, Claims: claims})
}

// Me handles GET /me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Me(r.Context(), caller(r).Email)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

// MyGroups handles GET /me/groups
func (h *AuthHandler) MyGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.directory.GroupsForUser(r.Context(), caller(r).Email)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, groups)
}

// Sessions handles GET /sessions
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.service.ListSessions(r.Context(), caller(r).Email)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sessions)
}

// RevokeSession handles DELETE /sessions/{id}
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RevokeSession(r.Context(), caller(r).Email, pathParam(r, "id")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StartImpersonation handles POST /impersonate/start
func (h *AuthHandler) StartImpersonation(w http.ResponseWriter, r *http.Request) {
	var req StartImpersonationRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.StartImpersonation(r.Context(), caller(r), req.UserEmail, clientInfo(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	setSessionCookie(w, h.cookie, result.Token)
	httputil.WriteJSON(w, http.StatusOK, result)
}

// EndImpersonation handles POST /impersonate/end
func (h *AuthHandler) EndImpersonation(w http.ResponseWriter, r *http.Request) {
	var req EndImpersonationRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	result, err := h.service.EndImpersonation(r.Context(), caller(r), req.SessionID, clientInfo(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if result.Token != "" {
		setSessionCookie(w, h.cookie, result.Token)
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// decodeOptional decodes a JSON body when one is present. An empty body
// leaves dst untouched.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteDetail(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body")
		return false
	}
	return true
}
