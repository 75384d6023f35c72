package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/acl"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/auth"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/config"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/mailer"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/repository"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/repository/memory"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/service"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/throttle"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/health"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/httputil"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/middleware"
)

const (
	prefix       = "/api/auth"
	testPassword = "correct-horse"
	cookieName   = "hit_token"
)

type discardMailer struct{}

func (discardMailer) Send(context.Context, mailer.Message) error { return nil }

type testServer struct {
	handler http.Handler
	store   *repository.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewStore()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	codec := auth.NewJWTCodec("test-secret-with-enough-length-for-hs256", "auth-core", time.Hour)

	authSvc := service.NewAuthService(store, codec, discardMailer{}, mailer.Links{BaseURL: "https://app.example.com"},
		throttle.NewLocalCooldown(0), nil, service.AuthOptions{
			AllowSignup:     true,
			PasswordLogin:   true,
			PasswordReset:   true,
			Impersonation:   true,
			RefreshTokenTTL: 24 * time.Hour,
		}, logger)

	limiter := middleware.NewRateLimiter(0, 0, logger)
	t.Cleanup(limiter.Close)

	h := NewRouter(Dependencies{
		Auth:        authSvc,
		Directory:   service.NewDirectoryService(store, nil, logger),
		Permissions: service.NewPermissionService(store, nil, logger),
		Engine:      acl.NewEngine(store),
		Health:      health.NewHandler(),
		RateLimiter: limiter,
		Features:    config.Features{AllowSignup: true, PasswordLogin: true},
		Cookie:      CookieConfig{Name: cookieName, MaxAge: time.Hour},
		CORS:        middleware.DefaultCORSConfig(),
		MountPrefix: prefix,
		Logger:      logger,
	})
	return &testServer{handler: h, store: store}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, prefix+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) seedUser(t *testing.T, email, role string) {
	t.Helper()
	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	require.NoError(t, s.store.Users.Create(context.Background(), &domain.User{
		Email: email, PasswordHash: &hash, Role: role, EmailVerified: true,
	}))
}

func (s *testServer) login(t *testing.T, email string) domain.TokenPair {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/login", "", map[string]string{"email": email, "password": testPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pair domain.TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	return pair
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName {
			return c
		}
	}
	return nil
}

func TestHealthAndFeatures(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/features", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=60", rec.Header().Get("Cache-Control"))
	features := decode[config.Features](t, rec)
	assert.True(t, features.AllowSignup)

	rec = s.do(t, http.MethodGet, "/config", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"features"`)
}

func TestRegisterThenMe(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/register", "", map[string]string{"email": "Bob@Example.com", "password": testPassword})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	pair := decode[domain.TokenPair](t, rec)
	assert.NotEmpty(t, pair.Token)
	assert.NotEmpty(t, pair.RefreshToken)

	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, pair.Token, cookie.Value)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	rec = s.do(t, http.MethodGet, "/me", pair.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[domain.User](t, rec)
	assert.Equal(t, "bob@example.com", me.Email)

	// The cookie alone authenticates too.
	req := httptest.NewRequest(http.MethodGet, prefix+"/me", nil)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: pair.Token})
	cookieRec := httptest.NewRecorder()
	s.handler.ServeHTTP(cookieRec, req)
	assert.Equal(t, http.StatusOK, cookieRec.Code)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	s := newTestServer(t)
	s.seedUser(t, "alice@example.com", domain.RoleUser)

	rec := s.do(t, http.MethodPost, "/login", "", map[string]string{"email": "alice@example.com", "password": "wrong-password"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode[httputil.ErrorResponse](t, rec)
	assert.Equal(t, "Invalid credentials", body.Detail)
	assert.NotEmpty(t, body.Code)

	rec = s.do(t, http.MethodPost, "/login", "", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshAndLogout(t *testing.T) {
	s := newTestServer(t)
	s.seedUser(t, "alice@example.com", domain.RoleUser)
	pair := s.login(t, "alice@example.com")

	rec := s.do(t, http.MethodPost, "/refresh", "", map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	rotated := decode[domain.TokenPair](t, rec)

	rec = s.do(t, http.MethodPost, "/refresh", "", map[string]string{"refresh_token": pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/logout", rotated.Token, map[string]string{"refresh_token": rotated.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.Less(t, cookie.MaxAge, 0)

	rec = s.do(t, http.MethodPost, "/refresh", "", map[string]string{"refresh_token": rotated.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Logout without a body still succeeds.
	rec = s.do(t, http.MethodPost, "/logout", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestValidate(t *testing.T) {
	s := newTestServer(t)
	s.seedUser(t, "alice@example.com", domain.RoleUser)
	pair := s.login(t, "alice@example.com")

	rec := s.do(t, http.MethodPost, "/validate", "", map[string]string{"token": pair.Token})
	require.Equal(t, http.StatusOK, rec.Code)
	ok := decode[ValidateResponse](t, rec)
	assert.True(t, ok.Valid)
	require.NotNil(t, ok.Claims)
	assert.Equal(t, "alice@example.com", ok.Claims.Email)

	rec = s.do(t, http.MethodPost, "/validate", "", map[string]string{"token": "garbage"})
	require.Equal(t, http.StatusOK, rec.Code)
	bad := decode[ValidateResponse](t, rec)
	assert.False(t, bad.Valid)
	assert.Nil(t, bad.Claims)
}

func TestAuthGates(t *testing.T) {
	s := newTestServer(t)
	s.seedUser(t, "alice@example.com", domain.RoleUser)
	s.seedUser(t, "admin@example.com", domain.RoleAdmin)
	user := s.login(t, "alice@example.com")
	admin := s.login(t, "admin@example.com")

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"anonymous", "", http.StatusUnauthorized},
		{"bad token", "garbage", http.StatusUnauthorized},
		{"non-admin", user.Token, http.StatusForbidden},
		{"admin", admin.Token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/users", tt.token, nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := s.do(t, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminUserLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.seedUser(t, "admin@example.com", domain.RoleAdmin)
	admin := s.login(t, "admin@example.com").Token

	rec := s.do(t, http.MethodPost, "/users", admin, map[string]any{"email": "carol@example.com", "password": testPassword})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/users/carol%40example.com", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "carol@example.com", decode[domain.User](t, rec).Email)

	rec = s.do(t, http.MethodPut, "/users/carol@example.com", admin, map[string]any{"locked": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[domain.User](t, rec).Locked)

	rec = s.do(t, http.MethodPut, "/users/admin@example.com", admin, map[string]any{"role": "user"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "You cannot remove your own admin role", decode[httputil.ErrorResponse](t, rec).Detail)

	rec = s.do(t, http.MethodGet, "/users?q=carol", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)

	rec = s.do(t, http.MethodDelete, "/users/carol@example.com", admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/users/carol@example.com", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGroupsAndMembership(t *testing.T) {
	s := newTestServer(t)
	s.seedUser(t, "admin@example.com", domain.RoleAdmin)
	s.seedUser(t, "alice@example.com", domain.RoleUser)
	admin := s.login(t, "admin@example.com").Token
	user := s.login(t, "alice@example.com").Token

	rec := s.do(t, http.MethodPost, "/admin/groups", admin, map[string]string{"name": "Sales"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	group := decode[domain.Group](t, rec)

	rec = s.do(t, http.MethodPost, "/admin/groups/"+group.ID+"/users", admin, map[string]string{"user_email": "alice@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/me/groups", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[[]domain.Membership](t, rec)
	require.Len(t, mine, 1)
	assert.Equal(t, group.ID, mine[0].GroupID)

	rec = s.do(t, http.MethodDelete, "/admin/groups/"+group.ID+"/users/alice@example.com", admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/groups/"+group.ID+"/users", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]domain.Membership](t, rec))
}

func TestPermissionChecks(t *testing.T) {
	s := newTestServer(t)
	s.seedUser(t, "admin@example.com", domain.RoleAdmin)
	s.seedUser(t, "alice@example.com", domain.RoleUser)
	admin := s.login(t, "admin@example.com").Token
	user := s.login(t, "alice@example.com").Token

	rec := s.do(t, http.MethodPut, "/admin/permissions/roles/user/pages", admin, map[string]any{"key": "/billing", "enabled": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/permissions/pages/check/billing", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[PageCheckResponse](t, rec)
	assert.Equal(t, "/billing", page.Path)
	assert.False(t, page.HasPermission)

	rec = s.do(t, http.MethodGet, "/permissions/pages/check/dashboard", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[PageCheckResponse](t, rec).HasPermission)

	rec = s.do(t, http.MethodPost, "/permissions/pages/check-batch", user, map[string]any{"paths": []string{"/billing", "/dashboard"}})
	require.Equal(t, http.StatusOK, rec.Code)
	batch := decode[BatchResponse](t, rec)
	assert.Equal(t, map[string]bool{"/billing": false, "/dashboard": true}, batch.Results)

	rec = s.do(t, http.MethodGet, "/permissions/actions/check/", user, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, acl.Decision{Source: acl.SourceMissingKey}, decode[acl.Decision](t, rec))

	// Actions and metrics are denied unless granted.
	rec = s.do(t, http.MethodGet, "/permissions/actions/check/crm.contacts.export", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[acl.Decision](t, rec).HasPermission)

	rec = s.do(t, http.MethodPut, "/admin/permissions/users/alice@example.com/actions", admin, map[string]any{"key": "crm.contacts.export", "enabled": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/permissions/actions/check/crm.contacts.export", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[acl.Decision](t, rec).HasPermission)

	rec = s.do(t, http.MethodPost, "/permissions/metrics/check-batch", user, map[string]any{"keys": []string{"revenue.total"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"revenue.total": false}, decode[BatchResponse](t, rec).Results)

	rec = s.do(t, http.MethodDelete, "/admin/permissions/roles/user/pages?key=/billing", admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/admin/permissions/teams/x/pages", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActionRegistry_DuplicateKey(t *testing.T) {
	s := newTestServer(t)
	s.seedUser(t, "admin@example.com", domain.RoleAdmin)
	admin := s.login(t, "admin@example.com").Token

	rec := s.do(t, http.MethodPost, "/admin/permissions/actions", admin, map[string]any{"key": "crm.export", "default_enabled": true})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/admin/permissions/actions", admin, map[string]any{"key": "crm.export", "default_enabled": false})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "already exists")

	rec = s.do(t, http.MethodGet, "/admin/permissions/actions?q=crm", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"default_enabled":true`)
}

func TestPermissionSetGrants(t *testing.T) {
	s := newTestServer(t)
	s.seedUser(t, "admin@example.com", domain.RoleAdmin)
	s.seedUser(t, "alice@example.com", domain.RoleUser)
	admin := s.login(t, "admin@example.com").Token
	user := s.login(t, "alice@example.com").Token

	rec := s.do(t, http.MethodPost, "/admin/permissions/sets", admin, map[string]any{"name": "Finance"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	set := decode[domain.PermissionSet](t, rec)

	rec = s.do(t, http.MethodPost, "/admin/permissions/sets/"+set.ID+"/metrics", admin, map[string]string{"key": "revenue.total"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, "/admin/permissions/sets/"+set.ID+"/assignments", admin, map[string]string{"principal_type": "user", "principal_id": "alice@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/permissions/metrics/check/revenue.total", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[acl.Decision](t, rec).HasPermission)

	rec = s.do(t, http.MethodPatch, "/admin/permissions/sets/"+set.ID, admin, map[string]any{"description": "finance team"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "finance team", decode[domain.PermissionSet](t, rec).Description)

	rec = s.do(t, http.MethodGet, "/admin/permissions/sets/"+set.ID+"/widgets", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, "/admin/permissions/sets/"+set.ID, admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestImpersonationEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.seedUser(t, "admin@example.com", domain.RoleAdmin)
	s.seedUser(t, "alice@example.com", domain.RoleUser)
	admin := s.login(t, "admin@example.com").Token

	rec := s.do(t, http.MethodPost, "/impersonate/start", admin, map[string]string{"user_email": "alice@example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	started := decode[service.ImpersonationResult](t, rec)

	rec = s.do(t, http.MethodGet, "/me", started.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice@example.com", decode[domain.User](t, rec).Email)

	rec = s.do(t, http.MethodPost, "/impersonate/start", started.Token, map[string]string{"user_email": "admin@example.com"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/impersonate/end", started.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ended := decode[service.EndImpersonationResult](t, rec)
	assert.True(t, ended.Ended)
	assert.NotEmpty(t, ended.Token)

	rec = s.do(t, http.MethodPost, "/impersonate/end", started.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	again := decode[service.EndImpersonationResult](t, rec)
	assert.False(t, again.Ended)
	assert.Empty(t, again.Token)

	rec = s.do(t, http.MethodGet, "/admin/impersonation/sessions", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decode[[]domain.ImpersonationSession](t, rec)
	require.Len(t, sessions, 1)
	assert.Equal(t, started.SessionID, sessions[0].ID)
}
