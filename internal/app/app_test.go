package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/config"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/health"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/pagination"
)

const (
	adminEmail    = "root@example.com"
	adminPassword = "bootstrap-pass-123"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	catalog := filepath.Join(t.TempDir(), "actions.yaml")
	require.NoError(t, os.WriteFile(catalog, []byte(`
packs:
  - name: crm
    actions:
      - key: crm.contacts.export
        label: Export contacts
`), 0o600))

	return &config.Config{
		Environment:            "development",
		ServiceName:            "auth-core-test",
		HTTPPort:               18080,
		MountPrefix:            "/api/auth",
		ShutdownTimeout:        time.Second,
		StorageDriver:          config.StorageDriverMemory,
		RedisEnabled:           true,
		RedisHost:              mr.Host(),
		RedisPort:              port,
		JWTSecret:              "app-test-secret-with-enough-length",
		JWTIssuer:              "auth-core",
		AccessTokenTTL:         time.Hour,
		RefreshTokenTTL:        24 * time.Hour,
		CookieName:             "hit_token",
		BootstrapAdminEmail:    adminEmail,
		BootstrapAdminPassword: adminPassword,
		AllowSignup:            true,
		PasswordLogin:          true,
		ResendCooldown:         time.Minute,
		ActionCatalogFile:      catalog,
		MailWebhookURL:         "http://127.0.0.1:1/mail",
		AppBaseURL:             "http://localhost:3000",
		CORSAllowedOrigins:     []string{"*"},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serve(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewApp_WiresMemoryStackWithRedis(t *testing.T) {
	a, err := NewApp(testConfig(t), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown() })

	require.NotNil(t, a.redis)
	assert.Nil(t, a.pool)
	assert.Nil(t, a.producer)
	assert.Equal(t, ":18080", a.httpServer.Addr)

	h := a.httpServer.Handler

	rec := serve(t, h, http.MethodGet, "/api/auth/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var hr health.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hr))
	assert.Equal(t, health.StatusUp, hr.Status)
	assert.Contains(t, hr.Checks, "redis")

	rec = serve(t, h, http.MethodGet, "/api/auth/features", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"allow_signup":true`)
}

func TestNewApp_SeedsCatalogAndBootstrapsAdmin(t *testing.T) {
	a, err := NewApp(testConfig(t), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown() })
	h := a.httpServer.Handler

	rec := serve(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": adminEmail, "password": adminPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pair domain.TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	require.NotEmpty(t, pair.Token)

	rec = serve(t, h, http.MethodGet, "/api/auth/admin/permissions/actions", pair.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page pagination.Result[domain.PermissionAction]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "crm.contacts.export", page.Items[0].Key)
	assert.Equal(t, "crm", page.Items[0].PackName)
}

func TestNewApp_BadCatalogFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.ActionCatalogFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := NewApp(cfg, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action catalog")
}

func TestNewApp_RedisUnavailable(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisHost = "127.0.0.1"
	cfg.RedisPort = 1

	_, err := NewApp(cfg, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to redis")
}
