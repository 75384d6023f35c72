package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setEnvs sets multiple env vars for the duration of the test.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func TestLoad_Development_Defaults(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT":     "development",
		"AUTH_JWT_SECRET": "",
	})

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "/api/auth", cfg.MountPrefix)
	assert.Equal(t, time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, 720*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, "hit_token", cfg.CookieName)
	assert.Equal(t, "auth.audit", cfg.AuditTopic)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Production_RejectsMissingSecret(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT":     "production",
		"AUTH_JWT_SECRET": "",
	})

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_JWT_SECRET must be explicitly set")
}

func TestLoad_Production_RejectsShortSecret(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT":     "production",
		"AUTH_JWT_SECRET": "too-short",
	})

	cfg, err := Load()

	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 characters")
}

func TestLoad_Production_AcceptsStrongSecret(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT":     "production",
		"AUTH_JWT_SECRET":      strings.Repeat("s", 48),
		"STORAGE_DRIVER":       "postgres",
		"CORS_ALLOWED_ORIGINS": "https://app.example.com",
	})

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.CORSAllowedOrigins)
}

func TestLoad_Production_RejectsWildcardOrigin(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT":     "production",
		"AUTH_JWT_SECRET": strings.Repeat("s", 48),
		"STORAGE_DRIVER":  "postgres",
	})

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "CORS_ALLOWED_ORIGINS must list explicit origins")
}

func TestLoad_Production_RejectsMemoryStore(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT":     "production",
		"AUTH_JWT_SECRET": strings.Repeat("s", 48),
		"STORAGE_DRIVER":  "memory",
	})

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "only allowed in development")
}

func TestLoad_InvalidPort(t *testing.T) {
	setEnvs(t, map[string]string{
		"ENVIRONMENT": "development",
		"HTTP_PORT":   "70000",
	})

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment:     "development",
			HTTPPort:        8080,
			MountPrefix:     "/api/auth",
			StorageDriver:   StorageDriverMemory,
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 24 * time.Hour,
			CookieName:      "hit_token",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"prefix without slash", func(c *Config) { c.MountPrefix = "api" }, "must start with /"},
		{"unknown driver", func(c *Config) { c.StorageDriver = "mongo" }, "unknown STORAGE_DRIVER"},
		{"zero access ttl", func(c *Config) { c.AccessTokenTTL = 0 }, "AUTH_ACCESS_TOKEN_TTL"},
		{"zero refresh ttl", func(c *Config) { c.RefreshTokenTTL = 0 }, "AUTH_REFRESH_TOKEN_TTL"},
		{"empty cookie", func(c *Config) { c.CookieName = "" }, "AUTH_COOKIE_NAME"},
		{"bootstrap email only", func(c *Config) { c.BootstrapAdminEmail = "root@example.com" }, "must be set together"},
		{"wildcard origin in development", func(c *Config) { c.CORSAllowedOrigins = []string{"*"} }, ""},
		{"wildcard origin in staging", func(c *Config) {
			c.Environment = "staging"
			c.JWTSecret = strings.Repeat("s", 48)
			c.StorageDriver = StorageDriverPostgres
			c.CORSAllowedOrigins = []string{"https://app.example.com", "*"}
		}, "CORS_ALLOWED_ORIGINS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFeatures(t *testing.T) {
	cfg := &Config{
		AllowSignup:    true,
		PasswordLogin:  true,
		MagicLink:      true,
		OAuthProviders: []string{" google ", "", "github"},
		Impersonation:  true,
	}

	f := cfg.Features()

	assert.True(t, f.AllowSignup)
	assert.True(t, f.MagicLinkLogin)
	assert.False(t, f.PasswordReset)
	assert.Equal(t, []string{"google", "github"}, f.OAuthProviders)
	assert.Equal(t, []string{"admin", "user"}, f.AvailableRoles)
	assert.True(t, f.Impersonation)
}

func TestPostgresDSN(t *testing.T) {
	cfg := &Config{
		PostgresUser: "auth",
		PostgresPass: "pw",
		PostgresHost: "db",
		PostgresPort: 5432,
		PostgresDB:   "auth_core",
		PostgresSSL:  "disable",
	}
	assert.Equal(t, "postgres://auth:pw@db:5432/auth_core?sslmode=disable", cfg.PostgresDSN())

	cfg.PostgresPass = "p@ss/word"
	assert.Equal(t, "postgres://auth:p%40ss%2Fword@db:5432/auth_core?sslmode=disable", cfg.PostgresDSN())
}
