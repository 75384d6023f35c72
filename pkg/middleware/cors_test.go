package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func corsRecorder(cfg CORSConfig, method, origin string) *httptest.ResponseRecorder {
	h := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(method, "/api/auth/me", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCORS_AllowOrigin(t *testing.T) {
	prodOrigins := []string{"https://app.example.com", "https://admin.example.com"}

	tests := []struct {
		name      string
		cfg       CORSConfig
		origin    string
		wantAllow string
		wantVary  bool
	}{
		{
			name:      "development wildcard",
			cfg:       CORSConfig{AllowedOrigins: []string{"*"}, Environment: "development"},
			origin:    "https://anything.test",
			wantAllow: "*",
		},
		{
			name:      "development wildcard without origin",
			cfg:       CORSConfig{Environment: "development"},
			wantAllow: "*",
		},
		{
			name:      "credentialed wildcard echoes origin",
			cfg:       CORSConfig{AllowedOrigins: []string{"*"}, AllowCredentials: true, Environment: "development"},
			origin:    "http://localhost:3000",
			wantAllow: "http://localhost:3000",
			wantVary:  true,
		},
		{
			name:      "credentialed wildcard without origin",
			cfg:       CORSConfig{AllowedOrigins: []string{"*"}, AllowCredentials: true},
			wantAllow: "*",
		},
		{
			name:      "production listed origin",
			cfg:       CORSConfig{AllowedOrigins: prodOrigins, Environment: "production"},
			origin:    "https://admin.example.com",
			wantAllow: "https://admin.example.com",
			wantVary:  true,
		},
		{
			name:   "production unlisted origin",
			cfg:    CORSConfig{AllowedOrigins: prodOrigins, Environment: "production"},
			origin: "https://evil.example.net",
		},
		{
			name: "production without origin",
			cfg:  CORSConfig{AllowedOrigins: prodOrigins, Environment: "production"},
		},
		{
			name:      "production explicit wildcard",
			cfg:       CORSConfig{AllowedOrigins: []string{"https://app.example.com", "*"}, Environment: "production"},
			origin:    "https://other.example.com",
			wantAllow: "*",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := corsRecorder(tc.cfg, http.MethodGet, tc.origin)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tc.wantAllow, rec.Header().Get("Access-Control-Allow-Origin"))
			if tc.wantVary {
				assert.Equal(t, "Origin", rec.Header().Get("Vary"))
			} else {
				assert.Empty(t, rec.Header().Get("Vary"))
			}
		})
	}
}

func TestCORS_PreflightShortCircuits(t *testing.T) {
	called := false
	h := CORS(DefaultCORSConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, called)
}

func TestCORS_DefaultsAndCredentials(t *testing.T) {
	rec := corsRecorder(CORSConfig{AllowCredentials: true, Environment: "development"}, http.MethodGet, "")

	h := rec.Header()
	assert.Equal(t, "GET, POST, PUT, PATCH, DELETE, OPTIONS", h.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Accept, Authorization, Content-Type, X-Correlation-ID", h.Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "3600", h.Get("Access-Control-Max-Age"))
	assert.Equal(t, "true", h.Get("Access-Control-Allow-Credentials"))
	assert.Empty(t, h.Get("Access-Control-Expose-Headers"))

	rec = corsRecorder(DefaultCORSConfig(), http.MethodGet, "")
	assert.Equal(t, "X-Correlation-ID", rec.Header().Get("Access-Control-Expose-Headers"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_CustomMaxAgeAndHeaders(t *testing.T) {
	rec := corsRecorder(CORSConfig{
		Environment:    "development",
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization"},
		MaxAge:         60,
	}, http.MethodGet, "")

	assert.Equal(t, "GET, POST", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Authorization", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "60", rec.Header().Get("Access-Control-Max-Age"))
}
