package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/logger"
)

func loggedRequest(t *testing.T, status int, correlationID string) (*httptest.ResponseRecorder, map[string]any, string) {
	t.Helper()
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))

	var seen string
	r := chi.NewRouter()
	r.Use(RequestLogging(l))
	r.Post("/api/auth/users/{email}", func(w http.ResponseWriter, r *http.Request) {
		seen = logger.CorrelationIDFromContext(r.Context())
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/users/ada@example.com", nil)
	req.RemoteAddr = "192.0.2.4:5000"
	if correlationID != "" {
		req.Header.Set("X-Correlation-ID", correlationID)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	return rec, line, seen
}

func TestRequestLogging_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusUnauthorized, "WARN"},
		{http.StatusServiceUnavailable, "ERROR"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			_, line, _ := loggedRequest(t, tt.status, "")
			assert.Equal(t, tt.level, line["level"])
			assert.Equal(t, float64(tt.status), line["status"])
			assert.Equal(t, "/api/auth/users/{email}", line["route"])
			assert.Equal(t, "192.0.2.4", line["client_ip"])
			assert.Equal(t, float64(len(`{"ok":true}`)), line["bytes"])
		})
	}
}

func TestRequestLogging_CorrelationID(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
		keep    bool
	}{
		{"kept", "req-123", true},
		{"generated when missing", "", false},
		{"replaced when too long", strings.Repeat("a", 129), false},
		{"replaced when it has spaces", "two words", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, line, seen := loggedRequest(t, http.StatusOK, tt.inbound)
			got := rec.Header().Get("X-Correlation-ID")
			require.NotEmpty(t, got)
			assert.Equal(t, got, seen)
			assert.Equal(t, got, line["correlation_id"])
			if tt.keep {
				assert.Equal(t, tt.inbound, got)
			} else {
				assert.NotEqual(t, tt.inbound, got)
			}
		})
	}
}
