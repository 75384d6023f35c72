package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/logger"
)

func newTestLogger(w *bytes.Buffer) *slog.Logger {
	return logger.NewWithWriter("test-svc", "info", w)
}

func logLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func serveLogged(ctx context.Context, base *slog.Logger) {
	handler := RequestLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Info("test")
	}))
	req := httptest.NewRequest(http.MethodGet, "/me", nil).WithContext(ctx)
	handler.ServeHTTP(httptest.NewRecorder(), req)
}

func TestRequestLogger_IncludesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	serveLogged(logger.WithCorrelationID(context.Background(), "corr-test-123"), newTestLogger(&buf))

	assert.Equal(t, "corr-test-123", logLine(t, &buf)["correlation_id"])
}

func TestRequestLogger_IncludesEmailFromClaims(t *testing.T) {
	var buf bytes.Buffer
	ctx := ContextWithClaims(context.Background(), &Claims{Email: "alice@example.com"})
	serveLogged(ctx, newTestLogger(&buf))

	assert.Equal(t, "alice@example.com", logLine(t, &buf)["user_email"])
}

func TestRequestLogger_IncludesTraceFields(t *testing.T) {
	var buf bytes.Buffer
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	serveLogged(trace.ContextWithSpanContext(context.Background(), sc), newTestLogger(&buf))

	out := logLine(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", out["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", out["span_id"])
}

func TestRequestLogger_Anonymous_OmitsEmail(t *testing.T) {
	var buf bytes.Buffer
	serveLogged(context.Background(), newTestLogger(&buf))

	_, ok := logLine(t, &buf)["user_email"]
	assert.False(t, ok)
}
