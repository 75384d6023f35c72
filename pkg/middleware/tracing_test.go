package middleware

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordRequestSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	return rec
}

func tracedRouter(status int) *chi.Mux {
	r := chi.NewRouter()
	r.Use(Tracing("auth-core"))
	r.Route("/api/auth", func(r chi.Router) {
		h := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(status) }
		r.Post("/login", h)
		r.Get("/users/{email}", h)
	})
	return r
}

func endedAttrs(s sdktrace.ReadOnlySpan) map[string]string {
	out := make(map[string]string)
	for _, kv := range s.Attributes() {
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}

func TestTracing_Spans(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		target     string
		status     int
		wantName   string
		wantRoute  string
		wantStatus codes.Code
	}{
		{
			name:       "login",
			method:     http.MethodPost,
			target:     "/api/auth/login",
			status:     http.StatusOK,
			wantName:   "POST /api/auth/login",
			wantRoute:  "/api/auth/login",
			wantStatus: codes.Unset,
		},
		{
			name:       "email path parameter is hidden",
			method:     http.MethodGet,
			target:     "/api/auth/users/ada@example.com",
			status:     http.StatusNotFound,
			wantName:   "GET /api/auth/users/{email}",
			wantRoute:  "/api/auth/users/{email}",
			wantStatus: codes.Unset,
		},
		{
			name:       "server error marks span",
			method:     http.MethodPost,
			target:     "/api/auth/login",
			status:     http.StatusServiceUnavailable,
			wantName:   "POST /api/auth/login",
			wantRoute:  "/api/auth/login",
			wantStatus: codes.Error,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spans := recordRequestSpans(t)
			router := tracedRouter(tc.status)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.target, nil))
			require.Equal(t, tc.status, rec.Code)

			ended := spans.Ended()
			require.Len(t, ended, 1)
			span := ended[0]
			assert.Equal(t, tc.wantName, span.Name())
			assert.Equal(t, tc.wantStatus, span.Status().Code)

			attrs := endedAttrs(span)
			assert.Equal(t, tc.wantRoute, attrs["http.route"])
			assert.Equal(t, tc.method, attrs["http.method"])
			assert.Equal(t, strconv.Itoa(tc.status), attrs["http.status_code"])
			assert.Equal(t, "http", attrs["http.scheme"])
		})
	}
}

func TestTracing_ContinuesInboundTrace(t *testing.T) {
	spans := recordRequestSpans(t)
	router := tracedRouter(http.StatusOK)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	ended := spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", ended[0].SpanContext().TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", ended[0].Parent().SpanID().String())

	tp := rec.Header().Get("traceparent")
	require.NotEmpty(t, tp)
	assert.Contains(t, tp, "4bf92f3577b34da6a3ce929d0e0e4736")
}

func TestTracing_NewTraceWithoutParent(t *testing.T) {
	spans := recordRequestSpans(t)
	router := tracedRouter(http.StatusOK)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))

	ended := spans.Ended()
	require.Len(t, ended, 1)
	assert.False(t, ended[0].Parent().IsValid())
	assert.NotEmpty(t, rec.Header().Get("traceparent"))
}

func TestRequestScheme(t *testing.T) {
	tests := []struct {
		name  string
		tls   bool
		proto string
		want  string
	}{
		{"plain", false, "", "http"},
		{"forwarded by proxy", false, "https", "https"},
		{"direct tls", true, "", "https"},
		{"tls wins over header", true, "http", "https"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/features", nil)
			if tc.tls {
				req.TLS = &tls.ConnectionState{}
			}
			if tc.proto != "" {
				req.Header.Set("X-Forwarded-Proto", tc.proto)
			}
			assert.Equal(t, tc.want, requestScheme(req))
		})
	}
}
