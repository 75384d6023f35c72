package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(retries int) Config {
	return Config{
		Timeout:         5 * time.Second,
		MaxRetries:      retries,
		RetryWaitMin:    time.Millisecond,
		RetryWaitMax:    2 * time.Millisecond,
		MaxConnsPerHost: 4,
	}
}

// statusSequence answers with codes in order, repeating the last one.
func statusSequence(calls *int32, codes ...int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(calls, 1)) - 1
		if n >= len(codes) {
			n = len(codes) - 1
		}
		w.WriteHeader(codes[n])
	}
}

func TestClient_PostJSON_RetryPolicy(t *testing.T) {
	tests := []struct {
		name      string
		codes     []int
		wantCode  int
		wantCalls int32
	}{
		{"accepted first time", []int{http.StatusAccepted}, http.StatusAccepted, 1},
		{"recovers after 503s", []int{503, 503, http.StatusOK}, http.StatusOK, 3},
		{"501 is final", []int{http.StatusNotImplemented}, http.StatusNotImplemented, 1},
		{"4xx is final", []int{http.StatusUnprocessableEntity}, http.StatusUnprocessableEntity, 1},
		{"gives up after retries", []int{502}, 502, 4},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(statusSequence(&calls, tc.codes...))
			defer server.Close()

			resp, err := New(fastRetryConfig(3)).PostJSON(context.Background(), server.URL, map[string]string{"to": "a@b.co"}, nil)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.wantCode, resp.StatusCode)
			assert.Equal(t, tc.wantCalls, atomic.LoadInt32(&calls))
		})
	}
}

func TestClient_PostJSON_RewindsBodyOnRetry(t *testing.T) {
	var calls int32
	var lastBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		lastBody = string(b)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	resp, err := New(fastRetryConfig(1)).PostJSON(context.Background(), server.URL,
		map[string]string{"to": "a@b.co"}, map[string]string{"X-Api-Key": "secret"})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.JSONEq(t, `{"to":"a@b.co"}`, lastBody)
}

func TestClient_ContextCanceledDuringBackoff(t *testing.T) {
	var calls int32
	server := httptest.NewServer(statusSequence(&calls, http.StatusServiceUnavailable))
	defer server.Close()

	cfg := fastRetryConfig(10)
	cfg.RetryWaitMin = 200 * time.Millisecond
	cfg.RetryWaitMax = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(cfg).PostJSON(ctx, server.URL, struct{}{}, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNewJSONRequest_UnencodableBody(t *testing.T) {
	_, err := NewJSONRequest(context.Background(), "http://relay.local", make(chan int), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marshal request body")
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.False(t, isRetryableError(context.Canceled))
	assert.True(t, isRetryableError(context.DeadlineExceeded))
}

func TestAddJitter_Bounds(t *testing.T) {
	assert.Zero(t, addJitter(0))
	for range 100 {
		d := addJitter(time.Second)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}
