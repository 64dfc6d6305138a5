package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// slowRefill refills roughly one token per 1000 seconds, so only the burst
// is available during a test.
const slowRefill = 0.001

func serve(h http.Handler, remoteAddr string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	for _, m := range mutate {
		m(req)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_Burst(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Rate: slowRefill, Burst: 3})(okHandler())

	for i := range 3 {
		w := serve(handler, "192.168.1.1:12345")
		require.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, []string{"2", "1", "0"}[i], w.Header().Get("X-RateLimit-Remaining"))
	}

	w := serve(handler, "192.168.1.1:12345")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(429), body["code"])
	assert.Equal(t, "rate limit exceeded", body["message"])
}

func TestRateLimit_PerClient(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Rate: slowRefill, Burst: 1})(okHandler())

	assert.Equal(t, http.StatusOK, serve(handler, "10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusOK, serve(handler, "10.0.0.2:1234").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, "10.0.0.1:5678").Code)
}

func TestRateLimit_CustomKeyFunc(t *testing.T) {
	handler := RateLimit(RateLimitConfig{
		Rate:  slowRefill,
		Burst: 1,
		KeyFunc: func(r *http.Request) string {
			return r.Header.Get("X-API-Key")
		},
	})(okHandler())

	withKey := func(k string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("X-API-Key", k) }
	}
	assert.Equal(t, http.StatusOK, serve(handler, "10.0.0.1:1", withKey("key-a")).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, "10.0.0.1:1", withKey("key-a")).Code)
	assert.Equal(t, http.StatusOK, serve(handler, "10.0.0.1:1", withKey("key-b")).Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		header map[string]string
		want   string
	}{
		{name: "remote addr", remote: "192.168.1.1:4444", want: "192.168.1.1"},
		{name: "forwarded for", remote: "192.168.1.1:4444", header: map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}, want: "203.0.113.50"},
		{name: "real ip", remote: "192.168.1.1:4444", header: map[string]string{"X-Real-IP": "198.51.100.7"}, want: "198.51.100.7"},
		{name: "no port", remote: "pipe", want: "pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
