package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limited(max int, keyFunc func(*http.Request) string) http.Handler {
	cfg := RateLimitConfig{Max: max, Window: time.Minute, KeyFunc: keyFunc}
	return RateLimit(cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func hit(h http.Handler, remoteAddr string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	for k, vs := range header {
		req.Header[k] = vs
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_UnderLimit(t *testing.T) {
	h := limited(5, nil)

	for i := range 5 {
		w := hit(h, "192.168.1.1:12345", nil)
		assert.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRateLimit_OverLimit(t *testing.T) {
	h := limited(2, nil)

	for range 2 {
		require.Equal(t, http.StatusOK, hit(h, "10.0.0.1:9999", nil).Code)
	}

	w := hit(h, "10.0.0.1:9999", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(429), body["code"])
	assert.Equal(t, "rate limit exceeded", body["message"])
}

func TestRateLimit_KeysAreIndependent(t *testing.T) {
	h := limited(1, nil)

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1234", nil).Code)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2:1234", nil).Code)

	// Same client IP on a new port is still the same key.
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:5678", nil).Code)
}

func TestRateLimit_CustomKeyFunc(t *testing.T) {
	h := limited(1, func(r *http.Request) string {
		return r.Header.Get("X-Api-Key")
	})

	keyA := http.Header{"X-Api-Key": {"key-a"}}
	keyB := http.Header{"X-Api-Key": {"key-b"}}

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1", keyA).Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:1", keyA).Code)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1", keyB).Code)
}

func TestRateLimit_XForwardedFor(t *testing.T) {
	h := limited(1, nil)
	fwd := http.Header{"X-Forwarded-For": {"203.0.113.50, 70.41.3.18"}}

	assert.Equal(t, http.StatusOK, hit(h, "192.168.1.1:4444", fwd).Code)

	// Different proxy hop, same originating client.
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "192.168.1.2:5555", fwd).Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		header     http.Header
		want       string
	}{
		{"remote addr", "10.0.0.1:1234", nil, "10.0.0.1"},
		{"x-real-ip", "10.0.0.1:1234", http.Header{"X-Real-Ip": {"198.51.100.7"}}, "198.51.100.7"},
		{"x-forwarded-for single", "10.0.0.1:1234", http.Header{"X-Forwarded-For": {"203.0.113.50"}}, "203.0.113.50"},
		{"x-forwarded-for chain", "10.0.0.1:1234", http.Header{"X-Forwarded-For": {"203.0.113.50, 70.41.3.18"}}, "203.0.113.50"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, vs := range tt.header {
				req.Header[k] = vs
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
