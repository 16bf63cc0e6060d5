package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serveFrom(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/runs/masking", nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_RejectsOverBurst(t *testing.T) {
	h := RateLimiter(RateLimitConfig{RequestsPerSecond: 0.01, Burst: 2})(okHandler())

	for range 2 {
		rec := serveFrom(h, "10.0.0.1:1000")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := serveFrom(h, "10.0.0.1:1001")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.InDelta(t, float64(429), body["code"], 0.001)
	assert.Equal(t, "rate limit exceeded", body["message"])

	assert.Equal(t, http.StatusOK, serveFrom(h, "10.0.0.2:1000").Code, "other clients keep their own bucket")
}

func TestClientLimiters_SweepsIdleClients(t *testing.T) {
	set := &clientLimiters{cfg: RateLimitConfig{RequestsPerSecond: 1, Burst: 1}, clients: map[string]*clientLimiter{}}
	start := time.Now()
	set.lastSweep = start

	set.get("10.0.0.1", start)
	set.get("10.0.0.2", start.Add(sweepInterval))
	set.get("10.0.0.2", start.Add(clientIdleTTL+time.Minute))

	assert.Len(t, set.clients, 1)
	assert.Contains(t, set.clients, "10.0.0.2")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"ipv4_with_port", "192.168.1.1:12345", "", "192.168.1.1"},
		{"ipv6_with_port", "[::1]:12345", "", "::1"},
		{"no_port", "192.168.1.1", "", "192.168.1.1"},
		{"forwarded_header_ignored", "10.0.0.1:1234", "203.0.113.50", "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
