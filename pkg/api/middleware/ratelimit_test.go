package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLimiter(t *testing.T, rps float64, burst int) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(rps, burst, zap.NewNop())
	t.Cleanup(rl.Stop)
	return rl
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := newLimiter(t, 10, 10)

	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow("192.168.1.1"), "request %d within burst", i+1)
	}
	assert.False(t, rl.Allow("192.168.1.1"))
	assert.True(t, rl.Allow("192.168.1.2"), "other clients have their own bucket")
	assert.Equal(t, 2, rl.Len())
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl := newLimiter(t, 10, 10)
	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")
	require.Equal(t, 2, rl.Len())

	rl.evictIdle(time.Now().Add(-time.Hour))
	assert.Equal(t, 2, rl.Len())

	rl.evictIdle(time.Now().Add(time.Second))
	assert.Equal(t, 0, rl.Len())
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := newLimiter(t, 1, 100)

	var wg sync.WaitGroup
	var allowed atomic.Int64
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("10.0.0.1") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, allowed.Load(), int64(100))
	assert.LessOrEqual(t, allowed.Load(), int64(102))
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1, zap.NewNop())
	rl.Stop()
	assert.NotPanics(t, rl.Stop)
}

func TestRateLimiter_Handler(t *testing.T) {
	rl := newLimiter(t, 1, 2)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(setup func(*http.Request)) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.100:12345"
		if setup != nil {
			setup(req)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do(nil).Code)
	assert.Equal(t, http.StatusOK, do(nil).Code)

	rec := do(nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// a forwarded client is counted separately from the proxy
	rec = do(func(r *http.Request) { r.Header.Set("X-Forwarded-For", "203.0.113.195") })
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "10.1.1.1:5555", nil, "10.1.1.1"},
		{"remote addr without port", "10.1.1.1", nil, "10.1.1.1"},
		{"forwarded for", "10.1.1.1:5555", map[string]string{"X-Forwarded-For": "203.0.113.1, 70.41.3.18"}, "203.0.113.1"},
		{"invalid forwarded for", "10.1.1.1:5555", map[string]string{"X-Forwarded-For": "not-an-ip"}, "10.1.1.1"},
		{"real ip", "10.1.1.1:5555", map[string]string{"X-Real-IP": "198.51.100.178"}, "198.51.100.178"},
		{"forwarded wins", "10.1.1.1:5555", map[string]string{"X-Forwarded-For": "203.0.113.1", "X-Real-IP": "198.51.100.178"}, "203.0.113.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
